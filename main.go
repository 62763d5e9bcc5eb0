package main

import "github.com/KaramelBytes/forecastdesk/cmd"

func main() {
	cmd.Execute()
}
