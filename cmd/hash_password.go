package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/forecastdesk/internal/auth"
	cfgpkg "github.com/KaramelBytes/forecastdesk/internal/config"
)

var (
	hashUser string
	hashSave bool
)

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Hash a dashboard password read from stdin",
	Long: `Reads a password from the first line of stdin and prints its bcrypt hash.
With --user and --save the hash is stored under users.<name> in the config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword(cmd.InOrStdin())
		if err != nil {
			return err
		}
		hash, err := auth.HashPassword(password)
		if err != nil {
			return err
		}
		if !hashSave {
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		}
		if strings.TrimSpace(hashUser) == "" {
			return fmt.Errorf("--user is required with --save")
		}
		if cfg == nil {
			c, err := cfgpkg.Load(cfgFile)
			if err != nil {
				return err
			}
			cfg = c
		}
		if cfg.Users == nil {
			cfg.Users = map[string]string{}
		}
		cfg.Users[hashUser] = hash
		if err := cfgpkg.Save(cfg, cfgFile); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Saved password for %s\n", hashUser)
		return nil
	},
}

func readPassword(r io.Reader) (string, error) {
	if f, ok := r.(*os.File); ok {
		if st, err := f.Stat(); err == nil && st.Mode()&os.ModeCharDevice != 0 {
			fmt.Fprint(os.Stderr, "Password: ")
		}
	}
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	return line, nil
}

func init() {
	rootCmd.AddCommand(hashPasswordCmd)
	hashPasswordCmd.Flags().StringVar(&hashUser, "user", "", "username to store the hash under")
	hashPasswordCmd.Flags().BoolVar(&hashSave, "save", false, "save the hash into the config file")
}
