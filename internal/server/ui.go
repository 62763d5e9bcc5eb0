package server

import (
	"html/template"
	"net/http"

	"go.uber.org/zap"
)

var loginTmpl = template.Must(template.New("login").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>ForecastDesk login</title>
<style>
body { font-family: sans-serif; background: #f4f6f8; display: flex; justify-content: center; align-items: center; height: 100vh; margin: 0; }
.box { background: #fff; padding: 40px; border-radius: 10px; box-shadow: 0 0 10px rgba(0,0,0,.1); width: 300px; text-align: center; }
input { width: 100%; padding: 10px; margin: 8px 0; box-sizing: border-box; }
button { width: 100%; padding: 10px; background: #2e7d32; color: #fff; border: 0; border-radius: 5px; }
.err { color: #c62828; }
</style></head>
<body><div class="box">
<h2>Forecast Dashboard</h2>
{{if .Error}}<p class="err">{{.Error}}</p>{{end}}
<form method="post" action="/login">
<input type="text" name="username" placeholder="Username" required>
<input type="password" name="password" placeholder="Password" required>
<button type="submit">Login</button>
</form></div></body></html>`))

var indexTmpl = template.Must(template.New("index").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>ForecastDesk</title>
<style>
body { font-family: sans-serif; max-width: 860px; margin: 40px auto; }
textarea { width: 100%; height: 70px; }
#answer { white-space: pre-wrap; margin-top: 16px; }
img { max-width: 100%; margin-top: 16px; }
</style></head>
<body>
<h2>Welcome {{.Username}}</h2>
<p>Forecast Dashboard &middot; <a href="/logout">Log out</a></p>
<textarea id="q" placeholder="Ask about the forecasts"></textarea>
<p><input id="key" type="password" placeholder="API key (if required)"> <button id="ask">Ask</button></p>
<div id="answer"></div>
<img id="chart" hidden alt="chart">
<script>
document.getElementById("ask").onclick = async () => {
  const out = document.getElementById("answer"), img = document.getElementById("chart");
  out.textContent = "Thinking...";
  img.hidden = true;
  const headers = {"Content-Type": "application/json"};
  const key = document.getElementById("key").value;
  if (key) headers["X-API-Key"] = key;
  const res = await fetch("/ask", {method: "POST", headers, body: JSON.stringify({question: document.getElementById("q").value})});
  const body = await res.json();
  out.textContent = body.answer || body.error || "";
  if (body.chart) { img.src = "data:image/png;base64," + body.chart; img.hidden = false; }
};
</script>
</body></html>`))

func (s *Server) loginPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, loginTmpl, map[string]string{})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.render(w, http.StatusBadRequest, loginTmpl, map[string]string{"Error": "Invalid form submission."})
		return
	}
	username := r.PostFormValue("username")
	if err := s.d.Users.Authenticate(username, r.PostFormValue("password")); err != nil {
		s.log.Info("login failed", zap.String("username", username))
		s.render(w, http.StatusUnauthorized, loginTmpl, map[string]string{"Error": "Login failed. Invalid username or password."})
		return
	}
	sess := s.d.Sessions.Create(username)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.d.Sessions.TTL().Seconds()),
		Expires:  sess.Expires,
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookieName); err == nil {
		s.d.Sessions.Delete(c.Value)
	}
	expireSessionCookie(w)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())
	s.render(w, http.StatusOK, indexTmpl, map[string]string{"Username": sess.Username})
}

func (s *Server) render(w http.ResponseWriter, status int, t *template.Template, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := t.Execute(w, data); err != nil {
		s.log.Error("template error", zap.String("template", t.Name()), zap.Error(err))
	}
}
