package server

import (
	"html/template"
	"net/http"

	log "github.com/sirupsen/logrus"
)

var pageTemplate = template.Must(template.New("status").Parse(`<!doctype html>
<html>
<head><title>histsync</title></head>
<body>
<h1>histsync</h1>
<table>
<tr><td>state</td><td>{{.State}}</td></tr>
<tr><td>repo</td><td>{{.Repo}} ({{.Branch}})</td></tr>
<tr><td>history root</td><td>{{.HistDir}}</td></tr>
<tr><td>local head</td><td><code>{{.Head}}</code></td></tr>
<tr><td>remote head</td><td><code>{{.RemoteHead}}</code></td></tr>
<tr><td>dirty</td><td>{{.Dirty}}</td></tr>
<tr><td>last sync</td><td>{{.LastSync}}</td></tr>
</table>
<h2>targets</h2>
<ul>{{range .Targets}}<li><code>{{.}}</code></li>{{end}}</ul>
<h2>excludes</h2>
<ul>{{range .Excludes}}<li><code>{{.}}</code></li>{{end}}</ul>
</body>
</html>
`))

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, s.controller.Status()); err != nil {
		log.WithError(err).Debug("Failed to render status page")
	}
}
