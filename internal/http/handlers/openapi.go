package handlers

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"html/template"
	"net/http"
	"sort"
	"strings"
	"sync"
)

//go:embed openapi.json
var openAPISpec []byte

// route is one operation of the embedded OpenAPI document.
type route struct {
	Method  string
	Path    string
	Summary string
}

type docsPage struct {
	Title   string
	Version string
	Routes  []route
}

// operationAnchor is the fragment Redoc assigns to an operation without an
// operationId: the JSON pointer of the path item plus the method.
func operationAnchor(rt route) string {
	return "paths/" + strings.ReplaceAll(rt.Path, "/", "~1") + "/" + strings.ToLower(rt.Method)
}

var docsTemplate = template.Must(template.New("docs").Funcs(template.FuncMap{"anchor": operationAnchor}).Parse(`<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="utf-8" />
    <title>{{.Title}} API</title>
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <style>
      body { margin: 0; padding: 0; font-family: sans-serif; }
      nav { padding: 1rem 2rem; border-bottom: 1px solid #ddd; }
      nav code { display: inline-block; min-width: 4rem; }
      redoc { display: block; height: 100vh; }
    </style>
  </head>
  <body>
    <nav>
      <h1>{{.Title}} <small>{{.Version}}</small></h1>
      <ul>
      {{- range .Routes}}
        <li><code>{{.Method}}</code> <a href="#{{anchor .}}">{{.Path}}</a> {{.Summary}}</li>
      {{- end}}
      </ul>
    </nav>
    <redoc spec-url="/v1/openapi.json"></redoc>
    <script src="https://cdn.jsdelivr.net/npm/redoc@2.2.0/bundles/redoc.standalone.js"></script>
  </body>
</html>`))

// renderDocs builds the docs page once from the embedded document so the
// route index never drifts from openapi.json.
var renderDocs = sync.OnceValues(func() ([]byte, error) {
	var spec struct {
		Info struct {
			Title   string `json:"title"`
			Version string `json:"version"`
		} `json:"info"`
		Paths map[string]map[string]struct {
			Summary string `json:"summary"`
		} `json:"paths"`
	}
	if err := json.Unmarshal(openAPISpec, &spec); err != nil {
		return nil, err
	}

	page := docsPage{Title: spec.Info.Title, Version: spec.Info.Version}
	for p, ops := range spec.Paths {
		for method, op := range ops {
			page.Routes = append(page.Routes, route{Method: strings.ToUpper(method), Path: p, Summary: op.Summary})
		}
	}
	sort.Slice(page.Routes, func(i, j int) bool {
		if page.Routes[i].Path != page.Routes[j].Path {
			return page.Routes[i].Path < page.Routes[j].Path
		}
		return page.Routes[i].Method < page.Routes[j].Method
	})

	var buf bytes.Buffer
	if err := docsTemplate.Execute(&buf, page); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
})

func (a *App) OpenAPIJSON(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openAPISpec)
}

func (a *App) OpenAPIDocs(w http.ResponseWriter, r *http.Request) {
	page, err := renderDocs()
	if err != nil {
		a.log(r).Error().Err(err).Msg("docs: render failed")
		a.error(w, http.StatusInternalServerError, "internal", "api docs unavailable")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(page)
}
