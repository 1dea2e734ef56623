package api

import (
    "crypto/sha256"
    _ "embed"
    "encoding/hex"
    "encoding/json"
    "fmt"
    "net/http"
    "sync"

    yaml "gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var openAPIYAML []byte

var (
    openAPIETag = func() string {
        sum := sha256.Sum256(openAPIYAML)
        return `"` + hex.EncodeToString(sum[:8]) + `"`
    }()
    openAPIJSON = sync.OnceValues(func() ([]byte, error) {
        var doc map[string]any
        if err := yaml.Unmarshal(openAPIYAML, &doc); err != nil { return nil, fmt.Errorf("parse openapi.yaml: %w", err) }
        return json.Marshal(doc)
    })
)

// serveDoc writes body unless the client already holds the current revision.
func serveDoc(w http.ResponseWriter, r *http.Request, contentType string, body []byte) {
    w.Header().Set("ETag", openAPIETag)
    w.Header().Set("Cache-Control", "no-cache")
    if r.Header.Get("If-None-Match") == openAPIETag {
        w.WriteHeader(http.StatusNotModified)
        return
    }
    w.Header().Set("Content-Type", contentType)
    _, _ = w.Write(body)
}

// OpenAPIHandler serves the API description as YAML.
func (s *Server) OpenAPIHandler(w http.ResponseWriter, r *http.Request) {
    serveDoc(w, r, "application/yaml", openAPIYAML)
}

// OpenAPIJSONHandler serves the same document converted to JSON.
func (s *Server) OpenAPIJSONHandler(w http.ResponseWriter, r *http.Request) {
    js, err := openAPIJSON()
    if err != nil { writeProblem(w, http.StatusInternalServerError, "OpenAPI unavailable", err.Error(), r.URL.Path); return }
    serveDoc(w, r, "application/json", js)
}

// DocsHandler renders the document with ReDoc.
func (s *Server) DocsHandler(w http.ResponseWriter, r *http.Request) {
    w.Header().Set("Content-Type", "text/html; charset=utf-8")
    _, _ = fmt.Fprintf(w, docsPage, "Route operations API", "/openapi.yaml")
}

const docsPage = `<!DOCTYPE html>
<html>
<head>
<title>%s</title>
<meta charset="utf-8"/>
<meta name="viewport" content="width=device-width, initial-scale=1">
<script src="https://cdn.jsdelivr.net/npm/redoc@next/bundles/redoc.standalone.js"></script>
</head>
<body><redoc spec-url="%s"></redoc></body>
</html>
`
