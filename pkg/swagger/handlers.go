package swagger

import (
	"html/template"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/gorilla/mux"
	"gopkg.in/yaml.v3"

	"github.com/liftoff-labs/gymcore/pkg/httputil"
)

// Operation is one documented endpoint.
type Operation struct {
	Method string
	Path   string
	// Requires is shown as x-required-access. Empty means any caller with an
	// identity.
	Requires string
	// AuditAction is the action recorded on success, if any.
	AuditAction string
}

// Document is the subset of OpenAPI 3.0 we generate.
type Document struct {
	OpenAPI    string                          `json:"openapi" yaml:"openapi"`
	Info       Info                            `json:"info" yaml:"info"`
	Paths      map[string]map[string]PathEntry `json:"paths" yaml:"paths"`
	Components Components                      `json:"components" yaml:"components"`
	Security   []map[string][]string           `json:"security" yaml:"security"`
}

type Info struct {
	Title   string `json:"title" yaml:"title"`
	Version string `json:"version" yaml:"version"`
}

type PathEntry struct {
	OperationID    string              `json:"operationId" yaml:"operationId"`
	Tags           []string            `json:"tags,omitempty" yaml:"tags,omitempty"`
	Parameters     []Parameter         `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Responses      map[string]Response `json:"responses" yaml:"responses"`
	RequiredAccess string              `json:"x-required-access,omitempty" yaml:"x-required-access,omitempty"`
	AuditAction    string              `json:"x-audit-action,omitempty" yaml:"x-audit-action,omitempty"`
}

type Parameter struct {
	Name     string `json:"name" yaml:"name"`
	In       string `json:"in" yaml:"in"`
	Required bool   `json:"required" yaml:"required"`
	Schema   Schema `json:"schema" yaml:"schema"`
}

type Schema struct {
	Type string `json:"type" yaml:"type"`
}

type Response struct {
	Description string `json:"description" yaml:"description"`
}

type Components struct {
	SecuritySchemes map[string]SecurityScheme `json:"securitySchemes" yaml:"securitySchemes"`
}

type SecurityScheme struct {
	Type string `json:"type" yaml:"type"`
	In   string `json:"in" yaml:"in"`
	Name string `json:"name" yaml:"name"`
}

var pathParam = regexp.MustCompile(`\{([^}:]+)(:[^}]*)?\}`)

// Build assembles the document. identityHeader names the header that carries
// the caller's user id.
func Build(title, version, identityHeader string, ops []Operation) *Document {
	doc := &Document{
		OpenAPI: "3.0.3",
		Info:    Info{Title: title, Version: version},
		Paths:   map[string]map[string]PathEntry{},
		Components: Components{SecuritySchemes: map[string]SecurityScheme{
			"userId": {Type: "apiKey", In: "header", Name: identityHeader},
		}},
		Security: []map[string][]string{{"userId": {}}},
	}

	for _, op := range ops {
		method := strings.ToLower(op.Method)
		entry := PathEntry{
			OperationID:    operationID(op.Method, op.Path),
			Tags:           tagFor(op.Path),
			RequiredAccess: op.Requires,
			AuditAction:    op.AuditAction,
			Responses: map[string]Response{
				"default": {Description: "JSON body; errors are {\"error\": message}"},
			},
		}
		for _, m := range pathParam.FindAllStringSubmatch(op.Path, -1) {
			entry.Parameters = append(entry.Parameters, Parameter{
				Name: m[1], In: "path", Required: true, Schema: Schema{Type: "string"},
			})
		}

		path := pathParam.ReplaceAllString(op.Path, "{$1}")
		if doc.Paths[path] == nil {
			doc.Paths[path] = map[string]PathEntry{}
		}
		doc.Paths[path][method] = entry
	}
	return doc
}

func operationID(method, path string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(method))
	for _, seg := range strings.Split(path, "/") {
		seg = strings.Trim(seg, "{}")
		if seg == "" || seg == "api" {
			continue
		}
		b.WriteString(strings.ToUpper(seg[:1]))
		b.WriteString(seg[1:])
	}
	return b.String()
}

// tagFor groups gym-scoped routes by the resource after the gym id.
func tagFor(path string) []string {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range segs {
		if seg == "{gymId}" && i+1 < len(segs) {
			return []string{segs[i+1]}
		}
	}
	return []string{"gyms"}
}

// SwaggerHandlers serves the generated document and a Swagger UI page.
type SwaggerHandlers struct {
	doc  *Document
	yaml []byte
}

// NewSwaggerHandlers renders doc once up front.
func NewSwaggerHandlers(doc *Document) (*SwaggerHandlers, error) {
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return &SwaggerHandlers{doc: doc, yaml: out}, nil
}

// RegisterRoutes registers the swagger routes with the router
func (h *SwaggerHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/openapi.yaml", h.serveOpenAPISpec).Methods("GET")
	router.HandleFunc("/openapi.json", h.serveOpenAPISpecJSON).Methods("GET")
	router.HandleFunc("/swagger-ui", h.serveSwaggerUI).Methods("GET")
	router.HandleFunc("/api-docs", h.serveSwaggerUI).Methods("GET") // Alias
}

// Paths lists the documented paths, sorted.
func (h *SwaggerHandlers) Paths() []string {
	out := make([]string, 0, len(h.doc.Paths))
	for p := range h.doc.Paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (h *SwaggerHandlers) serveOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.yaml)
}

func (h *SwaggerHandlers) serveOpenAPISpecJSON(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteSuccess(w, h.doc)
}

var swaggerUI = template.Must(template.New("swagger").Parse(swaggerUITemplate))

func (h *SwaggerHandlers) serveSwaggerUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := swaggerUI.Execute(w, h.doc.Info); err != nil {
		httputil.WriteInternalError(w)
	}
}

const swaggerUITemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>{{.Title}} - Swagger UI</title>
  <link rel="stylesheet" type="text/css" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5.10.5/swagger-ui.css" />
  <style>
    body { margin: 0; padding: 0; }
  </style>
</head>
<body>
<div id="swagger-ui"></div>

<script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5.10.5/swagger-ui-bundle.js" charset="UTF-8"></script>
<script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5.10.5/swagger-ui-standalone-preset.js" charset="UTF-8"></script>
<script>
window.onload = function() {
  window.ui = SwaggerUIBundle({
    url: "/openapi.yaml",
    dom_id: '#swagger-ui',
    deepLinking: true,
    presets: [
      SwaggerUIBundle.presets.apis,
      SwaggerUIStandalonePreset
    ],
    layout: "StandaloneLayout"
  });
};
</script>
</body>
</html>`
