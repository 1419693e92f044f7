package service

import (
	"net/http"
	"strings"

	docsPkg "github.com/onexay/swiftpkgindex/docs"
)

const swaggerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>Swift Package Index API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.onload = function() {
      SwaggerUIBundle({
        url: 'openapi.yaml',
        dom_id: '#swagger-ui',
        deepLinking: true,
      });
    };
  </script>
</body>
</html>`

// SwaggerHandler serves the API reference UI and its OpenAPI document. It
// expects to be mounted with the mount prefix stripped.
func SwaggerHandler() http.Handler {
	return http.HandlerFunc(handleSwagger)
}

func handleSwagger(w http.ResponseWriter, r *http.Request) {
	switch strings.TrimPrefix(r.URL.Path, "/") {
	case "", "index.html":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(swaggerHTML))
	case "openapi.yaml", "openapi.yml":
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(docsPkg.OpenAPI)
	default:
		http.NotFound(w, r)
	}
}
