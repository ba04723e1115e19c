// Пакет openapi — контракт HTTP API Files Module (OpenAPI 3.0).
// Спецификация встроена в бинарник, проверяется при старте
// и отдаётся клиентам по GET /openapi.yaml.
package openapi

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed files-module.yaml
var specYAML []byte

// Load разбирает и валидирует встроенную спецификацию.
func Load(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromData(specYAML)
	if err != nil {
		return nil, fmt.Errorf("разбор спецификации OpenAPI: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("спецификация OpenAPI невалидна: %w", err)
	}
	return doc, nil
}

// ServeSpec отдаёт спецификацию в YAML.
func ServeSpec(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(specYAML)
}
