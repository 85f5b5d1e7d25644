//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

// Minimal embedded spec; run `swag init -g cmd/inferd/docs.go` to replace it
// with the full generated document.
const swaggerDoc = `{
  "swagger": "2.0",
  "info": {"title": "inferd API", "version": "1.0"},
  "basePath": "/"
}`

type swaggerSpec struct{}

func (swaggerSpec) ReadDoc() string { return swaggerDoc }

func init() { swag.Register(swag.Name, swaggerSpec{}) }

// MountSwagger serves the interactive API docs at /swagger/.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler())
}
