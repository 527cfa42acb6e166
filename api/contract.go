// Package api carries the hand-authored OpenAPI contract for the HTTP
// surface. The document is embedded so the binary can serve it and the
// request validator can load it without touching the filesystem.
package api

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.json
var spec []byte

// Spec returns the raw contract bytes as served at /openapi.json.
func Spec() []byte {
	return spec
}

// Load parses and validates the embedded contract.
func Load() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(spec)
	if err != nil {
		return nil, fmt.Errorf("parse openapi document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate openapi document: %w", err)
	}
	return doc, nil
}
