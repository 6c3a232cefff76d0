package kernel

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var openAPISource []byte

// LoadAPISpec parses and validates the embedded API document. Run at startup
// so a malformed document fails the boot, not a client request.
func LoadAPISpec(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx

	doc, err := loader.LoadFromData(openAPISource)
	if err != nil {
		return nil, fmt.Errorf("failed to parse API document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("invalid API document: %w", err)
	}
	return doc, nil
}

// SetAPISpec wires the validated document into the /v1/openapi.json endpoint.
func (s *Server) SetAPISpec(doc *openapi3.T) {
	s.apiSpec = doc
}

// handleOpenAPISpec serves the validated API document as JSON.
// GET /v1/openapi.json
func (s *Server) handleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if s.apiSpec == nil {
		s.writeError(w, http.StatusNotFound, "SPEC_UNAVAILABLE", "API document not loaded")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.apiSpec)
}
