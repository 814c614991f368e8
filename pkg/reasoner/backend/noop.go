package backend

import (
	"context"
	"encoding/json"
)

// NoOpBackend always allows. It exists for local development and for
// connector and HTTP-handler tests that want a dispatch step that never
// talks to a real reasoner.
type NoOpBackend struct{}

func NewNoOp() *NoOpBackend { return &NoOpBackend{} }

func (b *NoOpBackend) Name() Name { return NoOp }

func (b *NoOpBackend) Version() string { return "1" }

func (b *NoOpBackend) Encode(policySource string, facts []string, question string) ([]byte, error) {
	return json.Marshal(struct {
		Policy   string   `json:"policy"`
		Facts    []string `json:"facts"`
		Question string   `json:"question"`
	}{policySource, facts, question})
}

func (b *NoOpBackend) Dispatch(ctx context.Context, encoded []byte) (Outcome, error) {
	return Outcome{Allowed: true}, nil
}
