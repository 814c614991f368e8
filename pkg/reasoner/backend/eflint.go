package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// EflintBackend delegates to an external eFLINT reasoner server over HTTP.
// eFLINT itself has no Go implementation in this module's dependency set,
// so, like the AI provider clients this module's stack is modeled on, the
// backend is a thin HTTP client: encode builds the request body, Dispatch
// posts it and classifies the response.
type EflintBackend struct {
	baseURL    string
	httpClient *http.Client
}

func NewEflint(baseURL string, httpClient *http.Client) *EflintBackend {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &EflintBackend{baseURL: baseURL, httpClient: httpClient}
}

func (b *EflintBackend) Name() Name { return Eflint }

func (b *EflintBackend) Version() string { return "1" }

type eflintRequest struct {
	Phrases  string   `json:"phrases"` // eFLINT source: policy definitions + asserted facts
	Question string   `json:"question"`
}

func (b *EflintBackend) Encode(policySource string, facts []string, question string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(policySource)
	buf.WriteString("\n")
	for _, f := range facts {
		buf.WriteString("+")
		buf.WriteString(f)
		buf.WriteString(".\n")
	}
	return json.Marshal(eflintRequest{Phrases: buf.String(), Question: question})
}

type eflintResponse struct {
	Holds     bool   `json:"holds"`
	Violation string `json:"violation,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (b *EflintBackend) Dispatch(ctx context.Context, encoded []byte) (Outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/phrase", bytes.NewReader(encoded))
	if err != nil {
		return Outcome{}, fmt.Errorf("eflint: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("eflint: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return Outcome{}, fmt.Errorf("eflint: server returned status %d", resp.StatusCode)
	}

	var parsed eflintResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Outcome{}, fmt.Errorf("eflint: decode response: %w", err)
	}
	if !parsed.Holds {
		return Outcome{Allowed: false, Predicate: parsed.Violation, Detail: parsed.Message}, nil
	}
	return Outcome{Allowed: true}, nil
}
