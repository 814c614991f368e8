package stateresolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/epi-checker/checker/pkg/wir"
)

// HTTPResolver calls an external service to fetch the facts a use case
// needs, injecting a bearer token into every outbound request through a
// wrapping http.RoundTripper.
type HTTPResolver struct {
	useCase    string
	baseURL    string
	httpClient *http.Client
}

func NewHTTP(useCase, baseURL, bearerToken string) *HTTPResolver {
	return &HTTPResolver{
		useCase: useCase,
		baseURL: baseURL,
		httpClient: &http.Client{
			Transport: &bearerTransport{
				token:     bearerToken,
				transport: http.DefaultTransport,
			},
		},
	}
}

func (r *HTTPResolver) UseCase() string { return r.useCase }

type resolverResponse struct {
	Facts []struct {
		Predicate string   `json:"predicate"`
		Args      []string `json:"args"`
	} `json:"facts"`
}

func (r *HTTPResolver) Resolve(ctx context.Context, ir *wir.Ir) (wir.FactSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/state/"+ir.Workflow, nil)
	if err != nil {
		return wir.FactSet{}, fmt.Errorf("stateresolver: build request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return wir.FactSet{}, fmt.Errorf("stateresolver: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return wir.FactSet{}, fmt.Errorf("stateresolver: service returned status %d", resp.StatusCode)
	}

	var parsed resolverResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return wir.FactSet{}, fmt.Errorf("stateresolver: decode response: %w", err)
	}

	facts := wir.NewFactSet()
	for _, f := range parsed.Facts {
		facts.Add(f.Predicate, f.Args...)
	}
	return facts, nil
}

type bearerTransport struct {
	token     string
	transport http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	return t.transport.RoundTrip(req)
}
