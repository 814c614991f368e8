package stateresolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/epi-checker/checker/pkg/wir"
)

func TestStaticResolverReturnsFixedFacts(t *testing.T) {
	facts := wir.NewFactSet()
	facts.Add("approved-domain", "alice")

	r := NewStatic("release-gate", facts)
	if r.UseCase() != "release-gate" {
		t.Fatalf("expected use case release-gate, got %s", r.UseCase())
	}

	got, err := r.Resolve(context.Background(), &wir.Ir{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Has("approved-domain", "alice") {
		t.Error("expected static resolver to return its configured fact")
	}
}

func TestHTTPResolverParsesFactsAndSetsBearerToken(t *testing.T) {
	tests := []struct {
		name          string
		handler       func(w http.ResponseWriter, r *http.Request)
		expectedError bool
	}{
		{
			name: "success",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Authorization") != "Bearer test-token" {
					t.Errorf("expected bearer auth header, got %s", r.Header.Get("Authorization"))
				}
				if r.URL.Path != "/state/wf-1" {
					t.Errorf("expected path /state/wf-1, got %s", r.URL.Path)
				}
				w.WriteHeader(http.StatusOK)
				w.Write([]byte(`{"facts":[{"predicate":"approved-domain","args":["alice"]}]}`))
			},
		},
		{
			name: "non-2xx status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(tt.handler))
			defer srv.Close()

			r := NewHTTP("release-gate", srv.URL, "test-token")
			ir := &wir.Ir{Workflow: "wf-1"}
			facts, err := r.Resolve(context.Background(), ir)

			if tt.expectedError {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !facts.Has("approved-domain", "alice") {
				t.Error("expected resolved fact approved-domain(alice)")
			}
		})
	}
}
