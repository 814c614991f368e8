package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// PosixFsBackend answers questions from a directory of statically
// authored decision files, one per question string, each containing a
// JSON Outcome. It exists for local development and integration tests
// that need a deterministic, file-backed "policy" without a real
// reasoner attached. A question with no decision file is denied with
// predicate "no-decision-file".
type PosixFsBackend struct {
	dir string
}

func NewPosixFs(dir string) *PosixFsBackend {
	return &PosixFsBackend{dir: dir}
}

func (b *PosixFsBackend) Name() Name { return PosixFs }

func (b *PosixFsBackend) Version() string { return "1" }

type posixFsEncoded struct {
	Question string `json:"question"`
}

func (b *PosixFsBackend) Encode(policySource string, facts []string, question string) ([]byte, error) {
	return json.Marshal(posixFsEncoded{Question: question})
}

func (b *PosixFsBackend) Dispatch(ctx context.Context, encoded []byte) (Outcome, error) {
	var payload posixFsEncoded
	if err := json.Unmarshal(encoded, &payload); err != nil {
		return Outcome{}, fmt.Errorf("posixfs: decode encoded input: %w", err)
	}

	path := filepath.Join(b.dir, sanitizeFilename(payload.Question)+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Outcome{Allowed: false, Predicate: "no-decision-file", Detail: "no decision recorded for " + payload.Question}, nil
		}
		return Outcome{}, fmt.Errorf("posixfs: read decision file: %w", err)
	}

	var outcome Outcome
	if err := json.Unmarshal(raw, &outcome); err != nil {
		return Outcome{}, fmt.Errorf("posixfs: decode decision file %s: %w", path, err)
	}
	return outcome, nil
}

func sanitizeFilename(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
