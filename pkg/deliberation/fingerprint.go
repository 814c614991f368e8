package deliberation

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/epi-checker/checker/pkg/reasoner"
	"github.com/epi-checker/checker/pkg/wir"
)

// Fingerprint hashes (policy.version, canonicalized facts, question) —
// a stable hash over everything that determined the verdict (spec.md
// §4.E step 6) — so two deliberations over the same policy version,
// the same external state, and the same question produce the same
// fingerprint regardless of derivation order. It is logged for
// cross-referencing equivalent deliberations, never used as a cache
// key: state resolution is not side-effect free, so every request must
// still execute fresh.
func Fingerprint(policyVersion int, facts wir.FactSet, question reasoner.Question) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(policyVersion))
	b.WriteByte('\n')
	b.WriteString(strings.Join(facts.Canonicalize(), "\n"))
	b.WriteByte('\n')
	b.WriteString(question.Phrase())

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
