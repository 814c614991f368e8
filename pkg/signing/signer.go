// Package signing stamps verdicts with an HMAC-SHA256 MAC over their
// decision fields, so a verdict_reference can later be checked against
// its originating verdict without the engine keeping a client-facing
// asymmetric key pair around. The scheme behind a submitted workflow
// signature is a separate concern (see wir.Signature); this package only
// signs what the engine itself emits.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sync"
)

var (
	key     []byte
	once    sync.Once
	initErr error
)

// Init loads the signing key from the VERDICT_SIGNING_KEY environment
// variable. Call once at server startup.
func Init() error {
	once.Do(func() {
		keyB64 := os.Getenv("VERDICT_SIGNING_KEY")
		if keyB64 == "" {
			initErr = errors.New("VERDICT_SIGNING_KEY environment variable is not set")
			return
		}
		decoded, err := base64.StdEncoding.DecodeString(keyB64)
		if err != nil {
			initErr = fmt.Errorf("VERDICT_SIGNING_KEY is not valid base64: %w", err)
			return
		}
		if len(decoded) < 32 {
			initErr = fmt.Errorf("VERDICT_SIGNING_KEY must be at least 32 bytes (got %d) — generate with: openssl rand -base64 32", len(decoded))
			return
		}
		key = decoded
	})
	return initErr
}

// Sign returns the base64-encoded HMAC-SHA256 MAC of parts joined by a
// NUL delimiter that cannot appear inside any individual part (the
// engine signs decision words, deny-kind names, UUIDs, version strings,
// and hex digests).
func Sign(parts ...string) (string, error) {
	if key == nil {
		return "", errors.New("signing not initialised — call signing.Init() first")
	}
	mac := hmac.New(sha256.New, key)
	for _, p := range parts {
		mac.Write([]byte(p))
		mac.Write([]byte{0})
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether sig is the correct signature over parts.
func Verify(sig string, parts ...string) (bool, error) {
	expected, err := Sign(parts...)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(expected), []byte(sig)), nil
}
