// Package tag generates the per-query correlation tags (C1) attached to
// every outgoing warehouse call and to the event logged for that call,
// grounded on the request-ID generator in pkg/logger (crypto/rand +
// hex-encoding), but promoted from a best-effort fallback to a hard
// ConfigError at construction time per the uniqueness requirement.
package tag

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/cdeskio/activity-gateway/internal/core"
)

const (
	prefix    = "cdesk_"
	byteWidth = 8 // 16 hex characters
)

// Generator produces cdesk_<16 hex> correlation tags. It holds no state;
// New additionally checks at construction that the random source works.
type Generator struct{}

// New verifies a random source of at least 64 bits is available and
// returns a Generator, or a ConfigError if it is not.
func New() (*Generator, error) {
	probe := make([]byte, byteWidth)
	if _, err := rand.Read(probe); err != nil {
		return nil, core.Wrap(core.KindConfig, err)
	}
	return &Generator{}, nil
}

// Next returns a fresh tag of the form cdesk_<16 hex>. Callers must
// never reuse a tag across calls.
func (g *Generator) Next() (string, error) {
	buf := make([]byte, byteWidth)
	if _, err := rand.Read(buf); err != nil {
		return "", core.Wrap(core.KindConfig, err)
	}
	return prefix + hex.EncodeToString(buf), nil
}
