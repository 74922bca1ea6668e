// Package id provides centralized identifier generation for the daemon.
//
// Two identifier families are in use:
//   - Session IDs: random UUIDv4 strings, the format clients already expect
//     on the wire ("550e8400-e29b-41d4-a716-446655440000").
//   - Connection and client IDs: prefixed ULIDs ("conn_01J...", "ws_01J...").
//     They sort by creation time, which keeps connection logs readable.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// SessionID identifies a terminal session
type SessionID string

// ConnectionID identifies one accepted IPC connection
type ConnectionID string

// ClientID identifies an attached consumer of a session's output
type ClientID string

const (
	ConnectionPrefix = "conn"
	WebSocketPrefix  = "ws"
	CLIPrefix        = "cli"
	RequestPrefix    = "req"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a ULID generator backed by crypto/rand
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Tests use it for deterministic output.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewSessionID generates a new random session ID
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// NewConnectionID generates an ID for an accepted IPC connection
func NewConnectionID() ConnectionID {
	return ConnectionID(Default().GenerateWithPrefix(ConnectionPrefix))
}

// NewClientID generates a client ID with the given prefix
func NewClientID(prefix string) ClientID {
	return ClientID(Default().GenerateWithPrefix(prefix))
}

// NewRequestID generates an ID for one gateway request
func NewRequestID() string {
	return Default().GenerateWithPrefix(RequestPrefix)
}

func (id SessionID) String() string    { return string(id) }
func (id ConnectionID) String() string { return string(id) }
func (id ClientID) String() string     { return string(id) }

// ValidSessionID reports whether s is a well-formed session ID
func ValidSessionID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// Timestamp extracts the creation time from a prefixed or bare ULID
func Timestamp(s string) (time.Time, error) {
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		s = s[i+1:]
	}
	parsed, err := ulid.Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
