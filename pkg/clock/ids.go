package clock

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces opaque unique identifiers. The room manager uses it
// for server-assigned fallback operation IDs (when a client omits one) and
// for error correlation ids.
type IDGenerator interface {
	NewID() string
}

// UUIDs returns an IDGenerator backed by random UUIDv4s.
func UUIDs() IDGenerator {
	return uuidGenerator{}
}

type uuidGenerator struct{}

func (uuidGenerator) NewID() string { return uuid.NewString() }

// Sequential is a deterministic IDGenerator for tests: prefix-1, prefix-2, ...
type Sequential struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequential returns a Sequential generator with the given prefix.
func NewSequential(prefix string) *Sequential {
	return &Sequential{prefix: prefix}
}

func (s *Sequential) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%d", s.prefix, s.n)
}
