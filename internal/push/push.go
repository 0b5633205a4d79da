// Package push defines the provider-agnostic batch send contract and the registry
// of configured provider senders.
package push

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Push errors.
var (
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrOutcomeMismatch     = errors.New("provider returned a different number of outcomes than tokens")
)

// Message is the content delivered to every device of a batch.
type Message struct {
	Title string
	Body  string
	Data  map[string]string
}

// Outcome is the provider's verdict for one token of a batch.
type Outcome struct {
	Success   bool
	MessageID string
	Error     string

	// Permanent marks a token the provider will never accept again.
	Permanent bool
}

// Sender delivers one message to a batch of tokens of a single provider.
// Outcomes are index-aligned with tokens. A non-nil error means the call as a
// whole failed and no per-token outcome is available.
type Sender interface {
	SendBatch(ctx context.Context, tokens []string, msg Message) ([]Outcome, error)
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, tokens []string, msg Message) ([]Outcome, error)

// SendBatch calls f.
func (f SenderFunc) SendBatch(ctx context.Context, tokens []string, msg Message) ([]Outcome, error) {
	return f(ctx, tokens, msg)
}

// Registry maps provider names to senders.
type Registry struct {
	mu      sync.RWMutex
	senders map[string]Sender
}

// NewRegistry creates an empty sender registry.
func NewRegistry() *Registry {
	return &Registry{senders: make(map[string]Sender)}
}

// Register adds or replaces the sender for a provider.
func (r *Registry) Register(provider string, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[provider] = s
}

// Get returns the sender for a provider.
func (r *Registry) Get(provider string) (Sender, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.senders[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, provider)
	}
	return s, nil
}

// Providers returns the registered provider names, sorted.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.senders))
	for name := range r.senders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckOutcomes verifies a sender honored the index-alignment contract.
func CheckOutcomes(tokens []string, outcomes []Outcome) error {
	if len(outcomes) != len(tokens) {
		return fmt.Errorf("%w: %d tokens, %d outcomes", ErrOutcomeMismatch, len(tokens), len(outcomes))
	}
	return nil
}
