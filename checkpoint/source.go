package checkpoint

import (
	"context"
	"fmt"
	"maps"
	"slices"
)

// Source loads checkpoints by pair name.
type Source interface {
	// Pairs lists the configured pair names.
	Pairs() []string

	// Load reads the checkpoint called name. An unconfigured name fails with
	// ErrUnknownLanguagePair.
	Load(ctx context.Context, name string) (*Checkpoint, error)
}

// MemorySource serves checkpoints that are already in memory.
type MemorySource struct {
	checkpoints map[string]*Checkpoint
}

var _ Source = (*MemorySource)(nil)

// NewMemorySource indexes cps by name. Empty names are derived from the languages.
func NewMemorySource(cps ...*Checkpoint) *MemorySource {
	m := &MemorySource{checkpoints: make(map[string]*Checkpoint, len(cps))}
	for _, cp := range cps {
		if cp.Name == "" {
			cp.Name = PairName(cp.Source, cp.Target)
		}
		m.checkpoints[cp.Name] = cp
	}
	return m
}

// Pairs lists the held pair names, sorted.
func (m *MemorySource) Pairs() []string {
	return slices.Sorted(maps.Keys(m.checkpoints))
}

// Load returns the held checkpoint of name.
func (m *MemorySource) Load(ctx context.Context, name string) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cp, ok := m.checkpoints[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLanguagePair, name)
	}
	return cp, nil
}
