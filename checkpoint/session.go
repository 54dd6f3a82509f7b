package checkpoint

import (
	"github.com/jamesainslie/go-mmt/model"
	"github.com/jamesainslie/go-mmt/vocabmask"
)

// Session owns the shared model instance: the checkpoint loaded in it and
// whether tuning has mutated its weights since. A Session has a single writer;
// callers serialize access.
type Session struct {
	model   model.Model
	current *Checkpoint
	stale   bool
}

// NewSession takes ownership of m and installs the vocabulary mask in front
// of its normalizer.
func NewSession(m model.Model) *Session {
	s := &Session{model: m}
	inner := m.Normalizer()
	if masked, ok := inner.(*vocabmask.Normalizer); ok {
		inner = masked.Inner()
	}
	m.UseNormalizer(vocabmask.New(inner, s.ActiveDictionary))
	return s
}

// Model returns the shared model.
func (s *Session) Model() model.Model { return s.model }

// Current returns the loaded checkpoint, or nil before the first load.
func (s *Session) Current() *Checkpoint { return s.current }

// Stale reports whether the weights differ from the loaded checkpoint.
func (s *Session) Stale() bool { return s.stale }

// MarkStale records that the weights were mutated in place.
func (s *Session) MarkStale() { s.stale = true }

// ActiveDictionary returns the dictionary of the loaded checkpoint, or nil.
func (s *Session) ActiveDictionary() model.Dictionary {
	if s.current == nil {
		return nil
	}
	return s.current.Dictionary
}

// needsLoad reports whether cp must be written into the model.
func (s *Session) needsLoad(cp *Checkpoint) bool {
	return s.stale || s.current != cp
}

func (s *Session) loaded(cp *Checkpoint) {
	s.current = cp
	s.stale = false
}
