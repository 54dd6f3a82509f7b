// Package mmttest provides deterministic in-memory collaborators for tests.
package mmttest

import (
	"strings"

	"github.com/jamesainslie/go-mmt/model"
)

// Special token ids of Dictionary.
const (
	PadID int32 = 0
	EOSID int32 = 1
	UnkID int32 = 2
)

// Dictionary is a word-level dictionary: every whitespace-separated word is one token.
type Dictionary struct {
	pieces   []string
	ids      map[string]int32
	tags     map[string]int32
	extended int
}

var _ model.Dictionary = (*Dictionary)(nil)

// NewDictionary builds a dictionary over words with one tag token per language.
// extended below the true size is raised to it.
func NewDictionary(words, langs []string, extended int) *Dictionary {
	d := &Dictionary{
		pieces: []string{"<pad>", "</s>", "<unk>"},
		ids:    make(map[string]int32),
		tags:   make(map[string]int32),
	}
	for _, lang := range langs {
		d.tags[lang] = int32(len(d.pieces))
		d.pieces = append(d.pieces, "__"+lang+"__")
	}
	for _, w := range words {
		if _, ok := d.ids[w]; ok {
			continue
		}
		d.ids[w] = int32(len(d.pieces))
		d.pieces = append(d.pieces, w)
	}
	d.extended = max(extended, len(d.pieces))
	return d
}

// IsTag reports whether id is a language tag.
func (d *Dictionary) IsTag(id int32) bool {
	for _, tag := range d.tags {
		if tag == id {
			return true
		}
	}
	return false
}

func (d *Dictionary) special(id int32) bool {
	return id == PadID || id == EOSID || d.IsTag(id)
}

func (d *Dictionary) EncodeIDs(text string) []int32 {
	words := strings.Fields(text)
	ids := make([]int32, len(words))
	for i, w := range words {
		id, ok := d.ids[w]
		if !ok {
			id = UnkID
		}
		ids[i] = id
	}
	return ids
}

func (d *Dictionary) DecodeIDs(ids []int32) string {
	words := make([]string, 0, len(ids))
	for _, id := range ids {
		if d.special(id) || int(id) >= len(d.pieces) || id < 0 {
			continue
		}
		words = append(words, d.pieces[id])
	}
	return strings.Join(words, " ")
}

func (d *Dictionary) WordIndexes(ids []int32) []int {
	var idx []int
	for _, id := range ids {
		if d.special(id) {
			continue
		}
		idx = append(idx, len(idx))
	}
	return idx
}

func (d *Dictionary) PadID() int32 { return PadID }
func (d *Dictionary) EOSID() int32 { return EOSID }
func (d *Dictionary) UnkID() int32 { return UnkID }

func (d *Dictionary) LanguageTag(lang string) (int32, bool) {
	id, ok := d.tags[lang]
	return id, ok
}

func (d *Dictionary) OriginalSize() int { return len(d.pieces) }
func (d *Dictionary) ExtendedSize() int { return d.extended }
