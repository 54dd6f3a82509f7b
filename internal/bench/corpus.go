// Package bench provides benchmarking utilities for word alignment quality.
package bench

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jamesainslie/go-mmt/align"
	"github.com/jamesainslie/go-mmt/checkpoint"
)

// Header contains metadata parsed from the header of a test set file.
type Header struct {
	Source string
	Pair   string
	Title  string
}

// ParseHeader extracts metadata from header comments.
// Returns the header, remaining text after header, and any error.
func ParseHeader(text string) (Header, string, error) {
	var h Header
	scanner := bufio.NewScanner(strings.NewReader(text))
	var bodyStart int
	var lineEnd int

	for scanner.Scan() {
		line := scanner.Text()
		lineEnd += len(line) + 1 // +1 for newline

		if !strings.HasPrefix(line, "#") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			bodyStart = lineEnd - len(line) - 1
			break
		}

		line = strings.TrimPrefix(line, "# ")
		if value, ok := strings.CutPrefix(line, "Source:"); ok {
			h.Source = strings.TrimSpace(value)
		} else if value, ok := strings.CutPrefix(line, "Pair:"); ok {
			h.Pair = strings.TrimSpace(value)
		} else if value, ok := strings.CutPrefix(line, "Title:"); ok {
			h.Title = strings.TrimSpace(value)
		}
	}

	if err := scanner.Err(); err != nil {
		return Header{}, "", fmt.Errorf("scan header: %w", err)
	}

	if h.Source == "" {
		return Header{}, "", errors.New("missing Source in header")
	}
	if h.Pair == "" {
		return Header{}, "", errors.New("missing Pair in header")
	}

	body := text[bodyStart:]
	body = strings.TrimSpace(body)

	return h, body, nil
}

// Example is one sentence pair with its reference alignment.
type Example struct {
	Source string
	Target string
	Gold   align.Alignment
}

// ParseExamples reads tab-separated lines: source, target, Pharaoh alignment.
// Blank lines and comments are skipped.
func ParseExamples(body string) ([]Example, error) {
	var examples []Example
	for i, line := range strings.Split(body, "\n") {
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) != 3 {
			return nil, fmt.Errorf("line %d: want 3 tab-separated fields, got %d", i+1, len(fields))
		}
		gold, err := align.Parse(fields[2])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}

		examples = append(examples, Example{
			Source: strings.TrimSpace(fields[0]),
			Target: strings.TrimSpace(fields[1]),
			Gold:   gold,
		})
	}
	return examples, nil
}

// Set represents a loaded test set for one language pair.
type Set struct {
	ID         string // filename without extension
	Source     string // where the references come from
	Title      string
	SourceLang string
	TargetLang string
	Examples   []Example
}

// Segments returns the source sentences in order.
func (s *Set) Segments() []string {
	out := make([]string, len(s.Examples))
	for i, ex := range s.Examples {
		out[i] = ex.Source
	}
	return out
}

// Targets returns the target sentences in order.
func (s *Set) Targets() []string {
	out := make([]string, len(s.Examples))
	for i, ex := range s.Examples {
		out[i] = ex.Target
	}
	return out
}

// LoadSet loads and parses a test set file.
func LoadSet(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	header, body, err := ParseHeader(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}
	source, target, err := checkpoint.ParsePairName(header.Pair)
	if err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}
	examples, err := ParseExamples(body)
	if err != nil {
		return nil, err
	}

	base := filepath.Base(path)
	id := strings.TrimSuffix(base, filepath.Ext(base))

	return &Set{
		ID:         id,
		Source:     header.Source,
		Title:      header.Title,
		SourceLang: source,
		TargetLang: target,
		Examples:   examples,
	}, nil
}

// LoadCorpus loads all .tsv test set files from a directory.
func LoadCorpus(dir string) ([]*Set, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}

	var sets []*Set
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if filepath.Ext(entry.Name()) != ".tsv" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		set, err := LoadSet(path)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", entry.Name(), err)
		}
		sets = append(sets, set)
	}

	return sets, nil
}
