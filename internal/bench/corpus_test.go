package bench

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jamesainslie/go-mmt/align"
)

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		want     Header
		wantBody string
		wantErr  bool
	}{
		{
			name: "valid header",
			input: "# Source: https://example.com/gold\n" +
				"# Pair: en__fr\n" +
				"# Title: Greetings\n" +
				"\n" +
				"hello\tbonjour\t0-0",
			want: Header{
				Source: "https://example.com/gold",
				Pair:   "en__fr",
				Title:  "Greetings",
			},
			wantBody: "hello\tbonjour\t0-0",
		},
		{
			name:    "missing source",
			input:   "# Pair: en__fr\n\nhello\tbonjour\t0-0",
			wantErr: true,
		},
		{
			name:    "missing pair",
			input:   "# Source: x\n\nhello\tbonjour\t0-0",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, body, err := ParseHeader(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseHeader() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if got != tt.want {
				t.Errorf("ParseHeader() header = %+v, want %+v", got, tt.want)
			}
			if body != tt.wantBody {
				t.Errorf("ParseHeader() body = %q, want %q", body, tt.wantBody)
			}
		})
	}
}

func TestParseExamples(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []Example
		wantErr bool
	}{
		{
			name:  "two lines",
			input: "hello world\tbonjour monde\t1-1 0-0\ngood\tbon\t0-0",
			want: []Example{
				{Source: "hello world", Target: "bonjour monde", Gold: align.Alignment{{Source: 0, Target: 0}, {Source: 1, Target: 1}}},
				{Source: "good", Target: "bon", Gold: align.Alignment{{Source: 0, Target: 0}}},
			},
		},
		{
			name:  "comments and blank lines",
			input: "# note\n\nhello\tbonjour\t0-0\n",
			want: []Example{
				{Source: "hello", Target: "bonjour", Gold: align.Alignment{{Source: 0, Target: 0}}},
			},
		},
		{
			name:  "empty alignment",
			input: "hello\tbonjour\t",
			want: []Example{
				{Source: "hello", Target: "bonjour", Gold: align.Alignment{}},
			},
		},
		{
			name:    "missing field",
			input:   "hello\tbonjour",
			wantErr: true,
		},
		{
			name:    "bad alignment",
			input:   "hello\tbonjour\t0:0",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseExamples(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseExamples() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ParseExamples() got %d examples, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].Source != tt.want[i].Source || got[i].Target != tt.want[i].Target {
					t.Errorf("example[%d] = %q/%q, want %q/%q",
						i, got[i].Source, got[i].Target, tt.want[i].Source, tt.want[i].Target)
				}
				if got[i].Gold.String() != tt.want[i].Gold.String() {
					t.Errorf("example[%d] gold = %q, want %q", i, got[i].Gold, tt.want[i].Gold)
				}
			}
		})
	}
}

func TestLoadCorpus(t *testing.T) {
	dir := t.TempDir()

	files := map[string]string{
		"greetings.tsv": "# Source: test\n# Pair: EN__fr\n\nhello world\tbonjour monde\t0-0 1-1\n",
		"notes.txt":     "ignored",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	sets, err := LoadCorpus(dir)
	if err != nil {
		t.Fatalf("LoadCorpus() error = %v", err)
	}
	if len(sets) != 1 {
		t.Fatalf("got %d sets, want 1", len(sets))
	}

	set := sets[0]
	if set.ID != "greetings" {
		t.Errorf("ID = %q, want greetings", set.ID)
	}
	if set.SourceLang != "en" || set.TargetLang != "fr" {
		t.Errorf("languages = %s/%s, want en/fr", set.SourceLang, set.TargetLang)
	}
	if len(set.Examples) != 1 {
		t.Fatalf("got %d examples, want 1", len(set.Examples))
	}
	if got := set.Segments(); got[0] != "hello world" {
		t.Errorf("Segments() = %q", got)
	}
	if got := set.Targets(); got[0] != "bonjour monde" {
		t.Errorf("Targets() = %q", got)
	}
}

func TestLoadCorpus_InvalidPair(t *testing.T) {
	dir := t.TempDir()
	content := "# Source: test\n# Pair: english\n\nhello\tbonjour\t0-0\n"
	if err := os.WriteFile(filepath.Join(dir, "bad.tsv"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadCorpus(dir); err == nil {
		t.Error("expected error for invalid pair name")
	}
}

func TestLoadCorpus_MissingDir(t *testing.T) {
	if _, err := LoadCorpus(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing directory")
	}
}
