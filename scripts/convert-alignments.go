//go:build ignore

// Convert a parallel corpus with gold word alignments into the benchmark
// test set format read by internal/bench.
// Inputs are three line-aligned files: source sentences, target sentences
// and alignments ("1-1 2-3", or "1p3" for possible links).
// Usage: go run ./scripts/convert-alignments.go -src de.txt -tgt en.txt -align gold.talp -pair de__en -out testdata/align/rwth.tsv
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func main() {
	var (
		srcPath   = flag.String("src", "", "Source sentences, one per line (required)")
		tgtPath   = flag.String("tgt", "", "Target sentences, one per line (required)")
		alignPath = flag.String("align", "", "Gold alignments, one line per sentence (required)")
		pair      = flag.String("pair", "", "Language pair, e.g. de__en (required)")
		source    = flag.String("source", "", "Where the references come from")
		outPath   = flag.String("out", "", "Output .tsv file (required)")
		oneBased  = flag.Bool("one-based", true, "Input indexes start at 1")
		possible  = flag.Bool("possible", false, "Keep possible links as well as sure ones")
	)
	flag.Parse()

	if *srcPath == "" || *tgtPath == "" || *alignPath == "" || *pair == "" || *outPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	src, err := readLines(*srcPath)
	if err != nil {
		fail(err)
	}
	tgt, err := readLines(*tgtPath)
	if err != nil {
		fail(err)
	}
	gold, err := readLines(*alignPath)
	if err != nil {
		fail(err)
	}
	if len(src) != len(tgt) || len(src) != len(gold) {
		fail(fmt.Errorf("line counts differ: %d source, %d target, %d alignments", len(src), len(tgt), len(gold)))
	}

	if *source == "" {
		*source = filepath.Base(*alignPath)
	}

	var out strings.Builder
	fmt.Fprintf(&out, "# Source: %s\n# Pair: %s\n\n", *source, *pair)

	skipped := 0
	for i := range src {
		links, err := convertLinks(gold[i], *oneBased, *possible)
		if err != nil {
			fail(fmt.Errorf("line %d: %w", i+1, err))
		}
		if strings.ContainsRune(src[i], '\t') || strings.ContainsRune(tgt[i], '\t') {
			skipped++
			continue
		}
		fmt.Fprintf(&out, "%s\t%s\t%s\n", src[i], tgt[i], links)
	}

	if err := os.WriteFile(*outPath, []byte(out.String()), 0o644); err != nil {
		fail(err)
	}
	fmt.Printf("Wrote %d examples to %s (%d skipped)\n", len(src)-skipped, *outPath, skipped)
}

func readLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return lines, nil
}

// convertLinks rewrites one alignment line as zero-based sure links.
func convertLinks(line string, oneBased, keepPossible bool) (string, error) {
	var links []string
	for _, field := range strings.Fields(line) {
		sep := "-"
		if strings.Contains(field, "p") {
			if !keepPossible {
				continue
			}
			sep = "p"
		}

		s, t, ok := strings.Cut(field, sep)
		if !ok {
			return "", fmt.Errorf("invalid link %q", field)
		}
		si, err := strconv.Atoi(s)
		if err != nil {
			return "", fmt.Errorf("invalid link %q", field)
		}
		ti, err := strconv.Atoi(t)
		if err != nil {
			return "", fmt.Errorf("invalid link %q", field)
		}
		if oneBased {
			si, ti = si-1, ti-1
		}
		if si < 0 || ti < 0 {
			return "", fmt.Errorf("negative index in %q", field)
		}
		links = append(links, fmt.Sprintf("%d-%d", si, ti))
	}
	return strings.Join(links, " "), nil
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
