package checkpoint

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"slices"

	"github.com/jamesainslie/go-mmt/model"
	"github.com/jamesainslie/go-mmt/tokenizer"
)

// DirSource reads checkpoints laid out on disk as described by a Config.
// Weights are referenced by path; the model backend opens them on load.
type DirSource struct {
	dirs map[string]string
}

var _ Source = (*DirSource)(nil)

// NewDirSource creates a DirSource over the models of cfg.
func NewDirSource(cfg *Config) (*DirSource, error) {
	dirs, err := cfg.Checkpoints()
	if err != nil {
		return nil, err
	}
	return &DirSource{dirs: dirs}, nil
}

// Pairs lists the pairs named in model.yaml, sorted.
func (d *DirSource) Pairs() []string {
	return slices.Sorted(maps.Keys(d.dirs))
}

// Load reads the metadata and vocabulary of a pair directory. Weights stay
// on disk until the model loads them.
func (d *DirSource) Load(ctx context.Context, name string) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, ok := d.dirs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLanguagePair, name)
	}
	source, target, err := ParsePairName(name)
	if err != nil {
		return nil, err
	}

	meta, err := LoadMetadata(dir)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", name, err)
	}

	dict, err := tokenizer.New(resolve(dir, meta.Vocabulary), tokenizer.WithExtendedSize(meta.ExtendedVocabSize))
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", name, err)
	}

	cp := &Checkpoint{
		Name:               name,
		Source:             source,
		Target:             target,
		Weights:            model.Weights{Path: resolve(dir, meta.Weights)},
		Dictionary:         dict,
		MultilingualTarget: meta.MultilingualTarget,
		Length:             meta.DecodeLength.LengthModel,
	}
	if len(meta.DecodeLength.Pairs) > 0 {
		cp.Lengths = make(map[string]LengthModel, len(meta.DecodeLength.Pairs))
		for pair, lm := range meta.DecodeLength.Pairs {
			s, t, err := ParsePairName(pair)
			if err != nil {
				return nil, fmt.Errorf("checkpoint %s: decode_length: %w", name, err)
			}
			cp.Lengths[PairName(s, t)] = lm
		}
	}
	return cp, nil
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}
