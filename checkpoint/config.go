package checkpoint

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/go-mmt/tuning"
)

// ConfigFile is the name of the model configuration inside a model directory.
const ConfigFile = "model.yaml"

// Config is the model configuration:
//
//	settings:
//	  tuning_max_epochs: 4
//	  tuning_max_learning_rate: 0.0001
//	models:
//	  en__it: en__it
//	  en__fr: /models/en__fr
//
// Relative checkpoint paths resolve against the directory of the file.
type Config struct {
	Settings map[string]any    `yaml:"settings"`
	Models   map[string]string `yaml:"models"`

	dir string
}

// LoadConfig reads a configuration file, or ConfigFile inside a directory.
func LoadConfig(path string) (*Config, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, ConfigFile)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return ParseConfig(data, filepath.Dir(path))
}

// ParseConfig decodes a configuration whose relative paths resolve against dir.
// Tuning settings and pair names are validated here so a bad file fails
// before serving.
func ParseConfig(data []byte, dir string) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	c.dir = dir

	if _, err := c.Tuning(); err != nil {
		return nil, err
	}
	if _, err := c.Checkpoints(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Tuning returns the default tuning options overridden by the settings section.
func (c *Config) Tuning() (tuning.Options, error) {
	opts := tuning.DefaultOptions()
	for _, name := range slices.Sorted(maps.Keys(c.Settings)) {
		value := "None"
		if v := c.Settings[name]; v != nil {
			value = fmt.Sprint(v)
		}
		if err := opts.Set(name, value); err != nil {
			return opts, err
		}
	}
	return opts, nil
}

// Checkpoints maps normalized pair names to checkpoint directories.
func (c *Config) Checkpoints() (map[string]string, error) {
	out := make(map[string]string, len(c.Models))
	for name, path := range c.Models {
		source, target, err := ParsePairName(name)
		if err != nil {
			return nil, err
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(c.dir, path)
		}
		out[PairName(source, target)] = path
	}
	return out, nil
}

// Metadata describes one checkpoint directory, read from MetadataFile.
type Metadata struct {
	Weights            string `yaml:"weights"`
	Vocabulary         string `yaml:"vocabulary"`
	MultilingualTarget bool   `yaml:"multilingual_target"`
	ExtendedVocabSize  int    `yaml:"extended_vocab_size"`

	DecodeLength struct {
		LengthModel `yaml:",inline"`
		Pairs       map[string]LengthModel `yaml:"pairs"`
	} `yaml:"decode_length"`
}

// MetadataFile is the name of the metadata file inside a checkpoint directory.
const MetadataFile = "checkpoint.yaml"

// LoadMetadata reads MetadataFile from dir. Missing file names default to
// model.onnx and model.spm.
func LoadMetadata(dir string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint metadata: %w", err)
	}

	var m Metadata
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing checkpoint metadata: %w", err)
	}
	if m.Weights == "" {
		m.Weights = "model.onnx"
	}
	if m.Vocabulary == "" {
		m.Vocabulary = "model.spm"
	}
	return &m, nil
}
