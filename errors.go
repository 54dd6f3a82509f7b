package mmt

import (
	"errors"

	"github.com/jamesainslie/go-mmt/checkpoint"
	"github.com/jamesainslie/go-mmt/tuning"
)

// Sentinel errors for conditions callers may need to handle differently.
var (
	// ErrUnknownLanguagePair indicates no checkpoint is configured for the pair.
	ErrUnknownLanguagePair = checkpoint.ErrUnknownLanguagePair

	// ErrInvalidTuningOption indicates an unrecognised option in the model settings.
	ErrInvalidTuningOption = tuning.ErrInvalidOption

	// ErrStaleModel indicates the model held weights of another checkpoint at
	// decode time. It signals a bug in the decoder, never bad input.
	ErrStaleModel = errors.New("mmt: model weights do not match the requested checkpoint")

	// ErrModelNotFound indicates the model directory or a weights file does not exist.
	ErrModelNotFound = errors.New("mmt: model not found")

	// ErrInvalidModel indicates model files exist but cannot be loaded.
	ErrInvalidModel = errors.New("mmt: invalid model")

	// ErrTokenizerFailed indicates the vocabulary of a checkpoint could not be loaded.
	ErrTokenizerFailed = errors.New("mmt: tokenizer initialization failed")

	// ErrInvalidRequest indicates malformed request arguments.
	ErrInvalidRequest = errors.New("mmt: invalid request")

	// ErrPoolClosed is returned by Pool.Acquire after Close.
	ErrPoolClosed = errors.New("mmt: pool is closed")
)
