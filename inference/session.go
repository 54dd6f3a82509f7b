// Package inference runs exported encoder-decoder translation models with
// ONNX Runtime.
//
// The exported graph takes src_tokens [batch, src], src_lengths [batch] and
// prev_output_tokens [batch, tgt] (all int64) and returns logits
// [batch, tgt, vocab] and attn [batch, tgt, src] (float32).
package inference

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ErrSessionClosed is returned by Step after Close.
var ErrSessionClosed = errors.New("inference: session is closed")

var (
	ortEnvOnce sync.Once
	ortEnvErr  error
)

// initORT initializes ONNX Runtime environment once.
func initORT() error {
	ortEnvOnce.Do(func() {
		ortEnvErr = ort.InitializeEnvironment()
	})
	return ortEnvErr
}

var (
	inputNames  = []string{"src_tokens", "src_lengths", "prev_output_tokens"}
	outputNames = []string{"logits", "attn"}
)

// Stepper runs one decoder pass over a batch.
type Stepper interface {
	Step(ctx context.Context, in StepInput) (*StepOutput, error)
	Close() error
}

// StepInput is one padded batch. Every row of Source has the same width, as
// does every row of PrevOutput.
type StepInput struct {
	Source        [][]int64
	SourceLengths []int64
	PrevOutput    [][]int64
}

// StepOutput holds the flattened outputs of one pass.
type StepOutput struct {
	Logits []float32 // [Batch, TgtLen, Vocab]
	Attn   []float32 // [Batch, TgtLen, SrcLen]

	Batch  int
	TgtLen int
	SrcLen int
	Vocab  int
}

// LogitsAt returns the logits of row at target position t.
func (o *StepOutput) LogitsAt(row, t int) []float32 {
	off := (row*o.TgtLen + t) * o.Vocab
	return o.Logits[off : off+o.Vocab]
}

// AttentionAt returns the source attention of row at target position t.
func (o *StepOutput) AttentionAt(row, t int) []float32 {
	off := (row*o.TgtLen + t) * o.SrcLen
	return o.Attn[off : off+o.SrcLen]
}

// Session wraps an ONNX Runtime session of a translation model.
type Session struct {
	session *ort.DynamicAdvancedSession
	mu      sync.Mutex
	closed  bool
}

var _ Stepper = (*Session)(nil)

// NewSession creates a new ONNX session from a model file.
func NewSession(modelPath string) (*Session, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}

	if err := initORT(); err != nil {
		return nil, fmt.Errorf("initializing ONNX runtime: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("creating session options: %w", err)
	}
	defer func() { _ = options.Destroy() }() // Cleanup error doesn't affect success

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		inputNames,
		outputNames,
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	return &Session{session: session}, nil
}

func flatten(rows [][]int64) ([]int64, int64) {
	if len(rows) == 0 {
		return nil, 0
	}
	width := len(rows[0])
	out := make([]int64, 0, len(rows)*width)
	for _, r := range rows {
		out = append(out, r...)
	}
	return out, int64(width)
}

// Step runs one pass of the model.
func (s *Session) Step(ctx context.Context, in StepInput) (*StepOutput, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}

	batchSize := int64(len(in.Source))
	src, srcLen := flatten(in.Source)
	prev, tgtLen := flatten(in.PrevOutput)

	srcTensor, err := ort.NewTensor(ort.NewShape(batchSize, srcLen), src)
	if err != nil {
		return nil, fmt.Errorf("creating src_tokens tensor: %w", err)
	}
	defer func() { _ = srcTensor.Destroy() }()

	lengthsTensor, err := ort.NewTensor(ort.NewShape(batchSize), in.SourceLengths)
	if err != nil {
		return nil, fmt.Errorf("creating src_lengths tensor: %w", err)
	}
	defer func() { _ = lengthsTensor.Destroy() }()

	prevTensor, err := ort.NewTensor(ort.NewShape(batchSize, tgtLen), prev)
	if err != nil {
		return nil, fmt.Errorf("creating prev_output_tokens tensor: %w", err)
	}
	defer func() { _ = prevTensor.Destroy() }()

	inputs := []ort.Value{srcTensor, lengthsTensor, prevTensor}

	// nil entries are allocated by Run
	outputs := []ort.Value{nil, nil}

	if err := s.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("running inference: %w", err)
	}
	for _, o := range outputs {
		if o != nil {
			defer func() { _ = o.Destroy() }()
		}
	}
	if outputs[0] == nil || outputs[1] == nil {
		return nil, fmt.Errorf("no output produced")
	}

	logits, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected logits tensor type")
	}
	attn, ok := outputs[1].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected attn tensor type")
	}

	shape := logits.GetShape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("unexpected logits shape %v", shape)
	}

	out := &StepOutput{
		Logits: append([]float32(nil), logits.GetData()...),
		Attn:   append([]float32(nil), attn.GetData()...),
		Batch:  int(shape[0]),
		TgtLen: int(shape[1]),
		SrcLen: int(srcLen),
		Vocab:  int(shape[2]),
	}
	if len(out.Attn) != out.Batch*out.TgtLen*out.SrcLen {
		return nil, fmt.Errorf("unexpected attn size %d for shape [%d %d %d]",
			len(out.Attn), out.Batch, out.TgtLen, out.SrcLen)
	}
	return out, nil
}

// Close releases ONNX resources.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	if s.session != nil {
		return s.session.Destroy()
	}
	return nil
}
