package classifier

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/ayusman/janken/internal/encoder"
)

var envOnce sync.Once
var envErr error

// initEnvironment initializes the onnxruntime environment once per process.
func initEnvironment(libraryPath string) error {
	envOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// ONNXClassifier runs a gesture model through onnxruntime.
//
// Input and output tensors are created per call, so one classifier can be
// shared between goroutines.
type ONNXClassifier struct {
	session *ort.DynamicAdvancedSession
	meta    Metadata
}

// NewONNX loads the model at modelPath. libraryPath points at the
// onnxruntime shared library; empty uses the library's default lookup.
func NewONNX(modelPath string, meta Metadata, libraryPath string) (*ONNXClassifier, error) {
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}
	if err := initEnvironment(libraryPath); err != nil {
		return nil, fmt.Errorf("%w: initialize onnxruntime: %w", ErrModelLoad, err)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{meta.InputName}, []string{meta.OutputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create session for %s: %w", ErrModelLoad, modelPath, err)
	}

	return &ONNXClassifier{session: session, meta: meta}, nil
}

// Metadata returns the model description.
func (c *ONNXClassifier) Metadata() Metadata {
	return c.meta
}

// Classify runs one inference.
func (c *ONNXClassifier) Classify(t *encoder.Tensor) (*Result, error) {
	if t == nil || t.Data() == nil {
		return nil, fmt.Errorf("%w: no input tensor", ErrClassification)
	}

	input, err := ort.NewTensor(ort.NewShape(c.meta.InputShape...), t.Data())
	if err != nil {
		return nil, fmt.Errorf("%w: create input tensor: %w", ErrClassification, err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(c.meta.OutputShape...))
	if err != nil {
		return nil, fmt.Errorf("%w: create output tensor: %w", ErrClassification, err)
	}
	defer output.Destroy()

	if err := c.session.Run([]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output}); err != nil {
		return nil, fmt.Errorf("%w: inference: %w", ErrClassification, err)
	}

	scores := append([]float32(nil), output.GetData()...)
	if c.meta.Softmax {
		scores = softmax(scores)
	}
	return newResult(c.meta.Classes, scores), nil
}

// Close releases the session.
func (c *ONNXClassifier) Close() error {
	if c.session == nil {
		return nil
	}
	err := c.session.Destroy()
	c.session = nil
	return err
}
