package classifier

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ayusman/janken/internal/encoder"
)

// Metadata describes a model artifact: its class labels and tensor layout.
type Metadata struct {
	Classes     []string `json:"classes"`
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	InputName   string   `json:"input_name"`
	OutputName  string   `json:"output_name"`
	// Softmax is set when the model emits logits rather than probabilities.
	Softmax bool `json:"softmax"`
}

// DefaultClasses are the labels of the bundled hand-game model.
var DefaultClasses = []string{"rock", "paper", "scissors"}

// DefaultMetadata returns the layout of the bundled model.
func DefaultMetadata() Metadata {
	return Metadata{
		Classes:     append([]string(nil), DefaultClasses...),
		InputShape:  []int64{encoder.Batch, encoder.Channels, encoder.Length},
		OutputShape: []int64{1, int64(len(DefaultClasses))},
		InputName:   "poses",
		OutputName:  "labelProbability",
	}
}

// MetadataPath returns the sidecar path for a model: the model path with its
// extension replaced by .json.
func MetadataPath(modelPath string) string {
	return strings.TrimSuffix(modelPath, filepath.Ext(modelPath)) + ".json"
}

// LoadMetadata reads a metadata file. Missing fields are filled from
// DefaultMetadata.
func LoadMetadata(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("read metadata: %w", err)
	}

	meta := DefaultMetadata()
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("parse metadata: %w", err)
	}
	if err := meta.Validate(); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

// Validate checks that the metadata is usable with encoder tensors.
func (m Metadata) Validate() error {
	if len(m.Classes) == 0 {
		return fmt.Errorf("metadata: no classes")
	}
	if m.InputName == "" || m.OutputName == "" {
		return fmt.Errorf("metadata: input and output names are required")
	}
	if n := elements(m.InputShape); n != encoder.Size {
		return fmt.Errorf("metadata: input shape %v has %d elements, want %d", m.InputShape, n, encoder.Size)
	}
	if n := elements(m.OutputShape); n != int64(len(m.Classes)) {
		return fmt.Errorf("metadata: output shape %v has %d elements for %d classes", m.OutputShape, n, len(m.Classes))
	}
	return nil
}

func elements(shape []int64) int64 {
	if len(shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}
