// Package classifier maps encoded hand-pose tensors to gesture labels.
package classifier

import (
	"errors"
	"math"
	"sort"

	"github.com/ayusman/janken/internal/encoder"
)

var (
	// ErrModelLoad is returned when the model artifact cannot be loaded.
	ErrModelLoad = errors.New("classifier model load failed")
	// ErrClassification is returned when inference fails for a tensor.
	ErrClassification = errors.New("classification failed")
)

// Classifier predicts a gesture label for an encoded observation.
// Implementations are immutable after construction and safe for
// concurrent use.
type Classifier interface {
	Classify(t *encoder.Tensor) (*Result, error)
	Close() error
}

// Result is the outcome of one classification.
type Result struct {
	Label         string             `json:"label"`
	Probabilities map[string]float32 `json:"probabilities"`
}

// Probability returns the probability of the predicted label.
func (r *Result) Probability() float32 {
	if r == nil {
		return 0
	}
	return r.Probabilities[r.Label]
}

// Confidence converts the label probability into a whole percentage,
// truncated toward zero and clamped to [0,100].
func Confidence(r *Result) int {
	p := float64(r.Probability())
	if math.IsNaN(p) {
		return 0
	}
	n := math.Floor(p * 100)
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return int(n)
}

// Ranked returns labels sorted by probability, highest first. Ties are
// broken alphabetically.
func (r *Result) Ranked() []string {
	labels := make([]string, 0, len(r.Probabilities))
	for label := range r.Probabilities {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		pi, pj := r.Probabilities[labels[i]], r.Probabilities[labels[j]]
		if pi != pj {
			return pi > pj
		}
		return labels[i] < labels[j]
	})
	return labels
}

// newResult picks the arg-max over scores, which must be aligned with classes.
func newResult(classes []string, scores []float32) *Result {
	res := &Result{Probabilities: make(map[string]float32, len(classes))}
	best := -1
	for i, class := range classes {
		if i >= len(scores) {
			break
		}
		res.Probabilities[class] = scores[i]
		if best < 0 || scores[i] > scores[best] {
			best = i
		}
	}
	if best >= 0 {
		res.Label = classes[best]
	}
	return res
}

func softmax(values []float32) []float32 {
	if len(values) == 0 {
		return values
	}
	maxVal := values[0]
	for _, v := range values[1:] {
		if v > maxVal {
			maxVal = v
		}
	}

	out := make([]float32, len(values))
	var sum float64
	for i, v := range values {
		e := math.Exp(float64(v - maxVal))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}
