package classifier

import (
	"fmt"
	"math"
	"sync"

	"github.com/ayusman/janken/internal/encoder"
	"github.com/ayusman/janken/internal/pose"
)

// Template is a reference pose for one label.
type Template struct {
	Label  string
	points [pose.NumJoints]normPoint
}

type normPoint struct {
	x, y    float64
	present bool
}

// TemplateClassifier labels a pose by its distance to reference poses. It
// is used when no model artifact is configured.
type TemplateClassifier struct {
	mu        sync.RWMutex
	templates []*Template
}

// NewTemplateClassifier creates a classifier seeded with the built-in
// rock, paper and scissors poses.
func NewTemplateClassifier() *TemplateClassifier {
	c := &TemplateClassifier{}
	c.mustAddTemplate("rock", pose.RockObservation())
	c.mustAddTemplate("paper", pose.PaperObservation())
	c.mustAddTemplate("scissors", pose.ScissorsObservation())
	return c
}

// mustAddTemplate is AddTemplate for the built-in poses, which must always
// normalize.
func (c *TemplateClassifier) mustAddTemplate(label string, obs pose.Observation) {
	if err := c.AddTemplate(label, obs); err != nil {
		panic(fmt.Sprintf("classifier: built-in %s template: %v", label, err))
	}
}

// AddTemplate registers obs as a reference for label. A label added twice
// keeps both references and scores against the nearer one.
func (c *TemplateClassifier) AddTemplate(label string, obs pose.Observation) error {
	points, err := normalizeObservation(obs)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.templates = append(c.templates, &Template{Label: label, points: points})
	return nil
}

// Labels returns the distinct template labels in registration order.
func (c *TemplateClassifier) Labels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]bool)
	var labels []string
	for _, t := range c.templates {
		if !seen[t.Label] {
			seen[t.Label] = true
			labels = append(labels, t.Label)
		}
	}
	return labels
}

// Classify scores the tensor against every template with 1/(1+d), where d
// is the summed distance over joints present in both, and normalizes the
// per-label best scores into probabilities.
func (c *TemplateClassifier) Classify(t *encoder.Tensor) (*Result, error) {
	if t == nil || t.Data() == nil {
		return nil, fmt.Errorf("%w: no input tensor", ErrClassification)
	}

	input, err := normalizeTensor(t)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.templates) == 0 {
		return nil, fmt.Errorf("%w: no templates", ErrClassification)
	}

	var labels []string
	best := make(map[string]float64)
	for _, tmpl := range c.templates {
		score := 1.0 / (1.0 + distance(input, tmpl.points))
		prev, ok := best[tmpl.Label]
		if !ok {
			labels = append(labels, tmpl.Label)
		}
		if !ok || score > prev {
			best[tmpl.Label] = score
		}
	}

	var total float64
	for _, s := range best {
		total += s
	}
	scores := make([]float32, len(labels))
	for i, label := range labels {
		scores[i] = float32(best[label] / total)
	}
	return newResult(labels, scores), nil
}

// Close is a no-op.
func (c *TemplateClassifier) Close() error { return nil }

// normalizeTensor reads the tensor back into points. Joints with zero
// confidence are treated as missing.
func normalizeTensor(t *encoder.Tensor) ([pose.NumJoints]normPoint, error) {
	var raw [pose.NumJoints]normPoint
	for i := 0; i < pose.NumJoints; i++ {
		if t.At(0, encoder.ChannelConfidence, i) == 0 {
			continue
		}
		raw[i] = normPoint{
			x:       float64(t.At(0, encoder.ChannelX, i)),
			y:       float64(t.At(0, encoder.ChannelY, i)),
			present: true,
		}
	}
	return normalize(raw)
}

func normalizeObservation(obs pose.Observation) ([pose.NumJoints]normPoint, error) {
	var raw [pose.NumJoints]normPoint
	for i, j := range pose.JointOrder {
		if kp, ok := obs.Lookup(j); ok {
			raw[i] = normPoint{x: kp.Location.X, y: kp.Location.Y, present: true}
		}
	}
	return normalize(raw)
}

// normalize places the wrist at the origin and scales so the wrist to
// middle MCP distance is 1.
func normalize(raw [pose.NumJoints]normPoint) ([pose.NumJoints]normPoint, error) {
	wrist, mcp := raw[pose.Wrist], raw[pose.MiddleMCP]
	if !wrist.present || !mcp.present {
		return raw, fmt.Errorf("%w: wrist and middleMCP are required", ErrClassification)
	}

	scale := math.Hypot(mcp.x-wrist.x, mcp.y-wrist.y)
	if scale < 1e-10 {
		return raw, fmt.Errorf("%w: degenerate hand size", ErrClassification)
	}

	var out [pose.NumJoints]normPoint
	for i, p := range raw {
		if !p.present {
			continue
		}
		out[i] = normPoint{
			x:       (p.x - wrist.x) / scale,
			y:       (p.y - wrist.y) / scale,
			present: true,
		}
	}
	return out, nil
}

func distance(a, b [pose.NumJoints]normPoint) float64 {
	var total float64
	for i := range a {
		if !a[i].present || !b[i].present {
			continue
		}
		total += math.Hypot(a[i].x-b[i].x, a[i].y-b[i].y)
	}
	return total
}
