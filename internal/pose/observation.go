package pose

// Point is a 2D location in normalized image coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Keypoint is one joint's location and the estimator's confidence in it.
type Keypoint struct {
	Location   Point   `json:"location"`
	Confidence float64 `json:"confidence"`
}

// Observation is a single detected hand. Points may be partial: joints the
// estimator could not locate are simply absent.
type Observation struct {
	Points     map[Joint]Keypoint `json:"points"`
	Handedness string             `json:"handedness,omitempty"` // "Left" or "Right"
	Score      float64            `json:"score"`
}

// NewObservation returns an empty observation ready for Set.
func NewObservation() Observation {
	return Observation{Points: make(map[Joint]Keypoint, NumJoints)}
}

// Lookup returns the keypoint for j and whether it was observed.
// A missing joint yields the zero Keypoint.
func (o Observation) Lookup(j Joint) (Keypoint, bool) {
	kp, ok := o.Points[j]
	if !ok {
		return Keypoint{}, false
	}
	return kp, true
}

// Set records a keypoint for j. Invalid joints are ignored.
func (o *Observation) Set(j Joint, kp Keypoint) {
	if !j.Valid() {
		return
	}
	if o.Points == nil {
		o.Points = make(map[Joint]Keypoint, NumJoints)
	}
	o.Points[j] = kp
}

// Without returns a copy of o with the given joints removed.
func (o Observation) Without(joints ...Joint) Observation {
	c := Observation{
		Points:     make(map[Joint]Keypoint, len(o.Points)),
		Handedness: o.Handedness,
		Score:      o.Score,
	}
	for j, kp := range o.Points {
		c.Points[j] = kp
	}
	for _, j := range joints {
		delete(c.Points, j)
	}
	return c
}

// Len returns the number of observed joints.
func (o Observation) Len() int {
	return len(o.Points)
}
