// Package pose provides the hand-pose keypoint model and the pose estimator
// service used to detect hands in camera frames.
package pose

import "fmt"

// Joint identifies one of the 21 hand joints. The numeric value of a Joint
// is its position in JointOrder.
type Joint int

// Hand joints in classifier order.
const (
	Wrist Joint = iota
	ThumbCMC
	ThumbMP
	ThumbIP
	ThumbTip
	IndexMCP
	IndexPIP
	IndexDIP
	IndexTip
	MiddleMCP
	MiddlePIP
	MiddleDIP
	MiddleTip
	RingMCP
	RingPIP
	RingDIP
	RingTip
	LittleMCP
	LittlePIP
	LittleDIP
	LittleTip
)

// NumJoints is the number of joints in a hand-pose observation.
const NumJoints = 21

// JointOrder is the sequence in which the gesture classifier expects
// keypoints. It must never be reordered.
var JointOrder = [NumJoints]Joint{
	Wrist,
	ThumbCMC, ThumbMP, ThumbIP, ThumbTip,
	IndexMCP, IndexPIP, IndexDIP, IndexTip,
	MiddleMCP, MiddlePIP, MiddleDIP, MiddleTip,
	RingMCP, RingPIP, RingDIP, RingTip,
	LittleMCP, LittlePIP, LittleDIP, LittleTip,
}

var jointNames = [NumJoints]string{
	"wrist",
	"thumbCMC", "thumbMP", "thumbIP", "thumbTip",
	"indexMCP", "indexPIP", "indexDIP", "indexTip",
	"middleMCP", "middlePIP", "middleDIP", "middleTip",
	"ringMCP", "ringPIP", "ringDIP", "ringTip",
	"littleMCP", "littlePIP", "littleDIP", "littleTip",
}

// Valid reports whether j is one of the 21 known joints.
func (j Joint) Valid() bool {
	return j >= Wrist && j <= LittleTip
}

// String returns the joint name, e.g. "indexTip".
func (j Joint) String() string {
	if !j.Valid() {
		return fmt.Sprintf("joint(%d)", int(j))
	}
	return jointNames[j]
}

// ParseJoint returns the joint with the given name.
func ParseJoint(name string) (Joint, error) {
	for i, n := range jointNames {
		if n == name {
			return Joint(i), nil
		}
	}
	return 0, fmt.Errorf("unknown joint %q", name)
}

// MarshalText implements encoding.TextMarshaler so observations can be
// encoded as JSON objects keyed by joint name.
func (j Joint) MarshalText() ([]byte, error) {
	if !j.Valid() {
		return nil, fmt.Errorf("invalid joint %d", int(j))
	}
	return []byte(j.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (j *Joint) UnmarshalText(text []byte) error {
	parsed, err := ParseJoint(string(text))
	if err != nil {
		return err
	}
	*j = parsed
	return nil
}
