// Package permission decides whether the camera may be used.
package permission

import (
	"errors"
	"fmt"
	"strings"
)

// Status is the camera authorization state.
type Status int

const (
	NotDetermined Status = iota
	Authorized
	Denied
	// Restricted means the operating system refuses access regardless of
	// the user's choice.
	Restricted
)

var statusNames = map[Status]string{
	NotDetermined: "not-determined",
	Authorized:    "authorized",
	Denied:        "denied",
	Restricted:    "restricted",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ParseStatus parses a status name.
func ParseStatus(name string) (Status, error) {
	for s, n := range statusNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return s, nil
		}
	}
	return NotDetermined, fmt.Errorf("unknown permission status %q", name)
}

// SettingsDirective tells the user how to grant access after a denial.
const SettingsDirective = "run `janken permission --grant` to allow camera access"

// ErrDenied matches every DeniedError.
var ErrDenied = errors.New("camera access denied")

// DeniedError reports why access was refused and how to change it.
type DeniedError struct {
	Status    Status
	Reason    string
	Directive string
}

func (e *DeniedError) Error() string {
	msg := "camera access " + e.Status.String()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is reports ErrDenied as a match.
func (e *DeniedError) Is(target error) bool { return target == ErrDenied }

// Directive returns the settings directive carried by err, if any.
func Directive(err error) string {
	var denied *DeniedError
	if errors.As(err, &denied) {
		return denied.Directive
	}
	return ""
}
