package permission

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
)

// Prompter asks the user for camera access.
type Prompter interface {
	Prompt(ctx context.Context) (bool, error)
}

// AutoPrompter answers without asking.
type AutoPrompter bool

// Prompt returns the fixed answer.
func (a AutoPrompter) Prompt(context.Context) (bool, error) { return bool(a), nil }

// TerminalPrompter asks a yes/no question on a terminal.
type TerminalPrompter struct {
	In  io.Reader
	Out io.Writer
}

// Prompt writes the question and reads one line. Only y or yes grants.
func (p *TerminalPrompter) Prompt(ctx context.Context) (bool, error) {
	fmt.Fprint(p.Out, "janken needs access to the camera. Allow? [y/N] ")

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := bufio.NewReader(p.In).ReadString('\n')
		if err == io.EOF && line != "" {
			err = nil
		}
		ch <- answer{line, err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil {
			return false, a.err
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}

// Gate combines the OS check, the stored decision and the prompt.
type Gate struct {
	Checker   Checker
	Decisions Decisions
	// Prompter may be nil, in which case an undetermined decision is
	// treated as denied without being recorded.
	Prompter Prompter
}

// Ensure returns Authorized or a *DeniedError. When no decision exists the
// user is asked and the answer recorded.
func (g *Gate) Ensure(ctx context.Context) (Status, error) {
	if g.Checker != nil {
		osStatus, err := g.Checker.Status()
		if err != nil {
			return NotDetermined, err
		}
		if osStatus == Restricted {
			return Restricted, &DeniedError{
				Status:    Restricted,
				Reason:    "the operating system refuses access to the camera device",
				Directive: "grant your user access to the video device (for example, add it to the video group)",
			}
		}
	}

	decision := NotDetermined
	if g.Decisions != nil {
		var err error
		decision, err = g.Decisions.Decision()
		if err != nil {
			return NotDetermined, fmt.Errorf("read permission decision: %w", err)
		}
	}

	switch decision {
	case Authorized:
		return Authorized, nil
	case Denied:
		return Denied, &DeniedError{Status: Denied, Reason: "access was declined", Directive: SettingsDirective}
	}

	if g.Prompter == nil {
		return Denied, &DeniedError{Status: Denied, Reason: "no way to ask for access", Directive: SettingsDirective}
	}

	granted, err := g.Prompter.Prompt(ctx)
	if err != nil {
		return NotDetermined, fmt.Errorf("ask for camera access: %w", err)
	}

	status := Denied
	if granted {
		status = Authorized
	}
	if g.Decisions != nil {
		if err := g.Decisions.Record(status); err != nil {
			log.Printf("Failed to record camera permission: %v", err)
		}
	}

	if status == Denied {
		return Denied, &DeniedError{Status: Denied, Reason: "access was declined", Directive: SettingsDirective}
	}
	return Authorized, nil
}

// Set records an explicit decision, as from the permission command.
func (g *Gate) Set(s Status) error {
	if g.Decisions == nil {
		return fmt.Errorf("no decision store")
	}
	return g.Decisions.Record(s)
}
