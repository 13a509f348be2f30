// Package ban decides how a nickname is enforced against and tracks how to undo it.
package ban

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoActiveBan = errors.New("no active ban for nick")
	ErrUnknownKind = errors.New("unknown ban kind")
)

// Kind says which reversal command a record needs.
type Kind string

const (
	Suspension Kind = "suspension"
	IdentMask  Kind = "ident_mask"
	HostMask   Kind = "host_mask"
)

// Validate rejects kinds not produced by Build.
func (k Kind) Validate() error {
	switch k {
	case Suspension, IdentMask, HostMask:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, string(k))
	}
}

// Record is the active enforcement for one nickname.
type Record struct {
	Subject string `yaml:"subject"`
	Kind    Kind   `yaml:"kind"`
	// Mask is empty for Suspension and otherwise the exact mask sent to KLINE.
	Mask      string    `yaml:"mask,omitempty"`
	SetBy     string    `yaml:"set_by,omitempty"`
	CreatedAt time.Time `yaml:"created_at"`
}

// Target is what the reversal command acts on.
func (r Record) Target() string {
	if r.Kind == Suspension {
		return r.Subject
	}

	return r.Mask
}
