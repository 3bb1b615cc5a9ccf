package resign

import (
	"errors"
	"fmt"
)

// Kind classifies a fatal failure
type Kind int

const (
	KindInput Kind = iota + 1
	KindProfile
	KindSigning
	KindPackaging
	KindIO
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindProfile:
		return "profile"
	case KindSigning:
		return "signing"
	case KindPackaging:
		return "packaging"
	case KindIO:
		return "io"
	case KindCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

var (
	ErrUnsupportedInput   = errors.New("unsupported input type")
	ErrInputMissing       = errors.New("input file not found")
	ErrPayloadMissing     = errors.New("no Payload directory found")
	ErrIdentifierConflict = errors.New("provisioning profile app ID does not match the new application ID")
	ErrProfileExpired     = errors.New("provisioning profile has expired")
	ErrMetadataWrite      = errors.New("failed to update bundle metadata")
	ErrIdentityTest       = errors.New("signing identity failed the test signature")
	ErrIdentityNotFound   = errors.New("signing identity not found")
	ErrVerification       = errors.New("signature verification failed")
	ErrPackaging          = errors.New("failed to package output")
)

// Error is returned by Signer.Run for every fatal failure. Warnings holds the
// recoverable problems reported before the run was aborted.
type Error struct {
	Kind     Kind
	Op       string
	Path     string
	Warnings []string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// KindOf returns the Kind of a failure returned by Run, or 0 when err is not
// an *Error
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
