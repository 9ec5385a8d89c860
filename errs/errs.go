// Package errs implements the semantic error taxonomy of §7: every
// validation or protocol failure in this module carries one of a fixed set
// of kinds plus the first failing invariant as its reason, so callers and
// operators can tell "reject and report" apart from "halt the node."
package errs

import "fmt"

// Kind is one of the eight semantic error categories from §7. It is never
// used as a Go error type name directly — callers match on Kind via
// errors.As against *Error, not via type switches on concrete error types.
type Kind string

const (
	Structural   Kind = "StructuralError"
	Cryptographic Kind = "CryptographicError"
	Semantic     Kind = "SemanticError"
	Policy       Kind = "PolicyError"
	Chain        Kind = "ChainError"
	Consensus    Kind = "ConsensusError"
	Fault        Kind = "FaultError"
	Fatal        Kind = "FatalError"
)

// Error is the concrete error value produced throughout this module. Reason
// is the first failing invariant, suitable for direct operator-facing
// observability without further parsing.
type Error struct {
	Kind   Kind
	Reason string
	Err    error // optional wrapped cause
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target has the same Kind, so errors.Is(err,
// errs.New(errs.Semantic, "")) matches any SemanticError regardless of reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds a bare Error of the given kind and reason.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap builds an Error of the given kind and reason, wrapping cause.
func Wrap(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: cause}
}

// Halts reports whether an error of this kind must halt the node rather
// than simply terminate the current round or reject the current request.
func (k Kind) Halts() bool { return k == Fatal }

// SwitchesToRecovery reports whether an error of this kind must drive the
// consensus phase to RECOVERY (§7 propagation policy).
func (k Kind) SwitchesToRecovery() bool { return k == Fault }
