package contracts

import (
	"errors"
	"fmt"
)

// FaultKind classifies a failure so callers can decide whether to retry.
// Only Transient faults are retried; everything else surfaces immediately.
type FaultKind string

const (
	// FaultStructural: missing or malformed fields. Never coerced.
	FaultStructural FaultKind = "STRUCTURAL"
	// FaultBusiness: a domain rule rejected the input.
	FaultBusiness FaultKind = "BUSINESS"
	// FaultTransient: infrastructure hiccup (timeout, 5xx, network).
	FaultTransient FaultKind = "TRANSIENT"
	// FaultPermanent: infrastructure failure that retrying cannot fix
	// (auth rejection, insufficient funds, exhausted retries).
	FaultPermanent FaultKind = "PERMANENT"
	// FaultPolicyBlocked: the policy engine said no. Carried as a Fault
	// for uniform reporting.
	FaultPolicyBlocked FaultKind = "POLICY_BLOCKED"
)

// Fault is an error with a retry classification.
type Fault struct {
	Kind FaultKind
	Op   string
	Err  error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %s: %v", f.Op, f.Kind, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// NewFault wraps err with a kind and the operation that produced it.
func NewFault(kind FaultKind, op string, err error) *Fault {
	return &Fault{Kind: kind, Op: op, Err: err}
}

// Faultf is NewFault with fmt.Errorf semantics.
func Faultf(kind FaultKind, op, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the fault kind from err. Unclassified errors are
// treated as Permanent: fail closed rather than retry blindly.
func KindOf(err error) FaultKind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return FaultPermanent
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return KindOf(err) == FaultTransient
}
