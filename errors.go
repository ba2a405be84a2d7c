package cspace

import "github.com/pkg/errors"

// Error is a trivial, allocation-free error kind used for expected,
// data-carrying failures: a named sentinel instead of a dynamically
// built message, so that callers can compare with errors.Is instead of
// string matching.
type Error string

// Error implements the error interface.
func (e Error) Error() string { return string(e) }

const (
	// ErrExhausted is returned by AllocSlot when no free slot remains
	// at the level being searched.
	ErrExhausted = Error("cspace: exhausted")

	// ErrSupplierExhausted is returned when the untyped supplier could
	// not produce a 4KiB backing page during materialization.
	ErrSupplierExhausted = Error("cspace: supplier out of memory")

	// ErrMappingFailed is returned when the frame-mapping collaborator
	// could not install a bookkeeping frame.
	ErrMappingFailed = Error("cspace: frame mapping failed")

	// ErrInvariant is returned if a second-level table reports no free
	// slot right after successful materialization; this should not
	// occur and indicates a bookkeeping bug rather than exhaustion.
	ErrInvariant = Error("cspace: invariant violation: materialized table has no free slot")

	// ErrOutOfRange is returned (and logged) by FreeSlot for a slot
	// name outside the cspace's addressable range. Non-fatal.
	ErrOutOfRange = Error("cspace: slot out of range")

	// ErrUnallocated is returned (and logged) by FreeSlot when the
	// second-level table covering the slot was never materialized.
	// Non-fatal.
	ErrUnallocated = Error("cspace: freeing unmaterialized slot")

	// ErrPrimordialDestroy is the value Destroy panics with when called
	// on a cspace with no bootstrap cspace.
	ErrPrimordialDestroy = Error("cspace: cannot destroy primordial cspace")
)

// wrap attaches op as context to err using pkg/errors, preserving the
// original sentinel for errors.Is/errors.Cause while recording which
// step of a multi-stage operation failed. Used on collaborator-failure
// paths; never on ordinary exhaustion, which is a normal return and
// carries no stack.
func wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, "cspace: %s", op)
}
