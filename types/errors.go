package types

import (
	"errors"
	"fmt"

	"github.com/wot-technology/wellspring/crypto"
)

// ErrNotFound is returned when a record id is not present in a store. It is
// a normal, expected outcome, not an exceptional condition.
var ErrNotFound = errors.New("record not found")

// ErrInvalidSignature is returned when a record's signature fails
// cryptographic verification or its creator identity is unknown. This is
// the only condition that causes outright rejection of an otherwise
// well-formed record.
type ErrInvalidSignature struct {
	ID     crypto.Digest
	Reason string
}

func (e ErrInvalidSignature) Error() string {
	return fmt.Sprintf("invalid signature on %s: %s", e.ID.Short(), e.Reason)
}

// ErrDigestMismatch is returned when a record's declared id does not match
// the digest recomputed from its content. Treated identically to an invalid
// signature: hard reject.
type ErrDigestMismatch struct {
	Declared crypto.Digest
	Computed crypto.Digest
}

func (e ErrDigestMismatch) Error() string {
	return fmt.Sprintf("digest mismatch: declared %s, computed %s",
		e.Declared.Short(), e.Computed.Short())
}

// ErrMalformedRecord is returned when a record fails structural
// validation or cannot be canonically encoded. Like a digest mismatch it
// condemns only the record itself, never the batch it arrived in.
type ErrMalformedRecord struct {
	ID     crypto.Digest
	Reason string
}

func (e ErrMalformedRecord) Error() string {
	return fmt.Sprintf("malformed record %s: %s", e.ID.Short(), e.Reason)
}

// Reasons a scope sync aborts.
const (
	AbortBadProof        = "membership proof failed validation"
	AbortVersionMismatch = "protocol version mismatch"
	AbortMalformed       = "malformed wire message"
)

// ErrSyncAborted terminates the current scope-sync round with a typed
// reason. It never results in a partial merge; records applied before the
// abort were individually valid and stay.
type ErrSyncAborted struct {
	Scope  crypto.Digest
	Reason string
}

func (e ErrSyncAborted) Error() string {
	return fmt.Sprintf("sync aborted for scope %s: %s", e.Scope.Short(), e.Reason)
}
