package model

import "time"

// BlobValue is an opaque byte payload plus storage metadata. Content is
// immutable once written; two values for the same key are expected to be
// byte-identical.
type BlobValue struct {
	Data  []byte
	Ctime time.Time
}

// NewBlobValue wraps raw bytes into a BlobValue stamped with the current
// time.
func NewBlobValue(data []byte) BlobValue {
	return BlobValue{Data: data, Ctime: time.Now().UTC()}
}

// Size returns the payload size in bytes.
func (v BlobValue) Size() uint64 {
	return uint64(len(v.Data))
}

// PutBehaviour controls what a put does when the key already exists.
type PutBehaviour int

const (
	// PutIfAbsent leaves an existing value untouched. This is the
	// default for content-addressed blobs.
	PutIfAbsent PutBehaviour = iota
	// PutOverwrite unconditionally replaces the stored value.
	PutOverwrite
)

func (b PutBehaviour) String() string {
	switch b {
	case PutIfAbsent:
		return "if_absent"
	case PutOverwrite:
		return "overwrite"
	default:
		return "unknown"
	}
}

// OverwriteStatus reports whether a put checked for, and was prevented
// by, an existing value.
type OverwriteStatus int

const (
	// OverwriteNotChecked means the value was written without consulting
	// any previous value.
	OverwriteNotChecked OverwriteStatus = iota
	// OverwritePrevented means an existing value was found and kept.
	OverwritePrevented
)

// PresenceState is the outcome of a multiplexed presence check.
type PresenceState int

const (
	// PresentState means at least one store returned the value.
	PresentState PresenceState = iota
	// AbsentState means enough stores confirmed absence to be sure.
	AbsentState
	// ProbablyNotPresentState means no store returned the value but some
	// stores could not be reached, so absence is not certain.
	ProbablyNotPresentState
)

// Presence is the answer to an is-present query. Reason carries the
// per-store failures when the state is degraded.
type Presence struct {
	State  PresenceState
	Reason error
}

// Present reports whether the key was found.
func (p Presence) Present() bool { return p.State == PresentState }

// AssumeNotFoundIfUnsure collapses the degraded state into "not found".
// Callers that can tolerate a false negative use this; callers that
// cannot must inspect State and Reason.
func (p Presence) AssumeNotFoundIfUnsure() bool {
	return p.State != PresentState
}

func (p Presence) String() string {
	switch p.State {
	case PresentState:
		return "present"
	case AbsentState:
		return "absent"
	case ProbablyNotPresentState:
		return "probably_not_present"
	default:
		return "unknown"
	}
}
