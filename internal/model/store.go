package model

import "fmt"

// StoreID identifies one backing store within a multiplex configuration.
// IDs are assigned by configuration and never change for the lifetime of
// a deployment.
type StoreID int

func (id StoreID) String() string {
	return fmt.Sprintf("store-%d", int(id))
}

// MultiplexID identifies one multiplex configuration (the set of stores
// plus its quorum numbers).
type MultiplexID int

func (id MultiplexID) String() string {
	return fmt.Sprintf("multiplex-%d", int(id))
}

// Tier describes how a backing store participates in reads.
type Tier int

const (
	// TierMain stores are consulted on every ordinary read.
	TierMain Tier = iota
	// TierWriteMostly stores receive every put but are read only as a
	// fallback or during scrubbing.
	TierWriteMostly
)

func (t Tier) String() string {
	switch t {
	case TierMain:
		return "main"
	case TierWriteMostly:
		return "write_mostly"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}
