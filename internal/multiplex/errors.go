package multiplex

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/multierr"

	"github.com/blobmux/blobmux/internal/model"
)

// ErrorMap collects per-store failures from one fan-out round.
type ErrorMap map[model.StoreID]error

// Error renders the failures in store-ID order.
func (m ErrorMap) Error() string {
	ids := make([]model.StoreID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s: %v", id, m[id]))
	}
	return strings.Join(parts, "; ")
}

// Combined returns the failures as one multierr for callers that walk
// wrapped errors.
func (m ErrorMap) Combined() error {
	ids := make([]model.StoreID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var combined error
	for _, id := range ids {
		combined = multierr.Append(combined, fmt.Errorf("%s: %w", id, m[id]))
	}
	return combined
}

func (m ErrorMap) clone() ErrorMap {
	out := make(ErrorMap, len(m))
	for id, err := range m {
		out[id] = err
	}
	return out
}

// PutQuorumError reports a put that could not confirm enough stores and
// could not record its gaps durably.
type PutQuorumError struct {
	Key       string
	Needed    int
	Confirmed int
	Errors    ErrorMap
}

func (e *PutQuorumError) Error() string {
	return fmt.Sprintf("put %q confirmed %d of %d needed stores: %s",
		e.Key, e.Confirmed, e.Needed, e.Errors.Error())
}

func (e *PutQuorumError) Unwrap() error { return e.Errors.Combined() }

// GetQuorumError reports a read where some main stores failed and no
// replica produced the value, so absence cannot be trusted.
type GetQuorumError struct {
	Key    string
	Errors ErrorMap
}

func (e *GetQuorumError) Error() string {
	return fmt.Sprintf("get %q: no store returned the value and %d stores failed: %s",
		e.Key, len(e.Errors), e.Errors.Error())
}

func (e *GetQuorumError) Unwrap() error { return e.Errors.Combined() }
