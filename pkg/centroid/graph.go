// Package centroid implements the centroid-level navigable graph the
// SPANN writer uses for approximate nearest-head lookup. The contract
// (query/add/delete/resize/get/len_with_deleted, create/fork, commit) is
// the one spec.md treats as an external collaborator; this package is
// the module's own reference implementation of that collaborator so the
// writer is runnable end to end.
package centroid

import (
	"context"
	"errors"

	"github.com/chroma-core/spannsegment/pkg/types"
)

var (
	// ErrCapacityExceeded is returned by Add when the graph is full and
	// the caller has not yet called Resize. The SPANN writer always
	// checks capacity and doubles before retrying, so this should never
	// surface past pkg/spann in practice.
	ErrCapacityExceeded = errors.New("centroid: capacity exceeded")
)

// Graph is the contract the SPANN writer consumes for centroid-level
// lookup. Query and Get may run concurrently with each other; Add,
// Delete, and Resize require the exclusive side of the graph's guard and
// must not be called concurrently with any other Graph method.
type Graph interface {
	// Query returns up to k heads nearest to vec, restricted to the
	// allowed set if non-nil and excluding the disallowed set.
	Query(ctx context.Context, vec types.Embedding, k int, allowed, disallowed map[types.HeadID]struct{}) ([]types.HeadID, []float32, error)

	// Add inserts a new head centroid. Returns ErrCapacityExceeded if
	// the graph has no spare capacity; the caller should Resize and
	// retry.
	Add(ctx context.Context, id types.HeadID, vec types.Embedding) error

	// Delete tombstones a head. It remains counted by LenWithDeleted
	// until a rebuild compacts it away.
	Delete(ctx context.Context, id types.HeadID) error

	// Resize grows the graph's backing capacity to at least newCapacity.
	Resize(ctx context.Context, newCapacity int) error

	// Get returns a head's centroid if it is currently live.
	Get(ctx context.Context, id types.HeadID) (types.Embedding, bool, error)

	// GetAllIDs returns every live id and every tombstoned id.
	GetAllIDs(ctx context.Context) (live []types.HeadID, deleted []types.HeadID, err error)

	// LenWithDeleted returns the count of live plus tombstoned heads.
	LenWithDeleted() int

	// Len returns the count of live heads.
	Len() int

	// Capacity returns the graph's current backing capacity.
	Capacity() int

	// Commit persists the graph to its backing store.
	Commit(ctx context.Context) error
}

// Params configures a new or forked graph, mirroring Create/Fork's
// parameter lists in the external interface.
type Params struct {
	Collection     string
	Dim            int
	Distance       types.Space
	MaxNeighbors   int
	EfConstruction int
	EfSearch       int
	PrefixPath     string
}
