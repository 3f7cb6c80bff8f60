// Package types holds the data model shared across the SPANN writer: point
// and head identifiers, versions, embeddings, and the staged posting-list
// representation described by the writer's core invariants.
package types

import "fmt"

// PointID is an opaque, dense identifier assigned by the record segment.
type PointID uint32

// HeadID is a dense identifier for a centroid-graph head, allocated from a
// process-wide monotonic counter persisted per commit.
type HeadID uint32

// Version is a per-PointID monotonically increasing counter. Zero is
// reserved to mean "deleted"; live versions start at 1.
type Version uint32

// IsDeleted reports whether v represents the reserved deleted sentinel.
func (v Version) IsDeleted() bool {
	return v == 0
}

// Space names the distance function a collection is configured with.
type Space string

const (
	SpaceCosine       Space = "cosine"
	SpaceL2           Space = "l2"
	SpaceInnerProduct Space = "ip"
)

// Embedding is an immutable vector shared by every posting list that
// references it and by the writer's embedding cache. Callers must never
// mutate the backing slice in place; Clone produces an independent copy
// when one is genuinely needed (e.g. before normalization).
type Embedding []float32

// Clone returns an independent copy of the embedding.
func (e Embedding) Clone() Embedding {
	out := make(Embedding, len(e))
	copy(out, e)
	return out
}

// Dim returns the embedding's dimensionality.
func (e Embedding) Dim() int {
	return len(e)
}

// HeadData is the staged, in-memory representation of a head: its
// centroid, its staged posting list, and the authoritative length which
// may exceed the staged list's length when part of it still lives only in
// the committed reader (see pkg/spann's reconcilePostingList).
type HeadData struct {
	Centroid Embedding
	Posting  StagedPostingList
	// Length is the authoritative count of entries the head owns,
	// including unflushed reader data not yet merged into Posting.
	Length uint32
}

// Clone returns a deep-ish copy of the head: new backing arrays for the
// parallel posting-list slices, but the embedding values themselves are
// shared (they are immutable once inserted).
func (h *HeadData) Clone() *HeadData {
	clone := &HeadData{
		Centroid: h.Centroid,
		Length:   h.Length,
	}
	clone.Posting = h.Posting.clone()
	return clone
}

// StagedPostingList holds three parallel slices: ids, versions, and
// embeddings, always kept the same length and in the same order. The
// embeddings are shared references into the writer's embedding cache.
type StagedPostingList struct {
	IDs        []PointID
	Versions   []Version
	Embeddings []Embedding
}

// Len returns the number of staged entries.
func (pl *StagedPostingList) Len() int {
	return len(pl.IDs)
}

// Append adds one entry to the end of the parallel arrays.
func (pl *StagedPostingList) Append(id PointID, v Version, emb Embedding) {
	pl.IDs = append(pl.IDs, id)
	pl.Versions = append(pl.Versions, v)
	pl.Embeddings = append(pl.Embeddings, emb)
}

// RemoveAt removes the entry at index i, preserving relative order of the
// remaining entries.
func (pl *StagedPostingList) RemoveAt(i int) {
	pl.IDs = append(pl.IDs[:i], pl.IDs[i+1:]...)
	pl.Versions = append(pl.Versions[:i], pl.Versions[i+1:]...)
	pl.Embeddings = append(pl.Embeddings[:i], pl.Embeddings[i+1:]...)
}

func (pl *StagedPostingList) clone() StagedPostingList {
	out := StagedPostingList{
		IDs:        make([]PointID, len(pl.IDs)),
		Versions:   make([]Version, len(pl.Versions)),
		Embeddings: make([]Embedding, len(pl.Embeddings)),
	}
	copy(out.IDs, pl.IDs)
	copy(out.Versions, pl.Versions)
	copy(out.Embeddings, pl.Embeddings)
	return out
}

// Entry is a single (id, version, embedding) triple, used where a whole
// StagedPostingList would be unwieldy (split/merge/reassign plumbing).
type Entry struct {
	ID        PointID
	Version   Version
	Embedding Embedding
}

func (e Entry) String() string {
	return fmt.Sprintf("Entry{id=%d, v=%d, dim=%d}", e.ID, e.Version, len(e.Embedding))
}
