// Package materializer implements the record segment's log
// materializer: it reduces an ordered chunk of user-visible operations
// (add/update/upsert/delete) plus an optional record-segment snapshot
// into a deduplicated, offset-ID-sorted sequence of effective
// operations with merged metadata. The SPANN writer and the metadata
// writer both consume its output; materializer itself has no notion of
// either.
package materializer

import (
	"fmt"
	"sort"

	"github.com/chroma-core/spannsegment/pkg/types"
)

// Operation is a user-visible log operation.
type Operation int

const (
	Add Operation = iota
	Update
	Upsert
	Delete
)

// EffectiveOperation is the folded operation kind a MaterializedRecord
// settles into.
type EffectiveOperation int

const (
	// Initial marks a record that was fetched from the segment with no
	// log activity touching it; it is never produced by folding, only
	// used as the resting state before any log record is applied.
	Initial EffectiveOperation = iota
	AddNew
	UpdateExisting
	OverwriteExisting
	DeleteExisting
)

func (op EffectiveOperation) String() string {
	switch op {
	case Initial:
		return "Initial"
	case AddNew:
		return "AddNew"
	case UpdateExisting:
		return "UpdateExisting"
	case OverwriteExisting:
		return "OverwriteExisting"
	case DeleteExisting:
		return "DeleteExisting"
	default:
		return "Unknown"
	}
}

// LogRecord is one entry of the ordered log chunk fed to Materialize.
type LogRecord struct {
	UserID    string
	Operation Operation
	Embedding types.Embedding
	Document  *string
	Metadata  types.UpdateMetadata
}

// SegmentReader is the record segment's read surface, the external
// collaborator Materialize consults to resolve fresh user IDs into
// offset IDs and to lazily hydrate a record's prior state.
type SegmentReader interface {
	// OffsetIDForUserID returns the offset ID already assigned to
	// userID in the segment, if any.
	OffsetIDForUserID(userID string) (types.PointID, bool, error)
	// MaxOffsetID returns the highest offset ID ever assigned in the
	// segment, or 0 if the segment is uninitialized.
	MaxOffsetID() (types.PointID, error)
	// Hydrate returns a record's committed document, embedding, and
	// metadata, read only when a materialized record's hydrate is
	// actually invoked.
	Hydrate(offsetID types.PointID) (document *string, embedding types.Embedding, metadata types.Metadata, err error)
}

// Failure modes of the materializer, named for the subsystem they point
// back at. Materialize returns ErrEmbeddingMaterialization for an add or
// upsert that carries no embedding. ErrMetadataMaterialization names the
// metadata type-mismatch failure; Materialize does not check metadata
// values against a declared schema and never returns it.
var (
	ErrEmbeddingMaterialization = fmt.Errorf("materializer: add/upsert is missing an embedding")
	ErrMetadataMaterialization  = fmt.Errorf("materializer: metadata value type mismatch")
)

// Record is one materialized, effective operation. It borrows into the
// original log chunk by index rather than cloning bulk fields; Hydrate
// resolves segment-backed data (document/embedding/metadata not
// supplied by the winning log entry) only on first call.
type Record struct {
	OffsetID           types.PointID
	FinalOperation     EffectiveOperation
	offsetIDInSegment  bool
	logIndex           int
	logRecord          *LogRecord
	metadataToMerge    types.Metadata
	metadataToDelete   map[string]struct{}
	userID             string
	hydrated           bool
	hydratedDocument   *string
	hydratedEmbedding  types.Embedding
	hydratedMetadata   types.Metadata
	hydrateErrOccurred error
}

// UserID returns the record's user-supplied identifier.
func (r *Record) UserID() string { return r.userID }

// LogIndex returns the index into the original log chunk of the
// winning log entry, or -1 for a record whose final state came only
// from the segment (DeleteExisting via plain Delete clears this).
func (r *Record) LogIndex() int {
	if r.logRecord == nil && r.FinalOperation != DeleteExisting {
		return -1
	}
	return r.logIndex
}

// MetadataToMerge returns the accumulated to-merge set. Safe to call
// without hydrating.
func (r *Record) MetadataToMerge() types.Metadata { return r.metadataToMerge }

// MetadataToDelete returns the accumulated to-delete key set. Safe to
// call without hydrating.
func (r *Record) MetadataToDelete() map[string]struct{} { return r.metadataToDelete }

// Hydrated is the fully resolved view of a materialized record,
// returned by Hydrate. Document/Embedding/Metadata reflect the final
// effective state: for AddNew/UpdateExisting, segment data merged
// underneath the log's to-merge/to-delete sets; for OverwriteExisting
// and AddNew-from-overwrite, the segment's prior metadata is ignored
// entirely; for DeleteExisting, every field is nil/empty.
type Hydrated struct {
	OffsetID       types.PointID
	FinalOperation EffectiveOperation
	Document       *string
	Embedding      types.Embedding
	Metadata       types.Metadata
}

// Hydrate resolves segment data (only when genuinely needed) and
// returns the fully merged view of the record.
func (r *Record) Hydrate(reader SegmentReader) (Hydrated, error) {
	if r.hydrated {
		return Hydrated{
			OffsetID:       r.OffsetID,
			FinalOperation: r.FinalOperation,
			Document:       r.hydratedDocument,
			Embedding:      r.hydratedEmbedding,
			Metadata:       r.hydratedMetadata,
		}, r.hydrateErrOccurred
	}
	r.hydrated = true

	if r.FinalOperation == DeleteExisting {
		return Hydrated{OffsetID: r.OffsetID, FinalOperation: r.FinalOperation}, nil
	}

	var baseDoc *string
	var baseEmb types.Embedding
	var baseMeta types.Metadata
	if r.FinalOperation == UpdateExisting && r.offsetIDInSegment && reader != nil {
		doc, emb, meta, err := reader.Hydrate(r.OffsetID)
		if err != nil {
			r.hydrateErrOccurred = err
			return Hydrated{}, err
		}
		baseDoc, baseEmb, baseMeta = doc, emb, meta
	}

	doc := baseDoc
	if r.logRecord != nil && r.logRecord.Document != nil {
		doc = r.logRecord.Document
	}
	emb := baseEmb
	if r.logRecord != nil && r.logRecord.Embedding != nil {
		emb = r.logRecord.Embedding
	}

	merged := baseMeta.Clone()
	if merged == nil {
		merged = types.Metadata{}
	}
	for k := range r.metadataToDelete {
		delete(merged, k)
	}
	for k, v := range r.metadataToMerge {
		merged[k] = v
	}

	out := Hydrated{
		OffsetID:       r.OffsetID,
		FinalOperation: r.FinalOperation,
		Document:       doc,
		Embedding:      emb,
		Metadata:       merged,
	}
	r.hydratedDocument, r.hydratedEmbedding, r.hydratedMetadata = doc, emb, merged
	return out, nil
}

// applyMetadataUpdate folds one log record's metadata patch into a
// record's to-merge/to-delete sets, keeping the two disjoint at every
// step.
func applyMetadataUpdate(rec *Record, update types.UpdateMetadata) {
	if rec.metadataToMerge == nil {
		rec.metadataToMerge = types.Metadata{}
	}
	if rec.metadataToDelete == nil {
		rec.metadataToDelete = map[string]struct{}{}
	}
	for k, v := range update {
		if v == nil {
			delete(rec.metadataToMerge, k)
			rec.metadataToDelete[k] = struct{}{}
		} else {
			delete(rec.metadataToDelete, k)
			rec.metadataToMerge[k] = *v
		}
	}
}

// resetMetadata clears to-merge/to-delete, used when a record becomes
// AddNew/OverwriteExisting and the segment's prior metadata must stop
// contributing to the merged view entirely.
func resetMetadata(rec *Record) {
	rec.metadataToMerge = types.Metadata{}
	rec.metadataToDelete = map[string]struct{}{}
}

// Materialize folds logs (in order) against the optional segment
// snapshot reader into a sequence of Records sorted by offset ID.
// nextOffsetID, if non-nil, overrides the segment-derived starting
// counter — the shared-counter case the source supports for batched
// ingestion across chunks.
func Materialize(reader SegmentReader, logs []LogRecord, nextOffsetID *types.PointID) ([]*Record, error) {
	var counter types.PointID
	if nextOffsetID != nil {
		counter = *nextOffsetID
	} else if reader != nil {
		max, err := reader.MaxOffsetID()
		if err != nil {
			return nil, fmt.Errorf("materializer: max offset id: %w", err)
		}
		counter = max + 1
	} else {
		counter = 1
	}

	existing := make(map[string]*Record)
	fresh := make(map[string]*Record)

	// First pass: seed every log-referenced user ID that already exists
	// in the segment with an Initial record bound to its offset ID.
	if reader != nil {
		for i := range logs {
			uid := logs[i].UserID
			if _, seen := existing[uid]; seen {
				continue
			}
			offsetID, ok, err := reader.OffsetIDForUserID(uid)
			if err != nil {
				return nil, fmt.Errorf("materializer: resolve %q: %w", uid, err)
			}
			if ok {
				existing[uid] = &Record{OffsetID: offsetID, FinalOperation: Initial, offsetIDInSegment: true, userID: uid}
			}
		}
	}

	for i := range logs {
		lr := &logs[i]
		uid := lr.UserID

		switch lr.Operation {
		case Add, Upsert:
			if rec, ok := existing[uid]; ok {
				switch rec.FinalOperation {
				case DeleteExisting:
					rec.FinalOperation = OverwriteExisting
					resetMetadata(rec)
					rec.logIndex = i
					rec.logRecord = lr
					applyMetadataUpdate(rec, lr.Metadata)
				case AddNew:
					return nil, fmt.Errorf("materializer: invariant violation: existing record in AddNew state")
				case Initial, OverwriteExisting, UpdateExisting:
					if lr.Operation == Upsert {
						if lr.Embedding == nil && rec.FinalOperation == Initial {
							return nil, ErrEmbeddingMaterialization
						}
						rec.FinalOperation = UpdateExisting
						rec.logIndex = i
						rec.logRecord = lr
						applyMetadataUpdate(rec, lr.Metadata)
					}
					// A bare Add here is invalid (record already exists
					// and was not deleted in-log): silently folded away.
				}
				continue
			}
			if rec, ok := fresh[uid]; ok {
				// Second Add of a still-fresh id is folded away; an
				// Upsert on a still-fresh id behaves like an update of
				// the pending AddNew.
				if lr.Operation == Upsert {
					rec.logIndex = i
					rec.logRecord = lr
					applyMetadataUpdate(rec, lr.Metadata)
				}
				continue
			}
			if lr.Embedding == nil {
				return nil, ErrEmbeddingMaterialization
			}
			rec := &Record{OffsetID: counter, FinalOperation: AddNew, logIndex: i, logRecord: lr, userID: uid}
			resetMetadata(rec)
			applyMetadataUpdate(rec, lr.Metadata)
			counter++
			fresh[uid] = rec

		case Delete:
			if rec, ok := existing[uid]; ok {
				rec.FinalOperation = DeleteExisting
				rec.logIndex = i
				rec.logRecord = nil
				resetMetadata(rec)
				continue
			}
			// Delete of a record only ever seen fresh in this log chunk:
			// drop it entirely.
			delete(fresh, uid)

		case Update:
			if rec, ok := existing[uid]; ok {
				if rec.FinalOperation == DeleteExisting {
					panic(fmt.Sprintf("materializer: invariant violation: updating a deleted record %q", uid))
				}
				rec.FinalOperation = UpdateExisting
				rec.logIndex = i
				rec.logRecord = lr
				applyMetadataUpdate(rec, lr.Metadata)
				continue
			}
			if rec, ok := fresh[uid]; ok {
				rec.logIndex = i
				rec.logRecord = lr
				applyMetadataUpdate(rec, lr.Metadata)
				continue
			}
			// Update of a user_id never seen before: ignored.
		}
	}

	out := make([]*Record, 0, len(existing)+len(fresh))
	for _, rec := range existing {
		if rec.FinalOperation == Initial {
			continue // untouched by the log: nothing effective to emit
		}
		out = append(out, rec)
	}
	for _, rec := range fresh {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OffsetID < out[j].OffsetID })
	return out, nil
}
