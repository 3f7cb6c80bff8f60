/*
Package materializer folds an ordered chunk of user-visible log
operations (add/update/upsert/delete), plus an optional record-segment
snapshot, into a deduplicated set of effective per-offset-ID operations.

	┌────────────────────── MATERIALIZER ──────────────────────┐
	│                                                            │
	│  LogRecord{UserID, Operation, Embedding, Document, ...}    │
	│              │                                             │
	│              ▼                                             │
	│     Materialize(reader, logs, nextOffsetID)                │
	│              │                                             │
	│    ┌─────────┴──────────┐                                 │
	│    │  existing[userID]   │  seeded from SegmentReader      │
	│    │  fresh[userID]      │  new to this chunk               │
	│    └─────────┬──────────┘                                 │
	│              ▼                                             │
	│   []Record{OffsetID, FinalOperation, to-merge, to-delete}   │
	│              │                                             │
	│              ▼  (lazy, only on first call)                │
	│        Record.Hydrate(reader) -> Hydrated                  │
	└────────────────────────────────────────────────────────────┘

Every Record keeps its to-merge/to-delete metadata sets disjoint at
every fold step; Hydrate is the only point that touches the segment
reader for document/embedding/metadata lookups, so callers that only
need an offset ID and operation kind never pay for a segment read.
*/
package materializer
