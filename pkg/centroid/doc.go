/*
Package centroid is the reference implementation of the centroid-graph
collaborator the SPANN writer treats as external: a navigable index over
head centroids supporting approximate (here, exact brute-force) nearest-
neighbor query, incremental add/delete, capacity growth, and commit.

	┌────────────────────── CENTROID ───────────────────────┐
	│                                                         │
	│  Graph interface                                        │
	│    Query / Add / Delete / Resize / Get / GetAllIDs       │
	│    LenWithDeleted / Len / Capacity / Commit              │
	│                                                         │
	│  ┌───────────────────────────────────────────────┐     │
	│  │              MemoryGraph                        │     │
	│  │  - map[HeadID]Embedding (live)                  │     │
	│  │  - map[HeadID]struct{}  (tombstoned)             │     │
	│  │  - RWMutex guarding both                        │     │
	│  │  - Commit() writes "live"/"deleted" prefixes     │     │
	│  │    into one blockstore generation               │     │
	│  └───────────────────────────────────────────────┘     │
	└─────────────────────────────────────────────────────────┘

Delete only tombstones. Rebuild drops every tombstone in one step.
pkg/spann's garbage collector does not call Rebuild: its centroid-graph
policies build a fresh graph holding only the live heads and swap it in
at commit.
*/
package centroid
