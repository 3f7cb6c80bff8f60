/*
Package spann implements the write path of a SPANN-style two-level
approximate nearest neighbor index: a centroid graph of "heads" over
posting lists of points, maintained under the Nearest Partition
Assignment invariant and kept queryable via Relative Neighborhood Graph
pruning during multi-assignment.

# Architecture

	┌─────────────────────────── Writer ────────────────────────────┐
	│                                                                 │
	│  Add/Update/Delete ──> VersionMap, embeddingCache               │
	│         │                                                       │
	│         ▼                                                       │
	│  addToPostingsList ──> rngQuery (centroid.Graph) ──> appendToHead│
	│         │                                                       │
	│         ▼                                                       │
	│  scrubPostingList ──> splitPostingList / tryMergePostingList     │
	│         │                        │                              │
	│         │                        ▼                              │
	│         │              collectAndReassign / reassignMergedPoints │
	│         ▼                                                       │
	│  GarbageCollect ──> gcPostingLists, rebuildCentroidGraph          │
	│         │                                                       │
	│         ▼                                                       │
	│  Commit ──> blockstore.Provider (posting lists, versions,       │
	│             max-head-id) + centroid.Graph.Commit                │
	└──────────────────────────────────────────────────────────────┘

Add, Update, and Delete take the read side of the writer's quiesce
gate; GarbageCollect and Commit take the write side, so a GC or commit
cycle never races a mutation. All mutation is staged in memory
(headStore, VersionMap, embeddingCache); nothing reaches the backing
store until Commit, which also renders the Writer unusable.

Errors that indicate an invariant violation — a posting-list entry
carrying version 0, an Update of an unknown or already-deleted point —
panic rather than return an error, since they can only arise from a
caller bug. Everything else, including every blockstore and centroid
graph failure, is wrapped in one of the sentinel errors in errors.go
and returned.
*/
package spann
