/*
Package blockstore provides the append-only, generation-addressed
key/value store backing the SPANN writer's posting lists, version map,
and max-head counter.

# Architecture

	┌──────────────────── BLOCKSTORE ──────────────────────┐
	│                                                        │
	│  ┌──────────────────────────────────────────┐        │
	│  │              Provider                      │        │
	│  │  - Backing: single bbolt.DB file           │        │
	│  │  - One bucket per (prefix, generation)     │        │
	│  │  - meta bucket: prefix -> current gen UUID │        │
	│  └──────────────────┬─────────────────────────┘        │
	│                     │                                   │
	│  ┌──────────────────▼─────────────────────────┐        │
	│  │     Writer (one per prefix per commit)      │        │
	│  │  - Set/Delete buffer in memory              │        │
	│  │  - Commit(): one bbolt.Tx, new generation    │        │
	│  │  - optional fork_from_id seeds from a prior  │        │
	│  │    generation before mutations are applied   │        │
	│  └──────────────────┬─────────────────────────┘        │
	│                     │                                   │
	│  ┌──────────────────▼─────────────────────────┐        │
	│  │              Reader                          │        │
	│  │  - bound to one generation (latest or pinned)│        │
	│  │  - Get / GetRange                            │        │
	│  └──────────────────────────────────────────────┘        │
	│                                                        │
	│  ┌──────────────────────────────────────────────┐      │
	│  │           CmekConfig (optional)                │      │
	│  │  - AES-256-GCM envelope around every value     │      │
	│  └──────────────────────────────────────────────┘      │
	└────────────────────────────────────────────────────────┘

A writer's mutations are invisible to any reader until Commit succeeds;
Commit atomically swaps the prefix's "current generation" pointer inside
the same bbolt transaction that writes the data, so a crash between the
two never happens. Since bbolt commits are fsync'd transactions, the
versions blockfile's two prefixes ("" for points, "head" for per-head
length) can be committed inside the same logical commit and observed
consistently by any reader that opens both afterward.
*/
package blockstore
