package spann

import (
	"context"
	"errors"
	"fmt"

	"github.com/chroma-core/spannsegment/pkg/blockstore"
	"github.com/chroma-core/spannsegment/pkg/config"
	"github.com/chroma-core/spannsegment/pkg/types"
)

// Open constructs a Writer the way New does and then loads the most
// recently committed state — the next-head-id counter, every live
// head's centroid and authoritative length (but not its posting list,
// which stays lazily reconciled on first touch), and the full version
// map — so the writer is immediately consistent with the backing store.
// Use Open to reopen an existing segment; use New directly (with
// startingNextHeadID 0) only when deps.Graph is known to be empty.
func Open(ctx context.Context, deps Dependencies, cfg config.Config) (*Writer, error) {
	nextHeadID, err := loadMaxHeadID(deps.Provider)
	if err != nil {
		return nil, err
	}
	w, err := New(ctx, deps, cfg, nextHeadID)
	if err != nil {
		return nil, err
	}
	if err := w.loadCommittedState(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// loadMaxHeadID reads the persisted next-HeadID counter, returning 0 for
// a segment that has never been committed.
func loadMaxHeadID(provider *blockstore.Provider) (uint32, error) {
	reader, err := provider.OpenReader(maxHeadBlockfileName, "")
	if err != nil {
		if errors.Is(err, blockstore.ErrNoSuchName) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrMaxHeadIDBlockfileGetError, err)
	}
	raw, found, err := reader.Get("", maxHeadOffsetIDKey)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMaxHeadIDBlockfileGetError, err)
	}
	if !found {
		return 0, fmt.Errorf("%w", ErrMaxHeadIDNotFound)
	}
	v, err := decodeUint32(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMaxHeadIDBlockfileGetError, err)
	}
	return v, nil
}

// loadCommittedState populates the writer's version map and head stubs
// from the backing store. A segment with no prior commit leaves both
// empty, which is the correct starting state.
func (w *Writer) loadCommittedState(ctx context.Context) error {
	vReader, err := w.deps.Provider.OpenReader(versionsBlockfileName, "")
	if err != nil {
		if errors.Is(err, blockstore.ErrNoSuchName) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrVersionsMapReaderCreateError, err)
	}

	pointRows, err := vReader.GetRange("", nil, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVersionsMapDataLoadError, err)
	}
	for _, row := range pointRows {
		id, err := decodePointKey(row.Key)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrVersionsMapDataLoadError, err)
		}
		v, err := decodeUint32(row.Value)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrVersionsMapDataLoadError, err)
		}
		w.versions.Set(id, types.Version(v))
	}

	lengthRows, err := vReader.GetRange(headLengthPrefix, nil, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVersionsMapDataLoadError, err)
	}
	lengths := make(map[types.HeadID]uint32, len(lengthRows))
	for _, row := range lengthRows {
		id, err := decodeHeadKey(row.Key)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrVersionsMapDataLoadError, err)
		}
		n, err := decodeUint32(row.Value)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrVersionsMapDataLoadError, err)
		}
		lengths[id] = n
	}

	live, _, err := w.deps.Graph.GetAllIDs(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHnswIndexSearchError, err)
	}
	for _, id := range live {
		vec, ok, err := w.deps.Graph.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrHnswIndexSearchError, err)
		}
		if !ok {
			continue
		}
		w.heads.Insert(id, &types.HeadData{
			Centroid: vec,
			Length:   lengths[id],
		})
	}
	return nil
}
