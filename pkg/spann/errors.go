package spann

import "errors"

// Sentinel errors covering spec.md §6's writer error-surface enumeration.
// Fatal/propagated cases wrap one of these with fmt.Errorf("%w: ...", ...);
// invariant violations panic instead (see doc.go).
var (
	ErrHnswIndexForkError   = errors.New("spann: centroid graph fork failed")
	ErrHnswIndexCreateError = errors.New("spann: centroid graph create failed")
	ErrHnswIndexSearchError = errors.New("spann: centroid graph query failed")
	ErrHnswIndexMutateError = errors.New("spann: centroid graph mutation failed")
	ErrHnswIndexResizeError = errors.New("spann: centroid graph resize failed")
	ErrHnswIndexCommitError = errors.New("spann: centroid graph commit failed")

	ErrPostingListGetError         = errors.New("spann: posting list read failed")
	ErrPostingListSetError         = errors.New("spann: posting list write failed")
	ErrPostingsListWriterCreateError = errors.New("spann: posting list writer create failed")
	ErrPostingListCommitError      = errors.New("spann: posting list commit failed")

	ErrVersionsMapReaderCreateError = errors.New("spann: versions map reader create failed")
	ErrVersionsMapDataLoadError     = errors.New("spann: versions map data load failed")
	ErrVersionsMapWriterCreateError = errors.New("spann: versions map writer create failed")
	ErrVersionsMapSetError          = errors.New("spann: versions map write failed")
	ErrVersionsMapCommitError       = errors.New("spann: versions map commit failed")

	ErrMaxHeadIDBlockfileGetError   = errors.New("spann: max head id read failed")
	ErrMaxHeadIDNotFound            = errors.New("spann: max head id not found")
	ErrMaxHeadIDWriterCreateError   = errors.New("spann: max head id writer create failed")
	ErrMaxHeadIDSetError            = errors.New("spann: max head id write failed")
	ErrMaxHeadIDCommitError         = errors.New("spann: max head id commit failed")

	ErrKMeansClusteringError = errors.New("spann: k-means clustering failed")
	ErrHeadNotFound          = errors.New("spann: head not found")
	ErrVersionNotFound       = errors.New("spann: version not found")

	// ErrWriterClosed is returned by any Writer method called after Commit.
	ErrWriterClosed = errors.New("spann: writer already committed")
)
