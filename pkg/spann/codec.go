package spann

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/chroma-core/spannsegment/pkg/types"
)

// Blockfile names addressed through pkg/blockstore, one per spec.md §6
// persisted-state entry.
const (
	postingListBlockfileName = "pl"
	versionsBlockfileName    = "versions"
	maxHeadBlockfileName     = "maxhead"
)

// headLengthPrefix is the versions-blockfile namespace storing
// HeadID -> Length, alongside the empty-prefix PointID -> Version
// entries, per spec.md §6.
const headLengthPrefix = "head"

// maxHeadOffsetIDKey is the well-known key persisting the next-HeadID
// counter.
var maxHeadOffsetIDKey = []byte("max_head_offset_id")

func headKeyBytes(id types.HeadID) []byte {
	k := make([]byte, 4)
	binary.BigEndian.PutUint32(k, uint32(id))
	return k
}

func pointKeyBytes(id types.PointID) []byte {
	k := make([]byte, 4)
	binary.BigEndian.PutUint32(k, uint32(id))
	return k
}

func decodeHeadKey(k []byte) (types.HeadID, error) {
	if len(k) != 4 {
		return 0, fmt.Errorf("spann: malformed head key (len %d)", len(k))
	}
	return types.HeadID(binary.BigEndian.Uint32(k)), nil
}

func decodePointKey(k []byte) (types.PointID, error) {
	if len(k) != 4 {
		return 0, fmt.Errorf("spann: malformed point key (len %d)", len(k))
	}
	return types.PointID(binary.BigEndian.Uint32(k)), nil
}

// encodePostingList flattens (ids, versions, embeddings) into a single
// value: a u32 count, a u32 dim, then the three parallel arrays in
// order, matching the persisted layout in spec.md §6.
func encodePostingList(ids []types.PointID, versions []types.Version, embeddings []types.Embedding) []byte {
	n := len(ids)
	dim := 0
	if n > 0 {
		dim = embeddings[0].Dim()
	}
	out := make([]byte, 8+n*4+n*4+n*dim*4)
	binary.BigEndian.PutUint32(out[0:4], uint32(n))
	binary.BigEndian.PutUint32(out[4:8], uint32(dim))
	off := 8
	for i := 0; i < n; i++ {
		binary.BigEndian.PutUint32(out[off:], uint32(ids[i]))
		off += 4
	}
	for i := 0; i < n; i++ {
		binary.BigEndian.PutUint32(out[off:], uint32(versions[i]))
		off += 4
	}
	for i := 0; i < n; i++ {
		for _, f := range embeddings[i] {
			binary.BigEndian.PutUint32(out[off:], math.Float32bits(f))
			off += 4
		}
	}
	return out
}

// decodePostingList reverses encodePostingList.
func decodePostingList(raw []byte) ([]types.PointID, []types.Version, []types.Embedding, error) {
	if len(raw) < 8 {
		return nil, nil, nil, fmt.Errorf("spann: malformed posting list (len %d)", len(raw))
	}
	n := int(binary.BigEndian.Uint32(raw[0:4]))
	dim := int(binary.BigEndian.Uint32(raw[4:8]))
	want := 8 + n*4 + n*4 + n*dim*4
	if len(raw) != want {
		return nil, nil, nil, fmt.Errorf("spann: malformed posting list: want %d bytes, got %d", want, len(raw))
	}
	off := 8
	ids := make([]types.PointID, n)
	for i := 0; i < n; i++ {
		ids[i] = types.PointID(binary.BigEndian.Uint32(raw[off:]))
		off += 4
	}
	versions := make([]types.Version, n)
	for i := 0; i < n; i++ {
		versions[i] = types.Version(binary.BigEndian.Uint32(raw[off:]))
		off += 4
	}
	embeddings := make([]types.Embedding, n)
	for i := 0; i < n; i++ {
		v := make(types.Embedding, dim)
		for d := 0; d < dim; d++ {
			v[d] = math.Float32frombits(binary.BigEndian.Uint32(raw[off:]))
			off += 4
		}
		embeddings[i] = v
	}
	return ids, versions, embeddings, nil
}

func encodeUint32(v uint32) []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, v)
	return out
}

func decodeUint32(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("spann: malformed u32 (len %d)", len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}
