package materializer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chroma-core/spannsegment/pkg/types"
)

type fakeSegment struct {
	byUserID map[string]types.PointID
	records  map[types.PointID]fakeRecord
	maxID    types.PointID
}

type fakeRecord struct {
	document  *string
	embedding types.Embedding
	metadata  types.Metadata
}

func newFakeSegment() *fakeSegment {
	return &fakeSegment{byUserID: map[string]types.PointID{}, records: map[types.PointID]fakeRecord{}}
}

func (f *fakeSegment) seed(userID string, offsetID types.PointID, rec fakeRecord) {
	f.byUserID[userID] = offsetID
	f.records[offsetID] = rec
	if offsetID > f.maxID {
		f.maxID = offsetID
	}
}

func (f *fakeSegment) OffsetIDForUserID(userID string) (types.PointID, bool, error) {
	id, ok := f.byUserID[userID]
	return id, ok, nil
}

func (f *fakeSegment) MaxOffsetID() (types.PointID, error) {
	return f.maxID, nil
}

func (f *fakeSegment) Hydrate(offsetID types.PointID) (*string, types.Embedding, types.Metadata, error) {
	r := f.records[offsetID]
	return r.document, r.embedding, r.metadata, nil
}

func strp(s string) *string { return &s }

func TestMaterializeAddFreshRecord(t *testing.T) {
	logs := []LogRecord{
		{UserID: "a", Operation: Add, Embedding: types.Embedding{1, 2}},
	}
	out, err := Materialize(nil, logs, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, AddNew, out[0].FinalOperation)
	assert.Equal(t, types.PointID(1), out[0].OffsetID)
}

func TestMaterializeAddOnExistingIsIgnored(t *testing.T) {
	seg := newFakeSegment()
	seg.seed("a", 5, fakeRecord{embedding: types.Embedding{1, 1}})
	logs := []LogRecord{
		{UserID: "a", Operation: Add, Embedding: types.Embedding{9, 9}},
	}
	out, err := Materialize(seg, logs, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestMaterializeAddAfterDeleteBecomesOverwrite(t *testing.T) {
	seg := newFakeSegment()
	seg.seed("a", 5, fakeRecord{embedding: types.Embedding{1, 1}})
	logs := []LogRecord{
		{UserID: "a", Operation: Delete},
		{UserID: "a", Operation: Add, Embedding: types.Embedding{9, 9}},
	}
	out, err := Materialize(seg, logs, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, OverwriteExisting, out[0].FinalOperation)
	assert.Equal(t, types.PointID(5), out[0].OffsetID)

	h, err := out[0].Hydrate(seg)
	require.NoError(t, err)
	assert.Equal(t, types.Embedding{9, 9}, h.Embedding)
}

func TestMaterializeDeleteOfFreshRecordDropsIt(t *testing.T) {
	logs := []LogRecord{
		{UserID: "a", Operation: Add, Embedding: types.Embedding{1, 1}},
		{UserID: "a", Operation: Delete},
	}
	out, err := Materialize(nil, logs, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestMaterializeDeleteOfSegmentRecord(t *testing.T) {
	seg := newFakeSegment()
	seg.seed("a", 5, fakeRecord{embedding: types.Embedding{1, 1}})
	logs := []LogRecord{{UserID: "a", Operation: Delete}}
	out, err := Materialize(seg, logs, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, DeleteExisting, out[0].FinalOperation)

	h, err := out[0].Hydrate(seg)
	require.NoError(t, err)
	assert.Nil(t, h.Embedding)
	assert.Nil(t, h.Document)
}

func TestMaterializeUpdateIgnoredForUnseenRecord(t *testing.T) {
	seg := newFakeSegment()
	seg.seed("a", 5, fakeRecord{embedding: types.Embedding{1, 1}})
	logs := []LogRecord{
		{UserID: "unseen", Operation: Update, Embedding: types.Embedding{1, 1}},
	}
	out, err := Materialize(seg, logs, nil)
	require.NoError(t, err)
	assert.Len(t, out, 0)
}

func TestMaterializeUpdateOfDeletedRecordPanics(t *testing.T) {
	seg := newFakeSegment()
	seg.seed("a", 5, fakeRecord{embedding: types.Embedding{1, 1}})
	logs := []LogRecord{
		{UserID: "a", Operation: Delete},
		{UserID: "a", Operation: Update, Embedding: types.Embedding{2, 2}},
	}
	assert.Panics(t, func() {
		_, _ = Materialize(seg, logs, nil)
	})
}

func TestMaterializeUpdateMergesMetadata(t *testing.T) {
	seg := newFakeSegment()
	seg.seed("a", 5, fakeRecord{
		embedding: types.Embedding{1, 1},
		metadata:  types.Metadata{"hello": types.StringValue("world"), "keep": types.IntValue(1)},
	})

	v := types.StringValue("updated")
	logs := []LogRecord{
		{UserID: "a", Operation: Update, Metadata: types.UpdateMetadata{"hello": &v, "keep": nil}},
	}
	out, err := Materialize(seg, logs, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, UpdateExisting, out[0].FinalOperation)

	h, err := out[0].Hydrate(seg)
	require.NoError(t, err)
	assert.Equal(t, "updated", h.Metadata["hello"].Str)
	_, stillThere := h.Metadata["keep"]
	assert.False(t, stillThere)
}

func TestMaterializeUpsertBehavesAsAddThenUpdate(t *testing.T) {
	v := types.StringValue("v2")
	logs := []LogRecord{
		{UserID: "a", Operation: Upsert, Embedding: types.Embedding{1, 1}, Metadata: types.UpdateMetadata{"k": &v}},
		{UserID: "b", Operation: Upsert, Embedding: types.Embedding{2, 2}},
	}
	out, err := Materialize(nil, logs, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, r := range out {
		assert.Equal(t, AddNew, r.FinalOperation)
	}
}

func TestMaterializeUpsertOverExistingDeletedBecomesOverwrite(t *testing.T) {
	seg := newFakeSegment()
	seg.seed("a", 5, fakeRecord{embedding: types.Embedding{1, 1}})
	logs := []LogRecord{
		{UserID: "a", Operation: Delete},
		{UserID: "a", Operation: Upsert, Embedding: types.Embedding{3, 3}},
	}
	out, err := Materialize(seg, logs, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, OverwriteExisting, out[0].FinalOperation)
}

func TestMaterializeOutputSortedByOffsetID(t *testing.T) {
	seg := newFakeSegment()
	seg.seed("b", 2, fakeRecord{embedding: types.Embedding{1, 1}})
	logs := []LogRecord{
		{UserID: "z", Operation: Add, Embedding: types.Embedding{9, 9}},
		{UserID: "b", Operation: Update, Embedding: types.Embedding{8, 8}},
	}
	out, err := Materialize(seg, logs, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.True(t, out[0].OffsetID < out[1].OffsetID)
}

func TestMaterializeMissingEmbeddingOnAddFails(t *testing.T) {
	logs := []LogRecord{{UserID: "a", Operation: Add}}
	_, err := Materialize(nil, logs, nil)
	assert.ErrorIs(t, err, ErrEmbeddingMaterialization)
}

func TestMaterializeOffsetCounterSeededFromSegment(t *testing.T) {
	seg := newFakeSegment()
	seg.seed("existing", 41, fakeRecord{embedding: types.Embedding{0}})
	logs := []LogRecord{{UserID: "fresh", Operation: Add, Embedding: types.Embedding{1}}}
	out, err := Materialize(seg, logs, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, types.PointID(42), out[0].OffsetID)
}

func TestMaterializeExplicitNextOffsetIDOverridesSegment(t *testing.T) {
	seg := newFakeSegment()
	seg.seed("existing", 41, fakeRecord{embedding: types.Embedding{0}})
	next := types.PointID(100)
	logs := []LogRecord{{UserID: "fresh", Operation: Add, Embedding: types.Embedding{1}}}
	out, err := Materialize(seg, logs, &next)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, types.PointID(100), out[0].OffsetID)
}
