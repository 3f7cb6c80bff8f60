package blockstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestWriterCommitThenReaderSeesData(t *testing.T) {
	ctx := context.Background()
	p := openTestProvider(t)

	w, err := p.CreateWriter(ctx, WriterOptions{Name: "versions"})
	require.NoError(t, err)
	require.NoError(t, w.Set("", []byte{1}, []byte{9}))
	require.NoError(t, w.Set("head", []byte{1}, []byte{5}))

	flusher, err := w.Commit(ctx)
	require.NoError(t, err)
	files, err := flusher.Flush(ctx)
	require.NoError(t, err)
	assert.Len(t, files["versions"], 1)

	r, err := p.OpenReader("versions", "")
	require.NoError(t, err)

	v, ok, err := r.Get("", []byte{1})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte{9}, v)

	l, ok, err := r.Get("head", []byte{1})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte{5}, l)

	_, ok, err = r.Get("", []byte{2})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWriterMutationsInvisibleBeforeCommit(t *testing.T) {
	ctx := context.Background()
	p := openTestProvider(t)

	w, err := p.CreateWriter(ctx, WriterOptions{Name: "pl"})
	require.NoError(t, err)
	require.NoError(t, w.Set("", []byte{1}, []byte("payload")))

	_, err = p.OpenReader("pl", "")
	assert.ErrorIs(t, err, ErrNoSuchName)

	_, err = w.Commit(ctx)
	require.NoError(t, err)

	r, err := p.OpenReader("pl", "")
	require.NoError(t, err)
	v, ok, err := r.Get("", []byte{1})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("payload"), v)
}

func TestWriterDoubleCommitFails(t *testing.T) {
	ctx := context.Background()
	p := openTestProvider(t)
	w, err := p.CreateWriter(ctx, WriterOptions{Name: "maxhead"})
	require.NoError(t, err)
	_, err = w.Commit(ctx)
	require.NoError(t, err)

	_, err = w.Commit(ctx)
	assert.ErrorIs(t, err, ErrWriterClosed)
	assert.ErrorIs(t, w.Set("", []byte{1}, []byte{2}), ErrWriterClosed)
}

func TestForkFromIDSeedsNewGeneration(t *testing.T) {
	ctx := context.Background()
	p := openTestProvider(t)

	w1, err := p.CreateWriter(ctx, WriterOptions{Name: "pl"})
	require.NoError(t, err)
	require.NoError(t, w1.Set("", []byte{1}, []byte("a")))
	flush1, err := w1.Commit(ctx)
	require.NoError(t, err)

	w2, err := p.CreateWriter(ctx, WriterOptions{Name: "pl", ForkFromID: flush1.GenerationID()})
	require.NoError(t, err)
	require.NoError(t, w2.Set("", []byte{2}, []byte("b")))
	_, err = w2.Commit(ctx)
	require.NoError(t, err)

	r, err := p.OpenReader("pl", "")
	require.NoError(t, err)
	v1, ok, err := r.Get("", []byte{1})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("a"), v1)
	v2, ok, err := r.Get("", []byte{2})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("b"), v2)
}

func TestGetRangeRespectsPrefixAndBounds(t *testing.T) {
	ctx := context.Background()
	p := openTestProvider(t)
	w, err := p.CreateWriter(ctx, WriterOptions{Name: "versions"})
	require.NoError(t, err)
	for i := byte(1); i <= 5; i++ {
		require.NoError(t, w.Set("", []byte{i}, []byte{i * 10}))
	}
	require.NoError(t, w.Set("head", []byte{1}, []byte{99}))
	_, err = w.Commit(ctx)
	require.NoError(t, err)

	r, err := p.OpenReader("versions", "")
	require.NoError(t, err)

	all, err := r.GetRange("", []byte{0}, nil)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	bounded, err := r.GetRange("", []byte{2}, []byte{4})
	require.NoError(t, err)
	assert.Len(t, bounded, 2)
	assert.Equal(t, byte(2), bounded[0].Key[0])
	assert.Equal(t, byte(3), bounded[1].Key[0])
}

func TestCmekRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := openTestProvider(t)
	cmek, err := DeriveCmekConfig("super-secret-tenant-key")
	require.NoError(t, err)

	w, err := p.CreateWriter(ctx, WriterOptions{Name: "pl", Cmek: cmek})
	require.NoError(t, err)
	require.NoError(t, w.Set("", []byte{1}, []byte("plaintext-vector-blob")))
	_, err = w.Commit(ctx)
	require.NoError(t, err)

	r, err := p.OpenReader("pl", "")
	require.NoError(t, err)
	r.WithCmek(cmek)
	v, ok, err := r.Get("", []byte{1})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("plaintext-vector-blob"), v)
}

func TestDeriveCmekConfigRejectsEmptyPassphrase(t *testing.T) {
	_, err := DeriveCmekConfig("")
	assert.Error(t, err)
}
