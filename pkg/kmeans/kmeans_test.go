package kmeans

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chroma-core/spannsegment/pkg/types"
)

func twoBlobs() []types.Embedding {
	embs := make([]types.Embedding, 0, 20)
	for i := 0; i < 10; i++ {
		embs = append(embs, types.Embedding{float32(i) * 0.01, float32(i) * 0.01})
	}
	for i := 0; i < 10; i++ {
		embs = append(embs, types.Embedding{100 + float32(i)*0.01, 100 + float32(i)*0.01})
	}
	return embs
}

func allIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

func TestClusterSeparatesTwoBlobs(t *testing.T) {
	embs := twoBlobs()
	out, err := Cluster(Input{
		Indices:    allIndices(len(embs)),
		Embeddings: embs,
		K:          2,
		Distance:   types.L2Distance,
	}, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	require.NoError(t, Validate(out))
	assert.Equal(t, 2, out.NumClusters)

	firstLabel := out.Labels[0]
	for i := 0; i < 10; i++ {
		assert.Equal(t, firstLabel, out.Labels[i], "first blob should be one cluster")
	}
	secondLabel := out.Labels[10]
	assert.NotEqual(t, firstLabel, secondLabel)
	for i := 10; i < 20; i++ {
		assert.Equal(t, secondLabel, out.Labels[i], "second blob should be one cluster")
	}
}

func TestClusterRejectsEmptyInput(t *testing.T) {
	_, err := Cluster(Input{Indices: nil, K: 2, Distance: types.L2Distance}, nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestClusterRejectsBadK(t *testing.T) {
	embs := []types.Embedding{{0, 0}, {1, 1}}
	_, err := Cluster(Input{Indices: []int{0, 1}, Embeddings: embs, K: 0, Distance: types.L2Distance}, nil)
	assert.ErrorIs(t, err, ErrK)

	_, err = Cluster(Input{Indices: []int{0, 1}, Embeddings: embs, K: 3, Distance: types.L2Distance}, nil)
	assert.ErrorIs(t, err, ErrK)
}

func TestClusterIsDeterministicForFixedSeed(t *testing.T) {
	embs := twoBlobs()
	run := func() Output {
		out, err := Cluster(Input{
			Indices:    allIndices(len(embs)),
			Embeddings: embs,
			K:          2,
			Distance:   types.L2Distance,
		}, rand.New(rand.NewSource(7)))
		require.NoError(t, err)
		return out
	}
	a, b := run(), run()
	assert.Equal(t, a.Labels, b.Labels)
	assert.Equal(t, a.Counts, b.Counts)
}

func TestValidateDetectsZeroCountCluster(t *testing.T) {
	err := Validate(Output{Counts: []int{3, 0}})
	assert.ErrorIs(t, err, ErrZeroPointsInCluster)
}

func TestClusterWithSampleSizeStillCoversAllIndices(t *testing.T) {
	embs := twoBlobs()
	out, err := Cluster(Input{
		Indices:    allIndices(len(embs)),
		Embeddings: embs,
		K:          2,
		SampleSize: 8,
		Distance:   types.L2Distance,
	}, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	assert.Len(t, out.Labels, len(embs))
	total := 0
	for _, c := range out.Counts {
		total += c
	}
	assert.Equal(t, len(embs), total)
}
