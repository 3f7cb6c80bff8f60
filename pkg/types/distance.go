package types

import "math"

// DistanceFunc computes the distance between two equal-length vectors
// under a configured space. Lower is closer, except inner-product
// distances which are negated similarities and may be negative: the
// writer's RNG formulas explicitly handle that sign symmetrically.
type DistanceFunc func(a, b Embedding) float32

// ForSpace resolves the distance function for a configured space.
func ForSpace(space Space) DistanceFunc {
	switch space {
	case SpaceL2:
		return L2Distance
	case SpaceInnerProduct:
		return InnerProductDistance
	case SpaceCosine:
		fallthrough
	default:
		return CosineDistance
	}
}

// Normalize returns a unit-length copy of v. A zero vector is returned
// unchanged rather than producing NaNs.
func Normalize(v Embedding) Embedding {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v.Clone()
	}
	norm := float32(math.Sqrt(sumSq))
	out := make(Embedding, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// CosineDistance computes 1 - cosine_similarity for already-normalized
// vectors. Callers that pass normalized embeddings get exact cosine
// distance; this mirrors the writer's practice of normalizing once at
// insertion time rather than on every comparison.
func CosineDistance(a, b Embedding) float32 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(1 - dot)
}

// L2Distance computes squared Euclidean distance.
func L2Distance(a, b Embedding) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(sum)
}

// InnerProductDistance computes the negated dot product. It may be
// negative, which is why the RNG epsilon and acceptance tests carry an
// explicit branch for d < 0.
func InnerProductDistance(a, b Embedding) float32 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(-dot)
}
