/*
Package kmeans implements the split path's clustering step as a pure
function: given indices into a caller-owned embedding slice, a k, a
sample size, a distance function, and a regularization lambda, it
returns per-index labels, resulting centers, and per-cluster counts.

It has no notion of heads, posting lists, or staged writer state —
pkg/spann is responsible for shuffling the indices it passes in and for
restoring prior head state if clustering fails or yields a degenerate
split.
*/
package kmeans
