package vector

import "fmt"

// InnerProduct computes the dot-product similarity between two float32
// vectors. Higher is more similar. Returns an error if dimensions don't
// match; a zero-length pair yields 0.
func InnerProduct(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d vs %d", len(a), len(b))
	}

	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot), nil
}
