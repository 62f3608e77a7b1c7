package tensor

import (
	"math/rand/v2"
)

// Mat represents a dense row-major matrix of float32 values.
//
// R and C are the number of rows and columns. Stride is the number of
// elements between the starts of two consecutive rows.
//
// Mat does not perform any memory safety beyond the checks performed by Go's
// slice types; out-of-range indices will panic.
type Mat struct {
	R, C   int
	Stride int
	Data   []float32
}

// NewMat allocates a zeroed r x c matrix.
func NewMat(r, c int) Mat {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return Mat{
		R:      r,
		C:      c,
		Stride: c,
		Data:   make([]float32, r*c),
	}
}

// Row returns a view of the i-th row. Modifications to the returned slice
// update the matrix.
func (m *Mat) Row(i int) []float32 {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	start := i * m.Stride
	return m.Data[start : start+m.C]
}

// FillRand fills the matrix with reproducible values in roughly (-scale/2,
// scale/2). The same seed always yields the same matrix.
func FillRand(m *Mat, seed uint64, scale float32) {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	for i := range m.Data {
		m.Data[i] = (rng.Float32() - 0.5) * scale
	}
}
