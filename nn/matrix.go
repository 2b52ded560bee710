package nn

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

func dot(m, n mat.Matrix) *mat.Dense {
	r, _ := m.Dims()
	_, c := n.Dims()
	o := mat.NewDense(r, c, nil)
	o.Mul(m, n)
	return o
}

func multiply(m, n mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.MulElem(m, n)
	return o
}

func subtract(m, n mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Sub(m, n)
	return o
}

// addBias adds b to every row of m in place.
func addBias(m *mat.Dense, b *mat.VecDense) {
	r, _ := m.Dims()
	bias := b.RawVector().Data
	for i := 0; i < r; i++ {
		floats.Add(m.RawRowView(i), bias)
	}
}

// columnSums returns the sum of every column of m.
func columnSums(m *mat.Dense) *mat.VecDense {
	r, c := m.Dims()
	sums := make([]float64, c)
	for i := 0; i < r; i++ {
		floats.Add(sums, m.RawRowView(i))
	}
	return mat.NewVecDense(c, sums)
}

// asDense returns m itself when it is already dense, otherwise a copy.
func asDense(m mat.Matrix) *mat.Dense {
	if d, ok := m.(*mat.Dense); ok {
		return d
	}
	return mat.DenseCopyOf(m)
}

// gatherRows copies the given rows of m into a new matrix.
func gatherRows(m *mat.Dense, rows []int) *mat.Dense {
	_, c := m.Dims()
	o := mat.NewDense(len(rows), c, nil)
	for k, i := range rows {
		copy(o.RawRowView(k), m.RawRowView(i))
	}
	return o
}

// NormalMatrix draws an r×c matrix from N(0, variance).
func NormalMatrix(r, c int, variance float64, src rand.Source) *mat.Dense {
	dist := distuv.Normal{
		Mu:    0,
		Sigma: math.Sqrt(variance),
		Src:   src,
	}
	data := make([]float64, r*c)
	for i := range data {
		data[i] = dist.Rand()
	}
	return mat.NewDense(r, c, data)
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// softmaxRow replaces row with its softmax, shifted by the row maximum.
func softmaxRow(row []float64) {
	maxLogit := floats.Max(row)
	expSum := 0.0
	for i, v := range row {
		e := math.Exp(v - maxLogit)
		row[i] = e
		expSum += e
	}
	floats.Scale(1/expSum, row)
}
