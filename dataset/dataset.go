package dataset

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// DataSet holds one sample per row. X carries the features followed by a
// constant 1 column; Prob carries the targets (one-hot for classification).
type DataSet struct {
	X    *mat.Dense
	Prob *mat.Dense
}

// New pairs features and labels, appending the constant column to the
// features.
func New(features, labels mat.Matrix) (*DataSet, error) {
	r, c := features.Dims()
	lr, _ := labels.Dims()
	if r != lr {
		return nil, errors.Errorf("%d feature rows but %d label rows", r, lr)
	}
	if r == 0 || c == 0 {
		return nil, errors.New("empty data set")
	}
	x := mat.NewDense(r, c+1, nil)
	x.Slice(0, r, 0, c).(*mat.Dense).Copy(features)
	for i := 0; i < r; i++ {
		x.Set(i, c, 1)
	}
	return &DataSet{X: x, Prob: mat.DenseCopyOf(labels)}, nil
}

func (d *DataSet) RowCount() int {
	r, _ := d.X.Dims()
	return r
}

// FeatureColumnCount includes the constant column.
func (d *DataSet) FeatureColumnCount() int {
	_, c := d.X.Dims()
	return c
}

func (d *DataSet) LabelColumnCount() int {
	_, c := d.Prob.Dims()
	return c
}

func (d *DataSet) FeatureMatrix() *mat.Dense { return d.X }

func (d *DataSet) LabelMatrix() *mat.Dense { return d.Prob }

// Features returns a view of X without the constant column.
func (d *DataSet) Features() mat.Matrix {
	r, c := d.X.Dims()
	return d.X.Slice(0, r, 0, c-1)
}

// Labels returns the target matrix.
func (d *DataSet) Labels() mat.Matrix { return d.Prob }

// Dims returns the layer widths of a network for this data: the input width,
// the given hidden widths and the output width.
func (d *DataSet) Dims(hidden []int) []int {
	dims := make([]int, 0, len(hidden)+2)
	dims = append(dims, d.FeatureColumnCount()-1)
	dims = append(dims, hidden...)
	return append(dims, d.LabelColumnCount())
}

// Rescale maps every feature column linearly onto [0, 1]. Constant columns
// become 0.
func (d *DataSet) Rescale() {
	r, c := d.X.Dims()
	col := make([]float64, r)
	for j := 0; j < c-1; j++ {
		mat.Col(col, j, d.X)
		lo, hi := floats.Min(col), floats.Max(col)
		span := hi - lo
		for i, v := range col {
			if span == 0 {
				col[i] = 0
				continue
			}
			col[i] = (v - lo) / span
		}
		d.X.SetCol(j, col)
	}
}

// Shuffle permutes the rows of X and Prob together into fresh matrices.
// Views taken from d earlier keep the old order.
func (d *DataSet) Shuffle(rng *rand.Rand) {
	r, _ := d.X.Dims()
	perm := rng.Perm(r)
	d.X = permuteRows(d.X, perm)
	d.Prob = permuteRows(d.Prob, perm)
}

func permuteRows(m *mat.Dense, perm []int) *mat.Dense {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	for i, p := range perm {
		o.SetRow(i, m.RawRowView(p))
	}
	return o
}

// Split divides d into a training and a validation set holding ratio:1 of
// the rows. The validation set gets rows/(ratio+1) rows from the end of d.
// Both results are views on d.
func (d *DataSet) Split(ratio int) (train, valid *DataSet, err error) {
	if ratio <= 0 {
		return nil, nil, errors.Errorf("split ratio must be > 0 (got %d)", ratio)
	}
	rows := d.RowCount()
	nValid := rows / (ratio + 1)
	nTrain := rows - nValid
	if nValid == 0 || nTrain == 0 {
		return nil, nil, errors.Errorf("cannot split %d rows %d:1", rows, ratio)
	}
	return d.rows(0, nTrain), d.rows(nTrain, rows), nil
}

func (d *DataSet) rows(lo, hi int) *DataSet {
	_, xc := d.X.Dims()
	_, pc := d.Prob.Dims()
	return &DataSet{
		X:    d.X.Slice(lo, hi, 0, xc).(*mat.Dense),
		Prob: d.Prob.Slice(lo, hi, 0, pc).(*mat.Dense),
	}
}

// Summary writes the row and column counts and feature statistics as a
// table.
func (d *DataSet) Summary(w io.Writer) {
	r, c := d.X.Dims()
	values := make([]float64, 0, r*(c-1))
	for i := 0; i < r; i++ {
		values = append(values, d.X.RawRowView(i)[:c-1]...)
	}
	mean, std := stat.MeanStdDev(values, nil)

	fmt.Fprintln(w, "+--------------------------------+----------+")
	fmt.Fprintf(w, "| Number of rows                 |%9d |\n", r)
	fmt.Fprintf(w, "| Number of features             |%9d |\n", c-1)
	fmt.Fprintf(w, "| Number of label columns        |%9d |\n", d.LabelColumnCount())
	fmt.Fprintf(w, "| Feature mean                   |%9.4f |\n", mean)
	fmt.Fprintf(w, "| Feature standard deviation     |%9.4f |\n", std)
	fmt.Fprintln(w, "+--------------------------------+----------+")
}
