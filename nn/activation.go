package nn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Activation is the closed set of functions a layer can apply to its
// weighted sums.
type Activation int

const (
	Sigmoid Activation = iota
	Softmax
	Identity
)

var activationNames = map[Activation]string{
	Sigmoid:  "sigmoid",
	Softmax:  "softmax",
	Identity: "identity",
}

func (a Activation) String() string {
	if name, ok := activationNames[a]; ok {
		return name
	}
	return fmt.Sprintf("Activation(%d)", int(a))
}

// Activate applies the function to every row of z in place.
func (a Activation) Activate(z *mat.Dense) {
	switch a {
	case Sigmoid:
		z.Apply(func(i, j int, v float64) float64 {
			return sigmoid(v)
		}, z)
	case Softmax:
		r, _ := z.Dims()
		for i := 0; i < r; i++ {
			softmaxRow(z.RawRowView(i))
		}
	case Identity:
	default:
		panic(fmt.Sprintf("nn: unknown activation %d", int(a)))
	}
}

// Derivative returns the element-wise derivative expressed in terms of the
// activated output. Softmax reports 1: it is only ever paired with
// cross-entropy, whose error signal is already taken w.r.t. the logits.
func (a Activation) Derivative(out mat.Matrix) *mat.Dense {
	r, c := out.Dims()
	d := mat.NewDense(r, c, nil)
	switch a {
	case Sigmoid:
		d.Apply(func(i, j int, v float64) float64 {
			return v * (1 - v)
		}, out)
	case Softmax, Identity:
		d.Apply(func(i, j int, v float64) float64 { return 1 }, d)
	default:
		panic(fmt.Sprintf("nn: unknown activation %d", int(a)))
	}
	return d
}
