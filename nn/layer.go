package nn

import (
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Layer is a dense layer mapping In inputs to Out outputs.
type Layer struct {
	W   *mat.Dense    // Out × In
	B   *mat.VecDense // Out
	Act Activation

	updates int

	// cached by Forward for Backward
	lastInput  *mat.Dense
	lastOutput *mat.Dense
}

// NewLayer returns a layer with weights drawn from N(0, variance) and zero
// biases.
func NewLayer(in, out int, act Activation, variance float64, src rand.Source) *Layer {
	return &Layer{
		W:   NormalMatrix(out, in, variance, src),
		B:   mat.NewVecDense(out, nil),
		Act: act,
	}
}

// Dims returns the input and output widths.
func (l *Layer) Dims() (in, out int) {
	out, in = l.W.Dims()
	return in, out
}

// Updates is the number of gradient steps applied to the layer.
func (l *Layer) Updates() int { return l.updates }

// Forward computes Act(x·Wᵀ + b) for every row of x and remembers the input
// and output for Backward.
func (l *Layer) Forward(x mat.Matrix) (*mat.Dense, error) {
	in, _ := l.Dims()
	if _, c := x.Dims(); c != in {
		return nil, errors.Wrapf(ErrDimensionMismatch, "layer expects %d inputs, got %d", in, c)
	}
	out := l.propagate(x)
	l.lastInput = asDense(x)
	l.lastOutput = out
	return out, nil
}

// Backward takes the gradient w.r.t. the layer output and returns the
// gradient w.r.t. its input together with the weight and bias gradients,
// averaged over the rows of the last Forward batch. Weights are untouched.
func (l *Layer) Backward(upstream mat.Matrix) (down, gradW *mat.Dense, gradB *mat.VecDense, err error) {
	if l.lastInput == nil {
		return nil, nil, nil, errors.Wrap(ErrUninitializedModel, "backward called before forward")
	}
	r, c := upstream.Dims()
	if or, oc := l.lastOutput.Dims(); r != or || c != oc {
		return nil, nil, nil, errors.Wrapf(ErrDimensionMismatch,
			"upstream gradient is %d×%d, layer output is %d×%d", r, c, or, oc)
	}
	down, gradW, gradB = l.backprop(l.lastInput, l.lastOutput, upstream)
	gradW.Scale(1/float64(r), gradW)
	gradB.ScaleVec(1/float64(r), gradB)
	return down, gradW, gradB, nil
}

// ApplyGradient performs W ← W − lr·gradW and b ← b − lr·gradB.
func (l *Layer) ApplyGradient(gradW mat.Matrix, gradB mat.Vector, lr float64) error {
	wr, wc := l.W.Dims()
	if r, c := gradW.Dims(); r != wr || c != wc {
		return errors.Wrapf(ErrDimensionMismatch, "weight gradient is %d×%d, weights are %d×%d", r, c, wr, wc)
	}
	if gradB.Len() != l.B.Len() {
		return errors.Wrapf(ErrDimensionMismatch, "bias gradient has %d entries, bias has %d", gradB.Len(), l.B.Len())
	}
	var step mat.Dense
	step.Scale(lr, gradW)
	l.W.Sub(l.W, &step)
	l.B.AddScaledVec(l.B, -lr, gradB)
	l.updates++
	return nil
}

// propagate is Forward without caching.
func (l *Layer) propagate(x mat.Matrix) *mat.Dense {
	z := dot(x, l.W.T())
	addBias(z, l.B)
	l.Act.Activate(z)
	return z
}

// backprop returns the input gradient and the weight and bias gradients
// summed (not averaged) over the rows of in.
func (l *Layer) backprop(in, out, upstream mat.Matrix) (down, gradW *mat.Dense, gradB *mat.VecDense) {
	delta := multiply(upstream, l.Act.Derivative(out))
	gradW = dot(delta.T(), in)
	gradB = columnSums(delta)
	down = dot(delta, l.W)
	return down, gradW, gradB
}

func (l *Layer) String() string {
	in, out := l.Dims()
	return fmt.Sprintf("Dense_%d_%d(%s)", in, out, l.Act)
}
