package nn

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrorMeasure selects the training objective for a whole run. It fixes the
// output layer activation and the accuracy metric.
type ErrorMeasure int

const (
	// CrossEntropy is classification: softmax outputs, one-hot targets.
	CrossEntropy ErrorMeasure = iota
	// SquaredError is regression: identity outputs, real-valued targets.
	SquaredError
)

// ParseErrorMeasure maps the command line --type value.
func ParseErrorMeasure(t int) (ErrorMeasure, error) {
	switch t {
	case 0:
		return CrossEntropy, nil
	case 1:
		return SquaredError, nil
	}
	return 0, errors.Wrapf(ErrInvalidHyperparameter, "unknown error measure type %d", t)
}

func (e ErrorMeasure) String() string {
	switch e {
	case CrossEntropy:
		return "cross-entropy"
	case SquaredError:
		return "squared-error"
	}
	return fmt.Sprintf("ErrorMeasure(%d)", int(e))
}

// OutputActivation is the activation of the last layer under e.
func (e ErrorMeasure) OutputActivation() Activation {
	if e == SquaredError {
		return Identity
	}
	return Softmax
}

// Signal returns the error signal at the output layer's weighted sums:
// output - target for both measures.
func (e ErrorMeasure) Signal(output, target mat.Matrix) *mat.Dense {
	return subtract(output, target)
}

// Cost returns the summed loss over all rows.
func (e ErrorMeasure) Cost(output, target mat.Matrix) float64 {
	r, c := output.Dims()
	cost := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			y, t := output.At(i, j), target.At(i, j)
			if e == CrossEntropy {
				if t != 0 {
					cost -= t * math.Log(math.Max(y, 1e-15))
				}
			} else {
				cost += 0.5 * (y - t) * (y - t)
			}
		}
	}
	return cost
}

// Correct reports whether a single output row matches its target: arg-max
// agreement for classification, every component within tol for regression.
func (e ErrorMeasure) Correct(output, target []float64, tol float64) bool {
	if e == CrossEntropy {
		return floats.MaxIdx(output) == floats.MaxIdx(target)
	}
	for i := range output {
		if math.Abs(output[i]-target[i]) > tol {
			return false
		}
	}
	return true
}
