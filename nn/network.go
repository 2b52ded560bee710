package nn

import (
	"fmt"
	"io"
	"log"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Config holds the hyperparameters of a network. It is fixed at New and
// never falls back to defaults.
type Config struct {
	// Variance of the normal distribution used for random weights.
	Variance float64
	// LearningRate of every mini-batch update.
	LearningRate float64
	// MinValidAccuracy stops training once validation accuracy reaches it.
	// Values above 1 disable early stopping.
	MinValidAccuracy float64
	// MaxEpoch caps the number of epochs.
	MaxEpoch int
	// RandPerm shuffles the training rows at the start of every epoch.
	RandPerm bool
	// Seed drives weight initialization and permutations.
	Seed int64
	// Workers splits each mini-batch across goroutines when > 1.
	Workers int
	// Tolerance is the per-output error accepted as correct under
	// SquaredError.
	Tolerance float64
	// Logger receives per-epoch progress; nil discards it.
	Logger *log.Logger
}

// Validate reports the first hyperparameter the engine cannot train with.
func (c Config) Validate() error {
	switch {
	case math.IsNaN(c.LearningRate) || c.LearningRate <= 0:
		return errors.Wrapf(ErrInvalidHyperparameter, "learning rate must be > 0 (got %v)", c.LearningRate)
	case math.IsNaN(c.Variance) || c.Variance <= 0:
		return errors.Wrapf(ErrInvalidHyperparameter, "variance must be > 0 (got %v)", c.Variance)
	case c.MaxEpoch <= 0:
		return errors.Wrapf(ErrInvalidHyperparameter, "max epoch must be > 0 (got %d)", c.MaxEpoch)
	case math.IsNaN(c.MinValidAccuracy) || c.MinValidAccuracy < 0:
		return errors.Wrapf(ErrInvalidHyperparameter, "minimum validation accuracy must be >= 0 (got %v)", c.MinValidAccuracy)
	case math.IsNaN(c.Tolerance) || c.Tolerance < 0:
		return errors.Wrapf(ErrInvalidHyperparameter, "tolerance must be >= 0 (got %v)", c.Tolerance)
	case c.Workers < 0:
		return errors.Wrapf(ErrInvalidHyperparameter, "workers must be >= 0 (got %d)", c.Workers)
	}
	return nil
}

// State is the lifecycle position of a DNN.
type State int

const (
	Uninitialized State = iota
	Initialized
	Trained
	Saved
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case Trained:
		return "trained"
	case Saved:
		return "saved"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// LayerWeights seeds one layer at Init time. A nil B leaves the bias at zero.
type LayerWeights struct {
	W *mat.Dense    // Out × In
	B *mat.VecDense // Out, optional
}

// Samples is the read-only view of a dataset the network trains on.
type Samples interface {
	// Features returns one row per sample, one column per input.
	Features() mat.Matrix
	// Labels returns one row per sample, one column per output.
	Labels() mat.Matrix
}

// DNN is a feed-forward network of dense layers.
type DNN struct {
	config  Config
	layers  []*Layer
	dims    []int
	measure ErrorMeasure
	state   State
	rng     *rand.Rand
	logger  *log.Logger
}

// New returns an uninitialized network after validating cfg.
func New(cfg Config) (*DNN, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &DNN{
		config: cfg,
		rng:    rand.New(rand.NewSource(uint64(cfg.Seed))),
		logger: logger,
	}, nil
}

// Config returns the configuration the network was built with.
func (n *DNN) Config() Config { return n.config }

// State returns the lifecycle state.
func (n *DNN) State() State { return n.state }

// Layers returns the layers from input to output.
func (n *DNN) Layers() []*Layer { return n.layers }

// Dims returns a copy of the dimension vector.
func (n *DNN) Dims() []int { return append([]int(nil), n.dims...) }

// Measure returns the error measure of the last training run or loaded
// model.
func (n *DNN) Measure() ErrorMeasure { return n.measure }

// ValidateDims checks that dims has an input and an output width and that
// every width is positive.
func ValidateDims(dims []int) error {
	if len(dims) < 2 {
		return errors.Wrapf(ErrDimensionMismatch, "need at least input and output widths, got %v", dims)
	}
	for i, d := range dims {
		if d <= 0 {
			return errors.Wrapf(ErrDimensionMismatch, "width %d at position %d must be > 0", d, i)
		}
	}
	return nil
}

// Init builds len(dims)-1 randomly initialized layers.
func (n *DNN) Init(dims []int) error {
	return n.InitWithWeights(dims, nil)
}

// InitWithWeights builds the layers for dims, copying weights[i] into layer i
// for every supplied entry and drawing the remaining layers randomly.
func (n *DNN) InitWithWeights(dims []int, weights []LayerWeights) error {
	if err := ValidateDims(dims); err != nil {
		return err
	}
	if len(weights) > len(dims)-1 {
		return errors.Wrapf(ErrDimensionMismatch, "%d weight matrices for %d layers", len(weights), len(dims)-1)
	}
	layers := make([]*Layer, len(dims)-1)
	for i := range layers {
		in, out := dims[i], dims[i+1]
		act := Sigmoid
		if i == len(layers)-1 {
			act = n.measure.OutputActivation()
		}
		if i >= len(weights) {
			layers[i] = NewLayer(in, out, act, n.config.Variance, n.rng)
			continue
		}
		l, err := seededLayer(in, out, act, weights[i])
		if err != nil {
			return errors.Wrapf(err, "layer %d", i)
		}
		layers[i] = l
	}
	n.layers = layers
	n.dims = append([]int(nil), dims...)
	n.state = Initialized
	return nil
}

func seededLayer(in, out int, act Activation, w LayerWeights) (*Layer, error) {
	if w.W == nil {
		return nil, errors.Wrap(ErrDimensionMismatch, "missing weight matrix")
	}
	if r, c := w.W.Dims(); r != out || c != in {
		return nil, errors.Wrapf(ErrDimensionMismatch, "weights are %d×%d, want %d×%d", r, c, out, in)
	}
	l := &Layer{
		W:   mat.DenseCopyOf(w.W),
		B:   mat.NewVecDense(out, nil),
		Act: act,
	}
	if w.B != nil {
		if w.B.Len() != out {
			return nil, errors.Wrapf(ErrDimensionMismatch, "bias has %d entries, want %d", w.B.Len(), out)
		}
		l.B.CopyVec(w.B)
	}
	return l, nil
}

// setMeasure fixes the error measure and the matching output activation.
func (n *DNN) setMeasure(m ErrorMeasure) {
	n.measure = m
	if len(n.layers) > 0 {
		n.layers[len(n.layers)-1].Act = m.OutputActivation()
	}
}

// Predict runs x through every layer without touching the Backward caches.
func (n *DNN) Predict(x mat.Matrix) (*mat.Dense, error) {
	if n.state == Uninitialized {
		return nil, ErrUninitializedModel
	}
	if _, c := x.Dims(); c != n.dims[0] {
		return nil, errors.Wrapf(ErrDimensionMismatch, "network expects %d inputs, got %d", n.dims[0], c)
	}
	out := asDense(x)
	for _, l := range n.layers {
		out = l.propagate(out)
	}
	return out, nil
}

// Forward runs x through every layer, caching activations for Backward.
func (n *DNN) Forward(x mat.Matrix) (*mat.Dense, error) {
	if n.state == Uninitialized {
		return nil, ErrUninitializedModel
	}
	out := asDense(x)
	var err error
	for i, l := range n.layers {
		if out, err = l.Forward(out); err != nil {
			return nil, errors.Wrapf(err, "layer %d", i)
		}
	}
	return out, nil
}

const evalChunk = 512

// Evaluate returns the fraction of rows the network gets right under m and
// the summed cost, without updating weights.
func (n *DNN) Evaluate(s Samples, m ErrorMeasure) (accuracy, cost float64, err error) {
	if n.state == Uninitialized {
		return 0, 0, ErrUninitializedModel
	}
	x, t := asDense(s.Features()), asDense(s.Labels())
	rows, _ := x.Dims()
	if rows == 0 {
		return 0, 0, nil
	}
	if _, c := t.Dims(); c != n.dims[len(n.dims)-1] {
		return 0, 0, errors.Wrapf(ErrDimensionMismatch, "network has %d outputs, labels have %d columns", n.dims[len(n.dims)-1], c)
	}
	_, xc := x.Dims()
	_, tc := t.Dims()
	correct := 0
	for start := 0; start < rows; start += evalChunk {
		end := min(start+evalChunk, rows)
		xb := x.Slice(start, end, 0, xc)
		tb := t.Slice(start, end, 0, tc).(*mat.Dense)
		out, err := n.Predict(xb)
		if err != nil {
			return 0, 0, err
		}
		cost += m.Cost(out, tb)
		for i := 0; i < end-start; i++ {
			if m.Correct(out.RawRowView(i), tb.RawRowView(i), n.config.Tolerance) {
				correct++
			}
		}
	}
	return float64(correct) / float64(rows), cost, nil
}

func (n *DNN) String() string {
	return fmt.Sprintf("DNN%v[%s]", n.dims, n.state)
}
