package pretrain

import (
	"context"
	"io"
	"log"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"dnn_lib/nn"
)

// RBMConfig holds the contrastive-divergence hyperparameters.
type RBMConfig struct {
	LearningRate float64
	BatchSize    int
	// Variance of the normal distribution the weights and biases start from.
	Variance float64
	// SlopeThreshold stops a layer once the reconstruction error slope falls
	// below this fraction of the first measured slope.
	SlopeThreshold float64
	// SlopeWindow is the number of recent sweeps the slope is fitted over.
	SlopeWindow int
	// MaxSweeps bounds the sweeps of every layer regardless of the slope.
	MaxSweeps int
	Seed      int64
	Logger    *log.Logger
}

// DefaultRBMConfig returns the settings dnn-train uses unless overridden.
func DefaultRBMConfig() RBMConfig {
	return RBMConfig{
		LearningRate:   0.1,
		BatchSize:      32,
		Variance:       0.01,
		SlopeThreshold: 0.05,
		SlopeWindow:    10,
		MaxSweeps:      1000,
		Seed:           42,
	}
}

func (c RBMConfig) validate() error {
	switch {
	case math.IsNaN(c.LearningRate) || c.LearningRate <= 0:
		return errors.Wrapf(nn.ErrInvalidHyperparameter, "rbm learning rate must be > 0 (got %v)", c.LearningRate)
	case c.BatchSize <= 0:
		return errors.Wrapf(nn.ErrInvalidHyperparameter, "rbm batch size must be > 0 (got %d)", c.BatchSize)
	case math.IsNaN(c.Variance) || c.Variance <= 0:
		return errors.Wrapf(nn.ErrInvalidHyperparameter, "rbm variance must be > 0 (got %v)", c.Variance)
	case c.SlopeWindow < 2:
		return errors.Wrapf(nn.ErrInvalidHyperparameter, "slope window must be >= 2 (got %d)", c.SlopeWindow)
	case c.MaxSweeps <= 0:
		return errors.Wrapf(nn.ErrInvalidHyperparameter, "max sweeps must be > 0 (got %d)", c.MaxSweeps)
	case math.IsNaN(c.SlopeThreshold):
		return errors.Wrap(nn.ErrInvalidHyperparameter, "slope threshold is NaN")
	}
	return nil
}

func (c RBMConfig) logger() *log.Logger {
	if c.Logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return c.Logger
}

// RBM is a restricted Boltzmann machine with binary hidden units.
type RBM struct {
	W           *mat.Dense    // Hidden × Visible
	HiddenBias  *mat.VecDense // Hidden
	VisibleBias *mat.VecDense // Visible
	// Errors is the mean squared reconstruction error of every sweep.
	Errors []float64
	Sweeps int
}

// NewRBM draws the weights and biases of a visible×hidden machine from
// N(0, variance).
func NewRBM(visible, hidden int, variance float64, src rand.Source) *RBM {
	return &RBM{
		W:           nn.NormalMatrix(hidden, visible, variance, src),
		HiddenBias:  mat.NewVecDense(hidden, nn.NormalMatrix(1, hidden, variance, src).RawRowView(0)),
		VisibleBias: mat.NewVecDense(visible, nn.NormalMatrix(1, visible, variance, src).RawRowView(0)),
	}
}

// HiddenProbs returns sigmoid(v·Wᵀ + hb) for every row of v.
func (r *RBM) HiddenProbs(v mat.Matrix) *mat.Dense {
	return affine(v, r.W.T(), r.HiddenBias)
}

// VisibleProbs returns sigmoid(h·W + vb) for every row of h.
func (r *RBM) VisibleProbs(h mat.Matrix) *mat.Dense {
	return affine(h, r.W, r.VisibleBias)
}

func affine(x, w mat.Matrix, b *mat.VecDense) *mat.Dense {
	rows, _ := x.Dims()
	_, c := w.Dims()
	z := mat.NewDense(rows, c, nil)
	z.Mul(x, w)
	bias := b.RawVector().Data
	for i := 0; i < rows; i++ {
		floats.Add(z.RawRowView(i), bias)
	}
	nn.Sigmoid.Activate(z)
	return z
}

// cd1 performs one contrastive-divergence step on the batch v0 and returns
// its summed squared reconstruction error.
func (r *RBM) cd1(v0 *mat.Dense, lr float64, rng *rand.Rand) float64 {
	rows, _ := v0.Dims()
	h0 := r.HiddenProbs(v0)
	hs := sample(h0, rng)
	v1 := r.VisibleProbs(hs)
	h1 := r.HiddenProbs(v1)

	var pos, neg mat.Dense
	pos.Mul(h0.T(), v0)
	neg.Mul(h1.T(), v1)
	scale := lr / float64(rows)
	pos.Sub(&pos, &neg)
	pos.Scale(scale, &pos)
	r.W.Add(r.W, &pos)

	for i := 0; i < rows; i++ {
		for j, p := range h0.RawRowView(i) {
			r.HiddenBias.SetVec(j, r.HiddenBias.AtVec(j)+scale*(p-h1.At(i, j)))
		}
	}

	var diff mat.Dense
	diff.Sub(v0, v1)
	cost := 0.0
	for i := 0; i < rows; i++ {
		row := diff.RawRowView(i)
		for j, d := range row {
			r.VisibleBias.SetVec(j, r.VisibleBias.AtVec(j)+scale*d)
		}
		cost += floats.Dot(row, row)
	}
	return cost
}

// sample draws a binary state from every probability in p.
func sample(p *mat.Dense, rng *rand.Rand) *mat.Dense {
	rows, c := p.Dims()
	s := mat.NewDense(rows, c, nil)
	for i := 0; i < rows; i++ {
		dst := s.RawRowView(i)
		for j, v := range p.RawRowView(i) {
			if rng.Float64() < v {
				dst[j] = 1
			}
		}
	}
	return s
}

// converged applies the slope rule to the errors recorded so far. The first
// slope fitted over a full window is the reference; a zero reference counts
// as converged.
func converged(errs []float64, window int, threshold float64, ref *float64) bool {
	if len(errs) < window {
		return false
	}
	xs := make([]float64, window)
	for i := range xs {
		xs[i] = float64(len(errs) - window + i)
	}
	_, slope := stat.LinearRegression(xs, errs[len(errs)-window:], nil, false)
	if math.IsNaN(*ref) {
		*ref = slope
		return slope == 0
	}
	if *ref == 0 {
		return true
	}
	return math.Abs(slope / *ref) < threshold
}

// TrainRBM fits a visible×hidden machine to the rows of data with CD-1 until
// the slope rule or MaxSweeps stops it.
func TrainRBM(ctx context.Context, data mat.Matrix, hidden int, cfg RBMConfig) (*RBM, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	rows, visible := data.Dims()
	if rows == 0 || hidden <= 0 {
		return nil, errors.Wrapf(nn.ErrDimensionMismatch, "cannot fit %d hidden units to %d rows", hidden, rows)
	}
	rng := rand.New(rand.NewSource(uint64(cfg.Seed)))
	r := NewRBM(visible, hidden, cfg.Variance, rng)

	x := mat.DenseCopyOf(data)
	ref := math.NaN()
	for r.Sweeps < cfg.MaxSweeps {
		if err := ctx.Err(); err != nil {
			return r, errors.Wrapf(err, "rbm pretraining interrupted after %d sweeps", r.Sweeps)
		}
		cost := 0.0
		for lo := 0; lo < rows; lo += cfg.BatchSize {
			hi := min(lo+cfg.BatchSize, rows)
			cost += r.cd1(x.Slice(lo, hi, 0, visible).(*mat.Dense), cfg.LearningRate, rng)
		}
		r.Errors = append(r.Errors, cost/float64(rows*visible))
		r.Sweeps++
		if converged(r.Errors, cfg.SlopeWindow, cfg.SlopeThreshold, &ref) {
			break
		}
	}
	return r, nil
}

// Pretrain trains one machine per transition of dims greedily from the
// bottom, feeding each the hidden probabilities of the one below.
func Pretrain(ctx context.Context, data mat.Matrix, dims []int, cfg RBMConfig) ([]*RBM, error) {
	if err := nn.ValidateDims(dims); err != nil {
		return nil, err
	}
	if _, c := data.Dims(); c != dims[0] {
		return nil, errors.Wrapf(nn.ErrDimensionMismatch, "data has %d columns, dims start with %d", c, dims[0])
	}
	logger := cfg.logger()
	rbms := make([]*RBM, 0, len(dims)-1)
	input := data
	for i := 0; i < len(dims)-1; i++ {
		layerCfg := cfg
		layerCfg.Seed = cfg.Seed + int64(i)
		r, err := TrainRBM(ctx, input, dims[i+1], layerCfg)
		if err != nil {
			return nil, errors.Wrapf(err, "transition %d", i)
		}
		logger.Printf("rbm %d-%d: %d sweeps, reconstruction error %.6f",
			dims[i], dims[i+1], r.Sweeps, r.Errors[len(r.Errors)-1])
		rbms = append(rbms, r)
		input = r.HiddenProbs(input)
	}
	return rbms, nil
}
