package pretrain

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"dnn_lib/nn"
)

// patterns returns rows that repeat two binary prototypes.
func patterns(rows int) *mat.Dense {
	x := mat.NewDense(rows, 3, nil)
	for i := 0; i < rows; i++ {
		if i%2 == 0 {
			x.SetRow(i, []float64{1, 0, 1})
		} else {
			x.SetRow(i, []float64{0, 1, 0})
		}
	}
	return x
}

func labels(rows int) *mat.Dense {
	t := mat.NewDense(rows, 2, nil)
	for i := 0; i < rows; i++ {
		t.Set(i, i%2, 1)
	}
	return t
}

func testRBMConfig() RBMConfig {
	cfg := DefaultRBMConfig()
	cfg.BatchSize = 4
	cfg.MaxSweeps = 500
	return cfg
}

func TestPretrain_TerminatesWithShapes(t *testing.T) {
	cfg := testRBMConfig()
	rbms, err := Pretrain(context.Background(), patterns(16), []int{3, 4}, cfg)
	require.NoError(t, err)
	require.Len(t, rbms, 1)

	r := rbms[0]
	rows, cols := r.W.Dims()
	assert.Equal(t, 4, rows)
	assert.Equal(t, 3, cols)
	assert.Equal(t, 4, r.HiddenBias.Len())
	assert.Equal(t, 3, r.VisibleBias.Len())
	assert.LessOrEqual(t, r.Sweeps, cfg.MaxSweeps)
	assert.Len(t, r.Errors, r.Sweeps)
}

func TestTrainRBM_NonPositiveThresholdStopsAtMaxSweeps(t *testing.T) {
	for _, thres := range []float64{0, -1} {
		cfg := testRBMConfig()
		cfg.SlopeThreshold = thres
		cfg.MaxSweeps = 25
		r, err := TrainRBM(context.Background(), patterns(8), 4, cfg)
		require.NoError(t, err)
		assert.Equal(t, 25, r.Sweeps)
	}
}

func TestTrainRBM_ReducesReconstructionError(t *testing.T) {
	cfg := testRBMConfig()
	cfg.SlopeThreshold = 0
	cfg.MaxSweeps = 200
	r, err := TrainRBM(context.Background(), patterns(16), 4, cfg)
	require.NoError(t, err)
	assert.Less(t, r.Errors[len(r.Errors)-1], r.Errors[0])
}

func TestTrainRBM_Deterministic(t *testing.T) {
	cfg := testRBMConfig()
	a, err := TrainRBM(context.Background(), patterns(8), 4, cfg)
	require.NoError(t, err)
	b, err := TrainRBM(context.Background(), patterns(8), 4, cfg)
	require.NoError(t, err)
	assert.True(t, mat.Equal(a.W, b.W))
	assert.Equal(t, a.Sweeps, b.Sweeps)
}

func TestTrainRBM_InvalidConfig(t *testing.T) {
	cfg := testRBMConfig()
	cfg.MaxSweeps = 0
	_, err := TrainRBM(context.Background(), patterns(8), 4, cfg)
	require.True(t, errors.Is(err, nn.ErrInvalidHyperparameter))

	cfg = testRBMConfig()
	cfg.SlopeWindow = 1
	_, err = TrainRBM(context.Background(), patterns(8), 4, cfg)
	require.True(t, errors.Is(err, nn.ErrInvalidHyperparameter))
}

func TestTrainRBM_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := TrainRBM(ctx, patterns(8), 4, testRBMConfig())
	require.ErrorIs(t, err, context.Canceled)
}

func TestConverged(t *testing.T) {
	ref := math.NaN()
	errs := []float64{10, 8, 6}
	assert.False(t, converged(errs[:2], 3, 0.05, &ref))
	assert.False(t, converged(errs, 3, 0.05, &ref))
	assert.InDelta(t, -2.0, ref, 1e-9)

	errs = append(errs, 5.99, 5.98)
	assert.True(t, converged(errs, 3, 0.05, &ref))

	flat := math.NaN()
	assert.True(t, converged([]float64{1, 1, 1}, 3, 0.05, &flat))
}

func TestRBMInit_SeedsHiddenLayers(t *testing.T) {
	x := patterns(16)
	p := &RBMInit{Data: x, Config: testRBMConfig()}

	weights, err := p.InitialWeights(context.Background(), []int{3, 4, 2})
	require.NoError(t, err)
	require.Len(t, weights, 1)
	r, c := weights[0].W.Dims()
	assert.Equal(t, 4, r)
	assert.Equal(t, 3, c)
	assert.Nil(t, weights[0].B)

	net, err := nn.New(nn.Config{Variance: 0.01, LearningRate: 0.1, MaxEpoch: 1, Seed: 1})
	require.NoError(t, err)
	require.NoError(t, net.InitWithWeights([]int{3, 4, 2}, weights))
	assert.True(t, mat.Equal(weights[0].W, net.Layers()[0].W))

	none, err := p.InitialWeights(context.Background(), []int{3, 2})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLayerWise_SeedsHiddenLayers(t *testing.T) {
	data := samples{x: patterns(12), t: labels(12)}
	p, err := New(ModeLayerWise, Options{
		Data:      data,
		Net:       nn.Config{Variance: 0.01, LearningRate: 0.5, MaxEpoch: 1, Seed: 3},
		Measure:   nn.CrossEntropy,
		BatchSize: 4,
		Epochs:    3,
	})
	require.NoError(t, err)

	weights, err := p.InitialWeights(context.Background(), []int{3, 5, 4, 2})
	require.NoError(t, err)
	require.Len(t, weights, 2)
	r, c := weights[0].W.Dims()
	assert.Equal(t, []int{5, 3}, []int{r, c})
	r, c = weights[1].W.Dims()
	assert.Equal(t, []int{4, 5}, []int{r, c})
	assert.Equal(t, 4, weights[1].B.Len())
}

func TestRandom(t *testing.T) {
	p, err := New(ModeRandom, Options{})
	require.NoError(t, err)
	weights, err := p.InitialWeights(context.Background(), []int{3, 4, 2})
	require.NoError(t, err)
	assert.Empty(t, weights)

	_, err = p.InitialWeights(context.Background(), []int{3})
	require.True(t, errors.Is(err, nn.ErrDimensionMismatch))
}

func TestParseMode(t *testing.T) {
	for pre, want := range []Mode{ModeRandom, ModeRBM, ModeLayerWise} {
		m, err := ParseMode(pre)
		require.NoError(t, err)
		assert.Equal(t, want, m)
	}
	_, err := ParseMode(3)
	require.True(t, errors.Is(err, nn.ErrInvalidHyperparameter))
	assert.Equal(t, "rbm", ModeRBM.String())
}

func TestNew_NeedsData(t *testing.T) {
	_, err := New(ModeRBM, Options{})
	require.Error(t, err)
	_, err = New(ModeLayerWise, Options{})
	require.Error(t, err)
}
