package nn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

type testSamples struct{ x, t *mat.Dense }

func (s testSamples) Features() mat.Matrix { return s.x }
func (s testSamples) Labels() mat.Matrix   { return s.t }

func testConfig() Config {
	return Config{
		Variance:         0.1,
		LearningRate:     0.1,
		MinValidAccuracy: 2,
		MaxEpoch:         1,
		Seed:             42,
		Workers:          1,
		Tolerance:        0.5,
	}
}

// separable draws rows in [-1, 1]^in labelled by the sign of their first
// feature.
func separable(rows, in int, seed uint64) testSamples {
	rng := rand.New(rand.NewSource(seed))
	x := mat.NewDense(rows, in, nil)
	t := mat.NewDense(rows, 2, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < in; j++ {
			x.Set(i, j, 2*rng.Float64()-1)
		}
		if x.At(i, 0) > 0 {
			t.Set(i, 1, 1)
		} else {
			t.Set(i, 0, 1)
		}
	}
	return testSamples{x: x, t: t}
}

func newNet(t *testing.T, cfg Config, dims []int) *DNN {
	t.Helper()
	n, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, n.Init(dims))
	return n
}

func TestNew_InvalidHyperparameters(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero learning rate", func(c *Config) { c.LearningRate = 0 }},
		{"negative variance", func(c *Config) { c.Variance = -1 }},
		{"zero max epoch", func(c *Config) { c.MaxEpoch = 0 }},
		{"negative min accuracy", func(c *Config) { c.MinValidAccuracy = -0.1 }},
		{"negative workers", func(c *Config) { c.Workers = -2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.modify(&cfg)
			_, err := New(cfg)
			require.ErrorIs(t, err, ErrInvalidHyperparameter)
		})
	}
}

func TestInit_LayerShapesChain(t *testing.T) {
	for _, dims := range [][]int{{3, 2}, {3, 4, 2}, {10, 8, 6, 4, 1}} {
		n := newNet(t, testConfig(), dims)
		require.Len(t, n.Layers(), len(dims)-1)
		for i, l := range n.Layers() {
			in, out := l.Dims()
			assert.Equal(t, dims[i], in)
			assert.Equal(t, dims[i+1], out)
			assert.Equal(t, out, l.B.Len())
		}
		assert.Equal(t, Softmax, n.Layers()[len(dims)-2].Act)
		assert.Equal(t, Initialized, n.State())
		assert.Equal(t, dims, n.Dims())
	}
}

func TestInit_MalformedDims(t *testing.T) {
	n, err := New(testConfig())
	require.NoError(t, err)
	for _, dims := range [][]int{nil, {3}, {3, 0, 2}, {-1, 2}} {
		require.ErrorIs(t, n.Init(dims), ErrDimensionMismatch)
	}
	assert.Equal(t, Uninitialized, n.State())
}

func TestInitWithWeights(t *testing.T) {
	n, err := New(testConfig())
	require.NoError(t, err)

	w := mat.NewDense(4, 3, []float64{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
		10, 11, 12,
	})
	require.NoError(t, n.InitWithWeights([]int{3, 4, 2}, []LayerWeights{{W: w}}))
	assert.True(t, mat.Equal(w, n.Layers()[0].W))
	assert.True(t, mat.Equal(mat.NewVecDense(4, nil), n.Layers()[0].B))
	assert.Equal(t, Sigmoid, n.Layers()[0].Act)

	w.Set(0, 0, 100)
	assert.Equal(t, 1.0, n.Layers()[0].W.At(0, 0))

	b := mat.NewVecDense(4, []float64{1, 2, 3, 4})
	require.NoError(t, n.InitWithWeights([]int{3, 4, 2}, []LayerWeights{{W: w, B: b}}))
	assert.True(t, mat.Equal(b, n.Layers()[0].B))

	err = n.InitWithWeights([]int{3, 4, 2}, []LayerWeights{{W: mat.NewDense(3, 4, nil)}})
	require.ErrorIs(t, err, ErrDimensionMismatch)
	err = n.InitWithWeights([]int{3, 4, 2}, []LayerWeights{{W: w, B: mat.NewVecDense(2, nil)}})
	require.ErrorIs(t, err, ErrDimensionMismatch)
	err = n.InitWithWeights([]int{3, 4}, []LayerWeights{{W: w}, {W: w}})
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestUninitialized(t *testing.T) {
	n, err := New(testConfig())
	require.NoError(t, err)
	data := separable(4, 3, 1)

	_, err = n.Predict(data.x)
	require.ErrorIs(t, err, ErrUninitializedModel)
	_, err = n.Forward(data.x)
	require.ErrorIs(t, err, ErrUninitializedModel)
	_, _, err = n.Evaluate(data, CrossEntropy)
	require.ErrorIs(t, err, ErrUninitializedModel)
	_, err = n.Train(context.Background(), data, data, 2, CrossEntropy)
	require.ErrorIs(t, err, ErrUninitializedModel)
	require.ErrorIs(t, n.Save(t.TempDir()+"/m.model"), ErrUninitializedModel)
}

func TestPredict_MatchesForward(t *testing.T) {
	n := newNet(t, testConfig(), []int{3, 5, 2})
	x := separable(6, 3, 2).x

	p, err := n.Predict(x)
	require.NoError(t, err)
	f, err := n.Forward(x)
	require.NoError(t, err)
	assert.True(t, mat.Equal(p, f))

	_, err = n.Predict(mat.NewDense(1, 4, nil))
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestInit_SameSeedSameWeights(t *testing.T) {
	a := newNet(t, testConfig(), []int{3, 4, 2})
	b := newNet(t, testConfig(), []int{3, 4, 2})
	for i := range a.Layers() {
		assert.True(t, mat.Equal(a.Layers()[i].W, b.Layers()[i].W))
	}

	cfg := testConfig()
	cfg.Seed = 7
	c := newNet(t, cfg, []int{3, 4, 2})
	assert.False(t, mat.Equal(a.Layers()[0].W, c.Layers()[0].W))
}
