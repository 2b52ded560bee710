package nn

import (
	"bytes"
	"context"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"dnn_lib/utils"
)

func TestTrain_BatchAndUpdateCounts(t *testing.T) {
	n := newNet(t, testConfig(), []int{3, 4, 2})
	data := separable(10, 3, 1)

	report, err := n.Train(context.Background(), data, data, 2, CrossEntropy)
	require.NoError(t, err)
	require.Len(t, n.Layers(), 2)
	assert.Equal(t, 1, report.Epochs)
	assert.Equal(t, 5, report.Batches)
	for _, l := range n.Layers() {
		assert.Equal(t, 5, l.Updates())
	}
	assert.Equal(t, Trained, n.State())
}

func TestTrain_BatchLargerThanSet(t *testing.T) {
	n := newNet(t, testConfig(), []int{3, 4, 2})
	data := separable(7, 3, 1)

	report, err := n.Train(context.Background(), data, data, 100, CrossEntropy)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Batches)
	assert.Equal(t, 1, n.Layers()[0].Updates())
}

func TestTrain_BatchSizeOne(t *testing.T) {
	n := newNet(t, testConfig(), []int{3, 4, 2})
	data := separable(7, 3, 1)

	report, err := n.Train(context.Background(), data, data, 1, CrossEntropy)
	require.NoError(t, err)
	assert.Equal(t, 7, report.Batches)
}

func TestTrain_PartialLastBatch(t *testing.T) {
	assert.Equal(t, [][]int{{0, 1, 2}, {3, 4, 5}, {6}}, createBatches([]int{0, 1, 2, 3, 4, 5, 6}, 3))
}

func TestTrain_InvalidBatchSize(t *testing.T) {
	n := newNet(t, testConfig(), []int{3, 4, 2})
	data := separable(4, 3, 1)
	for _, bs := range []int{0, -1} {
		_, err := n.Train(context.Background(), data, data, bs, CrossEntropy)
		require.ErrorIs(t, err, ErrInvalidHyperparameter)
	}
}

func TestTrain_DimensionMismatch(t *testing.T) {
	n := newNet(t, testConfig(), []int{4, 2})
	data := separable(4, 3, 1)
	_, err := n.Train(context.Background(), data, data, 2, CrossEntropy)
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestTrain_SameSeedBitIdentical(t *testing.T) {
	run := func(workers int, randPerm bool) []*mat.Dense {
		cfg := testConfig()
		cfg.Workers = workers
		cfg.RandPerm = randPerm
		cfg.MaxEpoch = 3
		n := newNet(t, cfg, []int{3, 4, 2})
		data := separable(10, 3, 1)
		_, err := n.Train(context.Background(), data, data, 4, CrossEntropy)
		require.NoError(t, err)
		var ws []*mat.Dense
		for _, l := range n.Layers() {
			ws = append(ws, l.W)
		}
		return ws
	}

	for _, tc := range []struct {
		workers  int
		randPerm bool
	}{{1, false}, {1, true}, {3, true}} {
		a, b := run(tc.workers, tc.randPerm), run(tc.workers, tc.randPerm)
		for i := range a {
			assert.True(t, mat.Equal(a[i], b[i]), "workers=%d rp=%v layer %d", tc.workers, tc.randPerm, i)
		}
	}
}

func TestTrain_ParallelMatchesSerial(t *testing.T) {
	run := func(workers int) *DNN {
		cfg := testConfig()
		cfg.Workers = workers
		cfg.MaxEpoch = 2
		n := newNet(t, cfg, []int{3, 6, 2})
		data := separable(20, 3, 5)
		_, err := n.Train(context.Background(), data, data, 8, CrossEntropy)
		require.NoError(t, err)
		return n
	}
	serial, parallel := run(1), run(4)
	for i := range serial.Layers() {
		assert.True(t, mat.EqualApprox(serial.Layers()[i].W, parallel.Layers()[i].W, 1e-12))
		assert.True(t, mat.EqualApprox(serial.Layers()[i].B, parallel.Layers()[i].B, 1e-12))
	}
}

func TestTrain_ParallelRecordsPhaseTiming(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 4
	n := newNet(t, cfg, []int{3, 6, 2})
	data := separable(20, 3, 5)

	report, err := n.Train(context.Background(), data, data, 8, CrossEntropy)
	require.NoError(t, err)
	assert.True(t, report.Timing.ForwardPassTime > 0, "ForwardPassTime")
	assert.True(t, report.Timing.BackwardPassTime > 0, "BackwardPassTime")
	assert.True(t, report.Timing.UpdateTime > 0, "UpdateTime")
}

func TestSplitElapsed(t *testing.T) {
	var timing utils.TimingStats
	splitElapsed(&timing, 100*time.Millisecond, []utils.TimingStats{
		{ForwardPassTime: 30 * time.Millisecond, BackwardPassTime: 90 * time.Millisecond},
		{ForwardPassTime: 30 * time.Millisecond, BackwardPassTime: 90 * time.Millisecond},
	})
	assert.Equal(t, 25*time.Millisecond, timing.ForwardPassTime)
	assert.Equal(t, 75*time.Millisecond, timing.BackwardPassTime)

	splitElapsed(&timing, 10*time.Millisecond, []utils.TimingStats{{}})
	assert.Equal(t, 35*time.Millisecond, timing.ForwardPassTime)
}

func TestChunkRows(t *testing.T) {
	assert.Equal(t, [][2]int{{0, 5}}, chunkRows(5, 1))
	assert.Equal(t, [][2]int{{0, 2}, {2, 4}, {4, 5}}, chunkRows(5, 3))
	assert.Equal(t, [][2]int{{0, 1}, {1, 2}}, chunkRows(2, 8))
}

func TestTrain_ConvergesOnSeparableData(t *testing.T) {
	cfg := testConfig()
	cfg.LearningRate = 0.5
	cfg.MinValidAccuracy = 0.9
	cfg.MaxEpoch = 200
	cfg.RandPerm = true
	n := newNet(t, cfg, []int{2, 8, 2})
	train, valid := separable(200, 2, 11), separable(50, 2, 12)

	report, err := n.Train(context.Background(), train, valid, 10, CrossEntropy)
	require.NoError(t, err)
	assert.LessOrEqual(t, report.Epochs, cfg.MaxEpoch)
	assert.True(t, report.Reached)
	assert.GreaterOrEqual(t, report.ValidAccuracy, 0.9)
}

func TestTrain_StopsAtMaxEpochWhenUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.MaxEpoch = 3
	n := newNet(t, cfg, []int{2, 2})
	data := separable(8, 2, 3)

	report, err := n.Train(context.Background(), data, data, 4, CrossEntropy)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Epochs)
	assert.False(t, report.Reached)
}

func TestTrain_Regression(t *testing.T) {
	cfg := testConfig()
	cfg.MaxEpoch = 300
	cfg.MinValidAccuracy = 1
	cfg.Tolerance = 0.1
	n := newNet(t, cfg, []int{1, 1})

	x := mat.NewDense(8, 1, []float64{-1, -0.75, -0.5, -0.25, 0, 0.25, 0.5, 0.75})
	y := mat.NewDense(8, 1, nil)
	y.Apply(func(i, j int, v float64) float64 { return 2*x.At(i, 0) + 0.5 }, y)
	data := testSamples{x: x, t: y}

	report, err := n.Train(context.Background(), data, data, 8, SquaredError)
	require.NoError(t, err)
	assert.Equal(t, Identity, n.Layers()[0].Act)
	assert.Equal(t, SquaredError, n.Measure())
	assert.True(t, report.Reached)
}

func TestTrain_Cancelled(t *testing.T) {
	n := newNet(t, testConfig(), []int{3, 4, 2})
	data := separable(10, 3, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := n.Train(ctx, data, data, 2, CrossEntropy)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, report.Batches)
	assert.Equal(t, Trained, n.State())
}

func TestTrain_LogsEpochs(t *testing.T) {
	var buf bytes.Buffer
	cfg := testConfig()
	cfg.MaxEpoch = 2
	cfg.Logger = log.New(&buf, "", 0)
	n := newNet(t, cfg, []int{3, 2})
	data := separable(6, 3, 1)

	_, err := n.Train(context.Background(), data, data, 3, CrossEntropy)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "epoch 1/2")
	assert.Contains(t, buf.String(), "epoch 2/2")
}
