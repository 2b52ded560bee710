package nn

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"dnn_lib/utils"
)

// Report summarizes a training run.
type Report struct {
	Epochs        int
	Batches       int
	TrainAccuracy float64
	ValidAccuracy float64
	// Reached is true when training stopped on MinValidAccuracy rather than
	// on MaxEpoch.
	Reached bool
	Timing  utils.TimingStats
}

// Train runs mini-batch SGD on train until the accuracy on valid reaches
// MinValidAccuracy or MaxEpoch epochs have run. Cancelling ctx stops after
// the current batch; the network is left Trained and ctx's error returned.
func (n *DNN) Train(ctx context.Context, train, valid Samples, batchSize int, m ErrorMeasure) (*Report, error) {
	if n.state == Uninitialized {
		return nil, ErrUninitializedModel
	}
	if batchSize <= 0 {
		return nil, errors.Wrapf(ErrInvalidHyperparameter, "batch size must be > 0 (got %d)", batchSize)
	}
	x, t := asDense(train.Features()), asDense(train.Labels())
	rows, xc := x.Dims()
	tr, tc := t.Dims()
	switch {
	case rows == 0:
		return nil, errors.Wrap(ErrDimensionMismatch, "empty training set")
	case tr != rows:
		return nil, errors.Wrapf(ErrDimensionMismatch, "%d feature rows but %d label rows", rows, tr)
	case xc != n.dims[0]:
		return nil, errors.Wrapf(ErrDimensionMismatch, "network expects %d inputs, training set has %d", n.dims[0], xc)
	case tc != n.dims[len(n.dims)-1]:
		return nil, errors.Wrapf(ErrDimensionMismatch, "network has %d outputs, training labels have %d", n.dims[len(n.dims)-1], tc)
	}
	n.setMeasure(m)

	report := &Report{}
	start := time.Now()
	defer func() {
		n.state = Trained
		report.Timing.TotalTime = time.Since(start)
	}()

	order := make([]int, rows)
	for i := range order {
		order[i] = i
	}

	n.logger.Printf("training %v with %s: %d rows, batch size %d, max epoch %d",
		n.dims, m, rows, batchSize, n.config.MaxEpoch)
	for epoch := 1; epoch <= n.config.MaxEpoch; epoch++ {
		epochStart := time.Now()
		if n.config.RandPerm {
			n.rng.Shuffle(len(order), func(i, j int) {
				order[i], order[j] = order[j], order[i]
			})
		}
		for _, batch := range createBatches(order, batchSize) {
			if err := ctx.Err(); err != nil {
				return report, errors.Wrapf(err, "training interrupted in epoch %d", epoch)
			}
			var xb, tb *mat.Dense
			if n.config.RandPerm {
				xb, tb = gatherRows(x, batch), gatherRows(t, batch)
			} else {
				lo, hi := batch[0], batch[len(batch)-1]+1
				xb = x.Slice(lo, hi, 0, xc).(*mat.Dense)
				tb = t.Slice(lo, hi, 0, tc).(*mat.Dense)
			}
			if err := n.step(xb, tb, m, &report.Timing); err != nil {
				return report, errors.Wrapf(err, "epoch %d batch %d", epoch, report.Batches)
			}
			report.Batches++
		}
		report.Epochs = epoch

		evalStart := time.Now()
		trainAcc, trainCost, err := n.Evaluate(train, m)
		if err != nil {
			return report, errors.Wrap(err, "evaluating training set")
		}
		validAcc, _, err := n.Evaluate(valid, m)
		if err != nil {
			return report, errors.Wrap(err, "evaluating validation set")
		}
		report.Timing.EvaluationTime += time.Since(evalStart)
		report.TrainAccuracy, report.ValidAccuracy = trainAcc, validAcc

		n.logger.Printf("epoch %d/%d | cost %.6f | train %.2f%% | valid %.2f%% | %.2fs",
			epoch, n.config.MaxEpoch, trainCost/float64(rows), 100*trainAcc, 100*validAcc,
			time.Since(epochStart).Seconds())

		if validAcc >= n.config.MinValidAccuracy {
			report.Reached = true
			n.logger.Printf("validation accuracy %.2f%% reached minimum %.2f%%",
				100*validAcc, 100*n.config.MinValidAccuracy)
			break
		}
	}
	return report, nil
}

// createBatches partitions order into consecutive batches of batchSize; the
// last batch holds the remainder.
func createBatches(order []int, batchSize int) [][]int {
	numBatches := (len(order) + batchSize - 1) / batchSize
	batches := make([][]int, numBatches)
	for i := 0; i < numBatches; i++ {
		startIdx := i * batchSize
		endIdx := min(startIdx+batchSize, len(order))
		batches[i] = order[startIdx:endIdx]
	}
	return batches
}

// gradients holds per-layer weight and bias gradient sums.
type gradients struct {
	w []*mat.Dense
	b []*mat.VecDense
}

func (g *gradients) add(o *gradients) {
	for i := range g.w {
		g.w[i].Add(g.w[i], o.w[i])
		g.b[i].AddVec(g.b[i], o.b[i])
	}
}

// step performs one forward/backward pass over a batch and applies the
// averaged gradients to every layer.
func (n *DNN) step(x, t *mat.Dense, m ErrorMeasure, timing *utils.TimingStats) error {
	rows, xc := x.Dims()
	_, tc := t.Dims()
	chunks := chunkRows(rows, n.config.Workers)

	partial := make([]*gradients, len(chunks))
	if len(chunks) == 1 {
		partial[0] = n.accumulate(x, t, m, timing)
	} else {
		start := time.Now()
		chunkTiming := make([]utils.TimingStats, len(chunks))
		var wg sync.WaitGroup
		for k, c := range chunks {
			wg.Add(1)
			go func(k, lo, hi int) {
				defer wg.Done()
				xs := x.Slice(lo, hi, 0, xc)
				ts := t.Slice(lo, hi, 0, tc)
				partial[k] = n.accumulate(xs, ts, m, &chunkTiming[k])
			}(k, c[0], c[1])
		}
		wg.Wait()
		if timing != nil {
			splitElapsed(timing, time.Since(start), chunkTiming)
		}
	}

	updateStart := time.Now()
	total := partial[0]
	for _, p := range partial[1:] {
		total.add(p)
	}
	scale := 1 / float64(rows)
	for i, l := range n.layers {
		total.w[i].Scale(scale, total.w[i])
		total.b[i].ScaleVec(scale, total.b[i])
		if err := l.ApplyGradient(total.w[i], total.b[i], n.config.LearningRate); err != nil {
			return errors.Wrapf(err, "layer %d", i)
		}
	}
	if timing != nil {
		timing.UpdateTime += time.Since(updateStart)
	}
	return nil
}

// splitElapsed charges the wall-clock time of a parallel pass to the forward
// and backward phases in the proportion the chunks spent in each.
func splitElapsed(timing *utils.TimingStats, elapsed time.Duration, chunks []utils.TimingStats) {
	var fwd, bwd time.Duration
	for _, c := range chunks {
		fwd += c.ForwardPassTime
		bwd += c.BackwardPassTime
	}
	if fwd+bwd == 0 {
		timing.ForwardPassTime += elapsed
		return
	}
	f := time.Duration(float64(elapsed) * float64(fwd) / float64(fwd+bwd))
	timing.ForwardPassTime += f
	timing.BackwardPassTime += elapsed - f
}

// accumulate returns the gradient sums of x against t. It reads the weights
// but never writes them, so chunks of one batch can run concurrently.
func (n *DNN) accumulate(x, t mat.Matrix, m ErrorMeasure, timing *utils.TimingStats) *gradients {
	start := time.Now()
	acts := make([]*mat.Dense, len(n.layers)+1)
	acts[0] = asDense(x)
	for i, l := range n.layers {
		acts[i+1] = l.propagate(acts[i])
	}
	if timing != nil {
		timing.ForwardPassTime += time.Since(start)
		start = time.Now()
	}

	g := &gradients{
		w: make([]*mat.Dense, len(n.layers)),
		b: make([]*mat.VecDense, len(n.layers)),
	}
	upstream := m.Signal(acts[len(acts)-1], t)
	for i := len(n.layers) - 1; i >= 0; i-- {
		upstream, g.w[i], g.b[i] = n.layers[i].backprop(acts[i], acts[i+1], upstream)
	}
	if timing != nil {
		timing.BackwardPassTime += time.Since(start)
	}
	return g
}

// chunkRows splits rows into at most workers contiguous [lo, hi) ranges.
func chunkRows(rows, workers int) [][2]int {
	if workers <= 1 || rows <= 1 {
		return [][2]int{{0, rows}}
	}
	workers = min(workers, rows)
	size := (rows + workers - 1) / workers
	var chunks [][2]int
	for lo := 0; lo < rows; lo += size {
		chunks = append(chunks, [2]int{lo, min(lo+size, rows)})
	}
	return chunks
}
