// Package pretrain produces the initial weights a network starts training
// from.
package pretrain

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"dnn_lib/nn"
)

// Initializer supplies seed weights for a prefix of the layers of a network
// with the given dims. Layers without an entry are drawn randomly by the
// network.
type Initializer interface {
	InitialWeights(ctx context.Context, dims []int) ([]nn.LayerWeights, error)
}

// Mode selects an Initializer.
type Mode int

const (
	ModeRandom Mode = iota
	ModeRBM
	ModeLayerWise
)

// ParseMode maps the numeric --pre option onto a Mode.
func ParseMode(pre int) (Mode, error) {
	switch m := Mode(pre); m {
	case ModeRandom, ModeRBM, ModeLayerWise:
		return m, nil
	}
	return 0, errors.Wrapf(nn.ErrInvalidHyperparameter, "pretraining mode must be 0, 1 or 2 (got %d)", pre)
}

func (m Mode) String() string {
	switch m {
	case ModeRandom:
		return "random"
	case ModeRBM:
		return "rbm"
	case ModeLayerWise:
		return "layer-wise"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Options carries what the pretrainers need. Random ignores all of it.
type Options struct {
	Data nn.Samples
	RBM  RBMConfig

	// Net, Measure, BatchSize and Epochs configure the shallow networks of
	// layer-wise pretraining.
	Net       nn.Config
	Measure   nn.ErrorMeasure
	BatchSize int
	Epochs    int
}

// New builds the Initializer for mode.
func New(mode Mode, opts Options) (Initializer, error) {
	switch mode {
	case ModeRandom:
		return Random{}, nil
	case ModeRBM:
		if opts.Data == nil {
			return nil, errors.New("rbm pretraining needs data")
		}
		return &RBMInit{Data: opts.Data.Features(), Config: opts.RBM}, nil
	case ModeLayerWise:
		if opts.Data == nil {
			return nil, errors.New("layer-wise pretraining needs data")
		}
		return &LayerWise{
			Data:      opts.Data,
			Config:    opts.Net,
			Measure:   opts.Measure,
			BatchSize: opts.BatchSize,
			Epochs:    opts.Epochs,
		}, nil
	}
	return nil, errors.Wrapf(nn.ErrInvalidHyperparameter, "unknown pretraining mode %d", int(mode))
}

// Random leaves every layer to the network's random initialization.
type Random struct{}

func (Random) InitialWeights(ctx context.Context, dims []int) ([]nn.LayerWeights, error) {
	return nil, nn.ValidateDims(dims)
}

// RBMInit pretrains the hidden transitions of dims as a stack of RBMs. The
// output layer stays random and the hidden biases start at zero.
type RBMInit struct {
	Data   mat.Matrix
	Config RBMConfig
}

func (p *RBMInit) InitialWeights(ctx context.Context, dims []int) ([]nn.LayerWeights, error) {
	if err := nn.ValidateDims(dims); err != nil {
		return nil, err
	}
	if len(dims) == 2 {
		return nil, nil
	}
	rbms, err := Pretrain(ctx, p.Data, dims[:len(dims)-1], p.Config)
	if err != nil {
		return nil, err
	}
	weights := make([]nn.LayerWeights, len(rbms))
	for i, r := range rbms {
		weights[i] = nn.LayerWeights{W: r.W}
	}
	return weights, nil
}

// LayerWise pretrains greedily with supervision: every hidden transition is
// trained as the first layer of a shallow network onto the labels, kept, and
// used to transform the data for the next one.
type LayerWise struct {
	Data      nn.Samples
	Config    nn.Config
	Measure   nn.ErrorMeasure
	BatchSize int
	Epochs    int
}

type samples struct{ x, t mat.Matrix }

func (s samples) Features() mat.Matrix { return s.x }
func (s samples) Labels() mat.Matrix   { return s.t }

func (p *LayerWise) InitialWeights(ctx context.Context, dims []int) ([]nn.LayerWeights, error) {
	if err := nn.ValidateDims(dims); err != nil {
		return nil, err
	}
	if p.Epochs <= 0 {
		return nil, errors.Wrapf(nn.ErrInvalidHyperparameter, "pretraining epochs must be > 0 (got %d)", p.Epochs)
	}
	out := dims[len(dims)-1]
	cfg := p.Config
	cfg.MaxEpoch = p.Epochs
	cfg.MinValidAccuracy = 2

	input := p.Data.Features()
	labels := p.Data.Labels()
	var weights []nn.LayerWeights
	for i := 0; i < len(dims)-2; i++ {
		cfg.Seed = p.Config.Seed + int64(i)
		net, err := nn.New(cfg)
		if err != nil {
			return nil, err
		}
		if err := net.Init([]int{dims[i], dims[i+1], out}); err != nil {
			return nil, errors.Wrapf(err, "transition %d", i)
		}
		s := samples{x: input, t: labels}
		if _, err := net.Train(ctx, s, s, p.BatchSize, p.Measure); err != nil {
			return nil, errors.Wrapf(err, "pretraining transition %d", i)
		}
		first := net.Layers()[0]
		weights = append(weights, nn.LayerWeights{
			W: mat.DenseCopyOf(first.W),
			B: mat.VecDenseCopyOf(first.B),
		})
		if input, err = first.Forward(input); err != nil {
			return nil, errors.Wrapf(err, "transition %d", i)
		}
	}
	return weights, nil
}
