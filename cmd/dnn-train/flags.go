package main

import (
	"flag"
	"fmt"
	"io"
	"path/filepath"

	"dnn_lib/utils"
)

const usageText = `Usage: dnn-train [options] training_set_file [model_file]

Options:
`

// options are the settings that never come from a config file.
type options struct {
	configPath string
	analysis   string
	verbose    bool
	trainFile  string
	modelFile  string
}

func bindFlags(fs *flag.FlagSet, cfg *utils.Config, opts *options) {
	fs.BoolVar(&cfg.RandPerm, "rp", cfg.RandPerm, "perform random permutation at the start of each epoch")
	fs.IntVar(&cfg.Ratio, "v", cfg.Ratio, "ratio of training set to validation set (split automatically)")
	fs.IntVar(&cfg.MaxEpoch, "max-epoch", cfg.MaxEpoch, "number of maximum epochs")
	fs.Float64Var(&cfg.MinAcc, "min-acc", cfg.MinAcc, "specify the minimum cross-validation accuracy")
	fs.Float64Var(&cfg.LearningRate, "learning-rate", cfg.LearningRate, "learning rate in back-propagation")
	fs.Float64Var(&cfg.Variance, "variance", cfg.Variance, "the variance of normal distribution when initializing the weights")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "number of data per mini-batch")
	fs.IntVar(&cfg.Type, "type", cfg.Type, "type of DNN. 0: classification, 1: regression")
	fs.StringVar(&cfg.Nodes, "nodes", cfg.Nodes, "specify the width (nodes) of each hidden layer, e.g. 1024-1024-1024")
	fs.BoolVar(&cfg.Rescale, "rescale", cfg.Rescale, "rescale each feature to [0, 1]")
	fs.Float64Var(&cfg.SlopeThres, "slope-thres", cfg.SlopeThres, "threshold of ratio of slope in RBM pre-training")
	fs.IntVar(&cfg.Pre, "pre", cfg.Pre, "type of pretraining. 0: random, 1: RBM, 2: layer-wise")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed for weights, permutations and sampling")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "goroutines per mini-batch")
	fs.Float64Var(&cfg.Tolerance, "tolerance", cfg.Tolerance, "per-output error accepted as correct in regression")
	fs.IntVar(&cfg.MaxSweeps, "max-sweeps", cfg.MaxSweeps, "maximum RBM sweeps per layer")
	fs.IntVar(&cfg.PretrainEpochs, "pretrain-epochs", cfg.PretrainEpochs, "epochs per layer in layer-wise pretraining")

	fs.StringVar(&opts.configPath, "config", "", "YAML file with option defaults; flags override it")
	fs.StringVar(&opts.analysis, "analysis", "", "append a CSV summary of the run to this file")
	fs.BoolVar(&opts.verbose, "verbose", false, "print timing statistics")
}

// parseArgs reads the command line in two passes: the first only finds
// --config, the second binds every flag over the loaded file so flags win.
// Flags may appear before, between or after the positional arguments.
func parseArgs(args []string, stderr io.Writer) (utils.Config, options, error) {
	var opts options
	cfg := utils.DefaultConfig()

	probe := flag.NewFlagSet("dnn-train", flag.ContinueOnError)
	probe.SetOutput(io.Discard)
	bindFlags(probe, &cfg, &opts)
	if _, err := parseInterleaved(probe, args); err != nil {
		// the second pass reports it with usage
		opts.configPath = ""
	}

	cfg = utils.DefaultConfig()
	if opts.configPath != "" {
		loaded, err := utils.LoadConfig(opts.configPath, cfg)
		if err != nil {
			return cfg, opts, err
		}
		cfg = loaded
	}

	fs := flag.NewFlagSet("dnn-train", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usageText)
		fs.PrintDefaults()
	}
	bindFlags(fs, &cfg, &opts)
	positional, err := parseInterleaved(fs, args)
	if err != nil {
		return cfg, opts, err
	}

	switch len(positional) {
	case 1:
		opts.trainFile = positional[0]
		opts.modelFile = filepath.Base(opts.trainFile) + ".model"
	case 2:
		opts.trainFile, opts.modelFile = positional[0], positional[1]
	default:
		fs.Usage()
		return cfg, opts, fmt.Errorf("expected training_set_file [model_file], got %d arguments", len(positional))
	}
	if err := cfg.Validate(); err != nil {
		return cfg, opts, err
	}
	return cfg, opts, nil
}

// parseInterleaved parses fs repeatedly, collecting the positional arguments
// the flag package stops at.
func parseInterleaved(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		rest := fs.Args()
		if len(rest) == 0 {
			return positional, nil
		}
		// everything after a "--" terminator is positional
		if i := len(args) - len(rest) - 1; i >= 0 && args[i] == "--" {
			return append(positional, rest...), nil
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}
}
