// dnn-train: trains a feed-forward network on a labelled data file
//
// Usage:
//
//	dnn-train [options] training_set_file [model_file]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"

	"dnn_lib/dataset"
	"dnn_lib/nn"
	"dnn_lib/pretrain"
	"dnn_lib/utils"
)

func main() {
	os.Exit(realMain(os.Args[1:]))
}

// realMain returns the process exit code so deferred cleanup runs before
// os.Exit.
func realMain(args []string) int {
	log.SetFlags(log.Ltime)

	cfg, opts, err := parseArgs(args, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		log.Printf("invalid arguments: %v", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts); err != nil {
		log.Printf("training failed: %v", err)
		return 1
	}
	return 0
}

func netConfig(cfg utils.Config, logger *log.Logger) nn.Config {
	return nn.Config{
		Variance:         cfg.Variance,
		LearningRate:     cfg.LearningRate,
		MinValidAccuracy: cfg.MinAcc,
		MaxEpoch:         cfg.MaxEpoch,
		RandPerm:         cfg.RandPerm,
		Seed:             cfg.Seed,
		Workers:          cfg.Workers,
		Tolerance:        cfg.Tolerance,
		Logger:           logger,
	}
}

func rbmConfig(cfg utils.Config, logger *log.Logger) pretrain.RBMConfig {
	rc := pretrain.DefaultRBMConfig()
	rc.BatchSize = cfg.BatchSize
	rc.Variance = cfg.Variance
	rc.SlopeThreshold = cfg.SlopeThres
	rc.MaxSweeps = cfg.MaxSweeps
	rc.Seed = cfg.Seed
	rc.Logger = logger
	return rc
}

// pretrainSet picks the rows an initializer learns from. RBM pretraining is
// unsupervised and sees every row; layer-wise pretraining fits labels, so it
// only sees the training split.
func pretrainSet(mode pretrain.Mode, data, train *dataset.DataSet) nn.Samples {
	if mode == pretrain.ModeLayerWise {
		return train
	}
	return data
}

func run(ctx context.Context, cfg utils.Config, opts options) error {
	stats := utils.TimingStats{}
	totalStart := time.Now()
	logger := log.Default()

	measure, err := nn.ParseErrorMeasure(cfg.Type)
	if err != nil {
		return err
	}
	mode, err := pretrain.ParseMode(cfg.Pre)
	if err != nil {
		return err
	}
	hidden, err := utils.ParseStructure(cfg.Nodes)
	if err != nil {
		return err
	}

	start := time.Now()
	data, err := dataset.Load(opts.trainFile, dataset.Options{Type: dataset.Task(cfg.Type)})
	if err != nil {
		return err
	}
	if cfg.Rescale {
		data.Rescale()
	}
	data.Shuffle(rand.New(rand.NewSource(uint64(cfg.Seed))))
	stats.DataLoadingTime = time.Since(start)

	data.Summary(os.Stdout)
	dims := data.Dims(hidden)
	fmt.Printf("| Number of Hidden Layers        |%9d |\n", len(dims)-2)

	train, valid, err := data.Split(cfg.Ratio)
	if err != nil {
		return err
	}

	netCfg := netConfig(cfg, logger)
	initializer, err := pretrain.New(mode, pretrain.Options{
		Data:      pretrainSet(mode, data, train),
		RBM:       rbmConfig(cfg, logger),
		Net:       netCfg,
		Measure:   measure,
		BatchSize: cfg.BatchSize,
		Epochs:    cfg.PretrainEpochs,
	})
	if err != nil {
		return err
	}
	start = time.Now()
	weights, err := initializer.InitialWeights(ctx, dims)
	if err != nil {
		return errors.Wrapf(err, "%s pretraining", mode)
	}
	stats.PretrainTime = time.Since(start)

	start = time.Now()
	dnn, err := nn.New(netCfg)
	if err != nil {
		return err
	}
	if err := dnn.InitWithWeights(dims, weights); err != nil {
		return err
	}
	stats.ModelInitTime = time.Since(start)
	log.Printf("initialized %v with %s weights for %d of %d layers", dims, mode, len(weights), len(dims)-1)

	report, err := dnn.Train(ctx, train, valid, cfg.BatchSize, measure)
	switch {
	case errors.Is(err, context.Canceled):
		log.Printf("interrupted: %v; saving the partially trained model", err)
	case err != nil:
		return err
	}
	stats.Add(report.Timing)

	start = time.Now()
	if err := dnn.Save(opts.modelFile); err != nil {
		return err
	}
	stats.SaveTime = time.Since(start)
	stats.TotalTime = time.Since(totalStart)
	log.Printf("saved model to %s (train %.2f%%, valid %.2f%% after %d epochs)",
		opts.modelFile, 100*report.TrainAccuracy, 100*report.ValidAccuracy, report.Epochs)

	if opts.analysis != "" {
		rec := utils.Record{
			Name:          filepath.Base(opts.trainFile),
			Dims:          dims,
			Measure:       measure.String(),
			Pretrain:      mode.String(),
			LearningRate:  cfg.LearningRate,
			BatchSize:     cfg.BatchSize,
			Epochs:        report.Epochs,
			Batches:       report.Batches,
			End:           time.Now(),
			Duration:      report.Timing.TotalTime,
			TrainAccuracy: report.TrainAccuracy,
			ValidAccuracy: report.ValidAccuracy,
		}
		if err := utils.AppendAnalysis(opts.analysis, rec); err != nil {
			return err
		}
	}

	if opts.verbose {
		utils.PrintTimingStats(os.Stdout, &stats, report.Batches)
	}
	return nil
}
