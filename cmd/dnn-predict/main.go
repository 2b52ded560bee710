// dnn-predict: runs a saved model over a labelled data file
//
// Usage:
//
//	dnn-predict [options] testing_set_file model_file [output_file]
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"dnn_lib/dataset"
	"dnn_lib/nn"
)

var (
	rescale   = flag.Bool("rescale", false, "rescale each feature to [0, 1]")
	tolerance = flag.Float64("tolerance", 0.5, "per-output error accepted as correct in regression")
)

func main() {
	log.SetFlags(0)
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: dnn-predict [options] testing_set_file model_file [output_file]")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 2 || flag.NArg() > 3 {
		flag.Usage()
		os.Exit(2)
	}

	out := io.Writer(os.Stdout)
	if flag.NArg() == 3 {
		f, err := os.Create(flag.Arg(2))
		if err != nil {
			log.Fatalf("create output: %v", err)
		}
		defer f.Close()
		out = f
	}

	acc, err := predict(flag.Arg(0), flag.Arg(1), *rescale, *tolerance, out)
	if err != nil {
		log.Fatalf("prediction failed: %v", err)
	}
	fmt.Fprintf(os.Stderr, "Accuracy = %.4f%%\n", 100*acc)
}

// predictConfig only needs to pass validation; a loaded model is never
// trained.
func predictConfig(tol float64) nn.Config {
	return nn.Config{
		Variance:     1,
		LearningRate: 1,
		MaxEpoch:     1,
		Tolerance:    tol,
	}
}

func predict(testFile, modelFile string, rescale bool, tol float64, w io.Writer) (float64, error) {
	model, err := nn.Load(modelFile, predictConfig(tol))
	if err != nil {
		return 0, err
	}
	dims := model.Dims()
	opts := dataset.Options{Features: dims[0]}
	if model.Measure() == nn.SquaredError {
		opts.Type = dataset.Regression
	} else {
		opts.Classes = dims[len(dims)-1]
	}
	data, err := dataset.Load(testFile, opts)
	if err != nil {
		return 0, err
	}
	if rescale {
		data.Rescale()
	}

	output, err := model.Predict(data.Features())
	if err != nil {
		return 0, err
	}
	if err := writePredictions(w, output, model.Measure()); err != nil {
		return 0, errors.Wrap(err, "writing predictions")
	}
	acc, _, err := model.Evaluate(data, model.Measure())
	return acc, err
}

// writePredictions writes one line per row: the class index under
// CrossEntropy, the output values otherwise.
func writePredictions(w io.Writer, output *mat.Dense, m nn.ErrorMeasure) error {
	bw := bufio.NewWriter(w)
	rows, _ := output.Dims()
	for i := 0; i < rows; i++ {
		row := output.RawRowView(i)
		if m == nn.CrossEntropy {
			fmt.Fprintln(bw, floats.MaxIdx(row))
			continue
		}
		vals := make([]string, len(row))
		for j, v := range row {
			vals[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		fmt.Fprintln(bw, strings.Join(vals, " "))
	}
	return bw.Flush()
}
