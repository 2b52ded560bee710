package dataset

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Task selects how the label column of a data file is interpreted.
type Task int

const (
	// Classification one-hot encodes non-negative integer labels.
	Classification Task = iota
	// Regression keeps the label as a single target column.
	Regression
)

func (t Task) String() string {
	switch t {
	case Classification:
		return "classification"
	case Regression:
		return "regression"
	}
	return fmt.Sprintf("Task(%d)", int(t))
}

// Options controls how a data file is read.
type Options struct {
	Type Task
	// Classes forces the number of label columns under Classification. Zero
	// uses the largest label plus one, up to 65536 classes.
	Classes int
	// Features forces the feature width. Sparse rows are padded up to it;
	// dense rows must match it. Zero uses the width found in the file, with
	// sparse indices limited to 1<<22.
	Features int
}

// LineError reports a malformed line of a data file.
type LineError struct {
	Line int
	Msg  string
}

func (e *LineError) Error() string {
	return fmt.Sprintf("at line %d, %s", e.Line, e.Msg)
}

// Load reads the data file at path.
func Load(path string, opts Options) (*DataSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening data file")
	}
	defer f.Close()
	d, err := Read(f, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return d, nil
}

// Without forced widths, labels and sparse indices are bounded so a single
// malformed line cannot demand an arbitrarily large matrix.
const (
	maxClasses  = 1 << 16
	maxFeatures = 1 << 22
)

type row struct {
	label  float64
	dense  []float64
	sparse map[int]float64
}

type form int

const (
	formUnknown form = iota
	formDense
	formSparse
)

// Read parses one sample per line. A line is either dense, "label v1 v2 ...",
// or sparse, "label i:v i:v ..." with 1-based feature indices. Blank lines
// and lines starting with # are skipped. Every line of a file uses the same
// form; a label-only line is a sparse sample with no non-zero features.
func Read(r io.Reader, opts Options) (*DataSet, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)

	indexLimit := maxFeatures
	if opts.Features > 0 {
		indexLimit = opts.Features
	}
	var (
		rows      []row
		lineNum   int
		width     int
		fileForm  form
		labelOnly int
	)
	for scanner.Scan() {
		lineNum++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		label, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, &LineError{Line: lineNum, Msg: fmt.Sprintf("parsing label %q", fields[0])}
		}
		if err := checkLabel(label, opts); err != nil {
			return nil, &LineError{Line: lineNum, Msg: err.Error()}
		}

		values := fields[1:]
		rw := row{label: label}
		if len(values) == 0 {
			if labelOnly == 0 {
				labelOnly = lineNum
			}
			if fileForm == formDense {
				return nil, &LineError{Line: lineNum, Msg: fmt.Sprintf("expected %d values, got 0", width)}
			}
			rw.sparse = map[int]float64{}
			rows = append(rows, rw)
			continue
		}

		lineForm := formDense
		if strings.Contains(values[0], ":") {
			lineForm = formSparse
		}
		switch {
		case fileForm == formUnknown:
			if lineForm == formDense && labelOnly > 0 {
				return nil, &LineError{Line: labelOnly, Msg: fmt.Sprintf("expected %d values, got 0", len(values))}
			}
			fileForm = lineForm
		case lineForm != fileForm:
			return nil, &LineError{Line: lineNum, Msg: "mixes dense and sparse rows"}
		}

		if fileForm == formSparse {
			rw.sparse = make(map[int]float64, len(values))
			for _, f := range values {
				idx, val, ok := strings.Cut(f, ":")
				if !ok {
					return nil, &LineError{Line: lineNum, Msg: fmt.Sprintf("expected index:value, got %q", f)}
				}
				i, err := strconv.Atoi(idx)
				if err != nil || i < 1 {
					return nil, &LineError{Line: lineNum, Msg: fmt.Sprintf("invalid feature index %q", idx)}
				}
				if i > indexLimit {
					return nil, &LineError{Line: lineNum, Msg: fmt.Sprintf("feature index %d exceeds %d features", i, indexLimit)}
				}
				v, err := strconv.ParseFloat(val, 64)
				if err != nil {
					return nil, &LineError{Line: lineNum, Msg: fmt.Sprintf("parsing value %q", val)}
				}
				rw.sparse[i-1] = v
				width = max(width, i)
			}
		} else {
			if width > 0 && len(values) != width {
				return nil, &LineError{Line: lineNum, Msg: fmt.Sprintf("expected %d values, got %d", width, len(values))}
			}
			width = len(values)
			rw.dense = make([]float64, width)
			for i, f := range values {
				v, err := strconv.ParseFloat(f, 64)
				if err != nil {
					return nil, &LineError{Line: lineNum, Msg: fmt.Sprintf("parsing value %q", f)}
				}
				rw.dense[i] = v
			}
		}
		rows = append(rows, rw)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scanning data")
	}
	if len(rows) == 0 {
		return nil, errors.New("no samples")
	}
	if opts.Features > 0 {
		if width > opts.Features || (fileForm == formDense && width != opts.Features) {
			return nil, errors.Errorf("samples have %d features, want %d", width, opts.Features)
		}
		width = opts.Features
	}
	if width == 0 {
		return nil, errors.New("samples have no features")
	}

	features := mat.NewDense(len(rows), width, nil)
	for i, rw := range rows {
		if rw.dense != nil {
			features.SetRow(i, rw.dense)
			continue
		}
		for j, v := range rw.sparse {
			features.Set(i, j, v)
		}
	}
	return New(features, labelMatrix(rows, opts))
}

func checkLabel(label float64, opts Options) error {
	if math.IsNaN(label) || math.IsInf(label, 0) {
		return errors.Errorf("label %v is not finite", label)
	}
	if opts.Type != Classification {
		return nil
	}
	if label < 0 || label != math.Trunc(label) {
		return errors.Errorf("class label %v is not a non-negative integer", label)
	}
	if opts.Classes > 0 && label >= float64(opts.Classes) {
		return errors.Errorf("class label %v out of range for %d classes", label, opts.Classes)
	}
	if opts.Classes == 0 && label >= maxClasses {
		return errors.Errorf("class label %v exceeds the %d class limit", label, maxClasses)
	}
	return nil
}

func labelMatrix(rows []row, opts Options) *mat.Dense {
	if opts.Type == Regression {
		prob := mat.NewDense(len(rows), 1, nil)
		for i, rw := range rows {
			prob.Set(i, 0, rw.label)
		}
		return prob
	}
	classes := opts.Classes
	if classes == 0 {
		for _, rw := range rows {
			classes = max(classes, int(rw.label)+1)
		}
	}
	prob := mat.NewDense(len(rows), classes, nil)
	for i, rw := range rows {
		prob.Set(i, int(rw.label), 1)
	}
	return prob
}
