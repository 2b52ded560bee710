package nn

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"dnn_lib/utils"
)

const (
	modelMagic   = "DNNMODEL"
	modelVersion = uint32(1)
	// maxModelDims bounds the dimension count read from a header.
	maxModelDims = 1 << 16
)

// Save writes the dimension vector followed by every layer's weights and
// bias, input layer first. Paths ending in .json are written as JSON
// weight records, anything else in the binary layout.
func (n *DNN) Save(path string) error {
	if n.state == Uninitialized {
		return ErrUninitializedModel
	}
	if isJSON(path) {
		if err := utils.SaveWeights(path, n.weightRecords()); err != nil {
			return &IOError{Op: "save", Path: path, Msg: "writing json weights", Err: err}
		}
		n.state = Saved
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return &IOError{Op: "save", Path: path, Msg: "creating model file", Err: err}
	}
	w := bufio.NewWriter(f)
	if err := n.encode(w); err != nil {
		f.Close()
		return &IOError{Op: "save", Path: path, Msg: "writing model", Err: err}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return &IOError{Op: "save", Path: path, Msg: "flushing model", Err: err}
	}
	if err := f.Close(); err != nil {
		return &IOError{Op: "save", Path: path, Msg: "closing model file", Err: err}
	}
	n.state = Saved
	return nil
}

// Load reads a model written by Save and returns it Initialized under cfg.
func Load(path string, cfg Config) (*DNN, error) {
	n, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if isJSON(path) {
		records, err := utils.LoadWeights(path)
		if err != nil {
			return nil, &IOError{Op: "load", Path: path, Msg: "reading json weights", Err: err}
		}
		if err := n.fromRecords(records); err != nil {
			return nil, &IOError{Op: "load", Path: path, Msg: err.Error()}
		}
		return n, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &IOError{Op: "load", Path: path, Msg: "opening model file", Err: err}
	}
	defer f.Close()
	if err := n.decode(bufio.NewReader(f)); err != nil {
		return nil, &IOError{Op: "load", Path: path, Msg: "corrupt model", Err: err}
	}
	return n, nil
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

func (n *DNN) encode(w io.Writer) error {
	if _, err := io.WriteString(w, modelMagic); err != nil {
		return err
	}
	dims := make([]uint32, len(n.dims))
	for i, d := range n.dims {
		dims[i] = uint32(d)
	}
	for _, v := range []any{modelVersion, uint8(n.measure), uint32(len(dims)), dims} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	for i, l := range n.layers {
		if _, err := l.W.MarshalBinaryTo(w); err != nil {
			return errors.Wrapf(err, "layer %d weights", i)
		}
		if _, err := l.B.MarshalBinaryTo(w); err != nil {
			return errors.Wrapf(err, "layer %d bias", i)
		}
	}
	return nil
}

func (n *DNN) decode(r io.Reader) error {
	magic := make([]byte, len(modelMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return errors.Wrap(err, "reading header")
	}
	if string(magic) != modelMagic {
		return errors.Errorf("bad magic %q", magic)
	}
	var (
		version uint32
		measure uint8
		count   uint32
	)
	for _, v := range []any{&version, &measure, &count} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return errors.Wrap(err, "reading header")
		}
	}
	if version != modelVersion {
		return errors.Errorf("unsupported model version %d", version)
	}
	if ErrorMeasure(measure) != CrossEntropy && ErrorMeasure(measure) != SquaredError {
		return errors.Errorf("unknown error measure %d", measure)
	}
	if count < 2 || count > maxModelDims {
		return errors.Errorf("dimension count %d out of range", count)
	}
	raw := make([]uint32, count)
	if err := binary.Read(r, binary.LittleEndian, raw); err != nil {
		return errors.Wrap(err, "reading dimensions")
	}
	dims := make([]int, count)
	for i, d := range raw {
		dims[i] = int(d)
	}
	if err := ValidateDims(dims); err != nil {
		return err
	}

	weights := make([]LayerWeights, len(dims)-1)
	for i := range weights {
		w, b := new(mat.Dense), new(mat.VecDense)
		if _, err := w.UnmarshalBinaryFrom(r); err != nil {
			return errors.Wrapf(err, "layer %d weights", i)
		}
		if _, err := b.UnmarshalBinaryFrom(r); err != nil {
			return errors.Wrapf(err, "layer %d bias", i)
		}
		weights[i] = LayerWeights{W: w, B: b}
	}
	n.measure = ErrorMeasure(measure)
	return n.InitWithWeights(dims, weights)
}

func (n *DNN) weightRecords() *utils.ModelWeights {
	records := &utils.ModelWeights{
		Version: fmt.Sprint(modelVersion),
		Measure: n.measure.String(),
		Dims:    n.Dims(),
		Layers:  make([]utils.LayerWeight, len(n.layers)),
	}
	for i, l := range n.layers {
		records.Layers[i] = utils.LayerWeight{
			Weight: utils.DenseToWeightData(fmt.Sprintf("layer_%d_weight", i), l.W),
			Bias:   utils.VecToWeightData(fmt.Sprintf("layer_%d_bias", i), l.B),
		}
	}
	return records
}

func (n *DNN) fromRecords(records *utils.ModelWeights) error {
	switch records.Measure {
	case CrossEntropy.String():
		n.measure = CrossEntropy
	case SquaredError.String():
		n.measure = SquaredError
	default:
		return errors.Errorf("unknown error measure %q", records.Measure)
	}
	if err := ValidateDims(records.Dims); err != nil {
		return err
	}
	if len(records.Layers) != len(records.Dims)-1 {
		return errors.Errorf("%d layers recorded for %d dimensions", len(records.Layers), len(records.Dims))
	}
	weights := make([]LayerWeights, len(records.Layers))
	for i, lw := range records.Layers {
		if lw.Weight == nil || lw.Bias == nil {
			return errors.Errorf("layer %d is missing weights or bias", i)
		}
		w, err := lw.Weight.Dense()
		if err != nil {
			return errors.Wrapf(err, "layer %d", i)
		}
		b, err := lw.Bias.Vec()
		if err != nil {
			return errors.Wrapf(err, "layer %d", i)
		}
		weights[i] = LayerWeights{W: w, B: b}
	}
	return n.InitWithWeights(records.Dims, weights)
}
