package utils

import (
	"encoding/json"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"
)

// WeightData represents a serializable row-major matrix or vector.
type WeightData struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// LayerWeight contains weights and bias for a layer
type LayerWeight struct {
	Weight *WeightData `json:"weight,omitempty"`
	Bias   *WeightData `json:"bias,omitempty"`
}

// ModelWeights represents all weights in a model, input layer first.
type ModelWeights struct {
	Version string        `json:"version"`
	Measure string        `json:"measure"`
	Dims    []int         `json:"dims"`
	Layers  []LayerWeight `json:"layers"`
}

// SaveWeights saves model weights to a JSON file
func SaveWeights(filepath string, weights *ModelWeights) error {
	data, err := json.MarshalIndent(weights, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal weights: %w", err)
	}
	return os.WriteFile(filepath, data, 0644)
}

// LoadWeights loads model weights from a JSON file
func LoadWeights(filepath string) (*ModelWeights, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read weights file: %w", err)
	}
	var weights ModelWeights
	if err := json.Unmarshal(data, &weights); err != nil {
		return nil, fmt.Errorf("failed to unmarshal weights: %w", err)
	}
	return &weights, nil
}

// DenseToWeightData copies a matrix into weight data.
func DenseToWeightData(name string, m *mat.Dense) *WeightData {
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		data = append(data, m.RawRowView(i)...)
	}
	return &WeightData{Name: name, Shape: []int{r, c}, Data: data}
}

// VecToWeightData copies a vector into weight data.
func VecToWeightData(name string, v *mat.VecDense) *WeightData {
	data := make([]float64, v.Len())
	for i := range data {
		data[i] = v.AtVec(i)
	}
	return &WeightData{Name: name, Shape: []int{v.Len()}, Data: data}
}

// Dense converts 2-D weight data back to a matrix.
func (wd *WeightData) Dense() (*mat.Dense, error) {
	if len(wd.Shape) != 2 || wd.Shape[0] <= 0 || wd.Shape[1] <= 0 {
		return nil, fmt.Errorf("%s: shape %v is not a matrix", wd.Name, wd.Shape)
	}
	if len(wd.Data) != wd.Shape[0]*wd.Shape[1] {
		return nil, fmt.Errorf("%s: %d values for shape %v", wd.Name, len(wd.Data), wd.Shape)
	}
	return mat.NewDense(wd.Shape[0], wd.Shape[1], append([]float64(nil), wd.Data...)), nil
}

// Vec converts 1-D weight data back to a vector.
func (wd *WeightData) Vec() (*mat.VecDense, error) {
	if len(wd.Shape) != 1 || wd.Shape[0] <= 0 {
		return nil, fmt.Errorf("%s: shape %v is not a vector", wd.Name, wd.Shape)
	}
	if len(wd.Data) != wd.Shape[0] {
		return nil, fmt.Errorf("%s: %d values for shape %v", wd.Name, len(wd.Data), wd.Shape)
	}
	return mat.NewVecDense(wd.Shape[0], append([]float64(nil), wd.Data...)), nil
}
