package utils

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Record is one training run in the analysis log.
type Record struct {
	Name          string
	Dims          []int
	Measure       string
	Pretrain      string
	LearningRate  float64
	BatchSize     int
	Epochs        int
	Batches       int
	End           time.Time
	Duration      time.Duration
	TrainAccuracy float64
	ValidAccuracy float64
}

var analysisHeaders = []string{
	"Name", "Dims", "Measure", "Pretrain", "LR", "BatchSize", "Epochs", "Batches",
	"End Time", "SecondsToTrain", "TrainAccuracy", "ValidAccuracy",
}

func (r Record) fields() []string {
	dims := make([]string, len(r.Dims))
	for i, d := range r.Dims {
		dims[i] = strconv.Itoa(d)
	}
	return []string{
		r.Name,
		strings.Join(dims, "-"),
		r.Measure,
		r.Pretrain,
		strconv.FormatFloat(r.LearningRate, 'f', 4, 64),
		strconv.Itoa(r.BatchSize),
		strconv.Itoa(r.Epochs),
		strconv.Itoa(r.Batches),
		strconv.FormatInt(r.End.Unix(), 10),
		strconv.FormatFloat(r.Duration.Seconds(), 'f', 3, 64),
		strconv.FormatFloat(r.TrainAccuracy, 'f', 5, 64),
		strconv.FormatFloat(r.ValidAccuracy, 'f', 5, 64),
	}
}

// AppendAnalysis appends r to the CSV file at path, writing the header row
// when the file is new.
func AppendAnalysis(path string, r Record) error {
	var needsHeaders bool
	if _, err := os.Stat(path); os.IsNotExist(err) {
		needsHeaders = true
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening analysis file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if needsHeaders {
		if err := w.Write(analysisHeaders); err != nil {
			return fmt.Errorf("writing csv headers: %w", err)
		}
	}
	if err := w.Write(r.fields()); err != nil {
		return fmt.Errorf("writing csv record: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("error writing csv: %w", err)
	}
	return nil
}
