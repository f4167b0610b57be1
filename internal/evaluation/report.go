package evaluation

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/gocarina/gocsv"
)

// Save writes the report as indented JSON.
func Save(r Report, path string) error {
	data, err := json.MarshalIndent(r, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}

// LoadReport reads a report written by Save.
func LoadReport(path string) (Report, error) {
	var r Report
	data, err := os.ReadFile(path)
	if err != nil {
		return r, fmt.Errorf("failed to read metrics: %w", err)
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("failed to parse metrics: %w", err)
	}
	return r, nil
}

// PredictionRow is one held-out row in the predictions export.
type PredictionRow struct {
	Index       int     `csv:"index"`
	Label       int     `csv:"label"`
	Predicted   int     `csv:"predicted"`
	Probability float64 `csv:"probability"`
}

// SavePredictions writes rows as CSV with a header line.
func SavePredictions(path string, rows []PredictionRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create predictions file: %w", err)
	}
	if err := gocsv.MarshalFile(&rows, file); err != nil {
		file.Close()
		return fmt.Errorf("failed to write predictions: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close predictions file: %w", err)
	}
	return nil
}

// LoadPredictions reads a file written by SavePredictions.
func LoadPredictions(path string) ([]PredictionRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open predictions file: %w", err)
	}
	defer file.Close()

	var rows []PredictionRow
	if err := gocsv.UnmarshalFile(file, &rows); err != nil {
		return nil, fmt.Errorf("failed to read predictions: %w", err)
	}
	return rows, nil
}

// PrintSummary writes a human-readable summary of the report.
func (r Report) PrintSummary(w io.Writer) {
	fmt.Fprintln(w, "\n=== EVALUATION RESULTS ===")
	fmt.Fprintf(w, "Accuracy:  %.4f\n", r.Accuracy)
	fmt.Fprintf(w, "Precision: %.4f\n", r.Precision)
	fmt.Fprintf(w, "Recall:    %.4f\n", r.Recall)
	fmt.Fprintf(w, "F1:        %.4f\n", r.F1)
	if r.ROCAUC != nil {
		fmt.Fprintf(w, "ROC-AUC:   %.4f\n", *r.ROCAUC)
	}
	cm := r.ConfusionMatrix
	fmt.Fprintf(w, "Confusion matrix: [[%d %d] [%d %d]]\n", cm.TN(), cm.FP(), cm.FN(), cm.TP())
	fmt.Fprintln(w, "==========================")
}
