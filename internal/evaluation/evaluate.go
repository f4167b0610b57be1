// Package evaluation computes binary classification metrics for churn predictions and
// writes them, together with per-row test predictions, to disk.
package evaluation

import (
	"errors"
	"fmt"
)

var ErrSingleClass = errors.New("roc_auc is undefined when y_true holds a single class")

// ConfusionMatrix is laid out as [[tn, fp], [fn, tp]].
type ConfusionMatrix [2][2]int

func (c ConfusionMatrix) TN() int { return c[0][0] }
func (c ConfusionMatrix) FP() int { return c[0][1] }
func (c ConfusionMatrix) FN() int { return c[1][0] }
func (c ConfusionMatrix) TP() int { return c[1][1] }

// Report holds the held-out scores of a trained model. ROCAUC is nil when no
// probabilities were supplied.
type Report struct {
	Accuracy        float64         `json:"accuracy"`
	Precision       float64         `json:"precision"`
	Recall          float64         `json:"recall"`
	F1              float64         `json:"f1"`
	ROCAUC          *float64        `json:"roc_auc,omitempty"`
	ConfusionMatrix ConfusionMatrix `json:"confusion_matrix"`
}

// Evaluate scores predictions against ground truth. Precision, recall and F1 are 0
// when their denominators are 0. yProba may be nil.
func Evaluate(yTrue, yPred []int, yProba []float64) (Report, error) {
	if len(yTrue) == 0 {
		return Report{}, errors.New("no labels to evaluate")
	}
	if len(yPred) != len(yTrue) {
		return Report{}, fmt.Errorf("y_pred has %d entries, y_true has %d", len(yPred), len(yTrue))
	}
	if yProba != nil && len(yProba) != len(yTrue) {
		return Report{}, fmt.Errorf("y_proba has %d entries, y_true has %d", len(yProba), len(yTrue))
	}

	var cm ConfusionMatrix
	for i := range yTrue {
		t, p := yTrue[i], yPred[i]
		if (t != 0 && t != 1) || (p != 0 && p != 1) {
			return Report{}, fmt.Errorf("row %d: labels must be 0 or 1, got true=%d pred=%d", i, t, p)
		}
		cm[t][p]++
	}

	r := Report{
		Accuracy:        float64(cm.TP()+cm.TN()) / float64(len(yTrue)),
		Precision:       safeDiv(cm.TP(), cm.TP()+cm.FP()),
		Recall:          safeDiv(cm.TP(), cm.TP()+cm.FN()),
		ConfusionMatrix: cm,
	}
	if r.Precision+r.Recall > 0 {
		r.F1 = 2 * r.Precision * r.Recall / (r.Precision + r.Recall)
	}

	if yProba != nil {
		auc, err := ROCAUC(yTrue, yProba)
		if err != nil {
			return Report{}, err
		}
		r.ROCAUC = &auc
	}
	return r, nil
}

func safeDiv(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// Scalars flattens the report into named numbers for experiment tracking.
func (r Report) Scalars() map[string]float64 {
	out := map[string]float64{
		"accuracy":  r.Accuracy,
		"precision": r.Precision,
		"recall":    r.Recall,
		"f1":        r.F1,
		"tn":        float64(r.ConfusionMatrix.TN()),
		"fp":        float64(r.ConfusionMatrix.FP()),
		"fn":        float64(r.ConfusionMatrix.FN()),
		"tp":        float64(r.ConfusionMatrix.TP()),
	}
	if r.ROCAUC != nil {
		out["roc_auc"] = *r.ROCAUC
	}
	return out
}
