package head

import "gonum.org/v1/gonum/mat"

// Tally accumulates a metric over evaluation batches.
type Tally interface {
	Add(logits *mat.Dense, labels []float64)
	// Value is accuracy over all rows seen, or the Pearson correlation of
	// all predictions seen.
	Value() float64
	Count() int
}

type accuracyTally struct{ correct, total int }

func (t *accuracyTally) Add(logits *mat.Dense, labels []float64) {
	t.correct += correct(logits, labels)
	t.total += len(labels)
}

func (t *accuracyTally) Value() float64 {
	if t.total == 0 {
		return 0
	}
	return float64(t.correct) / float64(t.total)
}

func (t *accuracyTally) Count() int { return t.total }

type pearsonTally struct{ preds, labels []float64 }

func (t *pearsonTally) Add(logits *mat.Dense, labels []float64) {
	t.preds = append(t.preds, mat.Col(nil, 0, logits)...)
	t.labels = append(t.labels, labels...)
}

func (t *pearsonTally) Value() float64 { return pearson(t.preds, t.labels) }
func (t *pearsonTally) Count() int     { return len(t.labels) }
