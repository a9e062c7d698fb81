// Package metrics scores classifier output against true classes and renders
// the results as text, PNG and HTML.
package metrics

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/astrolight/internal/rapid"
)

var (
	// ErrLengthMismatch is returned when targets and predictions differ in length.
	ErrLengthMismatch = errors.New("targets and predictions differ in length")
	// ErrEmpty is returned when there is nothing to score.
	ErrEmpty = errors.New("no predictions to score")
	// ErrClassCount is returned when probability vectors do not cover
	// exactly the distinct target classes.
	ErrClassCount = errors.New("probability vector length does not match target class count")
)

// ClassScore holds the per-class metrics.
type ClassScore struct {
	Label     int
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// Report is the result of Evaluate. Rows of the confusion matrices are true
// classes and columns predicted classes, both in Labels order.
type Report struct {
	Labels     []int
	Confusion  *mat.Dense
	Normalized *mat.Dense
	Accuracy   float64
	MacroF1    float64
	Total      int
	Classes    []ClassScore
}

// Evaluate scores predictions against targets. When labels is nil the
// matrix covers every class seen in either slice. Pairs involving a class
// outside labels count towards accuracy but not towards the matrix.
func Evaluate(targets, predictions, labels []int) (*Report, error) {
	if len(targets) != len(predictions) {
		return nil, fmt.Errorf("%w: %d targets, %d predictions", ErrLengthMismatch, len(targets), len(predictions))
	}
	if len(targets) == 0 {
		return nil, ErrEmpty
	}
	if labels == nil {
		labels = unionLabels(targets, predictions)
	}
	if len(labels) == 0 {
		return nil, ErrEmpty
	}
	index := make(map[int]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}

	n := len(labels)
	confusion := mat.NewDense(n, n, nil)
	correct := 0
	for i, t := range targets {
		p := predictions[i]
		if t == p {
			correct++
		}
		ti, okT := index[t]
		pi, okP := index[p]
		if okT && okP {
			confusion.Set(ti, pi, confusion.At(ti, pi)+1)
		}
	}

	r := fromCounts(labels, confusion)
	r.Accuracy = float64(correct) / float64(len(targets))
	r.Total = len(targets)
	return r, nil
}

// FromConfusion rebuilds a report from a stored confusion matrix. Accuracy
// and Total cover only the pairs the matrix counted.
func FromConfusion(labels []int, counts [][]float64) (*Report, error) {
	n := len(labels)
	if n == 0 {
		return nil, ErrEmpty
	}
	if len(counts) != n {
		return nil, fmt.Errorf("%w: %d rows for %d labels", ErrLengthMismatch, len(counts), n)
	}
	confusion := mat.NewDense(n, n, nil)
	for i, row := range counts {
		if len(row) != n {
			return nil, fmt.Errorf("%w: row %d has %d columns for %d labels", ErrLengthMismatch, i, len(row), n)
		}
		confusion.SetRow(i, row)
	}
	r := fromCounts(labels, confusion)
	total := mat.Sum(confusion)
	r.Total = int(total)
	if total > 0 {
		r.Accuracy = mat.Trace(confusion) / total
	}
	return r, nil
}

func fromCounts(labels []int, confusion *mat.Dense) *Report {
	n := len(labels)
	r := &Report{
		Labels:     append([]int(nil), labels...),
		Confusion:  confusion,
		Normalized: normalizeRows(confusion),
		Classes:    make([]ClassScore, n),
	}

	var f1Sum float64
	for i, l := range labels {
		tp := confusion.At(i, i)
		support := mat.Sum(confusion.RowView(i))
		predicted := mat.Sum(confusion.ColView(i))
		cs := ClassScore{Label: l, Support: int(support)}
		if predicted > 0 {
			cs.Precision = tp / predicted
		}
		if support > 0 {
			cs.Recall = tp / support
		}
		if cs.Precision+cs.Recall > 0 {
			cs.F1 = 2 * cs.Precision * cs.Recall / (cs.Precision + cs.Recall)
		}
		f1Sum += cs.F1
		r.Classes[i] = cs
	}
	if n > 0 {
		r.MacroF1 = f1Sum / float64(n)
	}
	return r
}

func unionLabels(a, b []int) []int {
	seen := make(map[int]struct{})
	for _, xs := range [][]int{a, b} {
		for _, x := range xs {
			seen[x] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for x := range seen {
		out = append(out, x)
	}
	sort.Ints(out)
	return out
}

// normalizeRows scales each row to sum to one. Rows without support stay zero.
func normalizeRows(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		sum := mat.Sum(m.RowView(i))
		if sum == 0 {
			continue
		}
		for j := 0; j < c; j++ {
			out.Set(i, j, m.At(i, j)/sum)
		}
	}
	return out
}

// CheckProbabilities verifies that the classifier produced one probability
// per distinct target class.
func CheckProbabilities(targets []int, probs []rapid.Prediction) error {
	if len(probs) == 0 || len(probs[0]) == 0 {
		return ErrEmpty
	}
	classes := len(unionLabels(targets, nil))
	if got := len(probs[0][0]); got != classes {
		return fmt.Errorf("%w: %d probabilities, %d target classes", ErrClassCount, got, classes)
	}
	return nil
}

// labelName returns names[label], or the label number when names does not
// cover it.
func labelName(names []string, label int) string {
	if label >= 0 && label < len(names) {
		return names[label]
	}
	return strconv.Itoa(label)
}

// WriteText prints the accuracy, per-class scores and confusion matrix.
func (r *Report) WriteText(w io.Writer, names []string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "accuracy\t%.4f\t\n", r.Accuracy)
	fmt.Fprintf(tw, "macro f1\t%.4f\t\n", r.MacroF1)
	fmt.Fprintf(tw, "objects\t%d\t\n\n", r.Total)

	fmt.Fprintf(tw, "class\tprecision\trecall\tf1\tsupport\t\n")
	for _, cs := range r.Classes {
		fmt.Fprintf(tw, "%s\t%.4f\t%.4f\t%.4f\t%d\t\n",
			labelName(names, cs.Label), cs.Precision, cs.Recall, cs.F1, cs.Support)
	}

	fmt.Fprintf(tw, "\ntrue \\ predicted\t")
	for _, l := range r.Labels {
		fmt.Fprintf(tw, "%s\t", labelName(names, l))
	}
	fmt.Fprintln(tw)
	for i, l := range r.Labels {
		fmt.Fprintf(tw, "%s\t", labelName(names, l))
		for j := range r.Labels {
			fmt.Fprintf(tw, "%d\t", int(r.Confusion.At(i, j)))
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}
