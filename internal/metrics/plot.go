package metrics

import (
	"bytes"
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/astrolight/internal/monitoring"
)

// confusionGrid adapts a square matrix to plotter.GridXYZ. Column c is the
// predicted class and row r the true class.
type confusionGrid struct {
	m *mat.Dense
}

func (g confusionGrid) Dims() (c, r int) {
	r, c = g.m.Dims()
	return c, r
}

func (g confusionGrid) Z(c, r int) float64 { return g.m.At(r, c) }
func (g confusionGrid) X(c int) float64    { return float64(c) }
func (g confusionGrid) Y(r int) float64    { return float64(r) }

// PlotConfusion writes the row-normalised confusion matrix as a PNG heat map.
func PlotConfusion(r *Report, names []string, path string) error {
	n := len(r.Labels)
	if n == 0 {
		return ErrEmpty
	}
	labels := make([]string, n)
	for i, l := range r.Labels {
		labels[i] = labelName(names, l)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Confusion matrix (accuracy %.3f, n=%d)", r.Accuracy, r.Total)
	p.X.Label.Text = "Predicted class"
	p.Y.Label.Text = "True class"

	hm := plotter.NewHeatMap(confusionGrid{m: r.Normalized}, palette.Heat(12, 1))
	hm.Min, hm.Max = 0, 1
	p.Add(hm)

	cells := plotter.XYLabels{
		XYs:    make(plotter.XYs, 0, n*n),
		Labels: make([]string, 0, n*n),
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			cells.XYs = append(cells.XYs, plotter.XY{X: float64(j), Y: float64(i)})
			cells.Labels = append(cells.Labels, fmt.Sprintf("%.2f", r.Normalized.At(i, j)))
		}
	}
	text, err := plotter.NewLabels(cells)
	if err != nil {
		return fmt.Errorf("failed to label confusion matrix: %w", err)
	}
	p.Add(text)

	p.NominalX(labels...)
	p.NominalY(labels...)

	size := vg.Length(n)*vg.Inch + 2*vg.Inch
	if err := p.Save(size, size, path); err != nil {
		return fmt.Errorf("failed to save confusion plot %s: %w", path, err)
	}
	monitoring.Logf("[metrics] wrote confusion plot %s", path)
	return nil
}

// RenderConfusionHTML writes an interactive heat map of the row-normalised
// confusion matrix.
func RenderConfusionHTML(w io.Writer, r *Report, names []string) error {
	n := len(r.Labels)
	if n == 0 {
		return ErrEmpty
	}
	labels := make([]string, n)
	for i, l := range r.Labels {
		labels[i] = labelName(names, l)
	}

	data := make([]opts.HeatMapData, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			data = append(data, opts.HeatMapData{
				Value: [3]interface{}{j, i, r.Normalized.At(i, j)},
				Name:  fmt.Sprintf("%s as %s: %d", labels[i], labels[j], int(r.Confusion.At(i, j))),
			})
		}
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Confusion matrix", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Confusion matrix", Subtitle: fmt.Sprintf("accuracy=%.3f macro_f1=%.3f n=%d", r.Accuracy, r.MacroF1, r.Total)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Data: labels, Name: "Predicted", NameLocation: "middle", NameGap: 30}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: labels, Name: "True", NameLocation: "middle", NameGap: 80}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        1,
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#3e4989", "#26828e", "#35b779", "#fde725"}},
		}),
	)
	hm.AddSeries("confusion", data)

	var buf bytes.Buffer
	if err := hm.Render(&buf); err != nil {
		return fmt.Errorf("failed to render confusion chart: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}
