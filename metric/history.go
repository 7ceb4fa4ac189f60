package metric

import (
	"os"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// History records the training loss of every update step.
type History struct {
	Epochs []int
	Steps  []int
	Losses []float64
}

// Record appends one step.
func (h *History) Record(epoch, step int, loss float64) {
	h.Epochs = append(h.Epochs, epoch)
	h.Steps = append(h.Steps, step)
	h.Losses = append(h.Losses, loss)
}

// Len returns the number of recorded steps.
func (h *History) Len() int {
	return len(h.Losses)
}

// EpochMean returns the mean loss of one epoch, or 0 if it has no steps.
func (h *History) EpochMean(epoch int) float64 {
	var sum float64
	var n int
	for i, e := range h.Epochs {
		if e == epoch {
			sum += h.Losses[i]
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// DataFrame returns the history as columns epoch, step, loss.
func (h *History) DataFrame() dataframe.DataFrame {
	return dataframe.New(
		series.New(h.Epochs, series.Int, "epoch"),
		series.New(h.Steps, series.Int, "step"),
		series.New(h.Losses, series.Float, "loss"),
	)
}

// WriteCSV writes the history to a CSV file with a header row.
func (h *History) WriteCSV(path string) error {
	df := h.DataFrame()
	if df.Err != nil {
		return errors.Wrap(df.Err, "metric: history dataframe")
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "metric: create history csv")
	}
	defer f.Close()

	if err := df.WriteCSV(f); err != nil {
		return errors.Wrap(err, "metric: write history csv")
	}
	return nil
}

// PlotLoss saves a loss-per-step line chart as an image. The format
// follows the file extension (png, svg, pdf ...).
func (h *History) PlotLoss(path string) error {
	p, err := plot.New()
	if err != nil {
		return errors.Wrap(err, "metric: new plot")
	}
	p.Title.Text = "Training Loss"
	p.X.Label.Text = "step"
	p.Y.Label.Text = "cross-entropy"

	pts := make(plotter.XYs, h.Len())
	for i := range pts {
		pts[i].X = float64(h.Steps[i])
		pts[i].Y = h.Losses[i]
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return errors.Wrap(err, "metric: loss line")
	}
	p.Add(line)

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrap(err, "metric: save loss plot")
	}
	return nil
}
