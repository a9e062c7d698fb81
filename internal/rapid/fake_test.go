package rapid

import (
	"context"
	"errors"
	"sync"

	"github.com/banshee-data/astrolight/internal/plasticc"
)

// fakeClassifier answers every curve with a fixed per-timestep vector that
// favours class (ObjectID mod classes) at the last step.
type fakeClassifier struct {
	mu       sync.Mutex
	opts     ClassifierOptions
	classes  int
	predicts [][]plasticc.LightCurve
	trained  []TrainRequest
	fetched  [][]plasticc.LightCurve
	labels   [][]int
	closed   bool
	short    bool
	err      error
}

func (f *fakeClassifier) Predict(ctx context.Context, curves []plasticc.LightCurve) ([]Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.predicts = append(f.predicts, curves)
	out := make([]Prediction, 0, len(curves))
	for _, lc := range curves {
		p := make(Prediction, lc.Len())
		for step := range p {
			probs := make([]float64, f.classes)
			probs[0] = 1
			if step == len(p)-1 {
				probs[0] = 0
				probs[int(lc.ObjectID)%f.classes] = 1
			}
			p[step] = probs
		}
		out = append(out, p)
	}
	if f.short && len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (f *fakeClassifier) Train(ctx context.Context, req TrainRequest) error {
	if f.err != nil {
		return f.err
	}
	curves, labels, err := req.Fetch(ctx)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trained = append(f.trained, req)
	f.fetched = append(f.fetched, curves)
	f.labels = append(f.labels, labels)
	return nil
}

func (f *fakeClassifier) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// fakeDialer records every classifier it builds.
type fakeDialer struct {
	mu      sync.Mutex
	classes int
	built   []*fakeClassifier
	err     error
}

func (d *fakeDialer) dial(ctx context.Context, opts ClassifierOptions) (Classifier, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	c := &fakeClassifier{opts: opts, classes: d.classes}
	d.built = append(d.built, c)
	return c, nil
}

func (d *fakeDialer) last() *fakeClassifier {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.built[len(d.built)-1]
}

var errBoom = errors.New("boom")
