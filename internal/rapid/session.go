package rapid

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/banshee-data/astrolight/internal/catalog"
	"github.com/banshee-data/astrolight/internal/monitoring"
	"github.com/banshee-data/astrolight/internal/plasticc"
)

// ErrPredictionCount is returned when the classifier answers with a
// different number of predictions than curves it was given. It means the
// classifier and this adapter disagree on the record layout and the run
// cannot be trusted.
var ErrPredictionCount = errors.New("prediction count does not match label count")

// SessionOptions configure a Session.
type SessionOptions struct {
	// ModelPath loads a persisted model instead of the default one.
	ModelPath string
	// Convert controls how the session's catalog is serialised.
	Convert plasticc.Options
}

// Session owns a classifier and the catalog it is evaluated on. The catalog
// may be replaced at any time; each operation works on a snapshot taken when
// it starts.
type Session struct {
	dial Dialer
	opts SessionOptions

	mu         sync.RWMutex
	classifier Classifier
	data       catalog.Catalog
}

// NewSession constructs the classifier, from opts.ModelPath when set. The
// session starts with an empty catalog.
func NewSession(ctx context.Context, dial Dialer, opts SessionOptions) (*Session, error) {
	c, err := dial(ctx, ClassifierOptions{KnownRedshift: true, ModelPath: opts.ModelPath})
	if err != nil {
		return nil, fmt.Errorf("failed to construct classifier: %w", err)
	}
	return &Session{
		dial:       dial,
		opts:       opts,
		classifier: c,
	}, nil
}

// SetMetadata replaces the metadata table.
func (s *Session) SetMetadata(meta []catalog.Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Metadata = meta
}

// SetCurves replaces the photometry table.
func (s *Session) SetCurves(obs []catalog.Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Observations = obs
}

// SetData replaces both tables.
func (s *Session) SetData(data catalog.Catalog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
}

// Data returns the current tables.
func (s *Session) Data() catalog.Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

func (s *Session) snapshot() (Classifier, catalog.Catalog) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.classifier, s.data
}

// Close releases the classifier.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.classifier == nil {
		return nil
	}
	err := s.classifier.Close()
	s.classifier = nil
	return err
}

// TrainOptions select what a training run sees and where it saves.
type TrainOptions struct {
	// Classes and Bands override the session's conversion maps when non-nil.
	Classes        catalog.ClassMap
	Bands          catalog.BandMap
	SaveDir        string
	SaveFilename   string
	LoadAfterTrain bool
}

// Train fits a new model on the session's catalog. The classifier pulls the
// data through the request's Fetch callback.
func (s *Session) Train(ctx context.Context, opts TrainOptions) error {
	c, _ := s.snapshot()
	if c == nil {
		return errors.New("session is closed")
	}

	conv := s.opts.Convert
	if opts.Classes != nil {
		conv.Classes = opts.Classes
	}
	if opts.Bands != nil {
		conv.Bands = opts.Bands
	}
	classes := conv.Classes
	if classes == nil {
		classes = catalog.DefaultClassMap()
	}
	bands := conv.Bands
	if bands == nil {
		bands = catalog.DefaultBandMap()
	}
	filename := opts.SaveFilename
	if filename == "" {
		filename = DefaultModelFilename
	}

	req := TrainRequest{
		Fetch: func(ctx context.Context) ([]plasticc.LightCurve, []int, error) {
			return plasticc.ConvertCatalog(s.Data(), conv)
		},
		ClassNums:    classes.Targets(),
		Passbands:    bands.Labels(),
		SaveDir:      opts.SaveDir,
		SaveFilename: filename,
	}
	monitoring.Logf("[rapid] training on classes %v, passbands %v", req.ClassNums, req.Passbands)
	if err := c.Train(ctx, req); err != nil {
		return fmt.Errorf("training failed: %w", err)
	}

	if !opts.LoadAfterTrain {
		return nil
	}
	modelPath := filepath.Join(opts.SaveDir, filename)
	next, err := s.dial(ctx, ClassifierOptions{KnownRedshift: true, ModelPath: modelPath})
	if err != nil {
		return fmt.Errorf("failed to load trained model %s: %w", modelPath, err)
	}
	s.mu.Lock()
	prev := s.classifier
	s.classifier = next
	s.opts.ModelPath = modelPath
	s.mu.Unlock()
	if prev != nil {
		if err := prev.Close(); err != nil {
			monitoring.Logf("[rapid] failed to close previous classifier: %v", err)
		}
	}
	monitoring.Logf("[rapid] loaded trained model %s", modelPath)
	return nil
}

// TestOptions control a test run.
type TestOptions struct {
	// ReturnProbabilities keeps the raw per-timestep probabilities instead
	// of reducing each object to its final most likely class.
	ReturnProbabilities bool
}

// TestResult pairs the true classes with the classifier's answers. Targets
// are one-based to match the classifier's class numbering, where 0 is the
// pre-explosion class.
type TestResult struct {
	ObjectIDs     []int64
	Targets       []int
	Predictions   []int
	Probabilities []Prediction
}

// Test classifies the session's catalog.
func (s *Session) Test(ctx context.Context, opts TestOptions) (*TestResult, error) {
	c, data := s.snapshot()
	if c == nil {
		return nil, errors.New("session is closed")
	}
	monitoring.Logf("[rapid] testing model")

	curves, labels, err := plasticc.ConvertCatalog(data, s.opts.Convert)
	if err != nil {
		return nil, err
	}

	res := &TestResult{
		ObjectIDs: make([]int64, len(curves)),
		Targets:   make([]int, len(labels)),
	}
	for i, lc := range curves {
		res.ObjectIDs[i] = lc.ObjectID
	}
	for i, l := range labels {
		res.Targets[i] = l + 1
	}
	if len(curves) == 0 {
		monitoring.Logf("[rapid] nothing to classify")
		if opts.ReturnProbabilities {
			res.Probabilities = []Prediction{}
		} else {
			res.Predictions = []int{}
		}
		return res, nil
	}

	preds, err := c.Predict(ctx, curves)
	if err != nil {
		return nil, fmt.Errorf("prediction failed: %w", err)
	}
	if len(preds) != len(labels) {
		return nil, fmt.Errorf("%w: %d predictions, %d labels", ErrPredictionCount, len(preds), len(labels))
	}
	monitoring.Logf("[rapid] done testing model on %d objects", len(preds))

	if opts.ReturnProbabilities {
		res.Probabilities = preds
		return res, nil
	}
	res.Predictions = make([]int, len(preds))
	for i, p := range preds {
		res.Predictions[i] = p.FinalClass()
	}
	return res, nil
}
