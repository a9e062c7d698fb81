// Package rapid adapts light-curve catalogs to the RAPID transient
// classifier (Muthukrishna et al. 2019) and turns its per-timestep
// probabilities back into class predictions.
//
// The classifier runs out of process. Classifier is the contract this package
// needs from it; the gRPC client in this package is the production
// implementation.
package rapid

import (
	"context"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/astrolight/internal/plasticc"
)

// DefaultModelFilename is the file the classifier writes a trained model to.
const DefaultModelFilename = "keras_model.hdf5"

// Prediction holds one object's class probabilities, one vector per
// timestep of its light curve.
type Prediction [][]float64

// FinalClass returns the most probable class at the last timestep, or -1
// when the prediction is empty. Ties go to the lowest class.
func (p Prediction) FinalClass() int {
	if len(p) == 0 || len(p[len(p)-1]) == 0 {
		return -1
	}
	return floats.MaxIdx(p[len(p)-1])
}

// ClassifierOptions are passed when a classifier is constructed.
type ClassifierOptions struct {
	KnownRedshift bool
	// ModelPath loads a persisted model; empty means the classifier's
	// bundled default model.
	ModelPath string
}

// TrainRequest registers a training run with the classifier.
type TrainRequest struct {
	// Fetch retrieves the training curves and their zero-based labels.
	Fetch        func(ctx context.Context) ([]plasticc.LightCurve, []int, error)
	ClassNums    []int
	Passbands    []string
	SaveDir      string
	SaveFilename string
}

// Classifier is the external transient classifier.
type Classifier interface {
	// Predict returns one Prediction per curve, in order.
	Predict(ctx context.Context, curves []plasticc.LightCurve) ([]Prediction, error)
	// Train fits and saves a new model.
	Train(ctx context.Context, req TrainRequest) error
	Close() error
}

// Dialer constructs a classifier.
type Dialer func(ctx context.Context, opts ClassifierOptions) (Classifier, error)
