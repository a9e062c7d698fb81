package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/astrolight/internal/plasticc"
	"github.com/banshee-data/astrolight/internal/rapid"
	"github.com/banshee-data/astrolight/internal/store"
)

const metadataCSV = `object_id,ra,decl,ddf,hostgal_specz,hostgal_photz,hostgal_photz_err,distmod,mwebv,target
5,10.1,-4.2,1,0.11,0.12,0.01,38.1,0.03,90
7,20.2,-8.4,1,0.22,0.21,0.02,39.5,0.01,99
11,30.3,12.6,0,0.33,0.31,0.03,40.2,0.02,62
`

const curvesCSV = `object_id,mjd,passband,flux,flux_err,detected
5,100.0,1,1.0,0.1,0
5,100.5,3,9.0,0.9,1
5,101.0,2,5.0,0.5,1
5,102.0,1,7.0,0.7,1
7,100.0,1,2.0,0.2,1
11,200.0,1,0.5,0.05,0
11,201.0,2,0.7,0.07,0
`

// stubClassifier always ends on class 1.
type stubClassifier struct {
	mu      *sync.Mutex
	trained *[]rapid.TrainRequest
}

func (s stubClassifier) Predict(ctx context.Context, curves []plasticc.LightCurve) ([]rapid.Prediction, error) {
	out := make([]rapid.Prediction, len(curves))
	for i, lc := range curves {
		p := make(rapid.Prediction, lc.Len())
		for step := range p {
			p[step] = []float64{1, 0}
		}
		p[len(p)-1] = []float64{0.1, 0.9}
		out[i] = p
	}
	return out, nil
}

func (s stubClassifier) Train(ctx context.Context, req rapid.TrainRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	*s.trained = append(*s.trained, req)
	return nil
}

func (s stubClassifier) Close() error { return nil }

type fixture struct {
	dir     string
	db      string
	mu      sync.Mutex
	trained []rapid.TrainRequest
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{dir: t.TempDir()}
	f.db = filepath.Join(f.dir, "test.db")
	require.NoError(t, os.WriteFile(f.path("metadata.csv"), []byte(metadataCSV), 0o644))
	require.NoError(t, os.WriteFile(f.path("curves.csv"), []byte(curvesCSV), 0o644))

	lis := bufconn.Listen(1 << 20)
	srv := rapid.NewServer(func(ctx context.Context, opts rapid.ClassifierOptions) (rapid.Classifier, error) {
		return stubClassifier{mu: &f.mu, trained: &f.trained}, nil
	})
	srv.Serve(lis)
	t.Cleanup(srv.Stop)

	prev := dial
	dial = func(string) rapid.Dialer {
		return rapid.DialGRPC("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	}
	t.Cleanup(func() { dial = prev })
	return f
}

func (f *fixture) path(name string) string {
	return filepath.Join(f.dir, name)
}

func (f *fixture) run(t *testing.T, argv ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"-q", "--db", f.db}, argv...)
	err := run(context.Background(), full, &stdout, &stderr)
	return stdout.String(), err
}

func (f *fixture) ingest(t *testing.T) {
	t.Helper()
	out, err := f.run(t, "ingest", "--source", "plasticc",
		"--curves", f.path("curves.csv"), "--metadata", f.path("metadata.csv"))
	require.NoError(t, err)
	assert.Contains(t, out, `stored 3 objects and 7 observations as "plasticc"`)
}

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"version"}, &stdout, &stderr))
	assert.True(t, strings.HasPrefix(stdout.String(), "astrolight dev"))
}

func TestRun_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"--help"}, &stdout, &stderr))
	for _, cmd := range []string{"ingest", "convert", "train", "test", "report"} {
		assert.Contains(t, stdout.String(), cmd)
	}
}

func TestRun_UsageErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t)
	assert.Error(t, err, "no command")

	_, err = f.run(t, "ingest")
	assert.Error(t, err, "--source is required")

	_, err = f.run(t, "ingest", "--source", "x")
	assert.Error(t, err, "no input")

	_, err = f.run(t, "ingest", "--source", "x", "--ztf", f.dir, "--curves", f.path("curves.csv"))
	assert.Error(t, err, "conflicting inputs")

	_, err = f.run(t, "--config", f.path("missing.yaml"), "version")
	assert.Error(t, err)
}

func TestRun_IngestAndExport(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "ingest", "--source", "plasticc",
		"--curves", f.path("curves.csv"), "--metadata", f.path("metadata.csv"),
		"--export-curves", f.path("out_curves.csv"), "--export-metadata", f.path("out_metadata.csv"))
	require.NoError(t, err)

	data, err := os.ReadFile(f.path("out_metadata.csv"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "object_id,"))

	st, err := store.Open(f.db)
	require.NoError(t, err)
	defer st.Close()
	cat, err := st.LoadCatalog("plasticc")
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 7, 11}, cat.ObjectIDs())
}

func TestRun_Convert(t *testing.T) {
	f := newFixture(t)
	f.ingest(t)

	out, err := f.run(t, "convert", "--source", "plasticc", "--out", f.path("curves.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 2 light curves")

	data, err := os.ReadFile(f.path("curves.yaml"))
	require.NoError(t, err)
	var curves []serialisedCurve
	require.NoError(t, yaml.Unmarshal(data, &curves))
	require.Len(t, curves, 2)
	assert.Equal(t, int64(5), curves[0].ObjectID)
	assert.Equal(t, 0, curves[0].Label)
	assert.Equal(t, []string{"g", "r", "g"}, curves[0].Passband)
	assert.Equal(t, []int{0, 6144, 4096}, curves[0].PhotFlag)
	assert.Equal(t, 1, curves[1].Label)

	_, err = f.run(t, "convert", "--source", "missing", "--out", f.path("x.yaml"))
	assert.ErrorIs(t, err, store.ErrSourceNotFound)
}

func TestRun_ConvertWithConfig(t *testing.T) {
	f := newFixture(t)
	f.ingest(t)

	cfg := "classes:\n  62: 1\ntrigger_policy: legacy\n"
	require.NoError(t, os.WriteFile(f.path("pipeline.yaml"), []byte(cfg), 0o644))

	_, err := f.run(t, "--config", f.path("pipeline.yaml"),
		"convert", "--source", "plasticc", "--out", f.path("curves.yaml"))
	require.NoError(t, err)

	data, err := os.ReadFile(f.path("curves.yaml"))
	require.NoError(t, err)
	var curves []serialisedCurve
	require.NoError(t, yaml.Unmarshal(data, &curves))
	require.Len(t, curves, 1)
	assert.Equal(t, int64(11), curves[0].ObjectID)
	// the legacy policy flags the first row of a curve with no detections
	assert.Equal(t, []int{6144, 0}, curves[0].PhotFlag)
}

func TestRun_TestAndReport(t *testing.T) {
	f := newFixture(t)
	f.ingest(t)

	reports := f.path("reports")
	out, err := f.run(t, "test", "--source", "plasticc", "--report-dir", reports)
	require.NoError(t, err)
	assert.Contains(t, out, "accuracy")
	assert.Contains(t, out, "0.5000")
	assert.Contains(t, out, "SNIa-norm")

	st, err := store.Open(f.db)
	require.NoError(t, err)
	evals, err := st.ListEvaluations("plasticc")
	require.NoError(t, err)
	require.NoError(t, st.Close())
	require.Len(t, evals, 1)
	id := evals[0].EvaluationID
	assert.Contains(t, out, id)
	assert.Equal(t, 2, evals[0].Total)
	assert.Contains(t, string(evals[0].ParamsJSON), `"trigger":"corrected"`)

	pngs, err := filepath.Glob(filepath.Join(reports, "*_confusion.png"))
	require.NoError(t, err)
	assert.Len(t, pngs, 1)
	htmls, err := filepath.Glob(filepath.Join(reports, "*_confusion.html"))
	require.NoError(t, err)
	assert.Len(t, htmls, 1)

	out, err = f.run(t, "report")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "0.5000")

	out, err = f.run(t, "report", "--id", id)
	require.NoError(t, err)
	assert.Contains(t, out, "evaluation "+id)
	assert.Contains(t, out, "SNIbc")

	_, err = f.run(t, "report", "--id", "nope")
	assert.ErrorIs(t, err, store.ErrEvaluationNotFound)
}

func TestRun_TestProbabilities(t *testing.T) {
	f := newFixture(t)
	f.ingest(t)

	out, err := f.run(t, "test", "--source", "plasticc", "--probabilities")
	require.NoError(t, err)
	assert.Contains(t, out, "0.5000")
}

func TestRun_Train(t *testing.T) {
	f := newFixture(t)
	f.ingest(t)

	models := f.path("models")
	out, err := f.run(t, "train", "--source", "plasticc", "--save-dir", models, "--load-after-train")
	require.NoError(t, err)
	assert.Contains(t, out, "model saved to "+models)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.trained, 1)
	req := f.trained[0]
	assert.Equal(t, models, req.SaveDir)
	assert.Equal(t, rapid.DefaultModelFilename, req.SaveFilename)
	assert.Equal(t, []string{"g", "r"}, req.Passbands)

	curves, labels, err := req.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, curves, 2)
	assert.Equal(t, []int{0, 1}, labels)

	info, err := os.Stat(models)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
