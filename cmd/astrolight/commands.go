package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/astrolight/internal/catalog"
	"github.com/banshee-data/astrolight/internal/metrics"
	"github.com/banshee-data/astrolight/internal/monitoring"
	"github.com/banshee-data/astrolight/internal/plasticc"
	"github.com/banshee-data/astrolight/internal/rapid"
	"github.com/banshee-data/astrolight/internal/security"
	"github.com/banshee-data/astrolight/internal/store"
	"github.com/banshee-data/astrolight/internal/ztf"
)

// dial builds classifiers; tests swap it for an in-process service.
var dial = func(addr string) rapid.Dialer {
	return rapid.DialGRPC(addr)
}

func (a *app) openStore() (*store.Store, error) {
	st, err := store.Open(a.args.DB)
	if err != nil {
		return nil, err
	}
	monitoring.Logf("[store] opened %s", a.args.DB)
	return st, nil
}

func (a *app) ingest(ctx context.Context, cmd *ingestCmd) error {
	var cat catalog.Catalog
	switch {
	case cmd.ZTF != "" && (cmd.Curves != "" || cmd.Metadata != ""):
		return errors.New("ingest takes either --ztf or --curves and --metadata, not both")
	case cmd.ZTF != "":
		res, err := ztf.Load(ctx, cmd.ZTF, a.cfg.ZTFOptions())
		for _, r := range res.Failed() {
			monitoring.Logf("[ztf] run %s failed: %v", r.Dir, r.Err)
		}
		if err != nil {
			return err
		}
		cat = res.Merge()
	case cmd.Curves != "" && cmd.Metadata != "":
		var err error
		if cat, err = catalog.LoadPLAsTiCC(cmd.Curves, cmd.Metadata); err != nil {
			return err
		}
	default:
		return errors.New("ingest needs --ztf or both --curves and --metadata")
	}

	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.SaveCatalog(cmd.Source, cat); err != nil {
		return err
	}

	if cmd.ExportCurves != "" || cmd.ExportMetadata != "" {
		if cmd.ExportCurves == "" || cmd.ExportMetadata == "" {
			return errors.New("--export-curves and --export-metadata go together")
		}
		if err := catalog.SavePLAsTiCC(cat, cmd.ExportCurves, cmd.ExportMetadata); err != nil {
			return err
		}
	}

	_, err = fmt.Fprintf(a.stdout, "stored %d objects and %d observations as %q\n",
		cat.Len(), len(cat.Observations), cmd.Source)
	return err
}

// serialisedCurve is the YAML form of one classifier input record.
type serialisedCurve struct {
	ObjectID int64     `yaml:"object_id"`
	Label    int       `yaml:"label"`
	RA       float64   `yaml:"ra"`
	Decl     float64   `yaml:"decl"`
	Redshift float64   `yaml:"redshift"`
	MWEBV    float64   `yaml:"mwebv"`
	MJD      []float64 `yaml:"mjd,flow"`
	Flux     []float64 `yaml:"flux,flow"`
	FluxErr  []float64 `yaml:"flux_err,flow"`
	Passband []string  `yaml:"passband,flow"`
	PhotFlag []int     `yaml:"photflag,flow"`
}

func (a *app) convert(cmd *convertCmd) error {
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	cat, err := st.LoadCatalog(cmd.Source)
	if err != nil {
		return err
	}

	curves, labels, err := plasticc.ConvertCatalog(cat, a.cfg.PlasticcOptions())
	if err != nil {
		return err
	}
	out := make([]serialisedCurve, len(curves))
	for i, lc := range curves {
		out[i] = serialisedCurve{
			ObjectID: lc.ObjectID,
			Label:    labels[i],
			RA:       lc.RA,
			Decl:     lc.Decl,
			Redshift: lc.Redshift,
			MWEBV:    lc.MWEBV,
			MJD:      lc.MJD,
			Flux:     lc.Flux,
			FluxErr:  lc.FluxErr,
			Passband: lc.Passband,
			PhotFlag: lc.PhotFlag,
		}
	}

	f, err := os.Create(cmd.Out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", cmd.Out, err)
	}
	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", cmd.Out, err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	_, err = fmt.Fprintf(a.stdout, "wrote %d light curves to %s\n", len(curves), cmd.Out)
	return err
}

func (a *app) newSession(ctx context.Context, model string, cat catalog.Catalog) (*rapid.Session, error) {
	s, err := rapid.NewSession(ctx, dial(a.cfg.GetClassifierAddr()), rapid.SessionOptions{
		ModelPath: model,
		Convert:   a.cfg.PlasticcOptions(),
	})
	if err != nil {
		return nil, err
	}
	s.SetData(cat)
	return s, nil
}

func (a *app) train(ctx context.Context, cmd *trainCmd) error {
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	cat, err := st.LoadCatalog(cmd.Source)
	if err != nil {
		return err
	}

	saveDir := cmd.SaveDir
	if saveDir == "" {
		saveDir = a.cfg.GetSaveDir()
	}
	if err := os.MkdirAll(saveDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", saveDir, err)
	}

	s, err := a.newSession(ctx, a.cfg.GetModelPath(), cat)
	if err != nil {
		return err
	}
	defer s.Close()

	err = s.Train(ctx, rapid.TrainOptions{
		SaveDir:        saveDir,
		SaveFilename:   cmd.SaveFilename,
		LoadAfterTrain: cmd.LoadAfterTrain,
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.stdout, "trained on %q, model saved to %s\n", cmd.Source, saveDir)
	return err
}

// runParams records the settings an evaluation ran with.
type runParams struct {
	Trigger        string         `json:"trigger"`
	SampleFraction float64        `json:"sample_fraction"`
	Seed           uint64         `json:"seed"`
	Classes        map[int]int    `json:"classes"`
	Bands          map[int]string `json:"bands"`
	Probabilities  bool           `json:"probabilities"`
}

func (a *app) test(ctx context.Context, cmd *testCmd) error {
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	cat, err := st.LoadCatalog(cmd.Source)
	if err != nil {
		return err
	}

	model := cmd.Model
	if model == "" {
		model = a.cfg.GetModelPath()
	}
	s, err := a.newSession(ctx, model, cat)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.Test(ctx, rapid.TestOptions{ReturnProbabilities: cmd.Probabilities})
	if err != nil {
		return err
	}
	if len(res.Targets) == 0 {
		_, err := fmt.Fprintf(a.stdout, "no objects in %q match the configured classes and bands\n", cmd.Source)
		return err
	}

	predictions := res.Predictions
	if cmd.Probabilities {
		if err := metrics.CheckProbabilities(res.Targets, res.Probabilities); err != nil {
			monitoring.Logf("[metrics] warning: %v", err)
		}
		predictions = make([]int, len(res.Probabilities))
		for i, p := range res.Probabilities {
			predictions[i] = p.FinalClass()
		}
	}

	report, err := metrics.Evaluate(res.Targets, predictions, nil)
	if err != nil {
		return err
	}
	if err := report.WriteText(a.stdout, catalog.ClassNames); err != nil {
		return err
	}

	opts := a.cfg.PlasticcOptions()
	params, err := json.Marshal(runParams{
		Trigger:        opts.Trigger.String(),
		SampleFraction: opts.SampleFraction,
		Seed:           opts.Seed,
		Classes:        opts.Classes,
		Bands:          opts.Bands,
		Probabilities:  cmd.Probabilities,
	})
	if err != nil {
		return err
	}
	eval := store.NewEvaluation(cmd.Source, model, report)
	eval.ParamsJSON = params
	if err := st.InsertEvaluation(eval); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "\nevaluation %s\n", eval.EvaluationID)

	if cmd.ReportDir != "" {
		return writeReports(cmd.ReportDir, cmd.Source+"_"+eval.EvaluationID, report)
	}
	return nil
}

func (a *app) report(cmd *reportCmd) error {
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if cmd.ID == "" {
		evals, err := st.ListEvaluations(cmd.Source)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSOURCE\tCREATED\tOBJECTS\tACCURACY\tMACRO F1\tMODEL")
		for _, e := range evals {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.4f\t%.4f\t%s\n",
				e.EvaluationID, e.Source, time.Unix(0, e.CreatedAt).UTC().Format(time.RFC3339),
				e.Total, e.Accuracy, e.MacroF1, e.ModelPath)
		}
		return tw.Flush()
	}

	e, err := st.GetEvaluation(cmd.ID)
	if err != nil {
		return err
	}
	report, err := metrics.FromConfusion(e.Labels, e.Confusion)
	if err != nil {
		return err
	}
	report.Accuracy, report.Total = e.Accuracy, e.Total
	fmt.Fprintf(a.stdout, "evaluation %s of %q\n", e.EvaluationID, e.Source)
	if len(e.ParamsJSON) > 0 {
		fmt.Fprintf(a.stdout, "params %s\n", e.ParamsJSON)
	}
	fmt.Fprintln(a.stdout)
	if err := report.WriteText(a.stdout, catalog.ClassNames); err != nil {
		return err
	}

	if cmd.ReportDir != "" {
		return writeReports(cmd.ReportDir, e.Source+"_"+e.EvaluationID, report)
	}
	return nil
}

// writeReports renders the confusion matrix as <name>_confusion.png and
// <name>_confusion.html inside dir.
func writeReports(dir, name string, report *metrics.Report) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	stem := security.SanitizeName(name)

	pngPath, err := security.OutputPath(dir, stem+"_confusion.png")
	if err != nil {
		return err
	}
	if err := metrics.PlotConfusion(report, catalog.ClassNames, pngPath); err != nil {
		return err
	}

	htmlPath, err := security.OutputPath(dir, stem+"_confusion.html")
	if err != nil {
		return err
	}
	f, err := os.Create(filepath.Clean(htmlPath))
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", htmlPath, err)
	}
	if err := metrics.RenderConfusionHTML(f, report, catalog.ClassNames); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	monitoring.Logf("[metrics] wrote %s", htmlPath)
	return nil
}
