// Command astrolight ingests supernova light-curve catalogs, feeds them to
// the RAPID classifier and reports how well it did.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	arg "github.com/alexflint/go-arg"

	"github.com/banshee-data/astrolight/internal/config"
	"github.com/banshee-data/astrolight/internal/monitoring"
	"github.com/banshee-data/astrolight/internal/version"
)

type ingestCmd struct {
	Source         string `arg:"--source,required" help:"name to store the catalog under"`
	ZTF            string `arg:"--ztf" help:"root directory of SNANA simulation runs"`
	Curves         string `arg:"--curves" help:"PLAsTiCC light curve CSV"`
	Metadata       string `arg:"--metadata" help:"PLAsTiCC metadata CSV"`
	ExportCurves   string `arg:"--export-curves" help:"also write the catalog's light curves as PLAsTiCC CSV"`
	ExportMetadata string `arg:"--export-metadata" help:"also write the catalog's metadata as PLAsTiCC CSV"`
}

type convertCmd struct {
	Source string `arg:"--source,required" help:"stored catalog to serialise"`
	Out    string `arg:"--out,required" help:"YAML file to write the light curves and labels to"`
}

type trainCmd struct {
	Source         string `arg:"--source,required" help:"stored catalog to train on"`
	SaveDir        string `arg:"--save-dir" help:"directory the model is saved to (default from config)"`
	SaveFilename   string `arg:"--save-filename" help:"model file name"`
	LoadAfterTrain bool   `arg:"--load-after-train" help:"reload the classifier from the saved model"`
}

type testCmd struct {
	Source        string `arg:"--source,required" help:"stored catalog to classify"`
	Model         string `arg:"--model" help:"saved model to load instead of the configured one"`
	Probabilities bool   `arg:"--probabilities" help:"score the final-step probabilities instead of the classifier's argmax"`
	ReportDir     string `arg:"--report-dir" help:"write PNG and HTML confusion matrices here"`
}

type reportCmd struct {
	Source    string `arg:"--source" help:"list evaluations of this catalog only"`
	ID        string `arg:"--id" help:"print one evaluation in full"`
	ReportDir string `arg:"--report-dir" help:"with --id, also write PNG and HTML confusion matrices here"`
}

type versionCmd struct{}

type args struct {
	Config  string      `arg:"--config" help:"pipeline configuration file (.json, .yaml, .yml)"`
	DB      string      `arg:"--db" default:"astrolight.db" help:"SQLite database path"`
	Quiet   bool        `arg:"-q,--quiet" help:"suppress progress logging"`
	Ingest  *ingestCmd  `arg:"subcommand:ingest" help:"load a catalog into the database"`
	Convert *convertCmd `arg:"subcommand:convert" help:"serialise a stored catalog for the classifier"`
	Train   *trainCmd   `arg:"subcommand:train" help:"train a classifier on a stored catalog"`
	Test    *testCmd    `arg:"subcommand:test" help:"classify a stored catalog and score the result"`
	Report  *reportCmd  `arg:"subcommand:report" help:"show stored evaluations"`
	Version *versionCmd `arg:"subcommand:version" help:"print build information"`
}

func (args) Description() string {
	return "astrolight prepares PLAsTiCC and ZTF light curves for the RAPID transient classifier."
}

// app carries what every command needs.
type app struct {
	args   args
	cfg    *config.PipelineConfig
	stdout io.Writer
}

func run(ctx context.Context, argv []string, stdout, stderr io.Writer) error {
	var a args
	p, err := arg.NewParser(arg.Config{Program: "astrolight"}, &a)
	if err != nil {
		return err
	}
	err = p.Parse(argv)
	switch {
	case errors.Is(err, arg.ErrHelp):
		p.WriteHelp(stdout)
		return nil
	case err != nil:
		p.WriteUsage(stderr)
		return err
	}

	if a.Quiet {
		prev := monitoring.Logf
		monitoring.SetLogger(nil)
		defer monitoring.SetLogger(prev)
	}

	cfg := config.EmptyPipelineConfig()
	if a.Config != "" {
		if cfg, err = config.LoadPipelineConfig(a.Config); err != nil {
			return err
		}
		monitoring.Logf("[config] loaded %s", a.Config)
	}
	app := &app{args: a, cfg: cfg, stdout: stdout}

	switch {
	case a.Ingest != nil:
		return app.ingest(ctx, a.Ingest)
	case a.Convert != nil:
		return app.convert(a.Convert)
	case a.Train != nil:
		return app.train(ctx, a.Train)
	case a.Test != nil:
		return app.test(ctx, a.Test)
	case a.Report != nil:
		return app.report(a.Report)
	case a.Version != nil:
		_, err := fmt.Fprintln(stdout, version.String("astrolight"))
		return err
	default:
		p.WriteHelp(stderr)
		return errors.New("no command given")
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		log.Fatalf("astrolight: %v", err)
	}
}
