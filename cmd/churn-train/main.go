package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"

	"churn-service/internal/artifacts"
	"churn-service/internal/cfg"
	"churn-service/internal/dataset"
	"churn-service/internal/logging"
	"churn-service/internal/pipeline"
	"churn-service/internal/tracking"
)

func main() {
	var (
		dataPath     = flag.String("data", "", "Path to training CSV (overrides config)")
		experiment   = flag.String("experiment", "", "Experiment name (overrides config)")
		nEstimators  = flag.Int("n-estimators", 0, "Number of trees (overrides config)")
		maxDepth     = flag.Int("max-depth", -1, "Maximum tree depth, 0 for unlimited (overrides config)")
		testFraction = flag.Float64("test-fraction", 0, "Held-out fraction (overrides config)")
		logLevel     = flag.String("log-level", "", "Log level: debug, info, warn, error")
		listRuns     = flag.Bool("runs", false, "List tracked runs and published versions, then exit")
		activate     = flag.String("activate", "", "Make a published run current, then exit")
		rollback     = flag.Bool("rollback", false, "Reactivate the previous published run, then exit")
		sample       = flag.Bool("sample", false, "Score one random row of the data with the current model, then exit")
		sampleSeed   = flag.Int64("sample-seed", 42, "Seed for -sample row selection")
	)
	flag.Parse()

	settings, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	if *dataPath != "" {
		settings.DataPath = *dataPath
	}
	if *experiment != "" {
		settings.Experiment = *experiment
	}
	if *nEstimators > 0 {
		settings.NEstimators = *nEstimators
	}
	if *maxDepth >= 0 {
		settings.MaxDepth = *maxDepth
	}
	if *testFraction > 0 {
		settings.TestFraction = *testFraction
	}
	if *logLevel != "" {
		settings.LogLevel = *logLevel
	}

	closer := logging.Setup(logging.Options{Level: settings.LogLevel, File: settings.LogFile})
	defer closer.Close()

	store, err := artifacts.NewStore(settings.ArtifactsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("artifact store init failed")
	}

	switch {
	case *activate != "":
		if err := store.Activate(*activate); err != nil {
			log.Fatal().Err(err).Str("run_id", *activate).Msg("activate failed")
		}
		fmt.Printf("Active run: %s\n", *activate)
		return
	case *rollback:
		runID, err := store.Rollback()
		if err != nil {
			log.Fatal().Err(err).Msg("rollback failed")
		}
		fmt.Printf("Active run: %s\n", runID)
		return
	case *sample:
		if err := scoreSample(store, settings, *sampleSeed); err != nil {
			log.Fatal().Err(err).Msg("sample scoring failed")
		}
		return
	}

	if err := os.MkdirAll(settings.TrackingDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("tracking directory init failed")
	}
	tracker, err := tracking.New(settings.TrackingDir)
	if err != nil {
		log.Fatal().Err(err).Msg("tracker init failed")
	}
	defer tracker.Close()

	if *listRuns {
		if err := printRuns(tracker, store, settings.Experiment); err != nil {
			log.Fatal().Err(err).Msg("listing runs failed")
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	res, err := pipeline.New(store, tracker).Run(ctx, pipeline.FromSettings(&settings))
	if err != nil {
		var terr *pipeline.TrainingError
		if errors.As(err, &terr) {
			log.Error().Str("step", terr.Step).Err(terr.Err).Msg("training failed")
		}
		tracker.Close()
		closer.Close()
		os.Exit(1)
	}

	fmt.Printf("Run %s published in %s\n\n", res.RunID, time.Since(start).Round(time.Millisecond))
	res.Report.PrintSummary(os.Stdout)
}

// scoreSample loads the current model and scores one row of the data file.
func scoreSample(store *artifacts.Store, settings cfg.Settings, seed int64) error {
	model, err := store.LoadCurrent()
	if err != nil {
		return err
	}
	table, labels, err := dataset.LoadCSV(settings.DataPath, dataset.LoaderOptions{
		LabelColumn: settings.LabelColumn,
		DropColumns: settings.DropColumns,
	})
	if err != nil {
		return err
	}
	if table.Len() == 0 {
		return errors.New("data file has no rows")
	}

	i := rand.New(rand.NewSource(seed)).Intn(table.Len())
	row, err := model.State.TransformRecord(table.Record(i))
	if err != nil {
		return fmt.Errorf("row %d: %w", i, err)
	}
	x := [][]float64{row}
	proba, err := model.Model.PredictProba(x)
	if err != nil {
		return err
	}
	pred, err := model.Model.Predict(x)
	if err != nil {
		return err
	}

	fmt.Printf("Run:         %s\n", model.Manifest.RunID)
	fmt.Printf("Row:         %d\n", i)
	fmt.Printf("Probability: %.3f\n", proba[0])
	fmt.Printf("Predicted:   %d\n", pred[0])
	fmt.Printf("Actual:      %d\n", labels[i])
	return nil
}

func printRuns(tracker *tracking.Tracker, store *artifacts.Store, experiment string) error {
	runs, err := tracker.ListRuns(experiment)
	if err != nil {
		return err
	}
	versions, err := store.ListVersions()
	if err != nil {
		return err
	}
	published := make(map[string]bool, len(versions))
	for _, v := range versions {
		published[v.RunID] = v.Active
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTATUS\tSTARTED\tACCURACY\tF1\tROC_AUC\tPUBLISHED")
	for _, r := range runs {
		state := "-"
		if active, ok := published[r.ID]; ok {
			state = "yes"
			if active {
				state = "current"
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Status, r.StartedAt.Format(time.RFC3339),
			metric(r.Metrics, "accuracy"), metric(r.Metrics, "f1"), metric(r.Metrics, "roc_auc"), state)
		if r.Error != "" {
			fmt.Fprintf(w, "\t%s\n", strings.ReplaceAll(r.Error, "\n", " "))
		}
	}
	return w.Flush()
}

func metric(m map[string]float64, name string) string {
	if v, ok := m[name]; ok {
		return fmt.Sprintf("%.3f", v)
	}
	return "-"
}
