package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"text/tabwriter"

	"churn-service/internal/cfg"
	"churn-service/internal/dataset"
)

func main() {
	var (
		dataPath = flag.String("data", "", "CSV path (defaults to the configured data path)")
		drop     = flag.String("drop", "", "Comma separated columns to drop")
	)
	flag.Parse()

	settings, err := cfg.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *dataPath == "" {
		*dataPath = settings.DataPath
	}
	opts := dataset.LoaderOptions{LabelColumn: settings.LabelColumn, DropColumns: settings.DropColumns}
	if *drop != "" {
		opts.DropColumns = strings.Split(*drop, ",")
	}

	fmt.Printf("Inspecting data in: %s\n", *dataPath)

	table, labels, err := dataset.LoadCSV(*dataPath, opts)
	if err != nil {
		log.Fatalf("Failed to load dataset: %v", err)
	}
	summary := table.Summarize()

	fmt.Printf("\nRows: %d  Churned: %d (%.1f%%)\n\n", summary.Rows, labels.Positives(), 100*labels.PositiveRate())

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COLUMN\tKIND\tMISSING")
	for _, c := range summary.Columns {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", c.Name, c.Kind, c.Missing)
	}
	tw.Flush()
}
