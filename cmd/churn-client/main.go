package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"churn-service/internal/client"
	"churn-service/internal/common"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to load .env file")
	}

	defaultURL := common.DefaultAPIURL
	if v := os.Getenv(common.EnvAPIURL); v != "" {
		defaultURL = v
	}
	defaultTimeout := 5 * time.Second
	if v := os.Getenv(common.EnvClientTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			defaultTimeout = d
		}
	}

	var (
		apiURL      = flag.String("url", defaultURL, "Base URL of the inference API")
		timeout     = flag.Duration("timeout", defaultTimeout, "Request timeout")
		accountFile = flag.String("file", "", "JSON file with the account to score (default: built-in sample)")
		showMetrics = flag.Bool("metrics", false, "Print request metrics instead of predicting")
		showHealth  = flag.Bool("health", false, "Print service health instead of predicting")
		showInfo    = flag.Bool("info", false, "Print served model info instead of predicting")
	)
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	c := client.New(*apiURL, *timeout)
	ctx := context.Background()

	var (
		out any
		err error
	)
	switch {
	case *showMetrics:
		out, err = c.Metrics(ctx)
	case *showHealth:
		out, err = c.Health(ctx)
	case *showInfo:
		out, err = c.ModelInfo(ctx)
	default:
		account := client.SampleAccount()
		if *accountFile != "" {
			account, err = readAccount(*accountFile)
			if err != nil {
				log.Fatal().Err(err).Str("file", *accountFile).Msg("cannot read account")
			}
		}
		out, err = c.Predict(ctx, account)
	}
	if err != nil {
		log.Fatal().Err(err).Str("url", *apiURL).Msg("request failed")
	}

	data, err := json.MarshalIndent(out, "", "    ")
	if err != nil {
		log.Fatal().Err(err).Msg("cannot encode response")
	}
	fmt.Println(string(data))
}

func readAccount(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var account map[string]any
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return account, nil
}
