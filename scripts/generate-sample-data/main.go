package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
)

var states = []string{"KS", "OH", "NJ", "OK", "AL", "MA", "MO", "LA", "WV", "IN", "RI", "IA", "MT", "NY", "ID", "VT"}

type account struct {
	State                      string  `csv:"State"`
	AccountLength              int     `csv:"AccountLength"`
	AreaCode                   int     `csv:"AreaCode"`
	InternationalPlan          string  `csv:"InternationalPlan"`
	VoiceMailPlan              string  `csv:"VoiceMailPlan"`
	NumberVMailMessages        int     `csv:"NumberVMailMessages"`
	TotalDayMinutes            float64 `csv:"TotalDayMinutes"`
	TotalDayCalls              int     `csv:"TotalDayCalls"`
	TotalDayCharge             float64 `csv:"TotalDayCharge"`
	TotalEveMinutes            float64 `csv:"TotalEveMinutes"`
	TotalEveCalls              int     `csv:"TotalEveCalls"`
	TotalEveCharge             float64 `csv:"TotalEveCharge"`
	TotalNightMinutes          float64 `csv:"TotalNightMinutes"`
	TotalNightCalls            int     `csv:"TotalNightCalls"`
	TotalNightCharge           float64 `csv:"TotalNightCharge"`
	TotalIntlMinutes           float64 `csv:"TotalIntlMinutes"`
	TotalIntlCalls             int     `csv:"TotalIntlCalls"`
	TotalIntlCharge            float64 `csv:"TotalIntlCharge"`
	NumberCustomerServiceCalls int     `csv:"NumberCustomerServiceCalls"`
	Churn                      string  `csv:"Churn"`
}

func main() {
	var (
		out   = flag.String("out", "data/churn.csv", "Output CSV path")
		rows  = flag.Int("rows", 3333, "Number of accounts to generate")
		seed  = flag.Int64("seed", 42, "Random seed")
		churn = flag.Float64("base-churn", 0.08, "Churn probability of an account with no risk factors")
	)
	flag.Parse()

	fmt.Printf("Generating %d synthetic accounts...\n", *rows)
	fmt.Printf("  Seed: %d\n", *seed)
	fmt.Printf("  Output: %s\n", *out)

	accounts := generateAccounts(*rows, *seed, *churn)

	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}
	file, err := os.Create(*out)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	if err := gocsv.MarshalFile(&accounts, file); err != nil {
		log.Fatalf("Failed to write accounts: %v", err)
	}
	if err := file.Close(); err != nil {
		log.Fatalf("Failed to close output file: %v", err)
	}

	churned := 0
	for _, a := range accounts {
		if a.Churn == "yes" {
			churned++
		}
	}
	fmt.Printf("✓ Wrote %d accounts (%.1f%% churn)\n", len(accounts), 100*float64(churned)/float64(len(accounts)))
}

// generateAccounts draws usage from plausible ranges. Heavy daytime usage, an
// international plan and repeated service calls raise the churn odds.
func generateAccounts(n int, seed int64, baseChurn float64) []*account {
	rng := rand.New(rand.NewSource(seed))
	yesNo := func(p float64) string {
		if rng.Float64() < p {
			return "yes"
		}
		return "no"
	}
	minutes := func(mean, sd float64) float64 {
		v := mean + rng.NormFloat64()*sd
		if v < 0 {
			v = 0
		}
		return math.Round(v*10) / 10
	}

	out := make([]*account, n)
	for i := range out {
		a := &account{
			State:             states[rng.Intn(len(states))],
			AccountLength:     1 + rng.Intn(240),
			AreaCode:          []int{408, 415, 510}[rng.Intn(3)],
			InternationalPlan: yesNo(0.1),
			VoiceMailPlan:     yesNo(0.28),
			TotalDayMinutes:   minutes(180, 54),
			TotalDayCalls:     100 + int(rng.NormFloat64()*20),
			TotalEveMinutes:   minutes(200, 50),
			TotalEveCalls:     100 + int(rng.NormFloat64()*20),
			TotalNightMinutes: minutes(200, 50),
			TotalNightCalls:   100 + int(rng.NormFloat64()*20),
			TotalIntlMinutes:  minutes(10, 2.8),
			TotalIntlCalls:    rng.Intn(10) + 1,

			NumberCustomerServiceCalls: poisson(rng, 1.5),
		}
		if a.VoiceMailPlan == "yes" {
			a.NumberVMailMessages = 10 + rng.Intn(40)
		}
		a.TotalDayCharge = round2(a.TotalDayMinutes * 0.17)
		a.TotalEveCharge = round2(a.TotalEveMinutes * 0.085)
		a.TotalNightCharge = round2(a.TotalNightMinutes * 0.045)
		a.TotalIntlCharge = round2(a.TotalIntlMinutes * 0.27)

		p := baseChurn
		if a.InternationalPlan == "yes" {
			p += 0.3
		}
		if a.NumberCustomerServiceCalls >= 4 {
			p += 0.4
		}
		if a.TotalDayMinutes > 260 {
			p += 0.35
		}
		if a.VoiceMailPlan == "yes" {
			p -= 0.04
		}
		a.Churn = yesNo(p)
		out[i] = a
	}
	return out
}

func poisson(rng *rand.Rand, lambda float64) int {
	// Knuth
	l, k, p := math.Exp(-lambda), 0, 1.0
	for {
		p *= rng.Float64()
		if p <= l {
			return k
		}
		k++
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
