// Command loadtest drives the article API with a mix of submissions and list
// polls, the same traffic shape the web client produces.
//
// Usage:
//
//	go run ./cmd/loadtest -key <api-key> [-url http://localhost:5000] [-concurrency 10] [-duration 30s] [-submit-ratio 0.2]
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

type Config struct {
	BaseURL     string
	APIKey      string
	Concurrency int
	Duration    time.Duration
	SubmitRatio float64
}

// opStats accumulates results for one operation.
type opStats struct {
	total     atomic.Int64
	errors    atomic.Int64
	mu        sync.Mutex
	latencies []time.Duration
	codes     map[int]int64
}

func newOpStats() *opStats {
	return &opStats{latencies: make([]time.Duration, 0, 10000), codes: make(map[int]int64)}
}

func (s *opStats) record(d time.Duration, code int, err error) {
	s.total.Add(1)
	if err != nil || code < 200 || code >= 300 {
		s.errors.Add(1)
	}
	if err != nil {
		return
	}
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.codes[code]++
	s.mu.Unlock()
}

func main() {
	cfg := Config{}
	flag.StringVar(&cfg.BaseURL, "url", "http://localhost:5000", "base URL of the api service")
	flag.StringVar(&cfg.APIKey, "key", "", "api key sent as x-auth-token")
	flag.IntVar(&cfg.Concurrency, "concurrency", 10, "number of concurrent clients")
	flag.DurationVar(&cfg.Duration, "duration", 30*time.Second, "test duration")
	flag.Float64Var(&cfg.SubmitRatio, "submit-ratio", 0.2, "fraction of requests that submit a new article")
	flag.Parse()

	if cfg.APIKey == "" {
		fmt.Fprintln(os.Stderr, "error: -key is required")
		os.Exit(1)
	}

	fmt.Println("=== Reading List Load Test ===")
	fmt.Printf("Target:       %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency:  %d\n", cfg.Concurrency)
	fmt.Printf("Duration:     %s\n", cfg.Duration)
	fmt.Printf("Submit ratio: %.2f\n", cfg.SubmitRatio)
	fmt.Println()

	submit, list := newOpStats(), newOpStats()
	runLoadTest(cfg, submit, list)

	printReport("POST /api/articles", submit, cfg.Duration)
	printReport("GET /api/articles", list, cfg.Duration)
	if submit.total.Load()+list.total.Load() == 0 {
		fmt.Println("WARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}

func runLoadTest(cfg Config, submit, list *opStats) {
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var seq atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Concurrency; w++ {
		g.Go(func() error {
			var credit float64
			for ctx.Err() == nil {
				credit += cfg.SubmitRatio
				if credit >= 1 {
					credit--
					body, _ := json.Marshal(map[string]string{
						"url": fmt.Sprintf("https://example.com/loadtest/%d", seq.Add(1)),
					})
					d, code, err := do(ctx, client, cfg, http.MethodPost, body)
					submit.record(d, code, err)
					continue
				}
				d, code, err := do(ctx, client, cfg, http.MethodGet, nil)
				list.record(d, code, err)
			}
			return nil
		})
	}

	fmt.Print("Running")
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	_ = g.Wait()
	fmt.Println(" done!")
	fmt.Println()
}

func do(ctx context.Context, client *http.Client, cfg Config, method string, body []byte) (time.Duration, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, cfg.BaseURL+"/api/articles", bytes.NewReader(body))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("x-auth-token", cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return time.Since(start), 0, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return time.Since(start), resp.StatusCode, nil
}

func printReport(name string, s *opStats, duration time.Duration) {
	total := s.total.Load()
	errs := s.errors.Load()

	fmt.Printf("=== %s ===\n", name)
	fmt.Printf("Requests:     %d\n", total)
	fmt.Printf("Errors:       %d\n", errs)
	if total > 0 {
		fmt.Printf("Error rate:   %.2f%%\n", float64(errs)/float64(total)*100)
		fmt.Printf("Requests/sec: %.2f\n", float64(total)/duration.Seconds())
	}

	s.mu.Lock()
	latencies := slices.Clone(s.latencies)
	codes := make([]int, 0, len(s.codes))
	for code := range s.codes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	counts := make([]int64, len(codes))
	for i, code := range codes {
		counts[i] = s.codes[code]
	}
	s.mu.Unlock()

	if len(latencies) > 0 {
		slices.Sort(latencies)
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		fmt.Printf("Latency min/avg/max: %s / %s / %s\n", latencies[0], sum/time.Duration(len(latencies)), latencies[len(latencies)-1])
		fmt.Printf("P50 %s  P90 %s  P99 %s\n", percentile(latencies, 50), percentile(latencies, 90), percentile(latencies, 99))
	}
	for i, code := range codes {
		fmt.Printf("  %d: %d\n", code, counts[i])
	}
	fmt.Println()
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
