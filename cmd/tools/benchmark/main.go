package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// BenchmarkConfig holds benchmark configuration
type BenchmarkConfig struct {
	BaseURL      string
	Table        string
	Strategy     string
	Duration     time.Duration
	ReadWorkers  int
	WriteWorkers int
	NumRows      int
	SkipSetup    bool
	HTTPClient   *http.Client // Shared HTTP client for connection pooling
}

// Metrics holds benchmark metrics
type Metrics struct {
	ReadLatencies   []float64
	WriteLatencies  []float64
	ReadErrors      int64
	WriteErrors     int64
	ReadSuccess     int64
	WriteSuccess    int64
	FirstReadError  string
	FirstWriteError string
	mu              sync.Mutex
}

// Result represents benchmark results
type Result struct {
	Operation  string
	TotalOps   int64
	SuccessOps int64
	ErrorOps   int64
	Duration   time.Duration
	Throughput float64 // ops/sec
	AvgLatency float64 // ms
	MinLatency float64 // ms
	MaxLatency float64 // ms
	P50Latency float64 // ms
	P95Latency float64 // ms
	P99Latency float64 // ms
	ErrorMsg   string  // First error message
}

func main() {
	// Parse flags
	config := BenchmarkConfig{}
	flag.StringVar(&config.BaseURL, "url", "http://127.0.0.1:5002", "Gatekeeper base URL")
	flag.StringVar(&config.Table, "table", "bench_items", "Table used for benchmark traffic")
	flag.StringVar(&config.Strategy, "strategy", "custom", "Read routing strategy: direct, random or custom")
	flag.DurationVar(&config.Duration, "duration", 60*time.Second, "Benchmark duration")
	flag.IntVar(&config.ReadWorkers, "read-workers", 10, "Number of concurrent read workers")
	flag.IntVar(&config.WriteWorkers, "write-workers", 2, "Number of concurrent write workers")
	flag.IntVar(&config.NumRows, "rows", 1000, "Row id space for reads and writes")
	flag.BoolVar(&config.SkipSetup, "skip-setup", false, "Skip benchmark table creation")
	flag.Parse()

	// Create shared HTTP client with connection pooling
	config.HTTPClient = &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	fmt.Printf("=== QueryRelay Benchmark Tool ===\n")
	fmt.Printf("Configuration:\n")
	fmt.Printf("  URL: %s\n", config.BaseURL)
	fmt.Printf("  Table: %s\n", config.Table)
	fmt.Printf("  Strategy: %s\n", config.Strategy)
	fmt.Printf("  Duration: %s\n", config.Duration)
	fmt.Printf("  Read Workers: %d\n", config.ReadWorkers)
	fmt.Printf("  Write Workers: %d\n", config.WriteWorkers)
	fmt.Printf("  Rows: %d\n", config.NumRows)
	fmt.Printf("\n")

	// Create benchmark table (unless skipped)
	if !config.SkipSetup {
		if err := setupTable(config); err != nil {
			fmt.Printf("Warning: Failed to setup table: %v\n", err)
			fmt.Printf("Continuing with existing table...\n")
		}
	} else {
		fmt.Printf("Skipping table setup (using existing)\n")
	}

	// Run benchmark
	metrics := runBenchmark(config)

	// Calculate and display results
	readResult := calculateResult("Read", metrics.ReadLatencies, metrics.ReadSuccess, metrics.ReadErrors, config.Duration, metrics.FirstReadError)
	writeResult := calculateResult("Write", metrics.WriteLatencies, metrics.WriteSuccess, metrics.WriteErrors, config.Duration, metrics.FirstWriteError)

	fmt.Printf("\n=== Benchmark Results ===\n\n")
	displayResult(readResult)
	fmt.Println()
	displayResult(writeResult)

	// Save results to file
	saveResults(config, readResult, writeResult)
}

func setupTable(config BenchmarkConfig) error {
	ddl := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (id INT PRIMARY KEY, payload VARCHAR(255), updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP)",
		config.Table)
	if err := sendQuery(config, ddl, ""); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	fmt.Printf("Table '%s' ready\n", config.Table)
	return nil
}

func runBenchmark(config BenchmarkConfig) *Metrics {
	metrics := &Metrics{
		ReadLatencies:  make([]float64, 0, 10000),
		WriteLatencies: make([]float64, 0, 1000),
	}

	var wg sync.WaitGroup
	stopCh := make(chan struct{})
	startTime := time.Now()

	// Start read workers
	for i := 0; i < config.ReadWorkers; i++ {
		wg.Add(1)
		go readWorker(config, metrics, stopCh, &wg)
	}

	// Start write workers
	for i := 0; i < config.WriteWorkers; i++ {
		wg.Add(1)
		go writeWorker(config, metrics, stopCh, &wg)
	}

	// Progress reporter
	go progressReporter(metrics, config.Duration, startTime)

	// Wait for duration
	time.Sleep(config.Duration)
	close(stopCh)
	wg.Wait()

	return metrics
}

func readWorker(config BenchmarkConfig, metrics *Metrics, stopCh chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-stopCh:
			return
		default:
			id := rand.Intn(config.NumRows)
			query := fmt.Sprintf("SELECT id, payload, updated_at FROM %s WHERE id = %d", config.Table, id)

			start := time.Now()
			err := sendQuery(config, query, config.Strategy)
			latency := time.Since(start).Seconds() * 1000 // ms

			metrics.mu.Lock()
			metrics.ReadLatencies = append(metrics.ReadLatencies, latency)
			if err != nil && metrics.FirstReadError == "" {
				metrics.FirstReadError = err.Error()
			}
			metrics.mu.Unlock()

			if err != nil {
				atomic.AddInt64(&metrics.ReadErrors, 1)
			} else {
				atomic.AddInt64(&metrics.ReadSuccess, 1)
			}
		}
	}
}

func writeWorker(config BenchmarkConfig, metrics *Metrics, stopCh chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-stopCh:
			return
		default:
			id := rand.Intn(config.NumRows)
			query := fmt.Sprintf(
				"INSERT INTO %s (id, payload) VALUES (%d, 'bench-%d') ON DUPLICATE KEY UPDATE payload = 'bench-%d'",
				config.Table, id, id, id)

			// Writes carry no strategy; they land on the manager no
			// matter what the client asks for.
			start := time.Now()
			err := sendQuery(config, query, "")
			latency := time.Since(start).Seconds() * 1000 // ms

			metrics.mu.Lock()
			metrics.WriteLatencies = append(metrics.WriteLatencies, latency)
			if err != nil && metrics.FirstWriteError == "" {
				metrics.FirstWriteError = err.Error()
			}
			metrics.mu.Unlock()

			if err != nil {
				atomic.AddInt64(&metrics.WriteErrors, 1)
			} else {
				atomic.AddInt64(&metrics.WriteSuccess, 1)
			}
		}
	}
}

func progressReporter(metrics *Metrics, duration time.Duration, startTime time.Time) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		<-ticker.C
		elapsed := time.Since(startTime)
		if elapsed >= duration {
			return
		}

		reads := atomic.LoadInt64(&metrics.ReadSuccess)
		writes := atomic.LoadInt64(&metrics.WriteSuccess)
		readErrors := atomic.LoadInt64(&metrics.ReadErrors)
		writeErrors := atomic.LoadInt64(&metrics.WriteErrors)

		readThroughput := float64(reads) / elapsed.Seconds()
		writeThroughput := float64(writes) / elapsed.Seconds()

		remaining := duration - elapsed
		fmt.Printf("[%s remaining] Reads: %d (%.0f/s, %d errors) | Writes: %d (%.0f/s, %d errors)\n",
			remaining.Round(time.Second), reads, readThroughput, readErrors,
			writes, writeThroughput, writeErrors)
	}
}

func sendQuery(config BenchmarkConfig, query, strategy string) error {
	payload := map[string]interface{}{"query": query}
	if strategy != "" {
		payload["strategy"] = strategy
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequest("POST", config.BaseURL+"/query", bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Connection", "keep-alive")

	resp, err := config.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	// Read and discard body to reuse connection
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	return nil
}

func calculateResult(operation string, latencies []float64, success, errors int64, duration time.Duration, errorMsg string) Result {
	if len(latencies) == 0 {
		return Result{
			Operation: operation,
			TotalOps:  success + errors,
			ErrorMsg:  errorMsg,
		}
	}

	// Sort for percentiles
	sort.Float64s(latencies)

	result := Result{
		Operation:  operation,
		TotalOps:   success + errors,
		SuccessOps: success,
		ErrorOps:   errors,
		Duration:   duration,
		Throughput: float64(success) / duration.Seconds(),
		MinLatency: latencies[0],
		MaxLatency: latencies[len(latencies)-1],
		P50Latency: percentile(latencies, 50),
		P95Latency: percentile(latencies, 95),
		P99Latency: percentile(latencies, 99),
		ErrorMsg:   errorMsg,
	}

	// Calculate average
	var sum float64
	for _, lat := range latencies {
		sum += lat
	}
	result.AvgLatency = sum / float64(len(latencies))

	return result
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := int(math.Ceil(float64(len(sorted)) * p / 100.0))
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

func displayResult(r Result) {
	fmt.Printf("=== %s Operations ===\n", r.Operation)
	fmt.Printf("Total Operations: %d\n", r.TotalOps)
	if r.TotalOps > 0 {
		fmt.Printf("Success:          %d (%.2f%%)\n", r.SuccessOps, float64(r.SuccessOps)/float64(r.TotalOps)*100)
		fmt.Printf("Errors:           %d (%.2f%%)\n", r.ErrorOps, float64(r.ErrorOps)/float64(r.TotalOps)*100)
	}
	fmt.Printf("Duration:         %s\n", r.Duration)
	fmt.Printf("Throughput:       %.2f ops/sec\n", r.Throughput)
	if r.ErrorOps > 0 && len(r.ErrorMsg) > 0 {
		fmt.Printf("First Error:      %s\n", r.ErrorMsg)
	}
	fmt.Printf("\nLatency (ms):\n")
	fmt.Printf("  Min:  %.2f\n", r.MinLatency)
	fmt.Printf("  Avg:  %.2f\n", r.AvgLatency)
	fmt.Printf("  P50:  %.2f\n", r.P50Latency)
	fmt.Printf("  P95:  %.2f\n", r.P95Latency)
	fmt.Printf("  P99:  %.2f\n", r.P99Latency)
	fmt.Printf("  Max:  %.2f\n", r.MaxLatency)
}

func saveResults(config BenchmarkConfig, readResult, writeResult Result) {
	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("benchmark_results/relay_benchmark_%s.txt", timestamp)

	if err := os.MkdirAll("benchmark_results", 0o755); err != nil {
		fmt.Printf("Failed to create result directory: %v\n", err)
		return
	}

	f, err := os.Create(filename)
	if err != nil {
		fmt.Printf("Failed to create result file: %v\n", err)
		return
	}
	defer func() { _ = f.Close() }()

	_, _ = fmt.Fprintf(f, "=== QueryRelay Benchmark Results ===\n")
	_, _ = fmt.Fprintf(f, "Date: %s\n\n", time.Now().Format("2006-01-02 15:04:05"))
	_, _ = fmt.Fprintf(f, "Configuration:\n")
	_, _ = fmt.Fprintf(f, "  URL: %s\n", config.BaseURL)
	_, _ = fmt.Fprintf(f, "  Table: %s\n", config.Table)
	_, _ = fmt.Fprintf(f, "  Strategy: %s\n", config.Strategy)
	_, _ = fmt.Fprintf(f, "  Duration: %s\n", config.Duration)
	_, _ = fmt.Fprintf(f, "  Read Workers: %d\n", config.ReadWorkers)
	_, _ = fmt.Fprintf(f, "  Write Workers: %d\n", config.WriteWorkers)
	_, _ = fmt.Fprintf(f, "\n")

	writeResultToFile(f, readResult)
	_, _ = fmt.Fprintf(f, "\n")
	writeResultToFile(f, writeResult)

	fmt.Printf("\nResults saved to: %s\n", filename)
}

func writeResultToFile(f *os.File, r Result) {
	_, _ = fmt.Fprintf(f, "=== %s Operations ===\n", r.Operation)
	_, _ = fmt.Fprintf(f, "Total Operations: %d\n", r.TotalOps)
	if r.TotalOps > 0 {
		_, _ = fmt.Fprintf(f, "Success:          %d (%.2f%%)\n", r.SuccessOps, float64(r.SuccessOps)/float64(r.TotalOps)*100)
		_, _ = fmt.Fprintf(f, "Errors:           %d (%.2f%%)\n", r.ErrorOps, float64(r.ErrorOps)/float64(r.TotalOps)*100)
	}
	_, _ = fmt.Fprintf(f, "Duration:         %s\n", r.Duration)
	_, _ = fmt.Fprintf(f, "Throughput:       %.2f ops/sec\n", r.Throughput)
	_, _ = fmt.Fprintf(f, "\nLatency (ms):\n")
	_, _ = fmt.Fprintf(f, "  Min:  %.2f\n", r.MinLatency)
	_, _ = fmt.Fprintf(f, "  Avg:  %.2f\n", r.AvgLatency)
	_, _ = fmt.Fprintf(f, "  P50:  %.2f\n", r.P50Latency)
	_, _ = fmt.Fprintf(f, "  P95:  %.2f\n", r.P95Latency)
	_, _ = fmt.Fprintf(f, "  P99:  %.2f\n", r.P99Latency)
	_, _ = fmt.Fprintf(f, "  Max:  %.2f\n", r.MaxLatency)
}
