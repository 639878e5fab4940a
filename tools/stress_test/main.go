package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VanDung-dev/HieraChain-Fusion/api"
	"github.com/VanDung-dev/HieraChain-Fusion/engine"
	logger "github.com/multiversx/mx-chain-logger-go"
	"github.com/pterm/pterm"
	"github.com/urfave/cli"
)

var log = logger.GetOrCreate("stress")

// StressTestConfig holds configuration for the stress test.
type StressTestConfig struct {
	Address     string
	Concurrency int
	Duration    time.Duration
	BatchSize   int
	Sensors     int
	AuthToken   string
	ReportFile  string
}

// StressTestResult holds the results of a stress test.
type StressTestResult struct {
	TotalRequests  int64
	SuccessfulReqs int64
	FailedReqs     int64
	Steps          int64
	TotalDuration  time.Duration
	AvgLatency     time.Duration
	MinLatency     time.Duration
	MaxLatency     time.Duration
	RequestsPerSec float64
	StepsPerSec    float64
}

type counters struct {
	total, success, failed, steps int64
	latencySum                    int64
	minLatency                    int64
	maxLatency                    int64
}

func main() {
	app := cli.NewApp()
	app.Name = "fusion-stress"
	app.Usage = "drive Arrow evaluation sessions against a fusion node"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "addr", Value: "127.0.0.1:50052", Usage: "Arrow server address"},
		cli.IntFlag{Name: "c", Value: 10, Usage: "Number of concurrent sessions"},
		cli.DurationFlag{Name: "d", Value: 30 * time.Second, Usage: "Duration of test"},
		cli.IntFlag{Name: "batch", Value: 50, Usage: "Timesteps per request"},
		cli.IntFlag{Name: "sensors", Value: 3, Usage: "Sensors per timestep"},
		cli.StringFlag{Name: "token", EnvVar: api.EnvAuthToken, Usage: "Authentication token"},
		cli.StringFlag{Name: "o", Usage: "Output report file (JSON)"},
	}
	app.Action = func(c *cli.Context) error {
		config := StressTestConfig{
			Address:     c.String("addr"),
			Concurrency: c.Int("c"),
			Duration:    c.Duration("d"),
			BatchSize:   c.Int("batch"),
			Sensors:     c.Int("sensors"),
			AuthToken:   c.String("token"),
			ReportFile:  c.String("o"),
		}

		pterm.DefaultHeader.Println("Fusion Arrow Server Stress Test")
		pterm.Info.Printfln("target %s, %d sessions, %v, %d steps per request",
			config.Address, config.Concurrency, config.Duration, config.BatchSize)

		result := runStressTest(config)
		printResults(result)

		if config.ReportFile != "" {
			return saveReport(config, result)
		}
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

func runStressTest(config StressTestConfig) StressTestResult {
	cnt := &counters{minLatency: 1<<63 - 1}
	stop := make(chan struct{})
	var wg sync.WaitGroup

	startTime := time.Now()
	for i := 0; i < config.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			runWorker(workerID, config, stop, cnt)
		}(i)
	}

	time.Sleep(config.Duration)
	close(stop)
	wg.Wait()

	duration := time.Since(startTime)
	success := atomic.LoadInt64(&cnt.success)
	result := StressTestResult{
		TotalRequests:  atomic.LoadInt64(&cnt.total),
		SuccessfulReqs: success,
		FailedReqs:     atomic.LoadInt64(&cnt.failed),
		Steps:          atomic.LoadInt64(&cnt.steps),
		TotalDuration:  duration,
		MaxLatency:     time.Duration(atomic.LoadInt64(&cnt.maxLatency)),
	}
	if success > 0 {
		result.AvgLatency = time.Duration(atomic.LoadInt64(&cnt.latencySum) / success)
		result.MinLatency = time.Duration(atomic.LoadInt64(&cnt.minLatency))
	}
	result.RequestsPerSec = float64(result.TotalRequests) / duration.Seconds()
	result.StepsPerSec = float64(result.Steps) / duration.Seconds()
	return result
}

// runWorker keeps one session open and streams consecutive timestamps through it,
// redialing after any failure.
func runWorker(id int, config StressTestConfig, stop chan struct{}, cnt *counters) {
	rng := rand.New(rand.NewSource(int64(id) + 1))
	var client *api.ArrowClient
	var ts int64

	defer func() {
		if client != nil {
			_ = client.Close()
		}
	}()

	for {
		select {
		case <-stop:
			return
		default:
		}

		if client == nil {
			c, err := api.DialArrow(config.Address, config.AuthToken, 10*time.Second)
			if err != nil {
				atomic.AddInt64(&cnt.total, 1)
				atomic.AddInt64(&cnt.failed, 1)
				log.Debug("dial failed", "worker", id, "error", err.Error())
				time.Sleep(100 * time.Millisecond)
				continue
			}
			client, ts = c, 0
		}

		batches := makeBatches(rng, ts, config.BatchSize, config.Sensors)
		ts += int64(config.BatchSize)

		start := time.Now()
		results, err := client.Evaluate(batches)
		latency := time.Since(start)
		atomic.AddInt64(&cnt.total, 1)

		if err != nil {
			atomic.AddInt64(&cnt.failed, 1)
			log.Debug("evaluate failed", "worker", id, "error", err.Error())
			_ = client.Close()
			client = nil
			time.Sleep(10 * time.Millisecond)
			continue
		}

		atomic.AddInt64(&cnt.success, 1)
		atomic.AddInt64(&cnt.steps, int64(len(results)))
		recordLatency(cnt, latency)
	}
}

// makeBatches produces honest readings around 100 with sensor 0 drifting away.
func makeBatches(rng *rand.Rand, from int64, n, sensors int) []engine.Batch {
	batches := make([]engine.Batch, n)
	for i := range batches {
		ts := from + int64(i)
		samples := make([]engine.Sample, sensors)
		for s := range samples {
			v := 100 + rng.NormFloat64()*0.5
			if s == 0 {
				v += float64(ts) * 0.1
			}
			samples[s] = engine.Sample{SensorID: engine.SensorID(s), Value: v}
		}
		batches[i] = engine.Batch{Timestamp: ts, Samples: samples}
	}
	return batches
}

func recordLatency(cnt *counters, latency time.Duration) {
	lat := int64(latency)
	atomic.AddInt64(&cnt.latencySum, lat)
	for {
		old := atomic.LoadInt64(&cnt.minLatency)
		if lat >= old || atomic.CompareAndSwapInt64(&cnt.minLatency, old, lat) {
			break
		}
	}
	for {
		old := atomic.LoadInt64(&cnt.maxLatency)
		if lat <= old || atomic.CompareAndSwapInt64(&cnt.maxLatency, old, lat) {
			break
		}
	}
}

func printResults(result StressTestResult) {
	pct := func(n int64) string {
		if result.TotalRequests == 0 {
			return "0.00%"
		}
		return fmt.Sprintf("%.2f%%", float64(n)/float64(result.TotalRequests)*100)
	}
	rows := pterm.TableData{
		{"metric", "value"},
		{"duration", result.TotalDuration.Round(time.Millisecond).String()},
		{"requests", fmt.Sprintf("%d", result.TotalRequests)},
		{"successful", fmt.Sprintf("%d (%s)", result.SuccessfulReqs, pct(result.SuccessfulReqs))},
		{"failed", fmt.Sprintf("%d (%s)", result.FailedReqs, pct(result.FailedReqs))},
		{"requests/sec", fmt.Sprintf("%.2f", result.RequestsPerSec)},
		{"timesteps/sec", fmt.Sprintf("%.2f", result.StepsPerSec)},
		{"avg latency", result.AvgLatency.Round(time.Microsecond).String()},
		{"min latency", result.MinLatency.Round(time.Microsecond).String()},
		{"max latency", result.MaxLatency.Round(time.Microsecond).String()},
	}
	_ = pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(rows).Render()
}

func saveReport(config StressTestConfig, result StressTestResult) error {
	report := map[string]interface{}{
		"config": map[string]interface{}{
			"address":     config.Address,
			"concurrency": config.Concurrency,
			"duration":    config.Duration.String(),
			"batch_size":  config.BatchSize,
			"sensors":     config.Sensors,
		},
		"results": map[string]interface{}{
			"total_requests":   result.TotalRequests,
			"successful":       result.SuccessfulReqs,
			"failed":           result.FailedReqs,
			"timesteps":        result.Steps,
			"requests_per_sec": result.RequestsPerSec,
			"steps_per_sec":    result.StepsPerSec,
			"avg_latency_ms":   float64(result.AvgLatency.Microseconds()) / 1000,
			"min_latency_ms":   float64(result.MinLatency.Microseconds()) / 1000,
			"max_latency_ms":   float64(result.MaxLatency.Microseconds()) / 1000,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	}

	f, err := os.Create(config.ReportFile)
	if err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	if err := writeIndentedJSON(f, report); err != nil {
		return err
	}
	pterm.Success.Printfln("report saved to %s", config.ReportFile)
	return nil
}

func writeIndentedJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
