package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/VanDung-dev/HieraChain-Fusion/engine"
	"github.com/VanDung-dev/HieraChain-Fusion/sim"
	"github.com/VanDung-dev/HieraChain-Fusion/sink"
	"github.com/pterm/pterm"
	"github.com/urfave/cli"
)

func generateAction(c *cli.Context) error {
	ds, err := sim.Generate(datasetConfig(c), rand.New(rand.NewSource(c.Int64(seed.Name))))
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := sim.WriteCSV(&buf, ds); err != nil {
		return err
	}
	if err := writeOutput(c.String("output"), buf.Bytes()); err != nil {
		return err
	}

	if c.Bool(upload.Name) {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		name := fmt.Sprintf("seed-%d", c.Int64(seed.Name))
		return uploadArtifact(context.Background(), cfg.S3Config(), sink.ArchiveKey("datasets", name, "csv", time.Now()), buf.Bytes(), "text/csv")
	}
	return nil
}

func testAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ds, err := loadDataset(c)
	if err != nil {
		return err
	}
	report, err := sim.Score(ds, cfg.EngineConfig(), sim.ScoreOptions{
		ThresholdPct: c.Float64(threshold.Name),
		KeepSteps:    c.Bool(showSteps.Name),
	})
	if err != nil {
		return err
	}

	if c.Bool(jsonOutput.Name) {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		renderReport(report)
	}

	if !report.Passed(sim.MethodEngine) {
		return cli.NewExitError("engine estimate left the error threshold", 2)
	}
	return nil
}

func sweepAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	sc := sim.DefaultSweepConfig()
	sc.Runs = c.Int(runs.Name)
	sc.BaseSeed = c.Int64(seed.Name)
	if w := c.Int(workers.Name); w > 0 {
		sc.Workers = w
	}
	sc.Dataset = datasetConfig(c)
	sc.Engine = cfg.EngineConfig()
	sc.ThresholdPct = c.Float64(threshold.Name)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := sim.Sweep(ctx, sc)
	if err != nil {
		return err
	}

	if c.Bool(jsonOutput.Name) {
		if err := printJSON(summary); err != nil {
			return err
		}
	} else {
		renderSweep(summary)
	}

	if summary.Failures > 0 {
		return cli.NewExitError(fmt.Sprintf("%d of %d runs failed", summary.Failures, summary.Runs), 2)
	}
	return nil
}

func loadDataset(c *cli.Context) (*sim.Dataset, error) {
	path := c.String("input")
	if path == "" {
		return sim.Generate(datasetConfig(c), rand.New(rand.NewSource(c.Int64(seed.Name))))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	return sim.ReadCSV(f)
}

func writeOutput(path string, data []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	log.Info("dataset written", "path", path, "bytes", len(data))
	return nil
}

func printJSON(v any) error {
	return writeJSON(os.Stdout, v)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func uploadArtifact(ctx context.Context, cfg sink.S3Config, key string, data []byte, contentType string) error {
	archive, err := sink.NewArchive(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if err := archive.EnsureBucket(ctx); err != nil {
		return err
	}
	if err := archive.Upload(ctx, key, data, contentType); err != nil {
		return err
	}
	log.Info("artifact uploaded", "bucket", cfg.Bucket, "key", key)
	return nil
}

func renderReport(report *sim.Report) {
	if len(report.Steps) > 0 {
		rows := pterm.TableData{{"step", "ts", "values", "truth", "engine", "median", "mean", "status", "flagged"}}
		for _, s := range report.Steps {
			rows = append(rows, []string{
				strconv.Itoa(s.Index),
				strconv.FormatInt(s.Timestamp, 10),
				formatValues(s.Values),
				formatFloat(s.GroundTruth),
				formatFloat(s.Engine),
				formatFloat(s.Median),
				formatFloat(s.Mean),
				s.Status.String(),
				formatIDs(s.Flagged),
			})
		}
		_ = pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	}

	rows := pterm.TableData{{"method", "max error", "mean error", "scored", "result"}}
	for _, s := range report.Scores {
		result := pterm.Green("PASS")
		if !s.WithinThreshold {
			result = pterm.Red("FAIL")
		}
		rows = append(rows, []string{
			s.Method,
			formatFloat(s.MaxError),
			formatFloat(s.MeanError),
			strconv.Itoa(s.Scored),
			result,
		})
	}
	pterm.DefaultSection.Printfln("%d samples, threshold %.3f", report.Samples, report.Threshold)
	_ = pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(rows).Render()

	for id, step := range report.FirstFlagged {
		pterm.Info.Printfln("sensor %d first flagged at step %d", id, step)
	}
	st := report.Engine
	pterm.Info.Printfln("trusted %d, degraded %d, no quorum %d, rehabilitations %d",
		st.Trusted, st.Degraded, st.NoQuorum, st.Rehabilitations)

	if report.Passed(sim.MethodEngine) {
		pterm.Success.Println("engine stayed within the threshold")
	} else {
		pterm.Error.Println("engine left the threshold")
	}
}

func renderSweep(summary *sim.SweepSummary) {
	rows := pterm.TableData{{"method", "passed", "worst max error", "avg mean error"}}
	for _, m := range summary.Methods {
		rows = append(rows, []string{
			m.Method,
			fmt.Sprintf("%d/%d", m.Passed, summary.Runs),
			formatFloat(m.WorstMaxError),
			formatFloat(m.AvgMeanError),
		})
	}
	pterm.DefaultSection.Printfln("%d runs on %d workers", summary.Runs, summary.Pool.Workers)
	_ = pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(rows).Render()
	pterm.Info.Printfln("worst engine seed: %d", summary.WorstSeed)

	if summary.Failures == 0 {
		pterm.Success.Println("engine passed on every seed")
	} else {
		pterm.Error.Printfln("engine failed on %d seeds", summary.Failures)
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func formatValues(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = formatFloat(v)
	}
	return strings.Join(parts, " ")
}

func formatIDs(ids []engine.SensorID) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(int(id))
	}
	return strings.Join(parts, ",")
}
