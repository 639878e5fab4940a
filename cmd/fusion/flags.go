package main

import (
	"github.com/VanDung-dev/HieraChain-Fusion/sim"
	"github.com/urfave/cli"
)

var (
	filePathPlaceholder = "[path]"

	// configurationFile defines a flag for the path to the main toml configuration file
	configurationFile = cli.StringFlag{
		Name: "config",
		Usage: "The `" + filePathPlaceholder + "` for the main configuration file. This TOML file contains the " +
			"fusion parameters, transports and result sinks. Defaults are used when the file is missing.",
		Value: "./config/fusion.toml",
	}
	// envFile defines a flag for the dotenv file holding secrets
	envFile = cli.StringFlag{
		Name:  "env-file",
		Usage: "The `" + filePathPlaceholder + "` for a dotenv file loaded before the FUSION_* variables are read.",
		Value: "./.env",
	}
	// logLevel defines the logger level
	logLevel = cli.StringFlag{
		Name: "log-level",
		Usage: "This flag specifies the logger `level(s)`. It can contain multiple comma-separated value. For example" +
			", if set to *:INFO the logs for all packages will have the INFO level. However, if set to *:INFO,fusion/api:DEBUG" +
			" the logs for all packages will have the INFO level except the fusion/api package which will have DEBUG level.",
	}
	// upload archives the run artifacts to the configured S3 bucket
	upload = cli.BoolFlag{
		Name:  "upload",
		Usage: "Boolean option for uploading the produced artifacts to the [S3] bucket.",
	}

	seed = cli.Int64Flag{
		Name:  "seed",
		Usage: "The random `seed` for the synthetic dataset.",
		Value: 42,
	}
	samples = cli.IntFlag{
		Name:  "samples",
		Usage: "The `number` of timesteps to generate.",
		Value: sim.DefaultDatasetConfig().Samples,
	}
	noise = cli.Float64Flag{
		Name:  "noise",
		Usage: "The honest sensor noise standard `deviation`.",
		Value: sim.DefaultDatasetConfig().NoiseStd,
	}
	drift = cli.Float64Flag{
		Name:  "drift",
		Usage: "The per-step `drift` of the lying sensor after its honest period.",
		Value: sim.DefaultDatasetConfig().DriftRate,
	}
	honestPeriod = cli.IntFlag{
		Name:  "honest-period",
		Usage: "The `number` of steps the lying sensor behaves before drifting.",
		Value: sim.DefaultDatasetConfig().HonestPeriod,
	}
	output = cli.StringFlag{
		Name:  "output, o",
		Usage: "The `" + filePathPlaceholder + "` to write to. Standard output when empty.",
	}
	input = cli.StringFlag{
		Name:  "input, i",
		Usage: "The `" + filePathPlaceholder + "` of a dataset CSV. A dataset is generated from --seed when empty.",
	}
	threshold = cli.Float64Flag{
		Name:  "threshold",
		Usage: "The allowed error as a `fraction` of the first ground truth value.",
		Value: sim.DefaultThresholdPct,
	}
	showSteps = cli.BoolFlag{
		Name:  "steps",
		Usage: "Boolean option for printing every scored timestep.",
	}
	runs = cli.IntFlag{
		Name:  "runs",
		Usage: "The `number` of seeds to score.",
		Value: sim.DefaultSweepConfig().Runs,
	}
	workers = cli.IntFlag{
		Name:  "workers",
		Usage: "The `number` of scoring goroutines. 0 uses every CPU.",
	}
	jsonOutput = cli.BoolFlag{
		Name:  "json",
		Usage: "Boolean option for printing the report as JSON instead of a table.",
	}
)

func datasetFlags() []cli.Flag {
	return []cli.Flag{seed, samples, noise, drift, honestPeriod}
}

func datasetConfig(c *cli.Context) sim.DatasetConfig {
	cfg := sim.DefaultDatasetConfig()
	cfg.Samples = c.Int(samples.Name)
	cfg.NoiseStd = c.Float64(noise.Name)
	cfg.DriftRate = c.Float64(drift.Name)
	cfg.HonestPeriod = c.Int(honestPeriod.Name)
	return cfg
}
