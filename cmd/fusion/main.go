package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/VanDung-dev/HieraChain-Fusion/config"
	"github.com/joho/godotenv"
	logger "github.com/multiversx/mx-chain-logger-go"
	"github.com/urfave/cli"
)

// appVersion should be populated at build time using ldflags
// go build -ldflags="-X main.appVersion=$(git describe --tags --long --dirty)"
var appVersion = "v0.1.0-dev"

var log = logger.GetOrCreate("main")

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "fusion"
	app.Usage = "Byzantine-tolerant fusion of redundant sensor readings"
	app.Version = fmt.Sprintf("%s/%s/%s-%s", appVersion, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	app.Flags = []cli.Flag{configurationFile, envFile, logLevel}
	app.Before = func(c *cli.Context) error {
		return setupEnvironment(c)
	}
	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "run the fusion node: ingest transports, HTTP API, Arrow sessions and result sinks",
			Flags:  []cli.Flag{upload},
			Action: serveAction,
		},
		{
			Name:   "generate",
			Usage:  "write a synthetic Byzantine dataset as CSV",
			Flags:  append(datasetFlags(), output, upload),
			Action: generateAction,
		},
		{
			Name:   "test",
			Usage:  "score the engine against median and mean on one dataset",
			Flags:  append(datasetFlags(), input, threshold, showSteps, jsonOutput),
			Action: testAction,
		},
		{
			Name:   "sweep",
			Usage:  "score the engine on many seeds in parallel",
			Flags:  append(datasetFlags(), runs, workers, threshold, jsonOutput),
			Action: sweepAction,
		},
		{
			Name:  "version",
			Usage: "print the version",
			Action: func(c *cli.Context) error {
				fmt.Println(c.App.Version)
				return nil
			},
		},
	}
	return app
}

// setupEnvironment loads the dotenv file and applies the log level. The flag
// wins over FUSION_LOG_LEVEL and the configuration file.
func setupEnvironment(c *cli.Context) error {
	if path := c.GlobalString(envFile.Name); path != "" {
		err := godotenv.Load(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	level := c.GlobalString(logLevel.Name)
	if level == "" {
		level = os.Getenv(config.EnvLogLevel)
	}
	if level == "" {
		return nil
	}
	return logger.SetLogLevel(level)
}

// loadConfig reads --config, falling back to defaults when the file is
// missing, and overlays the environment.
func loadConfig(c *cli.Context) (config.Config, error) {
	path := c.GlobalString(configurationFile.Name)
	cfg, err := config.Load(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Warn("configuration file not found, using defaults", "path", path)
		cfg = config.Default()
	case err != nil:
		return config.Config{}, err
	}

	cfg.ApplyEnv(os.LookupEnv)
	if c.GlobalString(logLevel.Name) == "" && cfg.LogLevel != "" {
		if err := logger.SetLogLevel(cfg.LogLevel); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, cfg.Validate()
}
