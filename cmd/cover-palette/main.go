package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"cover-palette/pkg/config"
	pkglog "cover-palette/pkg/log"
	"cover-palette/pkg/orchestrate"
	"cover-palette/pkg/utils"
)

const version = "0.4.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "crawl", "download", "palette", "run":
		os.Exit(runStage(os.Args[1], os.Args[2:]))
	case "validate":
		runValidate(os.Args[2:])
	case "version":
		fmt.Printf("cover-palette %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `cover-palette - Magazine cover crawler and palette extractor

Usage:
  cover-palette <command> [options]

Commands:
  crawl       Crawl the archive and write the records table
  download    Download covers listed in the records table
  palette     Extract 4-swatch palettes from downloaded covers
  run         Crawl, download and extract in one go
  validate    Validate configuration file
  version     Show version info

Run 'cover-palette <command> -h' for command-specific help.`)
}

// loadConfig loads and parses the config file
func loadConfig(path string) (*config.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg config.AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// runStage parses flags for one pipeline command and executes it. Returns the exit code.
func runStage(stage string, args []string) int {
	fs := flag.NewFlagSet(stage, flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	resume := fs.Bool("resume", false, "Reuse detail pages cached by an earlier crawl")
	pprofAddr := fs.String("pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cover-palette %s [options]\n\nOptions:\n", stage)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 1
	}
	return executeStage(stage, *configFile, *logLevel, *pprofAddr, *resume)
}

func executeStage(stage, configFile, logLevelStr, pprofAddr string, resume bool) int {
	// --- Logger Setup ---
	log, err := pkglog.New(logLevelStr, os.Stderr)
	if err != nil {
		log, _ = pkglog.New("info", os.Stderr)
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	}

	// --- Load Configuration ---
	log.Infof("Loading configuration from %s", configFile)
	appCfg, err := loadConfig(configFile)
	if err != nil {
		log.Errorf("Config error: %v", err)
		return 1
	}
	warnings, err := appCfg.Validate()
	if err != nil {
		log.Errorf("Configuration error: %v", err)
		return 1
	}
	for _, w := range warnings {
		log.Warn(w)
	}
	if err := checkStage(stage, appCfg); err != nil {
		log.Errorf("Configuration error: %v", err)
		return 1
	}
	logAppConfig(appCfg, log)

	// --- Start pprof HTTP Server (Optional) ---
	if pprofAddr != "" {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("PANIC in pprof server: %v", r)
				}
			}()
			log.Infof("Starting pprof HTTP server on: http://%s/debug/pprof/", pprofAddr)
			if err := http.ListenAndServe(pprofAddr, nil); err != nil {
				log.Errorf("Pprof server failed to start on %s: %v", pprofAddr, err)
			}
		}()
	}

	// --- Context & Signal Handling ---
	var ctx context.Context
	var cancel context.CancelFunc
	if appCfg.GlobalTimeout > 0 {
		log.Infof("Setting global timeout: %v", appCfg.GlobalTimeout)
		ctx, cancel = context.WithTimeout(context.Background(), appCfg.GlobalTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
			cancel()
		case <-ctx.Done():
			return
		}
		select {
		case sig := <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	// --- Pipeline ---
	entry := log.WithField("command", stage)
	pipeline, err := orchestrate.NewPipeline(appCfg, resume, entry)
	if err != nil {
		log.Errorf("Failed to initialize pipeline: %v", err)
		return 1
	}

	switch stage {
	case "crawl":
		_, err = pipeline.Crawl(ctx)
	case "download":
		err = pipeline.Download(ctx, nil)
	case "palette":
		err = pipeline.Palette(ctx, nil)
	case "run":
		err = pipeline.Run(ctx)
	}

	pipeline.Summary().Log(entry)
	pipeline.ReportFailures(context.Background())
	if closeErr := pipeline.Close(); closeErr != nil {
		log.Errorf("Error closing state ledger: %v", closeErr)
	}

	return exitCode(err, log)
}

// exitCode maps the pipeline error to a process exit code. Per-item failures never fail the process.
// checkStage rejects settings that are valid in general but wrong for stage.
// Crawling without blank_cover_url would queue every placeholder for download and clustering.
func checkStage(stage string, appCfg *config.AppConfig) error {
	switch stage {
	case "crawl", "run":
		if appCfg.Source.BlankCoverURL == "" {
			return fmt.Errorf("%w: source.blank_cover_url is required for %s", utils.ErrConfigValidation, stage)
		}
	}
	return nil
}

func exitCode(err error, log *logrus.Logger) int {
	switch {
	case err == nil:
		log.Info("Completed successfully.")
		return 0
	case errors.Is(err, context.Canceled):
		log.Warn("Cancelled gracefully.")
		return 0
	case errors.Is(err, context.DeadlineExceeded):
		log.Error("Timed out (global timeout).")
		return 1
	default:
		log.Errorf("Finished with error: %v", err)
		return 1
	}
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cover-palette validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}

	fmt.Fprintf(stdout, "OK: %s pages %d..%d -> %s\n",
		appCfg.Source.BaseURL, appCfg.Source.FirstPage, appCfg.Source.LastPage, appCfg.ImageDir())
	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// logAppConfig logs the effective configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Source: %s pages %d..%d, DetailDelay:%v, RespectRobots:%t",
		appCfg.Source.BaseURL, appCfg.Source.FirstPage, appCfg.Source.LastPage,
		appCfg.Source.DetailDelay, appCfg.Source.RespectRobots)
	log.Infof("Paths: DataDir:%s, Records:%s, Images:%s, StateDir:%s",
		appCfg.DataDir, appCfg.RecordsPath(), appCfg.ImageDir(), appCfg.StateDir)
	log.Infof("Workers: Images:%d (delay %v, chunk %d), Palette:%d",
		appCfg.NumImageWorkers, appCfg.ImageDelay, appCfg.DownloadChunkSize, appCfg.NumPaletteWorkers)
	log.Infof("Retries: Max:%d, InitialDelay:%v, MaxDelay:%v",
		appCfg.MaxRetries, appCfg.InitialRetryDelay, appCfg.MaxRetryDelay)
	log.Infof("Palette: k=%d, pattern=%v, seed=%d, max_iter=%d, tol=%g, artifacts=%t",
		appCfg.Palette.Clusters, appCfg.Palette.SwatchPattern, appCfg.Palette.Seed,
		appCfg.Palette.MaxIterations, appCfg.Palette.Tolerance, appCfg.Palette.EffectiveWriteArtifacts())
	log.Infof("HTTP Client: Timeout:%v, MaxIdle:%d, MaxIdlePerHost:%d, IdleTimeout:%v",
		appCfg.HTTPClientSettings.Timeout, appCfg.HTTPClientSettings.MaxIdleConns,
		appCfg.HTTPClientSettings.MaxIdleConnsPerHost, appCfg.HTTPClientSettings.IdleConnTimeout)
}
