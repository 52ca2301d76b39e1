package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/iudanet/dirsync/internal/app"
	"github.com/iudanet/dirsync/internal/config"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file (default $"+config.EnvConfigPath+")")
	importPath := flag.String("import", "", "Import entries from a JSON file (- for stdin) and exit")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if err := run(*configPath, *importPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, importPath string) error {
	if configPath == "" {
		configPath = os.Getenv(config.EnvConfigPath)
	}
	if configPath == "" {
		return fmt.Errorf("configuration file is required: use -config or $%s", config.EnvConfigPath)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := cfg.Logging.NewLogger(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	replica, err := app.New(ctx, cfg, logger, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize replica: %w", err)
	}
	defer func() {
		if err := replica.Close(); err != nil {
			logger.Error("Failed to close replica", "error", err)
		}
	}()

	if importPath != "" {
		f, err := openImport(importPath)
		if err != nil {
			return err
		}
		defer func() {
			_ = f.Close()
		}()

		_, err = replica.Import(ctx, f)
		return err
	}

	logger.Info("Starting dirsync replica", "version", Version, "address", cfg.Server.Address)
	if err := replica.Run(ctx); err != nil {
		return err
	}
	logger.Info("Replica stopped")
	return nil
}

// openImport открывает файл импорта; "-" читает stdin, если он не терминал
func openImport(path string) (*os.File, error) {
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open import file: %w", err)
		}
		return f, nil
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, errors.New("refusing to import from a terminal: pipe a JSON file to stdin")
	}
	return os.Stdin, nil
}

func printVersion() {
	fmt.Printf("dirsync replica\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
