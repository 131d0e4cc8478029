// Package main provides the Replay workflow runner: it loads a YAML
// workflow, drives it through a browser session, and prints each step's
// outcome. Intended for CI and local workflow debugging; long-running
// deployments embed the packages directly.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
)

const version = "0.1.0"

// CLIConfig holds command-line configuration.
type CLIConfig struct {
	ConfigFile   string
	WorkflowFile string
	APIKey       string
	BaseURL      string
	Model        string
	BlobDir      string
	Summarize    bool
	Development  bool
	ShowVersion  bool
}

func main() {
	config := parseFlags()

	if config.ShowVersion {
		fmt.Printf("replay v%s\n", version)
		return
	}
	if config.WorkflowFile == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down gracefully...")
		cancel()
	}()

	if err := run(ctx, config); err != nil {
		cancel()
		log.Printf("Workflow failed: %v", err)
		os.Exit(1)
	}
	cancel()
}

// parseFlags parses command line flags.
func parseFlags() *CLIConfig {
	config := &CLIConfig{}

	flag.StringVar(&config.ConfigFile, "config", "", "Path to runner configuration (YAML)")
	flag.StringVar(&config.WorkflowFile, "workflow", "", "Path to workflow file (YAML, required)")
	flag.StringVar(&config.APIKey, "api-key", os.Getenv("OPENAI_API_KEY"), "OpenAI API key for -summarize")
	flag.StringVar(&config.BaseURL, "base-url", os.Getenv("OPENAI_BASE_URL"), "OpenAI API base URL for -summarize")
	flag.StringVar(&config.Model, "model", "", "LLM model for -summarize")
	flag.StringVar(&config.BlobDir, "blob-dir", "", "Hand screenshots off to a content-addressed blob directory")
	flag.BoolVar(&config.Summarize, "summarize", false, "Summarize harvested page text with an LLM after the run")
	flag.BoolVar(&config.Development, "dev", false, "Human-readable development logging")
	flag.BoolVar(&config.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Replay - Browser Workflow Runner\n\n")
		fmt.Fprintf(os.Stderr, "Usage: replay -workflow <file> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Run a workflow with default settings\n")
		fmt.Fprintf(os.Stderr, "  replay -workflow login-check.yaml\n\n")
		fmt.Fprintf(os.Stderr, "  # Run with a custom runner config and LLM summary\n")
		fmt.Fprintf(os.Stderr, "  replay -workflow scrape.yaml -config replay.yaml -summarize\n\n")
	}

	flag.Parse()
	return config
}
