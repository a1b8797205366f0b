package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/axellelanca/trailtrack/internal/config"
)

// Cfg is the global variable that will contain the loaded configuration
// It will be accessible to all Cobra commands throughout the application
var Cfg *config.Config

// RootCmd is the base command for the CLI application
// All other commands (run-server, migrate, stats, tracking-url, audit) are added as subcommands
var RootCmd = &cobra.Command{
	Use:   "trailtrack",
	Short: "Affiliate attribution and SEO monitoring service",
	Long: `trailtrack records affiliate clicks and conversions per visitor,
attributes conversions to clicks, reports commissions, and watches
pages for SEO issues and A/B test results.`,
}

// Execute is the main entry point for the Cobra application
// It is called from 'main.go' and handles command execution and error handling
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Configuration is loaded before any command executes
	cobra.OnInitialize(initConfig)

	// Subcommands register themselves via their own init() functions
	// to avoid import cycles with this package.
}

// initConfig loads the application configuration into Cfg.
// A failed load falls back to the defaults so read-only commands still work.
func initConfig() {
	var err error
	Cfg, err = config.LoadConfig()
	if err != nil {
		log.Printf("Warning: Problem loading configuration: %v. Using default values.", err)
		Cfg = config.Defaults()
	}
}
