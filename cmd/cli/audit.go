package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/axellelanca/trailtrack/cmd"
	"github.com/axellelanca/trailtrack/internal/logger"
	"github.com/axellelanca/trailtrack/internal/seotest"
)

var auditTimeout time.Duration

// AuditCmd runs a one-shot SEO audit and prints the report as JSON.
var AuditCmd = &cobra.Command{
	Use:   "audit [url]",
	Short: "Run an SEO audit of a page",
	Args:  cobra.ExactArgs(1),
	Run: func(c *cobra.Command, args []string) {
		zlog, err := logger.New(cmd.Cfg.Service.Environment)
		if err != nil {
			zlog = zap.NewNop()
		}
		defer func() { _ = zlog.Sync() }()

		ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
		defer cancel()

		// No page reports vitals to a CLI run, the window only bounds the wait.
		sampler := seotest.NewVitalsSampler(seotest.NewVitalsHub(), cmd.Cfg.VitalsWindow())
		report, err := seotest.NewAuditor(sampler, zlog).RunSEOAudit(ctx, args[0])
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	AuditCmd.Flags().DurationVar(&auditTimeout, "timeout", 30*time.Second, "overall audit timeout")
	cmd.RootCmd.AddCommand(AuditCmd)
}
