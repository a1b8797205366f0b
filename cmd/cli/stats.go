package cli

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/axellelanca/trailtrack/cmd"
	"github.com/axellelanca/trailtrack/internal/services"
)

// StatsCmd represents the 'stats' command
var StatsCmd = &cobra.Command{
	Use:   "stats [visitor-id]",
	Short: "Show the tracking session of a visitor",
	Long:  `Reads the stored session of the given visitor and prints its clicks, conversions and top affiliates.`,
	Args:  cobra.ExactArgs(1),
	Run:   runStats,
}

func init() {
	cmd.RootCmd.AddCommand(StatsCmd)
}

// runStats executes the stats command logic
func runStats(c *cobra.Command, args []string) {
	visitorID := args[0]
	ctx := context.Background()

	store, closeStore, err := cmd.OpenStore(ctx, cmd.Cfg)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer closeStore()

	if _, ok, err := store.GetItem(ctx, visitorID, services.SessionStorageKey); err != nil {
		fmt.Printf("Error reading session: %v\n", err)
		os.Exit(1)
	} else if !ok {
		fmt.Printf("Error: no session stored for visitor '%s'\n", visitorID)
		os.Exit(1)
	}

	tracker := services.NewTracker(ctx, visitorID, services.PageContext{}, services.TrackerDeps{
		Store:  store,
		Config: services.TrackerConfig{SessionTTL: cmd.Cfg.SessionTTL()},
	})
	stats := tracker.GetSessionAnalytics()
	clickLog, err := tracker.ClickLog(ctx)
	if err != nil {
		fmt.Printf("Warning: could not read click log: %v\n", err)
	}

	fmt.Printf("Statistics for visitor: %s\n", visitorID)
	fmt.Printf("Session: %s\n", stats.SessionID)
	fmt.Printf("Clicks: %d (click log: %d)\n", stats.ClickCount, len(clickLog))
	fmt.Printf("Conversions: %d\n", stats.ConversionCount)
	fmt.Printf("Total value: %.2f\n", stats.TotalValue)
	for i, a := range stats.TopAffiliates {
		fmt.Printf("  %d. %s clicks=%d conversions=%d value=%.2f\n", i+1, a.AffiliateID, a.Clicks, a.Conversions, a.Value)
	}
}
