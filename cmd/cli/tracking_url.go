package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/axellelanca/trailtrack/cmd"
	"github.com/axellelanca/trailtrack/internal/services"
)

var (
	sessionIDFlag string
	paramFlags    []string
)

// TrackingURLCmd prints the tracking URL of a catalog link.
var TrackingURLCmd = &cobra.Command{
	Use:   "tracking-url [link-id]",
	Short: "Build the tracking URL of a catalog affiliate link",
	Long: `Looks up the link in the configured affiliate catalog and prints its
tracking URL. Extra parameters are given as --param key=value.`,
	Args: cobra.ExactArgs(1),
	Run: func(c *cobra.Command, args []string) {
		linkID := args[0]

		custom := make(map[string]string, len(paramFlags))
		for _, p := range paramFlags {
			key, value, ok := strings.Cut(p, "=")
			if !ok || key == "" {
				fmt.Printf("Error: invalid parameter %q, expected key=value\n", p)
				os.Exit(1)
			}
			custom[key] = value
		}

		for _, link := range cmd.Cfg.Affiliate.Links {
			if link.ID != linkID {
				continue
			}
			trackingURL, err := services.BuildTrackingURL(link, cmd.Cfg.Tracking.RefTag, sessionIDFlag, custom)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(trackingURL)
			return
		}

		fmt.Printf("Error: link '%s' not found in the affiliate catalog\n", linkID)
		os.Exit(1)
	},
}

func init() {
	TrackingURLCmd.Flags().StringVar(&sessionIDFlag, "session", "", "session id written to the sid parameter")
	TrackingURLCmd.Flags().StringArrayVar(&paramFlags, "param", nil, "extra query parameter as key=value (repeatable)")
	cmd.RootCmd.AddCommand(TrackingURLCmd)
}
