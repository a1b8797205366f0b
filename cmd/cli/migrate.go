package cli

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/axellelanca/trailtrack/cmd"
	"github.com/axellelanca/trailtrack/internal/repository"
)

// MigrateCmd represents the 'migrate' command
// This command handles database schema creation and updates
var MigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Executes database migrations to create or update tables.",
	Long: `This command connects to the configured SQLite database
and executes GORM automatic migrations to create the visitor
'storage_items' table.`,
	Run: func(c *cobra.Command, args []string) {
		db, err := cmd.OpenDatabase(cmd.Cfg)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}

		// Get the underlying SQL database connection so it is closed when migration is complete
		sqlDB, err := db.DB()
		if err != nil {
			log.Fatalf("FATAL: Failed to get underlying SQL database: %v", err)
		}
		defer sqlDB.Close()

		if err := repository.NewGormStore(db).Migrate(); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}

		fmt.Println("Database migrations executed successfully.")
	},
}

func init() {
	cmd.RootCmd.AddCommand(MigrateCmd)
}
