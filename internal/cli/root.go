// Package cli defines the cobra command tree for street-kams.
package cli

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/evcraddock/street-kams/internal/client"
	"github.com/evcraddock/street-kams/internal/db"
	"github.com/evcraddock/street-kams/internal/session"
)

var (
	flagFormat string
	flagDB     string
)

// NewRootCmd creates the root cobra command with global flags.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kams",
		Short:         "Record and export KAM field visits",
		Long:          "street-kams records restaurant field visits by key account managers. Run the web server, submit visits from the terminal, review your history and export it as CSV.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagFormat, "format", "text", "output format (text|json)")
	root.PersistentFlags().StringVar(&flagDB, "db", "", "SQLite database path (default: $KAMS_DB or ~/.street-kams/kams.db)")

	root.AddCommand(
		newServeCmd(),
		newUsersCmd(),
		newLoginCmd(),
		newLogoutCmd(),
		newStatusCmd(),
		newSubmitCmd(),
		newVisitsCmd(),
		newFieldsCmd(),
		newAdminCmd(),
		newExportCmd(),
		newFormCmd(),
		newVersionCmd(),
	)

	return root
}

// dbPath resolves the database path from the --db flag, KAMS_DB or the default.
func dbPath() (string, error) {
	if flagDB != "" {
		return flagDB, nil
	}
	if p := os.Getenv("KAMS_DB"); p != "" {
		return p, nil
	}
	return db.DefaultPath()
}

// openDB opens the SQLite database the server and the users commands share.
func openDB() (*sql.DB, error) {
	path, err := dbPath()
	if err != nil {
		return nil, err
	}
	return db.Open(path)
}

// newAPIClient creates an HTTP client for the street-kams API.
func newAPIClient() *client.Client {
	return client.New(getServerURL(), getAPIKey())
}

// newController creates a session controller backed by the CLI config file.
func newController() *session.Controller {
	return session.New(client.New(getServerURL(), ""), configKeys{})
}

// isJSON returns true if the --format flag is set to json.
func isJSON() bool {
	return flagFormat == "json"
}

// closeDB closes the database, logging any error to stderr.
func closeDB(database *sql.DB) {
	if err := database.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing database: %v\n", err)
	}
}
