package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/evcraddock/street-kams/internal/export"
)

func newExportCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export your visits to CSV",
		Long:  "Exports every visit you recorded to a CSV file in --dir. The server also keeps a copy in its blob store and prints a link to it.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, dir)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "directory to write the CSV file into")

	return cmd
}

type exportSummary struct {
	Path        string `json:"path"`
	Rows        int    `json:"rows"`
	URL         string `json:"url,omitempty"`
	UploadError string `json:"upload_error,omitempty"`
}

func runExport(cmd *cobra.Command, dir string) error {
	out := cmd.OutOrStdout()

	api, err := signedInClient(cmd.Context())
	if err != nil {
		return err
	}

	resp, err := api.Export(cmd.Context())
	if err != nil {
		return err
	}
	if resp.Rows == 0 {
		fmt.Fprintln(out, "There are no visits to export.")
		return nil
	}

	if err := export.DirSaver(dir).Save(cmd.Context(), resp.FileName, resp.Data); err != nil {
		return fmt.Errorf("saving export: %w", err)
	}
	path := filepath.Join(dir, resp.FileName)

	if isJSON() {
		return printJSON(out, exportSummary{
			Path:        path,
			Rows:        resp.Rows,
			URL:         resp.URL,
			UploadError: resp.UploadError,
		})
	}

	fmt.Fprintf(out, "✓ Exported %d visits to %s\n", resp.Rows, path)
	if resp.UploadError != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: the server could not keep a copy: %s\n", resp.UploadError)
	} else if resp.URL != "" {
		fmt.Fprintf(out, "  Stored copy: %s\n", resp.URL)
	}
	return nil
}
