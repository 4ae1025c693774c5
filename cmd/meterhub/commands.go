package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/meterhub-core/internal/meter"
	"github.com/nerrad567/meterhub-core/internal/telemetry"
)

// newRootCommand builds the meterhub command tree.
func newRootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "meterhub",
		Short:         "Metering telemetry synchronizer",
		Long:          `meterhub merges push and pull device telemetry into one live, normalized view.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", getConfigPath(), "configuration file")

	rootCmd.AddCommand(
		newServeCommand(&configPath),
		newNormalizeCommand(),
		newVersionCommand(),
	)
	return rootCmd
}

// newServeCommand runs the service until the context is cancelled.
func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the synchronizer and API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), *configPath)
		},
	}
}

// normalizedRecord is one line of normalize output.
type normalizedRecord struct {
	Snapshot meter.Snapshot `json:"snapshot"`
	Strategy string         `json:"strategy"`
	Issues   []string       `json:"issues,omitempty"`
}

// newNormalizeCommand prints the snapshots a payload normalizes to.
//
// The input is a single JSON record, an array of records, or an
// {"items": [...]} listing. It is read from the file argument or stdin.
func newNormalizeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize [file]",
		Short: "Normalize a device payload and print the result",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("opening input: %w", err)
				}
				defer f.Close()
				in = f
			}

			records, err := readRecords(in)
			if err != nil {
				return err
			}

			out := make([]normalizedRecord, 0, len(records))
			for _, raw := range records {
				res := meter.NormalizeResult(raw)
				rec := normalizedRecord{Snapshot: res.Snapshot, Strategy: string(res.Strategy)}
				if rec.Strategy == "" {
					rec.Strategy = "none"
				}
				for _, issue := range res.Issues {
					rec.Issues = append(rec.Issues, issue.String())
				}
				out = append(out, rec)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

// readRecords decodes one record or a listing of records.
func readRecords(r io.Reader) ([]map[string]any, error) {
	var body any
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding input: %w", err)
	}
	if obj, ok := body.(map[string]any); ok {
		if _, listing := obj["items"]; !listing {
			return []map[string]any{obj}, nil
		}
	}
	return telemetry.DecodeRecords(body)
}

// newVersionCommand prints build information.
func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "meterhub %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
