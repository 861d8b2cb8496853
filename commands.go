package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/auto-dw/pkg/apperrors"
	"github.com/ekaya-inc/auto-dw/pkg/feed"
	"github.com/ekaya-inc/auto-dw/pkg/services"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending auto_dw schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return migrate(cmd.Context(), cfg, logger)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), Version)
	},
}

var (
	buildFeedFlag     string
	buildIDFlag       string
	buildDWSchemaFlag string
	buildDryRunFlag   bool
	buildLoadFlag     bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Assemble a Data Vault schema and create its tables",
	Long: `Build assembles a Data Vault schema from classified columns, persists it
under a build id and creates its hubs and satellites.

Without --feed the latest classifier responses at or above the confidence
threshold are read from the auto_dw tables.

Examples:
  auto-dw build                            # Build from the auto_dw tables
  auto-dw build --load                     # Build and load in one go
  auto-dw build --feed feed.json --dry-run # Print DDL and DML only, no database needed`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringVar(&buildFeedFlag, "feed", "", "Read classifications from a JSON feed file")
	buildCmd.Flags().StringVar(&buildIDFlag, "build-id", "", "Build id (generated when empty)")
	buildCmd.Flags().StringVar(&buildDWSchemaFlag, "dw-schema", "", "Target schema (defaults to warehouse.dw_schema)")
	buildCmd.Flags().BoolVar(&buildDryRunFlag, "dry-run", false, "Print the SQL without touching the database")
	buildCmd.Flags().BoolVar(&buildLoadFlag, "load", false, "Load the tables after creating them")
	buildCmd.MarkFlagsMutuallyExclusive("dry-run", "load")
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	req := services.BuildRequest{BuildID: buildIDFlag, DWSchema: buildDWSchemaFlag}
	if buildFeedFlag != "" {
		f, err := feed.ReadFile(buildFeedFlag)
		if err != nil {
			return err
		}
		req.Records = f.Records
		if req.BuildID == "" {
			req.BuildID = f.BuildID
		}
		if req.DWSchema == "" {
			req.DWSchema = f.DWSchema
		}
	}

	if buildDryRunFlag && req.Records != nil {
		_, preview, err := newOfflineApp(cfg, logger).builds.Plan(ctx, req)
		if err != nil {
			return err
		}
		return printSQL(out, preview)
	}

	return withApp(ctx, func(ctx context.Context, a *app) error {
		switch {
		case buildDryRunFlag:
			_, preview, err := a.builds.Plan(ctx, req)
			if err != nil {
				return err
			}
			return printSQL(out, preview)

		case buildLoadFlag:
			built, loaded, err := a.builds.Run(ctx, req)
			if built != nil {
				printBuild(out, built)
			}
			if loaded != nil {
				printLoad(out, loaded)
			}
			return err

		default:
			built, err := a.builds.Build(ctx, req)
			if err != nil {
				return err
			}
			printBuild(out, built)
			return nil
		}
	})
}

var loadCmd = &cobra.Command{
	Use:   "load <build-id>",
	Short: "Run the load SQL of a persisted build",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			loaded, err := a.builds.Load(ctx, args[0])
			if loaded != nil {
				printLoad(cmd.OutOrStdout(), loaded)
			}
			return err
		})
	},
}

var schemaFormatFlag string

var schemaCmd = &cobra.Command{
	Use:   "schema <build-id>",
	Short: "Print the persisted Data Vault schema of a build",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if schemaFormatFlag != "json" && schemaFormatFlag != "yaml" {
			return fmt.Errorf("unsupported format %q (json or yaml)", schemaFormatFlag)
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			schema, err := a.builds.GetSchema(ctx, args[0])
			if err != nil {
				return err
			}
			return writeDocument(cmd.OutOrStdout(), schema, schemaFormatFlag)
		})
	},
}

func init() {
	schemaCmd.Flags().StringVar(&schemaFormatFlag, "format", "json", "Output format: json or yaml")
}

var sqlCmd = &cobra.Command{
	Use:   "sql <build-id>",
	Short: "Print the DDL and load SQL of a persisted build without running it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			preview, err := a.builds.PreviewSQL(ctx, args[0])
			if err != nil {
				return err
			}
			return printSQL(cmd.OutOrStdout(), preview)
		})
	},
}

var buildsCmd = &cobra.Command{
	Use:   "builds",
	Short: "List persisted builds",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			builds, err := a.builds.ListBuilds(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "BUILD ID\tDW SCHEMA\tBUSINESS KEYS\tSCHEMA ID\tSAVED")
			for _, b := range builds {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
					b.BuildID, b.DWSchema, b.BusinessKeys, b.SchemaID, b.InsertedAt.Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the classification status of every source column",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			statuses, err := a.columnStatus.List(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SCHEMA\tTABLE\tCOLUMN\tSTATUS\tCONFIDENCE\tCATEGORY")
			for _, s := range statuses {
				category := "-"
				if s.Category != nil {
					category = *s.Category
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					s.SchemaName, s.TableName, s.ColumnName, s.Status, s.ConfidenceLevel(), category)
			}
			return tw.Flush()
		})
	},
}

// withApp connects, runs fn on one scoped connection and closes everything afterwards.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	scoped, release, err := a.scoped(ctx)
	if err != nil {
		return err
	}
	defer release()

	return fn(scoped, a)
}

func printBuild(w io.Writer, built *services.BuildResult) {
	fmt.Fprintf(w, "build %s: %d business keys in schema %s\n",
		built.BuildID, len(built.Schema.BusinessKeys), built.Schema.DWSchema)
}

func printLoad(w io.Writer, loaded *services.LoadResult) {
	fmt.Fprintf(w, "load %s: %d statements, %d rows inserted\n",
		loaded.BuildID, loaded.Statements, loaded.RowsAffected)
	if loaded.Unresolved > 0 {
		fmt.Fprintf(w, "  %d target columns not found in the catalog\n", loaded.Unresolved)
	}
	for _, s := range loaded.Skipped {
		fmt.Fprintf(w, "  skipped %s\n", s)
	}
}

func printSQL(w io.Writer, preview *services.SQLPreview) error {
	fmt.Fprintf(w, "-- build %s\n", preview.BuildID)
	for _, s := range preview.Skipped {
		fmt.Fprintf(w, "-- skipped %s\n", s)
	}
	_, err := io.WriteString(w, preview.DDL+"\n"+preview.DML)
	return err
}

// writeDocument renders v as indented JSON, or as YAML keyed by the same field names.
func writeDocument(w io.Writer, v any, format string) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if format == "json" {
		_, err = fmt.Fprintln(w, string(raw))
		return err
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

// exitCode distinguishes a partial load from a failed command.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, apperrors.ErrIncompleteLoad):
		return 2
	default:
		return 1
	}
}
