package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/demandcast/internal/apikey"
	"github.com/kiranshivaraju/demandcast/internal/app"
	"github.com/kiranshivaraju/demandcast/internal/config"
	"github.com/kiranshivaraju/demandcast/internal/region"
	"github.com/kiranshivaraju/demandcast/internal/store"
	"github.com/kiranshivaraju/demandcast/pkg/models"
)

func newForecastCmd() *cobra.Command {
	var (
		req    models.ForecastRequest
		sector string
		frame  string
		memory bool
	)

	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Generate a demand forecast for a sector and region",
		Long: `Generate a demand forecast and print it as JSON.

With --memory the forecast runs against an in-process store and cache, so only
the AI provider settings are required. Otherwise the batch is persisted to
Postgres and replaces the previous one for the same sector and region.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			req.Sector = models.Sector(sector)
			req.Timeframe = models.Timeframe(frame)

			var (
				b   *backends
				err error
			)
			if memory {
				b, err = openMemory()
			} else {
				b, err = openPersistent(ctx)
			}
			if err != nil {
				return err
			}
			defer b.close()

			pipeline, err := app.New(ctx, b.cfg, b.store, b.cache)
			if err != nil {
				return err
			}
			f, err := pipeline.Service.Generate(ctx, req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&sector, "sector", "", "sector: "+joinSectors())
	flags.StringVar(&req.Region, "region", "", "region name or alias")
	flags.StringVar(&frame, "timeframe", string(models.Timeframe30Days), `horizon: "15 days", "30 days" or "60 days"`)
	flags.StringVar(&req.Department, "department", "", "optional department focus")
	flags.StringVar(&req.Category, "category", "", "optional category focus")
	flags.BoolVar(&memory, "memory", false, "run without Postgres and Redis")
	_ = cmd.MarkFlagRequired("sector")
	_ = cmd.MarkFlagRequired("region")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.LoadUnvalidated()
			if cfg.Database.URL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}
			if err := store.RunMigrations(cfg.Database.URL, dir); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "migrations", "directory holding the migration files")
	return cmd
}

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}
	cmd.AddCommand(newKeysCreateCmd(), newKeysListCmd(), newKeysRevokeCmd())
	return cmd
}

func newKeysCreateCmd() *cobra.Command {
	var (
		name   string
		scopes []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key and print it once",
		PreRunE: func(_ *cobra.Command, _ []string) error {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("--name is required")
			}
			_, err := apikey.NormalizeScopes(scopes)
			return err
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, closeStore, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			key, raw, err := apikey.Generate(name, scopes)
			if err != nil {
				return err
			}
			if err := st.CreateAPIKey(ctx, key); err != nil {
				return fmt.Errorf("store api key: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created key %q (%s) with scopes %s\n", key.Name, key.ID, strings.Join(key.Scopes, ","))
			fmt.Fprintln(out, "Store it now; it cannot be shown again:")
			fmt.Fprintln(out, raw)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "human readable key name")
	cmd.Flags().StringSliceVar(&scopes, "scopes", []string{models.ScopeRead}, "comma separated scopes: forecast, read, admin")
	return cmd
}

func newKeysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active API keys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, closeStore, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			keys, err := st.ListAPIKeys(ctx)
			if err != nil {
				return fmt.Errorf("list api keys: %w", err)
			}
			return writeKeys(cmd.OutOrStdout(), keys)
		},
	}
}

func newKeysRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid key id %q: %w", args[0], err)
			}

			ctx := cmd.Context()
			st, closeStore, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := st.RevokeAPIKey(ctx, id); err != nil {
				return fmt.Errorf("revoke api key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", id)
			return nil
		},
	}
}

func newRegionsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "regions",
		Short: "List the regions forecasts can target",
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := region.Load(config.LoadUnvalidated().Tables.RegistryPath)
			if err != nil {
				return fmt.Errorf("load region registry: %w", err)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), registry.List())
			}
			return writeRegions(cmd.OutOrStdout(), registry.List())
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeRegions(w io.Writer, regions []region.Region) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATE\tCOUNTRY\tALIASES")
	for _, r := range regions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Name, r.State, r.Country, strings.Join(r.Aliases, ","))
	}
	return tw.Flush()
}

func writeKeys(w io.Writer, keys []*models.APIKey) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPREFIX\tSCOPES\tLAST USED")
	for _, k := range keys {
		lastUsed := "never"
		if k.LastUsedAt != nil {
			lastUsed = k.LastUsedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", k.ID, k.Name, k.KeyPrefix, strings.Join(k.Scopes, ","), lastUsed)
	}
	return tw.Flush()
}

func joinSectors() string {
	names := make([]string, len(models.Sectors))
	for i, s := range models.Sectors {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}
