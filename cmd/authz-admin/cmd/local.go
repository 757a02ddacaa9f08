package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ehrconnect/authz/internal/app"
	"github.com/ehrconnect/authz/internal/config"
	"github.com/ehrconnect/authz/internal/infra/postgres"
	"github.com/ehrconnect/authz/internal/policy"
	"github.com/ehrconnect/authz/pkg/logger"
	"github.com/ehrconnect/authz/pkg/migrations"
)

// Local commands talk to the database directly and read the server's
// environment configuration.

var policyFile string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or inspect database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(cmd.Context(), func(ctx context.Context, cfg *config.Config, db *postgres.DB, log *logger.Logger) error {
			n, err := migrations.NewRunner(db.DB, postgres.Migrations(), log).Up(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%d migrations applied\n", n)
			return nil
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the latest migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(cmd.Context(), func(ctx context.Context, cfg *config.Config, db *postgres.DB, log *logger.Logger) error {
			if err := migrations.NewRunner(db.DB, postgres.Migrations(), log).Down(ctx); err != nil {
				return err
			}
			fmt.Println("latest migration rolled back")
			return nil
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List migrations and whether they are applied",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(cmd.Context(), func(ctx context.Context, cfg *config.Config, db *postgres.DB, log *logger.Logger) error {
			status, err := migrations.NewRunner(db.DB, postgres.Migrations(), log).Status(ctx)
			if err != nil {
				return err
			}
			t := newTable("VERSION", "NAME", "APPLIED", "APPLIED AT")
			for _, s := range status {
				at := "-"
				if s.Applied {
					at = s.AppliedAt.UTC().Format("2006-01-02 15:04:05")
				}
				t.AddRow(s.Version, s.Name, boolToStr(s.Applied), at)
			}
			t.Flush()
			printCount(len(status))
			return nil
		})
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Upsert the policy document's system roles into the database",
	Long: `Upsert the system roles of the configured policy document (POLICY_SOURCE)
or of --file. Organization overrides are left untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(cmd.Context(), func(ctx context.Context, cfg *config.Config, db *postgres.DB, log *logger.Logger) error {
			doc, err := loadPolicy(ctx, cfg.Policy)
			if err != nil {
				return err
			}
			svc := app.NewRoleService(postgres.NewRoleRepository(db), log)
			n, err := svc.SeedSystemRoles(ctx, doc)
			if err != nil {
				return err
			}
			fmt.Printf("%d system roles seeded (policy %s)\n", n, truncate(doc.Hash, 12))
			return nil
		})
	},
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Validate and inspect a policy document",
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Parse the policy document and print its roles and features",
	Long: `Parse the policy document of --file, or the configured source, and print
its system roles and feature map. Parsing fails on unknown permissions,
invalid scope levels and duplicate role keys.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var src config.PolicyConfig
		if policyFile == "" {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			src = cfg.Policy
		}
		doc, err := loadPolicy(cmd.Context(), src)
		if err != nil {
			return err
		}

		out := struct {
			Hash     string              `json:"hash" yaml:"hash"`
			Roles    any                 `json:"roles" yaml:"roles"`
			Features map[string][]string `json:"features" yaml:"features"`
		}{Hash: doc.Hash, Roles: doc.Roles, Features: make(map[string][]string, len(doc.Features))}
		for key, perms := range doc.Features {
			out.Features[key] = make([]string, len(perms))
			for i, p := range perms {
				out.Features[key][i] = p.String()
			}
		}
		if printStructured(out) {
			return nil
		}

		fmt.Printf("Policy %s\n\n", truncate(doc.Hash, 12))
		t := newTable("ROLE", "NAME", "SCOPE", "PERMISSIONS")
		for _, r := range doc.Roles {
			t.AddRow(r.Key, r.Name, r.ScopeLevel, truncate(strings.Join(r.Permissions, ","), 60))
		}
		t.Flush()
		fmt.Println()
		t = newTable("FEATURE", "PERMISSIONS")
		for _, key := range sortedKeys(out.Features) {
			t.AddRow(key, strings.Join(out.Features[key], ", "))
		}
		t.Flush()
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateStatusCmd)

	seedCmd.Flags().StringVarP(&policyFile, "file", "f", "", "Policy YAML file (overrides POLICY_SOURCE)")
	policyShowCmd.Flags().StringVarP(&policyFile, "file", "f", "", "Policy YAML file (overrides POLICY_SOURCE)")
	policyCmd.AddCommand(policyShowCmd)
}

func loadPolicy(ctx context.Context, cfg config.PolicyConfig) (*policy.Document, error) {
	if policyFile != "" {
		return policy.FileSource{Path: policyFile}.Load(ctx)
	}
	src, err := policy.NewSource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return src.Load(ctx)
}

func withDatabase(ctx context.Context, fn func(ctx context.Context, cfg *config.Config, db *postgres.DB, log *logger.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level := "warn"
	if flagVerbose {
		level = "debug"
	}
	log := logger.New(logger.Config{Level: level, Format: "text"})

	db, err := postgres.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()
	return fn(ctx, cfg, db, log)
}
