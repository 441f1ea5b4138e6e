package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/angelmondragon/storefront-autopilot/pkg/config"
	"github.com/angelmondragon/storefront-autopilot/pkg/db"
	"github.com/angelmondragon/storefront-autopilot/pkg/logger"
	"github.com/angelmondragon/storefront-autopilot/pkg/migrate"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
)

const usage = `usage: migrate -cmd <command> [flags]

authoring (no database):
  create   -name <name>      scaffold a migration in -dir
  lint                       check file names and goose sections in -dir

ledger (bundled migrations):
  up | down | status
  to       -version <v>      move the schema to version v (0 rolls back all)
`

func main() {
	cmd := flag.String("cmd", "up", "migration command")
	dir := flag.String("dir", migrate.SourceDir, "migration source directory for create/lint")
	name := flag.String("name", "", "migration name for create")
	version := flag.String("version", "", "target version for to")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if err := run(*cmd, *dir, *name, *version); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", *cmd, err)
		os.Exit(1)
	}
}

func run(cmd, dir, name, version string) error {
	switch cmd {
	case "create":
		if name == "" {
			return fmt.Errorf("-name is required")
		}
		path, err := migrate.Scaffold(afero.NewOsFs(), dir, name, time.Now())
		if err != nil {
			return err
		}
		fmt.Println("created", path)
		return nil
	case "lint":
		versions, err := migrate.Lint(afero.NewOsFs(), dir)
		if err != nil {
			return err
		}
		fmt.Printf("%d migrations ok\n", len(versions))
		return nil
	case "up", "down", "status", "to":
	default:
		flag.Usage()
		return fmt.Errorf("unknown command")
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       cfg.App.LogLevel,
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{"env": cfg.App.Env, "cmd": cmd})

	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer client.Close()

	pool, err := client.DB().DB()
	if err != nil {
		return err
	}
	runner, err := migrate.NewRunner(pool, migrate.DialectFor(cfg.DB), migrate.Bundled())
	if err != nil {
		return err
	}

	switch cmd {
	case "up":
		applied, err := runner.Up(ctx)
		if err != nil {
			return err
		}
		logg.Info(logg.WithField(ctx, "applied", applied), "migrate.up_complete")
	case "down":
		if err := runner.Down(ctx); err != nil {
			return err
		}
		logg.Info(ctx, "migrate.down_complete")
	case "to":
		if version == "" {
			return fmt.Errorf("-version is required")
		}
		if err := runner.To(ctx, version); err != nil {
			return err
		}
		logg.Info(logg.WithField(ctx, "version", version), "migrate.to_complete")
	case "status":
		statuses, err := runner.Status(ctx)
		if err != nil {
			return err
		}
		printStatus(statuses)
	}
	return nil
}

func printStatus(statuses []migrate.Status) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSTATE\tAPPLIED AT\tFILE")
	for _, s := range statuses {
		state, at := "pending", "-"
		if s.Applied {
			state, at = "applied", s.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Version, state, at, s.Name)
	}
	_ = w.Flush()
}
