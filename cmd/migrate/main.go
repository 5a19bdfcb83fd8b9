package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/contentstudio-backend/pkg/config"
	"github.com/angelmondragon/contentstudio-backend/pkg/db"
	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
	"github.com/angelmondragon/contentstudio-backend/pkg/migrate"
)

const usage = `usage: migrate -cmd <up|down|to|status|create|validate> [flags]

  up        apply every pending migration
  down      roll back the latest migration
  to        migrate up or down to -version
  status    print applied and pending migrations
  create    write a new empty migration named -name into -dir
  validate  lint migration files in -dir (embedded set when -dir is empty)
`

func main() {
	cmd := flag.String("cmd", "up", "migration command")
	dir := flag.String("dir", "", "migrations directory; the embedded set is used when empty")
	name := flag.String("name", "", "migration name for -cmd=create")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=to")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(*cmd, *dir, *name, *version); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", *cmd, err)
		os.Exit(1)
	}
}

func run(cmd, dir, name, version string) error {
	// file-only commands need neither config nor a database
	switch cmd {
	case "create":
		if name == "" {
			return fmt.Errorf("-name is required")
		}
		if dir == "" {
			dir = migrate.DefaultDir
		}
		path, err := migrate.CreateSQLMigration(dir, name)
		if err != nil {
			return err
		}
		fmt.Println("created", path)
		return nil
	case "validate":
		var err error
		if dir == "" {
			err = migrate.ValidateFS(migrate.Embedded())
		} else {
			err = migrate.ValidateDir(dir)
		}
		if err != nil {
			return err
		}
		fmt.Println("migrations valid")
		return nil
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{"env": cfg.App.Env, "cmd": cmd})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}
	runner, err := migrate.NewRunner(sqlDB, migrate.Source(dir), logg)
	if err != nil {
		return err
	}

	switch cmd {
	case "up":
		return runner.Up(ctx)
	case "down":
		return runner.Down(ctx)
	case "to":
		if version == "" {
			return fmt.Errorf("-version is required")
		}
		return runner.To(ctx, version)
	case "status":
		return runner.Status(ctx, os.Stdout)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}
