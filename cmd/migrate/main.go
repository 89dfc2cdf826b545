package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/noah-isme/lab-booking-api/migrations"
	"github.com/noah-isme/lab-booking-api/pkg/config"
	"github.com/noah-isme/lab-booking-api/pkg/database"
	"github.com/noah-isme/lab-booking-api/pkg/logger"
)

const usage = "usage: migrate [up|down|status|version]"

func main() {
	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	migrator, err := database.NewMigrator(db.DB, migrations.FS, ".", logr)
	if err != nil {
		logr.Fatal("failed to init migrator", zap.Error(err))
	}

	ctx := context.Background()
	switch command {
	case "up":
		err = migrator.Up(ctx)
	case "down":
		err = migrator.Down(ctx)
	case "status":
		err = migrator.Status(ctx)
	case "version":
		var version int64
		version, err = migrator.Version(ctx)
		if err == nil {
			fmt.Println(version)
		}
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logr.Fatal("migration command failed", zap.String("command", command), zap.Error(err))
	}
}
