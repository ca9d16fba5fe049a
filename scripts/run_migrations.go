package main

import (
	"context"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/safar/go-marketplace/internal/config"
	"github.com/safar/go-marketplace/internal/database"
)

const migrationDir = "migrations"

func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: go run scripts/run_migrations.go [up|down]")
	}
	direction := database.Direction(os.Args[1])

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}

	db, err := database.NewConnection(context.Background(), &cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("connect to database")
	}
	defer db.Close()

	n, err := database.Migrate(db, migrationDir, direction)
	if err != nil {
		log.WithError(err).Fatal("run migrations")
	}

	log.WithFields(log.Fields{"count": n, "direction": direction}).Info("migrations applied")
}
