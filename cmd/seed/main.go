package main

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/xtrntr/rwaexchange/internal/auth"
	"github.com/xtrntr/rwaexchange/internal/config"
	"github.com/xtrntr/rwaexchange/internal/db"
	"github.com/xtrntr/rwaexchange/internal/seed"
	"github.com/xtrntr/rwaexchange/migrations"
)

// Seed the database with demo assets, users and balances
func main() {
	ctx := context.Background()
	log := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if cfg.Store.Driver != config.StorePostgres {
		log.Info("Memory store seeds itself on startup; nothing to do")
		os.Exit(0)
	}

	database, err := db.NewDB(ctx, cfg.Store.DSN)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer database.Close(ctx)

	scripts, err := migrations.Scripts()
	if err != nil {
		log.WithError(err).Fatal("Failed to read migrations")
	}
	for _, script := range scripts {
		if err := database.Migrate(ctx, script); err != nil {
			log.WithError(err).Fatal("Failed to apply migration")
		}
	}

	authService := auth.NewAuthService(database, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	seeded, err := seed.Run(ctx, database, authService, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to seed database")
	}
	if seeded {
		log.Info("Successfully seeded the database")
	}
}
