// cmd/seeder/main.go
package main

import (
	"context"
	"flag"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/unclebandit/mailcast-backend/internal/config"
	"github.com/unclebandit/mailcast-backend/internal/db"
	"github.com/unclebandit/mailcast-backend/internal/logger"
)

func main() {
	files := flag.String("files", "seed/templates.sql,seed/contacts.sql,seed/broadcasts.sql", "comma separated seed files, applied in order")
	flag.Parse()

	cfg := config.Load()
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	database, err := db.Open(cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer database.Close()

	ctx := context.Background()
	if err := database.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to apply schema")
	}

	if err := seed(ctx, database, strings.Split(*files, ","), log); err != nil {
		log.Fatal().Err(err).Msg("seeding failed")
	}
	log.Info().Msg("Database seeding completed successfully!")
}

// seed executes each file; missing files are skipped so the schema can be applied alone.
func seed(ctx context.Context, database *db.DB, files []string, log zerolog.Logger) error {
	for _, file := range files {
		file = strings.TrimSpace(file)
		if file == "" {
			continue
		}
		content, err := os.ReadFile(file)
		if os.IsNotExist(err) {
			log.Warn().Str("file", file).Msg("seed file not found, skipping")
			continue
		}
		if err != nil {
			return err
		}
		if _, err := database.ExecContext(ctx, string(content)); err != nil {
			return err
		}
		log.Info().Str("file", file).Msg("Seeded")
	}
	return nil
}
