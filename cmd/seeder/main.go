// cmd/seeder/main.go applies the schema and loads seed SQL files.
package main

import (
	"context"
	"flag"
	"os"
	"strings"

	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/db"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
)

func main() {
	files := flag.String("files", "seed/contacts.sql,seed/campaigns.sql", "comma separated seed files, empty to only migrate")
	flag.Parse()

	cfg, err := config.LoadFromEnv(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Logger.Fatalw("load config", "error", err)
	}
	if err := logger.Initialize(cfg.Log.JSON, cfg.Log.Level); err != nil {
		logger.Logger.Fatalw("init logger", "error", err)
	}
	defer logger.Sync()
	log := logger.Named("seeder")

	ctx := context.Background()
	sqlDB, err := db.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatalw("open database", "error", err)
	}
	defer sqlDB.Close()

	if err := db.Migrate(ctx, sqlDB); err != nil {
		log.Fatalw("migrate", "error", err)
	}
	log.Info("schema applied")

	for _, file := range strings.Split(*files, ",") {
		file = strings.TrimSpace(file)
		if file == "" {
			continue
		}
		content, err := os.ReadFile(file)
		if err != nil {
			log.Fatalw("read seed file", "file", file, "error", err)
		}
		if _, err := sqlDB.ExecContext(ctx, string(content)); err != nil {
			log.Fatalw("execute seed file", "file", file, "error", err)
		}
		log.Infow("seeded", "file", file)
	}
	log.Info("database seeding completed")
}
