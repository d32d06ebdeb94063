package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-grouping/internal/config"
	"ms-grouping/internal/database/migrations"
)

// Migration CLI. Applies the SQL files under migrations/ in order; version 4
// is development seed data, so production rollouts run `-to 3`.
func main() {
	var (
		dir     = flag.String("dir", "./migrations", "directory holding the migration files")
		down    = flag.Bool("down", false, "roll every migration back")
		to      = flag.Uint("to", 0, "migrate to a specific version instead of the latest")
		force   = flag.Int("force", -1, "mark the schema at a version without running anything")
		version = flag.Bool("version", false, "print the current schema version and exit")
	)
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  .env file not found, using environment variables")
	}

	cfg := config.Load()
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
			cfg.Database.Username, cfg.Database.Password,
			cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
	}

	sqldb, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("❌ Failed to open PostgreSQL: %v", err)
	}
	defer sqldb.Close()

	if err := sqldb.Ping(); err != nil {
		log.Fatalf("❌ Failed to connect to PostgreSQL: %v", err)
	}

	db := bun.NewDB(sqldb, pgdialect.New())
	runner := migrations.NewRunner(db, migrations.Options{Dir: *dir})
	defer runner.Close()

	switch {
	case *version:
		v, dirty, err := runner.Version()
		if err != nil {
			log.Fatalf("❌ %v", err)
		}
		log.Printf("Schema version: %d (dirty: %v)", v, dirty)
		return
	case *force >= 0:
		if err := runner.Force(*force); err != nil {
			log.Fatalf("❌ %v", err)
		}
	case *down:
		log.Println("Rolling back all migrations...")
		if err := runner.Down(); err != nil {
			log.Fatalf("❌ %v", err)
		}
	case *to > 0:
		log.Printf("Migrating to version %d...", *to)
		if err := runner.To(*to); err != nil {
			log.Fatalf("❌ %v", err)
		}
	default:
		log.Println("Applying pending migrations...")
		if err := runner.Up(); err != nil {
			log.Fatalf("❌ %v", err)
		}
	}

	v, dirty, err := runner.Version()
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	log.Printf("✅ Done. Schema version: %d (dirty: %v)", v, dirty)
}
