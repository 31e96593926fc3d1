package main

import (
	"context"
	"database/sql"
	"log"
	"os"

	_ "github.com/lib/pq"

	"github.com/safar/rewear-store/internal/config"
	"github.com/safar/rewear-store/migrations"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: go run scripts/run_migrations.go [up|down]")
	}

	direction := os.Args[1]
	if direction != "up" && direction != "down" {
		log.Fatal("Direction must be 'up' or 'down'")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Ping database: %v", err)
	}

	run := migrations.Up
	if direction == "down" {
		run = migrations.Down
	}

	n, err := run(ctx, db)
	if err != nil {
		log.Fatalf("Run migrations %s: %v", direction, err)
	}

	log.Printf("Successfully ran %d migration(s) %s", n, direction)
}
