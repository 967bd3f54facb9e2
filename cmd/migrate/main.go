package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log"
	"os"

	"LevFarm/internal/persistence"
	"LevFarm/migrations"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <up|down|status>")
		fmt.Println("  up     - apply all pending migrations")
		fmt.Println("  down   - roll back the last migration")
		fmt.Println("  status - list applied migrations")
		fmt.Println()
		fmt.Println("Environment (a .env file is read when present):")
		fmt.Println("  LEVFARM_POSTGRES_DSN - Postgres connection string")
		fmt.Println("  MIGRATIONS_DIR       - read migrations from disk instead of the embedded set")
		os.Exit(1)
	}

	_ = godotenv.Load()

	pgURL := os.Getenv("LEVFARM_POSTGRES_DSN")
	if pgURL == "" {
		pgURL = "postgres://localhost:5432/levfarm?sslmode=disable"
	}

	var files fs.FS = migrations.FS
	if dir := os.Getenv("MIGRATIONS_DIR"); dir != "" {
		files = os.DirFS(dir)
	}

	db, err := sql.Open("postgres", pgURL)
	if err != nil {
		log.Fatalf("FATAL: open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, files, zerolog.New(os.Stderr).With().Timestamp().Logger())

	switch os.Args[1] {
	case "up":
		n, err := migrator.Up(ctx)
		if err != nil {
			log.Fatalf("FATAL: migrate up: %v", err)
		}
		log.Printf("INFO: %d migrations applied", n)

	case "down":
		if err := migrator.Down(ctx); err != nil {
			log.Fatalf("FATAL: migrate down: %v", err)
		}
		log.Println("INFO: last migration rolled back")

	case "status":
		applied, err := migrator.Applied(ctx)
		if err != nil {
			log.Fatalf("FATAL: migrate status: %v", err)
		}
		for version := range applied {
			fmt.Println(version)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up', 'down' or 'status')\n", os.Args[1])
		os.Exit(1)
	}
}
