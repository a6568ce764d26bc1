// Migration CLI.
//
// Usage:
//
//	go run cmd/migrate/main.go up        # Apply all pending migrations
//	go run cmd/migrate/main.go down      # Rollback last migration
//	go run cmd/migrate/main.go version   # Show current migration version
//	go run cmd/migrate/main.go force N   # Force version to N (fix dirty state)
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/Hollayemi/shp-sub005/internal/config"
	"github.com/Hollayemi/shp-sub005/internal/db"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := config.Load()
	migrationsPath := os.Getenv("MIGRATIONS_PATH")
	if migrationsPath == "" {
		migrationsPath = "migrations"
	}

	runner, err := db.NewMigrationRunner(cfg.Database.URL(), migrationsPath)
	if err != nil {
		log.Fatalf("migration setup failed: %v", err)
	}
	defer runner.Close()

	switch os.Args[1] {
	case "up":
		if err := runner.Up(); err != nil {
			log.Fatalf("migrate up failed: %v", err)
		}
		log.Println("migrations applied")
	case "down":
		if err := runner.Down(); err != nil {
			log.Fatalf("migrate down failed: %v", err)
		}
		log.Println("rolled back one migration")
	case "version":
		version, dirty, err := runner.Version()
		if err != nil {
			log.Fatalf("version lookup failed: %v", err)
		}
		log.Printf("version=%d dirty=%v", version, dirty)
	case "force":
		if len(os.Args) < 3 {
			log.Fatal("usage: migrate force <version>")
		}
		version, err := strconv.Atoi(os.Args[2])
		if err != nil {
			log.Fatalf("invalid version: %s", os.Args[2])
		}
		if err := runner.Force(version); err != nil {
			log.Fatalf("force failed: %v", err)
		}
		log.Printf("forced version to %d", version)
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("usage: migrate <up|down|version|force N>")
}
