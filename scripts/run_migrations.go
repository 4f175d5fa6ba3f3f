package main

import (
	"log"
	"os"

	"github.com/safar/order-settlement/internal/config"
	"github.com/safar/order-settlement/internal/database"
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
	if cfg.Database.Driver == config.DriverMemory {
		log.Fatal("STORE_DRIVER=memory has nothing to migrate")
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()

	migrate := database.Migrate
	if direction == "down" {
		migrate = database.MigrateDown
	}
	if err := migrate(db); err != nil {
		log.Fatalf("Run migrations %s: %v", direction, err)
	}

	log.Printf("Migrations ran %s", direction)
}
