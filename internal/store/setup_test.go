package store_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/safar/order-settlement/internal/database"
	"github.com/safar/order-settlement/internal/models"
	"github.com/safar/order-settlement/internal/orders"
	"github.com/safar/order-settlement/internal/store"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) (*sql.DB, func()) {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:14-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close database: %v", err)
		}
		if err := postgres.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}

	return db, cleanup
}

func seedSKU(t *testing.T, ctx context.Context, s *store.Store, id string, price int64, stock int) {
	t.Helper()

	now := time.Now()
	err := s.InTx(ctx, func(tx orders.Tx) error {
		return tx.InsertSKU(ctx, &models.SKU{
			ID:        id,
			Name:      "Product " + id,
			Price:     price,
			Stock:     stock,
			Available: stock,
			CreatedAt: now,
			UpdatedAt: now,
		})
	})
	if err != nil {
		t.Fatalf("Create sku %s: %v", id, err)
	}
}

func getSKU(t *testing.T, ctx context.Context, s *store.Store, id string) *models.SKU {
	t.Helper()

	var sku *models.SKU
	err := s.View(ctx, func(tx orders.Tx) error {
		var err error
		sku, err = tx.GetSKU(ctx, id)
		return err
	})
	if err != nil {
		t.Fatalf("Get sku %s: %v", id, err)
	}
	return sku
}

func seedPromotion(t *testing.T, ctx context.Context, s *store.Store, id string, limit *int) {
	t.Helper()

	now := time.Now()
	p := &models.Promotion{
		ID:            id,
		Code:          "CODE-" + id,
		DiscountType:  models.DiscountFixed,
		DiscountValue: 10,
		UsageLimit:    limit,
		StartAt:       now.Add(-time.Hour),
		EndAt:         now.Add(time.Hour),
		CreatedAt:     now,
	}
	if limit != nil {
		remaining := *limit
		p.RemainingUsage = &remaining
	}

	err := s.InTx(ctx, func(tx orders.Tx) error {
		return tx.InsertPromotion(ctx, p)
	})
	if err != nil {
		t.Fatalf("Create promotion %s: %v", id, err)
	}
}

func getPromotion(t *testing.T, ctx context.Context, s *store.Store, id string) *models.Promotion {
	t.Helper()

	var p *models.Promotion
	err := s.View(ctx, func(tx orders.Tx) error {
		var err error
		p, err = tx.GetPromotion(ctx, id)
		return err
	})
	if err != nil {
		t.Fatalf("Get promotion %s: %v", id, err)
	}
	return p
}

func intPtr(v int) *int { return &v }
