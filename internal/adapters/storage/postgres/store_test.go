package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/okian/scoreboard/internal/adapters/storage"
	"github.com/okian/scoreboard/internal/adapters/storage/postgres"
	"github.com/okian/scoreboard/internal/adapters/storage/storagetest"
)

func TestPostgresStoreContract(t *testing.T) {
	dsn := os.Getenv("SCOREBOARD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SCOREBOARD_TEST_POSTGRES_DSN not set")
	}
	storagetest.Run(t, func(t *testing.T) storage.Store {
		ctx := context.Background()
		s, err := postgres.Open(ctx, dsn, 16)
		if err != nil {
			t.Fatalf("open postgres store: %v", err)
		}
		if err := s.Truncate(ctx); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return s
	})
}
