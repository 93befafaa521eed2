package memory_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antoniostano/relay/internal/memory"
	"github.com/antoniostano/relay/internal/memory/storetest"
)

func TestPostgresStore_Compliance(t *testing.T) {
	dsn := os.Getenv("RELAY_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("RELAY_TEST_DATABASE_URL not set; skipping postgres store integration test")
	}
	storetest.Run(t, func(t *testing.T, clock *storetest.Clock) memory.Store {
		s, err := memory.NewPostgresStore(context.Background(), dsn, clock.Option())
		require.NoError(t, err)
		return s
	})
}
