package pgjournal

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	deployer "github.com/branched-services/go-deployer"
	"github.com/branched-services/go-deployer/journal/journaltest"
)

func TestWithTable(t *testing.T) {
	j := New(nil)
	assert.Equal(t, `"deployer_journal"`, j.table)

	j = New(nil, WithTable(`weird"name`))
	assert.Equal(t, `"weird""name"`, j.table)

	j = New(nil, WithTable(""))
	assert.Equal(t, `"deployer_journal"`, j.table)
}

// TestJournal runs against a live database:
//
//	INTEGRATION_TEST=1 DEPLOYER_TEST_POSTGRES_DSN=postgres://... go test ./journal/pgjournal
func TestJournal(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "1" {
		t.Skip("Set INTEGRATION_TEST=1 to run integration tests")
	}
	dsn := os.Getenv("DEPLOYER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DEPLOYER_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	table := fmt.Sprintf("deployer_journal_test_%d", time.Now().UnixNano())
	_, pool, err := Connect(ctx, dsn, WithTable(table))
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+New(pool, WithTable(table)).table)
		pool.Close()
	})

	journaltest.Run(t, func(t *testing.T) deployer.Journal {
		_, err := pool.Exec(ctx, "TRUNCATE "+New(pool, WithTable(table)).table)
		require.NoError(t, err)
		return New(pool, WithTable(table))
	})
}
