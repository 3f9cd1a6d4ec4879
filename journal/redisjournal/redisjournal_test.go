package redisjournal

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

func TestKeys(t *testing.T) {
	j := New(nil)
	assert.Equal(t, "deployer:journal:chain-31337", j.key("chain-31337"))

	j = New(nil, WithPrefix("ci:"))
	assert.Equal(t, "ci:Main", j.key("Main"))
}

// TestJournal runs against a live server:
//
//	INTEGRATION_TEST=1 DEPLOYER_TEST_REDIS_URL=redis://localhost:6379/15 go test ./journal/redisjournal
func TestJournal(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "1" {
		t.Skip("Set INTEGRATION_TEST=1 to run integration tests")
	}
	url := os.Getenv("DEPLOYER_TEST_REDIS_URL")
	if url == "" {
		t.Skip("DEPLOYER_TEST_REDIS_URL not set")
	}

	ctx := context.Background()
	_, client, err := Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	journaltest.Run(t, func(t *testing.T) deployer.Journal {
		prefix := fmt.Sprintf("deployer-test:%d:", time.Now().UnixNano())
		t.Cleanup(func() {
			keys, _ := client.Keys(context.Background(), prefix+"*").Result()
			if len(keys) > 0 {
				client.Del(context.Background(), keys...)
			}
		})
		return New(client, WithPrefix(prefix))
	})
}
