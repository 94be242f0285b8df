package redis

import (
	"context"
	"testing"
	"time"

	"github.com/RecSpeed/firmwareextrs/shared/logger"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(&Config{
		URL:         "redis://" + mr.Addr() + "/0",
		PoolSize:    4,
		DialTimeout: time.Second,
	}, logger.NewDiscard())
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Ping(context.Background()))
	require.NoError(t, client.GetClient().Set(context.Background(), "k", "v", 0).Err())
	assert.True(t, mr.Exists("k"))
}

func TestNewClient_Errors(t *testing.T) {
	_, err := NewClient(&Config{URL: "not-a-url"}, logger.NewDiscard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse redis url")

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err = NewClient(&Config{URL: "redis://" + addr, DialTimeout: 200 * time.Millisecond}, logger.NewDiscard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}
