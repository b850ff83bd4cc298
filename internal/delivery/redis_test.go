package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStreamClient struct {
	args   []*redis.XAddArgs
	err    error
	closed bool
}

func (f *fakeStreamClient) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.args = append(f.args, a)
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	return redis.NewStringResult("1700000000000-0", nil)
}

func (f *fakeStreamClient) Close() error {
	f.closed = true
	return nil
}

func TestRedisSender_Send(t *testing.T) {
	client := &fakeStreamClient{}
	s := newRedisSender(client, RedisConfig{Stream: "offline:updates", MaxLen: 1000}, nil)

	res, err := s.Send(context.Background(), delivery())
	require.NoError(t, err)
	assert.Equal(t, "1700000000000-0", res)

	require.Len(t, client.args, 1)
	args := client.args[0]
	assert.Equal(t, "offline:updates", args.Stream)
	assert.Equal(t, int64(1000), args.MaxLen)
	assert.True(t, args.Approx)
	assert.Equal(t, map[string]interface{}{
		"idempotency_key": "key-1",
		"sort_key":        "7",
		"update":          `{"op":"create"}`,
	}, args.Values)

	require.NoError(t, s.Close())
	assert.True(t, client.closed)
}

func TestRedisSender_Unbounded(t *testing.T) {
	client := &fakeStreamClient{}
	s := newRedisSender(client, RedisConfig{Stream: "s"}, nil)
	_, err := s.Send(context.Background(), delivery())
	require.NoError(t, err)
	assert.Zero(t, client.args[0].MaxLen)
	assert.False(t, client.args[0].Approx)
}

func TestRedisSender_Error(t *testing.T) {
	boom := errors.New("READONLY")
	s := newRedisSender(&fakeStreamClient{err: boom}, RedisConfig{Stream: "s"}, nil)
	_, err := s.Send(context.Background(), delivery())
	assert.ErrorIs(t, err, boom)
}

func TestDialRedis_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err := DialRedis(ctx, RedisConfig{Addr: "127.0.0.1:1", Stream: "s"}, nil)
	assert.Error(t, err)
}
