package ratelimit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jensholdgaard/bazaar/internal/config"
	"github.com/jensholdgaard/bazaar/internal/ratelimit"
)

func TestRedis_FixedWindow(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := ratelimit.NewRedis(db, 2, time.Minute)
	ctx := context.Background()

	mock.ExpectIncr("ratelimit:bid:alice").SetVal(1)
	mock.ExpectExpireNX("ratelimit:bid:alice", time.Minute).SetVal(true)
	mock.ExpectIncr("ratelimit:bid:alice").SetVal(2)
	mock.ExpectExpireNX("ratelimit:bid:alice", time.Minute).SetVal(false)
	mock.ExpectIncr("ratelimit:bid:alice").SetVal(3)
	mock.ExpectExpireNX("ratelimit:bid:alice", time.Minute).SetVal(false)

	for i, want := range []bool{true, true, false} {
		ok, err := l.Allow(ctx, "bid:alice")
		require.NoError(t, err)
		assert.Equal(t, want, ok, "request %d", i+1)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_Errors(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := ratelimit.NewRedis(db, 5, time.Minute)

	mock.ExpectIncr("ratelimit:buy:bob").SetErr(errors.New("connection reset"))
	_, err := l.Allow(context.Background(), "buy:bob")
	assert.ErrorContains(t, err, "connection reset")

	mock.ExpectIncr("ratelimit:buy:bob").SetVal(1)
	mock.ExpectExpireNX("ratelimit:buy:bob", time.Minute).SetErr(errors.New("readonly replica"))
	_, err = l.Allow(context.Background(), "buy:bob")
	assert.ErrorContains(t, err, "readonly replica")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_LostExpiryIsSetByNextHit(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := ratelimit.NewRedis(db, 5, time.Minute)
	ctx := context.Background()

	mock.ExpectIncr("ratelimit:bid:carol").SetVal(1)
	mock.ExpectExpireNX("ratelimit:bid:carol", time.Minute).SetErr(errors.New("timeout"))
	_, err := l.Allow(ctx, "bid:carol")
	require.Error(t, err)

	// The counter survived without a TTL; the next hit must attach one.
	mock.ExpectIncr("ratelimit:bid:carol").SetVal(2)
	mock.ExpectExpireNX("ratelimit:bid:carol", time.Minute).SetVal(true)
	ok, err := l.Allow(ctx, "bid:carol")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocal(t *testing.T) {
	l := ratelimit.NewLocal(3, time.Hour)
	ctx := context.Background()

	for i := range 3 {
		ok, err := l.Allow(ctx, "bid:alice")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i+1)
	}
	ok, _ := l.Allow(ctx, "bid:alice")
	assert.False(t, ok, "burst exhausted")

	ok, _ = l.Allow(ctx, "bid:bob")
	assert.True(t, ok, "keys are limited independently")
}

func TestNew(t *testing.T) {
	db, _ := redismock.NewClientMock()

	assert.IsType(t, ratelimit.Unlimited{}, ratelimit.New(config.RateLimitConfig{Enabled: false}, db))
	assert.IsType(t, &ratelimit.Redis{}, ratelimit.New(config.RateLimitConfig{Enabled: true, Requests: 1, Window: time.Second}, db))
	assert.IsType(t, &ratelimit.Local{}, ratelimit.New(config.RateLimitConfig{Enabled: true, Requests: 1, Window: time.Second}, nil))
}
