package budget

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/corewave-ai/voicegateway/schema"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewService(client)
}

func TestReserveCommitRefund(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	require.NoError(t, svc.SetLimit(ctx, "tenant-a", "tokens", 1000))

	id, err := svc.Reserve(ctx, "tenant-a", "tokens", 300)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	remaining, limit, err := svc.CheckAvailability(ctx, "tenant-a", "tokens")
	require.NoError(t, err)
	require.Equal(t, 1000, limit)
	require.Equal(t, 700, remaining)

	require.NoError(t, svc.Commit(ctx, id, 300, 120))

	remaining, _, err = svc.CheckAvailability(ctx, "tenant-a", "tokens")
	require.NoError(t, err)
	require.Equal(t, 880, remaining) // 700 + (300-120) refunded
}

func TestReserveInsufficientBudget(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	require.NoError(t, svc.SetLimit(ctx, "tenant-a", "actions", 2))

	_, err := svc.Reserve(ctx, "tenant-a", "actions", 1)
	require.NoError(t, err)

	_, err = svc.Reserve(ctx, "tenant-a", "actions", 5)
	require.Error(t, err)
	var schemaErr *schema.Error
	require.ErrorAs(t, err, &schemaErr)
	require.Equal(t, schema.ErrBudgetExceeded, schemaErr.Code)
}

func TestReserveNoLimitConfigured(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.Reserve(ctx, "tenant-b", "tokens", 10)
	require.Error(t, err)
}

func TestRefundReturnsFullReservation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	require.NoError(t, svc.SetLimit(ctx, "tenant-a", "tokens", 500))

	id, err := svc.Reserve(ctx, "tenant-a", "tokens", 200)
	require.NoError(t, err)

	require.NoError(t, svc.Refund(ctx, id, 200))

	remaining, _, err := svc.CheckAvailability(ctx, "tenant-a", "tokens")
	require.NoError(t, err)
	require.Equal(t, 500, remaining)
}
