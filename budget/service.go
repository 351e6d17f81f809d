// Package budget implements the reserve/commit/refund resource accounting
// service (C9): atomic, Redis-backed per-(tenant, resourceType) counters
// that prevent a turn from overspending tokens or actions mid-flight.
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/corewave-ai/voicegateway/schema"
)

// reserveScript atomically checks the remaining budget and decrements it,
// initializing the counter from the configured limit on first use within a
// period. It also records the reservation so Commit/Refund can look up how
// much to return.
var reserveScript = redis.NewScript(`
local limit = tonumber(redis.call("GET", KEYS[2]) or "-1")
if limit < 0 then
	return redis.error_reply("NOLIMIT")
end
local remaining = redis.call("GET", KEYS[1])
if remaining == false then
	remaining = limit
else
	remaining = tonumber(remaining)
end
local amount = tonumber(ARGV[1])
if remaining < amount then
	return {remaining, 0}
end
remaining = remaining - amount
redis.call("SET", KEYS[1], remaining, "EX", tonumber(ARGV[2]))
redis.call("HSET", KEYS[3], "remaining_key", KEYS[1], "amount", amount)
redis.call("EXPIRE", KEYS[3], tonumber(ARGV[2]))
return {remaining, 1}
`)

// settleScript returns amount to the remaining-budget counter named by
// remainingKey and deletes the reservation hash, used by both Commit
// (partial refund of the unused portion) and Refund (full refund).
var settleScript = redis.NewScript(`
local remainingKey = redis.call("HGET", KEYS[1], "remaining_key")
if not remainingKey then
	return redis.error_reply("NOTFOUND")
end
if tonumber(ARGV[1]) > 0 then
	redis.call("INCRBY", remainingKey, tonumber(ARGV[1]))
end
redis.call("DEL", KEYS[1])
return 1
`)

// periodTTL is how long a budget period's counters live once touched; it
// must exceed the period length (a day) so late refunds still land on the
// same key.
const periodTTL = 26 * time.Hour

// Service reserves, commits, and refunds resource usage against per-tenant
// daily budgets.
type Service struct {
	client *redis.Client
}

// NewService creates a Service backed by client.
func NewService(client *redis.Client) *Service {
	return &Service{client: client}
}

// SetLimit sets the daily limit for (tenantID, resourceType). It takes
// effect starting with the next reservation in the current period; it does
// not retroactively adjust a counter already initialized for today.
func (s *Service) SetLimit(ctx context.Context, tenantID, resourceType string, limit int) error {
	key := limitKey(tenantID, resourceType)
	return s.client.Set(ctx, key, limit, 0).Err()
}

// CheckAvailability reports the remaining and limit amounts for
// (tenantID, resourceType) in the current period.
func (s *Service) CheckAvailability(ctx context.Context, tenantID, resourceType string) (remaining, limit int, err error) {
	limitVal, err := s.client.Get(ctx, limitKey(tenantID, resourceType)).Int()
	if err == redis.Nil {
		return 0, 0, fmt.Errorf("budget: no limit configured for tenant %q resource %q", tenantID, resourceType)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("budget: check availability: %w", err)
	}

	remainingVal, err := s.client.Get(ctx, remainingKey(tenantID, resourceType, time.Now())).Int()
	if err == redis.Nil {
		return limitVal, limitVal, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("budget: check availability: %w", err)
	}
	return remainingVal, limitVal, nil
}

// Reserve atomically decrements the (tenantID, resourceType) budget by
// amount, returning a reservation ID to later Commit or Refund. It fails
// with schema.ErrBudgetExceeded if insufficient budget remains.
func (s *Service) Reserve(ctx context.Context, tenantID, resourceType string, amount int) (string, error) {
	now := time.Now()
	reservationID := uuid.NewString()
	keys := []string{
		remainingKey(tenantID, resourceType, now),
		limitKey(tenantID, resourceType),
		reservationKey(reservationID),
	}
	res, err := reserveScript.Run(ctx, s.client, keys, amount, int(periodTTL.Seconds())).Result()
	if err != nil {
		if err.Error() == "NOLIMIT" {
			return "", fmt.Errorf("budget: no limit configured for tenant %q resource %q", tenantID, resourceType)
		}
		return "", fmt.Errorf("budget: reserve: %w", err)
	}

	pair, ok := res.([]any)
	if !ok || len(pair) != 2 {
		return "", fmt.Errorf("budget: reserve: unexpected script result")
	}
	ok64, _ := pair[1].(int64)
	if ok64 == 0 {
		return "", schema.NewError("budget.reserve", schema.ErrBudgetExceeded,
			fmt.Sprintf("insufficient %s budget for tenant %q", resourceType, tenantID), nil)
	}
	return reservationID, nil
}

// Commit settles a reservation with the actual amount used, refunding the
// difference between the reserved and actual amount. If actual exceeds the
// reserved amount, nothing is refunded (the overage is simply absorbed;
// callers should Reserve conservatively).
func (s *Service) Commit(ctx context.Context, reservationID string, reserved, actual int) error {
	refund := reserved - actual
	if refund < 0 {
		refund = 0
	}
	return s.settle(ctx, reservationID, refund)
}

// Refund fully returns a reservation's amount, used when a speculative
// action's result is discarded (spec §13: reserve-then-refund).
func (s *Service) Refund(ctx context.Context, reservationID string, reserved int) error {
	return s.settle(ctx, reservationID, reserved)
}

func (s *Service) settle(ctx context.Context, reservationID string, amount int) error {
	_, err := settleScript.Run(ctx, s.client, []string{reservationKey(reservationID)}, amount).Result()
	if err != nil {
		if err.Error() == "NOTFOUND" {
			return fmt.Errorf("budget: reservation %q not found (already settled?)", reservationID)
		}
		return fmt.Errorf("budget: settle: %w", err)
	}
	return nil
}

func limitKey(tenantID, resourceType string) string {
	return fmt.Sprintf("budget:limit:%s:%s", tenantID, resourceType)
}

func remainingKey(tenantID, resourceType string, t time.Time) string {
	return fmt.Sprintf("budget:remaining:%s:%s:%s", tenantID, resourceType, t.UTC().Format("20060102"))
}

func reservationKey(reservationID string) string {
	return "budget:reservation:" + reservationID
}
