package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/osvaldoandrade/taskhub/internal/ratelimit"
	"github.com/osvaldoandrade/taskhub/pkg/config"
	"github.com/osvaldoandrade/taskhub/pkg/domain"
)

// mockLimiter implements ratelimit.Limiter for testing
type mockLimiter struct {
	decision ratelimit.Decision
	err      error
}

func (m *mockLimiter) Allow(ctx context.Context, scope string, subject string, bucket ratelimit.Bucket) (ratelimit.Decision, error) {
	return m.decision, m.err
}

func newLimitedContext(t *testing.T, target string, withAgent bool) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)
	ctx.Request = httptest.NewRequest(http.MethodPost, target, nil)
	if withAgent {
		ctx.Set(agentContextKey, &domain.Agent{ID: "agent-1", Name: "alice"})
	}
	return ctx, rec
}

func TestRateLimitCreateTask_DisabledBucket(t *testing.T) {
	cfg := &config.Config{}

	limiter := &mockLimiter{
		decision: ratelimit.Decision{Allowed: false}, // Should not be called
	}

	ctx, _ := newLimitedContext(t, "/v1/taskhub/tasks", true)
	RateLimitCreateTask(limiter, cfg)(ctx)

	if ctx.IsAborted() {
		t.Fatal("expected request to pass through for disabled bucket")
	}
}

func TestRateLimitCreateTask_AllowedDecision(t *testing.T) {
	cfg := &config.Config{
		RateLimit: config.RateLimitConfig{
			CreateTask: config.RateBucket{RequestsPerMinute: 100, BurstSize: 10},
		},
	}

	limiter := &mockLimiter{decision: ratelimit.Decision{Allowed: true}}

	ctx, _ := newLimitedContext(t, "/v1/taskhub/tasks", true)
	RateLimitCreateTask(limiter, cfg)(ctx)

	if ctx.IsAborted() {
		t.Fatal("expected request to pass through when rate limit allows")
	}
}

func TestRateLimitCreateTask_DeniedDecision(t *testing.T) {
	cfg := &config.Config{
		RateLimit: config.RateLimitConfig{
			CreateTask: config.RateBucket{RequestsPerMinute: 100, BurstSize: 10},
		},
	}

	limiter := &mockLimiter{
		decision: ratelimit.Decision{Allowed: false, RetryAfter: 5 * time.Second},
	}

	ctx, rec := newLimitedContext(t, "/v1/taskhub/tasks", true)
	RateLimitCreateTask(limiter, cfg)(ctx)

	if !ctx.IsAborted() {
		t.Fatal("expected request to be aborted when rate limited")
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 status, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "5" {
		t.Fatalf("expected Retry-After: 5, got %s", got)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal JSON response: %v", err)
	}
	if body["error"] != "rate limit exceeded" {
		t.Fatalf("expected error field, got %v", body)
	}
	if body["scope"] != "tasks.create" {
		t.Fatalf("expected scope=tasks.create, got %v", body["scope"])
	}
	if body["operation"] != "create_task" {
		t.Fatalf("expected operation=create_task, got %v", body["operation"])
	}
	if body["retryAfterSeconds"] != float64(5) {
		t.Fatalf("expected retryAfterSeconds=5, got %v", body["retryAfterSeconds"])
	}
}

func TestRateLimitClaimTask_RedisError(t *testing.T) {
	cfg := &config.Config{
		RateLimit: config.RateLimitConfig{
			ClaimTask: config.RateBucket{RequestsPerMinute: 100, BurstSize: 10},
		},
	}

	limiter := &mockLimiter{
		decision: ratelimit.Decision{Allowed: false},
		err:      context.DeadlineExceeded, // Simulate Redis error
	}

	ctx, _ := newLimitedContext(t, "/v1/taskhub/tasks/t1/claim", true)
	RateLimitClaimTask(limiter, cfg)(ctx)

	// Should fail open - allow request to proceed
	if ctx.IsAborted() {
		t.Fatal("expected request to pass through when limiter returns error (fail open)")
	}
}

func TestRateLimitCreateTask_NoAgentInContext(t *testing.T) {
	cfg := &config.Config{
		RateLimit: config.RateLimitConfig{
			CreateTask: config.RateBucket{RequestsPerMinute: 100, BurstSize: 10},
		},
	}

	limiter := &mockLimiter{
		decision: ratelimit.Decision{Allowed: false}, // Should not be called
	}

	ctx, _ := newLimitedContext(t, "/v1/taskhub/tasks", false)
	RateLimitCreateTask(limiter, cfg)(ctx)

	if ctx.IsAborted() {
		t.Fatal("unauthenticated requests should pass through")
	}
}

func TestRateLimitCreateTask_NilLimiter(t *testing.T) {
	cfg := &config.Config{
		RateLimit: config.RateLimitConfig{
			CreateTask: config.RateBucket{RequestsPerMinute: 100, BurstSize: 10},
		},
	}

	ctx, _ := newLimitedContext(t, "/v1/taskhub/tasks", true)
	RateLimitCreateTask(nil, cfg)(ctx)

	if ctx.IsAborted() {
		t.Fatal("expected request to pass through with nil limiter")
	}
}

func TestRateLimitClaimTask_DeniedWithRetryAfterLessThanOne(t *testing.T) {
	cfg := &config.Config{
		RateLimit: config.RateLimitConfig{
			ClaimTask: config.RateBucket{RequestsPerMinute: 30, BurstSize: 5},
		},
	}

	limiter := &mockLimiter{
		decision: ratelimit.Decision{Allowed: false, RetryAfter: 500 * time.Millisecond},
	}

	ctx, rec := newLimitedContext(t, "/v1/taskhub/tasks/t1/claim", true)
	RateLimitClaimTask(limiter, cfg)(ctx)

	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("expected Retry-After: 1 (minimum), got %s", got)
	}
}
