package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Result is a successful invocation and the model that produced it.
type Result struct {
	Response *Response
	Model    string
	Attempts int
}

// Invoker sends a request to the model service and applies a retry policy.
type Invoker interface {
	Invoke(ctx context.Context, req *Request) (*Result, error)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// FallbackInvoker 依序嘗試每個模型，每個模型只打一次。
// 容量錯誤時冷卻後換下一個；其他錯誤直接回傳。
type FallbackInvoker struct {
	Client   Client
	Models   []string
	Cooldown time.Duration
	// Timeout bounds a single attempt. Zero means no per-attempt timeout.
	Timeout time.Duration
	Sleep   SleepFunc
}

// NewFallbackInvoker creates a FallbackInvoker.
func NewFallbackInvoker(client Client, models []string, cooldown time.Duration) *FallbackInvoker {
	return &FallbackInvoker{
		Client:   client,
		Models:   models,
		Cooldown: cooldown,
		Sleep:    Sleep,
	}
}

// Invoke implements Invoker.
func (f *FallbackInvoker) Invoke(ctx context.Context, req *Request) (*Result, error) {
	if len(f.Models) == 0 {
		return nil, errors.New("fallback invoker: no models configured")
	}
	sleep := f.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var lastErr error
	for i, model := range f.Models {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i > 0 {
			slog.WarnContext(ctx, "Trying fallback model", "model", model, "position", i+1, "of", len(f.Models))
		}

		resp, err := attempt(ctx, f.Client, model, req, f.Timeout)
		if err == nil {
			return &Result{Response: resp, Model: model, Attempts: i + 1}, nil
		}
		if IsContextError(err) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err

		if !IsCapacity(err) {
			slog.ErrorContext(ctx, "Model failed", "model", model, "kind", KindOf(err), "error", err)
			return nil, err
		}

		slog.WarnContext(ctx, "Model at capacity", "model", model, "error", err)
		if i == len(f.Models)-1 {
			break
		}
		if err := sleep(ctx, f.Cooldown); err != nil {
			return nil, err
		}
	}

	return nil, &ExhaustedError{Models: f.Models, Last: lastErr}
}

// BackoffInvoker retries one model on capacity errors with exponential
// delays: BaseDelay, 2*BaseDelay, 4*BaseDelay, ...
type BackoffInvoker struct {
	Client      Client
	Model       string
	MaxAttempts int
	BaseDelay   time.Duration
	Timeout     time.Duration
	Sleep       SleepFunc
}

// NewBackoffInvoker creates a BackoffInvoker.
func NewBackoffInvoker(client Client, model string, maxAttempts int, baseDelay time.Duration) *BackoffInvoker {
	return &BackoffInvoker{
		Client:      client,
		Model:       model,
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		Sleep:       Sleep,
	}
}

// Invoke implements Invoker.
func (b *BackoffInvoker) Invoke(ctx context.Context, req *Request) (*Result, error) {
	maxAttempts := b.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	sleep := b.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var lastErr error
	for n := 1; n <= maxAttempts; n++ {
		if n > 1 {
			delay := backoffDelay(b.BaseDelay, n-1)
			slog.WarnContext(ctx, "Retrying model", "model", b.Model, "attempt", n, "of", maxAttempts, "delay", delay)
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		resp, err := attempt(ctx, b.Client, b.Model, req, b.Timeout)
		if err == nil {
			return &Result{Response: resp, Model: b.Model, Attempts: n}, nil
		}
		if IsContextError(err) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if !IsCapacity(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("model %s still at capacity after %d attempts: %w", b.Model, maxAttempts, lastErr)
}

// MaxBackoffDelay caps the wait between two backoff attempts.
const MaxBackoffDelay = 2 * time.Minute

// backoffDelay returns base * 2^(retry-1), capped at MaxBackoffDelay.
func backoffDelay(base time.Duration, retry int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < retry && delay < MaxBackoffDelay; i++ {
		delay *= 2
	}
	return min(delay, MaxBackoffDelay)
}

func attempt(ctx context.Context, c Client, model string, req *Request, timeout time.Duration) (*Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	resp, err := c.Generate(ctx, model, req)
	if err != nil {
		return nil, err
	}
	LogUsage(ctx, model, resp.Usage)
	return resp, nil
}
