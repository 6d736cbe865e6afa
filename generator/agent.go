package generator

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"webforge/metrics"
)

// RetryPolicy bounds the exponential backoff around every remote call.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy: three attempts, 1s then 2s between them, capped at 8s.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 8 * time.Second}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultRetryPolicy.BaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Budget 返回一次 Complete 在最坏情况下的耗时上限：每次尝试最多
// attemptTimeout，两次尝试之间最多等待 MaxDelay。
func (p RetryPolicy) Budget(attemptTimeout time.Duration) time.Duration {
	p = p.normalized()
	return attemptTimeout*time.Duration(p.MaxAttempts) + p.MaxDelay*time.Duration(p.MaxAttempts-1)
}

// AgentOptions carries the optional collaborators of an Agent.
type AgentOptions struct {
	Provider string
	Model    string
	Retry    RetryPolicy
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// Agent 负责把 Prompt 发给 LLM，重试临时性失败，并把失败统一成 *GenerationError。
type Agent struct {
	llm      LLMClient
	provider string
	model    string
	retry    RetryPolicy
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewAgent(llm LLMClient, opts AgentOptions) (*Agent, error) {
	if llm == nil {
		return nil, errors.New("llm client is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		llm:      llm,
		provider: opts.Provider,
		model:    opts.Model,
		retry:    opts.Retry.normalized(),
		logger:   logger.Named("agent"),
		metrics:  opts.Metrics,
	}, nil
}

// Complete runs prompt through the LLM. Only network failures and 429/5xx
// service errors are retried.
func (a *Agent) Complete(ctx context.Context, prompt Prompt) (string, error) {
	model := prompt.Model
	if model == "" {
		model = a.model
	}
	a.metrics.ObservePrompt(model, prompt.System, prompt.User)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.retry.BaseDelay
	b.MaxInterval = a.retry.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0

	attempt := 0
	op := func() (string, error) {
		attempt++
		start := time.Now()
		text, err := a.llm.Complete(ctx, prompt)
		elapsed := time.Since(start)
		if err != nil {
			ge := AsGenerationError(err)
			a.metrics.ObserveRequest(a.provider, model, string(ge.Kind), elapsed)
			a.logger.Warn("generation attempt failed",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", a.retry.MaxAttempts),
				zap.String("kind", string(ge.Kind)),
				zap.Int("status", ge.StatusCode),
				zap.Duration("elapsed", elapsed),
				zap.Error(err),
			)
			if !ge.Retryable() || ctx.Err() != nil {
				return "", backoff.Permanent(ge)
			}
			return "", ge
		}
		a.metrics.ObserveRequest(a.provider, model, "success", elapsed)
		a.logger.Info("generation completed",
			zap.Int("attempt", attempt),
			zap.String("model", model),
			zap.Int("length", len(text)),
			zap.Duration("elapsed", elapsed),
		)
		return text, nil
	}

	text, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(a.retry.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			a.logger.Info("retrying generation", zap.Duration("wait", wait), zap.Error(err))
		}),
	)
	if err != nil {
		return "", AsGenerationError(err)
	}
	return text, nil
}
