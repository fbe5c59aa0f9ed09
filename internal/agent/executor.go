package agent

import (
	"context"
	"sync"
	"time"

	"github.com/kestrelai/core/internal/models"
)

// ExecutorConfig bounds per-tool concurrency, timeout, and retries for
// parallel-safe tool fan-out.
type ExecutorConfig struct {
	// MaxConcurrency limits simultaneous ReadOnly tool executions within
	// one batch.
	MaxConcurrency int

	// DefaultTimeout bounds a single tool call's wall time.
	DefaultTimeout time.Duration

	// DefaultRetries is the number of retries for retryable tool errors.
	DefaultRetries int

	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
}

// DefaultExecutorConfig returns the stock limits.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxConcurrency:  5,
		DefaultTimeout:  30 * time.Second,
		DefaultRetries:  2,
		RetryBackoff:    100 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
	}
}

// Executor runs a round's tool calls under the partition-and-merge
// contract used for tool dispatch: the full parallel batch runs first
// (fanned out, concurrency-limited, results placed by original index),
// then the full mutating batch runs sequentially in original call
// order. The merged result vector is always in original call order, so
// each result's correlation id lines up with its call.
type Executor struct {
	registry *ToolRegistry
	config   *ExecutorConfig
	sem      chan struct{}
}

// NewExecutor creates an Executor bound to registry.
func NewExecutor(registry *ToolRegistry, config *ExecutorConfig) *Executor {
	if config == nil {
		config = DefaultExecutorConfig()
	}
	return &Executor{
		registry: registry,
		config:   config,
		sem:      make(chan struct{}, config.MaxConcurrency),
	}
}

// ExecuteBatch partitions calls into ReadOnly and Mutating subsets (each
// keeping its original relative order), runs the ReadOnly subset
// concurrently, then the Mutating subset strictly sequentially, and
// returns results indexed to match calls.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []models.ToolCall) []*models.ToolResult {
	results := make([]*models.ToolResult, len(calls))
	if len(calls) == 0 {
		return results
	}

	var parallelIdx, sequentialIdx []int
	for i, c := range calls {
		if e.registry.EffectClass(c.Name) == models.ReadOnly {
			parallelIdx = append(parallelIdx, i)
		} else {
			sequentialIdx = append(sequentialIdx, i)
		}
	}

	if len(parallelIdx) > 0 {
		var wg sync.WaitGroup
		for _, idx := range parallelIdx {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = e.executeOne(ctx, calls[i])
			}(idx)
		}
		wg.Wait()
	}

	// Mutating batch starts only after the full parallel batch has
	// completed.
	for _, idx := range sequentialIdx {
		select {
		case <-ctx.Done():
			results[idx] = &models.ToolResult{
				CorrelationID: calls[idx].CorrelationID,
				Success:       false,
				Error:         models.NewError(models.KindCancelled, "turn cancelled", ctx.Err()).Error(),
			}
			continue
		default:
		}
		results[idx] = e.executeOne(ctx, calls[idx])
	}

	return results
}

// executeOne acquires a concurrency slot, applies the per-tool timeout,
// and retries retryable failures with capped exponential backoff.
func (e *Executor) executeOne(ctx context.Context, call models.ToolCall) *models.ToolResult {
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return &models.ToolResult{
			CorrelationID: call.CorrelationID,
			Success:       false,
			Error:         models.NewError(models.KindCancelled, "turn cancelled", ctx.Err()).Error(),
		}
	}

	var lastResult *models.ToolResult
	backoff := e.config.RetryBackoff

	for attempt := 0; attempt <= e.config.DefaultRetries; attempt++ {
		execCtx, cancel := context.WithTimeout(ctx, e.config.DefaultTimeout)
		result, err := e.registry.Execute(execCtx, call)
		cancel()

		if err == nil && result != nil && result.Success {
			return result
		}
		if err != nil {
			result = &models.ToolResult{CorrelationID: call.CorrelationID, Success: false, Error: err.Error()}
		}
		lastResult = result

		if attempt >= e.config.DefaultRetries || ctx.Err() != nil {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return lastResult
		}
		backoff *= 2
		if backoff > e.config.MaxRetryBackoff {
			backoff = e.config.MaxRetryBackoff
		}
	}
	return lastResult
}
