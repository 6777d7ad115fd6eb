// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package upload

import (
	"context"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/pagevault/internal/logging"
	"github.com/tomtom215/pagevault/internal/metrics"
)

// BreakerUploader wraps an Uploader with a circuit breaker. While the circuit
// is open calls fail immediately with ErrUploadFailure.
type BreakerUploader struct {
	next Uploader
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

// NewBreakerUploader opens the circuit after maxFailures consecutive failures
// and tries the target again after a minute.
func NewBreakerUploader(name string, next Uploader, maxFailures uint32) *BreakerUploader {
	cbName := "upload-" + name
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 1,
		Interval:    10 * time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Upload circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
	return &BreakerUploader{next: next, cb: cb, name: cbName}
}

// State returns the current circuit state.
func (b *BreakerUploader) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerUploader) ExecuteUpload(ctx context.Context, localPath, fileName, unitLabel string) (*Result, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.next.ExecuteUpload(ctx, localPath, fileName, unitLabel)
	})
	if err != nil {
		return nil, failure("upload", err)
	}
	return res.(*Result), nil
}

func (b *BreakerUploader) ExecuteDownload(ctx context.Context, reference string) (string, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.next.ExecuteDownload(ctx, reference)
	})
	if err != nil {
		return "", failure("download", err)
	}
	return res.(string), nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

var _ Uploader = (*BreakerUploader)(nil)
