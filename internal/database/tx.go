package database

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"
)

type TxOptions struct {
	IsolationLevel sql.IsolationLevel
	ReadOnly       bool
	MaxRetries     int
}

func DefaultTxOptions() TxOptions {
	return TxOptions{
		IsolationLevel: sql.LevelReadCommitted,
		ReadOnly:       false,
		MaxRetries:     3,
	}
}

func ReadOnlyTxOptions() TxOptions {
	return TxOptions{
		IsolationLevel: sql.LevelReadCommitted,
		ReadOnly:       true,
	}
}

// WithTransaction runs fn once inside a transaction.
func WithTransaction(ctx context.Context, db *sql.DB, opts TxOptions, fn func(*sql.Tx) error) error {
	_, err := runTx(ctx, db, opts, fn)
	return err
}

// WithRetry runs fn inside a transaction and re-runs it from scratch on
// serialization failures, deadlocks and lock timeouts, with jittered
// exponential backoff. fn must therefore be safe to execute more than once.
func WithRetry(ctx context.Context, db *sql.DB, opts TxOptions, fn func(*sql.Tx) error) error {
	var lastErr error
	backoff := 50 * time.Millisecond

	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		stage, err := runTx(ctx, db, opts, fn)
		if err == nil {
			return nil
		}

		if stage == stageBegin || ClassifyError(err) == ErrorClassPermanent {
			return err
		}

		if attempt == opts.MaxRetries {
			return fmt.Errorf("max retries (%d) exceeded%s: %w", opts.MaxRetries, stage, err)
		}

		lastErr = err

		jitter := time.Duration(rand.Int63n(int64(backoff / 4)))
		select {
		case <-time.After(backoff + jitter):
		case <-ctx.Done():
			return ctx.Err()
		}

		backoff *= 2
	}

	return lastErr
}

type txStage string

const (
	stageBegin  txStage = " on begin"
	stageBody   txStage = ""
	stageCommit txStage = " on commit"
)

func runTx(ctx context.Context, db *sql.DB, opts TxOptions, fn func(*sql.Tx) error) (txStage, error) {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{
		Isolation: opts.IsolationLevel,
		ReadOnly:  opts.ReadOnly,
	})
	if err != nil {
		return stageBegin, fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return stageBody, fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return stageBody, err
	}

	if err := tx.Commit(); err != nil {
		return stageCommit, fmt.Errorf("commit transaction: %w", err)
	}

	return stageBody, nil
}
