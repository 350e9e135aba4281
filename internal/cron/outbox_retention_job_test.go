package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/parkez/parkez-backend/pkg/logger"
	"gorm.io/gorm"
)

type fakeOutboxPurger struct {
	lastCutoff  time.Time
	maxAttempts int
	called      int
	err         error
}

func (f *fakeOutboxPurger) PurgeBefore(_ context.Context, _ *gorm.DB, cutoff time.Time, maxAttempts int) (int64, error) {
	f.called++
	f.lastCutoff = cutoff
	f.maxAttempts = maxAttempts
	if f.err != nil {
		return 0, f.err
	}
	return 7, nil
}

type passthroughTx struct{}

func (passthroughTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func newOutboxRetentionJob(t *testing.T, repo *fakeOutboxPurger) *outboxRetentionJob {
	t.Helper()
	jobIface, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:      logger.New(logger.Options{ServiceName: "test"}),
		DB:          passthroughTx{},
		Repository:  repo,
		MaxAttempts: 10,
	})
	if err != nil {
		t.Fatalf("NewOutboxRetentionJob: %v", err)
	}
	return jobIface.(*outboxRetentionJob)
}

func TestOutboxRetentionJobUsesDefaultWindow(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakeOutboxPurger{}
	job := newOutboxRetentionJob(t, repo)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := now.Add(-defaultOutboxRetention); !repo.lastCutoff.Equal(want) {
		t.Fatalf("expected cutoff %s, got %s", want, repo.lastCutoff)
	}
	if repo.maxAttempts != 10 || repo.called != 1 {
		t.Fatalf("unexpected call: %+v", repo)
	}
}

func TestOutboxRetentionJobPropagatesError(t *testing.T) {
	job := newOutboxRetentionJob(t, &fakeOutboxPurger{err: errors.New("boom")})
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
