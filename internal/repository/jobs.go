package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"PriceCast/internal/domain/errs"
	"PriceCast/internal/domain/models"
	domrepo "PriceCast/internal/domain/repository"
	"PriceCast/pkg/cache"
)

const jobKeyPrefix = "job"

// CacheJobStore keeps job snapshots in a cache.Service, so status survives
// restarts when the cache is Redis.
type CacheJobStore struct {
	c cache.Service
}

var _ domrepo.JobStore = (*CacheJobStore)(nil)

func NewCacheJobStore(c cache.Service) *CacheJobStore {
	return &CacheJobStore{c: c}
}

func (s *CacheJobStore) Put(ctx context.Context, job *models.TrainingJob, ttl time.Duration) error {
	if err := s.c.Set(ctx, cache.GenerateKey(jobKeyPrefix, job.ID), job, ttl); err != nil {
		return fmt.Errorf("put job %s: %w", job.ID, err)
	}
	return nil
}

func (s *CacheJobStore) Get(ctx context.Context, jobID string) (*models.TrainingJob, error) {
	var job models.TrainingJob
	err := s.c.Get(ctx, cache.GenerateKey(jobKeyPrefix, jobID), &job)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, errs.New(errs.KindJobNotFound, "", "job %s not found", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return &job, nil
}
