package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hive-corporation/cticollector/internal/adapter/repository"
	"github.com/hive-corporation/cticollector/internal/core/domain"
)

var (
	t1 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	t2 = t1.Add(24 * time.Hour)
	t3 = t2.Add(24 * time.Hour)
)

// md5Token is a 32-char hex token, the shape the A/B scenario calls "bad...".
const md5Token = "badbadbadbadbadbadbadbadbadbadab"

type stubProvider struct {
	name   string
	tokens []domain.RawIndicator
	err    error
	calls  int
	mu     sync.Mutex
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) FetchIndicators(ctx context.Context) ([]domain.RawIndicator, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return p.tokens, nil
}

// faultyStore wraps the memory repository with injectable failures.
type faultyStore struct {
	*repository.MemoryRepository

	mu sync.Mutex
	// upsertErr fails every Upsert once set.
	upsertErr error
	// racers get a concurrent writer bumping their version right before
	// the engine's write lands.
	racers map[string]bool
	// failAfter fails every Upsert after that many successful ones, -1 off.
	failAfter int
	upserts   int
	// cancelAfter cancels on the n-th successful Upsert, 0 off.
	cancelAfter int
	cancel      context.CancelFunc
}

func newFaultyStore() *faultyStore {
	return &faultyStore{
		MemoryRepository: repository.NewMemoryRepository(),
		racers:           map[string]bool{},
		failAfter:        -1,
	}
}

func (s *faultyStore) Upsert(ctx context.Context, rec *domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.upsertErr != nil {
		return s.upsertErr
	}
	if s.failAfter >= 0 && s.upserts >= s.failAfter {
		return fmt.Errorf("connection reset: %w", domain.ErrStoreUnavailable)
	}
	if s.racers[rec.Indicator] {
		other := rec.Clone()
		other.Metadata = map[string]string{"writer": "other"}
		if err := s.MemoryRepository.Upsert(ctx, other); err != nil {
			return err
		}
	}
	if err := s.MemoryRepository.Upsert(ctx, rec); err != nil {
		return err
	}
	s.upserts++
	if s.cancelAfter > 0 && s.upserts == s.cancelAfter && s.cancel != nil {
		s.cancel()
	}
	return nil
}
