package history

import (
	"context"
	"sync"
	"time"

	"repscore/internal/score"
	"repscore/internal/utils"
)

const (
	defaultCleanInterval = time.Minute

	// sessionGap is the longest pause between two calculations of the same
	// training session.
	sessionGap = 90 * time.Minute
)

// ResultsRepository keeps the most recent successful results of every user
// in a fixed-length ring buffer, together with running aggregates that
// outlive buffer eviction. Users without activity for longer than the TTL
// are dropped by Serve.
//
//	repo := history.NewResultsRepository(50, 24*time.Hour)
//	go repo.Serve()
//	defer repo.Stop()
type ResultsRepository struct {
	length int
	ttl    time.Duration

	mu      sync.RWMutex
	users   map[string]*userHistory
	now     func() time.Time
	cleanup time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

type userHistory struct {
	results *utils.RingBuffer[score.Result]
	updated time.Time
	agg     Aggregate
}

func NewResultsRepository(length int, ttl time.Duration) *ResultsRepository {
	return &ResultsRepository{
		length:  length,
		ttl:     ttl,
		users:   make(map[string]*userHistory),
		now:     time.Now,
		cleanup: defaultCleanInterval,
		stop:    make(chan struct{}),
	}
}

// Record stores a successful result of an identified user. Other results
// are ignored.
func (rr *ResultsRepository) Record(_ context.Context, result score.Result) {
	if result.Status != score.StatusOK || result.UserID == "" {
		return
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()

	uh, found := rr.users[result.UserID]
	if !found {
		uh = &userHistory{results: utils.NewRingBuffer[score.Result](rr.length)}
		rr.users[result.UserID] = uh
	}
	uh.results.Push(result)
	uh.updated = rr.now()
	uh.agg.Apply(result.CalculatedAt, result.TotalPoints)
}

// Get returns a copy of the recent results of id, oldest first.
func (rr *ResultsRepository) Get(id string) ([]score.Result, bool) {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	uh, found := rr.users[id]
	if !found {
		return nil, false
	}
	return uh.results.ToSlice(), true
}

// Aggregate returns the running aggregate of userID. An unknown user has
// the zero aggregate.
func (rr *ResultsRepository) Aggregate(_ context.Context, userID string) (Aggregate, error) {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	if uh, found := rr.users[userID]; found {
		return uh.agg, nil
	}
	return Aggregate{}, nil
}

// UserContext derives the context of userID as of now.
func (rr *ResultsRepository) UserContext(ctx context.Context, userID string) (score.UserContext, error) {
	agg, err := rr.Aggregate(ctx, userID)
	if err != nil {
		return score.UserContext{}, err
	}
	return agg.Context(rr.now()), nil
}

// Serve drops users whose history has not been updated within the TTL. It
// blocks until Stop is called.
func (rr *ResultsRepository) Serve() {
	ticker := time.NewTicker(rr.cleanup)
	defer ticker.Stop()
	for {
		select {
		case <-rr.stop:
			return
		case <-ticker.C:
			rr.evict()
		}
	}
}

func (rr *ResultsRepository) Stop() {
	rr.stopOnce.Do(func() { close(rr.stop) })
}

func (rr *ResultsRepository) evict() {
	if rr.ttl <= 0 {
		return
	}

	var outdated []string
	rr.mu.RLock()
	now := rr.now()
	for id, uh := range rr.users {
		if now.Sub(uh.updated) > rr.ttl {
			outdated = append(outdated, id)
		}
	}
	rr.mu.RUnlock()

	if len(outdated) == 0 {
		return
	}
	rr.mu.Lock()
	for _, id := range outdated {
		// Recheck: the user may have been updated meanwhile.
		if uh, ok := rr.users[id]; ok && now.Sub(uh.updated) > rr.ttl {
			delete(rr.users, id)
		}
	}
	rr.mu.Unlock()
}
