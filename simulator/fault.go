package simulator

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Fault degrades locate replies: each reply is dropped with DropRate
// probability, denied with DenyRate probability and otherwise sent after Delay.
type Fault struct {
	Delay    time.Duration
	DropRate float64
	DenyRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// Outcome of a locate request.
type Outcome int

const (
	Reply Outcome = iota
	Drop
	Deny
)

// NewFault builds a Fault seeded from seed; a zero seed uses the clock.
func NewFault(delay time.Duration, dropRate, denyRate float64, seed int64) *Fault {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Fault{Delay: delay, DropRate: dropRate, DenyRate: denyRate, rng: rand.New(rand.NewSource(seed))}
}

// Decide draws the outcome of one request.
func (f *Fault) Decide() Outcome {
	if f == nil {
		return Reply
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rng == nil {
		f.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if f.DropRate > 0 && f.rng.Float64() < f.DropRate {
		return Drop
	}
	if f.DenyRate > 0 && f.rng.Float64() < f.DenyRate {
		return Deny
	}
	return Reply
}

// Wait sleeps for Delay or until ctx is done. It reports whether the delay
// elapsed.
func (f *Fault) Wait(ctx context.Context) bool {
	if f == nil || f.Delay <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-time.After(f.Delay):
		return true
	case <-ctx.Done():
		return false
	}
}
