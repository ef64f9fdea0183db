// Package jobs provides background job scheduling and the download
// orchestration built on top of it.
package jobs

import (
	"context"
	"log"
	"sync"
)

// Constraints describe the conditions a fetch unit needs before it may
// run. Derived from the network policy once per task submission.
type Constraints struct {
	UnmeteredOnly      bool
	MinStorageHeadroom int64
}

// Unit is one schedulable piece of work, cancellable by its tag
type Unit struct {
	Tag         string
	Constraints Constraints
	Run         func(ctx context.Context)
}

// ConstraintChecker decides whether a unit's constraints are currently
// satisfied. Units with unsatisfied constraints are deferred, not failed.
type ConstraintChecker interface {
	Satisfied(c Constraints) bool
}

// DefaultConstraintChecker probes network and storage state through
// injectable functions. Nil probes are treated as satisfied, which keeps
// the checker permissive on hosts that cannot answer.
type DefaultConstraintChecker struct {
	// Metered reports whether the current network connection is metered.
	Metered func() bool

	// FreeBytes reports free space at the library root.
	FreeBytes func() (int64, error)
}

// Satisfied checks the constraints against the current host state
func (d DefaultConstraintChecker) Satisfied(c Constraints) bool {
	if c.UnmeteredOnly && d.Metered != nil && d.Metered() {
		return false
	}
	if c.MinStorageHeadroom > 0 && d.FreeBytes != nil {
		if free, err := d.FreeBytes(); err == nil && free < c.MinStorageHeadroom {
			return false
		}
	}
	return true
}

type handle struct {
	cancel context.CancelFunc
}

// Scheduler executes tagged units on background goroutines. It supports
// one-off submission, named ordered chains (a re-submitted chain name
// replaces the previous chain), and idempotent cancellation by tag.
type Scheduler struct {
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	checker ConstraintChecker

	mu     sync.Mutex
	tags   map[string]*handle
	chains map[string]*handle
}

// NewScheduler creates a new scheduler
func NewScheduler(checker ConstraintChecker) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	if checker == nil {
		checker = DefaultConstraintChecker{}
	}
	return &Scheduler{
		ctx:     ctx,
		cancel:  cancel,
		checker: checker,
		tags:    make(map[string]*handle),
		chains:  make(map[string]*handle),
	}
}

// Start begins accepting units
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		log.Println("Scheduler is already running")
		return
	}
	s.running = true
	log.Println("Starting scheduler...")
}

// Stop cancels all in-flight units and waits for them to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	log.Println("Stopping scheduler...")
	s.running = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	log.Println("Scheduler stopped")
}

// IsRunning returns whether the scheduler accepts units
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Submit runs one unit in the background. Units with unsatisfied
// constraints are deferred: they never start and keep whatever registry
// state they were submitted with.
func (s *Scheduler) Submit(u Unit) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		log.Printf("Scheduler not running, dropping unit %s", u.Tag)
		return
	}
	if !s.checker.Satisfied(u.Constraints) {
		s.mu.Unlock()
		log.Printf("Constraints not satisfied, deferring unit %s", u.Tag)
		return
	}

	unitCtx, cancel := context.WithCancel(s.ctx)
	h := &handle{cancel: cancel}
	s.tags[u.Tag] = h
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.clearTag(u.Tag, h)
		u.Run(unitCtx)
	}()
}

// SubmitChain runs units strictly one at a time, in order. A chain
// submitted under an existing name replaces the previous chain: its
// remaining units never start.
func (s *Scheduler) SubmitChain(name string, units []Unit) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		log.Printf("Scheduler not running, dropping chain %s", name)
		return
	}
	if prev, ok := s.chains[name]; ok {
		prev.cancel()
		delete(s.chains, name)
	}

	chainCtx, chainCancel := context.WithCancel(s.ctx)
	ch := &handle{cancel: chainCancel}
	s.chains[name] = ch
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.clearChain(name, ch)
		for _, u := range units {
			if chainCtx.Err() != nil {
				return
			}
			if !s.checker.Satisfied(u.Constraints) {
				log.Printf("Constraints not satisfied, deferring chain unit %s", u.Tag)
				continue
			}

			unitCtx, cancel := context.WithCancel(chainCtx)
			h := &handle{cancel: cancel}
			s.setTag(u.Tag, h)
			u.Run(unitCtx)
			s.clearTag(u.Tag, h)
		}
	}()
}

// Cancel stops the unit registered under tag. Cancelling a tag with no
// in-flight work is a no-op.
func (s *Scheduler) Cancel(tag string) {
	s.mu.Lock()
	h, ok := s.tags[tag]
	if ok {
		delete(s.tags, tag)
	}
	s.mu.Unlock()

	if ok {
		h.cancel()
	}
}

// CancelChain stops a named chain; queued units never start
func (s *Scheduler) CancelChain(name string) {
	s.mu.Lock()
	h, ok := s.chains[name]
	if ok {
		delete(s.chains, name)
	}
	s.mu.Unlock()

	if ok {
		h.cancel()
	}
}

func (s *Scheduler) setTag(tag string, h *handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[tag] = h
}

func (s *Scheduler) clearTag(tag string, h *handle) {
	s.mu.Lock()
	if cur, ok := s.tags[tag]; ok && cur == h {
		delete(s.tags, tag)
	}
	s.mu.Unlock()
	h.cancel()
}

func (s *Scheduler) clearChain(name string, h *handle) {
	s.mu.Lock()
	if cur, ok := s.chains[name]; ok && cur == h {
		delete(s.chains, name)
	}
	s.mu.Unlock()
	h.cancel()
}
