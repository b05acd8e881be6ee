package gemini

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	// DefaultPoolSize is the number of warm sessions kept ready.
	DefaultPoolSize = 2

	defaultMaintenanceInterval = 30 * time.Second
	defaultCreateDelay         = 500 * time.Millisecond
)

// PoolConfig holds configuration for the session pool.
type PoolConfig struct {
	// Size is the target number of warm sessions (default: DefaultPoolSize)
	Size int
	// Dial creates and connects one session.
	Dial DialFunc
	// MaintenanceInterval is how often depth is checked and topped up
	// (default: 30s). Tests shorten it.
	MaintenanceInterval time.Duration
	// CreateDelay spaces out consecutive session creations so the
	// upstream endpoint is not hammered (default: 500ms).
	CreateDelay time.Duration
}

// Pool keeps a small number of connected sessions warm so call setup
// never pays live connect latency. Sessions are single-use: Acquire
// hands one to exactly one call and Release closes it.
type Pool struct {
	size                int
	dial                DialFunc
	maintenanceInterval time.Duration
	createDelay         time.Duration

	mu        sync.Mutex
	available []Session
	inUse     map[string]Session
	stopped   bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a pool. Call Start to fill it.
func NewPool(cfg PoolConfig) *Pool {
	size := cfg.Size
	if size <= 0 {
		size = DefaultPoolSize
	}
	interval := cfg.MaintenanceInterval
	if interval <= 0 {
		interval = defaultMaintenanceInterval
	}
	delay := cfg.CreateDelay
	if delay < 0 {
		delay = defaultCreateDelay
	}
	return &Pool{
		size:                size,
		dial:                cfg.Dial,
		maintenanceInterval: interval,
		createDelay:         delay,
		inUse:               make(map[string]Session),
	}
}

// Start fills the pool to its target depth and begins periodic
// maintenance. Individual connect failures are logged and skipped; the
// maintenance loop retries on its next tick.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.fill(ctx)
	log.Printf("[Pool] Started (depth: %d, target: %d)", p.depth(), p.size)

	p.wg.Add(1)
	go p.maintain(ctx)
}

// Acquire hands a warm session to the call identified by callID. Stale
// sessions found on the way are discarded. If the pool is empty a
// session is dialed on demand so the call still proceeds, just slower.
func (p *Pool) Acquire(ctx context.Context, callID string) (Session, error) {
	for {
		p.mu.Lock()
		if p.stopped {
			p.mu.Unlock()
			return nil, fmt.Errorf("pool stopped")
		}
		var session Session
		if n := len(p.available); n > 0 {
			session = p.available[n-1]
			p.available = p.available[:n-1]
		}
		p.mu.Unlock()

		if session == nil {
			break
		}
		if !session.Connected() {
			log.Printf("[Pool] Discarding stale session")
			session.Close()
			continue
		}

		p.mu.Lock()
		p.inUse[callID] = session
		p.mu.Unlock()

		log.Printf("[Pool] Session acquired for call %s (depth: %d)", callID, p.depth())
		go p.topUp()
		return session, nil
	}

	log.Printf("[Pool] Empty, dialing on demand for call %s", callID)
	session, err := p.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial session: %w", err)
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		session.Close()
		return nil, fmt.Errorf("pool stopped")
	}
	p.inUse[callID] = session
	p.mu.Unlock()

	go p.topUp()
	return session, nil
}

// Release closes the session owned by callID. Sessions never return to
// the pool; a replacement is dialed in the background instead.
func (p *Pool) Release(callID string) {
	p.mu.Lock()
	session, ok := p.inUse[callID]
	delete(p.inUse, callID)
	p.mu.Unlock()

	if !ok {
		return
	}
	if err := session.Close(); err != nil {
		log.Printf("[Pool] Error closing session for call %s: %v", callID, err)
	}
	log.Printf("[Pool] Session released for call %s", callID)
	go p.topUp()
}

// Stop closes every pooled and in-use session. Close failures are
// logged and do not interrupt the sweep.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	p.mu.Lock()
	p.stopped = true
	available := p.available
	p.available = nil
	inUse := p.inUse
	p.inUse = make(map[string]Session)
	p.mu.Unlock()

	for _, s := range available {
		if err := s.Close(); err != nil {
			log.Printf("[Pool] Error closing pooled session: %v", err)
		}
	}
	for callID, s := range inUse {
		if err := s.Close(); err != nil {
			log.Printf("[Pool] Error closing session for call %s: %v", callID, err)
		}
	}
	log.Printf("[Pool] Stopped")
}

// Depth reports how many warm sessions are available.
func (p *Pool) Depth() int {
	return p.depth()
}

func (p *Pool) depth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.available)
}

func (p *Pool) maintain(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune()
			p.fill(ctx)
		}
	}
}

// prune drops sessions that went stale while idle.
func (p *Pool) prune() {
	p.mu.Lock()
	kept := p.available[:0]
	var stale []Session
	for _, s := range p.available {
		if s.Connected() {
			kept = append(kept, s)
		} else {
			stale = append(stale, s)
		}
	}
	p.available = kept
	p.mu.Unlock()

	for _, s := range stale {
		log.Printf("[Pool] Pruning stale session")
		s.Close()
	}
}

// need reports how many sessions are missing against the target,
// counting both warm and in-use sessions.
func (p *Pool) need() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size - len(p.available) - len(p.inUse)
}

// fill dials sessions until warm plus in-use reaches the target,
// spacing creations by createDelay.
func (p *Pool) fill(ctx context.Context) {
	for p.need() > 0 {
		if ctx.Err() != nil {
			return
		}
		session, err := p.dial(ctx)
		if err != nil {
			log.Printf("[Pool] Failed to create session: %v", err)
			return
		}

		p.mu.Lock()
		if p.stopped || p.size-len(p.available)-len(p.inUse) <= 0 {
			p.mu.Unlock()
			session.Close()
			return
		}
		p.available = append(p.available, session)
		depth := len(p.available)
		p.mu.Unlock()
		log.Printf("[Pool] Session created (depth: %d/%d)", depth, p.size)

		if p.need() > 0 && p.createDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.createDelay):
			}
		}
	}
}

// topUp restores depth in the background after an acquire or release.
func (p *Pool) topUp() {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return
	}
	p.fill(context.Background())
}