package imap

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aerionmail/mailcore/internal/config"
	"github.com/aerionmail/mailcore/internal/logging"
	"github.com/aerionmail/mailcore/internal/mailerrors"
)

// IsConnectionError reports whether err looks like a dead/broken transport,
// as opposed to a protocol-level (auth, command) failure. Matching against
// error text is the pragmatic option here: neither net.Error nor the IMAP
// library distinguish "server said no" from "socket is gone" uniformly.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if mailerrors.Retryable(err) {
		return true
	}
	errStr := err.Error()
	for _, s := range []string{
		"use of closed network connection", "connection reset", "broken pipe",
		"EOF", "i/o timeout", "connection refused", "no such host", "network is unreachable",
	} {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}

// PoolConfig is C5's tunables: per-account and global concurrency ceilings
// plus the checkout wait deadline (spec §4.5).
type PoolConfig struct {
	AccountLimit   int
	GlobalLimit    int
	ConnectTimeout time.Duration
	WaiterTimeout  time.Duration
}

func PoolConfigFromDefaults(d config.Defaults) PoolConfig {
	return PoolConfig{
		AccountLimit:   d.AccountConnectionLimit,
		GlobalLimit:    d.GlobalConnectionLimit,
		ConnectTimeout: d.ConnectTimeout,
		WaiterTimeout:  d.ConnectTimeout,
	}
}

// PooledConnection wraps a Client with pool bookkeeping. Never share one
// across checkouts; checkin() transfers ownership back to the pool.
type PooledConnection struct {
	client    *Client
	accountID string
	createdAt time.Time
	lastUsed  time.Time
	inUse     bool
	mu        sync.Mutex
}

func (pc *PooledConnection) Client() *Client { return pc.client }

func (pc *PooledConnection) isHealthyLocked() bool {
	return pc.client != nil && pc.client.client != nil
}

// Factory resolves the ClientConfig (endpoint and credentials) for an
// account; createConnection dials and authenticates with it, so the pool
// never constructs credentials itself (spec: sourced via CredentialResolver).
type Factory func(ctx context.Context, accountID string) (*ClientConfig, error)

// Pool is C5 ConnectionPool: per-account bounded reuse with a global ceiling
// and strict FIFO waiter queues at both levels.
type Pool struct {
	mu             sync.Mutex
	config         PoolConfig
	getCredentials Factory
	log            zerolog.Logger

	entries       map[string][]*PooledConnection // accountID -> pooled entries
	accountWait   map[string][]chan *PooledConnection
	globalWaiters []chan struct{} // each token grants one slot in globalInUse
	globalInUse   int
	limitOverride map[string]int
}

func NewPool(cfg PoolConfig, getCredentials Factory) *Pool {
	return &Pool{
		config:         cfg,
		getCredentials: getCredentials,
		log:            logging.WithComponent("imap-pool"),
		entries:        make(map[string][]*PooledConnection),
		accountWait:    make(map[string][]chan *PooledConnection),
		limitOverride:  make(map[string]int),
	}
}

// SetAccountLimit overrides the per-account connection ceiling (spec
// limit_overrides), e.g. a provider known to cap concurrent IMAP sessions.
func (p *Pool) SetAccountLimit(accountID string, limit int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.limitOverride[accountID] = limit
}

func (p *Pool) accountLimitLocked(accountID string) int {
	if l, ok := p.limitOverride[accountID]; ok {
		return l
	}
	return p.config.AccountLimit
}

// Checkout implements the retry-loop algorithm from spec §4.5: scan for an
// idle healthy entry, else create under limits, else queue (account limit
// reached queues at the account; global limit reached queues globally).
func (p *Pool) Checkout(ctx context.Context, accountID string) (*PooledConnection, error) {
	deadline := time.Now().Add(p.config.WaiterTimeout)
	for {
		conn, mustWaitGlobal, mustWaitAccount, err := p.tryCheckoutOnce(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if conn != nil {
			return conn, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, mailerrors.New(mailerrors.Timeout, "timed out waiting for pool connection")
		}

		if mustWaitGlobal {
			if err := p.waitGlobalSlot(ctx, remaining); err != nil {
				return nil, err
			}
			continue // retry at step 1 per spec
		}
		if mustWaitAccount {
			conn, err := p.waitAccountSlot(ctx, accountID, remaining)
			if err != nil {
				return nil, err
			}
			return conn, nil // ownership already transferred in-use
		}
		// Shouldn't happen, but avoid a busy loop if it does.
		return nil, mailerrors.New(mailerrors.ConnectionFailed, "pool checkout made no progress")
	}
}

// tryCheckoutOnce performs steps 1-2 of the algorithm without blocking.
func (p *Pool) tryCheckoutOnce(ctx context.Context, accountID string) (conn *PooledConnection, waitGlobal, waitAccount bool, err error) {
	p.mu.Lock()

	// Snapshot before scanning: removeEntriesLocked below mutates
	// p.entries[accountID] in place, and ranging over the live slice while
	// splicing out elements skips or revisits entries depending on which
	// index was just removed. Scanning a copy keeps every entry visited
	// exactly once regardless of how many turn out to be dead.
	snapshot := append([]*PooledConnection(nil), p.entries[accountID]...)
	var dead []*PooledConnection
	for _, c := range snapshot {
		c.mu.Lock()
		if !c.inUse && c.isHealthyLocked() {
			c.inUse = true
			c.lastUsed = time.Now()
			c.mu.Unlock()
			p.mu.Unlock()
			return c, false, false, nil
		}
		if !c.inUse && !c.isHealthyLocked() {
			dead = append(dead, c)
		}
		c.mu.Unlock()
	}
	if len(dead) > 0 {
		p.removeEntriesLocked(accountID, dead)
	}

	accountCount := len(p.entries[accountID])
	underAccount := accountCount < p.accountLimitLocked(accountID)
	underGlobal := p.globalInUse < p.config.GlobalLimit

	if underAccount && underGlobal {
		p.globalInUse++
		p.mu.Unlock()
		created, cerr := p.createConnection(ctx, accountID)
		if cerr != nil {
			p.mu.Lock()
			p.globalInUse--
			p.mu.Unlock()
			return nil, false, false, cerr
		}
		return created, false, false, nil
	}

	if underAccount && !underGlobal {
		p.mu.Unlock()
		return nil, true, false, nil
	}

	p.mu.Unlock()
	return nil, false, true, nil
}

func (p *Pool) waitGlobalSlot(ctx context.Context, timeout time.Duration) error {
	tok := make(chan struct{}, 1)
	p.mu.Lock()
	p.globalWaiters = append(p.globalWaiters, tok)
	p.mu.Unlock()

	select {
	case _, ok := <-tok:
		if !ok {
			return mailerrors.New(mailerrors.OperationCancelled, "pool closed while waiting")
		}
		return nil
	case <-ctx.Done():
		p.dropGlobalWaiter(tok)
		return mailerrors.Wrap(mailerrors.OperationCancelled, "checkout cancelled", ctx.Err())
	case <-time.After(timeout):
		p.dropGlobalWaiter(tok)
		return mailerrors.New(mailerrors.Timeout, "timed out waiting for global connection slot")
	}
}

func (p *Pool) dropGlobalWaiter(tok chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.globalWaiters {
		if w == tok {
			p.globalWaiters = append(p.globalWaiters[:i], p.globalWaiters[i+1:]...)
			return
		}
	}
}

func (p *Pool) waitAccountSlot(ctx context.Context, accountID string, timeout time.Duration) (*PooledConnection, error) {
	waiter := make(chan *PooledConnection, 1)
	p.mu.Lock()
	p.accountWait[accountID] = append(p.accountWait[accountID], waiter)
	p.mu.Unlock()

	select {
	case conn := <-waiter:
		if conn == nil {
			return nil, mailerrors.New(mailerrors.OperationCancelled, "pool closed while waiting")
		}
		return conn, nil
	case <-ctx.Done():
		p.dropAccountWaiter(accountID, waiter)
		return nil, mailerrors.Wrap(mailerrors.OperationCancelled, "checkout cancelled", ctx.Err())
	case <-time.After(timeout):
		p.dropAccountWaiter(accountID, waiter)
		return nil, mailerrors.New(mailerrors.Timeout, "timed out waiting for account connection slot")
	}
}

func (p *Pool) dropAccountWaiter(accountID string, waiter chan *PooledConnection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	waiters := p.accountWait[accountID]
	for i, w := range waiters {
		if w == waiter {
			p.accountWait[accountID] = append(waiters[:i], waiters[i+1:]...)
			return
		}
	}
}

func (p *Pool) removeEntryLocked(accountID string, target *PooledConnection) {
	p.removeEntriesLocked(accountID, []*PooledConnection{target})
}

// removeEntriesLocked drops every entry in targets from p.entries[accountID]
// in a single pass, building a fresh slice rather than splicing the live one
// repeatedly (splicing mid-scan is what let dead entries hide live
// neighbors from the caller's iteration).
func (p *Pool) removeEntriesLocked(accountID string, targets []*PooledConnection) {
	if len(targets) == 0 {
		return
	}
	drop := make(map[*PooledConnection]bool, len(targets))
	for _, t := range targets {
		drop[t] = true
	}
	conns := p.entries[accountID]
	live := make([]*PooledConnection, 0, len(conns))
	for _, c := range conns {
		if !drop[c] {
			live = append(live, c)
		}
	}
	if len(live) == 0 {
		delete(p.entries, accountID)
		return
	}
	p.entries[accountID] = live
}

func (p *Pool) createConnection(ctx context.Context, accountID string) (*PooledConnection, error) {
	cfg, err := p.getCredentials(ctx, accountID)
	if err != nil {
		return nil, mailerrors.Wrap(mailerrors.NoCredentials, "failed to resolve credentials", err)
	}

	client := NewClient(*cfg)
	done := make(chan error, 1)
	go func() {
		if err := client.Connect(ctx); err != nil {
			done <- err
			return
		}
		done <- client.Login()
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		go client.Close()
		return nil, mailerrors.Wrap(mailerrors.OperationCancelled, "connect cancelled", ctx.Err())
	}

	conn := &PooledConnection{client: client, accountID: accountID, createdAt: time.Now(), lastUsed: time.Now(), inUse: true}
	p.mu.Lock()
	p.entries[accountID] = append(p.entries[accountID], conn)
	p.mu.Unlock()

	p.log.Debug().Str("account", accountID).Msg("pool: new connection created")
	return conn, nil
}

// Checkin returns conn to the pool: hands it straight to the oldest account
// waiter if any, else marks it idle and wakes at most one global waiter.
func (p *Pool) Checkin(conn *PooledConnection) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if waiters := p.accountWait[conn.accountID]; len(waiters) > 0 {
		w := waiters[0]
		p.accountWait[conn.accountID] = waiters[1:]
		conn.mu.Lock()
		conn.inUse = true
		conn.lastUsed = time.Now()
		conn.mu.Unlock()
		w <- conn
		return
	}

	conn.mu.Lock()
	conn.inUse = false
	conn.lastUsed = time.Now()
	conn.mu.Unlock()

	if len(p.globalWaiters) > 0 {
		w := p.globalWaiters[0]
		p.globalWaiters = p.globalWaiters[1:]
		w <- struct{}{}
		return
	}
	p.globalInUse--
}

// Discard removes a known-dead connection instead of returning it for reuse.
func (p *Pool) Discard(conn *PooledConnection) {
	if conn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	conn.mu.Lock()
	if conn.client != nil {
		conn.client.Close()
		conn.client = nil
	}
	conn.mu.Unlock()
	p.removeEntryLocked(conn.accountID, conn)
	p.globalInUse--

	// A freed slot might satisfy a global waiter even though this entry is gone.
	if len(p.globalWaiters) > 0 {
		w := p.globalWaiters[0]
		p.globalWaiters = p.globalWaiters[1:]
		p.globalInUse++
		w <- struct{}{}
	}
}

// DisconnectAll resumes every waiter for accountID with Cancelled, then closes
// every pooled connection for that account.
func (p *Pool) DisconnectAll(accountID string) {
	p.mu.Lock()
	conns := p.entries[accountID]
	delete(p.entries, accountID)

	waiters := p.accountWait[accountID]
	delete(p.accountWait, accountID)
	p.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	for _, c := range conns {
		c.mu.Lock()
		if c.client != nil {
			c.client.Close()
		}
		c.mu.Unlock()
		p.mu.Lock()
		p.globalInUse--
		p.mu.Unlock()
	}
}

// Shutdown resumes every queued waiter (account and global) with Cancelled and
// closes all pooled connections across every account.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	accountIDs := make([]string, 0, len(p.entries))
	for id := range p.entries {
		accountIDs = append(accountIDs, id)
	}
	globalWaiters := p.globalWaiters
	p.globalWaiters = nil
	p.mu.Unlock()

	for _, w := range globalWaiters {
		close(w)
	}
	for _, id := range accountIDs {
		p.DisconnectAll(id)
	}
	p.log.Info().Msg("pool: shutdown complete")
}

// StartIdleCleanup periodically discards connections idle longer than ttl.
func (p *Pool) StartIdleCleanup(ctx context.Context, ttl time.Duration) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.cleanupIdle(ttl)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (p *Pool) cleanupIdle(ttl time.Duration) {
	p.mu.Lock()
	now := time.Now()
	var stale []*PooledConnection
	for _, conns := range p.entries {
		for _, c := range conns {
			c.mu.Lock()
			if !c.inUse && now.Sub(c.lastUsed) > ttl {
				stale = append(stale, c)
			}
			c.mu.Unlock()
		}
	}
	p.mu.Unlock()

	for _, c := range stale {
		p.Discard(c)
	}
}

// Stats reports current pool occupancy for observability.
type Stats struct {
	AccountCount int
	InUse        int
	Idle         int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{AccountCount: len(p.entries)}
	for _, conns := range p.entries {
		for _, c := range conns {
			c.mu.Lock()
			if c.inUse {
				s.InUse++
			} else {
				s.Idle++
			}
			c.mu.Unlock()
		}
	}
	return s
}
