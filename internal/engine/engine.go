// Package engine is the asynchronous query engine: the scheduler that
// drains a FIFO queue of Lookups, drives each one's transport, and
// pushes follow-ups it discovers back onto the queue. It realizes the
// single-threaded, lock-guarded event loop described in spec.md §5 with
// goroutines, channels and context.Context cancellation instead of an
// OS-level event-object system, per the design note in spec.md §9.
//
// Grounded on the teacher's tdns/dnsclient.go for the
// server-iteration/transport shape, and on dog/cmd/dog.go for how a
// seeded Lookup's policy and server list are assembled before the
// engine ever sees it.
package engine

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log"
	"sync"
	"time"

	"dogengine/internal/followup"
	"dogengine/internal/lookup"
	"dogengine/internal/timerpool"

	"github.com/miekg/dns"
)

// Timeouts bundles the engine's configurable time budgets (spec.md §4.4).
type Timeouts struct {
	UDP      time.Duration
	TCP      time.Duration
	Server   time.Duration
	Override time.Duration // Override, if non-zero, wins over all of the above.
}

// DefaultTimeouts matches the original engine's UDP_TIMEOUT/TCP_TIMEOUT/
// SERVER_TIMEOUT defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		UDP:    5 * time.Second,
		TCP:    10 * time.Second,
		Server: 3 * time.Second,
	}
}

// Callbacks is the driver-facing notification surface a presenter
// implements (spec.md §6.4): on_trying/on_message/on_received/on_shutdown.
// Typed only in terms of lookup/dns so the present package never needs to
// import engine.
type Callbacks struct {
	OnTrying   func(l *lookup.Lookup, q *lookup.Query)
	OnMessage  func(l *lookup.Lookup, q *lookup.Query, resp *dns.Msg)
	OnReceived func(l *lookup.Lookup, q *lookup.Query, rtt time.Duration)
	OnShutdown func()
}

// Engine owns the lookup queue, the current-lookup slot, the shared
// counters, and the search-list/fixed-domain override state — the
// aggregate that spec.md §5 calls lookup_lock-guarded global state,
// collected into a value instead of process globals (spec.md §9).
type Engine struct {
	mu sync.Mutex

	queue   []*lookup.Lookup
	current *lookup.Lookup

	sockCount int
	sendCount int
	recvCount int

	search        followup.SearchList
	fixedOverride *string

	// cookies caches the last EDNS COOKIE opaque value received from each
	// server, keyed by server name, and is reattached on the next query
	// sent to that server (dig's setup_lookup cookie reuse).
	cookies map[string]string

	timeouts    Timeouts
	retries     int
	rrLimit     int
	lookupLimit int
	opts        SetupOptions

	timer *timerpool.Timer

	cancelNow bool

	Callbacks Callbacks
}

// New returns an idle Engine ready for Seed/Start.
func New(timeouts Timeouts, retries, rrLimit, lookupLimit int, search followup.SearchList, opts SetupOptions, cb Callbacks) *Engine {
	e := &Engine{
		timeouts:    timeouts,
		retries:     retries,
		rrLimit:     rrLimit,
		lookupLimit: lookupLimit,
		search:      search,
		opts:        opts,
		timer:       timerpool.New(),
		Callbacks:   cb,
		cookies:     make(map[string]string),
	}
	e.opts.CookieFor = e.cookieFor
	e.opts.Search = search
	return e
}

// cookieFor returns the cached EDNS COOKIE value for server, if any.
func (e *Engine) cookieFor(server string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cookies[server]
}

// rememberCookie caches the EDNS COOKIE value last seen from server.
func (e *Engine) rememberCookie(server, cookie string) {
	if cookie == "" {
		return
	}
	e.mu.Lock()
	e.cookies[server] = cookie
	e.mu.Unlock()
}

// Seed appends a user-specified Lookup to the tail of the queue, filling
// in the engine's default retry budget if the caller left it unset.
func (e *Engine) Seed(l *lookup.Lookup) {
	if l.Retries == 0 {
		l.Retries = e.retries
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = append(e.queue, l)
}

// prepend pushes a follow-up Lookup onto the head of the queue so a
// chain of follow-ups spawned by one response resolves depth-first
// before any sibling seeded lookup runs (spec.md §4.1 ordering contract).
func (e *Engine) prepend(l *lookup.Lookup) error {
	if e.lookupLimit > 0 && l.RecursionDepth > e.lookupLimit {
		return fmt.Errorf("engine: lookup recursion limit (%d) exceeded", e.lookupLimit)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = append([]*lookup.Lookup{l}, e.queue...)
	return nil
}

// Start drains the queue until it is empty, the current lookup is nil,
// and every counter is back to zero, then calls on_shutdown. It blocks
// until ctx is canceled or the queue drains naturally.
func (e *Engine) Start(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.mu.Lock()
		if e.cancelNow && len(e.queue) == 0 {
			e.mu.Unlock()
			break
		}
		if len(e.queue) == 0 {
			e.mu.Unlock()
			break
		}
		l := e.queue[0]
		e.queue = e.queue[1:]
		e.current = l
		e.mu.Unlock()

		followups, err := e.runLookup(ctx, l)
		if err != nil {
			log.Printf("engine: lookup %q failed: %v", l.Textname, err)
		}
		// Reverse so the first follow-up discovered ends up at the very
		// head after repeated prepends, preserving depth-first order.
		for i := len(followups) - 1; i >= 0; i-- {
			if perr := e.prepend(followups[i]); perr != nil {
				log.Printf("engine: %v", perr)
			}
		}

		e.mu.Lock()
		e.current = nil
		e.mu.Unlock()
	}
	if e.Callbacks.OnShutdown != nil {
		e.Callbacks.OnShutdown()
	}
	return nil
}

// CancelAll is the shutdown-by-signal entry point (spec.md §4.8): it
// marks cancel_now, empties the queue so Start's loop starts nothing new,
// and clears the current lookup's queries and pending flag so a result
// that arrives afterwards is discarded. It does not interrupt socket I/O
// already in flight; that ends when the context passed to Start is
// canceled or the query's timer fires.
func (e *Engine) CancelAll() {
	e.mu.Lock()
	e.cancelNow = true
	cur := e.current
	e.queue = nil
	e.mu.Unlock()

	if cur != nil {
		for _, q := range cur.Queries {
			q.Clear()
		}
		cur.Pending = false
	}
}

// Shutdown reports whether the engine has fully drained: no current
// lookup, empty queue, and zero outstanding sockets/sends/receives.
func (e *Engine) Shutdown() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current == nil && len(e.queue) == 0 &&
		e.sockCount == 0 && e.sendCount == 0 && e.recvCount == 0
}

func (e *Engine) bumpSock(delta int) {
	e.mu.Lock()
	e.sockCount += delta
	e.mu.Unlock()
}

func (e *Engine) bumpSend(delta int) {
	e.mu.Lock()
	e.sendCount += delta
	e.mu.Unlock()
}

func (e *Engine) bumpRecv(delta int) {
	e.mu.Lock()
	e.recvCount += delta
	e.mu.Unlock()
}

// newQueryID draws a 16-bit DNS message ID from a cryptographically
// strong source. spec.md §4.2 only requires "random", not
// cryptographically strong, but §9 explicitly calls upgrading the weak
// PRNG the original used a pure behavior upgrade, not a functional
// change, so crypto/rand replaces math/rand here.
func newQueryID() (uint16, error) {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}
