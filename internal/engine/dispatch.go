package engine

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"dogengine/internal/lookup"
	"dogengine/internal/transport"

	"github.com/miekg/dns"
	"golang.org/x/sync/errgroup"
)

// exchangeResult is what a single Query's wire round trip produced,
// passed from the transport goroutine back to the response pipeline.
type exchangeResult struct {
	query *lookup.Query
	buf   []byte
	rtt   time.Duration
	err   error
}

// runLookup drives one Lookup end to end: setup, transport, and the
// response pipeline, returning any follow-up Lookups the response
// pipeline discovered (spec.md §4.1-§4.7).
func (e *Engine) runLookup(ctx context.Context, l *lookup.Lookup) ([]*lookup.Lookup, error) {
	if err := setupLookup(l, e.opts); err != nil {
		return nil, err
	}

	var followups []*lookup.Lookup

	if l.Policy.NSSearchOnly && !l.Policy.TCPMode {
		results := e.fanOutUDP(ctx, l)
		for _, res := range results {
			fus := e.processResult(l, res)
			followups = append(followups, fus...)
		}
	} else {
		res := e.runSerial(ctx, l)
		fus := e.processResult(l, res)
		followups = append(followups, fus...)
	}

	for _, q := range l.Queries {
		q.Clear()
	}
	l.Pending = false
	return followups, nil
}

// fanOutUDP implements the ns_search_only broadcast-fan-out described in
// spec.md §4.3: every server is queried concurrently instead of one at a
// time, bounded by errgroup so the lookup waits for all of them. Each
// query gets its own deadline rather than sharing the Lookup's single
// timerpool.Timer, since that timer is only safe for the strictly serial
// dispatch path (§5: "current_lookup is the only one with in-flight work
// except in ns_search_only fan-out mode").
func (e *Engine) fanOutUDP(ctx context.Context, l *lookup.Lookup) []exchangeResult {
	results := make([]exchangeResult, len(l.Queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range l.Queries {
		i, q := i, q
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(gctx, e.timeouts.UDP)
			defer cancel()
			buf, rtt, err := e.exchangeUDP(qctx, l, q)
			results[i] = exchangeResult{query: q, buf: buf, rtt: rtt, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// runSerial implements the one-server-at-a-time UDP/TCP iteration with
// timer-driven rotation and retry described in spec.md §4.4: try the
// current query; on timeout, try its successor without consuming a
// retry; once the whole rotation is exhausted, decrement the retry
// budget and resend only to the first server (§4.4 step 2), rather than
// repeating the full rotation.
func (e *Engine) runSerial(ctx context.Context, l *lookup.Lookup) exchangeResult {
	retriesLeft := l.Retries
	if retriesLeft <= 0 {
		retriesLeft = 1
	}

	for idx := l.CurrentQueryIdx; idx < len(l.Queries); idx++ {
		q := l.Queries[idx]
		l.CurrentQueryIdx = idx
		hasSuccessor := idx+1 < len(l.Queries)
		d := timeoutFor(l, hasSuccessor, e.timeouts)

		qctx, cancel := armedContext(ctx, e.timer, d)
		var buf []byte
		var rtt time.Duration
		var err error
		if l.Policy.TCPMode {
			buf, rtt, err = e.exchangeTCP(qctx, l, q)
		} else {
			buf, rtt, err = e.exchangeUDP(qctx, l, q)
		}
		cancel()

		if err == nil {
			if !l.Policy.ServfailStops && hasSuccessor && isServfail(buf) {
				continue // SERVFAIL gate (§4.5 step 4): move to the next server
			}
			return exchangeResult{query: q, buf: buf, rtt: rtt}
		}
		if context.Cause(qctx) == errTimerExpired && hasSuccessor {
			continue // successor exists: rotate without consuming a retry
		}
		if ctx.Err() != nil {
			return exchangeResult{query: q, err: err}
		}
	}

	if len(l.Queries) == 0 {
		return exchangeResult{err: fmt.Errorf("connection timed out; no servers could be reached")}
	}
	first := l.Queries[0]
	for {
		retriesLeft--
		if retriesLeft <= 0 || l.Policy.TCPMode {
			// UDP retry budget exhausted, or this was already a TCP
			// dialog (no further escalation available): step 3 of the
			// timer policy — give up on this lookup.
			return exchangeResult{err: fmt.Errorf("connection timed out; no servers could be reached")}
		}
		l.CurrentQueryIdx = 0

		d := timeoutFor(l, false, e.timeouts)
		qctx, cancel := armedContext(ctx, e.timer, d)
		buf, rtt, err := e.exchangeUDP(qctx, l, first)
		cancel()

		if err == nil {
			return exchangeResult{query: first, buf: buf, rtt: rtt}
		}
		if ctx.Err() != nil {
			return exchangeResult{query: first, err: err}
		}
	}
}

func (e *Engine) exchangeUDP(ctx context.Context, l *lookup.Lookup, q *lookup.Query) ([]byte, time.Duration, error) {
	addr := net.JoinHostPort(q.ServerName, portOrDefault(q.ServerPort))
	if mismatch := e.checkAddressFamily(q.ServerName); mismatch != nil {
		log.Printf("engine: %v", mismatch)
		return nil, 0, mismatch
	}
	conn, err := transport.DialUDP(ctx, "udp", addr, nil)
	if err != nil {
		return nil, 0, err
	}
	defer conn.Close()
	e.bumpSock(1)
	defer e.bumpSock(-1)

	q.Addr = conn.RemoteAddr().String()
	if e.Callbacks.OnTrying != nil {
		e.Callbacks.OnTrying(l, q)
	}

	sent := time.Now()
	q.TimeSent = sent
	e.bumpSend(1)
	if err := transport.SendUDP(conn, l.RenderedMsg); err != nil {
		e.bumpSend(-1)
		return nil, 0, err
	}
	e.bumpSend(-1)

	e.bumpRecv(1)
	defer e.bumpRecv(-1)
	done := make(chan struct{})
	var buf []byte
	var recvErr error
	go func() {
		buf, recvErr = transport.RecvUDP(conn, udpRecvSize(l))
		close(done)
	}()
	select {
	case <-done:
		q.RecvMade = recvErr == nil
		return buf, time.Since(sent), recvErr
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
}

func (e *Engine) exchangeTCP(ctx context.Context, l *lookup.Lookup, q *lookup.Query) ([]byte, time.Duration, error) {
	addr := net.JoinHostPort(q.ServerName, portOrDefault(q.ServerPort))
	if mismatch := e.checkAddressFamily(q.ServerName); mismatch != nil {
		log.Printf("engine: %v", mismatch)
		return nil, 0, mismatch
	}
	q.WaitingConnect = true
	conn, err := transport.DialTCP(ctx, "tcp", addr, nil)
	q.WaitingConnect = false
	if err != nil {
		return nil, 0, err
	}
	defer conn.Close()
	e.bumpSock(1)
	defer e.bumpSock(-1)

	q.Addr = conn.RemoteAddr().String()
	if e.Callbacks.OnTrying != nil {
		e.Callbacks.OnTrying(l, q)
	}

	sent := time.Now()
	q.TimeSent = sent
	if err := transport.WriteFramed(conn, l.RenderedMsg); err != nil {
		return nil, 0, err
	}

	if l.IsXFR() {
		buf, err := e.consumeXFRStream(ctx, l, q, conn)
		return buf, time.Since(sent), err
	}

	done := make(chan struct{})
	var buf []byte
	var recvErr error
	go func() {
		buf, recvErr = transport.ReadFramed(conn)
		close(done)
	}()
	select {
	case <-done:
		q.RecvMade = recvErr == nil
		return buf, time.Since(sent), recvErr
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
}

// checkAddressFamily applies the per-server address-family skip rule of
// spec.md §4.3: if a source address was configured, a destination of
// the other family is skipped rather than dialed.
func (e *Engine) checkAddressFamily(serverName string) error {
	if e.opts.SourceAddress == nil {
		return nil
	}
	dst := net.ParseIP(serverName)
	if dst == nil {
		return nil // hostname, not a literal address; resolved later by the dialer
	}
	if transport.SameFamily(e.opts.SourceAddress, dst) {
		return nil
	}
	return &transport.AddressFamilyMismatch{Source: e.opts.SourceAddress.String(), Dest: dst.String()}
}

func portOrDefault(p string) string {
	if p == "" {
		return "53"
	}
	return p
}

func udpRecvSize(l *lookup.Lookup) uint16 {
	if l.UDPSize > 0 {
		return l.UDPSize
	}
	return 512
}

// isServfail peeks at a raw response's header to check for SERVFAIL
// without committing to a full unpack; a malformed buffer is treated as
// not SERVFAIL so the real parse error surfaces through the normal gate.
func isServfail(buf []byte) bool {
	m := new(dns.Msg)
	if err := m.Unpack(buf); err != nil {
		return false
	}
	return m.Rcode == dns.RcodeServerFailure
}
