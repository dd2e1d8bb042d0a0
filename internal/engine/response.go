package engine

import (
	"context"
	"encoding/hex"
	"log"
	"net"

	"dogengine/internal/followup"
	"dogengine/internal/lookup"
	"dogengine/internal/transport"
	"dogengine/internal/xfr"

	"github.com/miekg/dns"
)

// processResult runs one exchange's outcome through the response gates
// of spec.md §4.5 (parse, truncation, servfail, TSIG) and then, for a
// non-transfer lookup, the follow-up generator of §4.7. It returns any
// child Lookups discovered.
func (e *Engine) processResult(l *lookup.Lookup, res exchangeResult) []*lookup.Lookup {
	if !l.Pending {
		return nil // cancellation gate: discard results for a lookup that's gone
	}
	if res.err != nil || res.buf == nil {
		return nil
	}

	if l.TSIGCtx != nil && !l.IsXFR() {
		// XFR messages are verified per-message inside consumeXFRStream as
		// they stream in, chaining the continuation MAC across the whole
		// transfer; verifying res.buf here too would re-verify the last
		// message and desynchronize messagesSeen.
		l.TSIGCtx.Verify(res.buf)
	}

	resp := new(dns.Msg)
	if err := resp.Unpack(res.buf); err != nil {
		if l.Policy.BestEffort {
			log.Printf("warning: tolerating malformed response from %s: %v", res.query.ServerName, err)
		} else {
			log.Printf("hard parse error from %s, canceling lookup %q: %v\n%s",
				res.query.ServerName, l.Textname, err, hex.Dump(res.buf))
		}
		return nil
	}

	if resp.Truncated && !l.Policy.IgnoreTC && !l.Policy.TCPMode {
		return []*lookup.Lookup{followup.TruncationRetry(l)}
	}

	e.rememberCookie(res.query.ServerName, extractCookie(resp))

	// A SERVFAIL that still reaches this point is either the terminal
	// server in the list or servfail_stops was true to begin with; the
	// "move to next server" half of the gate already ran inside the
	// dispatch loop (dispatch.go's isServfail check).

	if e.Callbacks.OnReceived != nil {
		e.Callbacks.OnReceived(l, res.query, res.rtt)
	}

	if l.IsXFR() {
		// The transfer's completion/failure was already driven inline by
		// consumeXFRStream; nothing further to chain from here.
		if e.Callbacks.OnMessage != nil {
			e.Callbacks.OnMessage(l, res.query, resp)
		}
		return nil
	}

	if e.Callbacks.OnMessage != nil {
		e.Callbacks.OnMessage(l, res.query, resp)
	}

	e.mu.Lock()
	fixed := e.fixedOverride
	e.mu.Unlock()

	var out []*lookup.Lookup
	if child, clearFixed := followup.AdvanceSearch(l, e.search, fixed, resp); child != nil {
		out = append(out, child)
		if clearFixed {
			e.mu.Lock()
			e.fixedOverride = nil
			e.mu.Unlock()
		}
	} else if clearFixed {
		e.mu.Lock()
		e.fixedOverride = nil
		e.mu.Unlock()
	}
	if child := followup.ChaseNS(l, resp); child != nil {
		out = append(out, child)
	}
	return out
}

// consumeXFRStream implements the zone-transfer consumer of spec.md §4.6
// on top of one already-connected TCP socket: read length-framed
// messages, feed every RR in each message's ANSWER section to the
// per-query xfr.State, and keep reading until the state machine says the
// transfer is done, failed, or has hit its RR limit.
func (e *Engine) consumeXFRStream(ctx context.Context, l *lookup.Lookup, q *lookup.Query, conn net.Conn) ([]byte, error) {
	var last []byte
	for {
		buf, err := transport.ReadFramed(conn)
		if err != nil {
			return nil, err
		}
		last = buf

		if l.TSIGKey != nil {
			// Every message after the first signs/verifies "timers only"
			// per RFC 2845 §4.4; tsig.Context tracks that internally via
			// messagesSeen, so each streamed message just calls Verify in
			// order (spec.md §6.1's tcp_continuation requirement).
			l.TSIGCtx.Verify(buf)
		}

		m := new(dns.Msg)
		if err := m.Unpack(buf); err != nil {
			return nil, err
		}

		for _, rr := range m.Answer {
			outcome := q.XFR.Step(rr, e.rrLimit)
			switch outcome {
			case xfr.OutcomeDone:
				return last, nil
			case xfr.OutcomeFailed:
				return nil, &xfrFailure{reason: q.XFR.FailReason}
			case xfr.OutcomeLimitReached:
				return last, &xfrLimitReached{}
			}
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
}

// extractCookie returns the EDNS COOKIE opaque value carried in resp's
// OPT record, or "" if none is present.
func extractCookie(resp *dns.Msg) string {
	for _, rr := range resp.Extra {
		opt, ok := rr.(*dns.OPT)
		if !ok {
			continue
		}
		for _, o := range opt.Option {
			if c, ok := o.(*dns.EDNS0_COOKIE); ok {
				return c.Cookie
			}
		}
	}
	return ""
}

type xfrFailure struct{ reason string }

func (e *xfrFailure) Error() string { return "zone transfer failed: " + e.reason }

type xfrLimitReached struct{}

func (e *xfrLimitReached) Error() string { return "zone transfer RR limit reached" }
