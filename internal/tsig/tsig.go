// Package tsig threads TSIG signing and verification state across a
// multi-message TCP response stream, the way a signed zone transfer must
// chain MACs from one message to the next (RFC 2845 §4.4).
//
// The cryptographic primitives themselves are an external collaborator
// per spec.md §1 ("the cryptographic TSIG signer/verifier... assumed
// available as a library"); this package is a thin sequencing layer over
// github.com/miekg/dns's package-level Tsig helpers, grounded on the key
// bookkeeping in the teacher's tdns/tsig_utils.go#ParseTsigKeys.
package tsig

import (
	"fmt"
	"time"

	"github.com/miekg/dns"
)

// Key is a named TSIG key as configured by the caller (resolv.conf-style
// input is out of scope; only the parsed key material is consumed).
type Key struct {
	Name      string
	Algorithm string
	Secret    string
}

// Context carries the running TSIG state across the messages of one TCP
// stream: the MAC of the previously signed/verified message
// (last_querysig in spec.md §3) and how many messages have been
// processed so far, which tells the verifier whether to use
// "timers-only" continuation signing.
type Context struct {
	key *Key

	// lastMAC is the MAC of the most recently signed outbound message or
	// verified inbound message, fed into the next Sign/Verify call.
	lastMAC string

	// messagesSeen counts messages already processed in this stream; the
	// first uses a full signature, subsequent ones are continuation
	// ("timers only") signatures per RFC 2845.
	messagesSeen int

	// Valid tracks whether every message verified so far has checked out.
	// A single bad signature flips this false but does not abort the
	// transfer (spec.md §7: "TSIG verify failure... does not abort").
	Valid bool
}

// NewContext returns a fresh TSIG context bound to key. key may be nil,
// in which case Sign/Verify are no-ops and Valid stays true.
func NewContext(key *Key) *Context {
	return &Context{key: key, Valid: true}
}

// Bind attaches this context's key to an outbound message so the wire
// codec signs it during render. Continuation messages (messagesSeen > 0)
// sign with TimersOnly set and the previous MAC as RequestMAC, per RFC
// 2845 §4.4.
func (c *Context) Bind(m *dns.Msg) {
	if c == nil || c.key == nil {
		return
	}
	fqdn := dns.Fqdn(c.key.Name)
	m.SetTsig(fqdn, c.key.Algorithm, 300, time.Now().Unix())
}

// Sign renders m and produces the wire bytes with the TSIG RR attached
// and signed, updating lastMAC for the next continuation message in the
// stream. m keeps its TSIG RR afterwards.
func (c *Context) Sign(m *dns.Msg) ([]byte, error) {
	if c == nil || c.key == nil {
		return m.Pack()
	}
	timersOnly := c.messagesSeen > 0
	tsigRR := m.IsTsig()
	signed, mac, err := dns.TsigGenerate(m, c.key.Secret, c.lastMAC, timersOnly)
	if tsigRR != nil && m.IsTsig() == nil {
		// TsigGenerate removes the TSIG RR from m while rendering.
		m.Extra = append(m.Extra, tsigRR)
	}
	if err != nil {
		return nil, fmt.Errorf("tsig: sign: %w", err)
	}
	c.lastMAC = mac
	c.messagesSeen++
	return signed, nil
}

// Verify checks the TSIG on an inbound message's raw wire bytes. It never
// returns an error that should abort the lookup: a failed verification
// only clears Valid, per spec.md §7.
func (c *Context) Verify(buf []byte) {
	if c == nil || c.key == nil {
		return
	}
	timersOnly := c.messagesSeen > 0
	err := dns.TsigVerify(buf, c.key.Secret, c.lastMAC, timersOnly)
	c.messagesSeen++
	if err != nil {
		c.Valid = false
		return
	}
	m := new(dns.Msg)
	if unpackErr := m.Unpack(buf); unpackErr == nil && m.IsTsig() != nil {
		c.lastMAC = m.IsTsig().MAC
	}
}
