package engine

import (
	"fmt"
	"net"
	"strings"

	"dogengine/internal/followup"
	"dogengine/internal/lookup"

	"github.com/miekg/dns"
)

// SetupOptions carries the process-wide inputs setupLookup needs beyond
// what's already on the Lookup itself: the resolv.conf-derived ndots
// threshold, search list, and the default server list to clone when a
// Lookup arrives with none (spec.md §4.2 step 1).
type SetupOptions struct {
	Ndots          int
	Search         followup.SearchList
	DefaultServer  lookup.Server
	DefaultUDPSize uint16

	// SourceAddress, if set, is the configured source address every
	// socket binds to; a destination of the wrong family is skipped
	// (spec.md §4.3's per-server address-family filter).
	SourceAddress net.IP

	// CookieFor, if set, returns the cached EDNS COOKIE opaque value last
	// received from the named server, reattached on the next outbound
	// query (dig's setup_lookup cookie reuse). nil is treated as
	// "no cache", same as returning "".
	CookieFor func(server string) string
}

// setupLookup implements spec.md §4.2: given a bare Lookup, produce a
// rendered outbound message and one Query per server. It mutates l in
// place and returns an error only for conditions the original classifies
// as a fatal usage error (an unparsable query name).
func setupLookup(l *lookup.Lookup, opts SetupOptions) error {
	if len(l.Servers) == 0 {
		l.Servers = []lookup.Server{opts.DefaultServer.Clone()}
	}

	resolveOrigin(l, opts.Ndots, opts.Search)

	qname, err := buildQueryName(l)
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}

	id, err := newQueryID()
	if err != nil {
		return fmt.Errorf("setup: query id: %w", err)
	}

	m := new(dns.Msg)
	m.Id = id
	m.RecursionDesired = l.Policy.Recurse && !l.Policy.Trace && !l.Policy.NSSearchOnly
	m.AuthenticatedData = l.Policy.AD
	m.CheckingDisabled = l.Policy.CD

	rdtype := l.Rdtype
	if l.Policy.TraceRoot {
		// spec.md §8's root-trace example: "first query rewritten to SOA
		// for '.'" — the initial probe asks for the root's SOA, and the
		// AUTHORITY NS records in the reply seed the real delegation walk.
		qname = "."
		rdtype = dns.TypeSOA
	}
	m.SetQuestion(dns.Fqdn(qname), rdtype)
	// SetQuestion overwrites Id and sets RD, so both are applied after it.
	m.Id = id
	m.RecursionDesired = l.Policy.Recurse && !l.Policy.Trace && !l.Policy.NSSearchOnly
	if l.Rdclass != 0 {
		m.Question[0].Qclass = l.Rdclass
	}
	m.Authoritative = l.Policy.AAOnly

	if l.IsXFR() {
		l.Policy.TCPMode = true
		if l.Rdtype == dns.TypeIXFR {
			soa := &dns.SOA{
				Hdr:    dns.RR_Header{Name: m.Question[0].Name, Rrtype: dns.TypeSOA, Class: dns.ClassINET},
				Serial: l.IXFRSerial,
			}
			m.Ns = append(m.Ns, soa)
		}
	}

	udpSize := l.UDPSize
	if udpSize == 0 {
		udpSize = opts.DefaultUDPSize
	}
	if udpSize > 0 || l.Policy.DNSSEC {
		size := udpSize
		if size == 0 {
			size = 2048
		}
		opt := new(dns.OPT)
		opt.Hdr.Name = "."
		opt.Hdr.Rrtype = dns.TypeOPT
		opt.SetUDPSize(size)
		opt.SetDo(l.Policy.DNSSEC)
		if opts.CookieFor != nil && len(l.Servers) > 0 {
			// Single rendered message is shared across every server this
			// lookup queries, so only the first server's cached cookie can
			// be reattached; a simplification of dig's per-socket cookie
			// state, acceptable since cookies are an anti-spoofing nicety
			// rather than a correctness requirement here.
			if cookie := opts.CookieFor(l.Servers[0].Name); cookie != "" {
				opt.Option = append(opt.Option, &dns.EDNS0_COOKIE{Code: dns.EDNS0COOKIE, Cookie: cookie})
			}
		}
		m.Extra = append(m.Extra, opt)
	}

	if l.TSIGKey != nil {
		if l.TSIGCtx == nil {
			l.TSIGCtx = newTSIGContext(l.TSIGKey)
		}
		l.TSIGCtx.Bind(m)
	}

	l.Msg = m
	rendered, err := signOrPack(l, m)
	if err != nil {
		return fmt.Errorf("setup: render: %w", err)
	}
	l.RenderedMsg = rendered

	l.Queries = make([]*lookup.Query, 0, len(l.Servers))
	l.XFRQueryIdx = -1
	for i, srv := range l.Servers {
		q := &lookup.Query{ServerName: srv.Name, ServerPort: srv.Port}
		if l.IsXFR() {
			q.XFR = newXFRState(l.IXFRSerial)
			if l.XFRQueryIdx == -1 {
				l.XFRQueryIdx = i
			}
		}
		l.Queries = append(l.Queries, q)
	}
	l.CurrentQueryIdx = 0
	l.Pending = true
	return nil
}

// resolveOrigin implements step 2 of spec.md §4.2: force an absolute name
// when textname already has enough dots (or defname is set), otherwise
// bootstrap Origin from the first search-list entry the first time a
// fresh (new_search) lookup with no origin of its own is set up. Later
// hops (search advance, NS chase) arrive with Origin already set by
// internal/followup and are left alone.
func resolveOrigin(l *lookup.Lookup, ndots int, search followup.SearchList) {
	if countDots(l.Textname) >= ndots || l.Policy.Defname {
		l.Origin = nil
		return
	}
	if l.Origin == nil && l.Policy.NewSearch && search.UseSearch && len(search.Entries) > 0 {
		first := search.Entries[0].Origin
		l.Origin = &first
	}
}

func countDots(name string) int {
	return strings.Count(strings.TrimSuffix(name, "."), ".")
}

// buildQueryName implements step 3: concatenate textname and origin.
func buildQueryName(l *lookup.Lookup) (string, error) {
	name := l.Textname
	if l.Origin != nil && *l.Origin != "" {
		name = strings.TrimSuffix(name, ".") + "." + strings.TrimSuffix(*l.Origin, ".") + "."
	}
	if _, ok := dns.IsDomainName(name); !ok {
		return "", fmt.Errorf("invalid query name %q", name)
	}
	return name, nil
}
