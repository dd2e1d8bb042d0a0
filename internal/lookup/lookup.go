// Package lookup holds the engine's core data model: the Server and
// SearchEntry handles, the per-question Lookup, and the per-server Query
// it drives. The types here carry no I/O; internal/engine wires them to
// sockets, timers and the follow-up generator.
//
// Grounded on the teacher's dog/cmd/dog.go option/server parsing (the
// field names below track what "dog" accepts on its command line) and on
// spec.md §3's data model.
package lookup

import (
	"time"

	"github.com/miekg/dns"

	"dogengine/internal/tsig"
	"dogengine/internal/xfr"
)

// Server is an opaque handle for a configured name server: a hostname or
// a presentation-form address, as typed by the user or read from
// resolv.conf. It is cloned per lookup and owned by the Lookup that
// references it.
type Server struct {
	Name string
	Port string

	// Cookie is an EDNS COOKIE opaque value carried with this server and
	// copied by Clone. The engine neither sets nor reads it: cookie reuse
	// goes through the engine's own per-server-name cache.
	Cookie string
}

// Clone returns an independent copy, safe to attach to a new Lookup.
func (s Server) Clone() Server { return Server{Name: s.Name, Port: s.Port, Cookie: s.Cookie} }

// SearchEntry is one origin label in the process-wide search list.
type SearchEntry struct {
	Origin string
}

// Policy is the set of independent behavior flags a Lookup carries.
// Field names track the policy-flag list in spec.md §3.
type Policy struct {
	Recurse       bool
	AAOnly        bool
	AD            bool
	CD            bool
	DNSSEC        bool
	TCPMode       bool
	IgnoreTC      bool
	Trace         bool
	TraceRoot     bool
	NSSearchOnly  bool
	ServfailStops bool
	BestEffort    bool
	Nibble        bool
	Identify      bool
	Defname       bool
	NewSearch     bool
}

// Query is one outstanding dialog with one server for one Lookup. It owns
// its transport handle, receive scratch, and zone-transfer progress.
//
// Query intentionally holds no back-reference to its owning Lookup (see
// the cyclic-reference design note in spec.md §9): callers that need both
// already have the Lookup in scope, and pass it explicitly.
type Query struct {
	ServerName string
	ServerPort string

	// Addr is the resolved destination, filled in by the transport layer.
	Addr string

	// WaitingConnect and RecvMade are transport-state bits: WaitingConnect
	// is true between posting a TCP connect and its completion; RecvMade
	// is true once at least one receive has completed on this query.
	WaitingConnect bool
	RecvMade       bool

	// XFR is the zone-transfer consumer state for this query; nil unless
	// the owning Lookup is doing an AXFR/IXFR.
	XFR *xfr.State

	// TimeSent is the monotonic timestamp of the last send on this query,
	// used for RTT reporting.
	TimeSent time.Time

	// cleared is set by Clear so try-clear semantics are idempotent.
	cleared bool
}

// Clear releases whatever this query was holding. It is safe to call more
// than once.
func (q *Query) Clear() {
	q.cleared = true
	q.WaitingConnect = false
}

// Cleared reports whether Clear has already run.
func (q *Query) Cleared() bool { return q.cleared }

// Lookup is one user-level question being resolved, with all its policy.
// Grounded on spec.md §3's Lookup entity.
type Lookup struct {
	Textname string
	Rdtype   uint16
	Rdclass  uint16

	Servers []Server
	Queries []*Query

	// CurrentQueryIdx indexes Queries for the query currently driving
	// timeouts for this lookup.
	CurrentQueryIdx int

	// XFRQueryIdx indexes Queries for the one query whose responses form
	// an active zone-transfer stream; -1 when none is active.
	XFRQueryIdx int

	// Origin is the search-list entry (or fixed domain override) appended
	// to Textname when resolving a relative name; nil means absolute.
	Origin *string

	Policy Policy

	Retries int
	UDPSize uint16

	IXFRSerial uint32

	TSIGKey *tsig.Key
	TSIGCtx *tsig.Context

	Pending bool

	MsgCounter int

	Msg         *dns.Msg
	RenderedMsg []byte

	// RecursionDepth counts how many follow-up hops produced this lookup,
	// for the LOOKUP_LIMIT loop guard in the scheduler.
	RecursionDepth int
}

// NewLookup returns a Lookup with defaults matching a fresh user-seeded
// question: RD set by policy default, one retry cycle, XFRQueryIdx unset,
// and NewSearch set since this is the entry point of a search (spec.md
// §4.2 step 2) rather than a follow-up hop.
func NewLookup(textname string, rdtype, rdclass uint16) *Lookup {
	return &Lookup{
		Textname:    textname,
		Rdtype:      rdtype,
		Rdclass:     rdclass,
		XFRQueryIdx: -1,
		Policy:      Policy{Recurse: true, ServfailStops: true, NewSearch: true},
		Retries:     3,
	}
}

// IsXFR reports whether this lookup's query type is a zone transfer.
func (l *Lookup) IsXFR() bool {
	return l.Rdtype == dns.TypeAXFR || l.Rdtype == dns.TypeIXFR
}

// CurrentQuery returns the query currently driving timeouts, or nil if
// the lookup has no queries (not yet set up, or all cleared).
func (l *Lookup) CurrentQuery() *Query {
	if l.CurrentQueryIdx < 0 || l.CurrentQueryIdx >= len(l.Queries) {
		return nil
	}
	return l.Queries[l.CurrentQueryIdx]
}

// AllQueriesCleared reports whether every Query on this lookup has been
// cleared, the precondition for reclaiming the Lookup (try_clear_lookup).
func (l *Lookup) AllQueriesCleared() bool {
	for _, q := range l.Queries {
		if !q.Cleared() {
			return false
		}
	}
	return true
}

// CloneForFollowup produces a new Lookup that shares this one's textname,
// rdtype/rdclass and policy but starts with a fresh, empty query list and
// a clone of this one's server list (NS chase replaces it). Used by the
// follow-up generator for NS chase, search advance and TC->TCP escalation.
func (l *Lookup) CloneForFollowup() *Lookup {
	clone := &Lookup{
		Textname:       l.Textname,
		Rdtype:         l.Rdtype,
		Rdclass:        l.Rdclass,
		Origin:         l.Origin,
		Policy:         l.Policy,
		Retries:        l.Retries,
		UDPSize:        l.UDPSize,
		IXFRSerial:     l.IXFRSerial,
		TSIGKey:        l.TSIGKey,
		XFRQueryIdx:    -1,
		RecursionDepth: l.RecursionDepth + 1,
	}
	for _, s := range l.Servers {
		clone.Servers = append(clone.Servers, s.Clone())
	}
	return clone
}
