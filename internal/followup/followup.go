// Package followup implements the three independent rules that turn a
// completed response into the next Lookup to run: search-list advance,
// NS/trace chase, and (together with the caller's truncation gate)
// truncation retry. It is grounded on the delegation-walking logic in
// the teacher's dog/cmd/dog.go trace handling and on dighost.c's
// next_origin/followup_lookup pair in original_source.
package followup

import (
	"dogengine/internal/lookup"

	"github.com/miekg/dns"
)

// MaxServersPerLookup caps how many NS records a single trace step will
// fan out to, mirroring the original engine's MXSERV ceiling for the
// initial root probe.
const MaxServersPerLookup = 10

// SearchList holds the ordered origins a Lookup's search-list advance
// walks through, plus whether search-list usage is enabled at all.
type SearchList struct {
	Entries   []lookup.SearchEntry
	UseSearch bool
}

// AdvanceSearch implements the search-list-advance rule (spec.md §4.7):
// on a non-zero rcode, with an active origin and search enabled (or a
// fixed override in play), clone l with its origin moved to the next
// search entry and its servers cloned, ready to re-enqueue. The second
// return value tells the caller whether the process-wide fixed-search
// override has now been consumed and should be cleared (it is guarded
// by the engine's own lock, not owned by this package). Returns a nil
// Lookup if the rule does not apply.
func AdvanceSearch(l *lookup.Lookup, sl SearchList, fixedOverride *string, resp *dns.Msg) (*lookup.Lookup, bool) {
	if resp.Rcode == dns.RcodeSuccess {
		return nil, false
	}
	if l.Origin == nil {
		return nil, false
	}
	usingFixed := fixedOverride != nil && *l.Origin == *fixedOverride
	if !sl.UseSearch && !usingFixed {
		return nil, false
	}

	next := nextOrigin(sl.Entries, *l.Origin)
	if next == nil {
		return nil, usingFixed
	}

	child := l.CloneForFollowup()
	child.Origin = next
	return child, usingFixed
}

func nextOrigin(entries []lookup.SearchEntry, current string) *string {
	for i, e := range entries {
		if e.Origin == current {
			if i+1 < len(entries) {
				next := entries[i+1].Origin
				return &next
			}
			return nil
		}
	}
	return nil
}

// ChaseNS implements the NS/trace-chase rule (spec.md §4.7): when trace
// or ns_search_only is active, it walks the response's ANSWER section
// first, falling through to AUTHORITY if ANSWER holds no NS records, and
// builds a child Lookup whose servers are every NS found there (capped
// at MaxServersPerLookup). If the chosen section was ANSWER, the chain
// is complete and the child's Trace/NSSearchOnly flags are cleared.
// Returns nil if no NS records were found in either section.
func ChaseNS(l *lookup.Lookup, resp *dns.Msg) *lookup.Lookup {
	if !l.Policy.Trace && !l.Policy.NSSearchOnly {
		return nil
	}

	names, fromAnswer := nsNames(resp.Answer)
	if len(names) == 0 {
		names, _ = nsNames(resp.Ns)
		fromAnswer = false
	}
	if len(names) == 0 {
		return nil
	}
	if len(names) > MaxServersPerLookup {
		names = names[:MaxServersPerLookup]
	}

	child := l.CloneForFollowup()
	child.Policy.TraceRoot = false
	child.Servers = make([]lookup.Server, 0, len(names))
	for _, name := range names {
		child.Servers = append(child.Servers, lookup.Server{Name: name})
	}
	child.CurrentQueryIdx = 0
	child.Queries = nil

	if fromAnswer {
		child.Policy.Trace = false
		child.Policy.NSSearchOnly = false
	}
	return child
}

func nsNames(rrs []dns.RR) (names []string, found bool) {
	for _, rr := range rrs {
		if ns, ok := rr.(*dns.NS); ok {
			names = append(names, ns.Ns)
		}
	}
	return names, len(names) > 0
}

// TruncationRetry implements the truncation-retry half of the rule set
// that the response gate (spec.md §4.5) decides to invoke: it clones l
// into TCP mode, ready to re-enqueue in place of the UDP original.
func TruncationRetry(l *lookup.Lookup) *lookup.Lookup {
	child := l.CloneForFollowup()
	child.Policy.TCPMode = true
	return child
}
