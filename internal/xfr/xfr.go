// Package xfr implements the zone-transfer stream consumer: the per-RR
// state machine that tells an AXFR or IXFR session apart and knows when
// the SOA-delimited stream is complete.
//
// Grounded on the SOA-delimited walk in the teacher's tdns/ixfr package
// (which distinguishes AXFR vs IXFR by inspecting the RR after the first
// SOA) and on tdns/dnsutils.go's ZoneTransferIn, which consumes a
// dns.Transfer envelope channel RR by RR.
package xfr

import "github.com/miekg/dns"

// Phase is the zone-transfer consumer's current position in the
// SOA-delimited stream.
type Phase int

const (
	// PhaseAwaitingFirstSOA is the initial state: no RR has been seen yet.
	PhaseAwaitingFirstSOA Phase = iota
	// PhaseOneSOASeen has consumed exactly the opening SOA.
	PhaseOneSOASeen
	// PhaseInAXFR is consuming a plain zone dump, delimited by a final SOA.
	PhaseInAXFR
	// PhaseInIXFR is consuming add/delete difference sequences.
	PhaseInIXFR
	// PhaseDone means the stream is complete; no more RRs are expected.
	PhaseDone
	// PhaseFailed means the stream violated the protocol (e.g. did not
	// start with SOA); the transfer is aborted.
	PhaseFailed
)

// State is the per-Query bookkeeping the consumer needs across RRs and,
// for TCP, across messages. It mirrors the XFR fields of the Query entity
// in the data model (first_soa_rcvd, first_rr_serial, second_rr_rcvd,
// second_rr_serial, first_repeat_rcvd).
type State struct {
	Phase Phase

	IsAXFR bool

	FirstRRSerial   uint32
	SecondRRRcvd    bool
	SecondRRSerial  uint32
	FirstRepeatRcvd bool

	// ClientSerial is the serial the client already holds; used to decide
	// "nothing to transfer" for IXFR requests.
	ClientSerial uint32

	// RRCount is the cumulative count of RRs consumed, for the transfer cap.
	RRCount int

	// FailReason is set when Phase == PhaseFailed.
	FailReason string
}

// NewState returns a fresh consumer for a transfer request that carries
// clientSerial (the IXFR base serial; pass 0 for AXFR).
func NewState(clientSerial uint32) *State {
	return &State{Phase: PhaseAwaitingFirstSOA, ClientSerial: clientSerial}
}

// Outcome is returned by Step for each RR processed.
type Outcome int

const (
	// OutcomeContinue means more RRs (and, if the socket has none
	// buffered, another message) are expected.
	OutcomeContinue Outcome = iota
	// OutcomeDone means the stream is complete; the RR that produced this
	// outcome was the closing RR and has already been counted.
	OutcomeDone
	// OutcomeFailed means the stream violated protocol; see State.FailReason.
	OutcomeFailed
	// OutcomeLimitReached means RRCount has reached the configured cap;
	// the caller should stop reading after this RR (exit code 7 territory).
	OutcomeLimitReached
)

// Step advances the state machine by one RR and returns what the caller
// should do next. rrLimit <= 0 means unbounded.
func (s *State) Step(rr dns.RR, rrLimit int) Outcome {
	s.RRCount++

	soa, isSOA := rr.(*dns.SOA)

	switch s.Phase {
	case PhaseAwaitingFirstSOA:
		if !isSOA {
			s.Phase = PhaseFailed
			s.FailReason = "didn't start with SOA"
			return OutcomeFailed
		}
		s.FirstRRSerial = soa.Serial
		if s.ClientSerial != 0 && serialGE(s.ClientSerial, s.FirstRRSerial) {
			// Client already has this serial or later: nothing to transfer.
			s.Phase = PhaseDone
			return OutcomeDone
		}
		s.Phase = PhaseOneSOASeen

	case PhaseOneSOASeen:
		switch {
		case !isSOA:
			// This is an AXFR: the second RR is ordinary zone data.
			s.IsAXFR = true
			s.SecondRRRcvd = true
			s.SecondRRSerial = 0
			s.Phase = PhaseInAXFR
		case soa.Serial == s.FirstRRSerial:
			// Trivial IXFR: the zone is already at this serial, empty diff.
			s.Phase = PhaseDone
			return OutcomeDone
		default:
			// This is an IXFR: the second SOA begins the first diff sequence.
			s.IsAXFR = false
			s.SecondRRRcvd = true
			s.SecondRRSerial = soa.Serial
			s.Phase = PhaseInIXFR
		}

	case PhaseInAXFR:
		if isSOA {
			s.Phase = PhaseDone
			return OutcomeDone
		}

	case PhaseInIXFR:
		if isSOA {
			if soa.Serial == s.FirstRRSerial {
				if s.FirstRepeatRcvd {
					s.Phase = PhaseDone
					return OutcomeDone
				}
				s.FirstRepeatRcvd = true
			}
			// Any other SOA serial is a meaningless intermediate boundary.
		}

	case PhaseDone, PhaseFailed:
		// No further RRs should arrive once terminal; treat defensively
		// as a protocol failure rather than panic.
		s.Phase = PhaseFailed
		s.FailReason = "RR received after transfer already terminated"
		return OutcomeFailed
	}

	if rrLimit > 0 && s.RRCount >= rrLimit {
		return OutcomeLimitReached
	}
	return OutcomeContinue
}

// serialGE implements RFC 1982 serial number arithmetic: true if a >= b.
const serialSpace = int64(1) << 31

func serialGE(a, b uint32) bool {
	if a == b {
		return true
	}
	diff := int32(a - b)
	return diff > 0 && int64(diff) < serialSpace
}
