package xfr

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func mustRR(t *testing.T, s string) dns.RR {
	rr, err := dns.NewRR(s)
	require.NoError(t, err)
	return rr
}

// The sequence below is the RFC 1995 IXFR example: two diff sequences
// (serial 1->2, then 2->3) framed by a leading and trailing SOA.
func rfc1995Sequence(t *testing.T) []dns.RR {
	lines := []string{
		"jain.ad.jp.         SOA NS.JAIN.AD.JP. mohta.jain.ad.jp. 3 600 600 3600000 604800",
		"jain.ad.jp.         SOA NS.JAIN.AD.JP. mohta.jain.ad.jp. 1 600 600 3600000 604800",
		"nezu.jain.ad.jp.    A   133.69.136.5",
		"jain.ad.jp.         SOA NS.JAIN.AD.JP. mohta.jain.ad.jp. 2 600 600 3600000 604800",
		"jain-bb.jain.ad.jp. A   133.69.136.4",
		"jain-bb.jain.ad.jp. A   192.41.197.2",
		"jain.ad.jp.         SOA NS.JAIN.AD.JP. mohta.jain.ad.jp. 2 600 600 3600000 604800",
		"jain-bb.jain.ad.jp. A   133.69.136.4",
		"jain.ad.jp.         SOA NS.JAIN.AD.JP. mohta.jain.ad.jp. 3 600 600 3600000 604800",
		"jain-bb.jain.ad.jp. A   133.69.136.3",
		"jain.ad.jp.         SOA NS.JAIN.AD.JP. mohta.jain.ad.jp. 3 600 600 3600000 604800",
	}
	rrs := make([]dns.RR, len(lines))
	for i, l := range lines {
		rrs[i] = mustRR(t, l)
	}
	return rrs
}

func TestStepIXFRRecognizesDiffSequenceAndTerminates(t *testing.T) {
	rrs := rfc1995Sequence(t)
	s := NewState(0)

	var outcome Outcome
	for i, rr := range rrs {
		outcome = s.Step(rr, 0)
		if i < len(rrs)-1 {
			require.Equal(t, OutcomeContinue, outcome, "RR %d should not terminate the stream", i)
		}
	}
	require.Equal(t, OutcomeDone, outcome)
	require.False(t, s.IsAXFR)
	require.Equal(t, uint32(1), s.FirstRRSerial)
	require.Equal(t, uint32(2), s.SecondRRSerial)
	require.Equal(t, len(rrs), s.RRCount)
}

func TestStepAXFRSimpleTwoSOADump(t *testing.T) {
	rrs := []dns.RR{
		mustRR(t, "example.com. SOA ns1.example.com. hostmaster.example.com. 100 600 600 3600000 604800"),
		mustRR(t, "example.com. A 192.0.2.1"),
		mustRR(t, "example.com. A 192.0.2.2"),
		mustRR(t, "example.com. NS ns1.example.com."),
		mustRR(t, "example.com. SOA ns1.example.com. hostmaster.example.com. 100 600 600 3600000 604800"),
	}
	s := NewState(0)

	var outcome Outcome
	for i, rr := range rrs {
		outcome = s.Step(rr, 0)
		if i < len(rrs)-1 {
			require.Equal(t, OutcomeContinue, outcome)
		}
	}
	require.Equal(t, OutcomeDone, outcome)
	require.True(t, s.IsAXFR)
	require.Equal(t, len(rrs), s.RRCount)
}

func TestStepIXFRWithCurrentSerialIsNothingToTransfer(t *testing.T) {
	soa := mustRR(t, "example.com. SOA ns1.example.com. hostmaster.example.com. 42 600 600 3600000 604800")
	s := NewState(42)

	outcome := s.Step(soa, 0)
	require.Equal(t, OutcomeDone, outcome)
	require.Equal(t, 1, s.RRCount)
}

func TestStepFailsWhenStreamDoesNotStartWithSOA(t *testing.T) {
	a := mustRR(t, "example.com. A 192.0.2.1")
	s := NewState(0)

	outcome := s.Step(a, 0)
	require.Equal(t, OutcomeFailed, outcome)
	require.Equal(t, PhaseFailed, s.Phase)
	require.Contains(t, s.FailReason, "SOA")
}

func TestStepRespectsRRLimit(t *testing.T) {
	rrs := []dns.RR{
		mustRR(t, "example.com. SOA ns1.example.com. hostmaster.example.com. 5 600 600 3600000 604800"),
		mustRR(t, "example.com. A 192.0.2.1"),
		mustRR(t, "example.com. A 192.0.2.2"),
	}
	s := NewState(0)

	require.Equal(t, OutcomeContinue, s.Step(rrs[0], 2))
	require.Equal(t, OutcomeLimitReached, s.Step(rrs[1], 2))
}

func TestStepTrivialIXFREmptyZoneUnchanged(t *testing.T) {
	serial := uint32(7)
	soa1 := mustRR(t, "example.com. SOA ns1.example.com. hostmaster.example.com. 7 600 600 3600000 604800")
	soa2 := mustRR(t, "example.com. SOA ns1.example.com. hostmaster.example.com. 7 600 600 3600000 604800")
	s := NewState(0)

	require.Equal(t, OutcomeContinue, s.Step(soa1, 0))
	outcome := s.Step(soa2, 0)
	require.Equal(t, OutcomeDone, outcome)
	require.Equal(t, serial, s.FirstRRSerial)
}
