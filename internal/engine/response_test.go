package engine

import (
	"context"
	"net"
	"testing"
	"time"

	"dogengine/internal/lookup"
	"dogengine/internal/tsig"
	"dogengine/internal/transport"
	"dogengine/internal/xfr"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// signedAXFRMessage builds one framed, TSIG-signed AXFR response message
// carrying rrs, chaining the continuation MAC through srvCtx exactly as a
// real multi-message transfer would.
func signedAXFRMessage(t *testing.T, srvCtx *tsig.Context, qname string, rrs ...dns.RR) []byte {
	m := new(dns.Msg)
	m.SetReply(&dns.Msg{MsgHdr: dns.MsgHdr{Id: 1}, Question: []dns.Question{{Name: qname, Qtype: dns.TypeAXFR, Qclass: dns.ClassINET}}})
	m.Answer = rrs
	srvCtx.Bind(m)
	buf, err := srvCtx.Sign(m)
	require.NoError(t, err)
	return buf
}

// TestConsumeXFRStreamVerifiesEveryMessageNotJustTheLast is grounded on
// the review's finding that only the final framed message of a transfer
// was ever fed to the TSIG verifier: it streams three signed AXFR
// messages and checks the continuation chain stays valid across all of
// them, which only happens if Verify ran on each one in order.
func TestConsumeXFRStreamVerifiesEveryMessageNotJustTheLast(t *testing.T) {
	key := &tsig.Key{Name: "axfr-key.", Algorithm: dns.HmacSHA256, Secret: "dGVzdHNlY3JldGRvZ2VuZ2luZQ=="}

	qname := "zone.example.com."
	soa := &dns.SOA{Hdr: dns.RR_Header{Name: qname, Rrtype: dns.TypeSOA, Class: dns.ClassINET, Ttl: 300}, Serial: 5, Ns: "ns1." + qname, Mbox: "hostmaster." + qname}
	a, err := dns.NewRR(qname + " 300 IN A 192.0.2.1")
	require.NoError(t, err)
	closingSOA := &dns.SOA{Hdr: dns.RR_Header{Name: qname, Rrtype: dns.TypeSOA, Class: dns.ClassINET, Ttl: 300}, Serial: 5, Ns: "ns1." + qname, Mbox: "hostmaster." + qname}

	srvCtx := tsig.NewContext(key)
	msg1 := signedAXFRMessage(t, srvCtx, qname, soa)
	msg2 := signedAXFRMessage(t, srvCtx, qname, a)
	msg3 := signedAXFRMessage(t, srvCtx, qname, closingSOA)

	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close(); serverConn.Close() })

	go func() {
		// Drain the client's outgoing query before streaming the transfer.
		_, _ = transport.ReadFramed(serverConn)
		for _, buf := range [][]byte{msg1, msg2, msg3} {
			if err := transport.WriteFramed(serverConn, buf); err != nil {
				return
			}
		}
	}()

	require.NoError(t, transport.WriteFramed(clientConn, []byte("query-placeholder")))

	l := lookup.NewLookup(qname, dns.TypeAXFR, dns.ClassINET)
	l.TSIGKey = key
	l.TSIGCtx = tsig.NewContext(key)
	q := &lookup.Query{XFR: xfr.NewState(0)}

	e := &Engine{}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	buf, err := e.consumeXFRStream(ctx, l, q, clientConn)
	require.NoError(t, err)
	require.NotNil(t, buf)

	require.True(t, l.TSIGCtx.Valid, "every streamed message must verify, not just the last")
	require.Equal(t, xfr.PhaseDone, q.XFR.Phase)
}
