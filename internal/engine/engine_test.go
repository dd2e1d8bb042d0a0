package engine

import (
	"context"
	"net"
	"testing"
	"time"

	"dogengine/internal/followup"
	"dogengine/internal/lookup"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// startUDPEchoServer answers every query with a fixed A record and
// returns the address to query.
func startUDPEchoServer(t *testing.T, answer string) string {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 512)
		for {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			req := new(dns.Msg)
			if err := req.Unpack(buf[:n]); err != nil {
				continue
			}
			resp := new(dns.Msg)
			resp.SetReply(req)
			rr, _ := dns.NewRR(req.Question[0].Name + " 300 IN A " + answer)
			resp.Answer = append(resp.Answer, rr)
			out, err := resp.Pack()
			if err != nil {
				continue
			}
			_, _ = conn.WriteTo(out, addr)
		}
	}()
	return conn.LocalAddr().String()
}

func TestEngineSeedAndStartResolvesOverUDP(t *testing.T) {
	addr := startUDPEchoServer(t, "203.0.113.9")
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	var gotMsg *dns.Msg
	e := New(DefaultTimeouts(), 3, 0, 20, followup.SearchList{}, testOpts(), Callbacks{
		OnMessage: func(l *lookup.Lookup, q *lookup.Query, resp *dns.Msg) {
			gotMsg = resp
		},
	})

	l := lookup.NewLookup("www.example.com.", dns.TypeA, dns.ClassINET)
	l.Servers = []lookup.Server{{Name: host, Port: port}}
	e.Seed(l)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, e.Start(ctx))

	require.NotNil(t, gotMsg)
	require.Len(t, gotMsg.Answer, 1)
	a, ok := gotMsg.Answer[0].(*dns.A)
	require.True(t, ok)
	require.Equal(t, "203.0.113.9", a.A.String())
	require.True(t, e.Shutdown())
}

func TestEngineRotatesToSecondServerOnTimeout(t *testing.T) {
	// First "server" is a closed UDP port (nothing listening) so the
	// first query times out quickly and rotates to the real server.
	deadConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := deadConn.LocalAddr().String()
	deadConn.Close()

	goodAddr := startUDPEchoServer(t, "198.51.100.7")
	goodHost, goodPort, err := net.SplitHostPort(goodAddr)
	require.NoError(t, err)
	deadHost, deadPort, err := net.SplitHostPort(deadAddr)
	require.NoError(t, err)

	var gotMsg *dns.Msg
	timeouts := DefaultTimeouts()
	timeouts.Server = 200 * time.Millisecond
	e := New(timeouts, 3, 0, 20, followup.SearchList{}, testOpts(), Callbacks{
		OnMessage: func(l *lookup.Lookup, q *lookup.Query, resp *dns.Msg) {
			gotMsg = resp
		},
	})

	l := lookup.NewLookup("www.example.com.", dns.TypeA, dns.ClassINET)
	l.Servers = []lookup.Server{{Name: deadHost, Port: deadPort}, {Name: goodHost, Port: goodPort}}
	e.Seed(l)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Start(ctx))

	require.NotNil(t, gotMsg)
	a, ok := gotMsg.Answer[0].(*dns.A)
	require.True(t, ok)
	require.Equal(t, "198.51.100.7", a.A.String())
}

func TestEngineSearchListAdvanceFollowsUpOnNXDOMAIN(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var seenNames []string
	go func() {
		buf := make([]byte, 512)
		for {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			req := new(dns.Msg)
			if err := req.Unpack(buf[:n]); err != nil {
				continue
			}
			seenNames = append(seenNames, req.Question[0].Name)
			resp := new(dns.Msg)
			resp.SetReply(req)
			if req.Question[0].Name == "host.example.net." {
				resp.Rcode = dns.RcodeSuccess
				rr, _ := dns.NewRR(req.Question[0].Name + " 300 IN A 192.0.2.50")
				resp.Answer = append(resp.Answer, rr)
			} else {
				resp.Rcode = dns.RcodeNameError
			}
			out, _ := resp.Pack()
			_, _ = conn.WriteTo(out, addr)
		}
	}()

	host, port, err := net.SplitHostPort(conn.LocalAddr().String())
	require.NoError(t, err)

	var final *dns.Msg
	sl := followup.SearchList{
		UseSearch: true,
		Entries: []lookup.SearchEntry{
			{Origin: "example.com."},
			{Origin: "example.net."},
		},
	}
	e := New(DefaultTimeouts(), 3, 0, 20, sl, testOpts(), Callbacks{
		OnMessage: func(l *lookup.Lookup, q *lookup.Query, resp *dns.Msg) {
			if resp.Rcode == dns.RcodeSuccess {
				final = resp
			}
		},
	})

	origin := "example.com."
	l := lookup.NewLookup("host", dns.TypeA, dns.ClassINET)
	l.Origin = &origin
	l.Servers = []lookup.Server{{Name: host, Port: port}}
	e.Seed(l)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, e.Start(ctx))

	require.NotNil(t, final)
	require.Contains(t, seenNames, "host.example.com.")
	require.Contains(t, seenNames, "host.example.net.")
}

func TestEngineReattachesCookieOnSecondLookup(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	const serverCookie = "0102030405060708"
	var sawClientCookieOnSecondQuery bool
	queryCount := 0
	go func() {
		buf := make([]byte, 512)
		for {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			req := new(dns.Msg)
			if err := req.Unpack(buf[:n]); err != nil {
				continue
			}
			queryCount++
			if queryCount == 2 {
				for _, rr := range req.Extra {
					if opt, ok := rr.(*dns.OPT); ok {
						for _, o := range opt.Option {
							if c, ok := o.(*dns.EDNS0_COOKIE); ok && c.Cookie != "" {
								sawClientCookieOnSecondQuery = true
							}
						}
					}
				}
			}

			resp := new(dns.Msg)
			resp.SetReply(req)
			rr, _ := dns.NewRR(req.Question[0].Name + " 300 IN A 192.0.2.77")
			resp.Answer = append(resp.Answer, rr)
			opt := &dns.OPT{Hdr: dns.RR_Header{Name: ".", Rrtype: dns.TypeOPT}}
			opt.SetUDPSize(1232)
			opt.Option = append(opt.Option, &dns.EDNS0_COOKIE{Code: dns.EDNS0COOKIE, Cookie: serverCookie})
			resp.Extra = append(resp.Extra, opt)
			out, _ := resp.Pack()
			_, _ = conn.WriteTo(out, addr)
		}
	}()

	host, port, err := net.SplitHostPort(conn.LocalAddr().String())
	require.NoError(t, err)

	e := New(DefaultTimeouts(), 3, 0, 20, followup.SearchList{}, testOpts(), Callbacks{})

	l1 := lookup.NewLookup("one.example.com.", dns.TypeA, dns.ClassINET)
	l1.Servers = []lookup.Server{{Name: host, Port: port}}
	e.Seed(l1)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, e.Start(ctx))

	l2 := lookup.NewLookup("two.example.com.", dns.TypeA, dns.ClassINET)
	l2.Servers = []lookup.Server{{Name: host, Port: port}}
	e.Seed(l2)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel2()
	require.NoError(t, e.Start(ctx2))

	require.True(t, sawClientCookieOnSecondQuery)
}
