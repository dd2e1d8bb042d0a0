// Package present renders the engine's callback notifications
// (on_trying/on_message/on_received/on_shutdown, spec.md §6.4) to an
// io.Writer in the dig/tdns style, grounded on tdns/rr_print.go's
// MsgPrint: header line, flags, per-section RR dump, trailer with
// server/wall-clock time/message size.
package present

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/miekg/dns"

	"dogengine/internal/lookup"
)

// Printer renders one lookup session's worth of callback notifications.
// Its methods match internal/engine.Callbacks' field signatures so a
// driver wires them in directly without this package importing engine.
type Printer struct {
	Out io.Writer

	// Short suppresses everything but the answer RRs themselves, the
	// way dig's +short does.
	Short bool

	// Identify prefixes the answer section with which server actually
	// answered, the supplemented "+identify" behavior from
	// original_source/bin/dig/dighost.c.
	Identify bool

	// NSSearch prints one summary line per server tried instead of the
	// full message dump, the supplemented "+nssearch" behavior.
	NSSearch bool
}

// OnTrying logs which server a query is about to be sent to. dig only
// surfaces this in debug output; kept terse here to match that texture.
func (p *Printer) OnTrying(l *lookup.Lookup, q *lookup.Query) {
	if p.NSSearch || p.Short {
		return
	}
	fmt.Fprintf(p.Out, ";; Trying %s\n", q.ServerName)
}

// OnReceived reports a completed round trip, mirroring dighost.c's
// received() helper ("Received NNN bytes from ADDR#PORT in T ms").
func (p *Printer) OnReceived(l *lookup.Lookup, q *lookup.Query, rtt time.Duration) {
	if p.NSSearch {
		fmt.Fprintf(p.Out, "%s (%s): %d msec\n", q.ServerName, q.Addr, rtt.Milliseconds())
		return
	}
	if p.Short {
		return
	}
	fmt.Fprintf(p.Out, ";; Received response from %s in %d msec\n", q.Addr, rtt.Milliseconds())
}

// OnMessage prints the full response, the way MsgPrint does, or just the
// answer RRs in +short mode.
func (p *Printer) OnMessage(l *lookup.Lookup, q *lookup.Query, resp *dns.Msg) {
	if p.NSSearch {
		return // the one-line summary already went out via OnReceived
	}
	if p.Short {
		for _, rr := range resp.Answer {
			fmt.Fprintf(p.Out, "%s\n", rr.String())
		}
		return
	}
	p.printFull(l, q, resp)
}

// OnShutdown marks the end of a driving session.
func (p *Printer) OnShutdown() {
	if p.NSSearch || p.Short {
		return
	}
	fmt.Fprintf(p.Out, ";; Session complete\n")
}

func (p *Printer) printFull(l *lookup.Lookup, q *lookup.Query, resp *dns.Msg) {
	flags := flagString(resp)
	fmt.Fprintf(p.Out, ";; opcode: %s, status: %s, id: %d\n",
		dns.OpcodeToString[resp.Opcode], dns.RcodeToString[resp.Rcode], resp.Id)
	fmt.Fprintf(p.Out, ";; flags:%s; QUERY: %d, ANSWER: %d, AUTHORITY: %d, ADDITIONAL: %d\n",
		flags, len(resp.Question), len(resp.Answer), len(resp.Ns), len(resp.Extra))

	fmt.Fprintf(p.Out, "\n;; QUESTION SECTION:\n")
	for _, q := range resp.Question {
		fmt.Fprintf(p.Out, "%s\n", q.String())
	}

	if p.Identify && len(resp.Answer) > 0 {
		fmt.Fprintf(p.Out, "\n;; ANSWER SECTION: (answered by %s)\n", q.ServerName)
	} else {
		fmt.Fprintf(p.Out, "\n;; ANSWER SECTION:\n")
	}
	for _, rr := range resp.Answer {
		fmt.Fprintf(p.Out, "%s\n", rr.String())
	}

	fmt.Fprintf(p.Out, "\n;; AUTHORITY SECTION:\n")
	for _, rr := range resp.Ns {
		fmt.Fprintf(p.Out, "%s\n", rr.String())
	}

	fmt.Fprintf(p.Out, "\n;; ADDITIONAL SECTION:\n")
	for _, rr := range resp.Extra {
		fmt.Fprintf(p.Out, "%s\n", rr.String())
	}

	buf, _ := resp.Pack()
	fmt.Fprintf(p.Out, "\n;; SERVER: %s\n", q.Addr)
	fmt.Fprintf(p.Out, ";; WHEN: %s\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(p.Out, ";; MSG SIZE  rcvd: %d\n\n", len(buf))
}

func flagString(m *dns.Msg) string {
	var f []string
	if m.Response {
		f = append(f, "qr")
	}
	if m.Authoritative {
		f = append(f, "aa")
	}
	if m.RecursionDesired {
		f = append(f, "rd")
	}
	if m.RecursionAvailable {
		f = append(f, "ra")
	}
	if m.AuthenticatedData {
		f = append(f, "ad")
	}
	if m.CheckingDisabled {
		f = append(f, "cd")
	}
	if m.Truncated {
		f = append(f, "tc")
	}
	if len(f) == 0 {
		return ""
	}
	return " " + strings.Join(f, " ")
}
