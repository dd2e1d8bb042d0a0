package cmd

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"dogengine/internal/lookup"
)

// cliOptions accumulates the query-shaping state +option/@server/rrtype
// arguments build up before a Lookup is seeded, mirroring the options
// map dog/cmd/dog.go threads through ProcessOptions/ParseServer.
type cliOptions struct {
	Policy   lookup.Policy
	Servers  []lookup.Server
	NDots    int
	UDPSize  uint16
	Identify bool
	NSSearch bool
	Short    bool
}

func newCLIOptions() *cliOptions {
	return &cliOptions{
		Policy: lookup.Policy{Recurse: true, ServfailStops: true},
		NDots:  1,
	}
}

// processOption applies one "+option" argument, dig-style, to opts.
// Grounded on dog/cmd/dog.go's ProcessOptions switch; the option names
// here follow the original dig conventions that ProcessOptions itself
// only implements a handful of (tls/doh/doq/multi/compact/deleg), since
// this engine's supported Policy surface is wider.
func processOption(opts *cliOptions, arg string) error {
	lower := strings.ToLower(arg)
	switch lower {
	case "+recurse":
		opts.Policy.Recurse = true
		return nil
	case "+norecurse":
		opts.Policy.Recurse = false
		return nil
	case "+aaonly", "+aa":
		opts.Policy.AAOnly = true
		return nil
	case "+adflag":
		opts.Policy.AD = true
		return nil
	case "+noadflag":
		opts.Policy.AD = false
		return nil
	case "+cdflag":
		opts.Policy.CD = true
		return nil
	case "+nocdflag":
		opts.Policy.CD = false
		return nil
	case "+dnssec":
		opts.Policy.DNSSEC = true
		return nil
	case "+tcp", "+vc":
		opts.Policy.TCPMode = true
		return nil
	case "+ignore":
		opts.Policy.IgnoreTC = true
		return nil
	case "+trace":
		opts.Policy.Trace = true
		opts.Policy.TraceRoot = true
		return nil
	case "+nssearch":
		opts.Policy.NSSearchOnly = true
		opts.NSSearch = true
		return nil
	case "+fail":
		opts.Policy.ServfailStops = true
		return nil
	case "+nofail":
		opts.Policy.ServfailStops = false
		return nil
	case "+besteffort":
		opts.Policy.BestEffort = true
		return nil
	case "+nibble":
		opts.Policy.Nibble = true
		return nil
	case "+identify":
		opts.Policy.Identify = true
		opts.Identify = true
		return nil
	case "+defname":
		opts.Policy.Defname = true
		return nil
	case "+nodefname":
		opts.Policy.Defname = false
		return nil
	case "+short":
		opts.Short = true
		return nil
	}

	if n, ok := strings.CutPrefix(lower, "+ndots="); ok {
		v, err := strconv.Atoi(n)
		if err != nil {
			return fmt.Errorf("invalid +ndots value %q: %w", n, err)
		}
		opts.NDots = v
		return nil
	}
	if n, ok := strings.CutPrefix(lower, "+bufsize="); ok {
		v, err := strconv.Atoi(n)
		if err != nil {
			return fmt.Errorf("invalid +bufsize value %q: %w", n, err)
		}
		opts.UDPSize = uint16(v)
		return nil
	}

	return fmt.Errorf("unknown option: %s", arg)
}

// parseServer parses an "@server" or scheme-qualified server argument
// ("tcp://1.2.3.4:53") into a lookup.Server, appended to opts.Servers.
// Grounded on dog/cmd/dog.go's ParseServer, trimmed to the transports
// this engine actually speaks: plain Do53 over UDP or TCP.
func parseServer(arg string, opts *cliOptions) error {
	serverArg := strings.TrimPrefix(arg, "@")

	host := serverArg
	port := ""
	if strings.Contains(serverArg, "://") {
		u, err := url.Parse(serverArg)
		if err != nil {
			return fmt.Errorf("invalid server URL %q: %w", serverArg, err)
		}
		switch strings.ToLower(u.Scheme) {
		case "tcp":
			opts.Policy.TCPMode = true
		case "dns", "do53", "udp":
		default:
			return fmt.Errorf("unsupported transport scheme %q (this engine speaks plain DNS only)", u.Scheme)
		}
		host = u.Host
	}

	if strings.Contains(host, ":") {
		if h, p, err := net.SplitHostPort(host); err == nil {
			host, port = h, p
		}
		// else: bare IPv6 literal with no port, e.g. "::1" — keep as is.
	}

	if host == "" {
		return fmt.Errorf("empty host in server specification %q", arg)
	}
	opts.Servers = append(opts.Servers, lookup.Server{Name: host, Port: port})
	return nil
}
