// Package resolvconf parses resolv.conf-style configuration: nameserver
// lines, the search list, a fixed domain, and the ndots option
// (spec.md §6.2). Parsing itself is a driver-layer concern — grounded on
// dog/cmd/dog.go#ParseResolvConf's /etc/resolv.conf reader, generalized
// here to cover search/domain/ndots, which that teacher function never
// needed for its single-nameserver use case.
package resolvconf

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// Config is the engine-consumable result of parsing a resolv.conf-style
// input (spec.md §6.2).
type Config struct {
	Nameservers []string
	Search      []string
	Domain      string
	Ndots       int
}

// Parse reads resolv.conf-style text from r. Defaults match spec.md
// §6.2: ndots defaults to 1 if not set, and an empty nameserver list
// defaults to 127.0.0.1. If both domain and search appear, domain wins
// and is prepended to the search list.
func Parse(r io.Reader) (*Config, error) {
	cfg := &Config{Ndots: 1}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "nameserver":
			cfg.Nameservers = append(cfg.Nameservers, fields[1])
		case "domain":
			cfg.Domain = fields[1]
		case "search":
			cfg.Search = append(cfg.Search, fields[1:]...)
		case "options":
			for _, opt := range fields[1:] {
				if n, ok := strings.CutPrefix(opt, "ndots:"); ok {
					if v, err := strconv.Atoi(n); err == nil {
						cfg.Ndots = v
					}
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if cfg.Domain != "" {
		cfg.Search = append([]string{cfg.Domain}, cfg.Search...)
	}
	if len(cfg.Nameservers) == 0 {
		cfg.Nameservers = []string{"127.0.0.1"}
	}
	return cfg, nil
}
