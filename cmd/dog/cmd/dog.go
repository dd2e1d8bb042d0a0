// Package cmd is the dog CLI driver: argument parsing (+option,
// @server, rrtype, IXFR=serial) grounded on dog/cmd/dog.go, wiring
// internal/engine, internal/config, internal/logging, internal/present
// and internal/resolvconf together.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/miekg/dns"
	"github.com/spf13/cobra"

	"dogengine/internal/config"
	"dogengine/internal/engine"
	"dogengine/internal/followup"
	"dogengine/internal/logging"
	"dogengine/internal/lookup"
	"dogengine/internal/present"
	"dogengine/internal/resolvconf"
)

var (
	verbose bool
	debug   bool
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "dog",
	Short: "Asynchronous DNS query engine CLI",
	RunE:  run,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called once by main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose mode")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Debugging output")
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file")
}

func run(c *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	if cfg.Log.File != "" {
		logging.Setup(cfg.Log.File)
	} else {
		logging.SetupCLI(verbose, debug)
	}

	opts := newCLIOptions()
	opts.NDots = cfg.NDots
	opts.UDPSize = cfg.UDPSize

	var rrtype uint16
	var ixfrSerial uint32
	var queryNames []string

	for _, arg := range args {
		if debug {
			fmt.Printf("processing arg: %s\n", arg)
		}

		if strings.HasPrefix(arg, "@") || strings.Contains(arg, "://") {
			if err := parseServer(arg, opts); err != nil {
				return err
			}
			continue
		}

		upper := strings.ToUpper(arg)
		if t, ok := dns.StringToType[upper]; ok {
			rrtype = t
			continue
		}

		if serialStr, ok := strings.CutPrefix(upper, "IXFR="); ok {
			serial, err := strconv.Atoi(serialStr)
			if err != nil {
				return fmt.Errorf("invalid IXFR serial %q: %w", serialStr, err)
			}
			ixfrSerial = uint32(serial)
			rrtype = dns.TypeIXFR
			continue
		}

		if strings.HasPrefix(arg, "+") {
			if err := processOption(opts, arg); err != nil {
				return err
			}
			continue
		}

		queryNames = append(queryNames, arg)
	}

	if rrtype == 0 {
		rrtype = dns.TypeA
	}
	if len(queryNames) == 0 {
		return fmt.Errorf("no query name given")
	}

	rc, rcErr := loadResolvConf()

	defaultServer, err := defaultServerFromResolvConf(opts, rc, rcErr)
	if err != nil {
		return err
	}

	searchList := followup.SearchList{}
	if rc != nil && len(rc.Search) > 0 {
		for _, s := range rc.Search {
			searchList.Entries = append(searchList.Entries, lookup.SearchEntry{Origin: s})
		}
		searchList.UseSearch = true
	}

	setupOpts := engine.SetupOptions{
		Ndots:          opts.NDots,
		Search:         searchList,
		DefaultServer:  defaultServer,
		DefaultUDPSize: opts.UDPSize,
	}

	timeouts := engine.Timeouts{
		UDP:    cfg.UDPTimeout,
		TCP:    cfg.TCPTimeout,
		Server: cfg.ServerTimeout,
	}

	printer := &present.Printer{
		Out:      os.Stdout,
		Short:    opts.Short,
		Identify: opts.Identify,
		NSSearch: opts.NSSearch,
	}

	eng := engine.New(timeouts, cfg.Retries, cfg.RRLimit, cfg.LookupLimit, searchList, setupOpts, engine.Callbacks{
		OnTrying:   printer.OnTrying,
		OnMessage:  printer.OnMessage,
		OnReceived: printer.OnReceived,
		OnShutdown: printer.OnShutdown,
	})

	for _, qname := range queryNames {
		l := lookup.NewLookup(qname, rrtype, dns.ClassINET)
		l.Policy = opts.Policy
		l.Retries = cfg.Retries
		l.UDPSize = opts.UDPSize
		l.IXFRSerial = ixfrSerial
		for _, s := range opts.Servers {
			l.Servers = append(l.Servers, s.Clone())
		}
		eng.Seed(l)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		eng.CancelAll()
		cancel()
	}()

	return eng.Start(ctx)
}

// loadResolvConf reads and parses /etc/resolv.conf, grounded on
// dog/cmd/dog.go's ParseResolvConf fallback. A missing or unreadable file
// is reported to the caller rather than treated as "no search list" so
// defaultServerFromResolvConf can tell the two apart.
func loadResolvConf() (*resolvconf.Config, error) {
	f, err := os.Open("/etc/resolv.conf")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return resolvconf.Parse(f)
}

// defaultServerFromResolvConf fills in the default server from a parsed
// resolv.conf when no @server argument was given, and carries its ndots
// option forward unless +ndots= already overrode it on the command line.
func defaultServerFromResolvConf(opts *cliOptions, rc *resolvconf.Config, rcErr error) (lookup.Server, error) {
	if len(opts.Servers) > 0 {
		return opts.Servers[0], nil
	}
	if rcErr != nil {
		return lookup.Server{}, fmt.Errorf("no server specified and /etc/resolv.conf unreadable: %w", rcErr)
	}
	if opts.NDots == 1 {
		opts.NDots = rc.Ndots
	}
	return lookup.Server{Name: rc.Nameservers[0], Port: "53"}, nil
}
