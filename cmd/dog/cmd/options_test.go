package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProcessOptionSetsPolicyFlags(t *testing.T) {
	opts := newCLIOptions()
	require.NoError(t, processOption(opts, "+dnssec"))
	require.NoError(t, processOption(opts, "+tcp"))
	require.NoError(t, processOption(opts, "+norecurse"))
	require.True(t, opts.Policy.DNSSEC)
	require.True(t, opts.Policy.TCPMode)
	require.False(t, opts.Policy.Recurse)
}

func TestProcessOptionTraceSetsBothTraceFlags(t *testing.T) {
	opts := newCLIOptions()
	require.NoError(t, processOption(opts, "+trace"))
	require.True(t, opts.Policy.Trace)
	require.True(t, opts.Policy.TraceRoot)
}

func TestProcessOptionParsesNdotsValue(t *testing.T) {
	opts := newCLIOptions()
	require.NoError(t, processOption(opts, "+ndots=3"))
	require.Equal(t, 3, opts.NDots)
}

func TestProcessOptionRejectsUnknown(t *testing.T) {
	opts := newCLIOptions()
	require.Error(t, processOption(opts, "+not-a-real-option"))
}

func TestParseServerPlainHostPort(t *testing.T) {
	opts := newCLIOptions()
	require.NoError(t, parseServer("@192.0.2.53:5353", opts))
	require.Len(t, opts.Servers, 1)
	require.Equal(t, "192.0.2.53", opts.Servers[0].Name)
	require.Equal(t, "5353", opts.Servers[0].Port)
}

func TestParseServerSchemeQualifiedSetsTCP(t *testing.T) {
	opts := newCLIOptions()
	require.NoError(t, parseServer("tcp://192.0.2.53", opts))
	require.True(t, opts.Policy.TCPMode)
	require.Equal(t, "192.0.2.53", opts.Servers[0].Name)
}

func TestParseServerRejectsUnsupportedScheme(t *testing.T) {
	opts := newCLIOptions()
	require.Error(t, parseServer("doh://192.0.2.53", opts))
}
