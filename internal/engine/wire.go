package engine

import (
	"dogengine/internal/lookup"
	"dogengine/internal/tsig"
	"dogengine/internal/xfr"

	"github.com/miekg/dns"
)

func newTSIGContext(key *tsig.Key) *tsig.Context {
	return tsig.NewContext(key)
}

func newXFRState(clientSerial uint32) *xfr.State {
	return xfr.NewState(clientSerial)
}

// signOrPack renders m, routing through the Lookup's TSIG context when
// one is bound so the wire bytes carry a signed TSIG RR.
func signOrPack(l *lookup.Lookup, m *dns.Msg) ([]byte, error) {
	if l.TSIGCtx != nil {
		return l.TSIGCtx.Sign(m)
	}
	return m.Pack()
}
