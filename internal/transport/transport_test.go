package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSameFamily(t *testing.T) {
	require.True(t, SameFamily(nil, net.ParseIP("192.0.2.1")))
	require.True(t, SameFamily(net.ParseIP("192.0.2.53"), net.ParseIP("192.0.2.1")))
	require.True(t, SameFamily(net.ParseIP("2001:db8::53"), net.ParseIP("2001:db8::1")))
	require.False(t, SameFamily(net.ParseIP("192.0.2.53"), net.ParseIP("2001:db8::1")))
	require.False(t, SameFamily(net.ParseIP("2001:db8::53"), net.ParseIP("192.0.2.1")))
}

func TestWriteThenReadFramedRoundTrips(t *testing.T) {
	server, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	done := make(chan []byte, 1)
	go func() {
		conn, err := server.Accept()
		if err != nil {
			done <- nil
			return
		}
		defer conn.Close()
		body, err := ReadFramed(conn)
		if err != nil {
			done <- nil
			return
		}
		done <- body
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := DialTCP(ctx, "tcp", server.Addr().String(), nil)
	require.NoError(t, err)
	defer client.Close()

	payload := []byte("a small DNS message body")
	require.NoError(t, WriteFramed(client, payload))

	select {
	case got := <-done:
		require.Equal(t, payload, got)
	case <-time.After(2 * time.Second):
		t.Fatal("server never read the framed message")
	}
}

func TestWriteFramedRejectsMessageTooLargeForThePrefix(t *testing.T) {
	server, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()
	go func() {
		conn, err := server.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := DialTCP(ctx, "tcp", server.Addr().String(), nil)
	require.NoError(t, err)
	defer client.Close()

	oversize := make([]byte, 0x10000)
	err = WriteFramed(client, oversize)
	require.Error(t, err)
	var overflow *LengthOverflow
	require.ErrorAs(t, err, &overflow)
}
