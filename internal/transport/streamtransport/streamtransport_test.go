package streamtransport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cisessiond/internal/session"
)

func TestServeDeliversDataAndClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	tr := New()
	events := make(chan struct {
		reason session.CallbackReason
		data   []byte
	}, 8)
	tr.RegisterCallback(func(reason session.CallbackReason, data []byte, slotID, connID uint8) {
		events <- struct {
			reason session.CallbackReason
			data   []byte
		}{reason, data}
	})
	go tr.Serve(ln, 1)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	_, err = conn.Write([]byte{0x91, 0x04, 0x00, 0x01, 0x00, 0x41})
	require.NoError(t, err)

	select {
	case ev := <-events:
		require.Equal(t, session.ReasonData, ev.reason)
		require.Equal(t, []byte{0x91, 0x04, 0x00, 0x01, 0x00, 0x41}, ev.data)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for data event")
	}

	conn.Close()

	select {
	case ev := <-events:
		require.Equal(t, session.ReasonConnectionClose, ev.reason)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close event")
	}
}

func TestSendDataRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	tr := New()
	tr.RegisterCallback(func(reason session.CallbackReason, data []byte, slotID, connID uint8) {})
	go tr.Serve(ln, 2)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// Give Serve's accept goroutine a moment to register the connection.
	time.Sleep(50 * time.Millisecond)

	err = tr.SendData(2, 0, []byte{0xAA, 0xBB})
	require.NoError(t, err)

	buf := make([]byte, 2)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, []byte{0xAA, 0xBB}, buf[:n])
}

func TestSendDataUnknownConnection(t *testing.T) {
	tr := New()
	err := tr.SendData(9, 9, []byte{0x01})
	require.Error(t, err)
}
