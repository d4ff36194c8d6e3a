package systemd

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "datastash/pkg/logx"
)

func TestNoSocketIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	sent, err := Ready()
	require.NoError(t, err)
	assert.False(t, sent)
}

func TestNotifyMessages(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: sock, Net: "unixgram"})
	require.NoError(t, err)
	defer conn.Close()
	t.Setenv("NOTIFY_SOCKET", sock)

	read := func() string {
		buf := make([]byte, 256)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		n, err := conn.Read(buf)
		require.NoError(t, err)
		return string(buf[:n])
	}

	sent, err := Ready()
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, "READY=1", read())

	_, err = Status("%d runs queued", 2)
	require.NoError(t, err)
	assert.Equal(t, "STATUS=2 runs queued", read())

	_, err = Stopping()
	require.NoError(t, err)
	assert.Equal(t, "STOPPING=1", read())
}

func TestWatchdogDisabledReturns(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	done := make(chan struct{})
	go func() {
		Watchdog(context.Background(), logx.Nop())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not return")
	}
}
