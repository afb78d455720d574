package systemd_test

import (
	"testing"

	"github.com/ogulcanaydogan/cuemeter/internal/systemd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetListeners_NotActivated(t *testing.T) {
	t.Setenv("LISTEN_PID", "")
	t.Setenv("LISTEN_FDS", "")

	listeners, err := systemd.GetListeners()
	require.NoError(t, err)
	assert.False(t, listeners.Activated)
	assert.Nil(t, listeners.HTTP)
}

func TestListen_FallsBackToAddress(t *testing.T) {
	t.Setenv("LISTEN_PID", "")
	t.Setenv("LISTEN_FDS", "")

	ln, activated, err := systemd.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	assert.False(t, activated)
	assert.Contains(t, ln.Addr().String(), "127.0.0.1:")
}

func TestNotify_OutsideSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	assert.NoError(t, systemd.NotifyReady())
	assert.NoError(t, systemd.NotifyStopping())
}
