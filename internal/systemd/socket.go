package systemd

import (
	"fmt"
	"net"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/coreos/go-systemd/v22/daemon"
)

// HTTPSocketName is the FileDescriptorName= of the API socket in cuemeter.socket.
const HTTPSocketName = "http"

// Listeners holds systemd-activated listeners.
type Listeners struct {
	HTTP      net.Listener
	Activated bool
}

// GetListeners retrieves socket-activated file descriptors. It returns
// empty listeners when not running under socket activation.
func GetListeners() (*Listeners, error) {
	listeners := &Listeners{}

	fds := activation.Files(false) // leaves LISTEN_* set for ListenersWithNames
	if len(fds) == 0 {
		return listeners, nil
	}
	listeners.Activated = true

	named, err := activation.ListenersWithNames()
	if err != nil {
		return nil, fmt.Errorf("get systemd listeners: %w", err)
	}
	if lns, ok := named[HTTPSocketName]; ok && len(lns) > 0 {
		listeners.HTTP = lns[0]
	}
	return listeners, nil
}

// Listen returns the socket-activated API listener, or binds addr.
func Listen(addr string) (net.Listener, bool, error) {
	listeners, err := GetListeners()
	if err != nil {
		return nil, false, err
	}
	if listeners.HTTP != nil {
		return listeners.HTTP, true, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, false, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return ln, false, nil
}

// NotifyReady tells systemd the service finished starting. It is a no-op
// outside systemd.
func NotifyReady() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		return fmt.Errorf("send sd_notify ready: %w", err)
	}
	return nil
}

// NotifyStopping tells systemd the service is shutting down.
func NotifyStopping() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		return fmt.Errorf("send sd_notify stopping: %w", err)
	}
	return nil
}
