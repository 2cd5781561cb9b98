// Package netwatch reports whether the host has a usable network link and
// waits for one to come up.
package netwatch

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"
)

// Monitor reports link state.
type Monitor interface {
	IsConnected() bool
}

// Interfaces checks the host interface table. With Name set only that
// interface counts; otherwise any interface will do.
type Interfaces struct {
	Name string
	// list is swapped out in tests.
	list func() ([]net.Interface, error)
}

// IsConnected reports whether a matching interface is up, is not a
// loopback, and carries at least one global unicast address.
func (m Interfaces) IsConnected() bool {
	list := m.list
	if list == nil {
		list = net.Interfaces
	}
	ifaces, err := list()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if m.Name != "" && iface.Name != m.Name {
			continue
		}
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if hasGlobalUnicast(iface) {
			return true
		}
	}
	return false
}

func hasGlobalUnicast(iface net.Interface) bool {
	addrs, err := iface.Addrs()
	if err != nil {
		return false
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.IsGlobalUnicast() {
			return true
		}
	}
	return false
}

// Always is a Monitor for hosts where the link is not ours to manage.
type Always struct{}

func (Always) IsConnected() bool { return true }

// WaitConnected polls m every interval until it reports a link, the
// timeout elapses, or ctx is done.
func WaitConnected(ctx context.Context, m Monitor, timeout, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	start := time.Now()
	for !m.IsConnected() {
		if timeout > 0 && time.Since(start) >= timeout {
			return fmt.Errorf("timed out connecting to network after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	log.Printf("[netwatch] connected after %s", time.Since(start).Round(time.Millisecond))
	return nil
}
