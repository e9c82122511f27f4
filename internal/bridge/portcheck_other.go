//go:build !linux

package bridge

import (
	"net"
	"strconv"
	"time"
)

const probeDialTimeout = 200 * time.Millisecond

func portListening(host string, port int) (bool, error) {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), probeDialTimeout)
	if err != nil {
		return false, nil
	}
	_ = conn.Close()
	return true, nil
}
