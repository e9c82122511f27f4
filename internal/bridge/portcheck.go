package bridge

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// PortProbe reports whether something is listening on host:port. A probe
// that cannot tell should report true and let the dial decide.
type PortProbe func(host string, port int) bool

// probeListener is the default PortProbe.
func probeListener(host string, port int) bool {
	listening, err := portListening(host, port)
	if err != nil {
		return true
	}
	return listening
}

// tcpListen is the socket state code for LISTEN in /proc/net/tcp.
const tcpListen = "0A"

// parseProcNetTCP scans a /proc/net/tcp style table for a socket in LISTEN
// state on port.
func parseProcNetTCP(r io.Reader, port int) (bool, error) {
	want := fmt.Sprintf("%04X", port)

	sc := bufio.NewScanner(r)
	header := true
	for sc.Scan() {
		if header {
			header = false
			continue
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}
		if fields[3] != tcpListen {
			continue
		}
		local := fields[1]
		idx := strings.LastIndexByte(local, ':')
		if idx < 0 {
			continue
		}
		if strings.EqualFold(local[idx+1:], want) {
			return true, nil
		}
	}
	if err := sc.Err(); err != nil {
		return false, fmt.Errorf("scan socket table: %w", err)
	}
	return false, nil
}

func validPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid monitor port %d", port)
	}
	return nil
}
