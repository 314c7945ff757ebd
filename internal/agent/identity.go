package agent

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Identity is the immutable per-process identity of this agent. The uuid is
// generated on first start, persisted next to the rest of the agent config
// and reused on every later start.
type Identity struct {
	Uuid      string
	Hostname  string
	IpAddress string
}

// LoadIdentity reads the persisted agent id from idFile, generating and
// writing a new one when the file does not exist yet.
func LoadIdentity(idFile string) (*Identity, error) {
	var id string
	if data, err := os.ReadFile(idFile); err == nil {
		id = strings.TrimSpace(string(data))
	}
	if id == "" {
		id = uuid.NewString()
		if err := os.WriteFile(idFile, []byte(id), 0600); err != nil {
			return nil, fmt.Errorf("persist agent id to %v: %w", idFile, err)
		}
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Identity{
		Uuid:      id,
		Hostname:  hostname,
		IpAddress: lookupIpAddress(),
	}, nil
}

// lookupIpAddress picks the first non-loopback IPv4 address, falling back
// to loopback when the host has none.
func lookupIpAddress() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}
	return "127.0.0.1"
}
