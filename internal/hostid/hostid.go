package hostid

import (
	"fmt"
	"net"
	"strings"

	"github.com/rs/zerolog/log"
)

// preferred interfaces, in order
var preferred = []string{"wlan0", "eth0"}

// interfaces lists the network interfaces. Tests replace it.
var interfaces = net.Interfaces

// Derive returns override when set, otherwise the hardware address of the preferred
// interface as lower-case hex without separators.
func Derive(override string) (string, error) {
	if override != "" {
		return override, nil
	}

	ifaces, err := interfaces()
	if err != nil {
		return "", fmt.Errorf("list interfaces: %w", err)
	}

	byName := map[string]net.Interface{}
	for _, iface := range ifaces {
		byName[iface.Name] = iface
	}
	for _, name := range preferred {
		if iface, ok := byName[name]; ok && len(iface.HardwareAddr) > 0 {
			return fromInterface(iface), nil
		}
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback == 0 && len(iface.HardwareAddr) > 0 {
			return fromInterface(iface), nil
		}
	}
	return "", fmt.Errorf("no interface with a hardware address")
}

// HardwareAddr returns the address Derive would use, in colon form, for access
// password derivation.
func HardwareAddr() (string, error) {
	id, err := Derive("")
	if err != nil {
		return "", err
	}
	var parts []string
	for i := 0; i+1 < len(id); i += 2 {
		parts = append(parts, id[i:i+2])
	}
	return strings.Join(parts, ":"), nil
}

func fromInterface(iface net.Interface) string {
	id := strings.ReplaceAll(strings.ToLower(iface.HardwareAddr.String()), ":", "")
	log.Debug().Str("interface", iface.Name).Str("host_id", id).Msg("Host id derived")
	return id
}
