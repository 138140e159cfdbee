package server

import (
	"net"
	"sort"
)

// LocalAddresses returns the non-loopback IPv4 addresses of this host,
// sorted, falling back to 127.0.0.1 when none are found. Producers point
// their stream at one of these.
func LocalAddresses() []string {
	var addrs []string

	ifaces, err := net.Interfaces()
	if err != nil {
		return []string{"127.0.0.1"}
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		ifaceAddrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range ifaceAddrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip := ipNet.IP.To4(); ip != nil && !ip.IsLoopback() {
				addrs = append(addrs, ip.String())
			}
		}
	}

	if len(addrs) == 0 {
		return []string{"127.0.0.1"}
	}

	sort.Strings(addrs)
	return addrs
}
