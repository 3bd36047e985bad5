package judgewire

import (
	"net"
)

// localIPs returns the addresses of every interface that is up, loopback
// included, so masters can reach the worker by any of them.
func localIPs() (ips []net.IP) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}

			// Link-local addresses are scoped to one interface and useless in a certificate
			if ip == nil || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
				continue
			}
			if v4 := ip.To4(); v4 != nil {
				ip = v4
			}

			ips = append(ips, ip)
		}
	}
	return
}
