// Package netcheck guesses whether direct media paths are likely to fail on
// this host, in which case the call should go through TURN only.
package netcheck

import (
	"net"
	"strings"
)

// Carrier grade NAT range, also used by WARP and Tailscale.
var cgnat = mustCIDR("100.64.0.0/10")

var tunnelNames = []string{"tun", "tap", "wg", "ppp", "warp", "utun"}

// Interface is the part of a network interface the check looks at.
type Interface struct {
	Name     string
	Up       bool
	Loopback bool
	Addrs    []net.IP
}

// ShouldForceRelay reports whether the host looks to be behind a VPN tunnel
// or CGNAT. The reason names the interface that decided it.
func ShouldForceRelay() (bool, string) {
	ifaces, err := systemInterfaces()
	if err != nil {
		return false, ""
	}
	return Restricted(ifaces)
}

// Restricted applies the check to ifaces.
func Restricted(ifaces []Interface) (bool, string) {
	for _, iface := range ifaces {
		if !iface.Up || iface.Loopback {
			continue
		}

		name := strings.ToLower(iface.Name)
		for _, t := range tunnelNames {
			if strings.Contains(name, t) {
				return true, "tunnel interface " + iface.Name
			}
		}

		for _, ip := range iface.Addrs {
			if cgnat.Contains(ip) {
				return true, "CGNAT address " + ip.String() + " on " + iface.Name
			}
		}
	}
	return false, ""
}

func systemInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	out := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		info := Interface{
			Name:     iface.Name,
			Up:       iface.Flags&net.FlagUp != 0,
			Loopback: iface.Flags&net.FlagLoopback != 0,
		}
		addrs, err := iface.Addrs()
		if err == nil {
			for _, addr := range addrs {
				switch v := addr.(type) {
				case *net.IPNet:
					info.Addrs = append(info.Addrs, v.IP)
				case *net.IPAddr:
					info.Addrs = append(info.Addrs, v.IP)
				}
			}
		}
		out = append(out, info)
	}
	return out, nil
}

func mustCIDR(s string) *net.IPNet {
	_, block, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return block
}
