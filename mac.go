package combivox

import (
	"fmt"
	"net"

	"github.com/j-keck/arping"
)

// MacAddress resolves the panel's hardware address over ARP. The panel
// exposes no serial number, so the MAC is the only stable identifier.
// Needs the cap_net_raw capability.
func MacAddress(ip string) (string, error) {
	hw, _, err := arping.Ping(net.ParseIP(ip))
	if err != nil {
		return "", fmt.Errorf("could not get the mac address: %w", err)
	}
	return hw.String(), nil
}
