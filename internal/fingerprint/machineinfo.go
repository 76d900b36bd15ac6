// Package fingerprint collects a best-effort machine identity used both to
// mint registration requests on the agent side and to decide machine
// equality on the authority side. It never shells out to an external
// process; everything is read directly from the network stack and the
// filesystem, which is sufficient on the Linux hosts this fabric targets.
package fingerprint

import (
	"net"
	"os"
	"strings"
)

// MachineInfo is the fingerprint data carried in register requests.
type MachineInfo struct {
	IPAddresses  []string `json:"ipAddress"`
	MACAddresses []string `json:"macAddress"`
	MachineID    string   `json:"machineId,omitempty"`
	SystemUUID   string   `json:"systemUuid,omitempty"`
	Hostname     string   `json:"hostname,omitempty"`
}

// Equal implements the identity predicate from the data model: machineId
// equality wins if both sides have one set; otherwise any shared MAC address
// counts as a match; otherwise the machines are considered distinct.
func (m MachineInfo) Equal(other MachineInfo) bool {
	if m.MachineID != "" && other.MachineID != "" {
		return m.MachineID == other.MachineID
	}
	for _, mac := range m.MACAddresses {
		for _, otherMAC := range other.MACAddresses {
			if mac != "" && mac == otherMAC {
				return true
			}
		}
	}
	return false
}

// linuxMachineIDPath and dmiProductUUIDPath are overridable in tests.
var (
	linuxMachineIDPath = "/etc/machine-id"
	dmiProductUUIDPath = "/sys/class/dmi/id/product_uuid"
)

// Collect probes the local host for a MachineInfo snapshot. Every source is
// best-effort: a source that isn't available on this platform (or isn't
// readable, e.g. the DMI product UUID is often root-only) is simply left
// empty rather than failing the whole collection.
func Collect() MachineInfo {
	info := MachineInfo{}

	ifaces, err := net.Interfaces()
	if err == nil {
		for _, iface := range ifaces {
			if iface.Flags&net.FlagLoopback != 0 {
				continue
			}
			if iface.Flags&net.FlagUp == 0 {
				continue
			}
			if isVirtualInterfaceName(iface.Name) {
				continue
			}
			if mac := iface.HardwareAddr.String(); mac != "" {
				info.MACAddresses = append(info.MACAddresses, mac)
			}
			addrs, err := iface.Addrs()
			if err != nil {
				continue
			}
			for _, addr := range addrs {
				ipNet, ok := addr.(*net.IPNet)
				if !ok || ipNet.IP.IsLoopback() {
					continue
				}
				info.IPAddresses = append(info.IPAddresses, ipNet.IP.String())
			}
		}
	}

	if b, err := os.ReadFile(linuxMachineIDPath); err == nil {
		info.MachineID = strings.TrimSpace(string(b))
	}
	if b, err := os.ReadFile(dmiProductUUIDPath); err == nil {
		info.SystemUUID = strings.TrimSpace(string(b))
	}
	if host, err := os.Hostname(); err == nil {
		info.Hostname = host
	}

	return info
}

func isVirtualInterfaceName(name string) bool {
	for _, prefix := range []string{"docker", "veth", "br-", "virbr", "lo"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
