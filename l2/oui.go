package l2

import (
	"net"
	"strings"
)

// ouiVendors maps the first three octets of a MAC address (colon-joined,
// lowercase) to a manufacturer name. This is a small, hand-curated subset
// of the IEEE OUI registry covering common consumer and lab hardware; it
// is not meant to be exhaustive.
var ouiVendors = map[string]string{
	"00:1a:11": "Google",
	"3c:5a:b4": "Google",
	"f4:f5:e8": "Google",
	"00:17:88": "Philips Lighting",
	"a4:c1:38": "Espressif",
	"24:0a:c4": "Espressif",
	"b8:27:eb": "Raspberry Pi Foundation",
	"dc:a6:32": "Raspberry Pi Foundation",
	"e4:5f:01": "Raspberry Pi Foundation",
	"00:0c:29": "VMware",
	"00:50:56": "VMware",
	"08:00:27": "Oracle VirtualBox",
	"52:54:00": "QEMU/KVM",
	"00:1c:42": "Parallels",
	"00:16:cb": "Apple",
	"3c:07:54": "Apple",
	"a4:5e:60": "Apple",
	"f0:18:98": "Apple",
	"ac:de:48": "Apple",
	"00:1e:c2": "Apple",
	"28:f0:76": "Apple",
	"dc:a9:04": "Samsung",
	"e8:50:8b": "Samsung",
	"cc:46:d6": "Cisco",
	"00:1b:d4": "Cisco-Linksys",
	"60:38:e0": "TP-Link",
	"50:c7:bf": "TP-Link",
	"98:da:c4": "TP-Link",
	"d8:07:b6": "Amazon",
	"fc:a1:83": "Amazon",
	"44:65:0d": "Amazon",
}

// VendorFor returns a best-effort manufacturer name for mac, or "" if the
// OUI prefix is not in the table.
func VendorFor(mac net.HardwareAddr) string {
	if len(mac) < 3 {
		return ""
	}
	prefix := strings.ToLower(net.HardwareAddr(mac[:3]).String())
	return ouiVendors[prefix]
}
