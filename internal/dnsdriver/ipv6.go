package dnsdriver

import "net"

// IPv6LoopbackAvailable reports whether the platform has IPv6 usable at all,
// by binding a transient UDP socket to the IPv6 loopback address. A
// HostnameRequest uses this to decide whether issuing an AAAA sub-query
// alongside A is worth the round trip: on a host with IPv6 disabled or
// unconfigured, the AAAA query can only ever time out or come back
// network-unreachable, so it is skipped instead.
func IPv6LoopbackAvailable() bool {
	conn, err := net.ListenPacket("udp", "[::1]:0")
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
