// Package rfc6724 orders a list of resolved destination addresses by the
// precedence table of RFC 6724 ("Default Address Selection for Internet
// Protocol Version 6"), section 2.1. It implements destination-only
// ordering: no local routing table or source-address selection is
// consulted, matching the scope of a stub resolver that has not yet
// opened a connection.
package rfc6724

import (
	"net"
	"sort"
)

// Addr is one sortable destination: a resolved IP plus the port that will
// be dialed. Port does not affect ordering; it rides along so callers don't
// have to re-zip it back onto the sorted result.
type Addr struct {
	IP   net.IP
	Port uint16
}

type policyEntry struct {
	prefix     net.IP
	bits       int
	precedence int
	label      int
}

// policyTable is RFC 6724 Table 2, the default policy table. Every
// candidate address is classified by its longest matching prefix here,
// after being mapped into its IPv6 form (an IPv4 address a.b.c.d is
// compared as ::ffff:a.b.c.d, per RFC 6724 section 3.2).
var policyTable = []policyEntry{
	{mustParseIP("::1"), 128, 50, 0},
	{mustParseIP("::"), 0, 40, 1},
	{mustParseIP("::ffff:0:0"), 96, 35, 4},
	{mustParseIP("2002::"), 16, 30, 2},
	{mustParseIP("2001::"), 32, 5, 5},
	{mustParseIP("fc00::"), 7, 3, 13},
	{mustParseIP("::"), 96, 1, 3},
	{mustParseIP("fec0::"), 10, 1, 11},
	{mustParseIP("3ffe::"), 16, 1, 12},
}

func mustParseIP(s string) net.IP {
	ip := net.ParseIP(s)
	if ip == nil {
		panic("rfc6724: invalid literal in policy table: " + s)
	}
	return ip.To16()
}

// classify returns the (precedence, label) pair for ip per the policy
// table, picking the entry with the longest matching prefix.
func classify(ip net.IP) (precedence, label int) {
	v6 := ip.To16()
	if v6 == nil {
		// Unparseable address: treat as lowest precedence so it sorts last
		// rather than panicking on malformed driver output.
		return 0, 0
	}

	bestBits := -1
	for _, e := range policyTable {
		if !matchesPrefix(v6, e.prefix, e.bits) {
			continue
		}
		if e.bits > bestBits {
			bestBits = e.bits
			precedence, label = e.precedence, e.label
		}
	}
	return precedence, label
}

func matchesPrefix(ip, prefix net.IP, bits int) bool {
	fullBytes := bits / 8
	remBits := bits % 8
	if fullBytes > len(ip) || fullBytes > len(prefix) {
		return false
	}
	for i := 0; i < fullBytes; i++ {
		if ip[i] != prefix[i] {
			return false
		}
	}
	if remBits == 0 {
		return true
	}
	mask := byte(0xFF << (8 - remBits))
	return ip[fullBytes]&mask == prefix[fullBytes]&mask
}

// Sort orders addrs by descending RFC 6724 precedence, stable at ties, and
// returns the same slice reordered in place. It is a permutation of the
// input: no address is dropped or duplicated.
func Sort(addrs []Addr) []Addr {
	type scored struct {
		addr Addr
		prec int
	}
	tmp := make([]scored, len(addrs))
	for i, a := range addrs {
		p, _ := classify(a.IP)
		tmp[i] = scored{addr: a, prec: p}
	}
	sort.SliceStable(tmp, func(i, j int) bool {
		return tmp[i].prec > tmp[j].prec
	})
	for i, s := range tmp {
		addrs[i] = s.addr
	}
	return addrs
}
