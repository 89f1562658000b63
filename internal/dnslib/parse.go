package dnslib

import (
	"strings"

	"github.com/miekg/dns"
)

// SRVRecord is one answer to a SRV query, host already stripped of its
// trailing root dot.
type SRVRecord struct {
	Host     string
	Port     uint16
	Priority uint16
	Weight   uint16
}

// ParseSRVReply extracts every SRV answer from msg, in answer order.
func ParseSRVReply(msg *dns.Msg) []SRVRecord {
	var out []SRVRecord
	for _, rr := range msg.Answer {
		srv, ok := rr.(*dns.SRV)
		if !ok {
			continue
		}
		out = append(out, SRVRecord{
			Host:     strings.TrimSuffix(srv.Target, "."),
			Port:     srv.Port,
			Priority: srv.Priority,
			Weight:   srv.Weight,
		})
	}
	return out
}

// TXTChunk is one string within one TXT RR, holding the raw bytes sent on
// the wire. RecordStart is true for the first chunk of each RR, mirroring
// the wrapped c-ares driver's record_start flag so callers can tell where
// one RR's strings end and the next RR's begin when reassembling a value
// split across the strings of a single RR.
type TXTChunk struct {
	Data        string
	RecordStart bool
}

// ParseTXTChunks extracts every TXT answer from msg, flattened into chunks
// in answer order.
func ParseTXTChunks(msg *dns.Msg) []TXTChunk {
	var out []TXTChunk
	for _, rr := range msg.Answer {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		for i, s := range txt.Txt {
			out = append(out, TXTChunk{Data: unescapeTXT(s), RecordStart: i == 0})
		}
	}
	return out
}

// unescapeTXT undoes the presentation-format escaping miekg/dns applies to
// TXT strings on unpack (\" and \\ for a quote or backslash, \DDD for an
// unprintable byte), giving back the bytes that were on the wire.
func unescapeTXT(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] != '\\' || i+1 == len(s):
			b.WriteByte(s[i])
		case s[i+1] >= '0' && s[i+1] <= '9' && i+3 < len(s):
			b.WriteByte((s[i+1]-'0')*100 + (s[i+2]-'0')*10 + (s[i+3] - '0'))
			i += 3
		default:
			b.WriteByte(s[i+1])
			i++
		}
	}
	return b.String()
}
