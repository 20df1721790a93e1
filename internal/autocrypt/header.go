// Package autocrypt implements the Autocrypt peer-state engine (C2) and
// the Autocrypt/Autocrypt-Gossip header codec (C4).
package autocrypt

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// PreferEncrypt mirrors the peer-state's stored preference.
type PreferEncrypt int

const (
	PreferNoPreference PreferEncrypt = iota
	PreferMutual
	PreferReset
)

func (p PreferEncrypt) String() string {
	switch p {
	case PreferMutual:
		return "mutual"
	case PreferReset:
		return "reset"
	default:
		return "nopreference"
	}
}

// Header is the decoded form of an Autocrypt: or Autocrypt-Gossip: header.
// PreferEncrypt is meaningless (always PreferNoPreference) for gossip
// headers, which never carry a prefer-encrypt attribute.
type Header struct {
	Addr          string
	PreferEncrypt PreferEncrypt
	KeyData       []byte // raw (unarmored) OpenPGP public key material
}

// RenderHeader renders the outer Autocrypt: header value (without the
// "Autocrypt: " prefix), base64-encoding and line-folding keydata the
// way RFC 2045 content-transfer-encoding folding does for header values.
// The keydata starts on its own continuation line, so no line of the
// rendered value is longer than 76 characters plus the leading space.
func RenderHeader(h Header) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "addr=%s; ", h.Addr)
	if h.PreferEncrypt == PreferMutual {
		sb.WriteString("prefer-encrypt=mutual; ")
	}
	sb.WriteString("keydata=\n ")
	sb.WriteString(foldBase64(base64.StdEncoding.EncodeToString(h.KeyData)))
	return sb.String()
}

// RenderGossipHeader renders an Autocrypt-Gossip: header value. Gossip
// headers never carry prefer-encrypt (§4.3).
func RenderGossipHeader(addr string, keyData []byte) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "addr=%s; ", addr)
	sb.WriteString("keydata=")
	sb.WriteString(foldBase64(base64.StdEncoding.EncodeToString(keyData)))
	return sb.String()
}

// foldBase64 inserts soft line breaks every 76 characters so the folded
// value survives header-unfolding round trips unchanged once whitespace
// is stripped by ParseHeader.
func foldBase64(s string) string {
	const lineLen = 76
	var sb strings.Builder
	for len(s) > lineLen {
		sb.WriteString(s[:lineLen])
		sb.WriteString("\n ")
		s = s[lineLen:]
	}
	sb.WriteString(s)
	return sb.String()
}

// ParseHeader parses an Autocrypt: (or Autocrypt-Gossip:) header value
// into its attributes. Unknown attributes whose name starts with a
// lowercase letter are ignored; an attribute whose name starts with an
// uppercase letter is treated as critical and makes the header an error
// (see parseAttributes). A header missing addr= or keydata=, or whose
// keydata does not decode, is an error.
func ParseHeader(value string) (Header, error) {
	attrs, err := parseAttributes(value)
	if err != nil {
		return Header{}, err
	}

	addr, ok := attrs["addr"]
	if !ok || addr == "" {
		return Header{}, fmt.Errorf("autocrypt header missing addr attribute")
	}

	keydataB64, ok := attrs["keydata"]
	if !ok || keydataB64 == "" {
		return Header{}, fmt.Errorf("autocrypt header missing keydata attribute")
	}
	keydata, err := base64.StdEncoding.DecodeString(stripWhitespace(keydataB64))
	if err != nil {
		return Header{}, fmt.Errorf("autocrypt header keydata does not decode: %w", err)
	}

	prefer := PreferNoPreference
	if v, ok := attrs["prefer-encrypt"]; ok && v == "mutual" {
		prefer = PreferMutual
	}

	return Header{Addr: addr, PreferEncrypt: prefer, KeyData: keydata}, nil
}

// parseAttributes splits a "key=value; key=value" header body into a
// lowercase-keyed attribute map. An unknown-critical attribute (name
// starting with an uppercase letter per Autocrypt Level 1 ¶"Attribute
// Syntax") makes the whole header invalid; others are ignored.
func parseAttributes(value string) (map[string]string, error) {
	attrs := make(map[string]string)
	for _, part := range strings.Split(value, ";") {
		part = strings.TrimSpace(stripWhitespace(part))
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := kv[0]
		if key != "" && key[0] >= 'A' && key[0] <= 'Z' {
			return nil, fmt.Errorf("unsupported critical autocrypt attribute %q", key)
		}
		attrs[strings.ToLower(key)] = kv[1]
	}
	return attrs, nil
}

func stripWhitespace(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
