package pipeline

import (
	"net/mail"
	"strings"
)

// stripAngles removes the "<...>" wrapper RFC 5322 Message-ID/In-Reply-To
// header values carry, since chatstore's rfc724_mid column stores the
// bare id.
func stripAngles(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	return s
}

// parseFirstAddress extracts the address and display name from a
// From: header value, tolerating malformed input by falling back to
// the raw string.
func parseFirstAddress(header string) (addr, name string) {
	addrs, err := mail.ParseAddressList(header)
	if err != nil || len(addrs) == 0 {
		return strings.ToLower(strings.TrimSpace(header)), ""
	}
	return strings.ToLower(addrs[0].Address), addrs[0].Name
}

// parseAddressList extracts every address from a To:/Cc: header value.
func parseAddressList(header string) []string {
	if strings.TrimSpace(header) == "" {
		return nil
	}
	addrs, err := mail.ParseAddressList(header)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Address)
	}
	return out
}

// parseDateOrNow parses an RFC 5322 Date: header, falling back to now
// if absent or unparseable (a message can't be rejected outright for a
// malformed Date per §7's tolerant-parsing policy).
func parseDateOrNow(header string, now int64) int64 {
	if strings.TrimSpace(header) == "" {
		return now
	}
	t, err := mail.ParseDate(header)
	if err != nil {
		return now
	}
	return t.Unix()
}
