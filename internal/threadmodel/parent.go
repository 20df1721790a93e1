package threadmodel

import "strings"

// Parent is the subset of a stored message needed to thread a reply.
type Parent struct {
	RFC724MID      string
	MimeInReplyTo  string
	MimeReferences string
}

// ComputeReferences implements §4.4's table: the outgoing References
// header for a reply to parent.
func ComputeReferences(parent Parent) string {
	if parent.MimeReferences != "" {
		first := strings.Fields(parent.MimeReferences)[0]
		return first + " " + parent.RFC724MID
	}
	if parent.MimeInReplyTo != "" {
		return parent.MimeInReplyTo + " " + parent.RFC724MID
	}
	return parent.RFC724MID
}

// ComputeInReplyTo returns the outgoing In-Reply-To header for a reply
// to parent: simply the parent's own rfc724_mid.
func ComputeInReplyTo(parent Parent) string {
	return parent.RFC724MID
}
