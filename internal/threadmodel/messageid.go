// Package threadmodel implements the Message-ID/thread model (C5):
// generating and parsing Message-IDs, extracting group-ids, and
// computing In-Reply-To/References for outgoing replies.
package threadmodel

import (
	"crypto/rand"
	"fmt"
	"strings"
)

const base64url = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// randToken returns 11 base64url characters encoding 66 bits of
// cryptographic randomness, per §4.4.
func randToken() string {
	// 9 random bytes give 72 bits; only the leading 66 (11 symbols of 6
	// bits each) are consumed, the trailing 6 bits are discarded.
	buf := make([]byte, 9)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("threadmodel: failed to read random bytes: %v", err))
	}
	return encode11(buf)
}

func encode11(buf []byte) string {
	var sb strings.Builder
	for i := 0; i < 11; i++ {
		sb.WriteByte(base64url[sixBitsAt(buf, 6*i)])
	}
	return sb.String()
}

// sixBitsAt returns the 6-bit value starting at bit offset start, where
// bit 0 is the most significant bit of buf[0], as an int in [0,63]. A
// uint64 accumulator can't hold all 72 bits of a 9-byte buffer, so bits
// are pulled directly from the byte slice instead of being folded into
// one word.
func sixBitsAt(buf []byte, start int) int {
	value := 0
	for i := 0; i < 6; i++ {
		bitPos := start + i
		byteIdx := bitPos / 8
		bitIdx := 7 - bitPos%8
		bit := 0
		if byteIdx < len(buf) {
			bit = int(buf[byteIdx]>>uint(bitIdx)) & 1
		}
		value = (value << 1) | bit
	}
	return value
}

// NewGroupMessageID renders a group-chat outgoing Message-ID:
// "Gr.<grpid>.<rand>@<host>". grpid must be exactly 11 or 16 characters
// (the caller is expected to have a valid grpid already).
func NewGroupMessageID(grpid, host string) string {
	return fmt.Sprintf("Gr.%s.%s@%s", grpid, randToken(), host)
}

// NewDirectMessageID renders a 1:1-chat outgoing Message-ID:
// "Mr.<rand1>.<rand2>@<host>".
func NewDirectMessageID(host string) string {
	return fmt.Sprintf("Mr.%s.%s@%s", randToken(), randToken(), host)
}

// NewGrpID mints a fresh 11-character group-id for a newly created group
// chat.
func NewGrpID() string {
	return randToken()
}

// ExtractGroupID extracts a group-id from an arbitrary Message-ID under
// the strict rule of §4.4: the string must start with "Gr.", end with
// "@...", and the segment before the first "." after "Gr." must be
// exactly 11 or 16 characters. Every other form yields ("", false).
func ExtractGroupID(messageID string) (string, bool) {
	s := strings.TrimPrefix(strings.TrimSuffix(messageID, ">"), "<")
	if !strings.HasPrefix(s, "Gr.") {
		return "", false
	}
	rest := s[len("Gr."):]
	at := strings.Index(rest, "@")
	if at < 0 {
		return "", false
	}
	rest = rest[:at]

	dot := strings.Index(rest, ".")
	var grpid string
	if dot < 0 {
		grpid = rest
	} else {
		grpid = rest[:dot]
	}

	if len(grpid) == 11 || len(grpid) == 16 {
		return grpid, true
	}
	return "", false
}
