package mimepkg

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

// memoryHolePrefixes is checked case-sensitively per §4.3: every header
// beginning with "Chat-" except exactly "Chat-Version", plus every
// header beginning with "Secure-Join", moves into the encrypted inner
// wrapper; Subject always moves.
func shouldMemoryHole(name string) bool {
	if name == "Subject" {
		return true
	}
	if name == "Chat-Version" {
		return false
	}
	if len(name) >= len("Chat-") && name[:len("Chat-")] == "Chat-" {
		return true
	}
	if len(name) >= len("Secure-Join") && name[:len("Secure-Join")] == "Secure-Join" {
		return true
	}
	return false
}

// BuildInput describes an outbound message before encryption.
type BuildInput struct {
	// OuterHeaders carries every header of the to-be-sent message in
	// order, including the ones that will be memory-holed; this
	// function partitions them itself.
	OuterHeaders [][2]string
	Body         []byte

	RecipientKeys  openpgp.EntityList // other recipients' peek-keys; empty disables encryption
	SelfPublicKey  *openpgp.Entity    // always added so the sender can read their own sent mail
	SignWith       *openpgp.Entity    // nil disables signing
	GossipHeaders  []string           // one Autocrypt-Gossip: value per other recipient, placed inside the wrapper
	AutocryptOuter string             // the sender's own Autocrypt: header value, placed on the outer headers
}

// BuildResult is the rendered outbound message.
type BuildResult struct {
	Raw       []byte
	Encrypted bool
}

// Build renders an outbound message per §4.3/§4.5: if RecipientKeys and
// SelfPublicKey are both set, it produces a memory-holed
// multipart/encrypted MIME structure, with the signature (when SignWith
// is set) carried inside the OpenPGP message; otherwise it renders a
// plain (optionally just multipart/signed) message with no
// memory-holing, since memory-holing is only meaningful once mail
// cannot be read in transit.
func Build(in BuildInput) (*BuildResult, error) {
	if len(in.RecipientKeys) == 0 || in.SelfPublicKey == nil {
		raw, err := renderPlain(in.OuterHeaders, in.Body, in.SignWith)
		return &BuildResult{Raw: raw, Encrypted: false}, err
	}

	outer, inner := partitionHeaders(in.OuterHeaders)

	innerContent := renderInnerWrapper(inner, in.Body, in.GossipHeaders)

	recipients := append(openpgp.EntityList{}, in.RecipientKeys...)
	if in.SelfPublicKey != nil {
		recipients = append(recipients, in.SelfPublicKey)
	}

	var encryptedBuf bytes.Buffer
	armorWriter, err := armor.Encode(&encryptedBuf, "PGP MESSAGE", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create armor writer: %w", err)
	}
	w, err := openpgp.Encrypt(armorWriter, recipients, in.SignWith, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryption writer: %w", err)
	}
	if _, err := w.Write(innerContent); err != nil {
		return nil, fmt.Errorf("failed to write encrypted content: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close encryption writer: %w", err)
	}
	if err := armorWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to close armor writer: %w", err)
	}

	boundary := generateBoundary("pgpenc")
	var result bytes.Buffer

	writeHeaders(&result, outer)
	fmt.Fprintf(&result, "Content-Type: multipart/encrypted;\r\n\tprotocol=\"application/pgp-encrypted\";\r\n\tboundary=\"%s\"\r\n\r\n", boundary)

	result.WriteString("--" + boundary + "\r\n")
	result.WriteString("Content-Type: application/pgp-encrypted\r\n")
	result.WriteString("Content-Description: PGP/MIME version identification\r\n\r\n")
	result.WriteString("Version: 1\r\n\r\n")

	result.WriteString("--" + boundary + "\r\n")
	result.WriteString("Content-Type: application/octet-stream; name=\"encrypted.asc\"\r\n")
	result.WriteString("Content-Disposition: inline; filename=\"encrypted.asc\"\r\n")
	result.WriteString("Content-Description: OpenPGP encrypted message\r\n\r\n")
	result.Write(encryptedBuf.Bytes())
	result.WriteString("\r\n--" + boundary + "--\r\n")

	return &BuildResult{Raw: result.Bytes(), Encrypted: true}, nil
}

// partitionHeaders splits headers per §4.3's memory-hole rule. The
// outer Subject is always replaced with the literal "..." — scenario
// coverage in §8 requires no real Subject to ever leak onto the outer
// header block when GuaranteeE2ee=1.
func partitionHeaders(headers [][2]string) (outer, inner [][2]string) {
	sawSubject := false
	for _, h := range headers {
		if shouldMemoryHole(h[0]) {
			inner = append(inner, h)
			if h[0] == "Subject" {
				sawSubject = true
			}
			continue
		}
		outer = append(outer, h)
	}
	if sawSubject {
		outer = append(outer, [2]string{"Subject", "..."})
	}
	return outer, inner
}

// renderInnerWrapper builds the message/rfc822 wrapper carrying the
// memory-holed headers, plus any gossip headers. Its own Content-Type
// carries protected-headers="v1" per §4.3, tagging it (and whichever
// headers rode along inside it) as the protected copy; a wrapper with
// no Content-Type of its own gets a default text/plain one so the
// parameter always has somewhere to live.
func renderInnerWrapper(innerHeaders [][2]string, body []byte, gossip []string) []byte {
	var buf bytes.Buffer
	sawContentType := false
	for _, h := range innerHeaders {
		if strings.EqualFold(h[0], "Content-Type") {
			sawContentType = true
			fmt.Fprintf(&buf, "%s: %s; protected-headers=\"v1\"\r\n", h[0], h[1])
			continue
		}
		fmt.Fprintf(&buf, "%s: %s\r\n", h[0], h[1])
	}
	if !sawContentType {
		buf.WriteString("Content-Type: text/plain; charset=utf-8; protected-headers=\"v1\"\r\n")
	}
	for _, g := range gossip {
		fmt.Fprintf(&buf, "Autocrypt-Gossip: %s\r\n", g)
	}
	buf.WriteString("\r\n")
	buf.Write(body)
	return buf.Bytes()
}

func writeHeaders(buf *bytes.Buffer, headers [][2]string) {
	for _, h := range headers {
		fmt.Fprintf(buf, "%s: %s\r\n", h[0], h[1])
	}
}

func renderPlain(headers [][2]string, body []byte, signWith *openpgp.Entity) ([]byte, error) {
	var buf bytes.Buffer
	writeHeaders(&buf, headers)
	buf.WriteString("\r\n")
	buf.Write(body)

	if signWith == nil {
		return buf.Bytes(), nil
	}
	return signContent(buf.Bytes(), signWith)
}

// signContent wraps content in an RFC 3156 multipart/signed structure.
func signContent(content []byte, signWith *openpgp.Entity) ([]byte, error) {
	var sigBuf bytes.Buffer
	armorWriter, err := armor.Encode(&sigBuf, "PGP SIGNATURE", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create signature armor writer: %w", err)
	}
	if err := openpgp.DetachSignText(armorWriter, signWith, bytes.NewReader(content), nil); err != nil {
		return nil, fmt.Errorf("failed to sign content: %w", err)
	}
	if err := armorWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to close signature armor writer: %w", err)
	}

	boundary := generateBoundary("pgpsig")
	var result bytes.Buffer
	fmt.Fprintf(&result, "Content-Type: multipart/signed;\r\n\tmicalg=\"pgp-sha256\"; protocol=\"application/pgp-signature\";\r\n\tboundary=\"%s\"\r\n\r\n", boundary)

	result.WriteString("--" + boundary + "\r\n")
	result.Write(content)
	result.WriteString("\r\n")

	result.WriteString("--" + boundary + "\r\n")
	result.WriteString("Content-Type: application/pgp-signature; name=\"signature.asc\"\r\n")
	result.WriteString("Content-Description: OpenPGP digital signature\r\n\r\n")
	result.Write(sigBuf.Bytes())
	result.WriteString("\r\n--" + boundary + "--\r\n")

	return result.Bytes(), nil
}

func generateBoundary(tag string) string {
	buf := make([]byte, 24)
	rand.Read(buf)
	return fmt.Sprintf("----=_%s_%x", tag, buf)
}
