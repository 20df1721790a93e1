package mimepkg

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	gomessage "github.com/emersion/go-message"
	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

// maxDecryptIterations bounds the recursive decryption loop (§4.3).
const maxDecryptIterations = 10

// DecryptResult is the outcome of a recursive Decrypt call.
type DecryptResult struct {
	// Tree is the final tree with every successfully-decrypted
	// multipart/encrypted subtree replaced by its plaintext contents.
	Tree *Tree
	// SignedFingerprints holds the valid-signature key fingerprints
	// collected from the outermost successful decryption only.
	SignedFingerprints []string
	// GossipHeaders holds every Autocrypt-Gossip header found in the
	// headers of a decrypted inner message/rfc822 wrapper.
	GossipHeaders []string
	// FullyEncrypted is true only when the first decryption iteration
	// found no unencrypted sibling parts alongside the encrypted one.
	FullyEncrypted bool
	// AnyDecrypted reports whether at least one encrypted subtree was
	// successfully decrypted.
	AnyDecrypted bool
}

// Decrypt recursively decrypts every multipart/encrypted subtree in tree,
// up to maxDecryptIterations nested layers, using selfKeyring to decrypt
// and verifyKeyring (the sender's stored public + gossip key) to check
// signatures. It never returns an error for an undecryptable message —
// per §7's crypto error policy, the caller receives the tree unchanged
// and AnyDecrypted=false, and delivers the message as
// plaintext-with-warning.
func Decrypt(tree *Tree, selfKeyring openpgp.EntityList, verifyKeyring openpgp.EntityList) *DecryptResult {
	result := &DecryptResult{Tree: tree}

	current := tree.Root
	for iter := 0; iter < maxDecryptIterations; iter++ {
		encPart := FindMultipartEncrypted(current)
		if encPart == nil {
			break
		}

		if iter == 0 {
			result.FullyEncrypted = !HasSiblingParts(current) || current == encPart
		}

		decryptedPart, fingerprints, gossip, err := decryptOne(encPart, selfKeyring, verifyKeyring)
		if err != nil {
			// Crypto error: leave the tree as-is, do not raise degrade
			// (§7), stop trying further nested layers.
			break
		}

		result.AnyDecrypted = true
		if iter == 0 {
			result.SignedFingerprints = fingerprints
		}
		result.GossipHeaders = append(result.GossipHeaders, gossip...)

		replaceInPlace(tree.Root, encPart, decryptedPart)
		current = decryptedPart
	}

	return result
}

// decryptOne decrypts a single multipart/encrypted part: its second
// child is armored (or raw) OpenPGP data beginning with
// "-----BEGIN PGP MESSAGE-----" once content-transfer-encoding is undone
// (go-message's Entity.Body already did that for us while parsing).
func decryptOne(encPart *Part, selfKeyring, verifyKeyring openpgp.EntityList) (*Part, []string, []string, error) {
	if len(encPart.Children) < 2 {
		return nil, nil, nil, fmt.Errorf("multipart/encrypted missing parts")
	}
	encData := encPart.Children[1].Body

	var reader io.Reader = bytes.NewReader(encData)
	if block, err := armor.Decode(bytes.NewReader(encData)); err == nil {
		reader = block.Body
	}

	// ReadMessage takes one keyring for both decryption and signature
	// lookup, so the sender's keys are appended to the self keys.
	keys := append(append(openpgp.EntityList{}, selfKeyring...), verifyKeyring...)
	md, err := openpgp.ReadMessage(reader, keys, nil, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	plaintext, err := io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to read decrypted body: %w", err)
	}

	var fingerprints []string
	if md.SignedBy != nil && md.SignatureError == nil {
		for _, signer := range verifyKeyring {
			if !keyMatchesSigner(signer, md.SignedByKeyId) {
				continue
			}
			fp := fmt.Sprintf("%X", signer.PrimaryKey.Fingerprint)
			fingerprints = append(fingerprints, fp)
		}
	}

	inner, err := gomessage.Read(bytes.NewReader(plaintext))
	if err != nil {
		// Not a valid MIME entity; treat the whole thing as a
		// text/plain leaf so the caller still gets readable content.
		h := gomessage.Header{}
		h.Set("Content-Type", "text/plain; charset=utf-8")
		return &Part{Header: h, ContentType: "text/plain", Params: map[string]string{}, Body: plaintext}, fingerprints, nil, nil
	}

	decryptedPart, err := buildPart(inner)
	if err != nil {
		return nil, nil, nil, err
	}

	var gossip []string
	for _, v := range inner.Header.Values("Autocrypt-Gossip") {
		gossip = append(gossip, v)
	}

	return decryptedPart, fingerprints, gossip, nil
}

// keyMatchesSigner reports whether signer's primary key or any of its
// subkeys carries the given key id, so signature fingerprints are only
// collected for the entity that actually produced the signature.
func keyMatchesSigner(signer *openpgp.Entity, keyID uint64) bool {
	if signer.PrimaryKey != nil && signer.PrimaryKey.KeyId == keyID {
		return true
	}
	for _, sk := range signer.Subkeys {
		if sk.PublicKey != nil && sk.PublicKey.KeyId == keyID {
			return true
		}
	}
	return false
}

// replaceInPlace walks root looking for target by pointer identity and
// replaces it with replacement. If target is root itself, the
// replacement's contents are copied into *root, so tree.Root keeps
// its pointer and now holds the replacement.
func replaceInPlace(root, target, replacement *Part) {
	if root == target {
		*root = *replacement
		return
	}
	for i, child := range root.Children {
		if child == target {
			root.Children[i] = replacement
			return
		}
		replaceInPlace(child, target, replacement)
	}
}

// IsFullyEncrypted reports whether the message was fully encrypted: at
// least one subtree decrypted, and the first decryption iteration found
// no unencrypted sibling parts (§4.3).
func (r *DecryptResult) IsFullyEncrypted() bool {
	return r.AnyDecrypted && r.FullyEncrypted
}

// ExtractGossipAddr pulls the addr= attribute out of a raw
// Autocrypt-Gossip header value without fully parsing keydata; a thin
// helper so callers that only need scoping checks can avoid the base64
// decode. (Full parsing goes through internal/autocrypt.ParseHeader.)
func ExtractGossipAddr(headerValue string) string {
	for _, part := range strings.Split(headerValue, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(strings.ToLower(part), "addr=") {
			return strings.TrimSpace(part[len("addr="):])
		}
	}
	return ""
}
