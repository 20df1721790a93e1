// Package mimepkg implements the MIME parser/builder (C3): parsing
// inbound multipart/encrypted+signed mail, recursive decryption, and
// assembling outbound memory-holed encrypted+signed mail.
package mimepkg

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"strings"

	gomessage "github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/teamwork/tnef"
)

// Part is one node of the parsed MIME tree. Leaf parts carry Body;
// multipart parts carry Children.
type Part struct {
	Header      gomessage.Header
	ContentType string
	Params      map[string]string
	Body        []byte
	Children    []*Part
}

// Tree is the result of Parse: the outer (unprotected) header view plus
// the root MIME part.
type Tree struct {
	OuterHeader gomessage.Header
	Root        *Part
}

// IsMultipart reports whether p's Content-Type is multipart/*.
func (p *Part) IsMultipart() bool {
	return strings.HasPrefix(p.ContentType, "multipart/")
}

// Parse consumes an RFC 5322 byte blob and produces a MIME part tree.
// It understands nested message/rfc822, multipart/*, and
// multipart/encrypted with protocol application/pgp-encrypted.
func Parse(raw []byte) (*Tree, error) {
	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil && entity == nil {
		return nil, fmt.Errorf("failed to parse mime message: %w", err)
	}

	root, err := buildPart(entity)
	if err != nil {
		return nil, fmt.Errorf("failed to build mime tree: %w", err)
	}

	return &Tree{OuterHeader: entity.Header, Root: root}, nil
}

func buildPart(entity *gomessage.Entity) (*Part, error) {
	ct, params, err := mime.ParseMediaType(entity.Header.Get("Content-Type"))
	if err != nil {
		ct = "text/plain"
		params = map[string]string{}
	}

	p := &Part{Header: entity.Header, ContentType: strings.ToLower(ct), Params: params}

	if mr := entity.MultipartReader(); mr != nil {
		for {
			child, err := mr.NextPart()
			if err != nil {
				break
			}
			childPart, err := buildPart(child)
			if err != nil {
				return nil, err
			}
			p.Children = append(p.Children, childPart)
		}
		return p, nil
	}

	if p.ContentType == "message/rfc822" || p.ContentType == "application/ms-tnef" {
		body, err := io.ReadAll(entity.Body)
		if err != nil {
			return nil, err
		}
		p.Body = body
		if p.ContentType == "application/ms-tnef" {
			if unwrapped := tryUnwrapTNEF(body); unwrapped != nil {
				p.Children = append(p.Children, unwrapped...)
			}
			return p, nil
		}
		inner, err := gomessage.Read(bytes.NewReader(body))
		if err == nil {
			innerPart, err := buildPart(inner)
			if err == nil {
				p.Children = []*Part{innerPart}
			}
		}
		return p, nil
	}

	body, err := io.ReadAll(entity.Body)
	if err != nil {
		return nil, err
	}
	p.Body = body
	return p, nil
}

// tryUnwrapTNEF decodes an Outlook application/ms-tnef attachment into
// a synthetic set of child parts (one per TNEF attachment), supplementing
// the otherwise-standard multipart walk with a real-world MIME variant.
func tryUnwrapTNEF(raw []byte) []*Part {
	data, err := tnef.Decode(raw)
	if err != nil {
		return nil
	}
	var parts []*Part
	for _, att := range data.Attachments {
		h := gomessage.Header{}
		h.Set("Content-Type", "application/octet-stream")
		h.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, att.Title))
		parts = append(parts, &Part{
			Header:      h,
			ContentType: "application/octet-stream",
			Params:      map[string]string{},
			Body:        att.Data,
		})
	}
	return parts
}

// FindMultipartEncrypted walks p looking for the first multipart/encrypted
// subtree with the Autocrypt Level 1 protocol parameter.
func FindMultipartEncrypted(p *Part) *Part {
	if p.ContentType == "multipart/encrypted" && strings.EqualFold(p.Params["protocol"], "application/pgp-encrypted") {
		return p
	}
	for _, child := range p.Children {
		if found := FindMultipartEncrypted(child); found != nil {
			return found
		}
	}
	return nil
}

// HasSiblingParts reports whether p has more than one child — used by
// IsFullyEncrypted to detect unencrypted siblings next to an encrypted part.
func HasSiblingParts(p *Part) bool {
	return len(p.Children) > 1
}
