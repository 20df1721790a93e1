package imapengine

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/textproto"
	"sort"
	"strings"

	goimap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/hkdb/aerion-core/internal/jobqueue"
)

// searchAllUIDs runs a bare UID SEARCH against the selected mailbox and
// returns every UID present, cancellable via ctx since Wait() otherwise
// blocks indefinitely.
func searchAllUIDs(ctx context.Context, client *imapclient.Client) ([]uint32, error) {
	searchCmd := client.UIDSearch(&goimap.SearchCriteria{}, nil)

	type result struct {
		data *goimap.SearchData
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		data, err := searchCmd.Wait()
		resultCh <- result{data, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-resultCh:
		if r.err != nil {
			return nil, r.err
		}
		uids := make([]uint32, 0, len(r.data.AllUIDs()))
		for _, uid := range r.data.AllUIDs() {
			uids = append(uids, uint32(uid))
		}
		return uids, nil
	}
}

// maxMessageSize bounds a single FETCH literal read so a hostile or
// misbehaving server can't exhaust memory.
const maxMessageSize = 64 * 1024 * 1024

// prefetchHeaders are the fields §4.7 names for the header-only pass:
// enough to decide whether a body is worth downloading and, for
// Autocrypt-Setup-Message, to recognize key-transfer messages without
// a full parse.
var prefetchHeaders = []string{
	"Message-Id", "From", "In-Reply-To", "References",
	"Chat-Version", "Autocrypt-Setup-Message",
}

type prefetchCandidate struct {
	UID       uint32
	MessageID string
}

// Poll runs one connect→select→resync→prefetch→fetch cycle against the
// folder of kind k and returns how many new messages it persisted.
func (e *Engine) Poll(ctx context.Context, k Kind) (int, error) {
	path, ok := e.FolderPath(k)
	if !ok {
		return 0, fmt.Errorf("imapengine: folder kind %q not known, run SyncFolders first", k)
	}

	conn, err := e.connect(ctx)
	if err != nil {
		return 0, err
	}
	defer e.pool.Release(conn)

	mb, err := conn.Client().SelectMailbox(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("imapengine: select %q: %w", path, err)
	}

	stored, err := e.sync.Get(path)
	if err != nil {
		return 0, err
	}

	decision := resolveResync(stored, mb)
	if err := e.sync.Set(path, decision.NewState); err != nil {
		return 0, err
	}

	if decision.NeedsFullResync {
		if _, err := e.jobs.Add(jobqueue.ActionResyncFolder, 0, path, threadForKind(k), 0); err != nil {
			e.log.Warn().Err(err).Str("folder", path).Msg("failed to schedule full resync job")
		}
		e.log.Info().Str("folder", path).
			Uint32("uidvalidity", mb.UIDValidity).
			Msg("uidvalidity changed, full resync scheduled, no new messages this cycle")
		return 0, nil
	}

	if !decision.HasCandidates {
		return 0, nil
	}

	candidates, err := e.prefetch(ctx, conn.Client().RawClient(), decision.CandidateStart)
	if err != nil {
		return 0, fmt.Errorf("imapengine: prefetch %q: %w", path, err)
	}

	var toFetch []uint32
	for _, c := range candidates {
		if c.UID == 0 {
			continue // §8: UID 0 is never legal, short-circuit as nothing to do.
		}
		if c.MessageID != "" {
			known, err := e.receiver.KnownMessageID(c.MessageID)
			if err != nil {
				e.log.Warn().Err(err).Str("messageId", c.MessageID).Msg("prefetch precheck failed, fetching anyway")
			} else if known {
				e.log.Debug().Str("messageId", c.MessageID).Msg("already known, skipping body fetch")
				continue
			}
		}
		toFetch = append(toFetch, c.UID)
	}

	if len(toFetch) == 0 {
		return 0, nil
	}

	newCount, err := e.fetchAndReceive(ctx, conn.Client().RawClient(), path, toFetch)
	if err != nil {
		return newCount, fmt.Errorf("imapengine: fetch %q: %w", path, err)
	}
	return newCount, nil
}

// prefetch fetches the headers of §4.7 for UIDs >= start, in ascending
// UID order (§5's ordering guarantee).
func (e *Engine) prefetch(ctx context.Context, client *imapclient.Client, start uint32) ([]prefetchCandidate, error) {
	allUIDs, err := searchAllUIDs(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("uid search: %w", err)
	}

	sort.Slice(allUIDs, func(i, j int) bool { return allUIDs[i] < allUIDs[j] })

	uidSet := goimap.UIDSet{}
	have := false
	for _, uid := range allUIDs {
		if uid < start {
			continue
		}
		uidSet.AddNum(goimap.UID(uid))
		have = true
	}
	if !have {
		return nil, nil
	}

	fetchOptions := &goimap.FetchOptions{
		UID: true,
		BodySection: []*goimap.FetchItemBodySection{
			{Specifier: goimap.PartSpecifierHeader, HeaderFields: prefetchHeaders, Peek: true},
		},
	}

	fetchCmd := client.Fetch(uidSet, fetchOptions)
	var candidates []prefetchCandidate

	for {
		if ctx.Err() != nil {
			fetchCmd.Close()
			return candidates, ctx.Err()
		}
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		var uid goimap.UID
		var headerBytes []byte
		for {
			item := msg.Next()
			if item == nil {
				break
			}
			switch data := item.(type) {
			case imapclient.FetchItemDataUID:
				uid = data.UID
			case imapclient.FetchItemDataBodySection:
				if data.Literal != nil {
					b, err := io.ReadAll(io.LimitReader(data.Literal, maxMessageSize))
					if err == nil {
						headerBytes = b
					}
				}
			}
		}

		if uid == 0 {
			continue
		}
		candidates = append(candidates, prefetchCandidate{
			UID:       uint32(uid),
			MessageID: strings.Trim(extractHeaderValue(headerBytes, "Message-Id"), "<>"),
		})
	}

	if err := fetchCmd.Close(); err != nil {
		return candidates, fmt.Errorf("close prefetch command: %w", err)
	}
	return candidates, nil
}

// fetchAndReceive downloads full bodies for uids, preserving the seen
// flag (Peek: true), and hands each to the receive pipeline in
// ascending UID order.
func (e *Engine) fetchAndReceive(ctx context.Context, client *imapclient.Client, folder string, uids []uint32) (int, error) {
	uidSet := goimap.UIDSet{}
	for _, uid := range uids {
		uidSet.AddNum(goimap.UID(uid))
	}

	fetchOptions := &goimap.FetchOptions{
		UID:   true,
		Flags: true,
		BodySection: []*goimap.FetchItemBodySection{
			{Specifier: goimap.PartSpecifierNone, Peek: true},
		},
	}

	fetchCmd := client.Fetch(uidSet, fetchOptions)
	newCount := 0

	for {
		if ctx.Err() != nil {
			fetchCmd.Close()
			return newCount, ctx.Err()
		}
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		var uid goimap.UID
		var raw []byte
		for {
			item := msg.Next()
			if item == nil {
				break
			}
			switch data := item.(type) {
			case imapclient.FetchItemDataUID:
				uid = data.UID
			case imapclient.FetchItemDataBodySection:
				if data.Literal != nil {
					b, err := io.ReadAll(io.LimitReader(data.Literal, maxMessageSize))
					if err == nil {
						raw = b
					}
				}
			}
		}

		if uid == 0 || len(raw) == 0 {
			continue
		}

		result, err := e.receiver.Receive(raw, folder, uint32(uid))
		if err != nil {
			e.log.Warn().Err(err).Uint32("uid", uint32(uid)).Str("folder", folder).Msg("receive failed, skipping message")
			continue
		}
		if !result.Known {
			newCount++
		}
	}

	if err := fetchCmd.Close(); err != nil {
		return newCount, fmt.Errorf("close fetch command: %w", err)
	}
	return newCount, nil
}

// extractHeaderValue does a minimal single-header lookup over a raw
// header-only blob, since the prefetch phase only ever needs this one
// field and a full MIME parse would be wasted work here.
func extractHeaderValue(headerBytes []byte, name string) string {
	tp := textproto.NewReader(bufio.NewReader(bytes.NewReader(append(headerBytes, '\r', '\n'))))
	header, err := tp.ReadMIMEHeader()
	if err != nil && header == nil {
		return ""
	}
	return header.Get(name)
}

func threadForKind(k Kind) string {
	switch k {
	case KindMvbox:
		return jobqueue.ThreadImapMvbox
	case KindSentbox:
		return jobqueue.ThreadImapSentbox
	default:
		return jobqueue.ThreadImapInbox
	}
}

