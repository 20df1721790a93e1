package contactsync

import (
	"context"
	"net/http"
	"strings"

	"github.com/emersion/go-vcard"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/carddav"
	"github.com/hkdb/aerion-core/internal/chatstore"
	"github.com/hkdb/aerion-core/internal/credentials"
	"github.com/hkdb/aerion-core/internal/logging"
	"github.com/rs/zerolog"
)

// Syncer fetches one source's address book and enriches already-known
// C1 contacts by address. It is grounded on the teacher's
// internal/carddav package's separation of a Store (source bookkeeping)
// from a Syncer (network fetch + apply), generalized to this domain's
// narrower "enrich display name only" rule.
type Syncer struct {
	sourceStore *Store
	creds       *credentials.Store
	contacts    *chatstore.Store
	log         zerolog.Logger
}

func NewSyncer(sourceStore *Store, creds *credentials.Store, contacts *chatstore.Store) *Syncer {
	return &Syncer{
		sourceStore: sourceStore,
		creds:       creds,
		contacts:    contacts,
		log:         logging.WithComponent("contactsync"),
	}
}

// SyncSource fetches every vCard in source's address book and enriches
// known contacts' display names; it never creates a contact.
func (s *Syncer) SyncSource(ctx context.Context, sourceID string) (enriched int, err error) {
	src, err := s.sourceStore.GetSource(sourceID)
	if err != nil {
		return 0, err
	}

	password, err := s.creds.GetCardDAVPassword(src.ID)
	if err != nil && err != credentials.ErrCredentialNotFound {
		return 0, err
	}

	httpClient := webdav.HTTPClientWithBasicAuth(http.DefaultClient, src.Username, password)
	client, err := carddav.NewClient(httpClient, src.URL)
	if err != nil {
		return 0, err
	}

	homeSet, err := client.FindAddressBookHomeSet(ctx, "")
	if err != nil {
		return 0, err
	}
	books, err := client.FindAddressBooks(ctx, homeSet)
	if err != nil {
		return 0, err
	}

	for _, book := range books {
		objs, err := client.QueryAddressBook(ctx, book.Path, &carddav.AddressBookQuery{})
		if err != nil {
			s.log.Warn().Err(err).Str("source", src.ID).Str("addressBook", book.Path).Msg("query failed, skipping")
			continue
		}
		for _, obj := range objs {
			if s.enrichFromCard(obj.Card) {
				enriched++
			}
		}
	}

	return enriched, nil
}

// enrichFromCard applies one vCard's email/name pair to an already-known
// contact, reporting whether a contact was updated.
func (s *Syncer) enrichFromCard(card vcard.Card) bool {
	name := strings.TrimSpace(card.PreferredValue(vcard.FieldFormattedName))
	if name == "" {
		return false
	}

	updated := false
	for _, field := range card[vcard.FieldEmail] {
		addr := strings.ToLower(strings.TrimSpace(field.Value))
		if addr == "" {
			continue
		}
		id, ok, err := s.contacts.LookupContactByAddr(addr)
		if err != nil || !ok {
			continue // never creates: unknown addresses are silently skipped
		}
		if err := s.contacts.SetDisplayName(id, name); err != nil {
			s.log.Warn().Err(err).Str("addr", addr).Msg("failed to apply enriched display name")
			continue
		}
		updated = true
	}
	return updated
}

// SyncAllSources runs SyncSource for every configured address book,
// continuing past individual failures.
func (s *Syncer) SyncAllSources(ctx context.Context) error {
	sources, err := s.sourceStore.ListSources()
	if err != nil {
		return err
	}
	for _, src := range sources {
		if _, err := s.SyncSource(ctx, src.ID); err != nil {
			s.log.Warn().Err(err).Str("source", src.ID).Msg("address book sync failed")
		}
	}
	return nil
}
