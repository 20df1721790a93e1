package imapengine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hkdb/aerion-core/internal/imap"
)

// Kind is this engine's folder role, a finer-grained classification
// than imap.FolderType: it adds Mvbox, the Delta Chat movebox that
// imap.FolderType has no notion of.
type Kind string

const (
	KindInbox   Kind = "inbox"
	KindSentbox Kind = "sentbox"
	KindMvbox   Kind = "mvbox"
	KindSpam    Kind = "spam"
	KindTrash   Kind = "trash"
	KindOther   Kind = "other"
)

// localizedSentNames supplements server SPECIAL-USE attributes (§4.7):
// a folder is classified Sentbox if no \Sent attribute was advertised
// but its name matches one of these case-insensitive localized names.
var localizedSentNames = []string{
	"sent", "sent mail", "sent items", "gesendet", "gesendete objekte",
	"envoyes", "envoyés", "correio enviado", "posta inviata", "verzonden",
}

var localizedSpamNames = []string{"spam", "junk", "junk e-mail", "junk-email", "unerwuenscht"}
var localizedTrashNames = []string{"trash", "deleted", "deleted items", "papierkorb", "corbeille"}

// Folder is one classified mailbox as known to the engine.
type Folder struct {
	Name Name
	Kind Kind
}

// Name is a server mailbox path together with its hierarchy delimiter,
// so the engine can build child paths (e.g. the movebox as an INBOX
// subfolder) without guessing the separator.
type Name struct {
	Path      string
	Delimiter string
}

func (n Name) child(leaf string) string {
	if n.Delimiter == "" {
		return leaf
	}
	return n.Path + n.Delimiter + leaf
}

type folderCache struct {
	mu      sync.RWMutex
	byKind  map[Kind]Folder
	byPath  map[string]Folder
}

func newFolderCache() *folderCache {
	return &folderCache{byKind: make(map[Kind]Folder), byPath: make(map[string]Folder)}
}

func (c *folderCache) set(f Folder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKind[f.Kind] = f
	c.byPath[f.Name.Path] = f
}

func (c *folderCache) get(k Kind) (Folder, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.byKind[k]
	return f, ok
}

// classify assigns a Kind to a listed mailbox: server attributes first,
// then the localized-name table, per §4.7.
func classify(mb *imap.Mailbox, moveboxName string) Kind {
	if mb.Name == moveboxName {
		return KindMvbox
	}
	switch mb.Type {
	case imap.FolderTypeInbox:
		return KindInbox
	case imap.FolderTypeSent:
		return KindSentbox
	case imap.FolderTypeSpam:
		return KindSpam
	case imap.FolderTypeTrash:
		return KindTrash
	}
	// imap.ListMailboxes already falls back to name-matching for the
	// types it knows about (sent/drafts/trash/spam/archive/...), so a
	// second pass here only needs to cover the localized tables it
	// doesn't carry plus this engine's narrower vocabulary.
	lower := strings.ToLower(mb.Name)
	for _, n := range localizedSentNames {
		if lower == n {
			return KindSentbox
		}
	}
	for _, n := range localizedSpamNames {
		if lower == n {
			return KindSpam
		}
	}
	for _, n := range localizedTrashNames {
		if lower == n {
			return KindTrash
		}
	}
	return KindOther
}

// SyncFolders lists all mailboxes, classifies them, and ensures the
// movebox exists (created as an INBOX subfolder and subscribed to, so
// other MUAs see it, per §4.7's glossary entry for "Movebox").
func (e *Engine) SyncFolders(ctx context.Context) error {
	conn, err := e.connect(ctx)
	if err != nil {
		return err
	}
	defer e.pool.Release(conn)

	mailboxes, err := conn.Client().ListMailboxes()
	if err != nil {
		return fmt.Errorf("imapengine: list mailboxes: %w", err)
	}

	var inboxName Name
	sawMvbox := false
	for _, mb := range mailboxes {
		name := Name{Path: mb.Name, Delimiter: mb.Delimiter}
		kind := classify(mb, e.cfg.moveboxName())
		e.folders.set(Folder{Name: name, Kind: kind})
		if kind == KindInbox {
			inboxName = name
		}
		if kind == KindMvbox {
			sawMvbox = true
		}
	}

	if !sawMvbox && inboxName.Path != "" {
		if err := e.createAndSubscribeMvbox(ctx, conn, inboxName); err != nil {
			e.log.Warn().Err(err).Msg("failed to create movebox, continuing without it")
		}
	}

	e.log.Debug().Int("count", len(mailboxes)).Msg("synced folder list")
	return nil
}

func (e *Engine) createAndSubscribeMvbox(ctx context.Context, conn *imap.PooledConnection, inbox Name) error {
	path := inbox.child(e.cfg.moveboxName())
	raw := conn.Client().RawClient()

	if err := raw.Create(path, nil).Wait(); err != nil {
		// Tolerate "already exists" — another client (or a previous run
		// that failed after CREATE but before SUBSCRIBE) may have made
		// it already.
		e.log.Debug().Err(err).Str("path", path).Msg("movebox create failed (may already exist)")
	}
	if err := raw.Subscribe(path).Wait(); err != nil {
		return fmt.Errorf("subscribe to movebox %q: %w", path, err)
	}

	e.folders.set(Folder{Name: Name{Path: path, Delimiter: inbox.Delimiter}, Kind: KindMvbox})
	e.log.Info().Str("path", path).Msg("movebox ready")
	return nil
}

// FolderPath returns the server path for a folder kind, if known.
func (e *Engine) FolderPath(k Kind) (string, bool) {
	f, ok := e.folders.get(k)
	if !ok {
		return "", false
	}
	return f.Name.Path, true
}
