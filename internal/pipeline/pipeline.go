// Package pipeline combines the key store, peer-state engine, MIME
// codec, Autocrypt header codec, thread model and chat store into the
// receive (C7) and send (C8) pipelines of §4.5.
package pipeline

import (
	"fmt"
	"time"

	"github.com/hkdb/aerion-core/internal/autocrypt"
	"github.com/hkdb/aerion-core/internal/chatstore"
	"github.com/hkdb/aerion-core/internal/jobqueue"
	"github.com/hkdb/aerion-core/internal/keyring"
	"github.com/hkdb/aerion-core/internal/logging"
	"github.com/rs/zerolog"
)

// Event is one user-visible notification emitted by a pipeline
// operation (§7's "user-visible surface").
type Event struct {
	Kind   string
	ChatID int64
	MsgID  int64
	Text   string
}

// Event kinds, matching §7's tagged-variant list.
const (
	EventMsgsChanged  = "MsgsChanged"
	EventIncomingMsg  = "IncomingMsg"
	EventChatModified = "ChatModified"
	EventMsgDelivered = "MsgDelivered"
	EventMsgFailed    = "MsgFailed"
	EventErrorNetwork = "ErrorNetwork"
	EventInfo         = "Info"
	EventWarning      = "Warning"
)

// KnownMessageID reports whether a Message-Id is already stored,
// letting the IMAP engine's prefetch phase (§4.7) skip downloading a
// body it has already processed.
func (p *Pipeline) KnownMessageID(mid string) (bool, error) {
	_, known, err := p.chats.GetMessageByRFC724MID(mid)
	if err != nil {
		return false, fmt.Errorf("pipeline: lookup message id: %w", err)
	}
	return known, nil
}

// Config holds the per-account identity the pipeline renders outgoing
// mail as and extracts Message-ID hosts from.
type Config struct {
	SelfAddr string
	Hostname string
	// BlobDir holds message bodies and attachments on disk, referenced
	// from a message's param bag by relative path (§4.5 send step 1).
	BlobDir string
}

// Pipeline wires C1/C2/C3/C4/C5/C6 together.
type Pipeline struct {
	chats *chatstore.Store
	keys  *keyring.Store
	peers *autocrypt.Store
	jobs  *jobqueue.Queue
	cfg   Config
	log   zerolog.Logger
	now   func() int64
}

// NewPipeline builds a receive/send pipeline over already-constructed
// component stores.
func NewPipeline(chats *chatstore.Store, keys *keyring.Store, peers *autocrypt.Store, jobs *jobqueue.Queue, cfg Config) *Pipeline {
	return &Pipeline{
		chats: chats,
		keys:  keys,
		peers: peers,
		jobs:  jobs,
		cfg:   cfg,
		log:   logging.WithComponent("pipeline"),
		now:   func() int64 { return time.Now().Unix() },
	}
}
