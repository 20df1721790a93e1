package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/hkdb/aerion-core/internal/autocrypt"
	"github.com/hkdb/aerion-core/internal/chatstore"
	"github.com/hkdb/aerion-core/internal/jobqueue"
	"github.com/hkdb/aerion-core/internal/keyring"
	"github.com/hkdb/aerion-core/internal/mimepkg"
	"github.com/hkdb/aerion-core/internal/threadmodel"
)

// DraftInput describes an outgoing message before it is queued for
// delivery.
type DraftInput struct {
	Subject        string
	Body           []byte
	Type           int
	File           string // already-written blob path; takes precedence over Body for non-text types
	MimeType       string
	ForcePlaintext bool
	Prepare        bool // insert as OUT_PREPARING instead of OUT_PENDING, for forward fan-out (§4.5 send, forwarding)
	HasLocation    bool
	Latitude       float64
	Longitude      float64
}

// SendResult is the outcome of queuing a message for delivery.
type SendResult struct {
	MsgID     int64
	ChatID    int64
	Encrypted bool
}

// Send implements §4.5's outbound pipeline: promote the chat, decide
// whether the message can be end-to-end encrypted, compute threading
// headers, persist the message row, and hand it to the job queue for
// SMTP delivery.
func (p *Pipeline) Send(chatID int64, in DraftInput) (*SendResult, error) {
	chat, err := p.chats.GetChat(chatID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load chat: %w", err)
	}
	if chat.Unpromoted {
		if err := p.chats.ClearUnpromoted(chatID); err != nil {
			return nil, fmt.Errorf("pipeline: clear unpromoted: %w", err)
		}
	}

	guaranteeE2ee, allMutual, err := p.canGuaranteeE2ee(chatID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: evaluate e2ee guarantee: %w", err)
	}
	if !allMutual {
		// Encryption sticks once established (§4.5 send step 3): a
		// chat that already achieved guaranteeE2ee keeps it even after
		// a peer's prefer-encrypt degrades, as long as keys are
		// still available for every member.
		sticky, err := p.chats.LastOutgoingWasGuaranteeE2ee(chatID)
		if err != nil {
			return nil, fmt.Errorf("pipeline: check prior e2ee: %w", err)
		}
		if !sticky {
			guaranteeE2ee = false
		}
	}
	if in.ForcePlaintext {
		guaranteeE2ee = false
	}

	parent, hasParent, err := p.chats.ParentForReply(chatID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: parent lookup: %w", err)
	}
	var inReplyTo, references string
	if hasParent {
		inReplyTo = threadmodel.ComputeInReplyTo(*parent)
		references = threadmodel.ComputeReferences(*parent)
	}

	var messageID string
	if chat.GrpID != "" {
		messageID = threadmodel.NewGroupMessageID(chat.GrpID, p.cfg.Hostname)
	} else {
		messageID = threadmodel.NewDirectMessageID(p.cfg.Hostname)
	}

	param := chatstore.Params{}
	if guaranteeE2ee {
		param.SetInt(chatstore.ParamGuaranteeE2ee, 1)
	}
	if in.ForcePlaintext {
		param.SetInt(chatstore.ParamForcePlaintext, 1)
	}

	filePath := in.File
	if filePath == "" && in.Type != chatstore.TypeText && len(in.Body) > 0 {
		name, err := p.writeBlob(in.Body, "")
		if err != nil {
			return nil, err
		}
		filePath = name
	}
	if filePath != "" {
		param.Set(chatstore.ParamFile, filePath)
		param.Set(chatstore.ParamMimeType, in.MimeType)
	}
	if in.HasLocation {
		param.Set(chatstore.ParamSetLatitude, strconv.FormatFloat(in.Latitude, 'f', -1, 64))
		param.Set(chatstore.ParamSetLongitude, strconv.FormatFloat(in.Longitude, 'f', -1, 64))
	}

	msgType := in.Type
	if msgType == 0 {
		msgType = chatstore.TypeText
	}
	state := chatstore.StateOutPending
	if in.Prepare {
		state = chatstore.StateOutPreparing
	}

	now := p.now()
	msg := &chatstore.Message{
		ChatID:         chatID,
		FromID:         chatstore.ContactSelf,
		Timestamp:      now,
		TimestampSent:  now,
		Type:           msgType,
		State:          state,
		RFC724MID:      messageID,
		MimeInReplyTo:  inReplyTo,
		MimeReferences: references,
		Subject:        in.Subject,
		Param:          param,
	}
	if msgType == chatstore.TypeText && filePath == "" {
		name, err := p.writeBlob(in.Body, ".txt")
		if err != nil {
			return nil, err
		}
		msg.Param.Set(chatstore.ParamFile, name)
	}

	msgID, err := p.chats.InsertMessage(msg)
	if err != nil {
		return nil, fmt.Errorf("pipeline: insert outgoing message: %w", err)
	}

	if !in.Prepare {
		if _, err := p.jobs.Add(jobqueue.ActionSendMsg, msgID, "", jobqueue.ThreadSMTP, 0); err != nil {
			return nil, fmt.Errorf("pipeline: enqueue send job: %w", err)
		}
	}

	if in.HasLocation {
		loc := &chatstore.Location{
			Latitude: in.Latitude, Longitude: in.Longitude,
			Timestamp: now, ChatID: chatID, FromID: chatstore.ContactSelf, Independent: true,
		}
		if _, err := p.chats.InsertLocation(loc); err != nil {
			return nil, fmt.Errorf("pipeline: insert location: %w", err)
		}
	}

	return &SendResult{MsgID: msgID, ChatID: chatID, Encrypted: guaranteeE2ee}, nil
}

// canGuaranteeE2ee reports whether every non-self member of chatID has
// a usable peek-key (guaranteeE2ee) and whether every one of them
// currently prefers mutual encryption (allMutual), per §4.2/§4.5.
func (p *Pipeline) canGuaranteeE2ee(chatID int64) (guaranteeE2ee, allMutual bool, err error) {
	members, err := p.chats.MembersOf(chatID)
	if err != nil {
		return false, false, err
	}
	guaranteeE2ee, allMutual = true, true
	for _, cid := range members {
		if cid == chatstore.ContactSelf {
			continue
		}
		c, err := p.chats.GetContact(cid)
		if err != nil {
			return false, false, err
		}
		ps, ok, err := p.peers.LookupByAddress(c.Addr)
		if err != nil {
			return false, false, err
		}
		if !ok || ps.PreferEncrypt != autocrypt.PreferMutual {
			allMutual = false
		}
		if !ok || len(autocrypt.PeekKey(ps, autocrypt.AnyKey)) == 0 {
			guaranteeE2ee = false
		}
	}
	return guaranteeE2ee, allMutual, nil
}

// RenderOutgoing builds the final MIME bytes for an already-persisted
// outgoing message, for the SMTP job handler to hand to a mail
// transport. It returns the envelope recipient list alongside the
// rendered bytes.
func (p *Pipeline) RenderOutgoing(msg *chatstore.Message, chat *chatstore.Chat) (*mimepkg.BuildResult, []string, error) {
	members, err := p.chats.MembersOf(chat.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: members of chat: %w", err)
	}

	guaranteeE2ee := msg.Param.GetInt(chatstore.ParamGuaranteeE2ee) == 1

	var recipientAddrs []string
	var recipientKeys openpgp.EntityList
	var gossipHeaders []string
	otherCount := 0
	for _, cid := range members {
		if cid == chatstore.ContactSelf {
			continue
		}
		otherCount++
	}

	for _, cid := range members {
		if cid == chatstore.ContactSelf {
			continue
		}
		c, err := p.chats.GetContact(cid)
		if err != nil {
			return nil, nil, fmt.Errorf("pipeline: load recipient contact: %w", err)
		}
		recipientAddrs = append(recipientAddrs, c.Addr)

		if !guaranteeE2ee {
			continue
		}
		ps, ok, err := p.peers.LookupByAddress(c.Addr)
		if err != nil {
			return nil, nil, fmt.Errorf("pipeline: lookup recipient peer state: %w", err)
		}
		if !ok {
			continue
		}
		key := autocrypt.PeekKey(ps, autocrypt.AnyKey)
		if len(key) == 0 {
			continue
		}
		if ents, err := keyring.ParseBinaryKey(key); err == nil {
			recipientKeys = append(recipientKeys, ents...)
		}
		if otherCount > 1 {
			gossipHeaders = append(gossipHeaders, autocrypt.RenderGossipHeader(c.Addr, key))
		}
	}

	selfPub, err := p.keys.LoadSelfPublic(p.cfg.SelfAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: load self public key: %w", err)
	}
	var selfPriv *openpgp.Entity
	if priv, err := p.keys.LoadSelfPrivate(p.cfg.SelfAddr); err == nil {
		selfPriv = priv
	}

	var selfKeyBuf bytes.Buffer
	if err := selfPub.Serialize(&selfKeyBuf); err != nil {
		return nil, nil, fmt.Errorf("pipeline: serialize self public key: %w", err)
	}
	autocryptOuter := autocrypt.RenderHeader(autocrypt.Header{
		Addr: p.cfg.SelfAddr, PreferEncrypt: autocrypt.PreferMutual, KeyData: selfKeyBuf.Bytes(),
	})

	headers := [][2]string{
		{"Message-ID", "<" + msg.RFC724MID + ">"},
		{"Date", time.Unix(msg.Timestamp, 0).UTC().Format(time.RFC1123Z)},
		{"From", p.cfg.SelfAddr},
		{"To", strings.Join(recipientAddrs, ", ")},
		{"Subject", msg.Subject},
		{"Chat-Version", "1.0"},
		{"Autocrypt", autocryptOuter},
	}
	if msg.MimeInReplyTo != "" {
		headers = append(headers, [2]string{"In-Reply-To", "<" + msg.MimeInReplyTo + ">"})
	}
	if msg.MimeReferences != "" {
		headers = append(headers, [2]string{"References", msg.MimeReferences})
	}
	if chat.GrpID != "" {
		headers = append(headers,
			[2]string{"Chat-Group-ID", chat.GrpID},
			[2]string{"Chat-Group-Name", chat.Name},
		)
	}
	if msg.EphemeralTimer > 0 {
		headers = append(headers, [2]string{"Chat-Ephemeral-Timer", strconv.FormatInt(msg.EphemeralTimer, 10)})
	}
	if lat := msg.Param.Get(chatstore.ParamSetLatitude); lat != "" {
		headers = append(headers,
			[2]string{"Chat-Set-Latitude", lat},
			[2]string{"Chat-Set-Longitude", msg.Param.Get(chatstore.ParamSetLongitude)},
		)
	}

	body, err := p.outgoingBody(msg)
	if err != nil {
		return nil, nil, err
	}

	buildIn := mimepkg.BuildInput{
		OuterHeaders:   headers,
		Body:           body,
		RecipientKeys:  recipientKeys,
		GossipHeaders:  gossipHeaders,
		AutocryptOuter: autocryptOuter,
	}
	if guaranteeE2ee && len(recipientKeys) == len(members)-1 {
		buildIn.SelfPublicKey = selfPub
		buildIn.SignWith = selfPriv
	} else if selfPriv != nil {
		buildIn.SignWith = selfPriv
	}

	result, err := mimepkg.Build(buildIn)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: build outgoing mime: %w", err)
	}
	return result, recipientAddrs, nil
}

func (p *Pipeline) outgoingBody(msg *chatstore.Message) ([]byte, error) {
	file := msg.Param.Get(chatstore.ParamFile)
	if file == "" {
		return nil, nil
	}
	return p.readBlob(file)
}

// RegisterSendHandler wires the SMTP send job action to a transport
// collaborator. transport is typically an SMTP client; it is injected
// so this package never depends on a concrete mail-submission library.
func (p *Pipeline) RegisterSendHandler(transport Transport) {
	p.jobs.RegisterHandler(jobqueue.ActionSendMsg, jobqueue.HandlerFunc(func(ctx context.Context, job *jobqueue.Job) jobqueue.Result {
		return p.handleSendJob(job, transport)
	}))
}

// Transport delivers already-rendered outbound mail. Implemented by an
// SMTP client collaborator outside this package.
type Transport interface {
	Send(from string, to []string, raw []byte) error
}

func (p *Pipeline) handleSendJob(job *jobqueue.Job, transport Transport) jobqueue.Result {
	msg, err := p.chats.GetMessage(job.ForeignID)
	if err != nil {
		p.log.Error().Err(err).Int64("msg", job.ForeignID).Msg("send job: message vanished")
		return jobqueue.ResultFailed
	}
	chat, err := p.chats.GetChat(msg.ChatID)
	if err != nil {
		p.log.Error().Err(err).Int64("chat", msg.ChatID).Msg("send job: chat vanished")
		return jobqueue.ResultFailed
	}

	built, recipients, err := p.RenderOutgoing(msg, chat)
	if err != nil {
		p.log.Warn().Err(err).Int64("msg", msg.ID).Msg("send job: render failed, retrying later")
		return jobqueue.ResultRetryLater
	}

	if err := transport.Send(p.cfg.SelfAddr, recipients, built.Raw); err != nil {
		p.log.Warn().Err(err).Int64("msg", msg.ID).Msg("send job: transport failed, retrying later")
		return jobqueue.ResultRetryLater
	}

	if err := p.chats.SetState(msg.ID, chatstore.StateOutDelivered); err != nil {
		p.log.Error().Err(err).Int64("msg", msg.ID).Msg("send job: failed to mark delivered")
	}
	return jobqueue.ResultSuccess
}
