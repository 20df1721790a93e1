package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/hkdb/aerion-core/internal/autocrypt"
	"github.com/hkdb/aerion-core/internal/chatstore"
	"github.com/hkdb/aerion-core/internal/keyring"
	"github.com/hkdb/aerion-core/internal/mimepkg"
	"github.com/hkdb/aerion-core/internal/threadmodel"
)

// ReceiveResult is the outcome of processing one inbound message.
type ReceiveResult struct {
	MsgID  int64
	ChatID int64
	Known  bool
	Events []Event
}

// Receive implements §4.5's inbound pipeline: parse, decrypt, update
// peer state, resolve the sender and destination chat, and persist the
// message.
func (p *Pipeline) Receive(raw []byte, serverFolder string, serverUID uint32) (*ReceiveResult, error) {
	tree, err := mimepkg.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("pipeline: parse message: %w", err)
	}

	messageID := stripAngles(tree.OuterHeader.Get("Message-Id"))
	fromAddr, fromName := parseFirstAddress(tree.OuterHeader.Get("From"))
	if fromAddr == "" {
		return nil, fmt.Errorf("pipeline: message has no usable From address")
	}
	toAddrs := parseAddressList(tree.OuterHeader.Get("To"))
	ccAddrs := parseAddressList(tree.OuterHeader.Get("Cc"))
	messageTime := parseDateOrNow(tree.OuterHeader.Get("Date"), p.now())
	isReport := tree.Root.ContentType == "multipart/report"

	if isReport && strings.EqualFold(tree.Root.Params["report-type"], "disposition-notification") {
		if handled, err := p.handleMDN(tree, fromAddr, serverFolder, serverUID); err != nil {
			return nil, fmt.Errorf("pipeline: handle mdn: %w", err)
		} else if handled != nil {
			return handled, nil
		}
	}

	recipients := map[string]bool{}
	toSelf, ccSelf := false, false
	self := strings.ToLower(p.cfg.SelfAddr)
	for _, a := range toAddrs {
		recipients[strings.ToLower(a)] = true
		if strings.ToLower(a) == self {
			toSelf = true
		}
	}
	for _, a := range ccAddrs {
		recipients[strings.ToLower(a)] = true
		if strings.ToLower(a) == self {
			ccSelf = true
		}
	}

	// Step: decrypt. The verify keyring is whatever this sender's peer
	// state already held before this message updates it, per §4.2's
	// "Apply after signature verification" ordering.
	var selfKeyring openpgp.EntityList
	if priv, err := p.keys.LoadSelfPrivate(p.cfg.SelfAddr); err == nil {
		selfKeyring = openpgp.EntityList{priv}
	}

	existingPs, hadPs, err := p.peers.LookupByAddress(fromAddr)
	if err != nil {
		return nil, fmt.Errorf("pipeline: lookup peer state: %w", err)
	}
	var verifyKeyring openpgp.EntityList
	if hadPs {
		verifyKeyring = peerVerifyKeyring(existingPs)
	}

	decResult := mimepkg.Decrypt(tree, selfKeyring, verifyKeyring)

	// Step: update the sender's peer state from any outer Autocrypt
	// header (§4.2 steps 1-5).
	var autoHeader *autocrypt.Header
	if raw := tree.OuterHeader.Get("Autocrypt"); raw != "" {
		if h, err := autocrypt.ParseHeader(raw); err == nil {
			autoHeader = &h
		}
	}
	ps := existingPs
	if !hadPs {
		ps = &autocrypt.PeerState{Addr: fromAddr}
	}
	applyResult := autocrypt.Apply(ps, messageTime, autoHeader, isReport)
	if applyResult.PublicKeyChanged {
		fpResult, err := p.peers.RecomputeFingerprints(ps, true)
		if err != nil {
			return nil, fmt.Errorf("pipeline: recompute fingerprints: %w", err)
		}
		if fpResult.Degraded {
			applyResult.Degraded = true
		}
	}
	if err := p.peers.Save(ps, !hadPs); err != nil {
		return nil, fmt.Errorf("pipeline: save peer state: %w", err)
	}

	// Step: apply gossip carried inside a decrypted inner wrapper
	// (§4.2's apply-gossip rules; scoped to recipients of this message).
	for _, raw := range decResult.GossipHeaders {
		addr := mimepkg.ExtractGossipAddr(raw)
		if addr == "" || !recipients[strings.ToLower(addr)] {
			continue
		}
		gh, err := autocrypt.ParseHeader(raw)
		if err != nil {
			continue
		}
		gossipPs, hadGossipPs, err := p.peers.LookupByAddress(gh.Addr)
		if err != nil {
			return nil, fmt.Errorf("pipeline: lookup gossip peer state: %w", err)
		}
		if !hadGossipPs {
			gossipPs = &autocrypt.PeerState{Addr: gh.Addr}
		}
		changed, err := autocrypt.ApplyGossip(gossipPs, messageTime, gh.Addr, gh.KeyData, recipients)
		if err != nil {
			return nil, fmt.Errorf("pipeline: apply gossip: %w", err)
		}
		if changed {
			if _, err := p.peers.RecomputeFingerprints(gossipPs, false); err != nil {
				return nil, fmt.Errorf("pipeline: recompute gossip fingerprint: %w", err)
			}
			if err := p.peers.Save(gossipPs, !hadGossipPs); err != nil {
				return nil, fmt.Errorf("pipeline: save gossip peer state: %w", err)
			}
		}
	}

	// Step: resolve the From contact, scaling origin up per §3.
	origin := chatstore.OriginIncomingUnknownFrom
	switch {
	case toSelf:
		origin = chatstore.OriginIncomingTo
	case ccSelf:
		origin = chatstore.OriginIncomingCc
	}
	fromContactID, err := p.chats.CreateOrUpdateContact(fromAddr, fromName, origin, messageTime)
	if err != nil {
		return nil, fmt.Errorf("pipeline: resolve from contact: %w", err)
	}

	// Step: Message-ID precheck. A known Message-ID only reconciles its
	// server location, per §4.5 step 3.
	if messageID == "" {
		messageID = threadmodel.NewDirectMessageID(p.cfg.Hostname)
	} else if existing, known, err := p.chats.GetMessageByRFC724MID(messageID); err != nil {
		return nil, fmt.Errorf("pipeline: message-id precheck: %w", err)
	} else if known {
		if err := p.chats.ReconcileServerLocation(existing.ID, serverFolder, serverUID); err != nil {
			return nil, fmt.Errorf("pipeline: reconcile server location: %w", err)
		}
		return &ReceiveResult{MsgID: existing.ID, ChatID: existing.ChatID, Known: true}, nil
	}

	// Step: resolve the destination chat.
	chatID, events, err := p.resolveDestinationChat(tree, messageID, fromContactID, messageTime)
	if err != nil {
		return nil, fmt.Errorf("pipeline: resolve destination chat: %w", err)
	}

	// Step: deaddrop routing for unaccepted senders (§3/§4.5), unless
	// the message is a bcc-to-self reconciliation (From==self).
	if fromContactID != chatstore.ContactSelf {
		contact, err := p.chats.GetContact(fromContactID)
		if err != nil {
			return nil, fmt.Errorf("pipeline: load from contact: %w", err)
		}
		if !contact.Origin.IsVerified() && !contact.Blocked {
			chatID = chatstore.ChatDeaddrop
		} else if contact.Blocked {
			return &ReceiveResult{Events: events}, nil
		}
	}

	state := chatstore.StateInFresh
	if chatID == chatstore.ChatDeaddrop {
		state = chatstore.StateInNoticed
	}

	msg := &chatstore.Message{
		ChatID:         chatID,
		FromID:         fromContactID,
		Timestamp:      messageTime,
		TimestampSent:  messageTime,
		TimestampRcvd:  p.now(),
		Type:           chatstore.TypeText,
		State:          state,
		RFC724MID:      messageID,
		MimeInReplyTo:  stripAngles(tree.OuterHeader.Get("In-Reply-To")),
		MimeReferences: tree.OuterHeader.Get("References"),
		ServerFolder:   serverFolder,
		ServerUID:      serverUID,
		Subject:        tree.OuterHeader.Get("Subject"),
		Param:          chatstore.Params{},
	}

	if v := tree.OuterHeader.Get("Chat-Ephemeral-Timer"); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			if err := p.chats.SetEphemeralTimer(chatID, secs); err != nil {
				return nil, fmt.Errorf("pipeline: set ephemeral timer: %w", err)
			}
			msg.EphemeralTimer = secs
		}
	}
	if decResult.IsFullyEncrypted() {
		msg.Param.SetInt(chatstore.ParamGuaranteeE2ee, 1)
	}
	if !decResult.AnyDecrypted && applyResult.Degraded {
		events = append(events, Event{Kind: EventWarning, ChatID: chatID, Text: "end-to-end encryption guarantee lost for " + fromAddr})
	}

	msgID, err := p.chats.InsertMessage(msg)
	if err != nil {
		return nil, fmt.Errorf("pipeline: insert message: %w", err)
	}

	events = append(events, Event{Kind: EventMsgsChanged, ChatID: chatID, MsgID: msgID})
	if state == chatstore.StateInFresh {
		events = append(events, Event{Kind: EventIncomingMsg, ChatID: chatID, MsgID: msgID})
	}

	return &ReceiveResult{MsgID: msgID, ChatID: chatID, Events: events}, nil
}

// handleMDN implements the supplemented MDN/read-receipt reconciliation
// described in SPEC_FULL.md: an inbound multipart/report;
// report-type=disposition-notification whose embedded
// message/disposition-notification part names an Original-Message-ID we
// previously delivered transitions that message to OUT_MDN_RCVD. A
// non-nil ReceiveResult means the report was fully handled and Receive
// should return immediately without falling through to normal message
// ingestion (a disposition notification is never itself stored as a
// chat message). A nil result with a nil error means the report did not
// reference a message we recognize, and the caller should fall through
// to storing it as an ordinary (report) message instead.
func (p *Pipeline) handleMDN(tree *mimepkg.Tree, fromAddr, serverFolder string, serverUID uint32) (*ReceiveResult, error) {
	var notification *mimepkg.Part
	for _, child := range tree.Root.Children {
		if child.ContentType == "message/disposition-notification" {
			notification = child
			break
		}
	}
	if notification == nil {
		return nil, nil
	}

	origMID := stripAngles(extractNotificationField(notification.Body, "Original-Message-ID"))
	if origMID == "" {
		return nil, nil
	}

	orig, known, err := p.chats.GetMessageByRFC724MID(origMID)
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, nil
	}

	contactID, ok, err := p.chats.LookupContactByAddr(fromAddr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	if err := p.chats.InsertMDN(orig.ID, contactID, orig.TimestampSent); err != nil {
		return nil, err
	}
	if err := p.chats.SetState(orig.ID, chatstore.StateOutMDNRcvd); err != nil {
		return nil, err
	}

	return &ReceiveResult{
		MsgID:  orig.ID,
		ChatID: orig.ChatID,
		Known:  true,
		Events: []Event{{Kind: EventMsgsChanged, ChatID: orig.ChatID, MsgID: orig.ID}},
	}, nil
}

// extractNotificationField scans a message/disposition-notification
// body (itself an RFC 822 header-like field list, not a MIME entity
// body) for the named field, case-insensitively.
func extractNotificationField(body []byte, field string) string {
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimRight(line, "\r")
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(line[:idx]), field) {
			return strings.TrimSpace(line[idx+1:])
		}
	}
	return ""
}

// resolveDestinationChat implements §4.5's chat-resolution sub-step:
// group membership commands for a Chat-Group-Id-bearing (or
// Gr.-prefixed Message-Id) message, otherwise a 1:1 chat with the
// sender.
func (p *Pipeline) resolveDestinationChat(tree *mimepkg.Tree, messageID string, fromContactID int64, now int64) (int64, []Event, error) {
	var events []Event

	grpID := tree.OuterHeader.Get("Chat-Group-Id")
	if grpID == "" {
		if gid, ok := threadmodel.ExtractGroupID(messageID); ok {
			grpID = gid
		}
	}

	if grpID == "" {
		chatID, _, err := p.chats.FindOrCreateSingleChat(fromContactID, now)
		return chatID, events, err
	}

	left, err := p.chats.HasLeft(grpID)
	if err != nil {
		return 0, nil, err
	}

	name := tree.OuterHeader.Get("Chat-Group-Name")
	verified := tree.OuterHeader.Get("Chat-Verified") != ""
	chatID, created, err := p.chats.FindOrCreateGroupChat(grpID, name, verified, now)
	if err != nil {
		return 0, nil, err
	}
	if created {
		events = append(events, Event{Kind: EventChatModified, ChatID: chatID})
	}
	if left {
		return chatID, events, nil
	}

	if name != "" && !created {
		if err := p.chats.Rename(chatID, name); err != nil {
			return 0, nil, err
		}
	}

	if addedAddr := tree.OuterHeader.Get("Chat-Group-Member-Added"); addedAddr != "" {
		memberID, err := p.chats.CreateOrUpdateContact(addedAddr, "", chatstore.OriginCreateChat, now)
		if err != nil {
			return 0, nil, err
		}
		if err := p.chats.AddMember(chatID, memberID); err != nil {
			return 0, nil, err
		}
		events = append(events, Event{Kind: EventChatModified, ChatID: chatID})
	}
	if removedAddr := tree.OuterHeader.Get("Chat-Group-Member-Removed"); removedAddr != "" {
		if strings.EqualFold(removedAddr, p.cfg.SelfAddr) {
			if err := p.chats.MarkLeft(grpID); err != nil {
				return 0, nil, err
			}
			if err := p.chats.RemoveMember(chatID, chatstore.ContactSelf); err != nil {
				return 0, nil, err
			}
		} else if memberID, ok, err := p.chats.LookupContactByAddr(removedAddr); err != nil {
			return 0, nil, err
		} else if ok {
			if err := p.chats.RemoveMember(chatID, memberID); err != nil {
				return 0, nil, err
			}
		}
		events = append(events, Event{Kind: EventChatModified, ChatID: chatID})
	}

	if err := p.chats.AddMember(chatID, fromContactID); err != nil {
		return 0, nil, err
	}

	return chatID, events, nil
}

// peerVerifyKeyring builds the keyring Decrypt checks signatures
// against: the previously-stored public key, falling back to the
// gossip key, matching §4.2's PeekKey preference order.
func peerVerifyKeyring(ps *autocrypt.PeerState) openpgp.EntityList {
	key := autocrypt.PeekKey(ps, autocrypt.AnyKey)
	if len(key) == 0 {
		return nil
	}
	entities, err := keyring.ParseBinaryKey(key)
	if err != nil {
		return nil
	}
	return entities
}
