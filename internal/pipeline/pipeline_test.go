package pipeline

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/hkdb/aerion-core/internal/autocrypt"
	"github.com/hkdb/aerion-core/internal/chatstore"
	"github.com/hkdb/aerion-core/internal/credentials"
	"github.com/hkdb/aerion-core/internal/database"
	"github.com/hkdb/aerion-core/internal/jobqueue"
	"github.com/hkdb/aerion-core/internal/keyring"
)

const testSelfAddr = "alice@example.org"

func newTestPipeline(t *testing.T) (*Pipeline, *chatstore.Store, *autocrypt.Store, *sql.DB) {
	t.Helper()
	dir := t.TempDir()

	db, err := database.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cred, err := credentials.NewStore(db.DB, dir)
	if err != nil {
		t.Fatalf("new credentials store: %v", err)
	}
	keys := keyring.NewStore(db.DB, cred)
	if _, err := keys.EnsureSecretKeyExists(testSelfAddr, 1024); err != nil {
		t.Fatalf("ensure self key: %v", err)
	}

	peers := autocrypt.NewStore(db.DB, func(keyData []byte) (string, error) {
		entities, err := keyring.ParseBinaryKey(keyData)
		if err != nil {
			return "", err
		}
		return keyring.Fingerprint(entities[0]), nil
	})

	chats := chatstore.NewStore(db.DB)
	jobs := jobqueue.NewQueue(db.DB)

	cfg := Config{SelfAddr: testSelfAddr, Hostname: "example.org", BlobDir: filepath.Join(dir, "blobs")}
	return NewPipeline(chats, keys, peers, jobs, cfg), chats, peers, db.DB
}

func rawMessage(messageID, from, to, subject, body string) []byte {
	return []byte(fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMessage-Id: <%s>\r\nDate: Fri, 31 Jul 2026 10:00:00 +0000\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s",
		from, to, subject, messageID, body))
}

func TestReceivePlaintextCreatesSingleChat(t *testing.T) {
	p, chats, _, _ := newTestPipeline(t)

	raw := rawMessage("msg1@bob.example", "bob@example.org", testSelfAddr, "hi", "hello there")
	result, err := p.Receive(raw, "INBOX", 1)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if result.Known {
		t.Fatalf("first sighting of a message must not be reported as known")
	}

	msg, err := chats.GetMessage(result.MsgID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if msg.State != chatstore.StateInFresh {
		t.Fatalf("state = %d, want StateInFresh (self was in the To: line, so the sender is accepted)", msg.State)
	}
	if msg.Subject != "hi" {
		t.Fatalf("subject = %q, want %q", msg.Subject, "hi")
	}

	chat, err := chats.GetChat(result.ChatID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if chat.Type != chatstore.ChatTypeSingle {
		t.Fatalf("chat type = %d, want ChatTypeSingle", chat.Type)
	}
}

func TestReceiveUnacceptedSenderGoesToDeaddrop(t *testing.T) {
	p, chats, _, _ := newTestPipeline(t)

	// carol is bcc'd: neither To nor Cc names self, so her origin stays
	// OriginIncomingUnknownFrom, which is below the verified threshold.
	raw := rawMessage("msg2@carol.example", "carol@example.org", "someoneelse@example.org", "hey", "body")
	result, err := p.Receive(raw, "INBOX", 2)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if result.ChatID != chatstore.ChatDeaddrop {
		t.Fatalf("chat id = %d, want ChatDeaddrop (%d)", result.ChatID, chatstore.ChatDeaddrop)
	}

	msg, err := chats.GetMessage(result.MsgID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if msg.State != chatstore.StateInNoticed {
		t.Fatalf("state = %d, want StateInNoticed for a deaddrop message", msg.State)
	}
}

func TestReceiveKnownMessageIdReconciles(t *testing.T) {
	p, chats, _, _ := newTestPipeline(t)

	raw := rawMessage("dup@bob.example", "bob@example.org", testSelfAddr, "hi", "hello")
	first, err := p.Receive(raw, "INBOX", 1)
	if err != nil {
		t.Fatalf("first receive: %v", err)
	}

	second, err := p.Receive(raw, "INBOX.Archive", 99)
	if err != nil {
		t.Fatalf("second receive: %v", err)
	}
	if !second.Known {
		t.Fatalf("second receive of the same Message-Id must be reported as known")
	}
	if second.MsgID != first.MsgID {
		t.Fatalf("msg id = %d, want %d (no duplicate row)", second.MsgID, first.MsgID)
	}

	msg, err := chats.GetMessage(first.MsgID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if msg.ServerFolder != "INBOX.Archive" || msg.ServerUID != 99 {
		t.Fatalf("server location not reconciled: folder=%q uid=%d", msg.ServerFolder, msg.ServerUID)
	}
}

func TestSendWithoutPeerKeyIsNotEncrypted(t *testing.T) {
	p, chats, _, db := newTestPipeline(t)

	bobID, err := chats.CreateOrUpdateContact("bob@example.org", "Bob", chatstore.OriginManuallyCreated, 1000)
	if err != nil {
		t.Fatalf("create contact: %v", err)
	}
	chatID, _, err := chats.FindOrCreateSingleChat(bobID, 1000)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	result, err := p.Send(chatID, DraftInput{Subject: "hi", Body: []byte("hello")})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.Encrypted {
		t.Fatalf("encrypted = true, want false (recipient has no known key)")
	}

	msg, err := chats.GetMessage(result.MsgID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if msg.State != chatstore.StateOutPending {
		t.Fatalf("state = %d, want StateOutPending", msg.State)
	}

	var jobCount int
	row := db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE action = ? AND foreign_id = ?`, jobqueue.ActionSendMsg, result.MsgID)
	if err := row.Scan(&jobCount); err != nil {
		t.Fatalf("count jobs: %v", err)
	}
	if jobCount != 1 {
		t.Fatalf("jobs for message = %d, want 1", jobCount)
	}
}

func TestReceiveMDNTransitionsToMDNRcvd(t *testing.T) {
	p, chats, _, _ := newTestPipeline(t)

	bobID, err := chats.CreateOrUpdateContact("bob@example.org", "Bob", chatstore.OriginOutgoingTo, 1000)
	if err != nil {
		t.Fatalf("create contact: %v", err)
	}
	chatID, _, err := chats.FindOrCreateSingleChat(bobID, 1000)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	sent := &chatstore.Message{
		ChatID: chatID, FromID: chatstore.ContactSelf, Timestamp: 1000, TimestampSent: 1000,
		Type: chatstore.TypeText, State: chatstore.StateOutDelivered, RFC724MID: "sent1@example.org",
		Param: chatstore.Params{},
	}
	sentID, err := chats.InsertMessage(sent)
	if err != nil {
		t.Fatalf("insert sent message: %v", err)
	}

	report := []byte("From: bob@example.org\r\nTo: alice@example.org\r\n" +
		"Subject: Read receipt\r\nMessage-Id: <mdn1@bob.example>\r\n" +
		"Date: Fri, 31 Jul 2026 10:05:00 +0000\r\n" +
		"Content-Type: multipart/report; report-type=disposition-notification; boundary=\"b1\"\r\n\r\n" +
		"--b1\r\nContent-Type: text/plain\r\n\r\nThis is a read receipt.\r\n" +
		"--b1\r\nContent-Type: message/disposition-notification\r\n\r\n" +
		"Original-Message-ID: <sent1@example.org>\r\nDisposition: manual-action/MDN-sent-automatically; displayed\r\n" +
		"--b1--\r\n")

	result, err := p.Receive(report, "INBOX", 5)
	if err != nil {
		t.Fatalf("receive mdn: %v", err)
	}
	if result.MsgID != sentID {
		t.Fatalf("mdn resolved to msg id %d, want %d", result.MsgID, sentID)
	}

	msg, err := chats.GetMessage(sentID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if msg.State != chatstore.StateOutMDNRcvd {
		t.Fatalf("state = %d, want StateOutMDNRcvd", msg.State)
	}
}

func TestSendReplyThreadsToParent(t *testing.T) {
	p, chats, _, _ := newTestPipeline(t)

	bobID, err := chats.CreateOrUpdateContact("bob@example.org", "Bob", chatstore.OriginIncomingTo, 1000)
	if err != nil {
		t.Fatalf("create contact: %v", err)
	}
	chatID, _, err := chats.FindOrCreateSingleChat(bobID, 1000)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	incoming := &chatstore.Message{
		ChatID: chatID, FromID: bobID, Timestamp: 1000, RFC724MID: "incoming@bob.example",
		Type: chatstore.TypeText, State: chatstore.StateInFresh, Param: chatstore.Params{},
	}
	if _, err := chats.InsertMessage(incoming); err != nil {
		t.Fatalf("insert incoming: %v", err)
	}

	result, err := p.Send(chatID, DraftInput{Subject: "re: hi", Body: []byte("reply")})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	msg, err := chats.GetMessage(result.MsgID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if msg.MimeInReplyTo != "incoming@bob.example" {
		t.Fatalf("in-reply-to = %q, want %q", msg.MimeInReplyTo, "incoming@bob.example")
	}
}
