// Command aerion-core runs one account's Autocrypt/OpenPGP-over-email
// engine as a headless daemon: it opens the SQLite store, starts the
// IMAP workers (inbox/movebox/sentbox) and the SMTP send-job worker,
// and serves until interrupted. There is no GUI shell in this port;
// the data directory comes from the AERION_DATA_DIR environment
// variable (default "."), and the configuration of the one local
// account this process drives is read from the database's config table.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hkdb/aerion-core/internal/accountcfg"
	"github.com/hkdb/aerion-core/internal/autocrypt"
	"github.com/hkdb/aerion-core/internal/chatstore"
	"github.com/hkdb/aerion-core/internal/contactsync"
	"github.com/hkdb/aerion-core/internal/credentials"
	"github.com/hkdb/aerion-core/internal/database"
	aimap "github.com/hkdb/aerion-core/internal/imap"
	"github.com/hkdb/aerion-core/internal/imapengine"
	"github.com/hkdb/aerion-core/internal/jobqueue"
	"github.com/hkdb/aerion-core/internal/keyring"
	"github.com/hkdb/aerion-core/internal/logging"
	"github.com/hkdb/aerion-core/internal/pipeline"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "aerion-core:", err)
		os.Exit(1)
	}
}

func run() error {
	log := logging.WithComponent("main")

	dataDir := os.Getenv("AERION_DATA_DIR")
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	db, err := database.Open(filepath.Join(dataDir, "aerion.db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	cred, err := credentials.NewStore(db.DB, dataDir)
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	cfgStore := accountcfg.NewStore(db.DB)
	keys := keyring.NewStore(db.DB, cred)
	chats := chatstore.NewStore(db.DB)
	peers := autocrypt.NewStore(db.DB, func(keyData []byte) (string, error) {
		entities, err := keyring.ParseKeyAuto(keyData)
		if err != nil {
			return "", err
		}
		return keyring.Fingerprint(entities[0]), nil
	})
	jobs := jobqueue.NewQueue(db.DB)

	addr, err := cfgStore.Get(accountcfg.KeyAddr)
	if err != nil {
		return fmt.Errorf("read account address: %w", err)
	}
	if addr == "" {
		return fmt.Errorf("no account configured: set %s via accountcfg before starting", accountcfg.KeyAddr)
	}

	plCfg := pipeline.Config{
		SelfAddr: addr,
		Hostname: hostnameFromAddr(addr),
		BlobDir:  filepath.Join(dataDir, "blobs"),
	}
	if err := os.MkdirAll(plCfg.BlobDir, 0o700); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}
	pl := pipeline.NewPipeline(chats, keys, peers, jobs, plCfg)

	getCredentials := func(accountID string) (*aimap.ClientConfig, error) {
		return accountIMAPConfig(cfgStore, cred)
	}

	pool := aimap.NewPool(aimap.DefaultPoolConfig(), getCredentials)
	defer pool.CloseAll()

	mvboxMove, _ := cfgStore.GetBool(accountcfg.KeyMvboxMove, false)
	inboxWatch, _ := cfgStore.GetBool(accountcfg.KeyInboxWatch, true)
	mvboxWatch, _ := cfgStore.GetBool(accountcfg.KeyMvboxWatch, true)
	sentboxWatch, _ := cfgStore.GetBool(accountcfg.KeySentboxWatch, false)
	moveboxName, _ := cfgStore.Get(accountcfg.KeyImapFolder)

	engine := imapengine.NewEngine(imapengine.Config{
		AccountID:    addr,
		MoveboxName:  moveboxName,
		MvboxMove:    mvboxMove,
		InboxWatch:   inboxWatch,
		MvboxWatch:   mvboxWatch,
		SentboxWatch: sentboxWatch,
	}, pool, jobs, pl, db.DB)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := engine.SyncFolders(ctx); err != nil {
		return fmt.Errorf("initial folder sync: %w", err)
	}

	workers := imapengine.NewWorkerSet(engine, getCredentials)
	workers.Start(ctx)
	defer workers.Stop()

	// The SMTP submission transport is an external collaborator per
	// this system's scope; nothing here implements one, so outbound
	// sends stay queued (visible via the jobs table) until a real
	// Transport is registered.
	smtpWorker := jobqueue.NewWorker(jobs, jobqueue.ThreadSMTP, 30*time.Second)
	smtpWorker.Start(ctx)
	defer smtpWorker.Stop()

	contactSources := contactsync.NewStore(db.DB)
	syncer := contactsync.NewSyncer(contactSources, cred, chats)
	contactScheduler := contactsync.NewScheduler(syncer, contactSources)
	contactScheduler.Start(ctx)
	defer contactScheduler.Stop()

	log.Info().Str("addr", addr).Msg("aerion-core running")
	<-ctx.Done()
	log.Info().Msg("shutting down")
	return nil
}

func accountIMAPConfig(cfgStore *accountcfg.Store, cred *credentials.Store) (*aimap.ClientConfig, error) {
	host, err := cfgStore.Get(accountcfg.KeyMailServer)
	if err != nil {
		return nil, err
	}
	user, err := cfgStore.Get(accountcfg.KeyMailUser)
	if err != nil {
		return nil, err
	}
	password, err := cred.GetMailPassword()
	if err != nil && err != credentials.ErrCredentialNotFound {
		return nil, err
	}

	cfg := aimap.DefaultConfig()
	cfg.Host = host
	cfg.Username = user
	cfg.Password = password
	return &cfg, nil
}

func hostnameFromAddr(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == '@' {
			return addr[i+1:]
		}
	}
	return addr
}
