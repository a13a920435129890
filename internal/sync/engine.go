// Package sync implements C9 SyncEngine: folder discovery, staged message
// pull, identity/thread resolution, dedup, cursor maintenance, and
// write-side reconciliation, built on top of the connection pool,
// credential resolver, and per-(account,folder) coordinator.
package sync

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aerionmail/mailcore/internal/account"
	"github.com/aerionmail/mailcore/internal/config"
	"github.com/aerionmail/mailcore/internal/credresolver"
	"github.com/aerionmail/mailcore/internal/email"
	"github.com/aerionmail/mailcore/internal/folder"
	"github.com/aerionmail/mailcore/internal/foldersync"
	"github.com/aerionmail/mailcore/internal/imap"
	"github.com/aerionmail/mailcore/internal/logging"
	"github.com/aerionmail/mailcore/internal/mailerrors"
)

// AccountMode is SyncAccount's mode parameter.
type AccountMode int

const (
	ModeFull AccountMode = iota
	ModeInitialFast
	ModeIncremental
)

// FolderMode is SyncFolder's mode parameter.
type FolderMode int

const (
	FolderIncremental FolderMode = iota
	FolderCatchUp
)

// Engine is C9 SyncEngine.
type Engine struct {
	pool        *imap.Pool
	credentials *credresolver.Resolver
	accounts    *account.Store
	folders     *folder.Store
	emails      *email.Store
	coordinator *foldersync.Coordinator
	cfg         config.Defaults
	log         zerolog.Logger

	mu            sync.Mutex
	catchUpCancel map[string]context.CancelFunc
}

func New(
	pool *imap.Pool,
	credentials *credresolver.Resolver,
	accounts *account.Store,
	folders *folder.Store,
	emails *email.Store,
	coordinator *foldersync.Coordinator,
	cfg config.Defaults,
) *Engine {
	return &Engine{
		pool:          pool,
		credentials:   credentials,
		accounts:      accounts,
		folders:       folders,
		emails:        emails,
		coordinator:   coordinator,
		cfg:           cfg,
		log:           logging.WithComponent("sync-engine"),
		catchUpCancel: make(map[string]context.CancelFunc),
	}
}

func (e *Engine) checkout(ctx context.Context, accountID string) (*imap.PooledConnection, error) {
	return e.pool.Checkout(ctx, accountID)
}

// SyncAccount orchestrates a folder-list sync followed by per-folder message
// sync; InitialFast instead runs the inbox-first staged pipeline.
func (e *Engine) SyncAccount(ctx context.Context, accountID string, mode AccountMode) error {
	if mode == ModeInitialFast {
		return e.syncAccountInitialFast(ctx, accountID)
	}

	listed, err := e.syncFolderList(ctx, accountID)
	if err != nil {
		return err
	}

	fm := FolderIncremental
	if mode == ModeFull {
		fm = FolderCatchUp
	}
	for _, lf := range listed {
		if lf.skip {
			continue
		}
		if err := e.SyncFolder(ctx, accountID, lf.record.ID, fm); err != nil {
			e.log.Warn().Err(err).Str("account", accountID).Str("folder", lf.record.IMAPPath).Msg("folder sync failed, continuing")
		}
	}
	return nil
}

// listedFolder pairs a freshly-listed IMAP mailbox with its (now upserted)
// persisted row and whether it should be pulled from.
type listedFolder struct {
	remote *imap.Folder
	record *folder.Folder
	skip   bool
}

// syncFolderList runs a single LIST "" "*" and upserts every mailbox.
func (e *Engine) syncFolderList(ctx context.Context, accountID string) ([]listedFolder, error) {
	acct, err := e.accounts.Get(accountID)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, mailerrors.New(mailerrors.NoCredentials, "unknown account "+accountID)
	}

	conn, err := e.checkout(ctx, accountID)
	if err != nil {
		return nil, err
	}
	client := conn.Client()

	remoteFolders, err := client.ListFolders(ctx)
	if err != nil {
		e.pool.Discard(conn)
		return nil, err
	}
	e.pool.Checkin(conn)

	out := make([]listedFolder, 0, len(remoteFolders))
	for _, rf := range remoteFolders {
		rec, err := e.folders.UpsertByPath(&folder.Folder{
			AccountID: accountID,
			Name:      rf.Name,
			IMAPPath:  rf.Name,
			Delimiter: rf.Delimiter,
			Type:      folderTypeOf(rf),
		})
		if err != nil {
			e.log.Warn().Err(err).Str("folder", rf.Name).Msg("failed to upsert folder")
			continue
		}
		out = append(out, listedFolder{remote: rf, record: rec, skip: !shouldSync(rf, acct)})
	}
	return out, nil
}

// PauseCatchUp cancels the account's Stage D loop and marks every running
// folder paused; an in-flight fetch finishes its current batch before the
// loop itself observes the cancellation.
func (e *Engine) PauseCatchUp(accountID string) error {
	e.mu.Lock()
	if cancel, ok := e.catchUpCancel[accountID]; ok {
		cancel()
		delete(e.catchUpCancel, accountID)
	}
	e.mu.Unlock()

	folders, err := e.folders.ListByAccount(accountID)
	if err != nil {
		return err
	}
	for _, f := range folders {
		if f.CatchUpStatus == folder.CatchUpRunning {
			if err := e.folders.SetCatchUpStatus(f.ID, folder.CatchUpPaused); err != nil {
				return err
			}
		}
	}
	return nil
}

// ResumeCatchUp restarts the Stage D background loop for an account.
func (e *Engine) ResumeCatchUp(ctx context.Context, accountID string) error {
	folders, err := e.folders.ListByAccount(accountID)
	if err != nil {
		return err
	}
	for _, f := range folders {
		if f.CatchUpStatus == folder.CatchUpPaused {
			if err := e.folders.SetCatchUpStatus(f.ID, folder.CatchUpIdle); err != nil {
				return err
			}
		}
	}
	e.startCatchUpLoop(ctx, accountID)
	return nil
}
