package sync

import (
	"context"
	"sort"

	goimap "github.com/emersion/go-imap/v2"

	"github.com/aerionmail/mailcore/internal/folder"
)

// syncAccountInitialFast runs the inbox-first staged pipeline: Stage A lists
// every folder, Stage B pulls the newest InitialFastInboxCap inbox messages
// so the user has something to look at immediately, Stage C spends a larger
// budget across inbox/sent/other folders split 60/20/20 with a floor so no
// folder is starved, and Stage D then launches the unbounded background
// catch-up loop that eventually backfills everything.
func (e *Engine) syncAccountInitialFast(ctx context.Context, accountID string) error {
	listed, err := e.syncFolderList(ctx, accountID)
	if err != nil {
		return err
	}

	var inbox *listedFolder
	var sent []*listedFolder
	var other []*listedFolder
	for i := range listed {
		lf := &listed[i]
		if lf.skip {
			continue
		}
		switch lf.record.Type {
		case folder.TypeInbox:
			inbox = lf
		case folder.TypeSent:
			sent = append(sent, lf)
		default:
			other = append(other, lf)
		}
	}

	if inbox != nil {
		if err := e.syncFolderCapped(ctx, accountID, inbox.record.ID, e.cfg.InitialFastInboxCap); err != nil {
			e.log.Warn().Err(err).Str("account", accountID).Msg("stage B inbox fast pass failed")
		} else if err := e.folders.SetInitialFastCompleted(inbox.record.ID, true); err != nil {
			e.log.Warn().Err(err).Str("account", accountID).Msg("stage B failed to mark inbox fast pass complete")
		}
	}

	e.runStageC(ctx, accountID, inbox, sent, other)

	e.startCatchUpLoop(ctx, accountID)
	return nil
}

// runStageC spends StageCTotalCap messages across inbox/sent/other per the
// configured split, with each bucket guaranteed at least StageCFloor when it
// has that much backlog to offer.
func (e *Engine) runStageC(ctx context.Context, accountID string, inbox *listedFolder, sent, other []*listedFolder) {
	total := e.cfg.StageCTotalCap
	if total <= 0 {
		return
	}
	floor := e.cfg.StageCFloor

	inboxBudget := max(floor, int(float64(total)*e.cfg.StageCSplitInbox))
	sentBudget := max(floor, int(float64(total)*e.cfg.StageCSplitSent))
	otherBudget := max(floor, int(float64(total)*e.cfg.StageCSplitOther))

	if inbox != nil && inboxBudget > 0 {
		if err := e.syncFolderCapped(ctx, accountID, inbox.record.ID, inboxBudget); err != nil {
			e.log.Warn().Err(err).Str("folder", inbox.record.IMAPPath).Msg("stage C inbox pass failed")
		}
	}
	e.spendBudgetAcross(ctx, accountID, sent, sentBudget)
	e.spendBudgetAcross(ctx, accountID, other, otherBudget)
}

func (e *Engine) spendBudgetAcross(ctx context.Context, accountID string, folders []*listedFolder, budget int) {
	if len(folders) == 0 || budget <= 0 {
		return
	}
	per := budget / len(folders)
	if per < 1 {
		per = 1
	}
	for _, lf := range folders {
		if err := e.syncFolderCapped(ctx, accountID, lf.record.ID, per); err != nil {
			e.log.Warn().Err(err).Str("folder", lf.record.IMAPPath).Msg("stage C pass failed")
		}
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// syncFolderCapped is SyncFolder restricted to the newest `limit` messages,
// used by Stage B/C where speed to first content matters more than
// completeness; Stage D's unbounded catch-up loop covers the rest.
func (e *Engine) syncFolderCapped(ctx context.Context, accountID, folderID string, limit int) error {
	lease, err := e.coordinator.Acquire(ctx, accountID, folderID)
	if err != nil {
		return err
	}
	defer lease.Release()

	f, err := e.folders.Get(folderID)
	if err != nil {
		return err
	}
	if f == nil {
		return nil
	}

	conn, err := e.checkout(ctx, accountID)
	if err != nil {
		return err
	}
	client := conn.Client()

	selected, err := client.SelectFolder(ctx, f.IMAPPath)
	if err != nil {
		e.pool.Discard(conn)
		return err
	}

	allUIDs, err := client.SearchAllUIDs(ctx)
	if err != nil {
		e.pool.Discard(conn)
		return err
	}

	known, err := e.emails.KnownUIDs(f.ID)
	if err != nil {
		e.pool.Checkin(conn)
		return err
	}

	sort.Slice(allUIDs, func(i, j int) bool { return allUIDs[i] > allUIDs[j] })
	var candidates []goimap.UID
	for _, u := range allUIDs {
		if known[uint32(u)] {
			continue
		}
		candidates = append(candidates, u)
		if len(candidates) >= limit {
			break
		}
	}

	if len(candidates) == 0 {
		e.pool.Checkin(conn)
		return nil
	}

	if err := e.syncMessageBatch(ctx, client, f, candidates); err != nil {
		e.pool.Discard(conn)
		return err
	}
	e.pool.Checkin(conn)

	var highest uint32
	for _, u := range candidates {
		if uint32(u) > highest {
			highest = uint32(u)
		}
	}
	if highest > 0 && (f.ForwardCursorUID == nil || highest > *f.ForwardCursorUID) {
		if err := e.folders.AdvanceForwardCursor(f.ID, highest); err != nil {
			return err
		}
	}
	return e.folders.UpdateCounts(f.ID, int(selected.Messages), 0)
}

// startCatchUpLoop runs Stage D: repeatedly calls SyncFolder in CatchUp mode
// for every folder of the account that is not complete or paused (shouldSync
// is not applied here) until a full pass finds nothing new in any of them,
// marking a folder complete once a pass over it adds nothing. Cancelled by
// PauseCatchUp.
func (e *Engine) startCatchUpLoop(ctx context.Context, accountID string) {
	loopCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	if existing, ok := e.catchUpCancel[accountID]; ok {
		existing()
	}
	e.catchUpCancel[accountID] = cancel
	e.mu.Unlock()

	go func() {
		defer cancel()
		for {
			select {
			case <-loopCtx.Done():
				return
			default:
			}

			folders, err := e.folders.ListByAccount(accountID)
			if err != nil {
				e.log.Warn().Err(err).Str("account", accountID).Msg("catch-up loop: failed to list folders")
				return
			}

			progressed := false
			for _, f := range folders {
				if f.CatchUpStatus == folder.CatchUpComplete || f.CatchUpStatus == folder.CatchUpPaused {
					continue
				}
				select {
				case <-loopCtx.Done():
					return
				default:
				}

				if err := e.folders.SetCatchUpStatus(f.ID, folder.CatchUpRunning); err != nil {
					continue
				}

				before, _ := e.emails.KnownUIDs(f.ID)
				if err := e.SyncFolder(loopCtx, accountID, f.ID, FolderCatchUp); err != nil {
					e.log.Warn().Err(err).Str("folder", f.IMAPPath).Msg("catch-up pass failed")
					continue
				}
				after, _ := e.emails.KnownUIDs(f.ID)
				if len(after) > len(before) {
					progressed = true
				} else {
					_ = e.folders.SetCatchUpStatus(f.ID, folder.CatchUpComplete)
				}
			}

			if !progressed {
				return
			}
		}
	}()
}
