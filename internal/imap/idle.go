package imap

import (
	"context"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/rs/zerolog"

	"github.com/aerionmail/mailcore/internal/logging"
	"github.com/aerionmail/mailcore/internal/mailerrors"
)

// EventType distinguishes the two kinds of notification IDLEMonitor emits.
type EventType int

const (
	EventNewMail EventType = iota
	EventDisconnected
)

func (t EventType) String() string {
	if t == EventNewMail {
		return "new_mail"
	}
	return "disconnected"
}

// Event is one item on a monitor's subscription channel.
type Event struct {
	Type      EventType
	AccountID string
	Folder    string
	Err       error // set when Type == EventDisconnected and caused by an error
}

// IdleMonitorConfig tunes one subscription's IDLE cycling.
type IdleMonitorConfig struct {
	// IdleRefresh is how long to stay in one IDLE command before DONE/re-IDLE
	// (spec §6 default 25 min; RFC 2177 recommends well under 29 min).
	IdleRefresh time.Duration
	// ReadDeadline is set to idle_refresh + 60s by DefaultIdleMonitorConfig.
	// idleLoop does not read it: reads during IDLE are bounded only by the
	// client's per-read ClientConfig.ReadTimeout.
	ReadDeadline time.Duration
	HealthCheck  bool
}

func DefaultIdleMonitorConfig(idleRefresh time.Duration) IdleMonitorConfig {
	return IdleMonitorConfig{
		IdleRefresh:  idleRefresh,
		ReadDeadline: idleRefresh + 60*time.Second,
		HealthCheck:  true,
	}
}

// Monitor is C10 IDLEMonitor: a lazy per-(account, folder) event stream. Each
// Subscribe call owns one pooled connection for its lifetime.
type Monitor struct {
	pool *Pool
	log  zerolog.Logger
}

func NewMonitor(pool *Pool) *Monitor {
	return &Monitor{pool: pool, log: logging.WithComponent("imap-idle")}
}

// Subscribe checks out a dedicated connection, SELECTs folder, and cycles
// IDLE until ctx is cancelled or an error occurs. Per spec §4.10: normal
// cancellation emits nothing further; an error emits one EventDisconnected
// before the channel closes. The connection is always checked back in (or
// discarded, if unhealthy) on exit.
func (m *Monitor) Subscribe(ctx context.Context, accountID, folder string, cfg IdleMonitorConfig) (<-chan Event, error) {
	conn, err := m.pool.Checkout(ctx, accountID)
	if err != nil {
		return nil, err
	}

	client := conn.Client()
	if !client.SupportsIdle() {
		m.pool.Checkin(conn)
		return nil, mailerrors.New(mailerrors.CommandFailed, "server does not support IDLE")
	}

	if _, err := client.SelectFolder(ctx, folder); err != nil {
		m.pool.Checkin(conn)
		return nil, err
	}

	events := make(chan Event, 8)
	go m.run(ctx, conn, accountID, folder, cfg, events)
	return events, nil
}

func (m *Monitor) run(ctx context.Context, conn *PooledConnection, accountID, folder string, cfg IdleMonitorConfig, events chan<- Event) {
	defer close(events)

	client := conn.Client()
	raw := client.RawClient()

	var mu sync.Mutex
	emit := func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		select {
		case events <- ev:
		case <-time.After(2 * time.Second):
			m.log.Warn().Str("account", accountID).Str("folder", folder).Msg("idle event dropped, receiver stalled")
		}
	}

	raw.SetUnilateralDataHandler(&imapclient.UnilateralDataHandler{
		Mailbox: func(data *imapclient.UnilateralDataMailbox) {
			if data.NumMessages != nil {
				emit(Event{Type: EventNewMail, AccountID: accountID, Folder: folder})
			}
		},
	})

	exitErr := m.idleLoop(ctx, client, cfg)

	if exitErr != nil {
		emit(Event{Type: EventDisconnected, AccountID: accountID, Folder: folder, Err: exitErr})
		m.pool.Discard(conn)
		return
	}
	m.pool.Checkin(conn)
}

func (m *Monitor) idleLoop(ctx context.Context, client *Client, cfg IdleMonitorConfig) error {
	raw := client.RawClient()
	for {
		select {
		case <-ctx.Done():
			return nil // normal cancellation: no Disconnected event
		default:
		}

		if cfg.HealthCheck {
			if err := raw.Noop().Wait(); err != nil {
				return mailerrors.Wrap(mailerrors.ConnectionClosed, "idle health check failed", err)
			}
		}

		idleCmd, err := raw.Idle()
		if err != nil {
			return mailerrors.Wrap(mailerrors.CommandFailed, "IDLE failed to start", err)
		}

		timer := time.NewTimer(cfg.IdleRefresh)
		select {
		case <-ctx.Done():
			timer.Stop()
			idleCmd.Close()
			return nil
		case <-timer.C:
			if err := idleCmd.Close(); err != nil {
				return mailerrors.Wrap(mailerrors.CommandFailed, "IDLE DONE failed", err)
			}
			// loop: re-arm
		}
	}
}
