// Package config provides the core's tunable defaults (spec §6) and a
// SQLite-backed override store, following the same generic key/value
// settings pattern the rest of this lineage uses for application preferences.
package config

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/aerionmail/mailcore/internal/database"
)

// Known tunable keys, overridable at runtime via Store.
const (
	KeyAccountConnectionLimit = "account_connection_limit"
	KeyGlobalConnectionLimit  = "global_connection_limit"
	KeyConnectTimeoutSeconds  = "connect_timeout_seconds"
	KeyIdleRefreshMinutes     = "idle_refresh_minutes"
	KeyFetchBatchSize         = "fetch_batch_size"
	KeyInitialFastInboxCap    = "initial_fast_inbox_cap"
	KeyStageCTotalCap         = "stage_c_total_cap"
	KeyStageCFloor            = "stage_c_floor"
	KeySendRetryMax           = "send_retry_max"
	KeyOAuthRefreshRetries    = "oauth_refresh_retries"
	KeyDiscoveryTierTimeout   = "discovery_tier_timeout_seconds"
	KeyDiscoveryCacheTTLDays  = "discovery_cache_ttl_days"
)

// Defaults mirrors spec §6's tunables table.
type Defaults struct {
	AccountConnectionLimit int
	GlobalConnectionLimit  int
	ConnectTimeout         time.Duration
	IdleRefresh            time.Duration
	FetchBatchSize         int
	InitialFastInboxCap    int
	StageCTotalCap         int
	StageCSplitInbox       float64 // 0.60
	StageCSplitSent        float64 // 0.20
	StageCSplitOther       float64 // 0.20
	StageCFloor            int
	SendRetryMax           int
	OAuthRefreshRetries    int
	OAuthRefreshBackoff    time.Duration // base 2s, factor 2
	ConnectRetryBackoff    time.Duration // base 5s, factor 3
	ConnectRetryMax        int
	DiscoveryTierTimeout   time.Duration
	DiscoveryCacheTTL      time.Duration
	DiscoveryCacheMaxSize  int
}

// DefaultConfig returns the out-of-the-box tunables named in spec §6.
func DefaultConfig() Defaults {
	return Defaults{
		AccountConnectionLimit: 5,
		GlobalConnectionLimit:  25,
		ConnectTimeout:         30 * time.Second,
		IdleRefresh:            25 * time.Minute,
		FetchBatchSize:         50,
		InitialFastInboxCap:    30,
		StageCTotalCap:         500,
		StageCSplitInbox:       0.60,
		StageCSplitSent:        0.20,
		StageCSplitOther:       0.20,
		StageCFloor:            20,
		SendRetryMax:           3,
		OAuthRefreshRetries:    3,
		OAuthRefreshBackoff:    2 * time.Second,
		ConnectRetryBackoff:    5 * time.Second,
		ConnectRetryMax:        3,
		DiscoveryTierTimeout:   10 * time.Second,
		DiscoveryCacheTTL:      30 * 24 * time.Hour,
		DiscoveryCacheMaxSize:  100,
	}
}

// Store persists overrides of the defaults above in the `settings` table.
type Store struct {
	db *database.DB
}

// NewStore wraps an open database with the config override store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Get returns the raw string value for key, or "" and a nil error if unset.
func (s *Store) Get(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %q: %w", key, err)
	}
	return value, nil
}

// Set stores a raw string override for key.
func (s *Store) Set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set setting %q: %w", key, err)
	}
	return nil
}

// Resolve applies any persisted overrides on top of d and returns the effective
// tunables. Unset or unparsable overrides fall back to the default silently.
func (s *Store) Resolve(d Defaults) Defaults {
	if v, err := s.getInt(KeyAccountConnectionLimit); err == nil && v > 0 {
		d.AccountConnectionLimit = v
	}
	if v, err := s.getInt(KeyGlobalConnectionLimit); err == nil && v > 0 {
		d.GlobalConnectionLimit = v
	}
	if v, err := s.getInt(KeyConnectTimeoutSeconds); err == nil && v > 0 {
		d.ConnectTimeout = time.Duration(v) * time.Second
	}
	if v, err := s.getInt(KeyIdleRefreshMinutes); err == nil && v > 0 {
		d.IdleRefresh = time.Duration(v) * time.Minute
	}
	if v, err := s.getInt(KeyFetchBatchSize); err == nil && v > 0 {
		d.FetchBatchSize = v
	}
	if v, err := s.getInt(KeyInitialFastInboxCap); err == nil && v > 0 {
		d.InitialFastInboxCap = v
	}
	if v, err := s.getInt(KeyStageCTotalCap); err == nil && v > 0 {
		d.StageCTotalCap = v
	}
	if v, err := s.getInt(KeyStageCFloor); err == nil && v > 0 {
		d.StageCFloor = v
	}
	if v, err := s.getInt(KeySendRetryMax); err == nil && v > 0 {
		d.SendRetryMax = v
	}
	if v, err := s.getInt(KeyOAuthRefreshRetries); err == nil && v > 0 {
		d.OAuthRefreshRetries = v
	}
	if v, err := s.getInt(KeyDiscoveryTierTimeout); err == nil && v > 0 {
		d.DiscoveryTierTimeout = time.Duration(v) * time.Second
	}
	if v, err := s.getInt(KeyDiscoveryCacheTTLDays); err == nil && v > 0 {
		d.DiscoveryCacheTTL = time.Duration(v) * 24 * time.Hour
	}
	return d
}

func (s *Store) getInt(key string) (int, error) {
	raw, err := s.Get(key)
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return 0, fmt.Errorf("unset")
	}
	return strconv.Atoi(raw)
}
