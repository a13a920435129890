// Package discovery implements C7 ProviderDiscovery: resolving IMAP/SMTP
// connection parameters for an email domain via a tiered lookup (static
// registry, Thunderbird ISPDB, DNS MX heuristic), backed by an LRU+TTL cache.
package discovery

import (
	"context"
	"database/sql"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/aerionmail/mailcore/internal/config"
	"github.com/aerionmail/mailcore/internal/logging"
	"github.com/aerionmail/mailcore/internal/mailerrors"
)

// SecurityType mirrors the transport-layer enum used by imap.Client/smtp.Client.
type SecurityType int

const (
	SecurityTLS SecurityType = iota
	SecurityStartTLS
	SecurityNone
)

// AuthMethod is the discovered authentication scheme for a domain.
type AuthMethod int

const (
	AuthPlain AuthMethod = iota
	AuthXOAuth2
)

// Source records which discovery tier produced a DiscoveredConfig.
type Source string

const (
	SourceStaticRegistry Source = "static_registry"
	SourceISPDB          Source = "ispdb"
	SourceDNSHeuristic   Source = "dns_heuristic"
)

// DiscoveredConfig is the per-domain result spec §4.7 names.
type DiscoveredConfig struct {
	DisplayName   string
	IMAPHost      string
	IMAPPort      int
	IMAPSecurity  SecurityType
	SMTPHost      string
	SMTPPort      int
	SMTPSecurity  SecurityType
	AuthMethod    AuthMethod
	Source        Source
}

var domainPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$`)

// staticRegistry holds hand-curated registry rows, checked before any network tier.
var staticRegistry = map[string]DiscoveredConfig{
	"gmail.com": {
		DisplayName: "Gmail", IMAPHost: "imap.gmail.com", IMAPPort: 993, IMAPSecurity: SecurityTLS,
		SMTPHost: "smtp.gmail.com", SMTPPort: 587, SMTPSecurity: SecurityStartTLS, AuthMethod: AuthXOAuth2,
	},
	"googlemail.com": {
		DisplayName: "Gmail", IMAPHost: "imap.gmail.com", IMAPPort: 993, IMAPSecurity: SecurityTLS,
		SMTPHost: "smtp.gmail.com", SMTPPort: 587, SMTPSecurity: SecurityStartTLS, AuthMethod: AuthXOAuth2,
	},
	"outlook.com": {
		DisplayName: "Outlook", IMAPHost: "outlook.office365.com", IMAPPort: 993, IMAPSecurity: SecurityTLS,
		SMTPHost: "smtp.office365.com", SMTPPort: 587, SMTPSecurity: SecurityStartTLS, AuthMethod: AuthXOAuth2,
	},
	"hotmail.com": {
		DisplayName: "Outlook", IMAPHost: "outlook.office365.com", IMAPPort: 993, IMAPSecurity: SecurityTLS,
		SMTPHost: "smtp.office365.com", SMTPPort: 587, SMTPSecurity: SecurityStartTLS, AuthMethod: AuthXOAuth2,
	},
	"live.com": {
		DisplayName: "Outlook", IMAPHost: "outlook.office365.com", IMAPPort: 993, IMAPSecurity: SecurityTLS,
		SMTPHost: "smtp.office365.com", SMTPPort: 587, SMTPSecurity: SecurityStartTLS, AuthMethod: AuthXOAuth2,
	},
	"yahoo.com": {
		DisplayName: "Yahoo Mail", IMAPHost: "imap.mail.yahoo.com", IMAPPort: 993, IMAPSecurity: SecurityTLS,
		SMTPHost: "smtp.mail.yahoo.com", SMTPPort: 587, SMTPSecurity: SecurityStartTLS, AuthMethod: AuthPlain,
	},
	"icloud.com": {
		DisplayName: "iCloud Mail", IMAPHost: "imap.mail.me.com", IMAPPort: 993, IMAPSecurity: SecurityTLS,
		SMTPHost: "smtp.mail.me.com", SMTPPort: 587, SMTPSecurity: SecurityStartTLS, AuthMethod: AuthPlain,
	},
}

// mxSuffixRegistry maps well-known MX-record suffixes to the static entry
// that actually serves that domain, per spec §4.7 tier 3.
var mxSuffixRegistry = map[string]string{
	".google.com":     "gmail.com",
	".googlemail.com": "gmail.com",
	".outlook.com":    "outlook.com",
	".microsoft.com":  "outlook.com",
	".yahoodns.net":   "yahoo.com",
	".icloud.com":     "icloud.com",
	".me.com":         "icloud.com",
}

// Discovery resolves provider configuration for email domains via the tiered
// lookup + cache described in spec §4.7.
type Discovery struct {
	db         *sql.DB
	httpClient *http.Client
	cache      *lru.Cache[string, cacheEntry]
	cfg        config.Defaults
	log        zerolog.Logger
}

type cacheEntry struct {
	config   DiscoveredConfig
	cachedAt time.Time
}

// New builds a Discovery backed by db's discovery_cache table for
// persistence and an in-memory LRU for hot lookups within a process lifetime.
func New(db *sql.DB, cfg config.Defaults) (*Discovery, error) {
	size := cfg.DiscoveryCacheMaxSize
	if size <= 0 {
		size = 100
	}
	c, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery cache: %w", err)
	}
	return &Discovery{
		db:         db,
		httpClient: &http.Client{Timeout: cfg.DiscoveryTierTimeout},
		cache:      c,
		cfg:        cfg,
		log:        logging.WithComponent("discovery"),
	}, nil
}

// Resolve produces a DiscoveredConfig for the domain part of email, trying
// each tier in order and respecting an overall 30s budget on top of each
// tier's own timeout.
func (d *Discovery) Resolve(ctx context.Context, email string) (DiscoveredConfig, error) {
	domain := domainOf(email)
	if domain == "" || !domainPattern.MatchString(domain) {
		return DiscoveredConfig{}, mailerrors.New(mailerrors.InvalidResponse, "invalid domain in email address")
	}
	domain = strings.ToLower(domain)

	if cfg, ok := d.lookupCache(domain); ok {
		return cfg, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if cfg, ok := staticRegistry[domain]; ok {
		cfg.Source = SourceStaticRegistry
		d.storeCache(domain, cfg)
		return cfg, nil
	}

	if cfg, err := d.queryISPDB(ctx, domain); err == nil {
		d.storeCache(domain, cfg)
		return cfg, nil
	} else {
		d.log.Debug().Err(err).Str("domain", domain).Msg("ispdb lookup failed, falling through")
	}

	if cfg, err := d.queryMX(ctx, domain); err == nil {
		d.storeCache(domain, cfg)
		return cfg, nil
	} else {
		d.log.Debug().Err(err).Str("domain", domain).Msg("mx lookup failed, falling through")
	}

	return DiscoveredConfig{}, mailerrors.New(mailerrors.InvalidResponse, "no discovery tier resolved "+domain+", manual setup required")
}

// ClearCache drops one domain's cache entry, or everything when domain is "".
func (d *Discovery) ClearCache(domain string) error {
	if domain == "" {
		d.cache.Purge()
		_, err := d.db.Exec("DELETE FROM discovery_cache")
		return err
	}
	domain = strings.ToLower(domain)
	d.cache.Remove(domain)
	_, err := d.db.Exec("DELETE FROM discovery_cache WHERE domain = ?", domain)
	return err
}

func domainOf(email string) string {
	i := strings.LastIndexByte(email, '@')
	if i < 0 || i == len(email)-1 {
		return ""
	}
	return email[i+1:]
}

func (d *Discovery) lookupCache(domain string) (DiscoveredConfig, bool) {
	if entry, ok := d.cache.Get(domain); ok {
		if time.Since(entry.cachedAt) < d.cfg.DiscoveryCacheTTL {
			d.touchDB(domain)
			return entry.config, true
		}
		d.cache.Remove(domain)
	}

	var configJSON, source string
	var cachedAt time.Time
	err := d.db.QueryRow(
		"SELECT config_json, source, cached_at FROM discovery_cache WHERE domain = ?", domain,
	).Scan(&configJSON, &source, &cachedAt)
	if err != nil {
		return DiscoveredConfig{}, false
	}
	if time.Since(cachedAt) >= d.cfg.DiscoveryCacheTTL {
		d.db.Exec("DELETE FROM discovery_cache WHERE domain = ?", domain)
		return DiscoveredConfig{}, false
	}

	var cfg DiscoveredConfig
	if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
		return DiscoveredConfig{}, false
	}
	cfg.Source = Source(source)
	d.cache.Add(domain, cacheEntry{config: cfg, cachedAt: cachedAt})
	d.touchDB(domain)
	return cfg, true
}

func (d *Discovery) touchDB(domain string) {
	d.db.Exec("UPDATE discovery_cache SET last_used_at = ? WHERE domain = ?", time.Now(), domain)
}

// storeCache persists to both the in-memory LRU (eviction on insert when
// full, per spec §4.7) and the discovery_cache table for cross-restart reuse.
func (d *Discovery) storeCache(domain string, cfg DiscoveredConfig) {
	now := time.Now()
	d.cache.Add(domain, cacheEntry{config: cfg, cachedAt: now})

	payload, err := json.Marshal(cfg)
	if err != nil {
		return
	}
	d.db.Exec(
		`INSERT INTO discovery_cache (domain, config_json, source, cached_at, last_used_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(domain) DO UPDATE SET config_json = excluded.config_json, source = excluded.source,
		 cached_at = excluded.cached_at, last_used_at = excluded.last_used_at`,
		domain, string(payload), string(cfg.Source), now, now,
	)
}

// ispdbResponse is the subset of Thunderbird's autoconfig XML schema this
// core cares about.
type ispdbResponse struct {
	XMLName       xml.Name `xml:"clientConfig"`
	EmailProvider struct {
		DisplayName     string `xml:"displayName"`
		IncomingServers []ispdbServer `xml:"incomingServer"`
		OutgoingServers []ispdbServer `xml:"outgoingServer"`
	} `xml:"emailProvider"`
}

type ispdbServer struct {
	Type           string `xml:"type,attr"`
	Hostname       string `xml:"hostname"`
	Port           int    `xml:"port"`
	SocketType     string `xml:"socketType"`
	Authentication string `xml:"authentication"`
}

func (d *Discovery) queryISPDB(ctx context.Context, domain string) (DiscoveredConfig, error) {
	tctx, cancel := context.WithTimeout(ctx, d.cfg.DiscoveryTierTimeout)
	defer cancel()

	url := "https://autoconfig.thunderbird.net/v1.1/" + domain
	req, err := http.NewRequestWithContext(tctx, http.MethodGet, url, nil)
	if err != nil {
		return DiscoveredConfig{}, err
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return DiscoveredConfig{}, mailerrors.Wrap(mailerrors.ConnectionFailed, "ispdb request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return DiscoveredConfig{}, mailerrors.New(mailerrors.InvalidResponse, "ispdb returned "+strconv.Itoa(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return DiscoveredConfig{}, err
	}

	var parsed ispdbResponse
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return DiscoveredConfig{}, mailerrors.Wrap(mailerrors.ParsingFailed, "ispdb xml parse failed", err)
	}

	var imapServer, smtpServer *ispdbServer
	for i := range parsed.EmailProvider.IncomingServers {
		if parsed.EmailProvider.IncomingServers[i].Type == "imap" {
			imapServer = &parsed.EmailProvider.IncomingServers[i]
			break
		}
	}
	for i := range parsed.EmailProvider.OutgoingServers {
		if parsed.EmailProvider.OutgoingServers[i].Type == "smtp" {
			smtpServer = &parsed.EmailProvider.OutgoingServers[i]
			break
		}
	}
	if imapServer == nil || smtpServer == nil {
		return DiscoveredConfig{}, mailerrors.New(mailerrors.InvalidResponse, "ispdb response missing imap or smtp server")
	}

	return DiscoveredConfig{
		DisplayName:  parsed.EmailProvider.DisplayName,
		IMAPHost:     imapServer.Hostname,
		IMAPPort:     imapServer.Port,
		IMAPSecurity: socketTypeToSecurity(imapServer.SocketType),
		SMTPHost:     smtpServer.Hostname,
		SMTPPort:     smtpServer.Port,
		SMTPSecurity: socketTypeToSecurity(smtpServer.SocketType),
		AuthMethod:   authenticationToMethod(imapServer.Authentication),
		Source:       SourceISPDB,
	}, nil
}

func socketTypeToSecurity(socketType string) SecurityType {
	switch strings.ToUpper(socketType) {
	case "SSL", "TLS":
		return SecurityTLS
	case "STARTTLS":
		return SecurityStartTLS
	default:
		return SecurityTLS
	}
}

func authenticationToMethod(auth string) AuthMethod {
	switch strings.ToLower(auth) {
	case "oauth2", "xoauth2":
		return AuthXOAuth2
	default:
		return AuthPlain
	}
}

func (d *Discovery) queryMX(ctx context.Context, domain string) (DiscoveredConfig, error) {
	tctx, cancel := context.WithTimeout(ctx, d.cfg.DiscoveryTierTimeout)
	defer cancel()

	resolver := &net.Resolver{}
	records, err := resolver.LookupMX(tctx, domain)
	if err != nil {
		return DiscoveredConfig{}, mailerrors.Wrap(mailerrors.ConnectionFailed, "mx lookup failed", err)
	}
	if len(records) == 0 {
		return DiscoveredConfig{}, mailerrors.New(mailerrors.InvalidResponse, "no mx records")
	}

	host := strings.ToLower(strings.TrimSuffix(records[0].Host, "."))
	for suffix, registryKey := range mxSuffixRegistry {
		if strings.HasSuffix(host, suffix) {
			cfg := staticRegistry[registryKey]
			cfg.Source = SourceDNSHeuristic
			return cfg, nil
		}
	}

	return DiscoveredConfig{
		IMAPHost: "imap." + domain, IMAPPort: 993, IMAPSecurity: SecurityTLS,
		SMTPHost: "smtp." + domain, SMTPPort: 587, SMTPSecurity: SecurityStartTLS,
		AuthMethod: AuthPlain, Source: SourceDNSHeuristic,
	}, nil
}
