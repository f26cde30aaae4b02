// Package config loads and validates the JSON configuration document that
// drives every core subsystem: accounts, proxy, storage paths, forwarding
// behavior, deduplication thresholds and grouping strategy.
//
// Loading merges a default configuration with the on-disk document, then
// validates every field (types, ranges, enums, path/name safety) before
// returning. Invalid but non-fatal values fall back to defaults and are
// recorded as warnings instead of aborting the load.
package config

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// ConfigError reports a schema or security violation for a single field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: field %q: %s", e.Field, e.Reason)
}

var (
	entityNameRe  = regexp.MustCompile(`^[@a-zA-Z0-9_.-]{1,500}$`)
	sessionNameRe = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,255}$`)
	apiHashRe     = regexp.MustCompile(`^[0-9a-f]{32}$`)
)

var forbiddenPathPrefixes = []string{"/etc", "/sys", "/proc", "/dev"}

// Proxy describes an upstream SOCKS/HTTP proxy used by the client pool.
type Proxy struct {
	Type     string `json:"type"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Account is one authenticated identity in the pool. APIHash and Password
// are never logged; see internal/recovery's redactor.
type Account struct {
	SessionName string `json:"session_name"`
	APIID       int    `json:"api_id"`
	APIHash     string `json:"api_hash"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Password    string `json:"password,omitempty"`
	Active      bool   `json:"active"`
}

// ForwardingOptions controls §4.7's forwarder behavior.
type ForwardingOptions struct {
	EnableDeduplication        bool   `json:"enable_deduplication"`
	SecondaryUniqueDestination string `json:"secondary_unique_destination,omitempty"`
	ForwardWithAttribution     bool   `json:"forward_with_attribution"`
	ForwardToAllSavedMessages  bool   `json:"forward_to_all_saved_messages"`
}

// DeduplicationOptions controls §4.3's oracle thresholds and scope.
type DeduplicationOptions struct {
	EnableNearDuplicates            bool   `json:"enable_near_duplicates"`
	FuzzyHashSimilarityThreshold    int    `json:"fuzzy_hash_similarity_threshold"`
	PerceptualHashDistanceThreshold int    `json:"perceptual_hash_distance_threshold"`
	Scope                           string `json:"scope"` // "global" | "channel"
}

// GroupingOptions controls §4.5's grouper.
type GroupingOptions struct {
	Strategy          string `json:"strategy"` // "none" | "filename" | "time"
	TimeWindowSeconds int    `json:"time_window_seconds"`
}

// AttributionOptions controls §4.6's header rendering.
type AttributionOptions struct {
	Template                   string  `json:"template"`
	TimestampFormat            string  `json:"timestamp_format"`
	DisableAttributionForGroups []int64 `json:"disable_attribution_for_groups,omitempty"`
}

// SchedulerOptions controls §4.8's cron/queue behavior.
type SchedulerOptions struct {
	MaxConcurrentForwards int `json:"max_concurrent_forwards"`
	BandwidthLimitKbps    int `json:"bandwidth_limit_kbps"`
}

// FileSorterOptions controls the file-type category sorting supplement:
// ExtensionMapping lets an operator route specific extensions to a category
// ahead of the classifier's MIME fallback.
type FileSorterOptions struct {
	ExtensionMapping              map[string][]string `json:"extension_mapping,omitempty"`
	GroupCreationEnabled          bool                 `json:"group_creation_enabled"`
	GroupCreationRateLimitSeconds int                  `json:"group_creation_rate_limit_seconds"`
	GroupNamingTemplate           string               `json:"group_naming_template"`
	GroupDescriptionTemplate      string               `json:"group_description_template"`
}

// Document is the raw on-disk JSON shape (§6 configuration file).
type Document struct {
	Accounts           []Account            `json:"accounts"`
	Proxy              *Proxy               `json:"proxy,omitempty"`
	DBPath             string               `json:"db_path"`
	MediaDir           string               `json:"media_dir"`
	DownloadMedia      bool                 `json:"download_media"`
	Batch              int                  `json:"batch"`
	SleepBetweenBatches float64             `json:"sleep_between_batches"`
	Forwarding         ForwardingOptions    `json:"forwarding"`
	Deduplication      DeduplicationOptions `json:"deduplication"`
	Grouping           GroupingOptions      `json:"grouping"`
	Attribution        AttributionOptions   `json:"attribution"`
	Scheduler          SchedulerOptions     `json:"scheduler"`
	FileSorter         FileSorterOptions    `json:"file_sorter"`

	// TelesmasherAccounts is a process-private migration aid for importing
	// foreign credential files (§6). Stripped before Save, never read here.
	TelesmasherAccounts json.RawMessage `json:"telesmasher_accounts,omitempty"`
}

// Config is the validated, immutable snapshot produced by Load.
type Config struct {
	mu       sync.RWMutex
	doc      Document
	warnings []string
	path     string
}

const (
	defaultBatch               = 100
	defaultSleepBetweenBatches = 1.0
	defaultFuzzyThreshold      = 85
	defaultPerceptualThreshold = 10
	defaultTimeWindowSeconds   = 300
	defaultMaxConcurrent       = 4
	defaultGroupCreationRateLimitSeconds = 60
	defaultGroupNamingTemplate           = "SPECTRA-{category}"
	defaultGroupDescriptionTemplate      = "A group for {category} files."
)

func defaultDocument() Document {
	return Document{
		Batch:               defaultBatch,
		SleepBetweenBatches: defaultSleepBetweenBatches,
		Deduplication: DeduplicationOptions{
			EnableNearDuplicates:            true,
			FuzzyHashSimilarityThreshold:    defaultFuzzyThreshold,
			PerceptualHashDistanceThreshold: defaultPerceptualThreshold,
			Scope:                           "global",
		},
		Grouping: GroupingOptions{
			Strategy:          "none",
			TimeWindowSeconds: defaultTimeWindowSeconds,
		},
		Scheduler: SchedulerOptions{
			MaxConcurrentForwards: defaultMaxConcurrent,
		},
		FileSorter: FileSorterOptions{
			GroupCreationEnabled:          true,
			GroupCreationRateLimitSeconds: defaultGroupCreationRateLimitSeconds,
			GroupNamingTemplate:           defaultGroupNamingTemplate,
			GroupDescriptionTemplate:      defaultGroupDescriptionTemplate,
		},
	}
}

// Load reads path, merges it over the default document, validates it, and
// returns a ready-to-use Config. Warnings accumulated during validation are
// available via Warnings(); they never cause Load to fail.
func Load(path string) (*Config, error) {
	doc := defaultDocument()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg := &Config{doc: doc, path: path}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) warn(format string, args ...any) {
	c.warnings = append(c.warnings, fmt.Sprintf(format, args...))
}

// validate checks every field against §4.1's schema. Hard violations return
// a *ConfigError; soft violations fall back to a default and are warned.
func (c *Config) validate() error {
	if len(c.doc.Accounts) == 0 {
		return &ConfigError{Field: "accounts", Reason: "at least one account is required"}
	}
	seenCred := make(map[string]bool, len(c.doc.Accounts))
	seenSession := make(map[string]bool, len(c.doc.Accounts))
	for i, acc := range c.doc.Accounts {
		if !sessionNameRe.MatchString(acc.SessionName) {
			return &ConfigError{Field: fmt.Sprintf("accounts[%d].session_name", i), Reason: "must match ^[a-zA-Z0-9_.-]{1,255}$"}
		}
		if seenSession[acc.SessionName] {
			return &ConfigError{Field: fmt.Sprintf("accounts[%d].session_name", i), Reason: "duplicate session_name"}
		}
		seenSession[acc.SessionName] = true

		if !apiHashRe.MatchString(acc.APIHash) {
			return &ConfigError{Field: fmt.Sprintf("accounts[%d].api_hash", i), Reason: "must be 32 lowercase hex characters"}
		}
		if acc.APIID == 0 {
			return &ConfigError{Field: fmt.Sprintf("accounts[%d].api_id", i), Reason: "must be set"}
		}
		cred := fmt.Sprintf("%d:%s", acc.APIID, strings.ToLower(acc.APIHash))
		if seenCred[cred] {
			return &ConfigError{Field: fmt.Sprintf("accounts[%d]", i), Reason: "duplicate (api_id, api_hash) credential"}
		}
		seenCred[cred] = true

		if looksLikeDefaultCredential(acc.APIHash) {
			c.warn("accounts[%d]: api_hash looks like a placeholder/default value", i)
		}
	}

	if c.doc.Proxy != nil {
		switch c.doc.Proxy.Type {
		case "socks5", "socks4", "http":
		default:
			return &ConfigError{Field: "proxy.type", Reason: "must be one of socks5, socks4, http"}
		}
		if c.doc.Proxy.Port <= 0 || c.doc.Proxy.Port > 65535 {
			return &ConfigError{Field: "proxy.port", Reason: "must be in [1, 65535]"}
		}
	}

	if err := validatePath("db_path", c.doc.DBPath); err != nil {
		return err
	}
	if c.doc.MediaDir != "" {
		if err := validatePath("media_dir", c.doc.MediaDir); err != nil {
			return err
		}
	}

	if c.doc.Batch <= 0 || c.doc.Batch > 10000 {
		c.warn("batch value %d out of [1, 10000]; using default %d", c.doc.Batch, defaultBatch)
		c.doc.Batch = defaultBatch
	}
	if c.doc.SleepBetweenBatches < 0 || c.doc.SleepBetweenBatches > 3600 {
		c.warn("sleep_between_batches value %v out of [0, 3600]; using default %v", c.doc.SleepBetweenBatches, defaultSleepBetweenBatches)
		c.doc.SleepBetweenBatches = defaultSleepBetweenBatches
	}

	if c.doc.Forwarding.SecondaryUniqueDestination != "" {
		if err := validateEntityRef("forwarding.secondary_unique_destination", c.doc.Forwarding.SecondaryUniqueDestination); err != nil {
			return err
		}
	}

	dedup := &c.doc.Deduplication
	if dedup.FuzzyHashSimilarityThreshold < 0 || dedup.FuzzyHashSimilarityThreshold > 100 {
		c.warn("deduplication.fuzzy_hash_similarity_threshold %d out of [0, 100]; using default %d", dedup.FuzzyHashSimilarityThreshold, defaultFuzzyThreshold)
		dedup.FuzzyHashSimilarityThreshold = defaultFuzzyThreshold
	}
	if dedup.PerceptualHashDistanceThreshold < 0 || dedup.PerceptualHashDistanceThreshold > 64 {
		c.warn("deduplication.perceptual_hash_distance_threshold %d out of [0, 64]; using default %d", dedup.PerceptualHashDistanceThreshold, defaultPerceptualThreshold)
		dedup.PerceptualHashDistanceThreshold = defaultPerceptualThreshold
	}
	switch dedup.Scope {
	case "", "global":
		dedup.Scope = "global"
	case "channel":
	default:
		c.warn("deduplication.scope %q invalid; using default %q", dedup.Scope, "global")
		dedup.Scope = "global"
	}

	grouping := &c.doc.Grouping
	switch grouping.Strategy {
	case "none", "filename", "time":
	case "":
		grouping.Strategy = "none"
	default:
		return &ConfigError{Field: "grouping.strategy", Reason: "must be one of none, filename, time"}
	}
	if grouping.TimeWindowSeconds <= 0 || grouping.TimeWindowSeconds > 86400 {
		c.warn("grouping.time_window_seconds %d out of [1, 86400]; using default %d", grouping.TimeWindowSeconds, defaultTimeWindowSeconds)
		grouping.TimeWindowSeconds = defaultTimeWindowSeconds
	}

	if c.doc.Scheduler.MaxConcurrentForwards <= 0 {
		c.warn("scheduler.max_concurrent_forwards %d invalid; using default %d", c.doc.Scheduler.MaxConcurrentForwards, defaultMaxConcurrent)
		c.doc.Scheduler.MaxConcurrentForwards = defaultMaxConcurrent
	}

	sorter := &c.doc.FileSorter
	if sorter.GroupCreationRateLimitSeconds <= 0 {
		sorter.GroupCreationRateLimitSeconds = defaultGroupCreationRateLimitSeconds
	}
	if sorter.GroupNamingTemplate == "" {
		sorter.GroupNamingTemplate = defaultGroupNamingTemplate
	}
	if sorter.GroupDescriptionTemplate == "" {
		sorter.GroupDescriptionTemplate = defaultGroupDescriptionTemplate
	}

	return nil
}

// looksLikeDefaultCredential flags obviously placeholder hashes (all zeros,
// repeated characters, the literal string "changeme" family) so operators
// get a warning instead of a silent misconfiguration.
func looksLikeDefaultCredential(hash string) bool {
	lower := strings.ToLower(hash)
	if lower == "" || lower == strings.Repeat(lower[:1], len(lower)) {
		return true
	}
	placeholder := "00000000000000000000000000000000"
	if len(placeholder) >= len(lower) && subtle.ConstantTimeCompare([]byte(lower), []byte(placeholder[:len(lower)])) == 1 {
		return true
	}
	return strings.Contains(lower, "changeme") || strings.Contains(lower, "example")
}

func validatePath(field, value string) error {
	if value == "" {
		return &ConfigError{Field: field, Reason: "must be set"}
	}
	if strings.Contains(value, "..") {
		return &ConfigError{Field: field, Reason: "must not contain '..'"}
	}
	clean := filepath.Clean(value)
	for _, prefix := range forbiddenPathPrefixes {
		if clean == prefix || strings.HasPrefix(clean, prefix+string(filepath.Separator)) {
			return &ConfigError{Field: field, Reason: fmt.Sprintf("must not resolve under %s", prefix)}
		}
	}
	return nil
}

func validateEntityRef(field, value string) error {
	if entityNameRe.MatchString(value) {
		return nil
	}
	if _, err := parseSignedInt(value); err == nil {
		return nil
	}
	return &ConfigError{Field: field, Reason: "must be a handle matching ^[@a-zA-Z0-9_.-]{1,500}$ or a signed integer id"}
}

func parseSignedInt(s string) (int64, error) {
	var v int64
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err
}

// Warnings returns a copy of the warnings accumulated during Load.
func (c *Config) Warnings() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.warnings))
	copy(out, c.warnings)
	return out
}

// ActiveAccounts returns the subset of configured accounts marked active.
// If none are marked active, all configured accounts are considered active
// (a config with one account and no explicit "active" flag should still work).
func (c *Config) ActiveAccounts() []Account {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var active []Account
	for _, a := range c.doc.Accounts {
		if a.Active {
			active = append(active, a)
		}
	}
	if len(active) == 0 {
		active = append(active, c.doc.Accounts...)
	}
	return active
}

// PickAccount returns the account named prefer if present and active,
// otherwise a random active account, otherwise the first configured
// account. prefer is matched against both SessionName and PhoneNumber,
// since callers resolving a channel's best account (storage's
// account_channel_access table) key by phone, not session name. It fails
// only if no accounts are configured at all.
func (c *Config) PickAccount(prefer string) (Account, error) {
	active := c.ActiveAccounts()
	if len(active) == 0 {
		return Account{}, &ConfigError{Field: "accounts", Reason: "no accounts configured"}
	}
	if prefer != "" {
		for _, a := range active {
			if a.SessionName == prefer || (a.PhoneNumber != "" && a.PhoneNumber == prefer) {
				return a, nil
			}
		}
	}
	c.mu.RLock()
	anyMarked := false
	for _, a := range c.doc.Accounts {
		anyMarked = anyMarked || a.Active
	}
	c.mu.RUnlock()
	if !anyMarked {
		return active[0], nil
	}
	return active[rand.IntN(len(active))], nil
}

// ForwardingOptions returns the forwarder's configuration view.
func (c *Config) ForwardingOptions() ForwardingOptions {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.doc.Forwarding
}

// GroupingOptions returns the grouper's configuration view.
func (c *Config) GroupingOptions() GroupingOptions {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.doc.Grouping
}

// DeduplicationOptions returns the dedup oracle's configuration view.
func (c *Config) DeduplicationOptions() DeduplicationOptions {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.doc.Deduplication
}

// AttributionOptions returns the attribution formatter's configuration view.
func (c *Config) AttributionOptions() AttributionOptions {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.doc.Attribution
}

// SchedulerOptions returns the scheduler's configuration view.
func (c *Config) SchedulerOptions() SchedulerOptions {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.doc.Scheduler
}

// FileSorterOptions returns the file-type sorting classifier's configuration view.
func (c *Config) FileSorterOptions() FileSorterOptions {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.doc.FileSorter
}

// DBPath returns the configured archive database path.
func (c *Config) DBPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.doc.DBPath
}

// MediaDir returns the configured scratch/media directory.
func (c *Config) MediaDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.doc.MediaDir
}

// Proxy returns the configured proxy, or nil if none is set.
func (c *Config) Proxy() *Proxy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.doc.Proxy
}

// Save writes the current document back to its source path with 2-space
// indentation, stripping the process-private migration key per §6.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.doc
	out.TelesmasherAccounts = nil
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(c.path, data, 0o600)
}
