package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opsforge/remedy/internal/models"
)

// Store abstracts durable persistence for catalog entries. The catalog loads
// all entries at startup and snapshots an entry after each learning update.
type Store interface {
	LoadEntries() ([]models.CatalogEntry, error)
	SaveEntry(entry models.CatalogEntry) error
}

// Catalog maps issue types to ranked candidate actions with learned
// confidence. It is shared mutable state between the decision engine
// (reads) and the learning engine (writes); every confidence update is an
// atomic read-modify-write under the catalog lock.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]*models.CatalogEntry
	history map[string][]outcomeSample
	store   Store
	logger  *slog.Logger

	trendWindow int
	now         func() time.Time
}

type outcomeSample struct {
	at      time.Time
	success bool
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithStore attaches durable persistence.
func WithStore(store Store) Option {
	return func(c *Catalog) { c.store = store }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

// WithTrendWindow bounds the per-entry outcome history.
func WithTrendWindow(n int) Option {
	return func(c *Catalog) {
		if n > 0 {
			c.trendWindow = n
		}
	}
}

// New creates an empty catalog.
func New(logger *slog.Logger, opts ...Option) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{
		entries:     make(map[string]*models.CatalogEntry),
		history:     make(map[string][]outcomeSample),
		logger:      logger,
		trendWindow: 100,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoadPersisted restores entries from the attached store. Persisted state
// wins over any seed applied afterwards.
func (c *Catalog) LoadPersisted() error {
	if c.store == nil {
		return nil
	}
	entries, err := c.store.LoadEntries()
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		entry := e
		c.entries[entry.Key()] = &entry
	}
	c.logger.Info("catalog restored", slog.Int("entries", len(entries)))
	return nil
}

// seedFile is the YAML root structure for catalog seeds.
type seedFile struct {
	Entries []models.CatalogEntry `yaml:"entries"`
}

// LoadSeed merges default entries from a YAML file. Existing keys (from
// persistence or earlier seeds) are left untouched so learned confidence
// survives restarts. A missing file is not an error.
func (c *Catalog) LoadSeed(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read catalog seed: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse catalog seed: %w", err)
	}

	added := 0
	for _, entry := range seed.Entries {
		if c.upsertIfAbsent(entry) {
			added++
		}
	}
	c.logger.Info("catalog seeded", slog.String("path", path), slog.Int("added", added))
	return nil
}

// SeedDefaults installs the built-in issue/action mapping used when no seed
// file is configured.
func (c *Catalog) SeedDefaults() {
	defaults := []models.CatalogEntry{
		{Issue: models.IssueServiceDown, Action: models.ActionRestart, Confidence: 1.0, Auto: true, Description: "Restart service when it's down"},
		{Issue: models.IssueMemoryPressure, Action: models.ActionRestart, Confidence: 0.9, Auto: true, Description: "Restart service when memory usage is high"},
		{Issue: models.IssueMemoryPressure, Action: models.ActionScaleUp, Confidence: 0.7, Auto: true, Description: "Scale up service instances for memory pressure"},
		{Issue: models.IssueHighLatency, Action: models.ActionClearCache, Confidence: 0.8, Auto: true, Description: "Clear cache to reduce latency"},
		{Issue: models.IssueHighErrorRate, Action: models.ActionRollback, Confidence: 0.6, Auto: true, Description: "Rollback to previous version for high error rates"},
		{Issue: models.IssueHighCPU, Action: models.ActionScaleUp, Confidence: 0.8, Auto: true, Description: "Scale up for high CPU usage"},
	}
	for _, entry := range defaults {
		c.upsertIfAbsent(entry)
	}
}

func (c *Catalog) upsertIfAbsent(entry models.CatalogEntry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := entry.Key()
	if _, exists := c.entries[key]; exists {
		return false
	}
	entry.UpdatedAt = c.now()
	c.entries[key] = &entry
	c.persistLocked(entry)
	return true
}

// Upsert installs or replaces an entry. Manual catalog administration only;
// learned counters are preserved when the key already exists.
func (c *Catalog) Upsert(entry models.CatalogEntry) models.CatalogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := entry.Key()
	if existing, ok := c.entries[key]; ok {
		entry.Uses = existing.Uses
		entry.Successes = existing.Successes
		entry.LastUsedAt = existing.LastUsedAt
	}
	entry.UpdatedAt = c.now()
	c.entries[key] = &entry
	c.persistLocked(entry)
	return entry
}

// Get returns the entry for (issue, action).
func (c *Catalog) Get(issue models.IssueType, action string) (models.CatalogEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[string(issue)+":"+action]
	if !ok {
		return models.CatalogEntry{}, false
	}
	return *entry, true
}

// Ranked returns all entries for an issue type ordered by confidence
// descending, ties broken by successes descending then most recent use.
func (c *Catalog) Ranked(issue models.IssueType) []models.CatalogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.CatalogEntry, 0, 4)
	for _, entry := range c.entries {
		if entry.Issue == issue {
			out = append(out, *entry)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		if out[i].Successes != out[j].Successes {
			return out[i].Successes > out[j].Successes
		}
		return out[i].LastUsedAt.After(out[j].LastUsedAt)
	})
	return out
}

// List returns every catalog entry, ordered by key for stable output.
func (c *Catalog) List() []models.CatalogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.CatalogEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// MarkUsed stamps last_used_at when the decision engine dispatches an entry.
func (c *Catalog) MarkUsed(issue models.IssueType, action string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[string(issue)+":"+action]; ok {
		entry.LastUsedAt = c.now()
		c.persistLocked(*entry)
	}
}

// ApplyOutcome updates the entry for an executed action: uses and successes
// counters plus an exponential moving average over the binary outcome,
// clamped to [floor, 1]. Returns the updated entry.
func (c *Catalog) ApplyOutcome(issue models.IssueType, action string, success bool, alpha, floor float64) (models.CatalogEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := string(issue) + ":" + action
	entry, ok := c.entries[key]
	if !ok {
		return models.CatalogEntry{}, false
	}

	entry.Uses++
	outcome := 0.0
	if success {
		entry.Successes++
		outcome = 1.0
	}
	entry.Confidence += alpha * (outcome - entry.Confidence)
	if entry.Confidence < floor {
		entry.Confidence = floor
	}
	if entry.Confidence > 1.0 {
		entry.Confidence = 1.0
	}
	entry.LastUsedAt = c.now()
	entry.UpdatedAt = entry.LastUsedAt

	history := append(c.history[key], outcomeSample{at: entry.LastUsedAt, success: success})
	if len(history) > c.trendWindow {
		history = history[len(history)-c.trendWindow:]
	}
	c.history[key] = history

	c.persistLocked(*entry)
	return *entry, true
}

// Trend classifies recent outcome history for an entry within the window.
func (c *Catalog) Trend(issue models.IssueType, action string, window time.Duration) models.ActionTrend {
	c.mu.RLock()
	defer c.mu.RUnlock()

	trend := models.ActionTrend{Issue: issue, Action: action, Direction: models.TrendInsufficient}
	history := c.history[string(issue)+":"+action]
	if len(history) == 0 {
		return trend
	}

	cutoff := c.now().Add(-window)
	recent := make([]outcomeSample, 0, len(history))
	for _, s := range history {
		if s.at.After(cutoff) {
			recent = append(recent, s)
		}
	}
	if len(recent) == 0 {
		return trend
	}

	successes := 0
	for _, s := range recent {
		if s.success {
			successes++
		}
	}
	trend.Samples = len(recent)
	trend.SuccessRate = float64(successes) / float64(len(recent))

	if len(recent) >= 10 {
		half := len(recent) / 2
		first := successRate(recent[:half])
		second := successRate(recent[half:])
		switch {
		case second > first+0.1:
			trend.Direction = models.TrendImproving
		case second < first-0.1:
			trend.Direction = models.TrendDeclining
		default:
			trend.Direction = models.TrendStable
		}
	}
	return trend
}

func successRate(samples []outcomeSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	n := 0
	for _, s := range samples {
		if s.success {
			n++
		}
	}
	return float64(n) / float64(len(samples))
}

func (c *Catalog) persistLocked(entry models.CatalogEntry) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveEntry(entry); err != nil {
		c.logger.Warn("catalog snapshot failed",
			slog.String("issue", string(entry.Issue)),
			slog.String("action", entry.Action),
			slog.Any("error", err))
	}
}
