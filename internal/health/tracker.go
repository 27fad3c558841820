package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/idna"
)

// StorageKey is the fixed key of the persisted health document.
const StorageKey = "v0tv_source_health_v1"

// DefaultScore is the score of a host with no recorded outcomes.
const DefaultScore = 0.6

const (
	defaultEMA      = DefaultScore
	baseAlpha       = 0.25
	downMinFails    = 3
	downWindow      = 6 * time.Hour
	downEMAFloor    = 0.25
	documentVersion = 1
)

// Entry is the health record of one host. Timestamps are Unix milliseconds,
// zero when never set.
type Entry struct {
	OK       int     `json:"ok"`
	Fail     int     `json:"fail"`
	EMA      float64 `json:"ema"`
	LastOK   int64   `json:"last_ok,omitempty"`
	LastFail int64   `json:"last_fail,omitempty"`
}

type document struct {
	V         int              `json:"v"`
	UpdatedAt int64            `json:"updated_at"`
	ByHost    map[string]Entry `json:"by_host"`
}

func emptyDocument() document {
	return document{V: documentVersion, ByHost: make(map[string]Entry)}
}

// Tracker scores hosts by an exponential moving average of playback
// outcomes. Record is serialised so concurrent updates are not lost.
type Tracker struct {
	store Store
	now   func() time.Time

	mu sync.Mutex

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(host string)
}

func NewTracker(store Store) *Tracker {
	return &Tracker{store: store, now: time.Now, subs: make(map[int]func(string))}
}

// NormalizeHost trims, lower-cases and IDNA-encodes a hostname.
func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if ascii, err := idna.Lookup.ToASCII(host); err == nil && ascii != "" {
		return ascii
	}
	return host
}

// HostFromURL returns the normalised host of rawURL, or "" when it has none.
func HostFromURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return NormalizeHost(u.Hostname())
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}

// load reads the document. Missing, corrupt or wrong-version documents
// read as empty.
func (t *Tracker) load(ctx context.Context) document {
	data, err := t.store.Load(ctx, StorageKey)
	if err != nil {
		slog.Warn("health: load failed", slog.Any("error", err))
		return emptyDocument()
	}
	if len(data) == 0 {
		return emptyDocument()
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil || doc.V != documentVersion || doc.ByHost == nil {
		slog.Debug("health: resetting unreadable document")
		return emptyDocument()
	}
	return doc
}

// Record folds one outcome for host into its EMA. weight in [0,1] scales
// the update; 1 is a full sample.
func (t *Tracker) Record(ctx context.Context, host string, ok bool, weight float64) error {
	key := NormalizeHost(host)
	if key == "" {
		return fmt.Errorf("health: empty host")
	}

	t.mu.Lock()
	doc := t.load(ctx)
	e, seen := doc.ByHost[key]
	if !seen {
		e = Entry{EMA: defaultEMA}
	}

	alpha := baseAlpha * clamp01(weight)
	sample := 0.0
	nowMs := t.now().UnixMilli()
	if ok {
		sample = 1
		e.OK++
		e.LastOK = nowMs
	} else {
		e.Fail++
		e.LastFail = nowMs
	}
	e.EMA = clamp01(e.EMA*(1-alpha) + sample*alpha)

	doc.ByHost[key] = e
	doc.UpdatedAt = nowMs
	data, err := json.Marshal(doc)
	if err == nil {
		err = t.store.Save(ctx, StorageKey, data)
	}
	t.mu.Unlock()

	if err != nil {
		return fmt.Errorf("health: save: %w", err)
	}
	slog.Debug("health: recorded", slog.String("host", key), slog.Bool("ok", ok), slog.Float64("ema", e.EMA))
	t.notify(key)
	return nil
}

// RecordURL records an outcome for the host of rawURL. URLs without a
// host are ignored.
func (t *Tracker) RecordURL(ctx context.Context, rawURL string, ok bool, weight float64) error {
	host := HostFromURL(rawURL)
	if host == "" {
		return nil
	}
	return t.Record(ctx, host, ok, weight)
}

// Lookup returns the stored entry for host.
func (t *Tracker) Lookup(ctx context.Context, host string) (Entry, bool) {
	e, ok := t.load(ctx).ByHost[NormalizeHost(host)]
	return e, ok
}

// Score returns the host EMA, or 0.6 for hosts never recorded.
func (t *Tracker) Score(ctx context.Context, host string) float64 {
	e, ok := t.Lookup(ctx, host)
	if !ok {
		return defaultEMA
	}
	return clamp01(e.EMA)
}

// LikelyDown reports a host with at least three failures, the latest within
// six hours and not followed by a success, and an EMA below 0.25.
func (t *Tracker) LikelyDown(ctx context.Context, host string) bool {
	e, ok := t.Lookup(ctx, host)
	if !ok {
		return false
	}
	nowMs := t.now().UnixMilli()
	recentFail := e.LastFail != 0 && nowMs-e.LastFail < downWindow.Milliseconds()
	noRecovery := e.LastOK == 0 || (e.LastFail != 0 && e.LastOK < e.LastFail)
	return e.Fail >= downMinFails && recentFail && noRecovery && e.EMA < downEMAFloor
}

// Snapshot returns every stored host entry.
func (t *Tracker) Snapshot(ctx context.Context) map[string]Entry {
	return t.load(ctx).ByHost
}

// Subscribe registers fn to be called with the host after each Record.
// The returned func removes the subscription.
func (t *Tracker) Subscribe(fn func(host string)) (unsubscribe func()) {
	t.subMu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	t.subMu.Unlock()

	return func() {
		t.subMu.Lock()
		delete(t.subs, id)
		t.subMu.Unlock()
	}
}

func (t *Tracker) notify(host string) {
	t.subMu.Lock()
	fns := make([]func(string), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.subMu.Unlock()
	for _, fn := range fns {
		fn(host)
	}
}
