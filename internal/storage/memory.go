package storage

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"replaycore/internal/artifact"
	"replaycore/internal/canonical"
)

// MemoryStore is a deterministic in-memory implementation of TxRunner and
// Repository. It backs the engine and replay tests: write transactions get
// snapshot rollback, read transactions operate on a copy so a buggy caller
// cannot mutate authoritative state.
type MemoryStore struct {
	mu sync.Mutex
	st memState
}

type memState struct {
	runs      map[uuid.UUID]artifact.Run
	assets    map[string]artifact.Asset
	candles   map[string]artifact.Candle
	sets      map[string]*artifact.Set
	manifests map[string]canonical.Manifest
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: memState{
		runs:      make(map[uuid.UUID]artifact.Run),
		assets:    make(map[string]artifact.Asset),
		candles:   make(map[string]artifact.Candle),
		sets:      make(map[string]*artifact.Set),
		manifests: make(map[string]canonical.Manifest),
	}}
}

func hourKey(runID uuid.UUID, accountID int64, hourTS time.Time) string {
	return runID.String() + "|" + strconv.FormatInt(accountID, 10) + "|" + hourTS.UTC().Format(time.RFC3339)
}

// WithWriteTx runs fn with snapshot rollback: any error restores the state
// exactly as it was, mirroring a relational rollback.
func (m *MemoryStore) WithWriteTx(ctx context.Context, fn func(Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&memRepo{st: &m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// WithReadTx runs fn against a copy of the state; mutations are discarded.
func (m *MemoryStore) WithReadTx(ctx context.Context, fn func(Repository) error) error {
	m.mu.Lock()
	view := m.st.clone()
	m.mu.Unlock()

	return fn(&memRepo{st: &view})
}

// Tamper mutates one persisted hour's artifact set in place, bypassing the
// append-only discipline. Test-only hook for mismatch localization scenarios.
func (m *MemoryStore) Tamper(runID uuid.UUID, accountID int64, hourTS time.Time, mutate func(*artifact.Set)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.st.sets[hourKey(runID, accountID, hourTS)]; ok {
		mutate(set)
	}
}

func (s memState) clone() memState {
	out := memState{
		runs:      make(map[uuid.UUID]artifact.Run, len(s.runs)),
		assets:    make(map[string]artifact.Asset, len(s.assets)),
		candles:   make(map[string]artifact.Candle, len(s.candles)),
		sets:      make(map[string]*artifact.Set, len(s.sets)),
		manifests: make(map[string]canonical.Manifest, len(s.manifests)),
	}
	for k, v := range s.runs {
		out.runs[k] = v
	}
	for k, v := range s.assets {
		out.assets[k] = v
	}
	for k, v := range s.candles {
		out.candles[k] = v
	}
	for k, v := range s.sets {
		out.sets[k] = cloneSet(v)
	}
	for k, v := range s.manifests {
		v.Tables = append([]canonical.TableSummary(nil), v.Tables...)
		out.manifests[k] = v
	}
	return out
}

func cloneSet(set *artifact.Set) *artifact.Set {
	return &artifact.Set{
		Signals:          append([]artifact.TradeSignal(nil), set.Signals...),
		Orders:           append([]artifact.OrderRequest(nil), set.Orders...),
		Fills:            append([]artifact.OrderFill(nil), set.Fills...),
		Lots:             append([]artifact.PositionLot(nil), set.Lots...),
		Trades:           append([]artifact.ExecutedTrade(nil), set.Trades...),
		RiskEvents:       append([]artifact.RiskEvent(nil), set.RiskEvents...),
		Ledger:           append([]artifact.CashLedgerRow(nil), set.Ledger...),
		Portfolio:        append([]artifact.PortfolioHourlyState(nil), set.Portfolio...),
		ClusterExposures: append([]artifact.ClusterExposureHourlyState(nil), set.ClusterExposures...),
		RiskStates:       append([]artifact.RiskHourlyState(nil), set.RiskStates...),
	}
}

// memRepo exposes the Repository capability set over one memState.
type memRepo struct {
	st *memState
}

func (r *memRepo) GetRun(ctx context.Context, runID uuid.UUID) (artifact.Run, error) {
	run, ok := r.st.runs[runID]
	if !ok {
		return artifact.Run{}, ErrRunNotFound
	}
	return run, nil
}

func (r *memRepo) InsertRun(ctx context.Context, run artifact.Run) error {
	r.st.runs[run.RunID] = run
	return nil
}

func (r *memRepo) ListAssets(ctx context.Context) ([]artifact.Asset, error) {
	assets := make([]artifact.Asset, 0, len(r.st.assets))
	for _, a := range r.st.assets {
		assets = append(assets, a)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Symbol < assets[j].Symbol })
	return assets, nil
}

func (r *memRepo) UpsertAsset(ctx context.Context, asset artifact.Asset) error {
	r.st.assets[asset.Symbol] = asset
	return nil
}

func (r *memRepo) ListCandles(ctx context.Context, from, to time.Time) ([]artifact.Candle, error) {
	candles := make([]artifact.Candle, 0)
	for _, c := range r.st.candles {
		if !c.HourTS.Before(from) && !c.HourTS.After(to) {
			candles = append(candles, c)
		}
	}
	sort.Slice(candles, func(i, j int) bool {
		if candles[i].Symbol != candles[j].Symbol {
			return candles[i].Symbol < candles[j].Symbol
		}
		return candles[i].HourTS.Before(candles[j].HourTS)
	})
	return candles, nil
}

func (r *memRepo) UpsertCandle(ctx context.Context, c artifact.Candle) error {
	r.st.candles[c.Symbol+"|"+c.HourTS.UTC().Format(time.RFC3339)] = c
	return nil
}

func (r *memRepo) LatestCandleHour(ctx context.Context) (time.Time, bool, error) {
	var latest time.Time
	var found bool
	for _, c := range r.st.candles {
		if !found || c.HourTS.After(latest) {
			latest = c.HourTS
			found = true
		}
	}
	return latest.UTC(), found, nil
}

func (r *memRepo) InsertArtifacts(ctx context.Context, set *artifact.Set) error {
	if len(set.Portfolio) == 0 {
		return nil
	}
	p := set.Portfolio[0]
	r.st.sets[hourKey(p.RunID, p.AccountID, p.HourTS)] = cloneSet(set)
	return nil
}

func (r *memRepo) LoadArtifacts(ctx context.Context, runID uuid.UUID, accountID int64, hourTS time.Time) (*artifact.Set, error) {
	set, ok := r.st.sets[hourKey(runID, accountID, hourTS)]
	if !ok {
		return &artifact.Set{}, nil
	}
	return cloneSet(set), nil
}

func (r *memRepo) InsertManifest(ctx context.Context, m canonical.Manifest) error {
	key := hourKey(m.RunID, m.AccountID, m.HourTS)
	if _, exists := r.st.manifests[key]; exists {
		return ErrHourAlreadyExecuted
	}
	r.st.manifests[key] = m
	return nil
}

func (r *memRepo) GetManifest(ctx context.Context, runID uuid.UUID, accountID int64, hourTS time.Time) (canonical.Manifest, bool, error) {
	m, ok := r.st.manifests[hourKey(runID, accountID, hourTS)]
	return m, ok, nil
}

func (r *memRepo) ListManifestTargets(ctx context.Context, accountID int64, mode artifact.RunMode, from, to time.Time) ([]ManifestKey, error) {
	keys := make([]ManifestKey, 0)
	for _, m := range r.st.manifests {
		if m.AccountID != accountID {
			continue
		}
		run, ok := r.st.runs[m.RunID]
		if !ok || run.Mode != mode {
			continue
		}
		if m.HourTS.Before(from) || m.HourTS.After(to) {
			continue
		}
		keys = append(keys, ManifestKey{RunID: m.RunID, AccountID: m.AccountID, HourTS: m.HourTS})
	}
	sortManifestKeys(keys)
	return keys, nil
}

func (r *memRepo) ListAllManifestTargets(ctx context.Context) ([]ManifestKey, error) {
	keys := make([]ManifestKey, 0, len(r.st.manifests))
	for _, m := range r.st.manifests {
		keys = append(keys, ManifestKey{RunID: m.RunID, AccountID: m.AccountID, HourTS: m.HourTS})
	}
	sortManifestKeys(keys)
	return keys, nil
}

func sortManifestKeys(keys []ManifestKey) {
	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].HourTS.Equal(keys[j].HourTS) {
			return keys[i].HourTS.Before(keys[j].HourTS)
		}
		return keys[i].RunID.String() < keys[j].RunID.String()
	})
}

func (r *memRepo) ListRecentManifests(ctx context.Context, limit int) ([]canonical.Manifest, error) {
	manifests := make([]canonical.Manifest, 0, len(r.st.manifests))
	for _, m := range r.st.manifests {
		manifests = append(manifests, m)
	}
	sort.Slice(manifests, func(i, j int) bool { return manifests[i].HourTS.After(manifests[j].HourTS) })
	if len(manifests) > limit {
		manifests = manifests[:limit]
	}
	return manifests, nil
}

func (r *memRepo) LatestExecutedHour(ctx context.Context, runID uuid.UUID, accountID int64) (time.Time, bool, error) {
	var latest time.Time
	var found bool
	for _, m := range r.st.manifests {
		if m.RunID != runID || m.AccountID != accountID {
			continue
		}
		if !found || m.HourTS.After(latest) {
			latest = m.HourTS
			found = true
		}
	}
	return latest, found, nil
}

func (r *memRepo) ListPortfolioStates(ctx context.Context, runID uuid.UUID, accountID int64, from, to time.Time) ([]artifact.PortfolioHourlyState, error) {
	states := make([]artifact.PortfolioHourlyState, 0)
	for _, set := range r.st.sets {
		for _, p := range set.Portfolio {
			if p.RunID != runID || p.AccountID != accountID {
				continue
			}
			if p.HourTS.Before(from) || p.HourTS.After(to) {
				continue
			}
			states = append(states, p)
		}
	}
	sort.Slice(states, func(i, j int) bool { return states[i].HourTS.Before(states[j].HourTS) })
	return states, nil
}

var (
	_ TxRunner   = (*MemoryStore)(nil)
	_ Repository = (*memRepo)(nil)
)
