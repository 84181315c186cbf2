package points_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/warp/points-engine/points"
	"github.com/warp/points-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2026, time.March, 15, 10, 30, 0, 0, time.UTC)

type harness struct {
	t        *testing.T
	ctx      context.Context
	store    *sqlite.Store
	engine   *points.Engine
	events   *recordingPublisher
	modified time.Time
}

func newMemoryStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newHarness(t *testing.T, opts ...points.Option) *harness {
	store := newMemoryStore(t)
	return newHarnessWithStore(t, store, store, opts...)
}

// newHarnessWithStore runs the engine over engineStore (which may wrap
// store) while fixtures are written to store directly.
func newHarnessWithStore(t *testing.T, store *sqlite.Store, engineStore points.Store, opts ...points.Option) *harness {
	events := &recordingPublisher{}
	base := []points.Option{
		points.WithClock(func() time.Time { return testNow }),
		points.WithPublisher(events),
	}
	return &harness{
		t:        t,
		ctx:      context.Background(),
		store:    store,
		engine:   points.NewEngine(engineStore, append(base, opts...)...),
		events:   events,
		modified: time.Date(2026, time.March, 1, 8, 0, 0, 0, time.UTC),
	}
}

func (h *harness) customer(code string) {
	require.NoError(h.t, h.store.SaveCustomer(h.ctx, code, "Customer "+code))
}

// condition creates a condition and flags and maps the given items to it.
func (h *harness) condition(code, per, earned string, items ...string) {
	require.NoError(h.t, h.store.SaveCondition(h.ctx, cond(code, per, earned)))
	for _, item := range items {
		h.item(item, true)
		require.NoError(h.t, h.store.MapItem(h.ctx, item, code))
	}
}

func (h *harness) item(code string, havePoint bool) {
	require.NoError(h.t, h.store.SaveItem(h.ctx, sqlite.Item{Code: code, Name: "Item " + code, HavePoint: havePoint}))
}

func (h *harness) period(start, end string) points.EligibilityPeriod {
	p, err := h.store.CreatePeriod(h.ctx, points.EligibilityPeriod{
		StartDate: date(start),
		EndDate:   date(end),
		Active:    true,
		UpdatedAt: testNow,
	})
	require.NoError(h.t, err)
	return p
}

// tick returns a modification time later than any returned before.
func (h *harness) tick() time.Time {
	h.modified = h.modified.Add(time.Minute)
	return h.modified
}

func (h *harness) sale(docNo, cust, day string, lines ...points.LineItem) points.SourceDocument {
	doc := points.SourceDocument{
		DocNo:        docNo,
		Type:         points.DocSale,
		DocDate:      date(day),
		DocTime:      "09:15",
		CustCode:     cust,
		LastModified: h.tick(),
	}
	require.NoError(h.t, h.store.SaveDocument(h.ctx, doc, lines))
	return doc
}

func (h *harness) ret(docNo, cust, day, ref string, lines ...points.LineItem) points.SourceDocument {
	doc := points.SourceDocument{
		DocNo:        docNo,
		Type:         points.DocReturn,
		DocDate:      date(day),
		DocTime:      "16:40",
		CustCode:     cust,
		RefDocNo:     ref,
		LastModified: h.tick(),
	}
	require.NoError(h.t, h.store.SaveDocument(h.ctx, doc, lines))
	return doc
}

// edit re-saves doc with new lines and a newer modification time.
func (h *harness) edit(doc points.SourceDocument, lines ...points.LineItem) points.SourceDocument {
	doc.LastModified = h.tick()
	require.NoError(h.t, h.store.SaveDocument(h.ctx, doc, lines))
	return doc
}

func (h *harness) processAll() points.RunResult {
	res, err := h.engine.ProcessAll(h.ctx)
	require.NoError(h.t, err)
	return res
}

func (h *harness) balance(cust string) points.CustomerBalance {
	c, err := h.store.Customer(h.ctx, cust)
	require.NoError(h.t, err)
	return c.Balance
}

func (h *harness) entries(cust string) []points.LedgerEntry {
	entries, _, err := h.store.ListEntries(h.ctx, cust, 100, 0)
	require.NoError(h.t, err)
	return entries
}

// entryFor returns the single entry linked to a source document.
func (h *harness) entryFor(cust, sourceDocNo string) points.LedgerEntry {
	for _, e := range h.entries(cust) {
		if e.SaleDocNo == sourceDocNo || e.ReturnDocNo == sourceDocNo {
			full, err := h.store.Entry(h.ctx, e.DocNo)
			require.NoError(h.t, err)
			return full
		}
	}
	h.t.Fatalf("no ledger entry for %s", sourceDocNo)
	return points.LedgerEntry{}
}

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

// =============================================================================
// TEST DOUBLES
// =============================================================================

type recordingPublisher struct {
	mu     sync.Mutex
	events []points.LedgerEvent
}

func (p *recordingPublisher) Publish(_ context.Context, events ...points.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) all() []points.LedgerEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]points.LedgerEvent(nil), p.events...)
}

// faultyStore makes every unit of work touching failDocNo fail while
// loading its lines.
type faultyStore struct {
	points.Store
	mu        sync.Mutex
	failDocNo string
}

func (f *faultyStore) setFailure(docNo string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failDocNo = docNo
}

func (f *faultyStore) WithTx(ctx context.Context, fn func(points.Tx) error) error {
	f.mu.Lock()
	fail := f.failDocNo
	f.mu.Unlock()
	return f.Store.WithTx(ctx, func(tx points.Tx) error {
		return fn(&faultyTx{Tx: tx, failDocNo: fail})
	})
}

type faultyTx struct {
	points.Tx
	failDocNo string
}

func (f *faultyTx) Lines(ctx context.Context, docType points.DocType, docNo string) ([]points.LineItem, error) {
	if docNo == f.failDocNo {
		return nil, errInjected
	}
	return f.Tx.Lines(ctx, docType, docNo)
}

// staleOwnersStore reports no entry owners while stale is set, as if the
// document's entries moved after the pass looked them up.
type staleOwnersStore struct {
	points.Store
	mu    sync.Mutex
	stale bool
}

func (s *staleOwnersStore) setStale(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stale = v
}

func (s *staleOwnersStore) EntryOwners(ctx context.Context, docType points.DocType, docNo string) ([]string, error) {
	s.mu.Lock()
	stale := s.stale
	s.mu.Unlock()
	if stale {
		return nil, nil
	}
	return s.Store.EntryOwners(ctx, docType, docNo)
}

var errInjected = &injectedError{}

type injectedError struct{}

func (*injectedError) Error() string { return "injected failure" }

// blockingStore parks DueDocuments until released, to hold a pass open.
type blockingStore struct {
	points.Store
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) DueDocuments(ctx context.Context, docType points.DocType) ([]points.SourceDocument, error) {
	if docType == points.DocSale {
		close(b.entered)
		<-b.release
	}
	return b.Store.DueDocuments(ctx, docType)
}
