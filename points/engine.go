/*
engine.go - Batch orchestrator

PURPOSE:
  Drives the catch-up pass that turns new and edited source documents into
  ledger entries, and exposes the per-customer rebuild and manual point
  operations on top of the same units of work.

STATE MACHINE:
  IDLE -> SCANNING -> PROCESSING (one unit per document) -> IDLE

  SCANNING loads the active eligibility periods. With none, the pass ends
  immediately without writing anything. Otherwise due sales are processed
  first, then due returns, each in document date order, so a return can
  find the entry of a sale processed in the same pass.

UNIT OF WORK (one transaction per document):
  1. Re-read the document and its watermark. Skip if no longer due.
  2. Delete every entry previously derived from the document.
  3. Compute the new entry (allocation or reversal) and write it, reusing
     the doc number of the entry it replaces.
  4. Reconcile every customer whose entries were written or deleted.
  5. Record the watermark.

  A failure rolls back only that unit. It is logged with the document id,
  counted as failed, and leaves the watermark untouched so the next pass
  retries the document.

CONCURRENCY:
  - RunLock: at most one pass at a time, overlapping calls are rejected
  - customerLocks: units touching the same customer never interleave

SEE ALSO:
  - rebuild.go: Full per-customer rebuild
  - manual.go: Add / use / cancel-use
*/
package points

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/warp/points-engine/points"

// Engine is the point reconciliation engine.
type Engine struct {
	store     Store
	log       zerolog.Logger
	metrics   *Metrics
	publisher Publisher
	tracer    trace.Tracer
	loc       *time.Location
	now       func() time.Time
	runLock   *RunLock
	customers *customerLocks
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.log = l } }

func WithMetrics(m *Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.publisher = p
		}
	}
}

// WithLocation sets the business time zone used for manual entry dates
// and ledger doc numbers.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// NewEngine creates an engine over store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		log:       zerolog.Nop(),
		publisher: NopPublisher{},
		tracer:    otel.Tracer(tracerName),
		loc:       time.UTC,
		now:       time.Now,
		runLock:   NewRunLock(),
		customers: newCustomerLocks(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) clock() time.Time { return e.now().In(e.loc) }

// RunResult summarizes one batch pass or rebuild.
type RunResult struct {
	RunID          string `json:"run_id"`
	Processed      int    `json:"processed"`
	Skipped        int    `json:"skipped"`
	Failed         int    `json:"failed"`
	NoActivePeriod bool   `json:"no_active_period"`
}

// =============================================================================
// BATCH PASS
// =============================================================================

// ProcessAll processes every due document inside an active eligibility
// period. Per-document failures are counted, not returned; the error is
// reserved for failures that stop the pass (scan errors, cancellation,
// an overlapping pass).
func (e *Engine) ProcessAll(ctx context.Context) (RunResult, error) {
	if !e.runLock.TryAcquire() {
		return RunResult{}, ErrRunInProgress
	}
	defer e.runLock.Release()

	ctx, span := e.tracer.Start(ctx, "points.ProcessAll")
	defer span.End()

	run := e.beginRun(ctx, ModeProcessAll, "")
	log := e.log.With().Str("run_id", run.ID).Logger()
	log.Info().Msg("[Engine] Starting point processing")

	res, err := e.processAll(ctx, log)
	res.RunID = run.ID
	e.endRun(ctx, run, res, err)

	span.SetAttributes(
		attribute.Int("processed", res.Processed),
		attribute.Int("skipped", res.Skipped),
		attribute.Int("failed", res.Failed),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error().Err(err).Msg("[Engine] Point processing aborted")
		return res, err
	}

	log.Info().
		Int("processed", res.Processed).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Bool("no_active_period", res.NoActivePeriod).
		Msg("[Engine] Point processing finished")
	return res, nil
}

func (e *Engine) processAll(ctx context.Context, log zerolog.Logger) (RunResult, error) {
	var res RunResult

	periods, err := e.store.ActivePeriods(ctx)
	if err != nil {
		return res, errors.Wrap(err, "load active periods")
	}
	if len(periods) == 0 {
		res.NoActivePeriod = true
		log.Info().Msg("[Engine] No active eligibility period, nothing to process")
		return res, nil
	}

	for _, docType := range []DocType{DocSale, DocReturn} {
		docs, err := e.store.DueDocuments(ctx, docType)
		if err != nil {
			return res, errors.Wrapf(err, "scan due %s documents", docType)
		}

		for _, doc := range docs {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			if !InAnyPeriod(periods, doc.DocDate) {
				continue
			}

			changed, err := e.processDocument(ctx, doc)
			switch {
			case err != nil:
				res.Failed++
				e.metrics.document(doc.Type, outcomeFailed)
				log.Error().Err(err).
					Str("doc_no", doc.DocNo).
					Str("doc_type", string(doc.Type)).
					Str("cust_code", doc.CustCode).
					Msg("[Engine] Document failed, will retry next pass")
			case changed:
				res.Processed++
				e.metrics.document(doc.Type, outcomeProcessed)
			default:
				res.Skipped++
				e.metrics.document(doc.Type, outcomeSkipped)
			}
		}
	}
	return res, nil
}

// processDocument runs one document's unit of work. It reports whether
// any ledger entry was written or removed.
func (e *Engine) processDocument(ctx context.Context, doc SourceDocument) (bool, error) {
	ctx, span := e.tracer.Start(ctx, "points.ProcessDocument", trace.WithAttributes(
		attribute.String("doc_no", doc.DocNo),
		attribute.String("doc_type", string(doc.Type)),
	))
	defer span.End()

	// Entries may still belong to a previous customer of the document.
	owners, err := e.store.EntryOwners(ctx, doc.Type, doc.DocNo)
	if err != nil {
		span.RecordError(err)
		return false, &DocumentError{DocNo: doc.DocNo, DocType: doc.Type, Err: errors.Wrap(err, "load entry owners")}
	}
	held, unlock := e.customers.LockAll(append(owners, doc.CustCode)...)
	defer unlock()

	var u unit
	err = e.store.WithTx(ctx, func(tx Tx) error {
		u = unit{}

		current, err := tx.Document(ctx, doc.Type, doc.DocNo)
		if errors.Is(err, ErrDocumentNotFound) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "reload document")
		}
		if err := checkHeld(held, current.CustCode); err != nil {
			return err
		}

		wm, found, err := tx.Watermark(ctx, current.Type, current.DocNo)
		if err != nil {
			return errors.Wrap(err, "load watermark")
		}
		if found && !IsDue(&wm, current.LastModified) {
			return nil
		}

		rules, err := tx.RuleSet(ctx)
		if err != nil {
			return errors.Wrap(err, "load conditions")
		}
		if err := e.replaceDocumentEntries(ctx, tx, current, rules, &u); err != nil {
			return err
		}
		if err := checkHeld(held, u.customers()...); err != nil {
			return err
		}
		if err := e.reconcileTouched(ctx, tx, &u); err != nil {
			return err
		}
		return recordWatermark(ctx, tx, current, e.clock())
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, &DocumentError{DocNo: doc.DocNo, DocType: doc.Type, Err: err}
	}

	for _, w := range u.written {
		e.log.Debug().
			Str("doc_no", doc.DocNo).
			Str("doc_type", string(doc.Type)).
			Str("cust_code", w.CustCode).
			Str("ledger_doc_no", w.DocNo).
			Str("points", w.PointsEarned.String()).
			Msg("[Engine] Ledger entry written")
	}
	e.publish(ctx, u.events(e.clock()))
	return u.changed(), nil
}

var errCustomerNotLocked = errors.New("document changed customer while queued")

// checkHeld fails when a customer the unit touches was not locked before
// it started. The document stays due and is retried on the next pass.
func checkHeld(held map[string]bool, codes ...string) error {
	for _, code := range codes {
		if code != "" && !held[code] {
			return errors.Wrapf(errCustomerNotLocked, "customer %s", code)
		}
	}
	return nil
}

// replaceDocumentEntries deletes the entries previously derived from doc
// and writes the recomputed one under the first of their doc numbers.
func (e *Engine) replaceDocumentEntries(ctx context.Context, tx Tx, doc SourceDocument, rules RuleSet, u *unit) error {
	prior, err := tx.EntriesForDocument(ctx, doc.Type, doc.DocNo)
	if err != nil {
		return errors.Wrap(err, "load prior entries")
	}

	reuse := ""
	for i, p := range prior {
		if i == 0 {
			reuse = p.DocNo
		}
		if err := tx.DeleteEntry(ctx, p.DocNo); err != nil {
			return errors.Wrapf(err, "delete prior entry %s", p.DocNo)
		}
		u.removed = append(u.removed, p)
	}

	entry, err := e.writeDocument(ctx, tx, doc, rules, reuse)
	if err != nil {
		return err
	}
	if entry != nil {
		u.written = append(u.written, *entry)
	}
	return nil
}

// writeDocument computes the entry for doc and persists it under docNo, or
// under a fresh number when docNo is empty. It returns nil when the
// document yields no entry.
func (e *Engine) writeDocument(ctx context.Context, tx Tx, doc SourceDocument, rules RuleSet, docNo string) (*LedgerEntry, error) {
	if doc.Voided {
		return nil, nil
	}

	lines, err := tx.Lines(ctx, doc.Type, doc.DocNo)
	if err != nil {
		return nil, errors.Wrap(err, "load lines")
	}
	flags, err := tx.EligibleItems(ctx, ItemCodes(lines))
	if err != nil {
		return nil, errors.Wrap(err, "load eligibility flags")
	}
	eligible := FilterEligible(lines, flags)

	var entry *LedgerEntry
	switch doc.Type {
	case DocSale:
		entry = Allocate(rules, eligible)
	case DocReturn:
		var original *LedgerEntry
		if doc.RefDocNo != "" {
			sales, err := tx.EntriesForDocument(ctx, DocSale, doc.RefDocNo)
			if err != nil {
				return nil, errors.Wrapf(err, "load entry of sale %s", doc.RefDocNo)
			}
			original = LinkedSaleEntry(sales)
		}
		entry = Reverse(rules, eligible, original)
	default:
		return nil, errors.Errorf("unknown document type %q", doc.Type)
	}
	if entry == nil {
		return nil, nil
	}

	now := e.clock()
	if docNo == "" {
		if docNo, err = NextDocNo(ctx, tx, now); err != nil {
			return nil, err
		}
	}

	entry.DocNo = docNo
	entry.DocDate = doc.DocDate
	entry.DocTime = doc.DocTime
	entry.CustCode = doc.CustCode
	entry.UpdatedAt = now
	if doc.Type == DocSale {
		entry.SaleDocNo = doc.DocNo
		entry.Remark = fmt.Sprintf("points from sale %s", doc.DocNo)
	} else {
		entry.ReturnDocNo = doc.DocNo
		entry.Remark = fmt.Sprintf("points deducted for return %s", doc.DocNo)
	}

	if err := WriteEntry(ctx, tx, *entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// reconcileTouched recomputes the balance of every customer the unit touched.
func (e *Engine) reconcileTouched(ctx context.Context, tx Tx, u *unit) error {
	for _, cust := range u.customers() {
		bal, ok, err := Reconcile(ctx, tx, cust)
		if err != nil {
			return err
		}
		if !ok {
			e.log.Warn().Str("cust_code", cust).Msg("[Engine] Customer not in master, balance not stored")
		}
		u.setBalance(bal)
	}
	return nil
}

// =============================================================================
// UNIT BOOKKEEPING
// =============================================================================

// unit collects what one unit of work changed, for reconciliation and events.
type unit struct {
	written  []LedgerEntry
	removed  []LedgerEntry
	balances map[string]CustomerBalance
}

func (u *unit) changed() bool { return len(u.written) > 0 || len(u.removed) > 0 }

func (u *unit) setBalance(b CustomerBalance) {
	if u.balances == nil {
		u.balances = make(map[string]CustomerBalance)
	}
	u.balances[b.CustCode] = b
}

// customers returns the distinct customers of written and removed entries.
func (u *unit) customers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range [][]LedgerEntry{u.written, u.removed} {
		for _, entry := range list {
			if entry.CustCode != "" && !seen[entry.CustCode] {
				seen[entry.CustCode] = true
				out = append(out, entry.CustCode)
			}
		}
	}
	sort.Strings(out)
	return out
}

// events describes the unit's effect. A removed entry whose doc number
// was rewritten is reported once, as written.
func (u *unit) events(at time.Time) []LedgerEvent {
	rewritten := make(map[string]bool, len(u.written))
	var events []LedgerEvent
	for _, w := range u.written {
		rewritten[w.DocNo] = true
		events = append(events, newEvent(EventEntryWritten, w, at))
	}
	for _, r := range u.removed {
		if !rewritten[r.DocNo] {
			events = append(events, newEvent(EventEntryRemoved, r, at))
		}
	}
	return withBalances(events, u.balances)
}

func (e *Engine) publish(ctx context.Context, events []LedgerEvent) {
	if len(events) == 0 {
		return
	}
	if err := e.publisher.Publish(ctx, events...); err != nil {
		e.log.Warn().Err(err).Int("events", len(events)).Msg("[Engine] Failed to publish ledger events")
	}
}

// =============================================================================
// RUN HISTORY
// =============================================================================

func (e *Engine) beginRun(ctx context.Context, mode RunMode, custCode string) Run {
	run := Run{
		ID:        uuid.NewString(),
		Mode:      mode,
		CustCode:  custCode,
		Status:    RunRunning,
		StartedAt: e.clock(),
	}
	if err := e.store.SaveRun(ctx, run); err != nil {
		e.log.Warn().Err(err).Str("run_id", run.ID).Msg("[Engine] Failed to record run start")
	}
	return run
}

func (e *Engine) endRun(ctx context.Context, run Run, res RunResult, runErr error) {
	run.Processed = res.Processed
	run.Skipped = res.Skipped
	run.Failed = res.Failed
	run.FinishedAt = e.clock()
	run.Status = RunCompleted
	if runErr != nil {
		run.Status = RunFailed
		run.Error = runErr.Error()
	}

	e.metrics.run(run.Mode, run.Status, run.FinishedAt.Sub(run.StartedAt))

	// The pass may have been cancelled; the record still needs writing.
	if err := e.store.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		e.log.Warn().Err(err).Str("run_id", run.ID).Msg("[Engine] Failed to record run result")
	}
}
