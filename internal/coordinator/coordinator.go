// Package coordinator consumes classified posts and drives each triggering
// signal to exactly one safely-executed trade despite an unreliable network
// and two heterogeneous venues.
//
// The worker pool only classifies, claims the post's execution lineage, and
// submits; awaiting the venue's terminal answer happens in an independent
// per-record driver, so a slow settlement never blocks post processing. All
// operations touching a given (asset, venue) position are serialized by a
// keyed lock held from resolution until the record turns terminal.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kolstream/kolbot/internal/classifier"
	"github.com/kolstream/kolbot/internal/dedup"
	"github.com/kolstream/kolbot/internal/domain"
	"github.com/kolstream/kolbot/internal/ledger"
)

// Notifier receives coordinator events. Delivery failures are the notifier's
// problem; they never affect the trade.
type Notifier interface {
	PostObserved(ctx context.Context, post domain.Post, sig domain.Signal)
	Outcome(ctx context.Context, out domain.ExecutionOutcome)
}

// Config holds coordinator tuning parameters.
type Config struct {
	Workers          int
	SpotOrderSize    float64 // quote units per spot entry
	SpotExitFraction float64 // share of holdings sold per SELL, (0,1]
	PerpNotionalUSD  float64
	MaxLeverage      int
	Backoff          Backoff
	Budget           time.Duration // wall-clock limit before EXPIRED
	MaxAttempts      int
	VenueConcurrency int64
	PruneInterval    time.Duration
}

// Coordinator wires the classifier, ledger, dedup store and venue adapters
// into the execution pipeline.
type Coordinator struct {
	cfg        Config
	classifier classifier.Classifier
	ledger     *ledger.Ledger
	dedup      *dedup.Store
	spot       domain.SpotVenue
	perp       domain.PerpVenue

	locks    *keyring
	distLock domain.LockManager // optional cross-replica guard
	audit    domain.AuditStore  // optional
	notifier Notifier           // optional

	spotSem *semaphore.Weighted
	perpSem *semaphore.Weighted

	posts   <-chan domain.Post
	drivers sync.WaitGroup
	logger  *slog.Logger
}

// New creates a Coordinator reading posts from posts. audit, notifier and
// distLock may be nil.
func New(
	cfg Config,
	posts <-chan domain.Post,
	cls classifier.Classifier,
	led *ledger.Ledger,
	ded *dedup.Store,
	spot domain.SpotVenue,
	perp domain.PerpVenue,
	audit domain.AuditStore,
	notifier Notifier,
	distLock domain.LockManager,
	logger *slog.Logger,
) *Coordinator {
	if cfg.VenueConcurrency < 1 {
		cfg.VenueConcurrency = 1
	}
	return &Coordinator{
		cfg:        cfg,
		classifier: cls,
		ledger:     led,
		dedup:      ded,
		spot:       spot,
		perp:       perp,
		locks:      newKeyring(),
		distLock:   distLock,
		audit:      audit,
		notifier:   notifier,
		spotSem:    semaphore.NewWeighted(cfg.VenueConcurrency),
		perpSem:    semaphore.NewWeighted(cfg.VenueConcurrency),
		posts:      posts,
		logger:     logger.With(slog.String("component", "coordinator")),
	}
}

// Run starts the worker pool and the prune loop and blocks until ctx is
// cancelled. In-flight drivers are waited for on the way out; records they
// could not finish stay non-terminal and are resumed on the next run.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("coordinator started", slog.Int("workers", c.cfg.Workers))
	defer c.logger.Info("coordinator stopped")

	c.resume(ctx)

	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < c.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case post, ok := <-c.posts:
					if !ok {
						return nil
					}
					c.process(gctx, post)
				}
			}
		})
	}

	if c.cfg.PruneInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(c.cfg.PruneInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-ticker.C:
					if n, err := c.dedup.Prune(gctx); err != nil {
						c.logger.Warn("prune failed", slog.String("error", err.Error()))
					} else if n > 0 {
						c.logger.Info("pruned execution records", slog.Int("removed", n))
					}
				}
			}
		})
	}

	err := g.Wait()
	c.drivers.Wait()
	return err
}

// Handle processes one post synchronously and returns its final outcome.
// Duplicate deliveries of a post whose record is already in progress wait for
// and return the first caller's eventual outcome.
func (c *Coordinator) Handle(ctx context.Context, post domain.Post) domain.ExecutionOutcome {
	out, wait := c.begin(ctx, post)
	if !wait {
		return out
	}
	select {
	case <-ctx.Done():
		return domain.ExecutionOutcome{PostID: post.ID, Status: domain.ExecPending, Err: ctx.Err().Error()}
	case <-c.dedup.Done(post.ID):
	}
	rec, ok := c.dedup.Get(post.ID)
	if !ok {
		return domain.ExecutionOutcome{PostID: post.ID, Status: domain.ExecFailed, Err: "record lost"}
	}
	return c.outcomeFromRecord(rec)
}

// process is the worker-pool entry: it claims and submits, then moves on.
// The per-record driver reports the terminal outcome.
func (c *Coordinator) process(ctx context.Context, post domain.Post) {
	out, wait := c.begin(ctx, post)
	if wait {
		return
	}
	if out.Status == domain.ExecSkipped {
		c.logger.Debug("post skipped", slog.String("post_id", post.ID))
		return
	}
	c.logger.Info("post handled without venue call",
		slog.String("post_id", post.ID),
		slog.String("status", string(out.Status)),
		slog.String("error", out.Err),
	)
}

// begin runs the synchronous part of the pipeline: classify, claim the
// lineage, resolve the action, and hand off to a driver. When wait is true a
// driver (this call's or an earlier one's) owns the record and will close its
// done channel on the terminal transition.
func (c *Coordinator) begin(ctx context.Context, post domain.Post) (out domain.ExecutionOutcome, wait bool) {
	if post.ID == "" {
		return domain.ExecutionOutcome{Status: domain.ExecFailed, Err: "empty post id"}, false
	}

	sig := c.classifier.Classify(post)
	if sig.Verdict == domain.VerdictNone {
		return domain.ExecutionOutcome{PostID: post.ID, Status: domain.ExecSkipped}, false
	}

	rec, created, err := c.dedup.CreateIfAbsent(ctx, post.ID)
	if err != nil {
		c.logger.Error("dedup create failed", slog.String("post_id", post.ID), slog.String("error", err.Error()))
		return domain.ExecutionOutcome{PostID: post.ID, Asset: sig.Asset, Verdict: sig.Verdict,
			Status: domain.ExecFailed, Err: err.Error()}, false
	}
	if !created {
		if rec.Status.Terminal() {
			// Idempotent replay: return the recorded outcome unchanged.
			return c.outcomeFromRecord(rec), false
		}
		// Another worker owns the lineage; share its eventual outcome.
		return domain.ExecutionOutcome{}, true
	}

	if c.notifier != nil {
		c.notifier.PostObserved(ctx, post, sig)
	}

	key := domain.PositionKey{Asset: sig.Asset, VenueKind: sig.VenueKind}

	if !c.locks.tryAcquire(key) {
		return c.failBeforeSubmit(ctx, rec, sig, domain.ErrExecutionInFlight), false
	}
	release := func() { c.locks.release(key) }

	// Non-terminal record from another lineage holding the slot (e.g. a
	// resumed record still awaiting its venue answer).
	if holder, ok := c.dedup.InFlight(sig.Asset, sig.VenueKind); ok && holder != post.ID {
		release()
		return c.failBeforeSubmit(ctx, rec, sig, domain.ErrExecutionInFlight), false
	}

	if c.distLock != nil {
		ttl := c.cfg.Budget + c.cfg.Backoff.Max
		unlock, err := c.distLock.Acquire(ctx, lockKey(key), ttl)
		if err != nil {
			release()
			if errors.Is(err, domain.ErrLockHeld) {
				return c.failBeforeSubmit(ctx, rec, sig, domain.ErrExecutionInFlight), false
			}
			return c.failBeforeSubmit(ctx, rec, sig, fmt.Errorf("acquire venue lock: %w", err)), false
		}
		inner := release
		release = func() { unlock(); inner() }
	}

	pos := c.ledger.Get(sig.Asset, sig.VenueKind)
	plan, err := c.resolveAction(sig, pos, rec.IdempotencyToken)
	if err != nil {
		release()
		return c.failBeforeSubmit(ctx, rec, sig, err), false
	}

	rec.Asset = sig.Asset
	rec.VenueKind = sig.VenueKind
	rec.Action = plan.Action
	if err := c.dedup.Update(ctx, rec); err != nil {
		release()
		c.logger.Error("record update failed", slog.String("post_id", post.ID), slog.String("error", err.Error()))
		return domain.ExecutionOutcome{PostID: post.ID, Asset: sig.Asset, Verdict: sig.Verdict,
			Status: domain.ExecFailed, Err: err.Error()}, false
	}

	c.drivers.Add(1)
	go func() {
		defer c.drivers.Done()
		defer release()
		c.drive(ctx, sig, rec, plan, pos)
	}()
	return domain.ExecutionOutcome{}, true
}

// drive submits the planned action and awaits a terminal venue answer under
// the retry budget. It owns the record's terminal transition.
func (c *Coordinator) drive(ctx context.Context, sig domain.Signal, rec domain.ExecutionRecord, plan plannedAction, pos domain.Position) {
	deadline := time.Now().Add(c.cfg.Budget)
	log := c.logger.With(
		slog.String("post_id", rec.PostID),
		slog.String("asset", rec.Asset),
		slog.String("venue", string(rec.VenueKind)),
		slog.String("action", string(rec.Action)),
	)

	// Submit phase. Transient errors are retried with the same idempotency
	// token; a venue rejection is terminal.
	for rec.VenueOrderID == "" {
		if ctx.Err() != nil {
			log.Warn("shutdown before submission, record left pending for resume")
			return
		}
		if rec.Attempts >= c.cfg.MaxAttempts || time.Now().After(deadline) {
			c.finish(ctx, rec, sig, domain.ExecExpired, "retry budget exhausted before submission", nil)
			return
		}
		rec.Attempts++

		orderID, err := c.submit(ctx, sig.VenueKind, plan)
		switch {
		case err == nil:
			rec.VenueOrderID = orderID
			rec.Status = domain.ExecSubmitted
			rec.LastError = ""
			if uerr := c.dedup.Update(ctx, rec); uerr != nil {
				log.Error("record update failed", slog.String("error", uerr.Error()))
			}
			log.Info("submitted to venue", slog.String("venue_order_id", orderID), slog.Int("attempts", rec.Attempts))

		case errors.Is(err, domain.ErrVenueRejected):
			c.finish(ctx, rec, sig, domain.ExecFailed, err.Error(), nil)
			return

		default:
			rec.LastError = err.Error()
			if uerr := c.dedup.Update(ctx, rec); uerr != nil {
				log.Error("record update failed", slog.String("error", uerr.Error()))
			}
			log.Warn("submission failed, backing off",
				slog.Int("attempt", rec.Attempts),
				slog.String("error", err.Error()),
			)
			if !c.sleep(ctx, c.cfg.Backoff.Delay(rec.Attempts)) {
				return
			}
		}
	}

	c.await(ctx, sig, rec, pos, deadline, log)
}

// await polls the venue until a terminal answer or the budget runs out. On
// confirmation the ledger delta and the CONFIRMED transition are one logical
// step: the record only turns CONFIRMED once the position update landed.
func (c *Coordinator) await(ctx context.Context, sig domain.Signal, rec domain.ExecutionRecord, pos domain.Position, deadline time.Time, log *slog.Logger) {
	for {
		if ctx.Err() != nil {
			log.Warn("shutdown while awaiting venue, record left submitted for resume")
			return
		}
		if rec.Attempts >= c.cfg.MaxAttempts || time.Now().After(deadline) {
			// The venue never answered. Never guess a fill happened: surface
			// for manual reconciliation instead.
			c.finish(ctx, rec, sig, domain.ExecExpired, "no terminal venue answer within budget", nil)
			return
		}
		rec.Attempts++

		swapStatus, perpStatus, err := c.poll(ctx, sig.VenueKind, rec.VenueOrderID)
		if err != nil {
			rec.LastError = err.Error()
			if uerr := c.dedup.Update(ctx, rec); uerr != nil {
				log.Error("record update failed", slog.String("error", uerr.Error()))
			}
			log.Warn("poll failed, backing off", slog.Int("attempt", rec.Attempts), slog.String("error", err.Error()))
			if !c.sleep(ctx, c.cfg.Backoff.Delay(rec.Attempts)) {
				return
			}
			continue
		}

		switch venueState(sig.VenueKind, swapStatus, perpStatus) {
		case statePending:
			if !c.sleep(ctx, c.cfg.Backoff.Delay(rec.Attempts)) {
				return
			}

		case stateRejected:
			reason := rejectionReason(sig.VenueKind, swapStatus, perpStatus)
			c.finish(ctx, rec, sig, domain.ExecFailed, reason, nil)
			return

		case stateConfirmed:
			next, err := c.applyDelta(ctx, rec, pos, swapStatus, perpStatus)
			if err != nil {
				// Venue confirmed but the ledger could not be updated even
				// after a conflict retry. Leave the record submitted and
				// flag it loudly; pruning never touches it.
				log.Error("ledger apply failed after venue confirmation",
					slog.String("error", err.Error()))
				c.auditLog(ctx, "ledger_apply_failed", map[string]any{
					"post_id": rec.PostID,
					"asset":   rec.Asset,
					"venue":   string(rec.VenueKind),
					"error":   err.Error(),
				})
				return
			}
			c.finish(ctx, rec, sig, domain.ExecConfirmed, "", &next)
			return
		}
	}
}

// applyDelta folds the confirmed venue status into the ledger, using the
// position read at resolution time. On conflict the position moved while the
// order was in flight (an operator correction, typically), so the resulting
// state is recomputed from a fresh read before the single retry; re-applying
// the original delta would overwrite the interleaved update. A repeated
// conflict is surfaced, never dropped.
func (c *Coordinator) applyDelta(ctx context.Context, rec domain.ExecutionRecord, pos domain.Position, swap *domain.SwapStatus, perp *domain.PerpStatus) (domain.Position, error) {
	next, err := c.ledger.ApplyDelta(ctx, rec.Asset, rec.VenueKind, pos.Version, computeDelta(rec.Action, pos, swap, perp))
	if err == nil {
		return next, nil
	}
	if !ledger.IsConflict(err) {
		return domain.Position{}, err
	}
	fresh := c.ledger.Get(rec.Asset, rec.VenueKind)
	return c.ledger.ApplyDelta(ctx, rec.Asset, rec.VenueKind, fresh.Version, computeDelta(rec.Action, fresh, swap, perp))
}

// submit dispatches the planned action to the matching venue under that
// venue's concurrency cap.
func (c *Coordinator) submit(ctx context.Context, venue domain.VenueKind, plan plannedAction) (string, error) {
	sem := c.sem(venue)
	if err := sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer sem.Release(1)

	if venue == domain.VenueSpot {
		sub, err := c.spot.SubmitSwap(ctx, *plan.Swap)
		if err != nil {
			return "", err
		}
		return sub.VenueOrderID, nil
	}
	sub, err := c.perp.SubmitPositionChange(ctx, *plan.Perp)
	if err != nil {
		return "", err
	}
	return sub.VenueOrderID, nil
}

// poll queries the venue for the order's current state under the venue's
// concurrency cap.
func (c *Coordinator) poll(ctx context.Context, venue domain.VenueKind, orderID string) (*domain.SwapStatus, *domain.PerpStatus, error) {
	sem := c.sem(venue)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, nil, err
	}
	defer sem.Release(1)

	if venue == domain.VenueSpot {
		st, err := c.spot.PollStatus(ctx, orderID)
		if err != nil {
			return nil, nil, err
		}
		return &st, nil, nil
	}
	st, err := c.perp.PollStatus(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return nil, &st, nil
}

func (c *Coordinator) sem(venue domain.VenueKind) *semaphore.Weighted {
	if venue == domain.VenueSpot {
		return c.spotSem
	}
	return c.perpSem
}

// finish applies the terminal transition and fans the outcome out to the
// audit log and the notifier.
func (c *Coordinator) finish(ctx context.Context, rec domain.ExecutionRecord, sig domain.Signal, status domain.ExecStatus, errMsg string, posSnapshot *domain.Position) {
	rec.Status = status
	rec.LastError = errMsg
	if err := c.dedup.Update(ctx, rec); err != nil {
		c.logger.Error("terminal transition failed",
			slog.String("post_id", rec.PostID),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
		return
	}

	detail := map[string]any{
		"post_id":  rec.PostID,
		"asset":    rec.Asset,
		"venue":    string(rec.VenueKind),
		"action":   string(rec.Action),
		"status":   string(status),
		"attempts": rec.Attempts,
	}
	if errMsg != "" {
		detail["error"] = errMsg
	}
	c.auditLog(ctx, "execution_"+string(status), detail)

	out := domain.ExecutionOutcome{
		PostID:   rec.PostID,
		Asset:    rec.Asset,
		Verdict:  sig.Verdict,
		Status:   status,
		Position: posSnapshot,
		Err:      errMsg,
	}
	if c.notifier != nil {
		c.notifier.Outcome(ctx, out)
	}
	c.logger.Info("execution finished",
		slog.String("post_id", rec.PostID),
		slog.String("asset", rec.Asset),
		slog.String("status", string(status)),
		slog.Int("attempts", rec.Attempts),
		slog.String("error", errMsg),
	)
}

// failBeforeSubmit records a terminal FAILED with no venue call made.
func (c *Coordinator) failBeforeSubmit(ctx context.Context, rec domain.ExecutionRecord, sig domain.Signal, cause error) domain.ExecutionOutcome {
	rec.Asset = sig.Asset
	rec.VenueKind = sig.VenueKind
	c.finish(ctx, rec, sig, domain.ExecFailed, cause.Error(), nil)
	return domain.ExecutionOutcome{
		PostID:  rec.PostID,
		Asset:   sig.Asset,
		Verdict: sig.Verdict,
		Status:  domain.ExecFailed,
		Err:     cause.Error(),
	}
}

// resume restarts drivers for records a previous run left non-terminal.
// A SUBMITTED record with a venue order ID is polled to its conclusion; a
// PENDING record that already resolved an action may or may not have reached
// the venue, so it is expired for manual review; a PENDING record with no
// action never made a venue call and fails safely.
func (c *Coordinator) resume(ctx context.Context) {
	for _, rec := range c.openRecords() {
		sig := domain.Signal{PostID: rec.PostID, Asset: rec.Asset, VenueKind: rec.VenueKind, Verdict: verdictForAction(rec.Action)}

		switch {
		case rec.Status == domain.ExecSubmitted && rec.VenueOrderID != "":
			key := domain.PositionKey{Asset: rec.Asset, VenueKind: rec.VenueKind}
			if !c.locks.tryAcquire(key) {
				continue
			}
			pos := c.ledger.Get(rec.Asset, rec.VenueKind)
			deadline := time.Now().Add(c.cfg.Budget)
			c.drivers.Add(1)
			go func(rec domain.ExecutionRecord, sig domain.Signal, pos domain.Position) {
				defer c.drivers.Done()
				defer c.locks.release(key)
				log := c.logger.With(slog.String("post_id", rec.PostID), slog.Bool("resumed", true))
				log.Info("resuming submitted record")
				c.await(ctx, sig, rec, pos, deadline, log)
			}(rec, sig, pos)

		case rec.Action != "":
			// Submission may have left the process before the order ID was
			// recorded; never guess.
			c.finish(ctx, rec, sig, domain.ExecExpired, "interrupted during submission, reconcile manually", nil)

		default:
			c.finish(ctx, rec, sig, domain.ExecFailed, "interrupted before action resolution, no venue call made", nil)
		}
	}
}

// openRecords returns non-terminal records known to the dedup store.
func (c *Coordinator) openRecords() []domain.ExecutionRecord {
	var open []domain.ExecutionRecord
	for _, rec := range c.dedup.Snapshot() {
		if !rec.Status.Terminal() {
			open = append(open, rec)
		}
	}
	return open
}

func (c *Coordinator) outcomeFromRecord(rec domain.ExecutionRecord) domain.ExecutionOutcome {
	out := domain.ExecutionOutcome{
		PostID:  rec.PostID,
		Asset:   rec.Asset,
		Verdict: verdictForAction(rec.Action),
		Status:  rec.Status,
		Err:     rec.LastError,
	}
	if rec.Status == domain.ExecConfirmed {
		pos := c.ledger.Get(rec.Asset, rec.VenueKind)
		out.Position = &pos
	}
	return out
}

func (c *Coordinator) auditLog(ctx context.Context, event string, detail map[string]any) {
	if c.audit == nil {
		return
	}
	if err := c.audit.Log(ctx, event, detail); err != nil {
		c.logger.Warn("audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

// sleep pauses for d or until ctx is done; returns false on cancellation.
func (c *Coordinator) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type pollState int

const (
	statePending pollState = iota
	stateConfirmed
	stateRejected
)

func venueState(venue domain.VenueKind, swap *domain.SwapStatus, perp *domain.PerpStatus) pollState {
	if venue == domain.VenueSpot {
		switch swap.State {
		case domain.SwapFilled:
			return stateConfirmed
		case domain.SwapRejected:
			return stateRejected
		default:
			return statePending
		}
	}
	switch perp.State {
	case domain.PerpConfirmed:
		return stateConfirmed
	case domain.PerpRejected:
		return stateRejected
	default:
		return statePending
	}
}

func rejectionReason(venue domain.VenueKind, swap *domain.SwapStatus, perp *domain.PerpStatus) string {
	reason := ""
	if venue == domain.VenueSpot {
		reason = swap.Reason
	} else {
		reason = perp.Reason
	}
	if reason == "" {
		reason = domain.ErrVenueRejected.Error()
	}
	return reason
}

func verdictForAction(action domain.VenueAction) domain.Verdict {
	switch action {
	case domain.ActionSpotBuy, domain.ActionPerpOpenLong:
		return domain.VerdictBuy
	case domain.ActionSpotSell, domain.ActionPerpOpenShort:
		return domain.VerdictSell
	case domain.ActionPerpClose:
		return domain.VerdictClose
	default:
		return domain.VerdictNone
	}
}

func lockKey(key domain.PositionKey) string {
	return fmt.Sprintf("exec:%s:%s", key.Asset, key.VenueKind)
}
