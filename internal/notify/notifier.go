// Package notify fans trade events out to operator channels (Telegram,
// Discord). Delivery is best effort and filtered by event type; a notification
// failure never affects the trade that triggered it.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kolstream/kolbot/internal/domain"
)

// Event types accepted in the notify.events config list.
const (
	EventPostObserved = "post_observed"
	EventConfirmed    = "trade_confirmed"
	EventFailed       = "trade_failed"
	EventExpired      = "trade_expired"
)

// Sender is one delivery channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name identifies the sender, e.g. "telegram".
	Name() string
}

// Notifier formats coordinator events and dispatches them to all senders.
// Only events whose type appears in the configured list are forwarded; an
// empty list allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// New creates a Notifier delivering to senders.
func New(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// PostObserved reports a post that classified to a trade verdict.
func (n *Notifier) PostObserved(ctx context.Context, post domain.Post, sig domain.Signal) {
	title := fmt.Sprintf("Signal: %s %s", strings.ToUpper(string(sig.Verdict)), sig.Asset)
	var b strings.Builder
	fmt.Fprintf(&b, "Author: @%s\n", post.Author)
	fmt.Fprintf(&b, "Venue: %s\n", sig.VenueKind)
	if sig.Leverage > 1 {
		fmt.Fprintf(&b, "Leverage: %dx\n", sig.Leverage)
	}
	fmt.Fprintf(&b, "Confidence: %.2f\n", sig.Confidence)
	if post.URL != "" {
		fmt.Fprintf(&b, "%s", post.URL)
	}
	n.notify(ctx, EventPostObserved, title, b.String())
}

// Outcome reports the terminal result of an execution.
func (n *Notifier) Outcome(ctx context.Context, out domain.ExecutionOutcome) {
	var event, title string
	switch out.Status {
	case domain.ExecConfirmed:
		event = EventConfirmed
		title = fmt.Sprintf("Trade confirmed: %s %s", strings.ToUpper(string(out.Verdict)), out.Asset)
	case domain.ExecExpired:
		event = EventExpired
		title = fmt.Sprintf("Trade expired: %s %s", strings.ToUpper(string(out.Verdict)), out.Asset)
	case domain.ExecFailed:
		event = EventFailed
		title = fmt.Sprintf("Trade failed: %s %s", strings.ToUpper(string(out.Verdict)), out.Asset)
	default:
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Post: %s\n", out.PostID)
	if out.Position != nil {
		fmt.Fprintf(&b, "Position: %s %.6f @ %.6f (%s)\n",
			out.Position.Side, out.Position.Size, out.Position.AvgEntryPrice, out.Position.VenueKind)
	}
	if out.Err != "" {
		fmt.Fprintf(&b, "Error: %s", out.Err)
	}
	n.notify(ctx, event, title, strings.TrimRight(b.String(), "\n"))
}

// notify filters by event type and dispatches to every sender. A sender
// failure is logged and does not block the others.
func (n *Notifier) notify(ctx context.Context, event, title, message string) {
	if len(n.events) > 0 && !n.events[event] {
		return
	}
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.Warn("notification failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.logger.Debug("notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", event),
		)
	}
}
