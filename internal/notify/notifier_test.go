package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/kolstream/kolbot/internal/domain"
)

type memSender struct {
	name     string
	fail     bool
	titles   []string
	messages []string
}

func (s *memSender) Send(_ context.Context, title, message string) error {
	if s.fail {
		return errors.New("channel down")
	}
	s.titles = append(s.titles, title)
	s.messages = append(s.messages, message)
	return nil
}

func (s *memSender) Name() string { return s.name }

func testNotifier(senders []Sender, events []string) *Notifier {
	return New(senders, events, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPostObservedFormatting(t *testing.T) {
	sender := &memSender{name: "telegram"}
	n := testNotifier([]Sender{sender}, nil)

	n.PostObserved(context.Background(),
		domain.Post{ID: "p1", Author: "cryptokol", URL: "https://x.com/1"},
		domain.Signal{Verdict: domain.VerdictBuy, Asset: "HYPE", VenueKind: domain.VenuePerp, Leverage: 10, Confidence: 0.9},
	)

	if len(sender.titles) != 1 {
		t.Fatalf("sends = %d, want 1", len(sender.titles))
	}
	if sender.titles[0] != "Signal: BUY HYPE" {
		t.Fatalf("title = %q", sender.titles[0])
	}
	msg := sender.messages[0]
	for _, want := range []string{"@cryptokol", "perp", "10x", "0.90", "https://x.com/1"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestOutcomeEventRouting(t *testing.T) {
	tests := []struct {
		status    domain.ExecStatus
		wantTitle string
	}{
		{domain.ExecConfirmed, "Trade confirmed: SELL HYPE"},
		{domain.ExecFailed, "Trade failed: SELL HYPE"},
		{domain.ExecExpired, "Trade expired: SELL HYPE"},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			sender := &memSender{name: "discord"}
			n := testNotifier([]Sender{sender}, nil)

			n.Outcome(context.Background(), domain.ExecutionOutcome{
				PostID: "p1", Asset: "HYPE", Verdict: domain.VerdictSell, Status: tt.status,
			})
			if len(sender.titles) != 1 || sender.titles[0] != tt.wantTitle {
				t.Fatalf("titles = %v, want %q", sender.titles, tt.wantTitle)
			}
		})
	}

	t.Run("skipped outcomes are not sent", func(t *testing.T) {
		sender := &memSender{name: "discord"}
		n := testNotifier([]Sender{sender}, nil)
		n.Outcome(context.Background(), domain.ExecutionOutcome{PostID: "p1", Status: domain.ExecSkipped})
		if len(sender.titles) != 0 {
			t.Fatalf("sends = %d, want 0", len(sender.titles))
		}
	})
}

func TestEventFilter(t *testing.T) {
	sender := &memSender{name: "telegram"}
	n := testNotifier([]Sender{sender}, []string{EventConfirmed})

	n.PostObserved(context.Background(), domain.Post{ID: "p1"}, domain.Signal{Verdict: domain.VerdictBuy, Asset: "HYPE"})
	n.Outcome(context.Background(), domain.ExecutionOutcome{PostID: "p1", Asset: "HYPE", Verdict: domain.VerdictBuy, Status: domain.ExecFailed})
	if len(sender.titles) != 0 {
		t.Fatalf("filtered events were sent: %v", sender.titles)
	}

	n.Outcome(context.Background(), domain.ExecutionOutcome{PostID: "p1", Asset: "HYPE", Verdict: domain.VerdictBuy, Status: domain.ExecConfirmed})
	if len(sender.titles) != 1 {
		t.Fatalf("allowed event not sent: %v", sender.titles)
	}
}

func TestSenderFailureDoesNotBlockOthers(t *testing.T) {
	broken := &memSender{name: "telegram", fail: true}
	working := &memSender{name: "discord"}
	n := testNotifier([]Sender{broken, working}, nil)

	n.Outcome(context.Background(), domain.ExecutionOutcome{
		PostID: "p1", Asset: "HYPE", Verdict: domain.VerdictBuy, Status: domain.ExecConfirmed,
	})
	if len(working.titles) != 1 {
		t.Fatal("second sender skipped after first failed")
	}
}
