package classifier

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/kolstream/kolbot/internal/domain"
)

// tokenRe matches word tokens with an optional $/#/@ prefix, so "$POPCAT",
// "#BTC" and plain "ETH" all extract the same symbol.
var tokenRe = regexp.MustCompile(`(?:^|[^A-Za-z0-9])[$#@]?([A-Za-z0-9]+)`)

// leverageRe matches leverage hints like "10x" or "x10".
var leverageRe = regexp.MustCompile(`(?i)(?:^|[^A-Za-z0-9])(?:x(\d{1,2})|(\d{1,2})x)(?:$|[^A-Za-z0-9])`)

// Keyword verdict tables. Strong keywords are unambiguous trade language;
// weak ones only count when nothing stronger matches.
var (
	closeKeywords = map[string]bool{
		"close": true, "closed": true, "closing": true, "exit": true,
		"exited": true, "tp": true, "flat": true,
	}
	sellKeywords = map[string]bool{
		"short": true, "shorting": true, "shorted": true, "sell": true,
		"selling": true, "sold": true, "dump": true, "dumping": true,
	}
	buyKeywords = map[string]bool{
		"long": true, "longing": true, "longed": true, "buy": true,
		"buying": true, "bought": true, "ape": true, "aped": true,
		"bid": true, "bidding": true, "accumulate": true, "accumulating": true,
	}
	strongKeywords = map[string]bool{
		"long": true, "short": true, "close": true, "buy": true, "sell": true,
	}
)

// KeywordConfig configures a Keyword classifier.
type KeywordConfig struct {
	Tickers         []string
	SpotAssets      []string
	MinConfidence   float64
	DefaultLeverage int
}

// Keyword is a rule-based classifier: it extracts the first recognized ticker
// from the post text and derives the verdict from trade keywords. It is the
// default pluggable strategy; a model-backed classifier can replace it behind
// the same interface.
type Keyword struct {
	tickers         map[string]bool
	spotAssets      map[string]bool
	minConfidence   float64
	defaultLeverage int
}

// NewKeyword creates a Keyword classifier from the given config.
func NewKeyword(cfg KeywordConfig) *Keyword {
	k := &Keyword{
		tickers:         make(map[string]bool, len(cfg.Tickers)),
		spotAssets:      make(map[string]bool, len(cfg.SpotAssets)),
		minConfidence:   cfg.MinConfidence,
		defaultLeverage: cfg.DefaultLeverage,
	}
	for _, t := range cfg.Tickers {
		k.tickers[strings.ToUpper(strings.TrimSpace(t))] = true
	}
	for _, a := range cfg.SpotAssets {
		k.spotAssets[strings.ToUpper(strings.TrimSpace(a))] = true
	}
	return k
}

// Classify derives a signal from the post text. Posts mentioning no
// recognized ticker, or matching no trade keyword above the confidence
// floor, yield VerdictNone.
func (k *Keyword) Classify(post domain.Post) domain.Signal {
	none := domain.Signal{PostID: post.ID, Verdict: domain.VerdictNone}

	asset := k.extractTicker(post.Text)
	if asset == "" {
		return none
	}

	verdict, reason, confidence := classifyText(post.Text)
	if verdict == domain.VerdictNone || confidence < k.minConfidence {
		return none
	}

	venue := domain.VenuePerp
	if k.spotAssets[asset] {
		venue = domain.VenueSpot
	}
	// CLOSE is a perp-only verdict; on a spot asset it means a full exit.
	if venue == domain.VenueSpot && verdict == domain.VerdictClose {
		verdict = domain.VerdictSell
	}

	return domain.Signal{
		PostID:     post.ID,
		Verdict:    verdict,
		Asset:      asset,
		VenueKind:  venue,
		Leverage:   extractLeverage(post.Text, k.defaultLeverage),
		Confidence: confidence,
		Reason:     reason,
	}
}

// extractTicker returns the first recognized ticker in the text, uppercased,
// or "" when none match.
func (k *Keyword) extractTicker(text string) string {
	for _, m := range tokenRe.FindAllStringSubmatch(text, -1) {
		t := strings.ToUpper(m[1])
		if k.tickers[t] {
			return t
		}
	}
	return ""
}

// classifyText scans tokens against the verdict tables. Close beats sell
// beats buy, so "closing my long" reads as a close rather than a buy.
func classifyText(text string) (domain.Verdict, string, float64) {
	var (
		verdict domain.Verdict = domain.VerdictNone
		reason  string
		strong  bool
	)
	rank := func(v domain.Verdict) int {
		switch v {
		case domain.VerdictClose:
			return 3
		case domain.VerdictSell:
			return 2
		case domain.VerdictBuy:
			return 1
		default:
			return 0
		}
	}

	for _, m := range tokenRe.FindAllStringSubmatch(text, -1) {
		tok := strings.ToLower(m[1])
		var v domain.Verdict
		switch {
		case closeKeywords[tok]:
			v = domain.VerdictClose
		case sellKeywords[tok]:
			v = domain.VerdictSell
		case buyKeywords[tok]:
			v = domain.VerdictBuy
		default:
			continue
		}
		if rank(v) > rank(verdict) {
			verdict = v
			reason = "keyword:" + tok
			strong = strongKeywords[tok]
		} else if v == verdict && strongKeywords[tok] && !strong {
			reason = "keyword:" + tok
			strong = true
		}
	}

	if verdict == domain.VerdictNone {
		return domain.VerdictNone, "", 0
	}
	confidence := 0.6
	if strong {
		confidence = 0.9
	}
	return verdict, reason, confidence
}

// extractLeverage returns the first leverage hint in the text, or def when
// the post names none.
func extractLeverage(text string, def int) int {
	m := leverageRe.FindStringSubmatch(text)
	if m == nil {
		return def
	}
	for _, g := range m[1:] {
		if g == "" {
			continue
		}
		if n, err := strconv.Atoi(g); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// Compile-time interface check.
var _ Classifier = (*Keyword)(nil)
