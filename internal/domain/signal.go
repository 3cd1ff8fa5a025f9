package domain

// Verdict is the categorical trade decision a classifier derives from a post.
type Verdict string

const (
	VerdictBuy   Verdict = "buy"
	VerdictSell  Verdict = "sell"
	VerdictClose Verdict = "close"
	VerdictNone  Verdict = "none"
)

// Signal is the classifier's verdict for a single post. It is derived and
// immutable; the coordinator never re-classifies a post.
type Signal struct {
	PostID     string
	Verdict    Verdict
	Asset      string    // ticker symbol, e.g. "POPCAT"
	VenueKind  VenueKind // which venue the verdict targets
	Leverage   int       // perp leverage hint, 0 = use configured default
	Confidence float64   // 0..1
	Reason     string    // human-readable trigger, e.g. matched keyword
}
