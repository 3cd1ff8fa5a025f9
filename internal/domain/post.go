package domain

import "time"

// Post is a single social-media post from a watched account, as delivered by
// the feed. Posts are immutable once observed; the ID is the upstream post
// (tweet) identifier and is unique per post.
type Post struct {
	ID         string    `json:"id"`
	Author     string    `json:"author"` // screen name of the watched account
	Text       string    `json:"text"`
	URL        string    `json:"url,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}
