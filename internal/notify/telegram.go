package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// TelegramSender pushes signal and outcome messages to a Telegram chat
// through the Bot API sendMessage endpoint.
type TelegramSender struct {
	endpoint string // sendMessage URL with the bot token baked in
	chatID   string
	client   *http.Client
}

func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		endpoint: "https://api.telegram.org/bot" + token + "/sendMessage",
		chatID:   chatID,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Send delivers one message with the title bolded in Markdown.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, t.client, t.Name(), t.endpoint, map[string]string{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n%s", title, message),
		"parse_mode": "Markdown",
	})
}

func (t *TelegramSender) Name() string { return "telegram" }
