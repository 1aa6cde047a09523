package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"MailPrompter/internal/ports"
)

// maxMessageLen is Telegram's limit for one text message.
const maxMessageLen = 4096

// Notifier sends run summaries to a Telegram chat via bot API.
type Notifier struct {
	botToken string
	chatID   int64
	endpoint string
	client   *http.Client

	once   sync.Once
	bot    *tgbotapi.BotAPI
	botErr error
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier registers bot token and chat identifier. An empty endpoint means the
// public Bot API.
func NewNotifier(botToken, chatID, endpoint string) (*Notifier, error) {
	if botToken == "" || chatID == "" {
		return nil, fmt.Errorf("telegram notifier: bot token and chat id are required")
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram notifier: chat id %q: %w", chatID, err)
	}
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	return &Notifier{
		botToken: botToken,
		chatID:   id,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// PublishSummary posts a plain-text message. The bot is authenticated on first use so
// a run without anything to report never touches the network.
func (n *Notifier) PublishSummary(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bot, err := n.connect()
	if err != nil {
		return err
	}

	runes := []rune(text)
	if len(runes) > maxMessageLen {
		text = string(runes[:maxMessageLen-1]) + "…"
	}
	if _, err := bot.Send(tgbotapi.NewMessage(n.chatID, text)); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (n *Notifier) connect() (*tgbotapi.BotAPI, error) {
	n.once.Do(func() {
		n.bot, n.botErr = tgbotapi.NewBotAPIWithClient(n.botToken, n.endpoint, n.client)
		if n.botErr != nil {
			n.botErr = fmt.Errorf("connect bot: %w", n.botErr)
		}
	})
	return n.bot, n.botErr
}
