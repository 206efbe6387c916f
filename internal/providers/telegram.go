package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"
	"telemetry-service/internal/logging"
	"telemetry-service/internal/models"
	"telemetry-service/internal/utils"
)

// messageSender is the part of bot.Bot the provider uses.
type messageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// Telegram sends alerts to one chat through the Bot API.
type Telegram struct {
	sender  messageSender
	chatID  int64
	limiter *rate.Limiter
	logger  *logging.Logger
	delay   time.Duration
}

// NewTelegram builds a Telegram provider limited to ratePerSecond messages.
func NewTelegram(token string, chatID int64, ratePerSecond int, logger *logging.Logger) (*Telegram, error) {
	if token == "" {
		return nil, fmt.Errorf("missing Telegram bot token")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("missing Telegram chat id")
	}
	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}
	return newTelegram(b, chatID, ratePerSecond, logger), nil
}

func newTelegram(sender messageSender, chatID int64, ratePerSecond int, logger *logging.Logger) *Telegram {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	return &Telegram{
		sender:  sender,
		chatID:  chatID,
		limiter: rate.NewLimiter(rate.Limit(float64(ratePerSecond)), ratePerSecond),
		logger:  logger,
		delay:   time.Second,
	}
}

func (t *Telegram) Name() string {
	return "telegram"
}

// Send delivers one alert, waiting for the rate limiter and retrying transient failures.
func (t *Telegram) Send(ctx context.Context, a models.Alert) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram rate limit exceeded: %w", err)
	}

	params := &bot.SendMessageParams{
		ChatID:    t.chatID,
		Text:      FormatAlert(a),
		ParseMode: "Markdown",
	}
	return utils.Retry(ctx, t.logger, 3, t.delay, func() error {
		if _, err := t.sender.SendMessage(ctx, params); err != nil {
			return fmt.Errorf("failed to send Telegram message to chat_id %d: %w", t.chatID, err)
		}
		return nil
	})
}

// FormatAlert renders an alert as a Markdown message.
func FormatAlert(a models.Alert) string {
	return fmt.Sprintf(
		"*%s: %s*\n%s\n\n"+
			"*Device:* %s\n"+
			"*Alert ID:* %s\n"+
			"*Raised:* %s",
		a.Severity,
		a.Type,
		escapeMarkdown(a.Message),
		escapeMarkdown(a.DeviceID),
		escapeMarkdown(a.ID),
		a.CreatedAt.UTC().Format(time.RFC3339),
	)
}

var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
