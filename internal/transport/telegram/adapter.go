// Package telegram implements the transport.Transport port over the
// Telegram Bot API using long polling.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/kestrelai/core/internal/transport"
)

const defaultAPIBaseURL = "https://api.telegram.org"

// Config holds configuration for the Telegram adapter.
type Config struct {
	// Token is the bot token from @BotFather (required).
	Token string

	// BaseURL overrides the Bot API endpoint, for self-hosted relays.
	BaseURL string

	// AuthorizedChatID is the only chat whose messages are processed.
	// Messages from any other chat receive a rejection and never reach
	// the engine.
	AuthorizedChatID int64

	Logger *slog.Logger
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("telegram: token is required")
	}
	if c.AuthorizedChatID == 0 {
		return fmt.Errorf("telegram: authorized chat id is required")
	}
	if c.BaseURL == "" {
		c.BaseURL = defaultAPIBaseURL
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter is the Telegram transport.
type Adapter struct {
	config     Config
	bot        *bot.Bot
	messages   chan *transport.Message
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAdapter validates config and builds the bot client. The bot does
// not poll until Start is called.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	a := &Adapter{
		config:     config,
		messages:   make(chan *transport.Message, 100),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     config.Logger.With("component", "telegram"),
	}

	opts := []bot.Option{bot.WithDefaultHandler(a.handleUpdate)}
	if config.BaseURL != defaultAPIBaseURL {
		opts = append(opts, bot.WithServerURL(config.BaseURL))
	}
	b, err := bot.New(config.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	a.bot = b
	return a, nil
}

// Start begins long polling; the returned channel is closed when ctx
// is cancelled.
func (a *Adapter) Start(ctx context.Context) (<-chan *transport.Message, error) {
	go func() {
		defer close(a.messages)
		a.bot.Start(ctx)
	}()
	return a.messages, nil
}

// handleUpdate converts one Bot API update into a transport.Message,
// enforcing chat authorization first. Unauthorized chats get a
// rejection reply and no handler runs for them.
func (a *Adapter) handleUpdate(ctx context.Context, b *bot.Bot, update *tgmodels.Update) {
	switch {
	case update.Message != nil:
		msg := update.Message
		if msg.Chat.ID != a.config.AuthorizedChatID {
			a.reject(ctx, msg.Chat.ID)
			return
		}
		a.deliver(convertMessage(msg))

	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		chatID := cq.From.ID
		if cq.Message.Message != nil {
			chatID = cq.Message.Message.Chat.ID
		}
		if chatID != a.config.AuthorizedChatID {
			return
		}
		_, _ = b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: cq.ID})
		a.deliver(&transport.Message{
			ID:           cq.ID,
			ChatID:       chatID,
			Sender:       strconv.FormatInt(cq.From.ID, 10),
			Kind:         transport.KindCallback,
			CallbackData: cq.Data,
			ReceivedAt:   time.Now(),
		})
	}
}

func convertMessage(msg *tgmodels.Message) *transport.Message {
	out := &transport.Message{
		ID:         strconv.Itoa(msg.ID),
		ChatID:     msg.Chat.ID,
		Kind:       transport.KindText,
		Text:       msg.Text,
		ReceivedAt: time.Now(),
	}
	if msg.From != nil {
		out.Sender = strconv.FormatInt(msg.From.ID, 10)
	}

	switch {
	case msg.Location != nil:
		out.Kind = transport.KindLocation
		out.Lat = msg.Location.Latitude
		out.Lon = msg.Location.Longitude
	case msg.Document != nil:
		out.Kind = transport.KindFile
		out.FileID = msg.Document.FileID
		out.FileName = msg.Document.FileName
		if out.Text == "" {
			out.Text = msg.Caption
		}
	case len(msg.Photo) > 0:
		out.Kind = transport.KindFile
		// Last photo size is the largest rendition.
		out.FileID = msg.Photo[len(msg.Photo)-1].FileID
		if out.Text == "" {
			out.Text = msg.Caption
		}
	case msg.Voice != nil:
		out.Kind = transport.KindFile
		out.FileID = msg.Voice.FileID
	}
	return out
}

// deliver enqueues msg, dropping it with a warning when the inbound
// buffer is full.
func (a *Adapter) deliver(msg *transport.Message) {
	select {
	case a.messages <- msg:
	default:
		a.logger.Warn("inbound buffer full, dropping message", "message_id", msg.ID)
	}
}

func (a *Adapter) reject(ctx context.Context, chatID int64) {
	_, err := a.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   "This bot is private.",
	})
	if err != nil {
		a.logger.Warn("failed to send rejection", "chat_id", chatID, "error", err)
	}
}

// SendText normalizes markdown and sends text to the authorized chat,
// splitting messages over the channel limit at the nearest newline.
func (a *Adapter) SendText(ctx context.Context, text string) error {
	for _, part := range SplitMessage(NormalizeMarkdown(text)) {
		_, err := a.bot.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    a.config.AuthorizedChatID,
			Text:      part,
			ParseMode: tgmodels.ParseModeMarkdownV1,
		})
		if err != nil {
			return fmt.Errorf("telegram: send message: %w", err)
		}
	}
	return nil
}

// SendKeyboard sends text with an inline keyboard to the authorized
// chat.
func (a *Adapter) SendKeyboard(ctx context.Context, text string, rows [][]transport.Button) error {
	keyboard := make([][]tgmodels.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		out := make([]tgmodels.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			out = append(out, tgmodels.InlineKeyboardButton{
				Text:         btn.Text,
				CallbackData: btn.CallbackData,
			})
		}
		keyboard = append(keyboard, out)
	}

	_, err := a.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      a.config.AuthorizedChatID,
		Text:        NormalizeMarkdown(text),
		ParseMode:   tgmodels.ParseModeMarkdownV1,
		ReplyMarkup: &tgmodels.InlineKeyboardMarkup{InlineKeyboard: keyboard},
	})
	if err != nil {
		return fmt.Errorf("telegram: send keyboard: %w", err)
	}
	return nil
}

// DownloadFile resolves fileID to a file path via getFile and fetches
// the raw bytes from the file endpoint.
func (a *Adapter) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := a.bot.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("telegram: get file: %w", err)
	}

	url := fmt.Sprintf("%s/file/bot%s/%s", a.config.BaseURL, a.config.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: build download request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram: download file: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Close is a no-op; polling stops when the Start context is cancelled.
func (a *Adapter) Close() error { return nil }
