package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"ChatScribe/internal/config"
	"ChatScribe/internal/domain"
	"ChatScribe/internal/ports"
)

const defaultQueueSize = 64

type fetchFunc func(channelID string, limit int, beforeID string) ([]*discordgo.Message, error)

// DiscordSource produces messages from a single monitored channel, both as
// a backward history pager and as a live event listener. Live events are
// pushed into a bounded queue drained by the pipeline's single consumer.
type DiscordSource struct {
	session   *discordgo.Session
	channelID string
	selfID    string
	queue     chan domain.SourceMessage
	logger    *slog.Logger

	// cursor holds the id of the oldest message returned so far; empty
	// means "start from the most recent".
	cursor string
	fetch  fetchFunc

	removeHandler func()
}

var (
	_ ports.HistoryPager  = (*DiscordSource)(nil)
	_ ports.MessageSource = (*DiscordSource)(nil)
)

// NewDiscordSource wires a Discord session for the configured channel.
func NewDiscordSource(cfg config.DiscordConfig, log *slog.Logger) (*DiscordSource, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("discord bot token not configured")
	}
	if cfg.ChannelID == "" {
		return nil, fmt.Errorf("discord channel id not configured")
	}

	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}

	d := &DiscordSource{
		session:   session,
		channelID: cfg.ChannelID,
		queue:     make(chan domain.SourceMessage, size),
		logger:    log,
	}
	d.fetch = func(channelID string, limit int, beforeID string) ([]*discordgo.Message, error) {
		return session.ChannelMessages(channelID, limit, beforeID, "", "")
	}
	return d, nil
}

// NextPage returns the next history page, newest-first, strictly older than
// everything returned before. A nil result means the history is exhausted.
// Pages whose every message has empty text are skipped here so the caller
// never mistakes them for exhaustion.
func (d *DiscordSource) NextPage(ctx context.Context, limit int) ([]domain.SourceMessage, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := d.fetch(d.channelID, limit, d.cursor)
		if err != nil {
			return nil, fmt.Errorf("fetch messages before %q: %w", d.cursor, err)
		}
		if len(raw) == 0 {
			return nil, nil
		}

		d.cursor = raw[len(raw)-1].ID

		page := make([]domain.SourceMessage, 0, len(raw))
		for _, m := range raw {
			msg := toSourceMessage(m)
			if strings.TrimSpace(msg.Text) == "" {
				d.debug("skip empty history message", "id", msg.ID)
				continue
			}
			page = append(page, msg)
		}

		if len(page) > 0 {
			return page, nil
		}
	}
}

// Start opens the gateway connection and begins forwarding new messages on
// the monitored channel. Messages authored by this bot are dropped.
func (d *DiscordSource) Start(ctx context.Context) error {
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}

	self := d.session.State.User
	if self == nil {
		var err error
		self, err = d.session.User("@me")
		if err != nil {
			_ = d.session.Close()
			return fmt.Errorf("resolve own identity: %w", err)
		}
	}
	d.selfID = self.ID

	d.removeHandler = d.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.ChannelID != d.channelID || m.Author == nil {
			return
		}
		if m.Author.ID == d.selfID {
			return
		}

		msg := toSourceMessage(m.Message)
		if strings.TrimSpace(msg.Text) == "" {
			d.debug("skip empty live message", "id", msg.ID)
			return
		}

		select {
		case d.queue <- msg:
		case <-ctx.Done():
		}
	})

	d.debug("discord source started", "channel", d.channelID, "self", d.selfID)
	return nil
}

// Messages exposes the live queue drained by the pipeline consumer.
func (d *DiscordSource) Messages() <-chan domain.SourceMessage {
	return d.queue
}

// Stop tears down the subscription and the gateway connection.
func (d *DiscordSource) Stop() error {
	if d.removeHandler != nil {
		d.removeHandler()
		d.removeHandler = nil
	}
	return d.session.Close()
}

func toSourceMessage(m *discordgo.Message) domain.SourceMessage {
	msg := domain.SourceMessage{
		ID:        m.ID,
		ChatID:    m.ChannelID,
		Text:      m.Content,
		Timestamp: m.Timestamp,
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
	}
	return msg
}

func (d *DiscordSource) debug(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Debug(msg, args...)
	}
}
