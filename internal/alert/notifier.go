// Package alert delivers run alerts (start, halt, finish) to a Discord DM.
package alert

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/your-org/dca-drawdown-sim/internal/config"
	"github.com/your-org/dca-drawdown-sim/pkg/logger"
	"go.uber.org/zap"
)

// Notifier is the interface for sending alert messages.
type Notifier interface {
	Send(message string) error
	Close() error
}

// NoOpNotifier is a notifier that does nothing. It is used when alerting is disabled.
type NoOpNotifier struct{}

// NewNoOpNotifier creates a new NoOpNotifier.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

// Send does nothing.
func (n *NoOpNotifier) Send(message string) error {
	return nil
}

// Close does nothing.
func (n *NoOpNotifier) Close() error {
	return nil
}

// discordSession is the part of *discordgo.Session the notifier uses.
type discordSession interface {
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	Close() error
}

// DiscordNotifier buffers messages and sends them as one direct message per
// buffer interval.
type DiscordNotifier struct {
	session        discordSession
	userID         string
	bufferInterval time.Duration
	logger         *zap.Logger

	mu     sync.Mutex
	buffer []string
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewDiscordNotifier creates a notifier from cfg. Token and user id are required.
func NewDiscordNotifier(cfg config.DiscordConfig, logger *zap.Logger) (*DiscordNotifier, error) {
	if cfg.BotToken == "" || cfg.UserID == "" {
		return nil, errors.New("discord bot token and user ID must be configured")
	}
	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	return newDiscordNotifier(session, cfg.UserID, cfg.BufferInterval.Std(), logger), nil
}

func newDiscordNotifier(session discordSession, userID string, interval time.Duration, logger *zap.Logger) *DiscordNotifier {
	if interval <= 0 {
		interval = time.Minute
	}
	n := &DiscordNotifier{
		session:        session,
		userID:         userID,
		bufferInterval: interval,
		logger:         logger.With(zap.String("component", "discord")),
		done:           make(chan struct{}),
	}
	n.wg.Add(1)
	go n.run()
	return n
}

// New returns a DiscordNotifier when credentials are configured and a
// NoOpNotifier otherwise.
func New(cfg config.DiscordConfig, l *zap.Logger) Notifier {
	if cfg.BotToken == "" || cfg.UserID == "" {
		return NewNoOpNotifier()
	}
	n, err := NewDiscordNotifier(cfg, l)
	if err != nil {
		l.Warn("Discord alerts disabled", logger.Event(logger.EventAlert), zap.Error(err))
		return NewNoOpNotifier()
	}
	return n
}

// Send queues message for the next flush.
func (n *DiscordNotifier) Send(message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return errors.New("notifier is closed")
	}
	n.buffer = append(n.buffer, fmt.Sprintf("`%s` %s", time.Now().UTC().Format(time.RFC3339), message))
	return nil
}

func (n *DiscordNotifier) run() {
	defer n.wg.Done()
	ticker := time.NewTicker(n.bufferInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.flush()
		case <-n.done:
			n.flush()
			return
		}
	}
}

func (n *DiscordNotifier) flush() {
	n.mu.Lock()
	if len(n.buffer) == 0 {
		n.mu.Unlock()
		return
	}
	msgs := n.buffer
	n.buffer = nil
	n.mu.Unlock()

	channel, err := n.session.UserChannelCreate(n.userID)
	if err != nil {
		n.logger.Error("Failed to open discord DM channel", logger.Event(logger.EventAlert), zap.Error(err))
		return
	}
	content := fmt.Sprintf("--- **Simulation Report (%d)** ---\n%s", len(msgs), strings.Join(msgs, "\n"))
	if _, err := n.session.ChannelMessageSend(channel.ID, content); err != nil {
		n.logger.Error("Failed to send discord message", logger.Event(logger.EventAlert), zap.Error(err))
	}
}

// Close flushes pending messages and closes the session.
func (n *DiscordNotifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	close(n.done)
	n.wg.Wait()
	return n.session.Close()
}
