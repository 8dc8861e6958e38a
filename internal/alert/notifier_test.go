package alert

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/your-org/dca-drawdown-sim/internal/config"
	"go.uber.org/zap"
)

// MockDiscordSession is a mock for the discordSession interface.
type MockDiscordSession struct {
	mock.Mock
}

func (m *MockDiscordSession) UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	args := m.Called(recipientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*discordgo.Channel), args.Error(1)
}

func (m *MockDiscordSession) ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	args := m.Called(channelID, content)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*discordgo.Message), args.Error(1)
}

func (m *MockDiscordSession) Close() error {
	args := m.Called()
	return args.Error(0)
}

const (
	testUserID    = "test-user-id"
	testChannelID = "test-channel-id"
)

func TestNewDiscordNotifier(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		cfg := config.DiscordConfig{BotToken: "fake-token", UserID: testUserID}
		n, err := NewDiscordNotifier(cfg, zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, testUserID, n.userID)
		assert.Equal(t, time.Minute, n.bufferInterval)
		assert.NoError(t, n.Close())
	})

	t.Run("missing bot token", func(t *testing.T) {
		n, err := NewDiscordNotifier(config.DiscordConfig{UserID: testUserID}, zap.NewNop())
		assert.Nil(t, n)
		assert.EqualError(t, err, "discord bot token and user ID must be configured")
	})
}

func TestNew_FallsBackToNoOp(t *testing.T) {
	n := New(config.DiscordConfig{}, zap.NewNop())
	assert.IsType(t, &NoOpNotifier{}, n)
	assert.NoError(t, n.Send("ignored"))
	assert.NoError(t, n.Close())
}

func TestDiscordNotifier_Buffering(t *testing.T) {
	sent := make(chan struct{})
	session := new(MockDiscordSession)
	session.On("UserChannelCreate", testUserID).Return(&discordgo.Channel{ID: testChannelID}, nil).Once()
	session.On("ChannelMessageSend", testChannelID, mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) {
			defer close(sent)
			content := args.String(1)
			assert.Contains(t, content, "run started")
			assert.Contains(t, content, "run halted")
			assert.True(t, strings.HasPrefix(content, "--- **Simulation Report (2)"))
		}).
		Return(&discordgo.Message{}, nil).
		Once()

	n := newDiscordNotifier(session, testUserID, 50*time.Millisecond, zap.NewNop())
	require.NoError(t, n.Send("run started"))
	require.NoError(t, n.Send("run halted"))
	session.AssertNotCalled(t, "ChannelMessageSend", mock.Anything, mock.Anything)

	select {
	case <-sent:
	case <-time.After(time.Second):
		t.Fatal("buffered messages were not flushed")
	}

	session.On("Close").Return(nil).Once()
	require.NoError(t, n.Close())
	session.AssertExpectations(t)
}

func TestDiscordNotifier_CloseFlushesPending(t *testing.T) {
	session := new(MockDiscordSession)
	session.On("UserChannelCreate", testUserID).Return(&discordgo.Channel{ID: testChannelID}, nil).Once()
	session.On("ChannelMessageSend", testChannelID, mock.MatchedBy(func(s string) bool {
		return strings.Contains(s, "final message")
	})).Return(&discordgo.Message{}, nil).Once()
	session.On("Close").Return(nil).Once()

	n := newDiscordNotifier(session, testUserID, time.Hour, zap.NewNop())
	require.NoError(t, n.Send("final message"))
	require.NoError(t, n.Close())
	session.AssertExpectations(t)

	assert.EqualError(t, n.Send("too late"), "notifier is closed")
	assert.NoError(t, n.Close(), "second close is a no-op")
}

func TestDiscordNotifier_ChannelCreateError(t *testing.T) {
	session := new(MockDiscordSession)
	session.On("UserChannelCreate", testUserID).Return(nil, errors.New("channel create failed")).Once()
	session.On("Close").Return(nil).Once()

	n := newDiscordNotifier(session, testUserID, time.Hour, zap.NewNop())
	require.NoError(t, n.Send("test"))
	require.NoError(t, n.Close())

	session.AssertExpectations(t)
	session.AssertNotCalled(t, "ChannelMessageSend", mock.Anything, mock.Anything)
}
