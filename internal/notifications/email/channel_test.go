package email

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/types"
)

type mockEmailProvider struct {
	calls   int
	input   types.SendInput
	sendErr error
}

func (m *mockEmailProvider) Send(_ context.Context, input types.SendInput) (string, error) {
	m.calls++
	m.input = input
	if m.sendErr != nil {
		return "", m.sendErr
	}
	return "msg-1", nil
}

type mockUsers struct {
	profile *types.UserProfile
	err     error
	calls   int
}

func (m *mockUsers) GetUser(_ context.Context, userID string) (*types.UserProfile, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.profile, nil
}

type mockTemplates struct {
	tmpl *types.Template
	err  error
}

func (m *mockTemplates) GetTemplate(_ context.Context, code string) (*types.Template, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.tmpl, nil
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)      {}
func (nopLogger) Warn(string, ...any)      {}
func (nopLogger) Error(string, ...any)     {}
func (nopLogger) With(...any) types.Logger { return nopLogger{} }

type channelFixture struct {
	provider  *mockEmailProvider
	users     *mockUsers
	templates *mockTemplates
	channel   *Channel
}

func newChannelFixture(t *testing.T) *channelFixture {
	t.Helper()
	f := &channelFixture{
		provider: &mockEmailProvider{},
		users: &mockUsers{profile: &types.UserProfile{
			ID:          "u1",
			Email:       "profile@example.com",
			Preferences: types.UserPreferences{Email: true},
		}},
		templates: &mockTemplates{tmpl: &types.Template{
			Code:    "welcome",
			Subject: "Welcome {{name}}",
			Body:    "<p>Hi {{name}}</p>",
		}},
	}
	f.channel = NewChannel(ChannelConfig{
		Provider:  f.provider,
		Users:     f.users,
		Templates: f.templates,
		Renderer:  newTestRenderer(t),
		Logger:    nopLogger{},
	})
	return f
}

func envelopeMessage(vars map[string]any) types.QueueMessage {
	return types.QueueMessage{
		Kind: types.MessageKindEnvelope,
		Envelope: &types.NotificationEnvelope{
			NotificationID: "n-1",
			Type:           types.NotificationTypeEmail,
			UserID:         "u1",
			TemplateID:     "welcome",
			Variables:      vars,
			MaxRetries:     types.DefaultMaxRetries,
		},
	}
}

func TestChannelDeliver_RecipientFromVariables(t *testing.T) {
	f := newChannelFixture(t)

	err := f.channel.Deliver(context.Background(), envelopeMessage(map[string]any{"name": "Ann", "to": "ann@example.com"}))
	require.NoError(t, err)

	assert.Equal(t, 1, f.provider.calls)
	assert.Equal(t, 0, f.users.calls, "explicit recipient should skip the user lookup")
	assert.Equal(t, "ann@example.com", f.provider.input.To)
	assert.Equal(t, "Welcome Ann", f.provider.input.Subject)
	assert.Equal(t, "n-1", f.provider.input.ReferenceID)
	assert.Equal(t, "notifications@example.com", f.provider.input.From.Address)
	assert.True(t, strings.Contains(f.provider.input.BodyHTML, "<p>Hi Ann</p>"))
}

func TestChannelDeliver_EmailVariableAndMeta(t *testing.T) {
	f := newChannelFixture(t)

	err := f.channel.Deliver(context.Background(), envelopeMessage(map[string]any{
		"meta": map[string]any{"email": "meta@example.com", "name": "Bo"},
	}))
	require.NoError(t, err)
	assert.Equal(t, "meta@example.com", f.provider.input.To)
	assert.Equal(t, "Welcome Bo", f.provider.input.Subject)
}

func TestChannelDeliver_RecipientFromUserProfile(t *testing.T) {
	f := newChannelFixture(t)

	require.NoError(t, f.channel.Deliver(context.Background(), envelopeMessage(map[string]any{"name": "Ann"})))
	assert.Equal(t, 1, f.users.calls)
	assert.Equal(t, "profile@example.com", f.provider.input.To)
}

func TestChannelDeliver_NoRecipientIsPermanent(t *testing.T) {
	f := newChannelFixture(t)
	f.users.profile = &types.UserProfile{ID: "u1", Preferences: types.UserPreferences{Email: true}}

	err := f.channel.Deliver(context.Background(), envelopeMessage(nil))
	require.Error(t, err)
	assert.True(t, types.IsPermanent(err))
	assert.Equal(t, 0, f.provider.calls)
}

func TestChannelDeliver_EmailOptOutIsPermanent(t *testing.T) {
	f := newChannelFixture(t)
	f.users.profile = &types.UserProfile{
		ID:          "u1",
		Email:       "profile@example.com",
		Preferences: types.UserPreferences{Push: true, Email: false},
	}

	err := f.channel.Deliver(context.Background(), envelopeMessage(map[string]any{"name": "Ann"}))
	require.Error(t, err)
	assert.True(t, types.IsPermanent(err))
	assert.Contains(t, err.Error(), "email notifications disabled")
	assert.Equal(t, 0, f.provider.calls)
}

func TestChannelDeliver_TemplateErrorsPropagate(t *testing.T) {
	f := newChannelFixture(t)
	notFound := types.Permanent(types.NewAppError(types.ErrCodeNotFoundTemplate, "template welcome not found", nil))
	f.templates.err = notFound

	err := f.channel.Deliver(context.Background(), envelopeMessage(map[string]any{"to": "a@example.com"}))
	assert.True(t, types.IsPermanent(err))

	transient := errors.New("connection refused")
	f.templates.err = transient
	err = f.channel.Deliver(context.Background(), envelopeMessage(map[string]any{"to": "a@example.com"}))
	assert.ErrorIs(t, err, transient)
	assert.False(t, types.IsPermanent(err))
}

func TestChannelDeliver_ProviderErrorIsReturned(t *testing.T) {
	f := newChannelFixture(t)
	f.provider.sendErr = types.NewAppError(types.ErrCodeUpstreamEmailProvider, "SES error", nil)

	err := f.channel.Deliver(context.Background(), envelopeMessage(map[string]any{"to": "a@example.com"}))
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamEmailProvider, appErr.Code)
}

func TestChannelDeliver_RejectsLegacyPayload(t *testing.T) {
	f := newChannelFixture(t)

	err := f.channel.Deliver(context.Background(), types.QueueMessage{
		Kind:   types.MessageKindLegacyPush,
		Legacy: &types.LegacyPushMessage{DeviceToken: "t", Title: "a", Body: "b"},
	})
	assert.True(t, types.IsPermanent(err))
	assert.Equal(t, 0, f.provider.calls)
}
