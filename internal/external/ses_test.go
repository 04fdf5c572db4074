package external

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"courier/internal/types"
)

// mockSESAPI implements SESAPI for testing.
type mockSESAPI struct {
	sendEmailFunc func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

func (m *mockSESAPI) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	return m.sendEmailFunc(ctx, params, optFns...)
}

func sesReturning(err error) *mockSESAPI {
	return &mockSESAPI{
		sendEmailFunc: func(context.Context, *sesv2.SendEmailInput, ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			return nil, err
		},
	}
}

func TestSESSend_Success(t *testing.T) {
	var captured *sesv2.SendEmailInput
	mock := &mockSESAPI{
		sendEmailFunc: func(_ context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			captured = params
			return &sesv2.SendEmailOutput{MessageId: aws.String("ses-msg-1")}, nil
		},
	}

	client := NewSESClientWithAPI(mock, SESClientConfig{ConfigSetName: "courier-tracking", Logger: quietLogger()})

	msgID, err := client.Send(context.Background(), types.SendInput{
		To:          "ann@example.com",
		From:        types.SenderIdentity{Name: "Notifications", Address: "notifications@example.com"},
		Subject:     "Welcome, Ann",
		BodyHTML:    "<p>Hello Ann</p>",
		BodyText:    "Hello Ann",
		ReferenceID: "5d7f3c1e-8a42-4b8e-9f7a-2f1d6c1b9e10",
	})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if msgID != "ses-msg-1" {
		t.Errorf("expected message id ses-msg-1, got %s", msgID)
	}

	if got := aws.ToString(captured.FromEmailAddress); got != "Notifications <notifications@example.com>" {
		t.Errorf("from = %q", got)
	}
	if got := captured.Destination.ToAddresses; len(got) != 1 || got[0] != "ann@example.com" {
		t.Errorf("unexpected destination: %v", got)
	}
	if got := aws.ToString(captured.Content.Simple.Subject.Data); got != "Welcome, Ann" {
		t.Errorf("subject = %q", got)
	}
	if captured.Content.Simple.Body.Html == nil || captured.Content.Simple.Body.Text == nil {
		t.Error("expected both html and text bodies")
	}
	if aws.ToString(captured.ConfigurationSetName) != "courier-tracking" {
		t.Errorf("configuration set = %q", aws.ToString(captured.ConfigurationSetName))
	}
	if len(captured.EmailTags) != 1 ||
		aws.ToString(captured.EmailTags[0].Name) != "notification_id" ||
		aws.ToString(captured.EmailTags[0].Value) != "5d7f3c1e-8a42-4b8e-9f7a-2f1d6c1b9e10" {
		t.Errorf("expected reference tag, got %+v", captured.EmailTags)
	}
}

func TestSESSend_BareAddressAndNoOptionalFields(t *testing.T) {
	var captured *sesv2.SendEmailInput
	mock := &mockSESAPI{
		sendEmailFunc: func(_ context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			captured = params
			return &sesv2.SendEmailOutput{}, nil
		},
	}

	client := NewSESClientWithAPI(mock, SESClientConfig{Logger: quietLogger()})
	msgID, err := client.Send(context.Background(), types.SendInput{
		To:       "ann@example.com",
		From:     types.SenderIdentity{Address: "notifications@example.com"},
		Subject:  "Hi",
		BodyText: "plain only",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgID != "" {
		t.Errorf("expected empty message id, got %q", msgID)
	}
	if got := aws.ToString(captured.FromEmailAddress); got != "notifications@example.com" {
		t.Errorf("from = %q", got)
	}
	if captured.Content.Simple.Body.Html != nil {
		t.Error("html body should be omitted")
	}
	if captured.ConfigurationSetName != nil || captured.EmailTags != nil {
		t.Error("optional fields should be omitted")
	}
}

func TestSESSend_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      types.ErrorCode
		permanent bool
	}{
		{"rejected", &sestypes.MessageRejected{Message: aws.String("on suppression list")}, types.ErrCodeUpstreamEmailProvider, true},
		{"suspended", &sestypes.AccountSuspendedException{Message: aws.String("suspended")}, types.ErrCodeUpstreamEmailProvider, true},
		{"throttled", &sestypes.TooManyRequestsException{Message: aws.String("rate exceeded")}, types.ErrCodeUpstreamRateLimited, false},
		{"paused", &sestypes.SendingPausedException{Message: aws.String("paused")}, types.ErrCodeUpstreamUnavailable, false},
		{"generic", errors.New("connection reset"), types.ErrCodeUpstreamEmailProvider, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewSESClientWithAPI(sesReturning(tt.err), SESClientConfig{Logger: quietLogger()})
			_, err := client.Send(context.Background(), types.SendInput{To: "a@example.com", Subject: "x"})

			var appErr *types.AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("expected *types.AppError, got %T", err)
			}
			if appErr.Code != tt.code {
				t.Errorf("code = %s, want %s", appErr.Code, tt.code)
			}
			if types.IsPermanent(err) != tt.permanent {
				t.Errorf("permanent = %v, want %v", types.IsPermanent(err), tt.permanent)
			}
		})
	}
}

func TestSESSend_MissingRecipientSkipsSES(t *testing.T) {
	called := false
	mock := &mockSESAPI{
		sendEmailFunc: func(context.Context, *sesv2.SendEmailInput, ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			called = true
			return &sesv2.SendEmailOutput{}, nil
		},
	}
	client := NewSESClientWithAPI(mock, SESClientConfig{Logger: quietLogger()})

	_, err := client.Send(context.Background(), types.SendInput{To: "  ", Subject: "x"})
	if !types.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if called {
		t.Error("SES must not be called without a recipient")
	}
}
