package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"courier/internal/types"
)

// SESAPI is the part of the SES v2 client the email provider calls.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESClientConfig configures SESClient.
type SESClientConfig struct {
	// ConfigSetName attaches SES event publishing; empty sends without one.
	ConfigSetName string
	Logger        *slog.Logger
}

// SESClient delivers rendered email through SES v2. The SDK handles its own
// throttling retries; courier's dispatcher decides about anything beyond that.
type SESClient struct {
	api       SESAPI
	configSet string
	logger    *slog.Logger
}

// NewSESClient builds an SESClient on the default SES v2 client for awsCfg.
func NewSESClient(awsCfg aws.Config, cfg SESClientConfig) *SESClient {
	return NewSESClientWithAPI(sesv2.NewFromConfig(awsCfg), cfg)
}

// NewSESClientWithAPI builds an SESClient on api.
func NewSESClientWithAPI(api SESAPI, cfg SESClientConfig) *SESClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SESClient{api: api, configSet: cfg.ConfigSetName, logger: logger}
}

// Send hands one message to SES and returns the SES message id.
func (s *SESClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	if strings.TrimSpace(input.To) == "" {
		return "", types.Permanent(types.NewAppError(types.ErrCodeValidationMissingField,
			"email has no recipient", nil))
	}

	out, err := s.api.SendEmail(ctx, buildSESInput(input, s.configSet))
	if err != nil {
		mapped := classifySESError(err)
		s.logger.WarnContext(ctx, "SES send failed",
			"notification_id", input.ReferenceID,
			"to", types.RedactEmail(input.To),
			"permanent", types.IsPermanent(mapped),
			"error", err.Error(),
		)
		return "", mapped
	}

	msgID := aws.ToString(out.MessageId)
	s.logger.InfoContext(ctx, "SES accepted email",
		"notification_id", input.ReferenceID,
		"message_id", msgID,
	)
	return msgID, nil
}

func buildSESInput(input types.SendInput, configSet string) *sesv2.SendEmailInput {
	from := input.From.Address
	if input.From.Name != "" {
		from = fmt.Sprintf("%s <%s>", input.From.Name, input.From.Address)
	}

	body := &sestypes.Body{}
	if input.BodyHTML != "" {
		body.Html = utf8Content(input.BodyHTML)
	}
	if input.BodyText != "" {
		body.Text = utf8Content(input.BodyText)
	}

	req := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &sestypes.Destination{ToAddresses: []string{input.To}},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{Subject: utf8Content(input.Subject), Body: body},
		},
	}
	if configSet != "" {
		req.ConfigurationSetName = aws.String(configSet)
	}
	// Tag values are limited to [A-Za-z0-9_-], which notification ids satisfy.
	if input.ReferenceID != "" {
		req.EmailTags = []sestypes.MessageTag{
			{Name: aws.String("notification_id"), Value: aws.String(input.ReferenceID)},
		}
	}
	return req
}

func utf8Content(s string) *sestypes.Content {
	return &sestypes.Content{Data: aws.String(s), Charset: aws.String("UTF-8")}
}

// sesFailure maps one SES error type onto courier's error codes.
type sesFailure struct {
	matches   func(error) bool
	code      types.ErrorCode
	permanent bool
	reason    string
}

func sesErrorIs[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

// Rejections and a suspended account will not succeed on retry; throttling
// and paused sending clear up on their own.
var sesFailures = []sesFailure{
	{sesErrorIs[*sestypes.MessageRejected], types.ErrCodeUpstreamEmailProvider, true, "SES rejected the message"},
	{sesErrorIs[*sestypes.AccountSuspendedException], types.ErrCodeUpstreamEmailProvider, true, "SES account is suspended"},
	{sesErrorIs[*sestypes.TooManyRequestsException], types.ErrCodeUpstreamRateLimited, false, "SES throttled the request"},
	{sesErrorIs[*sestypes.SendingPausedException], types.ErrCodeUpstreamUnavailable, false, "SES sending is paused"},
}

func classifySESError(err error) error {
	for _, f := range sesFailures {
		if !f.matches(err) {
			continue
		}
		appErr := types.NewAppError(f.code, f.reason, err)
		if f.permanent {
			return types.Permanent(appErr)
		}
		return appErr
	}
	return types.NewAppError(types.ErrCodeUpstreamEmailProvider, "SES send failed", err)
}

var _ EmailProvider = (*SESClient)(nil)
