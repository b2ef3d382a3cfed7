// Package sms delivers offers as text messages through AWS SNS.
package sms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/smithy-go"
	"github.com/bissquit/listing-dispatch/internal/domain"
	"github.com/bissquit/listing-dispatch/internal/notifications"
)

// maxMessageLength is the SNS limit for a single SMS publish.
const maxMessageLength = 1600

var e164 = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// Config holds SMS sender configuration.
type Config struct {
	Enabled  bool
	Region   string
	SenderID string
}

// Publisher is the subset of the SNS client the sender uses.
type Publisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Sender implements notifications.Sender via SNS direct SMS publish.
type Sender struct {
	config Config
	client Publisher
}

// NewSender loads AWS credentials from the default chain and creates a sender.
// A disabled sender never touches AWS.
func NewSender(ctx context.Context, cfg Config) (*Sender, error) {
	if !cfg.Enabled {
		return &Sender{config: cfg}, nil
	}
	if cfg.Region == "" {
		return nil, errors.New("sms sender: region is required when enabled")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("sms sender: load aws config: %w", err)
	}

	slog.Info("sms sender configured",
		"enabled", cfg.Enabled,
		"region", cfg.Region,
		"sender_id", cfg.SenderID,
	)

	return NewSenderWithClient(cfg, sns.NewFromConfig(awsCfg)), nil
}

// NewSenderWithClient creates a sender around an existing publisher.
func NewSenderWithClient(cfg Config, client Publisher) *Sender {
	return &Sender{config: cfg, client: client}
}

// Type returns the channel type.
func (s *Sender) Type() domain.ChannelType {
	return domain.ChannelTypeSMS
}

// Send publishes notification.Body to the phone number in notification.To.
func (s *Sender) Send(ctx context.Context, notification notifications.Notification) error {
	if !s.config.Enabled {
		slog.Debug("sms sender disabled, skipping")
		return nil
	}

	if !e164.MatchString(notification.To) {
		return notifications.NewNonRetryableError(fmt.Errorf("sms: invalid phone number %q", notification.To))
	}

	msg := notification.Body
	if r := []rune(msg); len(r) > maxMessageLength {
		msg = string(r[:maxMessageLength])
	}

	_, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(notification.To),
		Message:           aws.String(msg),
		MessageAttributes: s.attributes(),
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

func (s *Sender) attributes() map[string]types.MessageAttributeValue {
	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String("Transactional"),
		},
	}
	if s.config.SenderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(s.config.SenderID),
		}
	}
	return attrs
}

// permanentCodes are SNS error codes that will fail again on retry.
var permanentCodes = map[string]bool{
	"InvalidParameter":      true,
	"InvalidParameterValue": true,
	"AuthorizationError":    true,
	"OptedOut":              true,
	"EndpointDisabled":      true,
}

func classify(err error) error {
	wrapped := fmt.Errorf("sns publish: %w", err)

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && permanentCodes[apiErr.ErrorCode()] {
		return notifications.NewNonRetryableError(wrapped)
	}
	return notifications.NewRetryableError(wrapped)
}
