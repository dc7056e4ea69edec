package notifier

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/good-yellow-bee/vigil/internal/models"
)

// SESAPI is the subset of the SES v2 client used by SESNotifier.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESConfig holds Amazon SES configuration. Credentials come from the
// default AWS provider chain.
type SESConfig struct {
	Region string
	From   string
}

// Validate validates the SES configuration.
func (c *SESConfig) Validate() error {
	if c.Region == "" {
		return fmt.Errorf("SES region is required")
	}
	if c.From == "" {
		return fmt.Errorf("from address is required")
	}
	return nil
}

// SESNotifier sends EMAIL items through Amazon SES.
type SESNotifier struct {
	client    SESAPI
	from      string
	templates *Templates
}

// NewSESNotifier loads AWS configuration and creates an SES notifier.
func NewSESNotifier(ctx context.Context, cfg SESConfig) (*SESNotifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ses config: %w", err)
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewSESNotifierWithClient(sesv2.NewFromConfig(awsCfg), cfg.From)
}

// NewSESNotifierWithClient creates an SES notifier around an existing client.
func NewSESNotifierWithClient(client SESAPI, from string) (*SESNotifier, error) {
	templates, err := LoadTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	return &SESNotifier{client: client, from: from, templates: templates}, nil
}

// Name returns "ses".
func (s *SESNotifier) Name() string {
	return "ses"
}

// Send emails the item to its recipient address.
func (s *SESNotifier) Send(ctx context.Context, item *models.QueueItem) error {
	if item.RecipientEmail == "" {
		return ErrNoRecipientEmail
	}

	data := ItemToTemplateData(item)
	htmlBody, err := s.templates.RenderHTML(data)
	if err != nil {
		return fmt.Errorf("failed to render HTML template: %w", err)
	}
	plainBody, err := s.templates.RenderPlain(data)
	if err != nil {
		return fmt.Errorf("failed to render plain template: %w", err)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{item.RecipientEmail},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(data.Subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(plainBody)},
					Html: &types.Content{Data: aws.String(htmlBody)},
				},
			},
		},
	}

	if _, err := s.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("ses send: %w", err)
	}
	return nil
}

// Close is a no-op for SES notifier.
func (s *SESNotifier) Close() error {
	return nil
}
