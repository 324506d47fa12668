package core

import (
	"context"
	"fmt"

	"attendance.edge/internal/core/model"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SESClient is the part of the SES API the email notifier uses.
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESEmailService mirrors approval notifications to an approver mailbox.
type SESEmailService struct {
	client    SESClient
	sender    string
	recipient string
	appURL    string
}

func NewSESEmailService(client SESClient, sender, recipient, appURL string) *SESEmailService {
	return &SESEmailService{client: client, sender: sender, recipient: recipient, appURL: appURL}
}

func (s *SESEmailService) NotifyApproval(ctx context.Context, n model.Notification) error {
	tracer := otel.Tracer("ses-email-service")
	ctx, span := tracer.Start(ctx, "send_email", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(attribute.String("app.notification.tag", n.Tag))

	link := s.appURL
	if n.URL != "" {
		link = s.appURL + n.URL
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.sender),
		Destination: &types.Destination{
			ToAddresses: []string{s.recipient},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(n.Title),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(fmt.Sprintf("Hello,\n\n%s.\n\nOpen the app to review: %s", n.Body, link)),
				},
			},
		},
	}

	if _, err := s.client.SendEmail(ctx, input); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to send approval email: %w", err)
	}
	return nil
}
