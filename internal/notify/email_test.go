package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
)

func TestNewSendGridSender_NilWithoutAPIKey(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{FromEmail: "clinic@example.com"}, nil)
	if sender != nil {
		t.Error("expected nil sender when API key is empty")
	}
}

func TestNewSendGridSender_DefaultFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{APIKey: "test-key", FromEmail: "clinic@example.com"}, nil)
	if sender == nil {
		t.Fatal("expected non-nil sender")
	}
	if sender.fromName != "Clinic Scheduling" {
		t.Errorf("expected default from name, got %q", sender.fromName)
	}
}

func TestSendGridSender_Send_NilClient(t *testing.T) {
	sender := &SendGridSender{}
	err := sender.Send(context.Background(), EmailMessage{To: "p@example.com", Subject: "Test", Body: "body"})
	if err == nil {
		t.Error("expected error when client is nil")
	}
}

func TestStubEmailSender_Send(t *testing.T) {
	sender := NewStubEmailSender(nil)
	if err := sender.Send(context.Background(), EmailMessage{To: "p@example.com", Subject: "Test"}); err != nil {
		t.Errorf("stub sender should not return error, got: %v", err)
	}
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESSender_BuildsMessage(t *testing.T) {
	client := &fakeSES{}
	sender := NewSESSender(client, SESConfig{FromEmail: "clinic@example.com"}, nil)

	err := sender.Send(context.Background(), EmailMessage{
		To:      "patient@example.com",
		Subject: "Appointment confirmed",
		Body:    "See you soon",
		HTML:    "<p>See you soon</p>",
	})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if got := aws.ToString(client.input.FromEmailAddress); got != "Clinic Scheduling <clinic@example.com>" {
		t.Fatalf("unexpected from address %q", got)
	}
	if client.input.Destination.ToAddresses[0] != "patient@example.com" {
		t.Fatalf("unexpected recipients %v", client.input.Destination.ToAddresses)
	}
	if client.input.Content.Simple.Body.Html == nil || client.input.Content.Simple.Body.Text == nil {
		t.Fatal("expected both text and html bodies")
	}
}

func TestSESSender_PropagatesError(t *testing.T) {
	sender := NewSESSender(&fakeSES{err: errors.New("throttled")}, SESConfig{FromEmail: "clinic@example.com"}, nil)
	if err := sender.Send(context.Background(), EmailMessage{To: "p@example.com"}); err == nil {
		t.Fatal("expected error from SES client")
	}
}

func TestNewSESSender_NilClient(t *testing.T) {
	if NewSESSender(nil, SESConfig{}, nil) != nil {
		t.Fatal("expected nil sender for nil client")
	}
}
