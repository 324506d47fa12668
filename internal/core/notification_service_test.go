package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"attendance.edge/internal/core/model"
	"attendance.edge/internal/ports/messaging"
	"github.com/aws/aws-sdk-go-v2/service/ses"
)

type fakeClient struct {
	id, url string
	focused int
}

func (c *fakeClient) ID() string                      { return c.id }
func (c *fakeClient) URL() string                     { return c.url }
func (c *fakeClient) Focus(ctx context.Context) error { c.focused++; return nil }
func (c *fakeClient) Post(msg model.ClientMessage)    {}

type fakeClients struct {
	open   []messaging.Client
	opened []string
}

func (f *fakeClients) MatchAll() []messaging.Client { return f.open }
func (f *fakeClients) OpenWindow(ctx context.Context, url string) error {
	f.opened = append(f.opened, url)
	return nil
}

type recordingNotifier struct {
	sent []model.Notification
	err  error
}

func (r *recordingNotifier) NotifyApproval(ctx context.Context, n model.Notification) error {
	r.sent = append(r.sent, n)
	return r.err
}

func TestParsePushPayload(t *testing.T) {
	cases := []struct {
		name      string
		raw       string
		wantTitle string
		wantBody  string
	}{
		{"full", `{"title":"Approval Needed","body":"Jane requested leave"}`, "Approval Needed", "Jane requested leave"},
		{"title only", `{"title":"Approval Needed"}`, "Approval Needed", DefaultBody},
		{"empty object", `{}`, DefaultTitle, DefaultBody},
		{"absent", ``, DefaultTitle, DefaultBody},
		{"malformed", `{"title":`, DefaultTitle, DefaultBody},
		{"not an object", `"hello"`, DefaultTitle, DefaultBody},
		{"wrong field type", `{"title":42,"body":"x"}`, DefaultTitle, DefaultBody},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := ParsePushPayload([]byte(tc.raw))
			if p.Title != tc.wantTitle || p.Body != tc.wantBody {
				t.Errorf("got %q/%q, want %q/%q", p.Title, p.Body, tc.wantTitle, tc.wantBody)
			}
		})
	}
}

func TestHandlePushShowsNotification(t *testing.T) {
	pub := &recordingPublisher{}
	notifier := &recordingNotifier{}
	svc := NewNotificationService(pub, &fakeClients{}, notifier, []string{"localhost"})

	n := svc.HandlePush(context.Background(), []byte(`{"title":"Approval Needed","body":"Jane requested leave"}`))

	if n.Title != "Approval Needed" || n.Body != "Jane requested leave" {
		t.Errorf("unexpected text %q/%q", n.Title, n.Body)
	}
	if n.Icon != AppIcon || n.Badge != AppIcon || n.Tag != ApprovalTag {
		t.Errorf("unexpected fixed fields %+v", n)
	}
	if len(pub.msgs) != 1 || pub.msgs[0].Type != model.MessageNotification || pub.msgs[0].Notification.Title != n.Title {
		t.Errorf("unexpected broadcasts %+v", pub.msgs)
	}
	if len(notifier.sent) != 1 {
		t.Errorf("expected one email, got %d", len(notifier.sent))
	}
}

func TestHandlePushSameTagReplaces(t *testing.T) {
	svc := NewNotificationService(&recordingPublisher{}, &fakeClients{}, nil, nil)
	tick := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { tick = tick.Add(time.Second); return tick }

	svc.HandlePush(context.Background(), []byte(`{"title":"First"}`))
	svc.HandlePush(context.Background(), []byte(`{"title":"Second"}`))

	shown := svc.List()
	if len(shown) != 1 || shown[0].Title != "Second" {
		t.Errorf("expected only the second notification, got %+v", shown)
	}
}

func TestHandlePushIgnoresNotifierFailure(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewNotificationService(pub, &fakeClients{}, &recordingNotifier{err: errors.New("ses down")}, nil)

	svc.HandlePush(context.Background(), nil)
	if len(pub.msgs) != 1 || len(svc.List()) != 1 {
		t.Errorf("notification should still be shown when the email sink fails")
	}
}

func TestHandleClickFocusesExistingWindow(t *testing.T) {
	other := &fakeClient{id: "a", url: "https://example.org/page"}
	first := &fakeClient{id: "b", url: "http://localhost:3000/hod"}
	second := &fakeClient{id: "c", url: "http://localhost:3000/"}
	clients := &fakeClients{open: []messaging.Client{other, first, second}}
	svc := NewNotificationService(&recordingPublisher{}, clients, nil, []string{"localhost"})

	svc.HandlePush(context.Background(), nil)
	if err := svc.HandleClick(context.Background(), ApprovalTag); err != nil {
		t.Fatalf("HandleClick failed: %v", err)
	}

	if first.focused != 1 || second.focused != 0 || other.focused != 0 {
		t.Errorf("expected only the first matching window focused: %d %d %d", first.focused, second.focused, other.focused)
	}
	if len(clients.opened) != 0 {
		t.Errorf("expected no new window, got %v", clients.opened)
	}
	if len(svc.List()) != 0 {
		t.Errorf("expected notification to be closed")
	}
}

func TestHandleClickOpensRootWhenNoWindow(t *testing.T) {
	clients := &fakeClients{open: []messaging.Client{&fakeClient{id: "a", url: "https://example.org/"}}}
	svc := NewNotificationService(&recordingPublisher{}, clients, nil, []string{"attendance.example.com"})

	if err := svc.HandleClick(context.Background(), ApprovalTag); err != nil {
		t.Fatalf("HandleClick failed: %v", err)
	}
	if len(clients.opened) != 1 || clients.opened[0] != "/" {
		t.Errorf("expected app root to be opened, got %v", clients.opened)
	}
}

type fakeSES struct {
	input *ses.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.input = params
	return &ses.SendEmailOutput{}, f.err
}

func TestSESEmailServiceNotifyApproval(t *testing.T) {
	client := &fakeSES{}
	svc := NewSESEmailService(client, "edge@example.com", "hod@example.com", "https://attendance.example.com")

	err := svc.NotifyApproval(context.Background(), model.Notification{Tag: ApprovalTag, Title: "Approval Needed", Body: "Jane requested leave", URL: "/hod"})
	if err != nil {
		t.Fatalf("NotifyApproval failed: %v", err)
	}
	if got := *client.input.Message.Subject.Data; got != "Approval Needed" {
		t.Errorf("unexpected subject %q", got)
	}
	if got := client.input.Destination.ToAddresses; len(got) != 1 || got[0] != "hod@example.com" {
		t.Errorf("unexpected recipients %v", got)
	}

	client.err = errors.New("throttled")
	if err := svc.NotifyApproval(context.Background(), model.Notification{}); err == nil {
		t.Error("expected error from SES to be returned")
	}
}
