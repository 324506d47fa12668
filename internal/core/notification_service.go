package core

import (
	"context"
	"encoding/json"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"attendance.edge/internal/core/model"
	"attendance.edge/internal/ports/messaging"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	ApprovalTag  = "approval-notification"
	AppIcon      = "/app_icon_192.png"
	DefaultTitle = "New Check-in Request"
	DefaultBody  = "A team member needs approval"
	appRoot      = "/"
)

// Notifier is an extra sink for approval notifications, e.g. email.
type Notifier interface {
	NotifyApproval(ctx context.Context, n model.Notification) error
}

// NotificationService turns push payloads into notifications and routes clicks back to a window.
type NotificationService struct {
	publisher messaging.Publisher
	clients   messaging.Clients
	notifier  Notifier
	hosts     []string
	now       func() time.Time

	mu sync.Mutex
	// shown is keyed by tag so a new notification replaces the old one.
	shown map[string]model.Notification
}

// NewNotificationService creates a dispatcher. hosts are the hostnames of the deployed app;
// notifier may be nil.
func NewNotificationService(publisher messaging.Publisher, clients messaging.Clients, notifier Notifier, hosts []string) *NotificationService {
	return &NotificationService{
		publisher: publisher,
		clients:   clients,
		notifier:  notifier,
		hosts:     hosts,
		now:       func() time.Time { return time.Now().UTC() },
		shown:     make(map[string]model.Notification),
	}
}

// ParsePushPayload decodes raw with defaults applied. Absent or malformed input yields the defaults.
func ParsePushPayload(raw []byte) model.PushPayload {
	var in struct {
		Title string `json:"title"`
		Body  string `json:"body"`
		URL   string `json:"url"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &in); err != nil {
			in.Title, in.Body, in.URL = "", "", ""
		}
	}

	p := model.PushPayload{Title: in.Title, Body: in.Body, URL: in.URL}
	if p.Title == "" {
		p.Title = DefaultTitle
	}
	if p.Body == "" {
		p.Body = DefaultBody
	}
	return p
}

// HandlePush shows a notification for raw. It never fails; sink errors are only logged.
func (s *NotificationService) HandlePush(ctx context.Context, raw []byte) model.Notification {
	ctx, span := otel.Tracer("notification-dispatcher").Start(ctx, "handle_push")
	defer span.End()

	p := ParsePushPayload(raw)
	n := model.Notification{
		Tag:       ApprovalTag,
		Title:     p.Title,
		Body:      p.Body,
		Icon:      AppIcon,
		Badge:     AppIcon,
		URL:       p.URL,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	_, replaced := s.shown[n.Tag]
	s.shown[n.Tag] = n
	s.mu.Unlock()

	span.SetAttributes(attribute.String("app.notification.tag", n.Tag), attribute.Bool("app.notification.replaced", replaced))
	log.Ctx(ctx).Info().Str("tag", n.Tag).Str("title", n.Title).Bool("replaced", replaced).Msg("Showing notification")

	s.publisher.Publish(ctx, model.ClientMessage{Type: model.MessageNotification, Notification: &n})

	if s.notifier != nil {
		if err := s.notifier.NotifyApproval(ctx, n); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("tag", n.Tag).Msg("Failed to send notification email")
		}
	}
	return n
}

// HandleClick closes the notification with tag and brings the app to the front:
// the first open window on the deployed origin is focused, otherwise a new one is opened at the root.
func (s *NotificationService) HandleClick(ctx context.Context, tag string) error {
	s.mu.Lock()
	delete(s.shown, tag)
	s.mu.Unlock()

	for _, c := range s.clients.MatchAll() {
		if !s.onOrigin(c.URL()) {
			continue
		}
		log.Ctx(ctx).Info().Str("client_id", c.ID()).Str("url", c.URL()).Msg("Focusing existing window")
		return c.Focus(ctx)
	}

	log.Ctx(ctx).Info().Msg("No open window, opening app root")
	return s.clients.OpenWindow(ctx, appRoot)
}

// List returns the notifications currently shown, oldest first.
func (s *NotificationService) List() []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Notification, 0, len(s.shown))
	for _, n := range s.shown {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *NotificationService) onOrigin(raw string) bool {
	u, err := url.Parse(raw)
	for _, h := range s.hosts {
		if h == "" {
			continue
		}
		if err == nil && u.Hostname() != "" {
			if u.Hostname() == h {
				return true
			}
		} else if strings.Contains(raw, h) {
			return true
		}
	}
	return false
}
