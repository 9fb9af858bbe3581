package auditlog

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/lookout-labs/lookout-go/internal/platform/auth"
)

// Recorder writes audit events on behalf of one service.
type Recorder struct {
	DB      QueryRower
	Service string
}

func (r Recorder) Record(ctx context.Context, event Event) error {
	if r.DB == nil {
		return errors.New("audit recorder has no database")
	}
	_, err := Insert(ctx, r.DB, event)
	return err
}

// AuthDeny matches auth.AuditFunc.
func (r Recorder) AuthDeny(ctx context.Context, event auth.DenyEvent) error {
	return r.Record(ctx, AuthDenyEvent(r.Service, event))
}

func AuthDenyEvent(service string, event auth.DenyEvent) Event {
	actor := "anonymous"
	if strings.TrimSpace(event.Subject) != "" {
		actor = strings.TrimSpace(event.Subject)
	}

	var ip net.IP
	if host, _, err := net.SplitHostPort(event.RemoteAddr); err == nil {
		ip = net.ParseIP(host)
	}

	return Event{
		OccurredAt:   event.Time,
		Actor:        actor,
		Action:       "auth." + strings.TrimSpace(event.Reason),
		ResourceType: "http",
		ResourceID:   event.Method + " " + event.Path,
		RequestID:    event.RequestID,
		IP:           ip,
		UserAgent:    event.UserAgent,
		Payload: map[string]any{
			"service": service,
			"status":  event.Status,
			"reason":  event.Reason,
			"error":   event.Error,
			"subject": event.Subject,
			"email":   event.Email,
			"roles":   event.Roles,
		},
	}
}
