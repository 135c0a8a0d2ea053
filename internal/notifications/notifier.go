// Package notifications turns game transitions into outbound emails. Delivery
// is best effort and at most once: the orchestrator never blocks a response on
// it and failures are only logged.
package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"secretsanta/internal/i18n"
	"secretsanta/internal/model"
)

type EventKind string

const (
	KindAssignmentReady       EventKind = "assignment-ready"
	KindReassignmentRequested EventKind = "reassignment-requested"
	KindReassignmentResolved  EventKind = "reassignment-resolved"
	KindDetailsChanged        EventKind = "details-changed"
	KindReminder              EventKind = "reminder"
	KindInvitation            EventKind = "invitation"
	KindRemoval               EventKind = "removal"
	KindCancellation          EventKind = "cancellation"
	KindRecoveryLink          EventKind = "recovery-link"
	KindFullReshuffle         EventKind = "full-reshuffle"
	KindAllConfirmed          EventKind = "all-confirmed"
)

// Event is one notification to one recipient, carrying the game snapshot the
// transition produced.
type Event struct {
	Kind          EventKind
	Game          model.Game
	RecipientName string
	Recipient     string
	Language      string
	// Token carried into links for recipient-scoped access (participant token,
	// organizer token for recovery links, invitation token for invites).
	Token string
}

// Sender delivers a single rendered email.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

type Notifier struct {
	logger  *slog.Logger
	sender  Sender
	i18n    *i18n.I18n
	baseURL string
}

func NewNotifier(logger *slog.Logger, sender Sender, translator *i18n.I18n, baseURL string) *Notifier {
	return &Notifier{logger: logger, sender: sender, i18n: translator, baseURL: baseURL}
}

// Dispatch sends the events in a background goroutine and returns immediately.
// Recipients without an address are skipped.
func (n *Notifier) Dispatch(events ...Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		for _, event := range events {
			if event.Recipient == "" {
				continue
			}
			subject, body := n.render(event)
			if err := n.sender.Send(ctx, event.Recipient, subject, body); err != nil {
				n.logger.Error("Failed to send notification",
					"kind", event.Kind, "game_code", event.Game.Code, "error", err)
				continue
			}
			n.logger.Info("Notification sent", "kind", event.Kind, "game_code", event.Game.Code)
		}
	}()
}

func (n *Notifier) render(event Event) (subject, body string) {
	lang := event.Language
	if lang == "" {
		lang = "en"
	}
	key := string(event.Kind)

	subject = fmt.Sprintf(n.i18n.T(lang, "email."+key+".subject"), event.Game.Name)
	body = fmt.Sprintf(n.i18n.T(lang, "email."+key+".body"),
		event.RecipientName, event.Game.Name, n.link(event))
	return subject, body
}

// link builds the recipient-scoped game URL.
func (n *Notifier) link(event Event) string {
	url := fmt.Sprintf("%s/games/%s", n.baseURL, event.Game.Code)
	switch event.Kind {
	case KindRecoveryLink:
		return url + "?organizer_token=" + event.Token
	case KindInvitation:
		return url + "/join?invitation_token=" + event.Token
	default:
		if event.Token != "" {
			return url + "?participant_token=" + event.Token
		}
		return url
	}
}
