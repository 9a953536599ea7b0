package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/notify"
	"github.com/hms/hms/internal/platform/queue"
)

// MaxAttempts bounds how often ProcessDue tries a scheduled notification.
const MaxAttempts = 3

var (
	ErrDeliveryFailed = errors.New("notification delivery failed")
	ErrInvalid        = errors.New("invalid notification")
)

// Dispatcher delivers rendered messages. *notify.Chain implements it.
type Dispatcher interface {
	SendEmail(ctx context.Context, to, subject, body string) (string, error)
	SendSMS(ctx context.Context, to, body string) (string, error)
}

type Service struct {
	logs       LogRepository
	templates  TemplateRepository
	scheduled  ScheduledRepository
	prefs      PreferenceRepository
	recipients RecipientResolver
	dispatcher Dispatcher
	engine     *notify.TemplateEngine
	publisher  queue.Publisher
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(logs LogRepository, templates TemplateRepository, scheduled ScheduledRepository,
	prefs PreferenceRepository, recipients RecipientResolver, dispatcher Dispatcher,
	engine *notify.TemplateEngine, logger zerolog.Logger) *Service {
	return &Service{
		logs:       logs,
		templates:  templates,
		scheduled:  scheduled,
		prefs:      prefs,
		recipients: recipients,
		dispatcher: dispatcher,
		engine:     engine,
		logger:     logger,
		now:        time.Now,
	}
}

// SetPublisher routes SendAsync through the message queue.
func (s *Service) SetPublisher(p queue.Publisher) { s.publisher = p }

func validChannel(ch string) bool { return notify.Channel(ch).Valid() }

func strPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// render resolves subject and body: DB template first, built-in second,
// inline subject/body last.
func (s *Service) render(ctx context.Context, req *SendRequest) (subject, body string, err error) {
	if req.Template == "" {
		if strings.TrimSpace(req.Body) == "" {
			return "", "", fmt.Errorf("%w: template or body is required", ErrInvalid)
		}
		subject, body = notify.RenderText(req.Subject, req.Body, req.Data)
		return subject, body, nil
	}

	if t, err := s.templates.GetByName(ctx, req.Template); err == nil && t.IsActive {
		subject, body = notify.RenderText(t.Subject, t.Body, req.Data)
		return subject, body, nil
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return "", "", err
	}

	subject, body, err = s.engine.Render(req.Template, req.Data)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return subject, body, nil
}

func (s *Service) preference(ctx context.Context, userID uuid.UUID) (*Preference, error) {
	p, err := s.prefs.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return DefaultPreference(userID), nil
	}
	return p, err
}

// Send renders, dispatches and logs one message. Messages suppressed by the
// user's preferences are logged as skipped and return no error. A failed
// delivery is logged and returns ErrDeliveryFailed.
func (s *Service) Send(ctx context.Context, req SendRequest) (*Log, error) {
	if !validChannel(req.Channel) {
		return nil, fmt.Errorf("%w: unknown channel %q", ErrInvalid, req.Channel)
	}
	if req.Category == "" {
		req.Category = CategoryGeneral
	}

	rcpt, err := s.recipients.Resolve(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolve recipient: %w", err)
	}

	subject, body, err := s.render(ctx, &req)
	if err != nil {
		return nil, err
	}

	userID := req.UserID
	entry := &Log{
		UserID:       &userID,
		Channel:      req.Channel,
		TemplateName: strPtr(req.Template),
		Subject:      subject,
		Body:         body,
		RelatedType:  strPtr(req.RelatedType),
		RelatedID:    req.RelatedID,
	}

	pref, err := s.preference(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	var sendErr error
	switch {
	case !rcpt.Active:
		entry.Status = LogSkipped
		entry.Error = strPtr("recipient is inactive")
	case req.Category != CategoryAccount && !pref.Allows(req.Channel, req.Category):
		entry.Status = LogSkipped
		entry.Error = strPtr("suppressed by user preferences")
	default:
		sendErr = s.dispatch(ctx, rcpt, entry)
	}

	if err := s.logs.Create(ctx, entry); err != nil {
		s.logger.Error().Err(err).Str("user_id", req.UserID.String()).Msg("failed to write notification log")
	}

	if sendErr != nil {
		s.logger.Error().Err(sendErr).
			Str("user_id", req.UserID.String()).
			Str("channel", req.Channel).
			Msg("notification delivery failed")
		return entry, fmt.Errorf("%w: %v", ErrDeliveryFailed, sendErr)
	}
	return entry, nil
}

func (s *Service) dispatch(ctx context.Context, rcpt *Recipient, entry *Log) error {
	var provider string
	var err error
	switch entry.Channel {
	case string(notify.ChannelEmail):
		entry.Recipient = rcpt.Email
		if rcpt.Email == "" {
			err = errors.New("recipient has no email address")
			break
		}
		provider, err = s.dispatcher.SendEmail(ctx, rcpt.Email, entry.Subject, entry.Body)
	case string(notify.ChannelSMS):
		entry.Recipient = rcpt.Phone
		if rcpt.Phone == "" {
			err = errors.New("recipient has no phone number")
			break
		}
		provider, err = s.dispatcher.SendSMS(ctx, rcpt.Phone, entry.Body)
	case string(notify.ChannelInApp):
		entry.Recipient = rcpt.UserID.String()
		provider = "in_app"
	}

	entry.Provider = strPtr(provider)
	if err != nil {
		entry.Status = LogFailed
		entry.Error = strPtr(err.Error())
		return err
	}
	entry.Status = LogSent
	return nil
}

// SendAsync publishes the request to the queue when one is configured and
// falls back to sending inline.
func (s *Service) SendAsync(ctx context.Context, req SendRequest) error {
	if s.publisher != nil {
		body, err := json.Marshal(req)
		if err != nil {
			return err
		}
		err = s.publisher.Publish(ctx, body)
		if err == nil {
			return nil
		}
		s.logger.Warn().Err(err).Msg("queue publish failed, sending inline")
	}
	_, err := s.Send(ctx, req)
	return err
}

// HandleMessage is the queue consumer entry point.
func (s *Service) HandleMessage(ctx context.Context, body []byte) error {
	var req SendRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("decode notification message: %w", err)
	}
	_, err := s.Send(ctx, req)
	if errors.Is(err, ErrDeliveryFailed) {
		// already logged with status failed
		return nil
	}
	return err
}

// Schedule stores a pending notification.
func (s *Service) Schedule(ctx context.Context, sn *Scheduled) error {
	if sn.UserID == uuid.Nil {
		return fmt.Errorf("%w: user_id is required", ErrInvalid)
	}
	if !validChannel(sn.Channel) {
		return fmt.Errorf("%w: unknown channel %q", ErrInvalid, sn.Channel)
	}
	if (sn.TemplateName == nil || *sn.TemplateName == "") && strings.TrimSpace(sn.Body) == "" {
		return fmt.Errorf("%w: template or body is required", ErrInvalid)
	}
	if sn.SendAt.IsZero() {
		return fmt.Errorf("%w: send_at is required", ErrInvalid)
	}
	if sn.Category == "" {
		sn.Category = CategoryGeneral
	}
	sn.Status = ScheduledPending
	sn.Attempts = 0
	return s.scheduled.Create(ctx, sn)
}

// CancelScheduled cancels every pending notification tied to a record.
func (s *Service) CancelScheduled(ctx context.Context, relatedType string, relatedID uuid.UUID) (int, error) {
	return s.scheduled.CancelByRelated(ctx, relatedType, relatedID)
}

func (s *Service) CancelScheduledByID(ctx context.Context, id uuid.UUID) error {
	sn, err := s.scheduled.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if sn.Status != ScheduledPending {
		return fmt.Errorf("%w: notification is %s", ErrInvalid, sn.Status)
	}
	sn.Status = ScheduledCancelled
	return s.scheduled.Update(ctx, sn)
}

// ProcessResult summarizes one ProcessDue run.
type ProcessResult struct {
	Claimed  int `json:"claimed"`
	Sent     int `json:"sent"`
	Skipped  int `json:"skipped"`
	Retrying int `json:"retrying"`
	Failed   int `json:"failed"`
}

// ProcessDue sends every pending notification whose send time has passed, up
// to batch rows. Rows that fail stay pending until MaxAttempts is reached.
func (s *Service) ProcessDue(ctx context.Context, batch int) (*ProcessResult, error) {
	if batch <= 0 {
		batch = 100
	}
	now := s.now().UTC()
	due, err := s.scheduled.ClaimDue(ctx, now, batch)
	if err != nil {
		return nil, fmt.Errorf("claim due notifications: %w", err)
	}

	res := &ProcessResult{Claimed: len(due)}
	for _, sn := range due {
		req := SendRequest{
			UserID:      sn.UserID,
			Channel:     sn.Channel,
			Subject:     sn.Subject,
			Body:        sn.Body,
			Data:        sn.Data,
			Category:    sn.Category,
			RelatedType: derefStr(sn.RelatedType),
			RelatedID:   sn.RelatedID,
		}
		if sn.TemplateName != nil {
			req.Template = *sn.TemplateName
		}

		entry, sendErr := s.Send(ctx, req)
		switch {
		case sendErr == nil && entry.Status == LogSkipped:
			sn.Status = ScheduledCancelled
			sn.LastError = entry.Error
			res.Skipped++
		case sendErr == nil:
			sn.Status = ScheduledSent
			sentAt := s.now().UTC()
			sn.SentAt = &sentAt
			sn.LastError = nil
			res.Sent++
		default:
			sn.LastError = strPtr(sendErr.Error())
			if sn.Attempts >= MaxAttempts || !errors.Is(sendErr, ErrDeliveryFailed) {
				sn.Status = ScheduledFailed
				res.Failed++
			} else {
				sn.Status = ScheduledPending
				res.Retrying++
			}
		}

		if err := s.scheduled.Update(ctx, sn); err != nil {
			s.logger.Error().Err(err).Str("scheduled_id", sn.ID.String()).Msg("failed to update scheduled notification")
		}
	}

	s.logger.Info().
		Int("claimed", res.Claimed).
		Int("sent", res.Sent).
		Int("skipped", res.Skipped).
		Int("retrying", res.Retrying).
		Int("failed", res.Failed).
		Msg("processed scheduled notifications")
	return res, nil
}

func derefStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// BulkResult summarizes a BulkSend.
type BulkResult struct {
	Total   int `json:"total"`
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// BulkSend sends the same message to every active user with role.
func (s *Service) BulkSend(ctx context.Context, role string, req SendRequest) (*BulkResult, error) {
	recipients, err := s.recipients.ListByRole(ctx, role)
	if err != nil {
		return nil, err
	}
	res := &BulkResult{}
	for _, r := range recipients {
		if !r.Active {
			continue
		}
		res.Total++
		one := req
		one.UserID = r.UserID
		entry, err := s.Send(ctx, one)
		switch {
		case err != nil && !errors.Is(err, ErrDeliveryFailed):
			return res, err
		case err != nil:
			res.Failed++
		case entry.Status == LogSkipped:
			res.Skipped++
		default:
			res.Sent++
		}
	}
	return res, nil
}

// -- Templates --

func (s *Service) CreateTemplate(ctx context.Context, t *Template) error {
	if err := validateTemplate(t); err != nil {
		return err
	}
	return s.templates.Create(ctx, t)
}

func (s *Service) UpdateTemplate(ctx context.Context, t *Template) error {
	if err := validateTemplate(t); err != nil {
		return err
	}
	return s.templates.Update(ctx, t)
}

func validateTemplate(t *Template) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if !validChannel(t.Channel) {
		return fmt.Errorf("%w: unknown channel %q", ErrInvalid, t.Channel)
	}
	if strings.TrimSpace(t.Body) == "" {
		return fmt.Errorf("%w: body is required", ErrInvalid)
	}
	if t.Channel == string(notify.ChannelEmail) && strings.TrimSpace(t.Subject) == "" {
		return fmt.Errorf("%w: subject is required for email templates", ErrInvalid)
	}
	return nil
}

func (s *Service) GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error) {
	return s.templates.GetByID(ctx, id)
}

func (s *Service) DeleteTemplate(ctx context.Context, id uuid.UUID) error {
	return s.templates.Delete(ctx, id)
}

func (s *Service) ListTemplates(ctx context.Context, limit, offset int) ([]*Template, int, error) {
	return s.templates.List(ctx, limit, offset)
}

// BuiltInTemplates lists the names of templates that need no DB row.
func (s *Service) BuiltInTemplates() []string { return s.engine.Names() }

// -- Preferences --

func (s *Service) GetPreferences(ctx context.Context, userID uuid.UUID) (*Preference, error) {
	return s.preference(ctx, userID)
}

func (s *Service) UpdatePreferences(ctx context.Context, p *Preference) error {
	return s.prefs.Upsert(ctx, p)
}

// -- Logs and in-app inbox --

func (s *Service) ListLogs(ctx context.Context, f LogFilter, limit, offset int) ([]*Log, int, error) {
	return s.logs.List(ctx, f, limit, offset)
}

func (s *Service) GetLog(ctx context.Context, id uuid.UUID) (*Log, error) {
	return s.logs.GetByID(ctx, id)
}

func (s *Service) Inbox(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Log, int, error) {
	return s.logs.List(ctx, LogFilter{
		UserID:     &userID,
		Channel:    string(notify.ChannelInApp),
		Status:     LogSent,
		UnreadOnly: unreadOnly,
	}, limit, offset)
}

func (s *Service) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	return s.logs.MarkRead(ctx, id, userID, s.now().UTC())
}

func (s *Service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.logs.MarkAllRead(ctx, userID, s.now().UTC())
}

func (s *Service) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.logs.CountUnread(ctx, userID)
}

func (s *Service) Stats(ctx context.Context) (map[string]int, error) {
	return s.logs.CountByStatus(ctx)
}

func (s *Service) ListScheduled(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Scheduled, int, error) {
	return s.scheduled.ListByUser(ctx, userID, limit, offset)
}
