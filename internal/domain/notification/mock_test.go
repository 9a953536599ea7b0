package notification

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// -- logs --

type mockLogRepo struct {
	mu    sync.Mutex
	store map[uuid.UUID]*Log
	order []uuid.UUID
}

func newMockLogRepo() *mockLogRepo {
	return &mockLogRepo{store: make(map[uuid.UUID]*Log)}
}

func (m *mockLogRepo) Create(_ context.Context, l *Log) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.ID = uuid.New()
	l.CreatedAt = time.Now()
	m.store[l.ID] = l
	m.order = append(m.order, l.ID)
	return nil
}

func (m *mockLogRepo) GetByID(_ context.Context, id uuid.UUID) (*Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	return l, nil
}

func (m *mockLogRepo) all() []*Log {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Log, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.store[id])
	}
	return out
}

func (m *mockLogRepo) List(_ context.Context, f LogFilter, limit, offset int) ([]*Log, int, error) {
	var out []*Log
	for _, l := range m.all() {
		if f.UserID != nil && (l.UserID == nil || *l.UserID != *f.UserID) {
			continue
		}
		if f.Channel != "" && l.Channel != f.Channel {
			continue
		}
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		if f.UnreadOnly && l.ReadAt != nil {
			continue
		}
		out = append(out, l)
	}
	total := len(out)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *mockLogRepo) MarkRead(_ context.Context, id, userID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.store[id]
	if !ok || l.UserID == nil || *l.UserID != userID {
		return ErrNotFound
	}
	if l.ReadAt == nil {
		l.ReadAt = &at
	}
	return nil
}

func (m *mockLogRepo) MarkAllRead(_ context.Context, userID uuid.UUID, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, l := range m.store {
		if l.UserID != nil && *l.UserID == userID && l.Channel == "in_app" && l.ReadAt == nil {
			l.ReadAt = &at
			n++
		}
	}
	return n, nil
}

func (m *mockLogRepo) CountUnread(_ context.Context, userID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, l := range m.store {
		if l.UserID != nil && *l.UserID == userID && l.Channel == "in_app" && l.Status == LogSent && l.ReadAt == nil {
			n++
		}
	}
	return n, nil
}

func (m *mockLogRepo) CountByStatus(_ context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]int{}
	for _, l := range m.store {
		out[l.Status]++
	}
	return out, nil
}

// -- templates --

type mockTemplateRepo struct {
	store map[uuid.UUID]*Template
}

func newMockTemplateRepo() *mockTemplateRepo {
	return &mockTemplateRepo{store: make(map[uuid.UUID]*Template)}
}

func (m *mockTemplateRepo) Create(_ context.Context, t *Template) error {
	for _, other := range m.store {
		if other.Name == t.Name {
			return errors.New("duplicate name")
		}
	}
	t.ID = uuid.New()
	m.store[t.ID] = t
	return nil
}

func (m *mockTemplateRepo) GetByID(_ context.Context, id uuid.UUID) (*Template, error) {
	t, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

func (m *mockTemplateRepo) GetByName(_ context.Context, name string) (*Template, error) {
	for _, t := range m.store {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockTemplateRepo) Update(_ context.Context, t *Template) error {
	old, ok := m.store[t.ID]
	if !ok {
		return ErrNotFound
	}
	t.Name = old.Name
	m.store[t.ID] = t
	return nil
}

func (m *mockTemplateRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.store[id]; !ok {
		return ErrNotFound
	}
	delete(m.store, id)
	return nil
}

func (m *mockTemplateRepo) List(_ context.Context, limit, offset int) ([]*Template, int, error) {
	var out []*Template
	for _, t := range m.store {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, len(out), nil
}

// -- scheduled --

type mockScheduledRepo struct {
	store map[uuid.UUID]*Scheduled
}

func newMockScheduledRepo() *mockScheduledRepo {
	return &mockScheduledRepo{store: make(map[uuid.UUID]*Scheduled)}
}

func (m *mockScheduledRepo) Create(_ context.Context, s *Scheduled) error {
	s.ID = uuid.New()
	m.store[s.ID] = s
	return nil
}

func (m *mockScheduledRepo) GetByID(_ context.Context, id uuid.UUID) (*Scheduled, error) {
	s, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *mockScheduledRepo) ClaimDue(_ context.Context, now time.Time, limit int) ([]*Scheduled, error) {
	var due []*Scheduled
	for _, s := range m.store {
		if s.Status == ScheduledPending && !s.SendAt.After(now) {
			due = append(due, s)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].SendAt.Before(due[j].SendAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	for _, s := range due {
		s.Status = ScheduledClaimed
		s.Attempts++
	}
	return due, nil
}

func (m *mockScheduledRepo) Update(_ context.Context, s *Scheduled) error {
	m.store[s.ID] = s
	return nil
}

func (m *mockScheduledRepo) CancelByRelated(_ context.Context, relatedType string, relatedID uuid.UUID) (int, error) {
	n := 0
	for _, s := range m.store {
		if s.Status == ScheduledPending && s.RelatedType != nil && *s.RelatedType == relatedType &&
			s.RelatedID != nil && *s.RelatedID == relatedID {
			s.Status = ScheduledCancelled
			n++
		}
	}
	return n, nil
}

func (m *mockScheduledRepo) ListByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]*Scheduled, int, error) {
	var out []*Scheduled
	for _, s := range m.store {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, len(out), nil
}

// -- preferences --

type mockPreferenceRepo struct {
	store map[uuid.UUID]*Preference
}

func newMockPreferenceRepo() *mockPreferenceRepo {
	return &mockPreferenceRepo{store: make(map[uuid.UUID]*Preference)}
}

func (m *mockPreferenceRepo) Get(_ context.Context, userID uuid.UUID) (*Preference, error) {
	p, ok := m.store[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockPreferenceRepo) Upsert(_ context.Context, p *Preference) error {
	cp := *p
	m.store[p.UserID] = &cp
	return nil
}

// -- recipients --

type mockResolver struct {
	users map[uuid.UUID]*Recipient
}

func newMockResolver(rs ...*Recipient) *mockResolver {
	m := &mockResolver{users: make(map[uuid.UUID]*Recipient)}
	for _, r := range rs {
		m.users[r.UserID] = r
	}
	return m
}

func (m *mockResolver) Resolve(_ context.Context, id uuid.UUID) (*Recipient, error) {
	r, ok := m.users[id]
	if !ok {
		return nil, ErrRecipientNotFound
	}
	return r, nil
}

func (m *mockResolver) ListByRole(_ context.Context, role string) ([]*Recipient, error) {
	var out []*Recipient
	for _, r := range m.users {
		if r.Role == role {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

// -- dispatcher --

type sent struct {
	Channel string
	To      string
	Subject string
	Body    string
}

type mockDispatcher struct {
	mu         sync.Mutex
	sent       []sent
	failNext   int
	beforeSend func()
}

func (d *mockDispatcher) SendEmail(_ context.Context, to, subject, body string) (string, error) {
	if d.beforeSend != nil {
		d.beforeSend()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failNext > 0 {
		d.failNext--
		return "", errors.New("ses: throttled; sendgrid: unauthorized")
	}
	d.sent = append(d.sent, sent{"email", to, subject, body})
	return "ses", nil
}

func (d *mockDispatcher) SendSMS(_ context.Context, to, body string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failNext > 0 {
		d.failNext--
		return "", errors.New("sns: failed; twilio: failed")
	}
	d.sent = append(d.sent, sent{"sms", to, "", body})
	return "twilio", nil
}

type mockPublisher struct {
	bodies [][]byte
	err    error
}

func (p *mockPublisher) Publish(_ context.Context, body []byte) error {
	if p.err != nil {
		return p.err
	}
	p.bodies = append(p.bodies, body)
	return nil
}
