package scheduling

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/notification"
)

type mockRepo struct {
	mu        sync.Mutex
	items     map[uuid.UUID]*Appointment
	createErr error
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[uuid.UUID]*Appointment)}
}

func (m *mockRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockRepo) Update(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[a.ID]; !ok {
		return ErrNotFound
	}
	a.UpdatedAt = time.Now()
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *mockRepo) List(_ context.Context, f Filter, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.items {
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.From != nil && a.StartTime.Before(*f.From) {
			continue
		}
		if f.To != nil && !a.StartTime.Before(*f.To) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *mockRepo) HasOverlap(_ context.Context, doctorID uuid.UUID, start, end time.Time, exclude *uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.items {
		if a.DoctorID != doctorID || !a.Active() {
			continue
		}
		if exclude != nil && a.ID == *exclude {
			continue
		}
		if a.StartTime.Before(end) && a.EndTime.After(start) {
			return true, nil
		}
	}
	return false, nil
}

type mockPeople struct {
	users map[uuid.UUID]*notification.Recipient
}

func (m *mockPeople) add(name, role string, active bool) uuid.UUID {
	id := uuid.New()
	m.users[id] = &notification.Recipient{UserID: id, Name: name, Role: role, Active: active,
		Email: id.String() + "@example.com"}
	return id
}

func (m *mockPeople) Resolve(_ context.Context, id uuid.UUID) (*notification.Recipient, error) {
	r, ok := m.users[id]
	if !ok {
		return nil, notification.ErrRecipientNotFound
	}
	return r, nil
}

func (m *mockPeople) ListByRole(_ context.Context, role string) ([]*notification.Recipient, error) {
	var out []*notification.Recipient
	for _, r := range m.users {
		if r.Role == role {
			out = append(out, r)
		}
	}
	return out, nil
}

type mockNotifier struct {
	mu        sync.Mutex
	sent      []notification.SendRequest
	scheduled []*notification.Scheduled
	cancelled []uuid.UUID
	sendErr   error
}

func (m *mockNotifier) SendAsync(_ context.Context, req notification.SendRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, req)
	return nil
}

func (m *mockNotifier) Schedule(_ context.Context, sn *notification.Scheduled) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sn.SendAt.IsZero() {
		return errors.New("send_at is required")
	}
	sn.ID = uuid.New()
	sn.Status = notification.ScheduledPending
	m.scheduled = append(m.scheduled, sn)
	return nil
}

func (m *mockNotifier) CancelScheduled(_ context.Context, relatedType string, id uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, sn := range m.scheduled {
		if sn.Status == notification.ScheduledPending && sn.RelatedID != nil && *sn.RelatedID == id &&
			sn.RelatedType != nil && *sn.RelatedType == relatedType {
			sn.Status = notification.ScheduledCancelled
			n++
		}
	}
	m.cancelled = append(m.cancelled, id)
	return n, nil
}

func (m *mockNotifier) pending() []*notification.Scheduled {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*notification.Scheduled
	for _, sn := range m.scheduled {
		if sn.Status == notification.ScheduledPending {
			out = append(out, sn)
		}
	}
	return out
}

func (m *mockNotifier) templates() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, r := range m.sent {
		out = append(out, r.Template)
	}
	return out
}
