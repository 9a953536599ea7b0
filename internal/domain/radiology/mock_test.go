package radiology

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/notification"
)

type mockOrderRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Order
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.ID = uuid.New()
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	cp := *o
	m.items[o.ID] = &cp
	return nil
}

func (m *mockOrderRepo) GetByID(_ context.Context, id uuid.UUID) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepo) Update(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[o.ID]; !ok {
		return ErrNotFound
	}
	cp := *o
	m.items[o.ID] = &cp
	return nil
}

func (m *mockOrderRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *mockOrderRepo) List(_ context.Context, f OrderFilter, limit, offset int) ([]*Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Order
	for _, o := range m.items {
		if f.PatientID != nil && o.PatientID != *f.PatientID {
			continue
		}
		if f.DoctorID != nil && o.DoctorID != *f.DoctorID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.Modality != "" && o.Modality != f.Modality {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	if end := offset + limit; end < total {
		return out[offset:end], total, nil
	}
	return out[offset:], total, nil
}

type mockStudyRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Study
}

func (m *mockStudyRepo) Create(_ context.Context, s *Study) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.StudyInstanceUID == s.StudyInstanceUID {
			return ErrConflict
		}
	}
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	cp := *s
	m.items[s.ID] = &cp
	return nil
}

func (m *mockStudyRepo) GetByID(_ context.Context, id uuid.UUID) (*Study, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockStudyRepo) Update(_ context.Context, s *Study) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[s.ID]; !ok {
		return ErrNotFound
	}
	cp := *s
	m.items[s.ID] = &cp
	return nil
}

func (m *mockStudyRepo) ListByOrder(_ context.Context, orderID uuid.UUID) ([]*Study, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Study
	for _, s := range m.items {
		if s.OrderID == orderID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type mockReportRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Report
}

func (m *mockReportRepo) Create(_ context.Context, r *Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	cp := *r
	m.items[r.ID] = &cp
	return nil
}

func (m *mockReportRepo) GetByID(_ context.Context, id uuid.UUID) (*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockReportRepo) Update(_ context.Context, r *Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[r.ID]; !ok {
		return ErrNotFound
	}
	cp := *r
	m.items[r.ID] = &cp
	return nil
}

func (m *mockReportRepo) ListByOrder(_ context.Context, orderID uuid.UUID) ([]*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Report
	for _, r := range m.items {
		if r.OrderID == orderID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type mockPeople struct {
	users map[uuid.UUID]*notification.Recipient
}

func (m *mockPeople) add(name, role string) uuid.UUID {
	id := uuid.New()
	m.users[id] = &notification.Recipient{UserID: id, Name: name, Role: role, Active: true}
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
	mu   sync.Mutex
	sent []notification.SendRequest
}

func (m *mockNotifier) SendAsync(_ context.Context, req notification.SendRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, req)
	return nil
}

type mockSummarizer struct {
	configured bool
	reply      string
	err        error
	prompts    []string
}

func (m *mockSummarizer) Configured() bool { return m.configured }

func (m *mockSummarizer) Complete(_ context.Context, _, user string) (string, error) {
	m.prompts = append(m.prompts, user)
	return m.reply, m.err
}
