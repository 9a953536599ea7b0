package pathology

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
		if f.Priority != "" && o.Priority != f.Priority {
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

type mockSpecimenRepo struct {
	mu    sync.Mutex
	seq   int64
	items map[uuid.UUID]*Specimen
}

func (m *mockSpecimenRepo) Create(_ context.Context, s *Specimen) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.AccessionNumber == s.AccessionNumber {
			return ErrConflict
		}
	}
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	cp := *s
	m.items[s.ID] = &cp
	return nil
}

func (m *mockSpecimenRepo) GetByID(_ context.Context, id uuid.UUID) (*Specimen, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockSpecimenRepo) Update(_ context.Context, s *Specimen) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[s.ID]; !ok {
		return ErrNotFound
	}
	cp := *s
	m.items[s.ID] = &cp
	return nil
}

func (m *mockSpecimenRepo) ListByOrder(_ context.Context, orderID uuid.UUID) ([]*Specimen, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Specimen
	for _, s := range m.items {
		if s.OrderID == orderID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccessionNumber < out[j].AccessionNumber })
	return out, nil
}

func (m *mockSpecimenRepo) NextAccessionSeq(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return m.seq, nil
}

type mockReportRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Report
}

func (m *mockReportRepo) Create(_ context.Context, r *Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.OrderID == r.OrderID {
			return ErrConflict
		}
	}
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

func (m *mockReportRepo) GetByOrder(_ context.Context, orderID uuid.UUID) (*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.items {
		if r.OrderID == orderID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
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
