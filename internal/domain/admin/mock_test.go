package admin

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
)

type mockPermRepo struct{ store map[uuid.UUID]*Permissions }

func (m *mockPermRepo) Get(_ context.Context, id uuid.UUID) (*Permissions, error) {
	p, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockPermRepo) Upsert(_ context.Context, p *Permissions) error {
	cp := *p
	m.store[p.UserID] = &cp
	return nil
}

type mockFeatureRepo struct{ store map[uuid.UUID]*DashboardFeatures }

func (m *mockFeatureRepo) Get(_ context.Context, id uuid.UUID) (*DashboardFeatures, error) {
	f, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *mockFeatureRepo) Upsert(_ context.Context, f *DashboardFeatures) error {
	cp := *f
	m.store[f.UserID] = &cp
	return nil
}

type accessKey struct {
	user    uuid.UUID
	feature string
}

type mockAccessRepo struct{ store map[accessKey]*FeatureAccess }

func (m *mockAccessRepo) List(_ context.Context, id uuid.UUID) ([]*FeatureAccess, error) {
	var out []*FeatureAccess
	for k, fa := range m.store {
		if k.user == id {
			out = append(out, fa)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FeatureName < out[j].FeatureName })
	return out, nil
}

func (m *mockAccessRepo) Get(_ context.Context, id uuid.UUID, feature string) (*FeatureAccess, error) {
	fa, ok := m.store[accessKey{id, feature}]
	if !ok {
		return nil, ErrNotFound
	}
	return fa, nil
}

func (m *mockAccessRepo) Upsert(_ context.Context, fa *FeatureAccess) error {
	k := accessKey{fa.UserID, fa.FeatureName}
	if old, ok := m.store[k]; ok {
		fa.ID = old.ID
	} else {
		fa.ID = uuid.New()
	}
	m.store[k] = fa
	return nil
}

func (m *mockAccessRepo) Delete(_ context.Context, id uuid.UUID, feature string) error {
	k := accessKey{id, feature}
	if _, ok := m.store[k]; !ok {
		return ErrNotFound
	}
	delete(m.store, k)
	return nil
}

type mockStats struct {
	calls []string
	err   error
}

func (m *mockStats) count(name string) (map[string]int, error) {
	m.calls = append(m.calls, name)
	return map[string]int{name: 1}, m.err
}

func (m *mockStats) UsersByRole(context.Context) (map[string]int, error) { return m.count("users") }
func (m *mockStats) AppointmentsByStatus(context.Context) (map[string]int, error) {
	return m.count("appointments")
}
func (m *mockStats) PathologyOrdersByStatus(context.Context) (map[string]int, error) {
	return m.count("pathology")
}
func (m *mockStats) RadiologyOrdersByStatus(context.Context) (map[string]int, error) {
	return m.count("radiology")
}
func (m *mockStats) NotificationsByStatus(context.Context) (map[string]int, error) {
	return m.count("notifications")
}
func (m *mockStats) Revenue(context.Context) (float64, error) {
	m.calls = append(m.calls, "revenue")
	return 1250.5, m.err
}

type mockRoles map[uuid.UUID]string

func (m mockRoles) RoleOf(_ context.Context, id uuid.UUID) (string, error) {
	if m == nil {
		return "", errors.New("lookup failed")
	}
	return m[id], nil
}
