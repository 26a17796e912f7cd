package pipeline

import (
	"context"
	"sort"
	"sync"

	"fleet-telemetry/internal/domain"
)

// memStore is an in-memory implementation of every collaborator interface,
// with per-operation error injection for failure-path tests.
type memStore struct {
	mu sync.Mutex

	vehicles map[string]*domain.Vehicle
	points   []*domain.GpsPoint
	routes   map[string]*domain.Route
	emitted  []*domain.Violation
	counters []*domain.Counter
	obd      []*domain.ObdSample
	fuel     []*domain.ObdFuelSample

	failCreateGps       error
	failCreateViolation error
	failCreateObd       error
	failCreateFuel      error
	failUpdateCounter   error

	deletions int
}

func newMemStore() *memStore {
	return &memStore{
		vehicles: make(map[string]*domain.Vehicle),
		routes:   make(map[string]*domain.Route),
	}
}

func (m *memStore) GetVehicle(ctx context.Context, id string) (*domain.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *v
	return &copied, nil
}

func (m *memStore) CreateVehicle(ctx context.Context, v *domain.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *v
	m.vehicles[v.ID] = &copied
	return nil
}

func (m *memStore) UpdateVehicle(ctx context.Context, id string, patch domain.VehiclePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok {
		return domain.ErrNotFound
	}
	if patch.CurrentRouteID != nil {
		v.CurrentRouteID = patch.CurrentRouteID
	}
	if patch.LastLocationID != nil {
		v.LastLocationID = patch.LastLocationID
	}
	if patch.LastLocationAt != nil {
		v.LastLocationAt = patch.LastLocationAt
	}
	return nil
}

func (m *memStore) CreateGpsPoint(ctx context.Context, p *domain.GpsPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreateGps != nil {
		return m.failCreateGps
	}
	copied := *p
	m.points = append(m.points, &copied)
	return nil
}

func (m *memStore) FindMostRecentGps(ctx context.Context, vehicleID string) (*domain.GpsPoint, error) {
	recent, err := m.FindRecentGps(ctx, vehicleID, 1)
	if err != nil || len(recent) == 0 {
		return nil, err
	}
	return recent[0], nil
}

func (m *memStore) FindRecentGps(ctx context.Context, vehicleID string, n int) ([]*domain.GpsPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.GpsPoint
	for _, p := range m.points {
		if p.VehicleID == vehicleID {
			copied := *p
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *memStore) CountNonKeyGps(ctx context.Context, vehicleID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.points {
		if p.VehicleID == vehicleID && !p.IsKey {
			n++
		}
	}
	return n, nil
}

func (m *memStore) DeleteOldestNonKeyGps(ctx context.Context, vehicleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	oldest := -1
	for i, p := range m.points {
		if p.VehicleID != vehicleID || p.IsKey {
			continue
		}
		if oldest == -1 || p.Timestamp.Before(m.points[oldest].Timestamp) {
			oldest = i
		}
	}
	if oldest >= 0 {
		m.points = append(m.points[:oldest], m.points[oldest+1:]...)
		m.deletions++
	}
	return nil
}

func (m *memStore) GetRoute(ctx context.Context, id string) (*domain.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r, nil
}

func (m *memStore) CreateViolation(ctx context.Context, v *domain.Violation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreateViolation != nil {
		return m.failCreateViolation
	}
	copied := *v
	m.emitted = append(m.emitted, &copied)
	return nil
}

func (m *memStore) FindCountersByVehicle(ctx context.Context, vehicleID string) ([]*domain.Counter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Counter
	for _, c := range m.counters {
		if c.VehicleID == vehicleID {
			copied := *c
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memStore) UpdateCounterNextDistance(ctx context.Context, id string, nextDistanceKm float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdateCounter != nil {
		return m.failUpdateCounter
	}
	for _, c := range m.counters {
		if c.ID == id {
			c.NextDistanceKm = nextDistanceKm
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memStore) CreateObdSample(ctx context.Context, o *domain.ObdSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreateObd != nil {
		return m.failCreateObd
	}
	copied := *o
	m.obd = append(m.obd, &copied)
	return nil
}

func (m *memStore) CreateFuelSample(ctx context.Context, f *domain.ObdFuelSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreateFuel != nil {
		return m.failCreateFuel
	}
	copied := *f
	m.fuel = append(m.fuel, &copied)
	return nil
}

func (m *memStore) FindMostRecentFuelSample(ctx context.Context, vehicleID string) (*domain.ObdFuelSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.ObdFuelSample
	for _, f := range m.fuel {
		if f.VehicleID != vehicleID {
			continue
		}
		if latest == nil || f.Timestamp.After(latest.Timestamp) {
			latest = f
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (m *memStore) violationsOfType(t domain.ViolationType) []*domain.Violation {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Violation
	for _, v := range m.emitted {
		if v.Type == t {
			out = append(out, v)
		}
	}
	return out
}

func (m *memStore) stores() Stores {
	return Stores{
		Vehicles:   m,
		Gps:        m,
		Routes:     m,
		Violations: m,
		Counters:   m,
		Obd:        m,
		Fuel:       m,
	}
}

// fakePublisher records live-state calls; failures are injectable.
type fakePublisher struct {
	mu         sync.Mutex
	states     []*domain.GpsPoint
	violations []*domain.Violation
	failState  error
}

func (f *fakePublisher) UpdateVehicleState(ctx context.Context, fleetID string, p *domain.GpsPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failState != nil {
		return f.failState
	}
	f.states = append(f.states, p)
	return nil
}

func (f *fakePublisher) PublishViolation(ctx context.Context, fleetID string, v *domain.Violation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.violations = append(f.violations, v)
	return nil
}

