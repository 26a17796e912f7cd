package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleet-telemetry/internal/config"
	"fleet-telemetry/internal/domain"
)

// PostgresStore implements every persistence collaborator the ingestion core
// consumes: vehicles, GPS history, routes, violations, counters and OBD/fuel
// samples.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg *config.Config) (*PostgresStore, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?pool_max_conns=%d",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
		cfg.DBMaxConns,
	)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- vehicles ---

func (s *PostgresStore) GetVehicle(ctx context.Context, id string) (*domain.Vehicle, error) {
	var v domain.Vehicle
	err := s.pool.QueryRow(ctx, `
		SELECT id, license_plate, fleet_id, vehicle_type,
		       current_route_id, last_location_id, last_location_at, created_at
		FROM vehicles WHERE id = $1
	`, id).Scan(
		&v.ID, &v.LicensePlate, &v.FleetID, &v.VehicleType,
		&v.CurrentRouteID, &v.LastLocationID, &v.LastLocationAt, &v.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get vehicle %s: %w", id, err)
	}
	return &v, nil
}

func (s *PostgresStore) CreateVehicle(ctx context.Context, v *domain.Vehicle) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO vehicles (id, license_plate, fleet_id, vehicle_type, current_route_id, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, v.ID, v.LicensePlate, v.FleetID, v.VehicleType, v.CurrentRouteID)
	if err != nil {
		return fmt.Errorf("create vehicle %s: %w", v.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateVehicle(ctx context.Context, id string, patch domain.VehiclePatch) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE vehicles SET
			current_route_id = COALESCE($2, current_route_id),
			last_location_id = COALESCE($3, last_location_id),
			last_location_at = COALESCE($4, last_location_at)
		WHERE id = $1
	`, id, patch.CurrentRouteID, patch.LastLocationID, patch.LastLocationAt)
	if err != nil {
		return fmt.Errorf("update vehicle %s: %w", id, err)
	}
	return nil
}

// --- gps history ---

var gpsColumns = `id, vehicle_id, latitude, longitude, altitude, speed_kmh, is_key, route_id, timestamp`

func (s *PostgresStore) CreateGpsPoint(ctx context.Context, p *domain.GpsPoint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO gps_points (id, vehicle_id, latitude, longitude, altitude, speed_kmh, is_key, route_id, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, p.ID, p.VehicleID, p.Latitude, p.Longitude, p.Altitude, p.SpeedKmh, p.IsKey, p.RouteID, p.Timestamp)
	if err != nil {
		return fmt.Errorf("create gps point for %s: %w", p.VehicleID, err)
	}
	return nil
}

func (s *PostgresStore) FindMostRecentGps(ctx context.Context, vehicleID string) (*domain.GpsPoint, error) {
	rows, err := s.FindRecentGps(ctx, vehicleID, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (s *PostgresStore) FindRecentGps(ctx context.Context, vehicleID string, n int) ([]*domain.GpsPoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+gpsColumns+`
		FROM gps_points
		WHERE vehicle_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`, vehicleID, n)
	if err != nil {
		return nil, fmt.Errorf("find recent gps for %s: %w", vehicleID, err)
	}
	defer rows.Close()
	return scanGpsPoints(rows)
}

func (s *PostgresStore) CountNonKeyGps(ctx context.Context, vehicleID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM gps_points WHERE vehicle_id = $1 AND is_key = FALSE
	`, vehicleID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count non-key gps for %s: %w", vehicleID, err)
	}
	return n, nil
}

func (s *PostgresStore) DeleteOldestNonKeyGps(ctx context.Context, vehicleID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM gps_points
		WHERE id = (
			SELECT id FROM gps_points
			WHERE vehicle_id = $1 AND is_key = FALSE
			ORDER BY timestamp ASC
			LIMIT 1
		)
	`, vehicleID)
	if err != nil {
		return fmt.Errorf("delete oldest non-key gps for %s: %w", vehicleID, err)
	}
	return nil
}

func (s *PostgresStore) FindKeyPointsByRoute(ctx context.Context, routeID string) ([]*domain.GpsPoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+gpsColumns+`
		FROM gps_points
		WHERE route_id = $1 AND is_key = TRUE
		ORDER BY timestamp ASC
	`, routeID)
	if err != nil {
		return nil, fmt.Errorf("find key points for route %s: %w", routeID, err)
	}
	defer rows.Close()
	return scanGpsPoints(rows)
}

func scanGpsPoints(rows pgx.Rows) ([]*domain.GpsPoint, error) {
	var out []*domain.GpsPoint
	for rows.Next() {
		var p domain.GpsPoint
		if err := rows.Scan(
			&p.ID, &p.VehicleID, &p.Latitude, &p.Longitude, &p.Altitude,
			&p.SpeedKmh, &p.IsKey, &p.RouteID, &p.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan gps point: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// --- routes ---

func (s *PostgresStore) GetRoute(ctx context.Context, id string) (*domain.Route, error) {
	var r domain.Route
	var geojson []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, vehicle_id, starting_lat, starting_lng, ending_lat, ending_lng,
		       geojson, summary_distance_m, started_at
		FROM routes WHERE id = $1
	`, id).Scan(
		&r.ID, &r.VehicleID,
		&r.StartingLocation.Latitude, &r.StartingLocation.Longitude,
		&r.EndingLocation.Latitude, &r.EndingLocation.Longitude,
		&geojson, &r.SummaryDistanceM, &r.StartedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get route %s: %w", id, err)
	}
	if len(geojson) > 0 {
		fc, err := domain.ParseFeatureCollection(geojson)
		if err != nil {
			return nil, fmt.Errorf("route %s geometry: %w", id, err)
		}
		r.Geometry = fc
	}
	return &r, nil
}

// --- violations ---

func (s *PostgresStore) CreateViolation(ctx context.Context, v *domain.Violation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO violations (id, vehicle_id, type, description, context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, v.ID, v.VehicleID, string(v.Type), v.Description, v.Context, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("create violation for %s: %w", v.VehicleID, err)
	}
	return nil
}

func (s *PostgresStore) ListViolations(ctx context.Context, vehicleID string) ([]*domain.Violation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, vehicle_id, type, description, context, created_at
		FROM violations
		WHERE vehicle_id = $1
		ORDER BY created_at DESC
	`, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("list violations for %s: %w", vehicleID, err)
	}
	defer rows.Close()

	var out []*domain.Violation
	for rows.Next() {
		var v domain.Violation
		var typ string
		if err := rows.Scan(&v.ID, &v.VehicleID, &typ, &v.Description, &v.Context, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		v.Type = domain.ViolationType(typ)
		out = append(out, &v)
	}
	return out, rows.Err()
}

// --- counters ---

func (s *PostgresStore) FindCountersByVehicle(ctx context.Context, vehicleID string) ([]*domain.Counter, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, vehicle_id, title, description, next_distance_km, need_distance_km
		FROM counters WHERE vehicle_id = $1
	`, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("find counters for %s: %w", vehicleID, err)
	}
	defer rows.Close()

	var out []*domain.Counter
	for rows.Next() {
		var c domain.Counter
		if err := rows.Scan(&c.ID, &c.VehicleID, &c.Title, &c.Description, &c.NextDistanceKm, &c.NeedDistanceKm); err != nil {
			return nil, fmt.Errorf("scan counter: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateCounterNextDistance(ctx context.Context, id string, nextDistanceKm float64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE counters SET next_distance_km = $2 WHERE id = $1
	`, id, nextDistanceKm)
	if err != nil {
		return fmt.Errorf("update counter %s: %w", id, err)
	}
	return nil
}

// --- obd / fuel samples ---

func (s *PostgresStore) CreateObdSample(ctx context.Context, o *domain.ObdSample) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO obd_samples (id, vehicle_id, engine_rpm, fuel_level, engine_load,
			mass_air_flow, fuel_pressure, fuel_consumption_rate, diagnostic_trouble_code,
			distance_traveled_km, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, o.ID, o.VehicleID, o.EngineRpm, o.FuelLevel, o.EngineLoad,
		o.MassAirFlow, o.FuelPressure, o.FuelConsumptionRate, o.DiagnosticTroubleCode,
		o.DistanceTraveledKm, o.Timestamp)
	if err != nil {
		return fmt.Errorf("create obd sample for %s: %w", o.VehicleID, err)
	}
	return nil
}

func (s *PostgresStore) CreateFuelSample(ctx context.Context, f *domain.ObdFuelSample) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO obd_fuel_samples (id, vehicle_id, fuel_level, fuel_consumption_rate, distance_traveled_km, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, f.ID, f.VehicleID, f.FuelLevel, f.FuelConsumptionRate, f.DistanceTraveledKm, f.Timestamp)
	if err != nil {
		return fmt.Errorf("create fuel sample for %s: %w", f.VehicleID, err)
	}
	return nil
}

func (s *PostgresStore) FindMostRecentFuelSample(ctx context.Context, vehicleID string) (*domain.ObdFuelSample, error) {
	var f domain.ObdFuelSample
	err := s.pool.QueryRow(ctx, `
		SELECT id, vehicle_id, fuel_level, fuel_consumption_rate, distance_traveled_km, timestamp
		FROM obd_fuel_samples
		WHERE vehicle_id = $1
		ORDER BY timestamp DESC
		LIMIT 1
	`, vehicleID).Scan(&f.ID, &f.VehicleID, &f.FuelLevel, &f.FuelConsumptionRate, &f.DistanceTraveledKm, &f.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find recent fuel sample for %s: %w", vehicleID, err)
	}
	return &f, nil
}

func (s *PostgresStore) FindFuelSamplesSince(ctx context.Context, vehicleID string, since time.Time) ([]*domain.ObdFuelSample, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, vehicle_id, fuel_level, fuel_consumption_rate, distance_traveled_km, timestamp
		FROM obd_fuel_samples
		WHERE vehicle_id = $1 AND timestamp >= $2
		ORDER BY timestamp ASC
	`, vehicleID, since)
	if err != nil {
		return nil, fmt.Errorf("find fuel samples for %s: %w", vehicleID, err)
	}
	defer rows.Close()

	var out []*domain.ObdFuelSample
	for rows.Next() {
		var f domain.ObdFuelSample
		if err := rows.Scan(&f.ID, &f.VehicleID, &f.FuelLevel, &f.FuelConsumptionRate, &f.DistanceTraveledKm, &f.Timestamp); err != nil {
			return nil, fmt.Errorf("scan fuel sample: %w", err)
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}
