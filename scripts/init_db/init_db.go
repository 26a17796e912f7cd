package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found — using system environment variables")
	}

	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		dbGetEnv("DB_USER", "fleet_user"),
		dbGetEnv("DB_PASSWORD", "fleet_password"),
		dbGetEnv("DB_HOST", "localhost"),
		dbGetEnv("DB_PORT", "5432"),
		dbGetEnv("DB_NAME", "fleet_telemetry"),
	)

	ctx := context.Background()

	fmt.Println("Connecting to Postgres...")
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Postgres is running:\n  docker-compose up -d postgres", err)
	}
	defer conn.Close(ctx)
	fmt.Println("✓ Connected")

	stepTables(ctx, conn)
	stepIndexes(ctx, conn)
	stepVerify(ctx, conn)

	fmt.Println("\n✅ Database initialised successfully")
}

func stepTables(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 1: Tables ──────────────────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS vehicles (
			id               TEXT        PRIMARY KEY,
			license_plate    TEXT        NOT NULL DEFAULT '',
			fleet_id         TEXT        NOT NULL DEFAULT '',
			vehicle_type     TEXT        NOT NULL DEFAULT '',
			current_route_id TEXT,
			last_location_id TEXT,
			last_location_at TIMESTAMPTZ,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`, "vehicles table created")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS gps_points (
			id         TEXT             PRIMARY KEY,
			vehicle_id TEXT             NOT NULL,
			latitude   DOUBLE PRECISION NOT NULL,
			longitude  DOUBLE PRECISION NOT NULL,
			altitude   DOUBLE PRECISION,

			-- NULL when no chronologically prior point existed
			speed_kmh  DOUBLE PRECISION,

			-- Key points form the durable route skeleton and are
			-- exempt from retention eviction
			is_key     BOOLEAN          NOT NULL DEFAULT FALSE,
			route_id   TEXT,
			timestamp  TIMESTAMPTZ      NOT NULL
		);
	`, "gps_points table created")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS routes (
			id                 TEXT             PRIMARY KEY,
			vehicle_id         TEXT             NOT NULL,
			starting_lat       DOUBLE PRECISION NOT NULL DEFAULT 0,
			starting_lng       DOUBLE PRECISION NOT NULL DEFAULT 0,
			ending_lat         DOUBLE PRECISION NOT NULL DEFAULT 0,
			ending_lng         DOUBLE PRECISION NOT NULL DEFAULT 0,

			-- Provider GeoJSON; decoded into a tagged geometry at read time
			geojson            JSONB,
			summary_distance_m DOUBLE PRECISION NOT NULL DEFAULT 0,
			started_at         TIMESTAMPTZ      NOT NULL DEFAULT NOW()
		);
	`, "routes table created")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS violations (
			id          TEXT        PRIMARY KEY,
			vehicle_id  TEXT        NOT NULL,
			type        TEXT        NOT NULL,
			description TEXT        NOT NULL DEFAULT '',
			context     JSONB,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),

			CONSTRAINT chk_violation_type CHECK (
				type IN ('OUT_OF_ROUTE', 'IDLE', 'SPEEDING', 'ThresholdExceeded', 'FUEL_THEFT')
			)
		);
	`, "violations table created")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS counters (
			id               TEXT             PRIMARY KEY,
			vehicle_id       TEXT             NOT NULL,
			title            TEXT             NOT NULL DEFAULT '',
			description      TEXT             NOT NULL DEFAULT '',

			-- Ratchet: only ever advanced, by need_distance_km at a time
			next_distance_km DOUBLE PRECISION NOT NULL,
			need_distance_km DOUBLE PRECISION NOT NULL
		);
	`, "counters table created")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS obd_samples (
			id                      TEXT             PRIMARY KEY,
			vehicle_id              TEXT             NOT NULL,
			engine_rpm              DOUBLE PRECISION,
			fuel_level              DOUBLE PRECISION,
			engine_load             DOUBLE PRECISION,
			mass_air_flow           DOUBLE PRECISION,
			fuel_pressure           DOUBLE PRECISION,
			fuel_consumption_rate   DOUBLE PRECISION,
			diagnostic_trouble_code TEXT,
			distance_traveled_km    DOUBLE PRECISION NOT NULL DEFAULT 0,
			timestamp               TIMESTAMPTZ      NOT NULL
		);
	`, "obd_samples table created")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS obd_fuel_samples (
			id                    TEXT             PRIMARY KEY,
			vehicle_id            TEXT             NOT NULL,
			fuel_level            DOUBLE PRECISION NOT NULL DEFAULT 0,
			fuel_consumption_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			distance_traveled_km  DOUBLE PRECISION NOT NULL DEFAULT 0,
			timestamp             TIMESTAMPTZ      NOT NULL
		);
	`, "obd_fuel_samples table created")
}

func stepIndexes(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 2: Indexes ─────────────────────────────")

	indexes := []struct {
		name string
		sql  string
		why  string
	}{
		{
			name: "idx_gps_vehicle_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_gps_vehicle_time
			      ON gps_points (vehicle_id, timestamp DESC);`,
			why: "query: previous point / recent window per vehicle",
		},
		{
			name: "idx_gps_nonkey",
			sql: `CREATE INDEX IF NOT EXISTS idx_gps_nonkey
			      ON gps_points (vehicle_id, timestamp ASC)
			      WHERE is_key = FALSE;`,
			why: "query: retention count + oldest non-key point",
		},
		{
			name: "idx_gps_route_key",
			sql: `CREATE INDEX IF NOT EXISTS idx_gps_route_key
			      ON gps_points (route_id, timestamp ASC)
			      WHERE is_key = TRUE;`,
			why: "query: key-point trail for a route",
		},
		{
			name: "idx_violations_vehicle",
			sql: `CREATE INDEX IF NOT EXISTS idx_violations_vehicle
			      ON violations (vehicle_id, created_at DESC);`,
			why: "query: violations for one vehicle",
		},
		{
			name: "idx_counters_vehicle",
			sql: `CREATE INDEX IF NOT EXISTS idx_counters_vehicle
			      ON counters (vehicle_id);`,
			why: "query: active counters per vehicle",
		},
		{
			name: "idx_fuel_vehicle_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_fuel_vehicle_time
			      ON obd_fuel_samples (vehicle_id, timestamp DESC);`,
			why: "query: fuel anomaly lookback + analytics windows",
		},
	}

	for _, idx := range indexes {
		execOrFatal(ctx, conn, idx.sql,
			fmt.Sprintf("%-28s ← %s", idx.name, idx.why),
		)
	}
}

func stepVerify(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 3: Verification ────────────────────────")

	tables := []string{
		"vehicles", "gps_points", "routes", "violations",
		"counters", "obd_samples", "obd_fuel_samples",
	}
	for _, table := range tables {
		var exists bool
		err := conn.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_name = $1
			)
		`, table).Scan(&exists)
		if err != nil || !exists {
			log.Fatalf("Table %s was not created: %v", table, err)
		}
		fmt.Printf("  ✓ table: %s\n", table)
	}

	var indexCount int
	err := conn.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM pg_indexes
		WHERE indexname LIKE 'idx_%'
	`).Scan(&indexCount)
	if err != nil {
		log.Fatalf("Index check failed: %v", err)
	}
	fmt.Printf("  ✓ indexes created: %d\n", indexCount)
}

func execOrFatal(ctx context.Context, conn *pgx.Conn, sql, label string) {
	_, err := conn.Exec(ctx, sql)
	if err != nil {
		log.Fatalf("FAILED — %s\nError: %v\nSQL: %s", label, err, sql)
	}
	fmt.Printf("  ✓ %s\n", label)
}

func dbGetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
