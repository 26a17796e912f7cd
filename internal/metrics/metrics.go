package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	GpsPointsIngested      atomic.Int64
	ObdSamplesIngested     atomic.Int64
	FuelSamplesIngested    atomic.Int64
	PrimaryWriteFailures   atomic.Int64
	ViolationsEmitted      atomic.Int64
	ViolationWriteFailures atomic.Int64
	PointsEvicted          atomic.Int64
	StateUpdateFailures    atomic.Int64
)

func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "ingestion_gps_points_total %d\n", GpsPointsIngested.Load())
	fmt.Fprintf(w, "ingestion_obd_samples_total %d\n", ObdSamplesIngested.Load())
	fmt.Fprintf(w, "ingestion_fuel_samples_total %d\n", FuelSamplesIngested.Load())
	fmt.Fprintf(w, "ingestion_primary_write_failures_total %d\n", PrimaryWriteFailures.Load())
	fmt.Fprintf(w, "ingestion_violations_emitted_total %d\n", ViolationsEmitted.Load())
	fmt.Fprintf(w, "ingestion_violation_write_failures_total %d\n", ViolationWriteFailures.Load())
	fmt.Fprintf(w, "ingestion_points_evicted_total %d\n", PointsEvicted.Load())
	fmt.Fprintf(w, "ingestion_state_update_failures_total %d\n", StateUpdateFailures.Load())
}
