// Package http is the thin ingestion boundary: it decodes telemetry
// envelopes and hands them to the pipeline. No pipeline semantics live here.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"fleet-telemetry/internal/analytics"
	"fleet-telemetry/internal/domain"
	"fleet-telemetry/internal/pipeline"
)

type ViolationLister interface {
	ListViolations(ctx context.Context, vehicleID string) ([]*domain.Violation, error)
}

type Handlers struct {
	orchestrator *pipeline.Orchestrator
	analytics    *analytics.Service
	violations   ViolationLister
}

func NewHandlers(o *pipeline.Orchestrator, a *analytics.Service, v ViolationLister) *Handlers {
	return &Handlers{orchestrator: o, analytics: a, violations: v}
}

// telemetryEnvelope is the combined ingestion payload: a GPS block and/or an
// OBD block for one vehicle.
type telemetryEnvelope struct {
	VehicleID    string       `json:"vehicleId"`
	Gps          *gpsBlock    `json:"gps,omitempty"`
	Obd          *obdBlock    `json:"obd,omitempty"`
	CurrentRoute *routeEnvRef `json:"currentRoute,omitempty"`
}

type gpsBlock struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  *float64  `json:"altitude,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type obdBlock struct {
	EngineRpm             *float64  `json:"engineRpm,omitempty"`
	FuelLevel             *float64  `json:"fuelLevel,omitempty"`
	EngineLoad            *float64  `json:"engineLoad,omitempty"`
	MassAirFlow           *float64  `json:"massAirFlow,omitempty"`
	FuelPressure          *float64  `json:"fuelPressure,omitempty"`
	FuelConsumptionRate   *float64  `json:"fuelConsumptionRate,omitempty"`
	DiagnosticTroubleCode *string   `json:"diagnosticTroubleCode,omitempty"`
	DistanceTraveled      float64   `json:"distanceTraveled"`
	Time                  time.Time `json:"time"`
}

type routeEnvRef struct {
	ID string `json:"id"`
}

// HandleTelemetry ingests a combined telemetry envelope.
func (h *Handlers) HandleTelemetry(w http.ResponseWriter, r *http.Request) {
	var env telemetryEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if env.VehicleID == "" {
		writeError(w, http.StatusBadRequest, "vehicleId is required")
		return
	}
	if bound := boundVehicle(r.Context()); bound != "" && bound != env.VehicleID {
		writeError(w, http.StatusForbidden, "API key not valid for this vehicle")
		return
	}
	if env.Gps == nil && env.Obd == nil {
		writeError(w, http.StatusBadRequest, "envelope carries neither gps nor obd")
		return
	}

	resp := map[string]any{"vehicleId": env.VehicleID}

	if env.Gps != nil {
		var routeID *string
		if env.CurrentRoute != nil && env.CurrentRoute.ID != "" {
			routeID = &env.CurrentRoute.ID
		}
		point, err := h.orchestrator.IngestGps(r.Context(), env.VehicleID, pipeline.GpsInput{
			Latitude:  env.Gps.Latitude,
			Longitude: env.Gps.Longitude,
			Altitude:  env.Gps.Altitude,
			Timestamp: env.Gps.Timestamp,
		}, routeID)
		if err != nil {
			writeIngestError(w, err)
			return
		}
		resp["gps"] = map[string]any{
			"id":        point.ID,
			"isKey":     point.IsKey,
			"speedKmh":  point.SpeedKmh,
			"timestamp": point.Timestamp,
		}
	}

	if env.Obd != nil {
		sample, err := h.orchestrator.IngestObdMetric(r.Context(), env.VehicleID, pipeline.ObdInput{
			EngineRpm:             env.Obd.EngineRpm,
			FuelLevel:             env.Obd.FuelLevel,
			EngineLoad:            env.Obd.EngineLoad,
			MassAirFlow:           env.Obd.MassAirFlow,
			FuelPressure:          env.Obd.FuelPressure,
			FuelConsumptionRate:   env.Obd.FuelConsumptionRate,
			DiagnosticTroubleCode: env.Obd.DiagnosticTroubleCode,
			DistanceTraveledKm:    env.Obd.DistanceTraveled,
			Timestamp:             env.Obd.Time,
		})
		if err != nil {
			writeIngestError(w, err)
			return
		}
		resp["obd"] = map[string]any{"id": sample.ID}
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleViolations lists a vehicle's violations newest-first.
func (h *Handlers) HandleViolations(w http.ResponseWriter, r *http.Request) {
	vehicleID := r.PathValue("id")
	if vehicleID == "" {
		writeError(w, http.StatusBadRequest, "vehicle id is required")
		return
	}
	violations, err := h.violations.ListViolations(r.Context(), vehicleID)
	if err != nil {
		log.Printf("list violations failed for %s: %v", vehicleID, err)
		writeError(w, http.StatusInternalServerError, "failed to load violations")
		return
	}
	writeJSON(w, http.StatusOK, violations)
}

// HandleFuelAnalytics reports fuel filled/used over a trailing window.
func (h *Handlers) HandleFuelAnalytics(w http.ResponseWriter, r *http.Request) {
	vehicleID := r.PathValue("id")
	if vehicleID == "" {
		writeError(w, http.StatusBadRequest, "vehicle id is required")
		return
	}

	window := 24 * time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid window duration")
			return
		}
		window = parsed
	}

	report, err := h.analytics.FuelAnalytics(r.Context(), vehicleID, window)
	if err != nil {
		log.Printf("fuel analytics failed for %s: %v", vehicleID, err)
		writeError(w, http.StatusInternalServerError, "failed to compute fuel analytics")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleVehicleAnalytics reports lifetime distance/fuel totals.
func (h *Handlers) HandleVehicleAnalytics(w http.ResponseWriter, r *http.Request) {
	vehicleID := r.PathValue("id")
	if vehicleID == "" {
		writeError(w, http.StatusBadRequest, "vehicle id is required")
		return
	}
	report, err := h.analytics.VehicleAnalytics(r.Context(), vehicleID)
	if err != nil {
		log.Printf("vehicle analytics failed for %s: %v", vehicleID, err)
		writeError(w, http.StatusInternalServerError, "failed to compute vehicle analytics")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleRouteProgress compares the driven trail against the route geometry.
func (h *Handlers) HandleRouteProgress(w http.ResponseWriter, r *http.Request) {
	routeID := r.PathValue("id")
	if routeID == "" {
		writeError(w, http.StatusBadRequest, "route id is required")
		return
	}
	progress, err := h.analytics.RouteProgressFor(r.Context(), routeID)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "route not found")
		return
	}
	if err != nil {
		log.Printf("route progress failed for %s: %v", routeID, err)
		writeError(w, http.StatusInternalServerError, "failed to compute route progress")
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func writeIngestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid telemetry input")
	case errors.Is(err, domain.ErrInvalidRouteGeometry):
		writeError(w, http.StatusUnprocessableEntity, "route geometry is not a LineString")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "referenced record not found")
	default:
		log.Printf("ingestion failed: %v", err)
		writeError(w, http.StatusInternalServerError, "ingestion failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("response encode failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
