package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/proximity.report/internal/beacon"
	"github.com/banshee-data/proximity.report/internal/db"
	"github.com/banshee-data/proximity.report/internal/feed"
	"github.com/banshee-data/proximity.report/internal/httputil"
	"github.com/banshee-data/proximity.report/internal/tracker"
)

const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func queryBeaconID(r *http.Request) (*beacon.ID, error) {
	raw := r.URL.Query().Get("beacon_id")
	if raw == "" {
		return nil, nil
	}
	id, err := beacon.ParseID(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > 10000 {
		return 0, fmt.Errorf("invalid 'limit' parameter")
	}
	return n, nil
}

// listBeacons returns live records. ?state=present restricts to found
// beacons; ?beacon_id= returns one record; ?history=true keeps the RSSI trail.
func (s *Server) listBeacons(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	id, err := queryBeaconID(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	withHistory := r.URL.Query().Get("history") == "true"

	if id != nil {
		rec, ok := s.t.Record(*id)
		if !ok {
			httputil.NotFound(w, "beacon not tracked")
			return
		}
		if !withHistory {
			rec.History = nil
		}
		httputil.WriteJSONOK(w, rec)
		return
	}

	var records []beacon.Record
	switch state := r.URL.Query().Get("state"); state {
	case "", "all":
		records = s.t.Snapshot()
	case string(beacon.StatePresent):
		records = s.t.Present()
	default:
		httputil.BadRequest(w, fmt.Sprintf("invalid 'state' parameter %q", state))
		return
	}
	if !withHistory {
		for i := range records {
			records[i].History = nil
		}
	}
	if records == nil {
		records = []beacon.Record{}
	}
	httputil.WriteJSONOK(w, records)
}

type targetRequest struct {
	BeaconID beacon.ID `json:"beacon_id"`
	beacon.TargetOrientation
}

func (s *Server) handleTargets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, s.t.Catalog())
	case http.MethodPut, http.MethodPost:
		var req targetRequest
		if err := decodeBody(w, r, &req); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid target: %v", err))
			return
		}
		if req.BeaconID == (beacon.ID{}) {
			httputil.BadRequest(w, "missing beacon_id")
			return
		}
		if err := req.TargetOrientation.Validate(); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if err := s.persistTarget(r, req.BeaconID, req.TargetOrientation); err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		if err := s.t.AssignTarget(req.BeaconID, req.TargetOrientation); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, req)
	case http.MethodDelete:
		s.deleteTarget(w, r)
	default:
		httputil.MethodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete)
	}
}

// deleteTarget removes ?beacon_id= from the stored and in-memory catalog.
func (s *Server) deleteTarget(w http.ResponseWriter, r *http.Request) {
	id, err := queryBeaconID(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if id == nil {
		httputil.BadRequest(w, "missing beacon_id")
		return
	}
	stored := false
	if s.db != nil {
		if stored, err = s.db.DeleteTarget(r.Context(), *id); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to delete target: %v", err))
			return
		}
	}
	events, ok := s.t.RemoveTarget(r.Context(), *id)
	if !ok && !stored {
		httputil.NotFound(w, fmt.Sprintf("no target for %s", *id))
		return
	}
	httputil.WriteJSONOK(w, eventsResponse{Events: events})
}

func (s *Server) persistTarget(r *http.Request, id beacon.ID, o beacon.TargetOrientation) error {
	if s.db == nil {
		return nil
	}
	if err := s.db.UpsertTarget(r.Context(), id, o, s.clock.Now()); err != nil {
		return fmt.Errorf("failed to store target: %w", err)
	}
	return nil
}

type captureRequest struct {
	BeaconID  beacon.ID `json:"beacon_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
}

// captureTarget stores the last observed heading, plus the posted location,
// as the beacon's target.
func (s *Server) captureTarget(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	var req captureRequest
	if err := decodeBody(w, r, &req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid capture request: %v", err))
		return
	}
	if req.BeaconID == (beacon.ID{}) {
		httputil.BadRequest(w, "missing beacon_id")
		return
	}
	o, err := s.t.CaptureTarget(req.BeaconID, req.Latitude, req.Longitude)
	switch {
	case errors.Is(err, tracker.ErrNoHeading):
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.persistTarget(r, req.BeaconID, o); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, targetRequest{BeaconID: req.BeaconID, TargetOrientation: o})
}

type eventsResponse struct {
	Events   []beacon.Event `json:"events"`
	Warnings []string       `json:"warnings,omitempty"`
}

func (s *Server) postHeading(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	var h beacon.Heading
	if err := decodeBody(w, r, &h); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid heading: %v", err))
		return
	}
	events, err := s.t.ApplyHeading(r.Context(), h)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, eventsResponse{Events: nonNil(events)})
}

// postRanging applies one ranging cycle. Malformed samples are skipped and
// reported as warnings; the rest of the batch is applied.
func (s *Server) postRanging(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	var batch feed.Ranging
	if err := decodeBody(w, r, &batch); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid ranging batch: %v", err))
		return
	}
	events, warnings := s.t.ApplyCycle(r.Context(), batch.Beacons)
	resp := eventsResponse{Events: nonNil(events)}
	for _, warn := range warnings {
		resp.Warnings = append(resp.Warnings, warn.Error())
	}
	httputil.WriteJSONOK(w, resp)
}

func nonNil(events []beacon.Event) []beacon.Event {
	if events == nil {
		return []beacon.Event{}
	}
	return events
}

// listEvents reads the persisted event log, newest first.
// Query params: beacon_id, since (RFC3339), limit.
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.db == nil {
		httputil.ServiceUnavailable(w, "event log not configured")
		return
	}
	var q db.EventQuery
	var err error
	if q.Beacon, err = queryBeaconID(r); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if q.Limit, err = queryLimit(r); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		if q.Since, err = time.Parse(time.RFC3339, raw); err != nil {
			httputil.BadRequest(w, "invalid 'since' parameter")
			return
		}
	}

	events, err := s.db.RecentEvents(r.Context(), q)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to retrieve events: %v", err))
		return
	}
	httputil.WriteJSONOK(w, nonNil(events))
}

func (s *Server) listVisits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.db == nil {
		httputil.ServiceUnavailable(w, "event log not configured")
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	visits, err := s.db.Visits(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to retrieve visits: %v", err))
		return
	}
	if visits == nil {
		visits = []db.Visit{}
	}
	httputil.WriteJSONOK(w, visits)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	cfg := s.t.Config()
	httputil.WriteJSONOK(w, map[string]interface{}{
		"addition_dwell":            cfg.AdditionDwell.String(),
		"removal_dwell":             cfg.RemovalDwell.String(),
		"lost_iteration_threshold":  cfg.LostIterationThreshold,
		"heading_tolerance_deg":     cfg.HeadingToleranceDeg,
		"calibration_threshold_deg": cfg.CalibrationThresholdDeg,
		"smoothing_window":          cfg.SmoothingWindow,
		"rssi_history_length":       cfg.RSSIHistoryLength,
		"tx_power_dbm":              cfg.TxPowerDBm,
		"path_loss_exponent":        cfg.PathLossExponent,
		"persistence":               s.db != nil,
	})
}
