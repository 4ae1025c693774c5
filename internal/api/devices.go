package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/meterhub-core/internal/meter"
	"github.com/nerrad567/meterhub-core/internal/telemetry"
)

// handleListDevices returns all device snapshots, sorted by identity.
//
// Query parameters:
//   - freshness: online, stale or offline
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	snaps := s.telemetry.Snapshots()

	if q := r.URL.Query().Get("freshness"); q != "" {
		want, err := meter.ParseFreshness(q)
		if err != nil {
			writeBadRequest(w, "freshness must be online, stale or offline")
			return
		}
		filtered := snaps[:0]
		for _, snap := range snaps {
			if snap.Freshness == want {
				filtered = append(filtered, snap)
			}
		}
		snaps = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": snaps,
		"count":   len(snaps),
	})
}

// handleGetDevice returns one device snapshot by identity.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	identity := strings.Trim(chi.URLParam(r, "*"), "/")
	if identity == "" {
		writeBadRequest(w, "device identity is required")
		return
	}

	snap, ok := s.telemetry.Snapshot(identity)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleDeviceStats returns device counts by freshness.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, freshnessCounts(s.telemetry.Snapshots()))
}

// handleConnectivity returns the push connectivity and polling status.
func (s *Server) handleConnectivity(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.telemetry.Status())
}

// handleMe proxies the current-user probe of the pull session.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if s.session == nil {
		writeNotFound(w, "session probe not configured")
		return
	}

	user, err := s.session.CurrentUser(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, user)
	case errors.Is(err, telemetry.ErrUnauthorized), errors.Is(err, telemetry.ErrTokenExpired):
		writeUnauthorized(w, "pull session is not authorised")
	default:
		s.logger.Warn("current user probe failed", "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, "current user probe failed")
	}
}

// freshnessCounts tallies snapshots per freshness class.
func freshnessCounts(snaps []meter.Snapshot) map[string]int {
	counts := map[string]int{
		string(meter.FreshnessOnline):  0,
		string(meter.FreshnessStale):   0,
		string(meter.FreshnessOffline): 0,
		"total":                        len(snaps),
	}
	for _, snap := range snaps {
		counts[string(snap.Freshness)]++
	}
	return counts
}
