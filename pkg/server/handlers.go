package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/gorilla/mux"

	"github.com/nicktill/procmem/pkg/httpx"
	"github.com/nicktill/procmem/pkg/server/monitor"
	"github.com/nicktill/procmem/pkg/storage"
)

// StorageUsage represents current storage usage stats.
type StorageUsage struct {
	UsedBytes    int64  `json:"used_bytes"`
	Used         string `json:"used"`
	Files        int    `json:"files"`
	Oldest       string `json:"oldest,omitempty"`
	Newest       string `json:"newest,omitempty"`
	MaxFileBytes uint64 `json:"max_file_bytes"`
	MaxFileSize  string `json:"max_file_size"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string                `json:"status"`
	Version string                `json:"version"`
	Uptime  string                `json:"uptime"`
	Sampler monitor.SamplerStatus `json:"sampler"`
}

// SnapshotRef is one stored snapshot in a listing.
type SnapshotRef struct {
	Name       string `json:"name"`
	CapturedAt string `json:"captured_at"`
	Seq        int    `json:"seq,omitempty"`
}

// SnapshotList is the response of the snapshot listing.
type SnapshotList struct {
	From      string        `json:"from"`
	To        string        `json:"to"`
	Count     int           `json:"count"`
	Snapshots []SnapshotRef `json:"snapshots"`
}

// handleHealth returns service health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	overallStatus := "healthy"
	statusCode := http.StatusOK

	if !s.sampler.IsHealthy() {
		overallStatus = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:  overallStatus,
		Version: s.version,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Sampler: s.sampler.Status(),
	}

	httpx.RespondJSON(w, statusCode, response)
}

// handleStorageUsage returns current storage usage.
func (s *Server) handleStorageUsage(w http.ResponseWriter, r *http.Request) {
	usedBytes, err := s.usage.GetUsage()
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	stats, err := s.store.Stats(r.Context())
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	maxFile := s.usage.MaxFileSize()
	usage := StorageUsage{
		UsedBytes:    usedBytes,
		Used:         datasize.ByteSize(usedBytes).HR(),
		Files:        stats.Count,
		MaxFileBytes: maxFile.Bytes(),
		MaxFileSize:  maxFile.HR(),
	}
	if stats.Count > 0 {
		usage.Oldest = stats.Oldest.Format(time.RFC3339)
		usage.Newest = stats.Newest.Format(time.RFC3339)
	}

	httpx.RespondJSON(w, http.StatusOK, usage)
}

// handleSnapshots lists snapshots captured in [from, to]. Both bounds are
// RFC3339; from defaults to the zero time and to defaults to now.
func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from, err := parseTimeParam(q.Get("from"), time.Time{})
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid from: %w", err))
		return
	}
	to, err := parseTimeParam(q.Get("to"), time.Now())
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid to: %w", err))
		return
	}
	if to.Before(from) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "to must not be before from")
		return
	}

	refs, err := s.store.List(r.Context(), from, to)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	resp := SnapshotList{
		From:      from.UTC().Format(time.RFC3339),
		To:        to.UTC().Format(time.RFC3339),
		Count:     len(refs),
		Snapshots: make([]SnapshotRef, 0, len(refs)),
	}
	for _, ref := range refs {
		resp.Snapshots = append(resp.Snapshots, snapshotRef(ref))
	}
	httpx.RespondJSON(w, http.StatusOK, resp)
}

func snapshotRef(ref storage.Ref) SnapshotRef {
	return SnapshotRef{
		Name:       ref.Name,
		CapturedAt: ref.CapturedAt.UTC().Format(time.RFC3339),
		Seq:        ref.Seq,
	}
}

func parseTimeParam(v string, def time.Time) (time.Time, error) {
	if v == "" {
		return def, nil
	}
	return time.Parse(time.RFC3339, v)
}

// SetupRoutes configures all HTTP routes for the server.
func (s *Server) SetupRoutes(router *mux.Router) {
	api := router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/storage", s.handleStorageUsage).Methods("GET")
	api.HandleFunc("/snapshots", s.handleSnapshots).Methods("GET")
}
