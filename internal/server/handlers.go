package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/marketcore/internal/database"
	"github.com/aristath/marketcore/internal/httpjson"
	"github.com/aristath/marketcore/internal/worker"
)

// handleHealth reports healthy when both databases answer a ping.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	dbs := make(map[string]string)
	for _, db := range []*database.DB{s.container.CoreDB, s.container.ClientDataDB} {
		if err := db.HealthCheck(ctx); err != nil {
			dbs[db.Name()] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		dbs[db.Name()] = "ok"
	}

	response := map[string]interface{}{
		"status":    "healthy",
		"service":   "marketcore",
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"databases": dbs,
	}
	if status != http.StatusOK {
		response["status"] = "degraded"
	}
	s.writeJSON(w, status, response)
}

// handleSystemStats returns host CPU and RAM usage.
func (s *Server) handleSystemStats(w http.ResponseWriter, r *http.Request) {
	cpuPct, ramPct := s.getSystemStats()
	s.writeJSON(w, http.StatusOK, map[string]float64{
		"cpu_percent": cpuPct,
		"ram_percent": ramPct,
	})
}

// getSystemStats samples CPU over 100ms so the endpoint stays fast.
func (s *Server) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}

func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.container.Breakers.Snapshot())
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.container.Caches.Stats())
}

// ============================================================================
// Workers
// ============================================================================

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.container.Workers.Snapshot())
}

func (s *Server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	runner, ok := s.runner(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, runner.Status())
}

// handleStartWorker starts a worker; starting a running worker is a no-op.
func (s *Server) handleStartWorker(w http.ResponseWriter, r *http.Request) {
	runner, ok := s.runner(w, r)
	if !ok {
		return
	}
	if err := runner.Start(); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, runner.Status())
}

func (s *Server) handleStopWorker(w http.ResponseWriter, r *http.Request) {
	runner, ok := s.runner(w, r)
	if !ok {
		return
	}
	stopped := runner.Stop(s.stopTimeout)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"stopped": stopped,
		"status":  runner.Status(),
	})
}

// handleRunWorker executes one cycle synchronously.
func (s *Server) handleRunWorker(w http.ResponseWriter, r *http.Request) {
	runner, ok := s.runner(w, r)
	if !ok {
		return
	}
	if err := runner.ForceRun(r.Context()); err != nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":     false,
			"error":  err.Error(),
			"status": runner.Status(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"status": runner.Status(),
	})
}

func (s *Server) runner(w http.ResponseWriter, r *http.Request) (*worker.Runner, bool) {
	runner, err := s.container.Workers.Get(chi.URLParam(r, "name"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, worker.ErrUnknownWorker) {
			status = http.StatusNotFound
		}
		s.writeError(w, status, err.Error())
		return nil, false
	}
	return runner, true
}

// ============================================================================
// Maintenance jobs
// ============================================================================

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.container.Scheduler.Entries())
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.container.Scheduler.RunNow(name); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"job": name, "status": "completed"})
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	if err := httpjson.Write(w, status, data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, httpjson.ErrorBody{Error: msg})
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + key)
	}
	return n, nil
}
