package server

import (
	"errors"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/quantfolio/internal/database"
	"github.com/aristath/quantfolio/internal/modules/calculations"
	"github.com/aristath/quantfolio/internal/scheduler"
)

// JobRunner is the scheduler surface exposed over HTTP
type JobRunner interface {
	Status() []scheduler.JobInfo
	Trigger(name string) error
}

// CacheStats reports estimate cache occupancy
type CacheStats interface {
	GetStats() (calculations.Stats, error)
}

// SystemHandlers handles system-wide monitoring and operations endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	databases   map[string]*database.DB
	cache       CacheStats
	jobs        JobRunner
}

// NewSystemHandlers creates a new system handlers instance. cache and jobs may be nil.
func NewSystemHandlers(
	log zerolog.Logger,
	dataDir string,
	databases map[string]*database.DB,
	cache CacheStats,
	jobs JobRunner,
) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now(),
		databases:   databases,
		cache:       cache,
		jobs:        jobs,
	}
}

// SystemStatusResponse represents the system status payload
type SystemStatusResponse struct {
	Status        string              `json:"status"`
	UptimeSeconds float64             `json:"uptime_seconds"`
	Goroutines    int                 `json:"goroutines"`
	CPUPercent    float64             `json:"cpu_percent"`
	MemoryPercent float64             `json:"memory_percent"`
	Disk          *DiskUsageResponse  `json:"disk,omitempty"`
	Databases     []DBInfo            `json:"databases"`
	EstimateCache *calculations.Stats `json:"estimate_cache,omitempty"`
	LastChecked   string              `json:"last_checked"`
}

// DBInfo represents information about a single database
type DBInfo struct {
	Name    string          `json:"name"`
	Path    string          `json:"path"`
	Healthy bool            `json:"healthy"`
	Error   string          `json:"error,omitempty"`
	Stats   *database.Stats `json:"stats,omitempty"`
}

// DiskUsageResponse represents disk usage of the data directory's filesystem
type DiskUsageResponse struct {
	Path        string  `json:"path"`
	TotalMB     float64 `json:"total_mb"`
	UsedMB      float64 `json:"used_mb"`
	AvailableMB float64 `json:"available_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// JobsStatusResponse lists scheduled jobs
type JobsStatusResponse struct {
	Jobs        []scheduler.JobInfo `json:"jobs"`
	LastChecked string              `json:"last_checked"`
}

// HandleSystemStatus returns comprehensive system status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	cpuPercent, memPercent := h.getSystemStats()
	response := SystemStatusResponse{
		Status:        "healthy",
		UptimeSeconds: time.Since(h.startupTime).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		Databases:     h.databaseInfo(r),
		LastChecked:   time.Now().Format(time.RFC3339),
	}

	if usage, err := h.diskUsage(); err == nil {
		response.Disk = usage
	} else {
		h.log.Warn().Err(err).Msg("Failed to read disk usage")
	}

	if h.cache != nil {
		if stats, err := h.cache.GetStats(); err == nil {
			response.EstimateCache = &stats
		} else {
			h.log.Warn().Err(err).Msg("Failed to read estimate cache stats")
		}
	}

	for _, db := range response.Databases {
		if !db.Healthy {
			response.Status = "degraded"
			break
		}
	}

	writeJSON(w, r, http.StatusOK, response)
}

// HandleDatabaseStats returns database statistics
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"databases":    h.databaseInfo(r),
		"last_checked": time.Now().Format(time.RFC3339),
	})
}

// HandleDiskUsage returns disk usage statistics
func (h *SystemHandlers) HandleDiskUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.diskUsage()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read disk usage")
		writeJSON(w, r, http.StatusInternalServerError, errorBody("Failed to read disk usage"))
		return
	}
	writeJSON(w, r, http.StatusOK, usage)
}

// HandleJobsStatus lists scheduled jobs
func (h *SystemHandlers) HandleJobsStatus(w http.ResponseWriter, r *http.Request) {
	jobs := []scheduler.JobInfo{}
	if h.jobs != nil {
		jobs = h.jobs.Status()
	}
	writeJSON(w, r, http.StatusOK, JobsStatusResponse{
		Jobs:        jobs,
		LastChecked: time.Now().Format(time.RFC3339),
	})
}

// HandleTriggerJob runs a scheduled job immediately
// POST /api/system/jobs/{name}
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if h.jobs == nil {
		writeJSON(w, r, http.StatusServiceUnavailable, errorBody("Scheduler not available"))
		return
	}

	if err := h.jobs.Trigger(name); err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			writeJSON(w, r, http.StatusNotFound, errorBody(err.Error()))
			return
		}
		h.log.Error().Err(err).Str("job", name).Msg("Manual job run failed")
		writeJSON(w, r, http.StatusInternalServerError, map[string]interface{}{
			"status":  "error",
			"job":     name,
			"message": err.Error(),
		})
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"status": "success",
		"job":    name,
	})
}

func (h *SystemHandlers) databaseInfo(r *http.Request) []DBInfo {
	names := make([]string, 0, len(h.databases))
	for name := range h.databases {
		names = append(names, name)
	}
	sort.Strings(names)

	infos := make([]DBInfo, 0, len(names))
	for _, name := range names {
		db := h.databases[name]
		info := DBInfo{Name: name, Path: db.Path(), Healthy: true}

		if err := db.HealthCheck(r.Context()); err != nil {
			info.Healthy = false
			info.Error = err.Error()
			infos = append(infos, info)
			continue
		}
		if stats, err := db.GetStats(); err == nil {
			info.Stats = stats
		}
		infos = append(infos, info)
	}
	return infos
}

func (h *SystemHandlers) diskUsage() (*DiskUsageResponse, error) {
	usage, err := disk.Usage(h.dataDir)
	if err != nil {
		return nil, err
	}
	return &DiskUsageResponse{
		Path:        h.dataDir,
		TotalMB:     float64(usage.Total) / 1024 / 1024,
		UsedMB:      float64(usage.Used) / 1024 / 1024,
		AvailableMB: float64(usage.Free) / 1024 / 1024,
		UsedPercent: usage.UsedPercent,
	}, nil
}

// getSystemStats calculates CPU and RAM usage percentages.
// Samples CPU over 100ms to keep the endpoint responsive.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}
