package handler

import (
	"fmt"
	"net/http"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/response"
)

// lowDiskBytes is the free space under which local progress writes are at
// risk and health reports degraded.
const lowDiskBytes = 64 << 20

// StoreProbe checks that the progress substrate answers.
type StoreProbe func() error

// SystemHandler reports agent health to the exam UI and lab monitoring.
type SystemHandler struct {
	driver    string
	probe     StoreProbe
	diskPath  string
	clock     clockwork.Clock
	startTime time.Time
	log       zerolog.Logger
}

// NewSystemHandler creates a SystemHandler. diskPath is the directory local
// progress lives in; empty skips the disk check.
func NewSystemHandler(driver string, probe StoreProbe, diskPath string, clock clockwork.Clock, log zerolog.Logger) *SystemHandler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SystemHandler{
		driver:    driver,
		probe:     probe,
		diskPath:  diskPath,
		clock:     clock,
		startTime: clock.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type healthReport struct {
	Status      string `json:"status"`
	Uptime      string `json:"uptime"`
	StoreDriver string `json:"store_driver"`
	StoreOK     bool   `json:"store_ok"`
	StoreError  string `json:"store_error,omitempty"`

	DiskFreeBytes  uint64 `json:"disk_free_bytes,omitempty"`
	DiskTotalBytes uint64 `json:"disk_total_bytes,omitempty"`

	// Go Application
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	NumGC      uint32 `json:"num_gc"`
	GoVersion  string `json:"go_version"`
}

// Health godoc
// GET /health
// Returns 200 when local progress can be written, 503 otherwise.
func (h *SystemHandler) Health(c *gin.Context) {
	report := h.collect()

	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	response.Success(c, status, report)
}

func (h *SystemHandler) collect() healthReport {
	r := healthReport{
		Status:      "ok",
		Uptime:      formatDuration(h.clock.Since(h.startTime)),
		StoreDriver: h.driver,
		StoreOK:     true,
		GoVersion:   runtime.Version(),
	}

	// ── Store ──
	if h.probe != nil {
		if err := h.probe(); err != nil {
			h.log.Warn().Err(err).Msg("Store probe failed")
			r.Status, r.StoreOK, r.StoreError = "degraded", false, err.Error()
		}
	}

	// ── Disk ──
	if h.diskPath != "" {
		total, free, err := readDisk(h.diskPath)
		if err == nil {
			r.DiskTotalBytes, r.DiskFreeBytes = total, free
			if free < lowDiskBytes {
				r.Status = "degraded"
			}
		}
	}

	// ── Go Runtime ──
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	r.Goroutines = runtime.NumGoroutine()
	r.HeapAlloc = ms.HeapAlloc
	r.NumGC = ms.NumGC

	return r
}

// readDisk uses syscall.Statfs to get disk usage.
func readDisk(path string) (total, free uint64, err error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	total = stat.Blocks * uint64(stat.Bsize)
	free = stat.Bavail * uint64(stat.Bsize)
	return total, free, nil
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
