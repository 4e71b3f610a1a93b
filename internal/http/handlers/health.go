package handlers

import (
	"context"
	"maps"
	"net/http"
	"os"
	"runtime"
	"slices"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/superyu1337/handbrake-go/internal/models"
)

// CheckFunc probes one dependency; nil means healthy.
type CheckFunc func(ctx context.Context) error

const checkTimeout = 2 * time.Second

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	svc       EncodeService

	handBrakePath    string
	handBrakeVersion string

	checks map[string]CheckFunc
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string, svc EncodeService) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
		svc:       svc,
		checks:    make(map[string]CheckFunc),
	}
}

// WithHandBrake reports the HandBrakeCLI in use.
func (h *HealthHandler) WithHandBrake(path, version string) *HealthHandler {
	h.handBrakePath = path
	h.handBrakeVersion = version
	return h
}

// WithCheck adds a named dependency check, e.g. "database" or "redis".
func (h *HealthHandler) WithCheck(name string, fn CheckFunc) *HealthHandler {
	h.checks[name] = fn
	return h
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Status int
	Body   HealthResponse
}

// HealthResponse is the health report.
type HealthResponse struct {
	Status        string            `json:"status" enum:"ok,degraded"`
	Timestamp     time.Time         `json:"timestamp"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	HandBrake     HandBrakeInfo     `json:"handbrake"`
	Runs          RunCounts         `json:"runs"`
	System        SystemInfo        `json:"system"`
	Checks        map[string]string `json:"checks"`
}

// HandBrakeInfo identifies the HandBrakeCLI executable.
type HandBrakeInfo struct {
	Path    string `json:"path"`
	Version string `json:"version"`
}

// RunCounts counts runs active in this process.
type RunCounts struct {
	Pending int `json:"pending"`
	Running int `json:"running"`
}

// SystemInfo is a host and process resource snapshot.
type SystemInfo struct {
	Cores             int     `json:"cores"`
	Load1Min          float64 `json:"load_1min"`
	Load5Min          float64 `json:"load_5min"`
	Load15Min         float64 `json:"load_15min"`
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
	ProcessMemoryMB   float64 `json:"process_memory_mb"`
	// ChildProcessesMB covers the HandBrakeCLI processes started by hbctl.
	ChildProcessesMB  float64 `json:"child_processes_mb"`
	ChildProcessCount int     `json:"child_process_count"`
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      http.MethodGet,
		Path:        "/api/v1/health",
		Summary:     "Health check",
		Description: "Reports dependency checks, active runs and resource usage. Answers 503 when a check fails.",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	resp := HealthResponse{
		Status:        "ok",
		Timestamp:     now.UTC(),
		Version:       h.version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		HandBrake:     HandBrakeInfo{Path: h.handBrakePath, Version: h.handBrakeVersion},
		System:        systemInfo(ctx),
		Checks:        make(map[string]string, len(h.checks)),
	}

	if h.svc != nil {
		for _, r := range h.svc.Active() {
			switch r.Status {
			case models.RunStatusPending:
				resp.Runs.Pending++
			case models.RunStatusRunning:
				resp.Runs.Running++
			}
		}
	}

	status := http.StatusOK
	for _, name := range slices.Sorted(maps.Keys(h.checks)) {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := h.checks[name](cctx)
		cancel()
		if err != nil {
			resp.Checks[name] = "error: " + err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	return &HealthOutput{Status: status, Body: resp}, nil
}

func systemInfo(ctx context.Context) SystemInfo {
	info := SystemInfo{Cores: runtime.NumCPU()}

	if avg, err := load.AvgWithContext(ctx); err == nil && avg != nil {
		info.Load1Min = avg.Load1
		info.Load5Min = avg.Load5
		info.Load15Min = avg.Load15
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm != nil {
		info.TotalMemoryMB = toMB(vm.Total)
		info.AvailableMemoryMB = toMB(vm.Available)
	}

	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return info
	}
	if mi, err := proc.MemoryInfoWithContext(ctx); err == nil && mi != nil {
		info.ProcessMemoryMB = toMB(mi.RSS)
	}
	if children, err := proc.ChildrenWithContext(ctx); err == nil {
		info.ChildProcessCount = len(children)
		for _, child := range children {
			if mi, err := child.MemoryInfoWithContext(ctx); err == nil && mi != nil {
				info.ChildProcessesMB += toMB(mi.RSS)
			}
		}
	}
	return info
}

func toMB(b uint64) float64 {
	return float64(b) / 1024 / 1024
}
