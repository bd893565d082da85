package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/jmylchreest/preroll/internal/httpclient"
	"github.com/jmylchreest/preroll/internal/prefetch"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	cache     *prefetch.Cache
	upstream  *httpclient.Client
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithCache sets the prefetch cache reported in health output.
func (h *HealthHandler) WithCache(cache *prefetch.Cache) *HealthHandler {
	h.cache = cache
	return h
}

// WithUpstreamClient sets the upstream HTTP client whose circuit breaker
// state is reported.
func (h *HealthHandler) WithUpstreamClient(client *httpclient.Client) *HealthHandler {
	h.upstream = client
	return h
}

// CPUInfo holds CPU load information.
type CPUInfo struct {
	Cores     int     `json:"cores"`
	Load1Min  float64 `json:"load_1min"`
	Load5Min  float64 `json:"load_5min"`
	Load15Min float64 `json:"load_15min"`
}

// MemoryInfo holds system and process memory information.
type MemoryInfo struct {
	TotalBytes   uint64  `json:"total_bytes"`
	UsedBytes    uint64  `json:"used_bytes"`
	UsedPercent  float64 `json:"used_percent"`
	ProcessBytes uint64  `json:"process_bytes"`
}

// CacheInfo holds prefetch cache occupancy.
type CacheInfo struct {
	Entries  int `json:"entries"`
	Capacity int `json:"capacity"`
}

// HealthResponse is the health endpoint payload.
type HealthResponse struct {
	Status          string     `json:"status"`
	Timestamp       string     `json:"timestamp"`
	Version         string     `json:"version"`
	Uptime          string     `json:"uptime"`
	UptimeSeconds   float64    `json:"uptime_seconds"`
	CPUInfo         CPUInfo    `json:"cpu"`
	Memory          MemoryInfo `json:"memory"`
	Cache           CacheInfo  `json:"cache"`
	UpstreamCircuit string     `json:"upstream_circuit,omitempty"`
}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// ProbeOutput is the output for the liveness and readiness probes.
type ProbeOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including system metrics and cache occupancy",
		Tags:        []string{"System"},
	}, h.GetHealth)

	huma.Register(api, huma.Operation{
		OperationID: "getLivez",
		Method:      "GET",
		Path:        "/livez",
		Summary:     "Liveness probe",
		Tags:        []string{"System"},
	}, h.GetLivez)

	huma.Register(api, huma.Operation{
		OperationID: "getReadyz",
		Method:      "GET",
		Path:        "/readyz",
		Summary:     "Readiness probe",
		Tags:        []string{"System"},
	}, h.GetReadyz)
}

// GetLivez reports process liveness.
func (h *HealthHandler) GetLivez(ctx context.Context, _ *struct{}) (*ProbeOutput, error) {
	out := &ProbeOutput{}
	out.Body.Status = "ok"
	return out, nil
}

// GetReadyz reports whether the service can accept prefetch requests.
func (h *HealthHandler) GetReadyz(ctx context.Context, _ *struct{}) (*ProbeOutput, error) {
	out := &ProbeOutput{}
	if h.cache == nil {
		out.Body.Status = "not_ready"
	} else {
		out.Body.Status = "ready"
	}
	return out, nil
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	resp := HealthResponse{
		Status:        "healthy",
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       h.version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		CPUInfo:       h.getCPUInfo(),
		Memory:        h.getMemoryInfo(),
	}

	if h.cache != nil {
		resp.Cache = CacheInfo{
			Entries:  h.cache.Len(),
			Capacity: prefetch.MaxEntries,
		}
	}
	if h.upstream != nil {
		resp.UpstreamCircuit = h.upstream.CircuitState().String()
	}

	return &HealthOutput{Body: resp}, nil
}

func (h *HealthHandler) getCPUInfo() CPUInfo {
	info := CPUInfo{Cores: runtime.NumCPU()}

	if loadAvg, err := load.Avg(); err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15
	}
	return info
}

func (h *HealthHandler) getMemoryInfo() MemoryInfo {
	var info MemoryInfo

	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		info.TotalBytes = vm.Total
		info.UsedBytes = vm.Used
		info.UsedPercent = vm.UsedPercent
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if memStat, err := proc.MemoryInfo(); err == nil && memStat != nil {
			info.ProcessBytes = memStat.RSS
		}
	}
	return info
}
