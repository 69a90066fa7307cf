package monitoring

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/banshee-data/sightline.report/internal/config"
	"github.com/banshee-data/sightline.report/internal/timeutil"
)

// DefaultThermalZonePath is where Linux exposes the SoC temperature in
// millidegrees Celsius.
const DefaultThermalZonePath = "/sys/class/thermal/thermal_zone0/temp"

// Level grades resource pressure.
type Level int

const (
	LevelOK Level = iota
	LevelWarning
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelOK:
		return "ok"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// MarshalText lets Level render as its name in JSON stats responses.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText parses a level name written by MarshalText.
func (l *Level) UnmarshalText(text []byte) error {
	switch string(text) {
	case "ok":
		*l = LevelOK
	case "warning":
		*l = LevelWarning
	case "critical":
		*l = LevelCritical
	default:
		return fmt.Errorf("unknown level %q", text)
	}
	return nil
}

// Advisory is the most recent host resource sample. The frame pipeline uses
// it to veto saves while the device is under critical pressure.
type Advisory struct {
	Level           Level     `json:"level"`
	DiskUsedPercent float64   `json:"disk_used_percent"`
	DiskFreeMB      int64     `json:"disk_free_mb"`
	CPUTempC        float64   `json:"cpu_temp_c"`
	HasCPUTemp      bool      `json:"has_cpu_temp"`
	Reasons         []string  `json:"reasons,omitempty"`
	CheckedAt       time.Time `json:"checked_at"`
}

// Critical reports whether the advisory should veto optional disk writes.
func (a Advisory) Critical() bool { return a.Level == LevelCritical }

// SystemConfig holds thresholds for SystemMonitor.
type SystemConfig struct {
	DiskWarningPercent  float64
	DiskCriticalPercent float64
	MinFreeDiskMB       int64
	CPUTempWarning      float64
	CPUTempCritical     float64
	CheckInterval       time.Duration
}

// SystemConfigFromTuning builds a SystemConfig from a loaded TuningConfig.
func SystemConfigFromTuning(cfg *config.TuningConfig) SystemConfig {
	return SystemConfig{
		DiskWarningPercent:  cfg.GetDiskWarningPercent(),
		DiskCriticalPercent: cfg.GetDiskCriticalPercent(),
		MinFreeDiskMB:       cfg.GetMinFreeDiskMB(),
		CPUTempWarning:      cfg.GetCPUTempWarning(),
		CPUTempCritical:     cfg.GetCPUTempCritical(),
		CheckInterval:       cfg.GetSystemCheckInterval(),
	}
}

// DiskStatFunc returns total and available bytes for the filesystem holding path.
type DiskStatFunc func(path string) (total, avail uint64, err error)

// StatfsDisk is the DiskStatFunc backed by statfs(2).
func StatfsDisk(path string) (total, avail uint64, err error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	bsize := uint64(st.Bsize)
	return st.Blocks * bsize, st.Bavail * bsize, nil
}

// SystemMonitor periodically samples disk usage and CPU temperature.
type SystemMonitor struct {
	cfg         SystemConfig
	clock       timeutil.Clock
	diskPath    string
	thermalPath string
	statDisk    DiskStatFunc
	readFile    func(string) ([]byte, error)

	mu     sync.RWMutex
	latest Advisory
}

// NewSystemMonitor creates a monitor for the filesystem containing diskPath.
// A nil clock uses the real clock.
func NewSystemMonitor(cfg SystemConfig, diskPath string, clock timeutil.Clock) *SystemMonitor {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &SystemMonitor{
		cfg:         cfg,
		clock:       clock,
		diskPath:    diskPath,
		thermalPath: DefaultThermalZonePath,
		statDisk:    StatfsDisk,
		readFile:    os.ReadFile,
	}
}

// Check samples the host and stores the result as the latest advisory.
func (m *SystemMonitor) Check() Advisory {
	adv := Advisory{CheckedAt: m.clock.Now()}

	if total, avail, err := m.statDisk(m.diskPath); err != nil {
		Logf("system monitor: disk check failed: %v", err)
	} else if total > 0 {
		adv.DiskUsedPercent = float64(total-avail) / float64(total) * 100
		adv.DiskFreeMB = int64(avail / (1024 * 1024))
		switch {
		case adv.DiskUsedPercent >= m.cfg.DiskCriticalPercent:
			adv.raise(LevelCritical, fmt.Sprintf("disk usage %.1f%% >= %.1f%%", adv.DiskUsedPercent, m.cfg.DiskCriticalPercent))
		case adv.DiskFreeMB < m.cfg.MinFreeDiskMB:
			adv.raise(LevelCritical, fmt.Sprintf("disk free %dMB < %dMB", adv.DiskFreeMB, m.cfg.MinFreeDiskMB))
		case adv.DiskUsedPercent >= m.cfg.DiskWarningPercent:
			adv.raise(LevelWarning, fmt.Sprintf("disk usage %.1f%% >= %.1f%%", adv.DiskUsedPercent, m.cfg.DiskWarningPercent))
		}
	}

	if temp, err := m.readCPUTemp(); err == nil {
		adv.CPUTempC = temp
		adv.HasCPUTemp = true
		switch {
		case temp >= m.cfg.CPUTempCritical:
			adv.raise(LevelCritical, fmt.Sprintf("cpu temperature %.1fC >= %.1fC", temp, m.cfg.CPUTempCritical))
		case temp >= m.cfg.CPUTempWarning:
			adv.raise(LevelWarning, fmt.Sprintf("cpu temperature %.1fC >= %.1fC", temp, m.cfg.CPUTempWarning))
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		Logf("system monitor: cpu temperature read failed: %v", err)
	}

	if adv.Level != LevelOK {
		Logf("system monitor: %s: %s", adv.Level, strings.Join(adv.Reasons, "; "))
	}

	m.mu.Lock()
	m.latest = adv
	m.mu.Unlock()
	return adv
}

// Advisory returns the most recent sample without touching the host.
func (m *SystemMonitor) Advisory() Advisory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

// Run checks immediately and then every CheckInterval until ctx is done.
func (m *SystemMonitor) Run(ctx context.Context) error {
	m.Check()
	if m.cfg.CheckInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := m.clock.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			m.Check()
		}
	}
}

func (m *SystemMonitor) readCPUTemp() (float64, error) {
	data, err := m.readFile(m.thermalPath)
	if err != nil {
		return 0, err
	}
	milli, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", m.thermalPath, err)
	}
	return milli / 1000.0, nil
}

func (a *Advisory) raise(level Level, reason string) {
	if level > a.Level {
		a.Level = level
	}
	a.Reasons = append(a.Reasons, reason)
}
