// Package monitor observes process memory and CPU on a fixed interval and
// feeds pressure signals back into request intake. Crossing the warning
// threshold triggers a garbage-collection hint, the critical threshold
// additionally clears shared response caches, and the emergency threshold
// sheds incoming load until pressure falls.
package monitor

import (
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Level is the current pressure classification.
type Level int32

// Pressure levels in ascending severity.
const (
	LevelNormal Level = iota
	LevelWarning
	LevelCritical
	LevelEmergency
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelEmergency:
		return "emergency"
	default:
		return "normal"
	}
}

// Thresholds classify a memory sample. CPU above CPUWarningPct promotes a
// normal sample to warning; memory drives the higher levels.
type Thresholds struct {
	WarningMB     float64
	CriticalMB    float64
	EmergencyMB   float64
	CPUWarningPct float64
}

// DefaultThresholds returns conservative defaults for a small container.
func DefaultThresholds() Thresholds {
	return Thresholds{
		WarningMB:     512,
		CriticalMB:    768,
		EmergencyMB:   1024,
		CPUWarningPct: 85,
	}
}

// CacheClearer is anything holding reclaimable shared state.
type CacheClearer interface {
	Clear()
}

// Sample is one observation of process resource usage.
type Sample struct {
	MemoryMB float64
	CPUPct   float64
}

// Monitor samples the process on a fixed interval and maintains the current
// pressure level. Safe for concurrent use.
type Monitor struct {
	interval   time.Duration
	thresholds Thresholds
	logger     *slog.Logger

	// sampler is swappable for tests
	sampler func() (Sample, error)

	mu      sync.Mutex
	clearer []CacheClearer

	level     atomic.Int32
	lastMemMB atomic.Int64

	// EmergencyHook, when set, runs once each time the emergency level is
	// entered; a supervisor-managed deployment can use it to exit the worker.
	EmergencyHook func()

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a monitor; Start must be called to begin sampling.
func New(interval time.Duration, thresholds Thresholds, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	m := &Monitor{
		interval:   interval,
		thresholds: thresholds,
		logger:     logger.With("component", "resource_monitor"),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	m.sampler = m.sampleProcess
	return m
}

// AddCache registers a cache to clear when pressure reaches critical.
func (m *Monitor) AddCache(c CacheClearer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearer = append(m.clearer, c)
}

// Start begins background sampling, independent of request handling.
func (m *Monitor) Start() {
	go m.loop()
}

// Stop halts sampling.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

// Level returns the current pressure level.
func (m *Monitor) Level() Level {
	return Level(m.level.Load())
}

// Shedding reports whether new requests should be rejected outright.
func (m *Monitor) Shedding() bool {
	return m.Level() >= LevelEmergency
}

// MemoryMB returns the last sampled memory footprint, for stats.
func (m *Monitor) MemoryMB() float64 {
	return float64(m.lastMemMB.Load())
}

func (m *Monitor) loop() {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.observe()
		}
	}
}

// observe takes one sample and reacts to threshold crossings.
func (m *Monitor) observe() {
	sample, err := m.sampler()
	if err != nil {
		m.logger.Warn("failed to sample process resources", "error", err)
		return
	}
	m.lastMemMB.Store(int64(sample.MemoryMB))

	level := m.classify(sample)
	previous := Level(m.level.Swap(int32(level)))

	if level == previous {
		return
	}

	m.logger.Info("resource pressure level changed",
		"from", previous.String(),
		"to", level.String(),
		"memory_mb", sample.MemoryMB,
		"cpu_pct", sample.CPUPct)

	if level >= LevelWarning && level > previous {
		// best-effort reclaim before escalating further
		debug.FreeOSMemory()
	}
	if level >= LevelCritical && previous < LevelCritical {
		m.clearCaches()
	}
	if level >= LevelEmergency && previous < LevelEmergency {
		m.logger.Error("emergency resource pressure, shedding load",
			"memory_mb", sample.MemoryMB)
		if m.EmergencyHook != nil {
			m.EmergencyHook()
		}
	}
}

func (m *Monitor) classify(s Sample) Level {
	t := m.thresholds
	switch {
	case t.EmergencyMB > 0 && s.MemoryMB >= t.EmergencyMB:
		return LevelEmergency
	case t.CriticalMB > 0 && s.MemoryMB >= t.CriticalMB:
		return LevelCritical
	case t.WarningMB > 0 && s.MemoryMB >= t.WarningMB:
		return LevelWarning
	case t.CPUWarningPct > 0 && s.CPUPct >= t.CPUWarningPct:
		return LevelWarning
	default:
		return LevelNormal
	}
}

func (m *Monitor) clearCaches() {
	m.mu.Lock()
	clearer := make([]CacheClearer, len(m.clearer))
	copy(clearer, m.clearer)
	m.mu.Unlock()

	for _, c := range clearer {
		c.Clear()
	}
	m.logger.Info("cleared shared caches under memory pressure", "caches", len(clearer))
}

// sampleProcess reads RSS and CPU for the current process.
func (m *Monitor) sampleProcess() (Sample, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return Sample{}, err
	}

	var s Sample
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		s.MemoryMB = float64(mem.RSS) / (1 << 20)
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		s.CPUPct = cpu
	}
	return s, nil
}
