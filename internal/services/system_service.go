package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	domain "github.com/artisan-market/api/internal/domain"
	"github.com/artisan-market/api/internal/platform/textutil"
	"github.com/artisan-market/api/internal/repositories"
)

const (
	expirySweepJob         = "expiry_sweep"
	defaultSweepStaleAfter = 15 * time.Minute
)

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service.
//
// CacheTTL lets bursts of readiness probes share one dependency sweep; zero disables caching.
// Sweeps is optional and, when set, adds the expiry sweep to the report's jobs.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Sweeps           SweepMonitor
	SweepStaleAfter  time.Duration
	CacheTTL         time.Duration
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	health     repositories.HealthRepository
	sweeps     SweepMonitor
	staleAfter time.Duration
	ttl        time.Duration
	now        func() time.Time
	build      BuildInfo

	collect singleflight.Group

	mu       sync.Mutex
	cached   domain.SystemHealthReport
	cachedAt time.Time
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the readiness reporting service.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	now := defaultClock(deps.Clock)
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = now()
	}
	staleAfter := deps.SweepStaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultSweepStaleAfter
	}
	ttl := deps.CacheTTL
	if ttl < 0 {
		ttl = 0
	}
	return &systemService{
		health:     deps.HealthRepository,
		sweeps:     deps.Sweeps,
		staleAfter: staleAfter,
		ttl:        ttl,
		now:        now,
		build:      build,
	}, nil
}

// HealthReport probes dependencies and decorates the result with build and job metadata.
// Concurrent callers share one in-flight probe.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}
	now := s.now()

	if report, ok := s.fromCache(now); ok {
		return s.decorate(report, now), nil
	}

	value, err, _ := s.collect.Do("health", func() (any, error) {
		report, err := s.health.Collect(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		s.store(report, s.now())
		return report, nil
	})
	if err != nil {
		return SystemHealthReport{}, err
	}
	return s.decorate(value.(domain.SystemHealthReport), now), nil
}

func (s *systemService) fromCache(now time.Time) (domain.SystemHealthReport, bool) {
	if s.ttl == 0 {
		return domain.SystemHealthReport{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cachedAt.IsZero() || now.Sub(s.cachedAt) >= s.ttl {
		return domain.SystemHealthReport{}, false
	}
	return s.cached, true
}

func (s *systemService) store(report domain.SystemHealthReport, at time.Time) {
	if s.ttl == 0 {
		return
	}
	s.mu.Lock()
	s.cached = report
	s.cachedAt = at
	s.mu.Unlock()
}

// decorate copies the report so cached maps are never shared with callers.
func (s *systemService) decorate(report domain.SystemHealthReport, now time.Time) SystemHealthReport {
	checks := make(map[string]domain.SystemHealthCheck, len(report.Checks))
	for name, check := range report.Checks {
		checks[name] = check
	}
	report.Checks = checks

	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.Version = textutil.FirstNonEmpty(report.Version, s.build.Version)
	report.CommitSHA = textutil.FirstNonEmpty(report.CommitSHA, s.build.CommitSHA)
	report.Environment = textutil.FirstNonEmpty(report.Environment, s.build.Environment)
	report.Uptime = now.Sub(s.build.StartedAt)
	if report.Status == "" {
		report.Status = summarize(checks)
	}

	if s.sweeps != nil {
		report.Jobs = map[string]domain.SystemJobStatus{
			expirySweepJob: s.sweepStatus(now),
		}
	}
	return report
}

// sweepStatus treats a missing sweep as stale only once the process has been up longer
// than the staleness window.
func (s *systemService) sweepStatus(now time.Time) domain.SystemJobStatus {
	last := s.sweeps.LastSweep()
	reference := last
	if last.IsZero() {
		reference = s.build.StartedAt
	}
	return domain.SystemJobStatus{
		LastRunAt: last,
		Stale:     now.Sub(reference) > s.staleAfter,
	}
}

func summarize(checks map[string]domain.SystemHealthCheck) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusOK, "":
		case domain.HealthStatusError:
			return domain.HealthStatusError
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
