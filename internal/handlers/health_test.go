package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/artisan-market/api/internal/domain"
	"github.com/artisan-market/api/internal/services"
)

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

var _ services.SystemService = (*stubSystemService)(nil)

type probeBody struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	CommitSHA   string `json:"commitSha"`
	Environment string `json:"environment"`
	Uptime      string `json:"uptime"`
	Checks      map[string]struct {
		Status    string `json:"status"`
		LatencyMS int64  `json:"latency_ms"`
	} `json:"checks"`
	Jobs map[string]struct {
		LastRunAt string `json:"last_run_at"`
		Stale     bool   `json:"stale"`
	} `json:"jobs"`
	Details []string `json:"details"`
}

func serveProbe(t *testing.T, handler http.HandlerFunc, path string) (int, probeBody) {
	t.Helper()
	rr := httptest.NewRecorder()
	handler(rr, httptest.NewRequest(http.MethodGet, path, nil))
	var body probeBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("%s: decode %q: %v", path, rr.Body.String(), err)
	}
	return rr.Code, body
}

func TestHealthzReportsBuildWithoutProbing(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	system := &stubSystemService{err: errors.New("must not be called")}
	h := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{Version: "1.4.0", CommitSHA: "9f2c1e", Environment: "staging", StartedAt: start}),
		WithHealthSystemService(system),
		WithHealthClock(func() time.Time { return start.Add(90 * time.Second) }),
	)

	status, body := serveProbe(t, h.Healthz, "/healthz")
	if status != http.StatusOK || body.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok liveness, got %d %+v", status, body)
	}
	if body.Version != "1.4.0" || body.CommitSHA != "9f2c1e" || body.Environment != "staging" {
		t.Fatalf("unexpected build metadata %+v", body)
	}
	if body.Uptime != "1m30s" {
		t.Fatalf("expected uptime 1m30s, got %q", body.Uptime)
	}
}

func TestReadyzMirrorsLivenessWithoutSystemService(t *testing.T) {
	status, body := serveProbe(t, NewHealthHandlers().Readyz, "/readyz")
	if status != http.StatusOK || body.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok readiness, got %d %+v", status, body)
	}
}

func TestReadyzStatusMapping(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	cases := []struct {
		name        string
		report      services.SystemHealthReport
		err         error
		wantCode    int
		wantStatus  string
		wantDetails []string
	}{
		{
			name: "healthy with stale job",
			report: services.SystemHealthReport{
				Status: domain.HealthStatusOK,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond, CheckedAt: now},
				},
				Jobs: map[string]domain.SystemJobStatus{"expiry_sweep": {Stale: true}},
			},
			wantCode:   http.StatusOK,
			wantStatus: domain.HealthStatusOK,
		},
		{
			name: "degraded dependency",
			report: services.SystemHealthReport{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.SystemHealthCheck{
					"pubsub":    {Status: domain.HealthStatusDegraded, Detail: "publish failed"},
					"firestore": {Status: domain.HealthStatusOK},
				},
			},
			wantCode:    http.StatusServiceUnavailable,
			wantStatus:  domain.HealthStatusDegraded,
			wantDetails: []string{"pubsub: publish failed"},
		},
		{
			name: "critical dependency without detail",
			report: services.SystemHealthReport{
				Status: domain.HealthStatusError,
				Checks: map[string]domain.SystemHealthCheck{
					"redis":     {Status: domain.HealthStatusDegraded},
					"firestore": {Status: domain.HealthStatusError, Detail: "deadline exceeded"},
				},
			},
			wantCode:    http.StatusServiceUnavailable,
			wantStatus:  domain.HealthStatusError,
			wantDetails: []string{"firestore: deadline exceeded", "redis: degraded"},
		},
		{
			name:        "probe failure",
			err:         errors.New("probe timeout"),
			wantCode:    http.StatusServiceUnavailable,
			wantStatus:  domain.HealthStatusError,
			wantDetails: []string{"probe timeout"},
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			h := NewHealthHandlers(
				WithHealthSystemService(&stubSystemService{report: tc.report, err: tc.err}),
				WithHealthClock(func() time.Time { return now }),
			)
			status, body := serveProbe(t, h.Readyz, "/readyz")
			if status != tc.wantCode || body.Status != tc.wantStatus {
				t.Fatalf("expected %d %s, got %d %s", tc.wantCode, tc.wantStatus, status, body.Status)
			}
			if len(body.Details) != len(tc.wantDetails) {
				t.Fatalf("expected details %v, got %v", tc.wantDetails, body.Details)
			}
			for i := range tc.wantDetails {
				if body.Details[i] != tc.wantDetails[i] {
					t.Fatalf("expected details %v, got %v", tc.wantDetails, body.Details)
				}
			}
			for name, check := range tc.report.Checks {
				if body.Checks[name].Status != check.Status || body.Checks[name].LatencyMS != check.Latency.Milliseconds() {
					t.Fatalf("check %s: got %+v", name, body.Checks[name])
				}
			}
			for name, job := range tc.report.Jobs {
				if body.Jobs[name].Stale != job.Stale {
					t.Fatalf("job %s: got %+v", name, body.Jobs[name])
				}
			}
		})
	}
}
