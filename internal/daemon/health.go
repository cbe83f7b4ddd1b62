package daemon

import (
	"fmt"
	"os"
	"time"

	"github.com/ZMB-UZH/omero-docker-extended/internal/version"
)

// HealthStatus represents the overall health of the daemon
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a single health check
type HealthCheck struct {
	Name        string        `json:"name"`
	Status      HealthStatus  `json:"status"`
	Message     string        `json:"message,omitempty"`
	Duration    time.Duration `json:"duration"`
	LastChecked time.Time     `json:"last_checked"`
}

// HealthResponse represents the complete health check response
type HealthResponse struct {
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Uptime    string        `json:"uptime"`
	Version   string        `json:"version"`
	Checks    []HealthCheck `json:"checks"`
}

// PerformHealthChecks executes all health checks and returns the overall status
func (d *Daemon) PerformHealthChecks() *HealthResponse {
	var checks []HealthCheck
	overallStatus := HealthStatusHealthy

	degrade := func(c HealthCheck) {
		checks = append(checks, c)
		if c.Status != HealthStatusHealthy && overallStatus == HealthStatusHealthy {
			overallStatus = HealthStatusDegraded
		}
		if c.Status == HealthStatusUnhealthy {
			overallStatus = HealthStatusUnhealthy
		}
	}

	degrade(d.checkDaemonState())
	degrade(d.checkStateDocument())
	degrade(d.checkManagedRoot())
	degrade(d.checkLastRun())

	return &HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Uptime:    time.Since(d.startTime).String(),
		Version:   version.Version,
		Checks:    checks,
	}
}

func (d *Daemon) checkDaemonState() HealthCheck {
	start := time.Now()
	check := HealthCheck{Name: "daemon_status", LastChecked: time.Now()}

	switch d.GetStatus() {
	case StatusRunning:
		check.Status = HealthStatusHealthy
		check.Message = "Daemon is running normally"
	case StatusStarting:
		check.Status = HealthStatusDegraded
		check.Message = "Daemon is still starting up"
	case StatusStopping:
		check.Status = HealthStatusDegraded
		check.Message = "Daemon is shutting down"
	default:
		check.Status = HealthStatusUnhealthy
		check.Message = "Daemon is not running"
	}

	check.Duration = time.Since(start)
	return check
}

func (d *Daemon) checkStateDocument() HealthCheck {
	start := time.Now()
	check := HealthCheck{Name: "state_document", LastChecked: time.Now()}

	if _, err := os.Stat(d.cfg.StatePath); err != nil {
		check.Status = HealthStatusUnhealthy
		check.Message = fmt.Sprintf("Desired state document not readable: %v", err)
	} else {
		check.Status = HealthStatusHealthy
		check.Message = "Desired state document present"
	}

	check.Duration = time.Since(start)
	return check
}

func (d *Daemon) checkManagedRoot() HealthCheck {
	start := time.Now()
	check := HealthCheck{Name: "managed_root", LastChecked: time.Now()}

	info, err := os.Stat(d.cfg.ManagedRoot)
	switch {
	case err != nil:
		check.Status = HealthStatusUnhealthy
		check.Message = fmt.Sprintf("Managed root not accessible: %v", err)
	case !info.IsDir():
		check.Status = HealthStatusUnhealthy
		check.Message = "Managed root is not a directory"
	default:
		check.Status = HealthStatusHealthy
		check.Message = "Managed root accessible"
	}

	check.Duration = time.Since(start)
	return check
}

func (d *Daemon) checkLastRun() HealthCheck {
	start := time.Now()
	check := HealthCheck{Name: "last_run", LastChecked: time.Now()}

	res, lastErr, at := d.lastOutcome()
	switch {
	case at.IsZero():
		check.Status = HealthStatusDegraded
		check.Message = "No reconciliation run completed yet"
	case lastErr != "":
		check.Status = HealthStatusDegraded
		check.Message = "Last run aborted: " + lastErr
	case !res.Converged():
		check.Status = HealthStatusDegraded
		check.Message = "Last run left failures: " + res.Summary()
	default:
		check.Status = HealthStatusHealthy
		check.Message = "Last run converged: " + res.Summary()
	}

	check.Duration = time.Since(start)
	return check
}
