package metrics

import (
	"time"

	"github.com/nmdm/nmdm/internal/observability"
)

// Application-level metrics following Prometheus conventions
const (
	OperationsTotal       = "app_operations_total"
	OperationsErrorsTotal = "app_operations_errors_total"

	ServerStartTime = "app_server_start_time_seconds"
	ServerUptime    = "app_server_uptime_seconds"
)

// RecordOperation records a control-plane operation with status
func RecordOperation(operation string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	counter(OperationsTotal, 1, map[string]string{
		"operation": operation,
		"status":    status,
	})
}

// RecordOperationError records the error code of a failed operation
func RecordOperationError(operation string, errorType string) {
	counter(OperationsErrorsTotal, 1, map[string]string{
		"operation":  operation,
		"error_type": errorType,
	})
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(t time.Time) {
	gauge(ServerStartTime, float64(t.Unix()), nil)
}

// SetServerUptime records the server uptime in seconds
func SetServerUptime(d time.Duration) {
	gauge(ServerUptime, d.Seconds(), nil)
}

func counter(name string, value float64, labels map[string]string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(name, value, labels)
	}
}

func gauge(name string, value float64, labels map[string]string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(name, value, labels)
	}
}
