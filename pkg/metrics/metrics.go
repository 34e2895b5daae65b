// Package metrics exposes the Prometheus registry and handler for the loader.
// All metrics are defined in their respective packages (loader, assembler,
// client, ratelimit) and registered via promauto.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by every package.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the registry's gathering side.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Page Metrics (pkg/loader):
//   - dex_pages_total{outcome} (Counter): page cycles by outcome (loaded, failed, exhausted)
//   - dex_page_duration_seconds (Histogram): listing request to assembled items
//   - dex_pagination_offset (Gauge): current pagination offset
//   - dex_items_assembled_total (Counter): items assembled across all pages
//
// Assembly Metrics (pkg/assembler):
//   - dex_items_dropped_total{reason} (Counter): references dropped by reason
//     (missing_id, record_failed, image_failed, incomplete)
//
// Request Metrics (pkg/client):
//   - dex_http_requests_total{endpoint, status} (Counter): requests by endpoint (list, record, image) and status
//   - dex_http_request_duration_seconds{endpoint} (Histogram): request duration by endpoint
//   - dex_http_errors_total{class} (Counter): errors by class (client, server, rate_limit, network)
//   - dex_http_retries_total (Counter): transport-level retry attempts
//
// Budget Metrics (pkg/ratelimit):
//   - dex_rate_limit_remaining (Gauge): requests left in the upstream window
//   - dex_rate_limit_blocks_total (Counter): requests blocked at critical budget
//   - dex_rate_limit_throttles_total (Counter): requests delayed at low budget
//
// Example Prometheus Queries:
//
//   # Item drop ratio
//   sum(rate(dex_items_dropped_total[5m])) /
//   (sum(rate(dex_items_dropped_total[5m])) + rate(dex_items_assembled_total[5m]))
//
//   # Page failure rate
//   rate(dex_pages_total{outcome="failed"}[5m])
//
//   # P95 image latency
//   histogram_quantile(0.95, rate(dex_http_request_duration_seconds_bucket{endpoint="image"}[5m]))
