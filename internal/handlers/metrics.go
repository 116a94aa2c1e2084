package handlers

import (
	"net/http"
	"sync/atomic"

	"github.com/pplxhelper/pplxhelper/internal/web"
)

var (
	metricRequestsTotal   uint64
	metricRequestsFailed  uint64
	metricRequestLatencyN uint64
	metricRateLimited     uint64
)

func snapshotMetrics() map[string]any {
	total := atomic.LoadUint64(&metricRequestsTotal)
	failed := atomic.LoadUint64(&metricRequestsFailed)
	latencySum := atomic.LoadUint64(&metricRequestLatencyN)
	avgMs := 0.0
	if total > 0 {
		avgMs = float64(latencySum) / float64(total)
	}
	return map[string]any{
		"requestsTotal":  total,
		"requestsFailed": failed,
		"avgLatencyMs":   avgMs,
		"rateLimited":    atomic.LoadUint64(&metricRateLimited),
	}
}

func (h *Handlers) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	m := snapshotMetrics()
	if h.Hub != nil {
		m["eventSubscribers"] = h.Hub.Subscribers()
		m["eventsDropped"] = h.Hub.Dropped()
	}
	if h.Deliveries != nil {
		m["pendingDeliveries"] = h.Deliveries.Pending()
	}
	web.JSON(w, http.StatusOK, m)
}
