package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds all application metrics
type Metrics struct {
	// Pipeline metrics
	imagesProcessed sync.Map // input format -> *uint64
	processDuration sync.Map // input format -> *sync.Map(bucket -> *uint64)
	failuresByStage sync.Map // stage -> *uint64
	bytesWritten    uint64
	filesWritten    uint64

	// Watch metrics
	watchEvents uint64

	// Request metrics
	requestsTotal    uint64
	requestsDuration sync.Map // URL path -> *sync.Map(bucket -> *uint64)
	requestsInFlight int64
	requestsByStatus sync.Map // Status code -> *uint64

	// Remote input metrics
	fetchesTotal uint64
	fetchErrors  uint64
}

var (
	globalMetrics = &Metrics{}
	startTime     = time.Now()
)

// Get returns the global metrics instance
func Get() *Metrics {
	return globalMetrics
}

// Reset resets all metrics (for testing)
func Reset() {
	globalMetrics = &Metrics{}
	startTime = time.Now()
}

func incKey(m *sync.Map, key interface{}, n uint64) {
	count, _ := m.LoadOrStore(key, new(uint64))
	atomic.AddUint64(count.(*uint64), n)
}

func loadKey(m *sync.Map, key interface{}) uint64 {
	if v, ok := m.Load(key); ok {
		return atomic.LoadUint64(v.(*uint64))
	}
	return 0
}

func recordBucket(m *sync.Map, key string, d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	val, _ := m.LoadOrStore(key, &sync.Map{})
	incKey(val.(*sync.Map), getBucket(ms), 1)
}

// Pipeline metrics

func (m *Metrics) IncProcessed(format string) {
	incKey(&m.imagesProcessed, format, 1)
}

func (m *Metrics) Processed(format string) uint64 {
	return loadKey(&m.imagesProcessed, format)
}

func (m *Metrics) RecordProcessDuration(format string, d time.Duration) {
	recordBucket(&m.processDuration, format, d)
}

func (m *Metrics) IncFailure(stage string) {
	incKey(&m.failuresByStage, stage, 1)
}

func (m *Metrics) Failures(stage string) uint64 {
	return loadKey(&m.failuresByStage, stage)
}

func (m *Metrics) AddWritten(files int, bytes int64) {
	atomic.AddUint64(&m.filesWritten, uint64(files))
	atomic.AddUint64(&m.bytesWritten, uint64(bytes))
}

func (m *Metrics) BytesWritten() uint64 {
	return atomic.LoadUint64(&m.bytesWritten)
}

// Watch metrics

func (m *Metrics) IncWatchEvent() {
	atomic.AddUint64(&m.watchEvents, 1)
}

// Request metrics

func (m *Metrics) IncRequests() {
	atomic.AddUint64(&m.requestsTotal, 1)
}

func (m *Metrics) IncRequestInFlight() {
	atomic.AddInt64(&m.requestsInFlight, 1)
}

func (m *Metrics) DecRequestInFlight() {
	atomic.AddInt64(&m.requestsInFlight, -1)
}

func (m *Metrics) GetRequestsInFlight() int64 {
	return atomic.LoadInt64(&m.requestsInFlight)
}

func (m *Metrics) RecordRequestDuration(path string, duration time.Duration) {
	recordBucket(&m.requestsDuration, path, duration)
}

func (m *Metrics) RecordRequestStatus(status int) {
	incKey(&m.requestsByStatus, status, 1)
}

// Remote input metrics

func (m *Metrics) IncFetch() {
	atomic.AddUint64(&m.fetchesTotal, 1)
}

func (m *Metrics) IncFetchError() {
	atomic.AddUint64(&m.fetchErrors, 1)
}

// Prometheus exposition

func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		m.Expose(w)
	}
}

// Expose writes every metric in Prometheus text format.
func (m *Metrics) Expose(w io.Writer) {
	writeMetric(w, "roundicon_uptime_seconds", "gauge", time.Since(startTime).Seconds(), nil)

	rangeCounters(&m.imagesProcessed, func(key interface{}, count uint64) {
		writeMetric(w, "roundicon_images_processed_total", "counter", count, map[string]string{
			"format": key.(string),
		})
	})
	rangeHistogram(&m.processDuration, func(format, bucket string, count uint64) {
		writeMetric(w, "roundicon_process_duration_milliseconds_bucket", "counter", count, map[string]string{
			"format": format,
			"le":     bucket,
		})
	})
	rangeCounters(&m.failuresByStage, func(key interface{}, count uint64) {
		writeMetric(w, "roundicon_failures_total", "counter", count, map[string]string{
			"stage": key.(string),
		})
	})
	writeMetric(w, "roundicon_files_written_total", "counter", atomic.LoadUint64(&m.filesWritten), nil)
	writeMetric(w, "roundicon_bytes_written_total", "counter", atomic.LoadUint64(&m.bytesWritten), nil)
	writeMetric(w, "roundicon_watch_events_total", "counter", atomic.LoadUint64(&m.watchEvents), nil)

	writeMetric(w, "roundicon_requests_total", "counter", atomic.LoadUint64(&m.requestsTotal), nil)
	writeMetric(w, "roundicon_requests_in_flight", "gauge", m.GetRequestsInFlight(), nil)
	rangeHistogram(&m.requestsDuration, func(path, bucket string, count uint64) {
		writeMetric(w, "roundicon_request_duration_milliseconds_bucket", "counter", count, map[string]string{
			"path": path,
			"le":   bucket,
		})
	})
	rangeCounters(&m.requestsByStatus, func(key interface{}, count uint64) {
		status := key.(int)
		writeMetric(w, "roundicon_requests_by_status_total", "counter", count, map[string]string{
			"status": http.StatusText(status),
			"code":   fmt.Sprintf("%d", status),
		})
	})

	writeMetric(w, "roundicon_fetches_total", "counter", atomic.LoadUint64(&m.fetchesTotal), nil)
	writeMetric(w, "roundicon_fetch_errors_total", "counter", atomic.LoadUint64(&m.fetchErrors), nil)
}

func rangeCounters(m *sync.Map, fn func(key interface{}, count uint64)) {
	m.Range(func(key, value interface{}) bool {
		fn(key, atomic.LoadUint64(value.(*uint64)))
		return true
	})
}

func rangeHistogram(m *sync.Map, fn func(key, bucket string, count uint64)) {
	m.Range(func(key, value interface{}) bool {
		value.(*sync.Map).Range(func(b, v interface{}) bool {
			fn(key.(string), b.(string), atomic.LoadUint64(v.(*uint64)))
			return true
		})
		return true
	})
}

func writeMetric(w io.Writer, name, metricType string, value interface{}, labels map[string]string) {
	fmt.Fprintf(w, "# TYPE %s %s\n", name, metricType)
	fmt.Fprint(w, name)

	if len(labels) > 0 {
		keys := make([]string, 0, len(labels))
		for k := range labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, len(keys))
		for i, k := range keys {
			pairs[i] = fmt.Sprintf("%s=%q", k, labels[k])
		}
		fmt.Fprintf(w, "{%s}", strings.Join(pairs, ","))
	}

	switch v := value.(type) {
	case int:
		fmt.Fprintf(w, " %d\n", v)
	case int64:
		fmt.Fprintf(w, " %d\n", v)
	case uint64:
		fmt.Fprintf(w, " %d\n", v)
	case float64:
		fmt.Fprintf(w, " %.6f\n", v)
	}
}

func getBucket(ms float64) string {
	buckets := []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}
	for _, b := range buckets {
		if ms <= b {
			return fmt.Sprintf("%.0f", b)
		}
	}
	return "+Inf"
}

// Middleware for automatic request tracking
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := Get()
		m.IncRequests()
		m.IncRequestInFlight()
		defer m.DecRequestInFlight()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordRequestDuration(r.URL.Path, time.Since(start))
		m.RecordRequestStatus(sw.status)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
