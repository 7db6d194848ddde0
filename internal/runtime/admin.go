package runtime

import (
	"fmt"
	"net/http"
	"runtime"
	"runtime/metrics"
	"strings"
	"sync"
	"time"

	jsoncodec "github.com/drblury/snsbridge/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/snsbridge/internal/runtime/logging"
)

const defaultAdminPort = 8081

// ResourceListing is returned by GET /api/resources.
type ResourceListing struct {
	Topics  []string `json:"topics"`
	Queues  []string `json:"queues"`
	Binding *Binding `json:"binding,omitempty"`
}

// ConsumerStatus describes one loop at the time of the request.
type ConsumerStatus struct {
	QueueURL          string         `json:"queue_url"`
	State             string         `json:"state"`
	InFlightMessageID string         `json:"in_flight_message_id,omitempty"`
	InFlightSince     *time.Time     `json:"in_flight_since,omitempty"`
	ReceiveCount      int            `json:"receive_count,omitempty"`
	Latency           LatencySummary `json:"latency"`
}

// ProcessUsage is a coarse CPU and memory sample of the running process.
type ProcessUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

// ConsumerReport is returned by GET /api/consumers.
type ConsumerReport struct {
	Consumers []ConsumerStatus `json:"consumers"`
	Process   ProcessUsage     `json:"process"`
}

// StartAdminServer registers the admin API on the configured port. The routes
// are served while Consume runs.
func (s *Service) StartAdminServer() {
	if !s.Conf.AdminEnabled {
		return
	}

	port := s.Conf.AdminPort
	if port == 0 {
		port = defaultAdminPort
	}

	s.RegisterHTTPHandler(port, "/api/resources", http.HandlerFunc(s.handleGetResources))
	s.RegisterHTTPHandler(port, "/api/consumers", http.HandlerFunc(s.handleGetConsumers))
}

func (s *Service) handleGetResources(w http.ResponseWriter, r *http.Request) {
	if s.writeCORS(w, r) {
		return
	}

	topics, err := s.transport.ListTopics(r.Context())
	if err != nil {
		s.Logger.Error("Failed to list topics", err, nil)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}
	queues, err := s.transport.ListQueues(r.Context())
	if err != nil {
		s.Logger.Error("Failed to list queues", err, nil)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}

	listing := ResourceListing{Topics: topics, Queues: queues}
	s.bindingMu.Lock()
	if s.binding != nil {
		binding := *s.binding
		listing.Binding = &binding
	}
	s.bindingMu.Unlock()

	s.writeJSON(w, listing)
}

func (s *Service) handleGetConsumers(w http.ResponseWriter, r *http.Request) {
	if s.writeCORS(w, r) {
		return
	}

	loops := s.Loops()
	report := ConsumerReport{
		Consumers: make([]ConsumerStatus, 0, len(loops)),
		Process:   s.usage.Sample(),
	}
	for _, loop := range loops {
		status := ConsumerStatus{
			QueueURL: loop.QueueURL(),
			State:    loop.State().String(),
			Latency:  loop.Latency(),
		}
		if d := loop.InFlight(); d != nil {
			since := d.ReceivedAt
			status.InFlightMessageID = d.MessageID
			status.InFlightSince = &since
			status.ReceiveCount = d.ReceiveCount
		}
		report.Consumers = append(report.Consumers, status)
	}

	s.writeJSON(w, report)
}

func (s *Service) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := jsoncodec.Encode(w, v); err != nil {
		s.Logger.Error("Failed to encode admin response", err, loggingpkg.LogFields{"type": fmt.Sprintf("%T", v)})
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// writeCORS sets the CORS headers for allowed origins and reports whether the
// request was a preflight that is already answered.
func (s *Service) writeCORS(w http.ResponseWriter, r *http.Request) bool {
	if len(s.Conf.AdminCORSAllowedOrigins) > 0 {
		if origin := s.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	return false
}

func (s *Service) allowedOrigin(requestOrigin string) string {
	for _, allowed := range s.Conf.AdminCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}

// usageSampler derives CPU utilisation from the delta between two reads of
// the scheduler CPU counter.
type usageSampler struct {
	mu          sync.Mutex
	sample      []metrics.Sample
	lastCPU     float64
	lastWall    time.Time
	logicalCPUs float64
}

func newUsageSampler() *usageSampler {
	return &usageSampler{
		sample:      []metrics.Sample{{Name: "/sched/cpu:seconds"}},
		logicalCPUs: float64(runtime.NumCPU()),
	}
}

func (u *usageSampler) Sample() ProcessUsage {
	if u == nil {
		return ProcessUsage{}
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	metrics.Read(u.sample)
	now := time.Now()

	var usage ProcessUsage
	if value := u.sample[0].Value; value.Kind() == metrics.KindFloat64 {
		cpu := value.Float64()
		if wall := now.Sub(u.lastWall).Seconds(); !u.lastWall.IsZero() && wall > 0 && u.logicalCPUs > 0 {
			usage.CPUPercent = (cpu - u.lastCPU) / wall / u.logicalCPUs * 100
		}
		u.lastCPU = cpu
	}
	u.lastWall = now

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	usage.MemoryBytes = mem.Alloc
	usage.Goroutines = runtime.NumGoroutine()
	return usage
}
