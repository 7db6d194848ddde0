package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/protobuf/proto"

	configpkg "github.com/drblury/snsbridge/internal/runtime/config"
	errspkg "github.com/drblury/snsbridge/internal/runtime/errors"
	jsoncodec "github.com/drblury/snsbridge/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/snsbridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/snsbridge/internal/runtime/metadata"
	transportpkg "github.com/drblury/snsbridge/internal/runtime/transport"
)

const httpShutdownTimeout = 5 * time.Second

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to get the defaults.
type ServiceDependencies struct {
	TransportFactory transportpkg.Factory
	// Registerer receives the Prometheus collectors. Defaults to the global
	// registerer.
	Registerer prometheus.Registerer
	// Middlewares are appended after the default middleware chain.
	Middlewares               []HandlerMiddleware
	DisableDefaultMiddlewares bool
	// DedupeStore, when set, skips notifications that were already handled.
	DedupeStore DedupeStore
	DedupeTTL   time.Duration
}

// Service wires the configured backend, publisher, metrics and consumer loops.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	transport   transportpkg.Transport
	publisher   *Publisher
	metrics     *Metrics
	middlewares []HandlerMiddleware
	usage       *usageSampler

	bindingMu sync.Mutex
	binding   *Binding

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex

	loopsMu sync.Mutex
	loops   []*ConsumerLoop
}

// NewService validates conf, builds the backend it selects and registers the
// metrics collectors.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.NewConfigValidationError(errors.New("config is required"))
	}
	if log == nil {
		log = loggingpkg.NewNopServiceLogger()
	}
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	log.Info("Creating bridge service", loggingpkg.LogFields{
		"backend": conf.Backend,
		"config":  conf.String(),
	})

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	transport, err := factory.Build(ctx, conf, log)
	if err != nil {
		return nil, fmt.Errorf("build %s transport: %w", conf.Backend, err)
	}

	registerer := deps.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := registerer.(prometheus.Gatherer); ok {
		gatherer = g
	}
	metrics := NewMetrics(registerer)
	if err := metrics.Register(); err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	publisher, err := NewPublisher(transport,
		WithPublisherLogger(log),
		WithPublisherMetrics(metrics),
		WithTopicResolver(transport),
	)
	if err != nil {
		_ = transport.Close()
		return nil, err
	}

	s := &Service{
		Conf:      conf,
		Logger:    log,
		transport: transport,
		publisher: publisher,
		metrics:   metrics,
		usage:     newUsageSampler(),
	}
	s.middlewares = s.buildMiddlewares(deps)

	if conf.MetricsEnabled && conf.MetricsPort > 0 {
		s.RegisterHTTPHandler(conf.MetricsPort, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
		s.RegisterHTTPHandler(conf.MetricsPort, "/metrics/snapshot", http.HandlerFunc(s.serveSnapshot))
	}
	s.StartAdminServer()
	return s, nil
}

func (s *Service) buildMiddlewares(deps ServiceDependencies) []HandlerMiddleware {
	var middlewares []HandlerMiddleware
	if !deps.DisableDefaultMiddlewares {
		middlewares = append(middlewares, DefaultMiddlewares(s.Logger)...)
	}
	if deps.DedupeStore != nil {
		claimTTL := time.Duration(s.Conf.VisibilityTimeoutSeconds) * time.Second
		middlewares = append(middlewares, Deduplicate(deps.DedupeStore, deps.DedupeTTL, s.Logger, WithDedupeClaimTTL(claimTTL)))
	}
	return append(middlewares, deps.Middlewares...)
}

// Transport exposes the backend, for example to list resources.
func (s *Service) Transport() transportpkg.Transport {
	return s.transport
}

func (s *Service) Metrics() *Metrics {
	return s.metrics
}

func (s *Service) Publisher() *Publisher {
	return s.publisher
}

// Provision creates the configured topic and queue and links them. The result
// is cached; later calls return it without touching the backend.
func (s *Service) Provision(ctx context.Context) (Binding, error) {
	s.bindingMu.Lock()
	defer s.bindingMu.Unlock()

	if s.binding != nil {
		return *s.binding, nil
	}

	binding, err := Provision(ctx, s.transport, ProvisionRequest{
		TopicName: s.Conf.TopicName,
		QueueName: s.Conf.QueueName,
		QueueAttributes: transportpkg.QueueAttributes{
			VisibilityTimeoutSeconds: s.Conf.VisibilityTimeoutSeconds,
			RetentionSeconds:         s.Conf.RetentionSeconds,
			DelaySeconds:             s.Conf.DelaySeconds,
		},
		Logger: s.Logger,
	})
	if err != nil {
		return Binding{}, err
	}
	s.binding = &binding
	return binding, nil
}

// Publish sends event to topic, a topic ARN or a bare name. An empty topic
// publishes to the provisioned topic.
func (s *Service) Publish(ctx context.Context, topic string, event any, metadata metadatapkg.Metadata) (string, error) {
	topic, err := s.topicOrDefault(ctx, topic)
	if err != nil {
		return "", err
	}
	return s.publisher.Publish(ctx, topic, event, metadata)
}

// PublishProto is Publish for protobuf events.
func (s *Service) PublishProto(ctx context.Context, topic string, event proto.Message, metadata metadatapkg.Metadata) (string, error) {
	topic, err := s.topicOrDefault(ctx, topic)
	if err != nil {
		return "", err
	}
	return s.publisher.PublishProto(ctx, topic, event, metadata)
}

func (s *Service) topicOrDefault(ctx context.Context, topic string) (string, error) {
	if topic != "" {
		return topic, nil
	}
	if s.Conf.TopicName == "" {
		return "", errspkg.ErrTopicRequired
	}
	binding, err := s.Provision(ctx)
	if err != nil {
		return "", err
	}
	return binding.TopicArn, nil
}

// NewConsumer builds a loop on queueURL using the configured visibility, wait
// and backoff settings and the service middleware chain.
func (s *Service) NewConsumer(queueURL string, handler Handler, opts ...ConsumerOption) (*ConsumerLoop, error) {
	base := []ConsumerOption{
		WithConsumerLogger(s.Logger),
		WithConsumerMetrics(s.metrics),
		WithHandlerMiddleware(s.middlewares...),
	}
	loop, err := NewConsumerLoop(s.transport, ConsumerConfig{
		QueueURL:                 queueURL,
		VisibilityTimeoutSeconds: s.Conf.VisibilityTimeoutSeconds,
		WaitTimeSeconds:          s.Conf.WaitTimeSeconds,
		BackoffInitial:           s.Conf.ReceiveBackoffInitial,
		BackoffMax:               s.Conf.ReceiveBackoffMax,
	}, handler, append(base, opts...)...)
	if err != nil {
		return nil, err
	}

	s.loopsMu.Lock()
	s.loops = append(s.loops, loop)
	s.loopsMu.Unlock()
	return loop, nil
}

// Consume runs one loop per queue until ctx is cancelled. With no queue URLs
// it provisions the configured pair and drains its queue. Metrics endpoints
// are served for the lifetime of the call.
func (s *Service) Consume(ctx context.Context, handler Handler, queueURLs ...string) error {
	if len(queueURLs) == 0 {
		binding, err := s.Provision(ctx)
		if err != nil {
			return err
		}
		queueURLs = []string{binding.QueueURL}
	}

	loops := make([]*ConsumerLoop, 0, len(queueURLs))
	for _, queueURL := range queueURLs {
		loop, err := s.NewConsumer(queueURL, handler)
		if err != nil {
			s.removeLoops(loops...)
			return err
		}
		loops = append(loops, loop)
	}

	stopHTTP := s.startHTTPServers()
	defer stopHTTP()

	var wg sync.WaitGroup
	for _, loop := range loops {
		wg.Add(1)
		go func(loop *ConsumerLoop) {
			defer wg.Done()
			defer s.removeLoops(loop)
			_ = loop.Run(ctx)
		}(loop)
	}
	wg.Wait()
	return ctx.Err()
}

// Loops returns the loops built by this service that have not stopped. A loop
// started by Consume is dropped once its Run returns.
func (s *Service) Loops() []*ConsumerLoop {
	s.loopsMu.Lock()
	defer s.loopsMu.Unlock()
	return append([]*ConsumerLoop(nil), s.loops...)
}

func (s *Service) removeLoops(loops ...*ConsumerLoop) {
	s.loopsMu.Lock()
	defer s.loopsMu.Unlock()
	s.loops = slices.DeleteFunc(s.loops, func(l *ConsumerLoop) bool {
		return slices.Contains(loops, l)
	})
}

// Close releases the backend.
func (s *Service) Close() error {
	return s.transport.Close()
}

func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() func() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	servers := make([]*http.Server, 0, len(s.httpServers))
	for port, mux := range s.httpServers {
		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		servers = append(servers, server)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": server.Addr})
		go func(server *http.Server) {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": server.Addr})
			}
		}(server)
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		for _, server := range servers {
			if err := server.Shutdown(ctx); err != nil {
				s.Logger.Error("Failed to stop HTTP server", err, loggingpkg.LogFields{"address": server.Addr})
			}
		}
	}
}

func (s *Service) serveSnapshot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := jsoncodec.Encode(w, s.metrics.GetSnapshot()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
