package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by route pattern and status class",
	}, []string{"method", "route", "status"})

	HistoryPageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "history_page_duration_seconds",
		Help:    "Time spent serving one page of message history",
		Buckets: prometheus.DefBuckets,
	}, []string{"cursor", "status"})

	MessagesCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "messages_created_total",
		Help: "Messages stored by the server",
	})

	WSClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_clients",
		Help: "Currently connected WebSocket clients",
	})

	WSDroppedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_dropped_messages_total",
		Help: "Dispatches dropped because a client send buffer was full",
	})

	FeedFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_fetches_total",
		Help: "History fetches issued by the feed engine",
	}, []string{"kind", "status"})

	FeedEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_evictions_total",
		Help: "Eviction evaluations that exceeded the buffer cap",
	}, []string{"result"})

	FeedEvictedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_evicted_messages_total",
		Help: "Messages dropped from feed buffers by eviction",
	})
)

// MustRegisterServer registers the collectors the chat server updates.
func MustRegisterServer(registerer prometheus.Registerer) {
	registerer.MustRegister(
		HTTPRequests,
		HistoryPageDuration,
		MessagesCreated,
		WSClients,
		WSDroppedMessages,
	)
}

// MustRegisterFeed registers the collectors the feed engine updates. Only
// processes that run a feed.Manager should expose them.
func MustRegisterFeed(registerer prometheus.Registerer) {
	registerer.MustRegister(
		FeedFetches,
		FeedEvictions,
		FeedEvictedMessages,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves a private registry, as the viewer does.
func HandlerFor(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveRequest buckets status into classes like "2xx" to bound cardinality.
func ObserveRequest(method, route string, status int) {
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status/100)+"xx").Inc()
}

func ObserveHistoryPage(hasCursor bool, start time.Time, err error) {
	cursor := "head"
	if hasCursor {
		cursor = "before"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	HistoryPageDuration.WithLabelValues(cursor, status).Observe(time.Since(start).Seconds())
}

func ObserveFetch(kind string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	FeedFetches.WithLabelValues(kind, status).Inc()
}

func ObserveEviction(skipped bool, removed int) {
	if skipped {
		FeedEvictions.WithLabelValues("skipped").Inc()
		return
	}
	FeedEvictions.WithLabelValues("trimmed").Inc()
	FeedEvictedMessages.Add(float64(removed))
}
