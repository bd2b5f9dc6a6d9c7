package watcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "poolescrow"

// Metrics are the counters the watcher keeps about escrow activity.
type Metrics struct {
	events       *prometheus.CounterVec
	contributed  prometheus.Counter
	disbursed    prometheus.Counter
	refunded     prometheus.Counter
	lastBlock    prometheus.Gauge
	decodeErrors prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Escrow events observed, by event name.",
		}, []string{"event"}),
		contributed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contributed_wei_total",
			Help:      "Wei contributed to all pools.",
		}),
		disbursed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disbursed_wei_total",
			Help:      "Wei paid out to beneficiaries.",
		}),
		refunded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refunded_wei_total",
			Help:      "Wei refunded to contributors.",
		}),
		lastBlock: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_block",
			Help:      "Last block scanned for escrow events.",
		}),
		decodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Logs at the escrow address that could not be decoded.",
		}),
	}
}

// Serve exposes the metrics gathered by g on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server stopped: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to shut down metrics server: %w", err)
		}
		return nil
	}
}

func weiFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
