package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dexos_orders_submitted_total",
		Help: "Orders accepted by the matching engine",
	}, []string{"pair", "side"})

	TradesEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dexos_trades_emitted_total",
		Help: "Trades produced by matching",
	}, []string{"pair"})

	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dexos_orders_rejected_total",
		Help: "Orders rejected at validation",
	}, []string{"pair"})

	Swaps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dexos_amm_swaps_total",
		Help: "AMM swaps by pool family",
	}, []string{"pool", "pair"})

	RouteQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dexos_route_queries_total",
		Help: "Router best-path queries",
	}, []string{"result"})

	OracleObservations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dexos_oracle_observations_total",
		Help: "Oracle samples ingested, deduplicated",
	}, []string{"pair", "source"})
)

func Handler() http.Handler {
	h := promhttp.Handler()
	return h
}
