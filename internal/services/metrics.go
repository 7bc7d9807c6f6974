package rewards

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// метрики

var (
	rewardsGranted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_granted_total",
			Help: "Кол-во выданных наград",
		},
		[]string{"source"},
	)

	rewardsUsed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rewards_used_total",
			Help: "Кол-во использованных наград",
		},
	)

	grantDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_level_decisions_total",
			Help: "Решения по наградам уровней",
		},
		[]string{"outcome"},
	)

	campaignsRewarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rewards_campaign_grants_total",
			Help: "Кол-во выдач наград кампаний",
		},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rewards_operation_duration_seconds",
			Help:    "Продолжительность операций с записью покупателя",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation", "status"},
	)
)

func observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	operationDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}
