package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	Namespace = "enclave"

	LabelEntry   = "entry"
	LabelOutcome = "outcome"
	LabelResult  = "result"
	LabelSlot    = "slot"
	LabelOp      = "op"

	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "contract_executions_total",
			Help:      "Contract executions by entry point and outcome",
		},
		[]string{LabelEntry, LabelOutcome},
	)

	GasUsed = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "contract_gas_used",
			Help:      "Gas consumed per contract execution",
			Buckets:   prometheus.ExponentialBuckets(1000, 4, 10),
		},
		[]string{LabelEntry},
	)

	SeedExchangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "seed_exchanges_total",
			Help:      "Seed encryptions and decryptions by result",
		},
		[]string{LabelOp, LabelResult},
	)

	SealOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "keychain_seal_operations_total",
			Help:      "Keychain seal and unseal operations by slot and result",
		},
		[]string{LabelOp, LabelSlot, LabelResult},
	)

	StateOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "state_operations_total",
			Help:      "Encrypted state operations by kind and result",
		},
		[]string{LabelOp, LabelResult},
	)

	OOMRecoveriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "oom_recoveries_total",
			Help:      "Allocation failures converted into a controlled abort",
		},
	)

	SafetyBufferChunks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "safety_buffer_chunks",
			Help:      "Chunks currently held by the safety buffer",
		},
	)
)

func Result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}

func RecordExecution(entry, outcome string, gasUsed uint64) {
	ExecutionsTotal.WithLabelValues(entry, outcome).Inc()
	GasUsed.WithLabelValues(entry).Observe(float64(gasUsed))
}

func RecordSeedExchange(op string, err error) {
	SeedExchangesTotal.WithLabelValues(op, Result(err)).Inc()
}

func RecordSeal(op, slot string, err error) {
	SealOperationsTotal.WithLabelValues(op, slot, Result(err)).Inc()
}

func RecordStateOperation(op string, err error) {
	StateOperationsTotal.WithLabelValues(op, Result(err)).Inc()
}
