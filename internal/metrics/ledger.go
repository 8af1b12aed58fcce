package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		paymentsTotal,
		paymentsAmountTotal,
		cancellationsTotal,
		paymentsPruned,
	)
}

var (
	paymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billpay_payments_total",
			Help: "Pay attempts by result (ok/no_debt/insufficient_funds/error).",
		},
		[]string{"result"},
	)

	paymentsAmountTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "billpay_payments_amount_total",
			Help: "Sum of debt amounts settled by successful payments.",
		},
	)

	cancellationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billpay_cancellations_total",
			Help: "Cancel attempts by result (ok/not_found/forbidden/expired/error).",
		},
		[]string{"result"},
	)

	paymentsPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "billpay_payments_pruned_total",
			Help: "Payment records removed after the retention period.",
		},
	)
)

func IncPayment(result string) {
	paymentsTotal.WithLabelValues(norm(result)).Inc()
}

func AddSettled(amount int64) {
	if amount > 0 {
		paymentsAmountTotal.Add(float64(amount))
	}
}

func IncCancellation(result string) {
	cancellationsTotal.WithLabelValues(norm(result)).Inc()
}

func AddPruned(n int) {
	paymentsPruned.Add(float64(n))
}
