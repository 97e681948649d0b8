package dispatcher

// Claim results used as metric labels.
const (
	claimOK              = "ok"
	claimLimitReached    = "limit_reached"
	claimPartitionRolled = "partition_rolled"
	claimTooLarge        = "too_large"
)

// MetricsCollector defines metrics operations for a dispatcher and its
// subscriptions.
type MetricsCollector interface {
	IncClaims(dispatcher string, result string)
	IncPartitionRolls(dispatcher string)
	AddPartitionsCleaned(dispatcher string, count int)
	SetPublisherWindow(dispatcher string, bytes int64)
	SetSubscriptions(dispatcher string, count int)
	SetSubscriptionLag(dispatcher string, subscription string, bytes int64)
	AddFragmentsConsumed(dispatcher string, subscription string, result string, count int)
	IncHandlerPanics(dispatcher string, subscription string)
	ObserveBlockPeeked(dispatcher string, subscription string, bytes int)
}

type nopMetrics struct{}

func (nopMetrics) IncClaims(string, string)                         {}
func (nopMetrics) IncPartitionRolls(string)                         {}
func (nopMetrics) AddPartitionsCleaned(string, int)                 {}
func (nopMetrics) SetPublisherWindow(string, int64)                 {}
func (nopMetrics) SetSubscriptions(string, int)                     {}
func (nopMetrics) SetSubscriptionLag(string, string, int64)         {}
func (nopMetrics) AddFragmentsConsumed(string, string, string, int) {}
func (nopMetrics) IncHandlerPanics(string, string)                  {}
func (nopMetrics) ObserveBlockPeeked(string, string, int)           {}
