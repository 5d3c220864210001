package metrics

const (
	// common prefix for all metric names
	prefix = "sjf_scheduler_"

	// Prometheus Labels
	partitionLabel = "partition"
	outcomeLabel   = "outcome"
	stateLabel     = "state"
	reasonLabel    = "reason"
)
