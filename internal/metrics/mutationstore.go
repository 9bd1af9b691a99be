package metrics

import "github.com/yanizio/storex/internal/mutationstore"

// MutationStoreCollector implements mutationstore.Metrics against the
// package's Prometheus counters.
type MutationStoreCollector struct{}

func (MutationStoreCollector) MutationCommitted(op mutationstore.OpKind) {
	MutationsTotal.WithLabelValues(opLabel(op), "committed").Inc()
}

func (MutationStoreCollector) MutationEnqueued(op mutationstore.OpKind) {
	MutationsTotal.WithLabelValues(opLabel(op), "enqueued").Inc()
}

func (MutationStoreCollector) MutationRolledBack(op mutationstore.OpKind) {
	MutationsTotal.WithLabelValues(opLabel(op), "rolled_back").Inc()
	MutationRollbacksTotal.Inc()
}

func (MutationStoreCollector) MutationFailed(op mutationstore.OpKind) {
	MutationsTotal.WithLabelValues(opLabel(op), "failed").Inc()
}

func opLabel(op mutationstore.OpKind) string {
	switch op {
	case mutationstore.Create:
		return "create"
	case mutationstore.Update:
		return "update"
	case mutationstore.Delete:
		return "delete"
	case mutationstore.Upsert:
		return "upsert"
	case mutationstore.Replace:
		return "replace"
	default:
		return "unknown"
	}
}
