package metrics

// PageStoreCollector implements pagestore.Metrics against the package's
// Prometheus gauge.
type PageStoreCollector struct{}

func (PageStoreCollector) PageSize(namespace string, size int) {
	PageSize.WithLabelValues(namespace).Set(float64(size))
}
