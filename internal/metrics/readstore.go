package metrics

// ReadStoreCollector implements readstore.Metrics against the package's
// Prometheus counters, without readstore needing to import prometheus
// itself.
type ReadStoreCollector struct{}

func (ReadStoreCollector) CacheHit()         { CacheHitsTotal.Inc() }
func (ReadStoreCollector) CacheMiss()        { CacheMissesTotal.Inc() }
func (ReadStoreCollector) FetchStarted()     { FetchesStartedTotal.Inc() }
func (ReadStoreCollector) FetchSucceeded()   { FetchesSucceededTotal.Inc() }
func (ReadStoreCollector) FetchFailed()      { FetchesFailedTotal.Inc() }
func (ReadStoreCollector) FetchNotModified() { FetchesNotModifiedTotal.Inc() }
func (ReadStoreCollector) SoTWrite()         { SoTWritesTotal.Inc() }
