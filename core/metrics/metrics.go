// Package metrics provides abstract metrics interfaces that allow pluggable
// instrumentation backends without coupling the replay engine to any specific
// implementation.
package metrics

// Timer measures the duration of an operation. Call ObserveDuration when
// the operation completes to record the elapsed time.
//
//	defer m.StoreQueryDuration("event_at").ObserveDuration()
type Timer interface {
	ObserveDuration()
}
