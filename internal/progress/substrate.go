package progress

// Substrate is the synchronous string-keyed storage primitive the Store
// persists records into. Implementations must treat a missing key as
// (zero, false, nil) from Get and as a no-op from Remove.
type Substrate interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
	Keys(prefix string) ([]string, error)
}
