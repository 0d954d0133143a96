package domain

// FetchResult reports the state of one per-id request. Exactly one of Data or
// Err is set once the request has settled; both are empty while IsLoading.
type FetchResult[T any] struct {
	ID        int
	Data      *T
	IsLoading bool
	Err       error
}

// PopulationResult is the fetch state of one prefecture's population series.
type PopulationResult = FetchResult[PopulationSeries]
