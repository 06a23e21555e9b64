package snapshot

// Outcome carries a value that may have been produced by falling back to a
// default after a partial failure. A degraded outcome is still usable; Cause
// records why the fallback happened.
type Outcome[T any] struct {
	Value T
	Cause error
}

func Ok[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v}
}

func Degraded[T any](fallback T, cause error) Outcome[T] {
	return Outcome[T]{Value: fallback, Cause: cause}
}

func (o Outcome[T]) IsDegraded() bool {
	return o.Cause != nil
}

// Values strips outcomes down to their values, preserving order.
func Values[T any](outcomes []Outcome[T]) []T {
	values := make([]T, len(outcomes))
	for i, o := range outcomes {
		values[i] = o.Value
	}
	return values
}
