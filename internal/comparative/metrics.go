package comparative

import "time"

// Count holds event counts per window.
type Count struct {
	Previous int `json:"previous"`
	Next     int `json:"next"`
}

// Add returns the element-wise sum of two counts.
func (c Count) Add(other Count) Count {
	return Count{Previous: c.Previous + other.Previous, Next: c.Next + other.Next}
}

// IsZero reports whether both windows are empty.
func (c Count) IsZero() bool {
	return c.Previous == 0 && c.Next == 0
}

// Durations holds raw duration samples in seconds per window.
type Durations struct {
	Previous []float64 `json:"previous"`
	Next     []float64 `json:"next"`
}

// Append merges other's samples after the receiver's, window by window.
func (d Durations) Append(other Durations) Durations {
	return Durations{
		Previous: append(append([]float64{}, d.Previous...), other.Previous...),
		Next:     append(append([]float64{}, d.Next...), other.Next...),
	}
}

// Timestamp selects the timestamp field of an event. A zero time means the field is missing.
type Timestamp[E any] func(E) time.Time

// Counts partitions events by the window their timestamp falls in. Events outside both windows
// or with a missing timestamp are ignored.
func Counts[E any](events []E, field Timestamp[E], period Period) Count {
	var result Count
	for _, event := range events {
		switch period.Bucket(field(event)) {
		case BucketPrevious:
			result.Previous++
		case BucketNext:
			result.Next++
		}
	}
	return result
}

// DurationsOf computes end-start in seconds for every event whose end timestamp falls in a
// window. Events with a missing end or start are excluded, and so are samples where end precedes
// start.
func DurationsOf[E any](events []E, end, start Timestamp[E], period Period) Durations {
	result := Durations{Previous: []float64{}, Next: []float64{}}
	for _, event := range events {
		endAt := end(event)
		bucket := period.Bucket(endAt)
		if bucket == BucketNone {
			continue
		}
		startAt := start(event)
		if startAt.IsZero() || endAt.Before(startAt) {
			continue
		}
		seconds := endAt.Sub(startAt).Seconds()
		if bucket == BucketPrevious {
			result.Previous = append(result.Previous, seconds)
		} else {
			result.Next = append(result.Next, seconds)
		}
	}
	return result
}
