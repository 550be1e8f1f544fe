package bucket

import "fmt"

// Bucket widths in seconds.
const (
	Hour int64 = 3600
	Day  int64 = 86400
)

// Window is an inclusive [From, To] range of unix seconds.
type Window struct {
	From int64
	To   int64
}

// For returns the window of the given width containing timestamp.
func For(timestamp, width int64) Window {
	if width <= 0 {
		panic("bucket width must be positive")
	}
	from := timestamp / width * width
	if timestamp < 0 && timestamp%width != 0 {
		from -= width
	}
	return Window{From: from, To: from + width - 1}
}

// Contains reports whether timestamp falls inside the window.
func (w Window) Contains(timestamp int64) bool {
	return timestamp >= w.From && timestamp <= w.To
}

// ID builds the stable bucket identifier for a pool. From and To are joined
// without a separator to stay compatible with ids already in the wild.
func ID(poolID string, w Window) string {
	return fmt.Sprintf("%s-%d%d", poolID, w.From, w.To)
}
