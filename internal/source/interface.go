package source

import (
	"context"
	"strings"
	"time"
)

// SplitMarker ends an external data path that should be split into items.
const SplitMarker = "~"

// Item is one named piece of a split external data set.
type Item struct {
	Name    string
	Payload string
}

// Payload is what an ExternalDataProvider returns for a plan.
// Scalar holds the whole data set serialized as text; Items is non-empty
// only for split paths.
type Payload struct {
	Scalar string
	Items  []Item
}

// Split reports whether the payload produces one email per item.
func (p Payload) Split() bool {
	return len(p.Items) > 0
}

// Item returns the item called name.
func (p Payload) Item(name string) (Item, bool) {
	for _, it := range p.Items {
		if it.Name == name {
			return it, true
		}
	}
	return Item{}, false
}

// ExternalDataProvider loads the external data a plan's prompt refers to.
type ExternalDataProvider interface {
	// Load reads path. Errors are configuration failures for the whole job.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - path: plan external data path; a trailing "/~" selects split mode.
	//
	// Returns:
	//   - Payload: scalar text and, in split mode, ordered items.
	//   - error: non-nil if the data cannot be read.
	Load(ctx context.Context, path string) (Payload, error)
}

// CalendarProvider answers whether a plan with an external calendar sends today.
type CalendarProvider interface {
	IsScheduled(ctx context.Context, ref string, day time.Time) (bool, error)
}

// IsSplitPath reports whether path asks for split mode.
func IsSplitPath(path string) bool {
	return strings.HasSuffix(strings.TrimRight(strings.TrimSpace(path), "/"), SplitMarker)
}

// BasePath strips the split marker and surrounding slashes.
func BasePath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.TrimRight(path, "/")
	path = strings.TrimSuffix(path, SplitMarker)
	return strings.Trim(path, "/")
}
