package shared

const (
	// DefaultPageLimit applies when a listing does not ask for a limit.
	DefaultPageLimit = 50
	// MaxPageLimit caps any listing.
	MaxPageLimit = 500
)

// Page holds normalised limit/offset values.
type Page struct {
	Limit  int
	Offset int
}

// NewPage clamps limit and offset into the supported window.
func NewPage(limit, offset int) Page {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return Page{Limit: limit, Offset: offset}
}
