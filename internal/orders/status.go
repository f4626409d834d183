package orders

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// ParseStatus maps a request value onto the recognized set.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", ErrInvalidStatus
	}
	return st, nil
}

// Stock is touched only when a transition crosses the cancelled boundary:
// entering cancelled credits every line back, leaving cancelled re-debits.
// Moves among {pending, completed} never adjust stock.

func creditsStock(from, to Status) bool {
	return to == StatusCancelled && from != StatusCancelled
}

func debitsStock(from, to Status) bool {
	return from == StatusCancelled && to != StatusCancelled
}
