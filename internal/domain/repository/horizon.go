package repository

// Horizon is the forward-looking window a prediction targets.
type Horizon string

const (
	H1d Horizon = "1d"
	H1w Horizon = "1w"
	H1m Horizon = "1m"
)

// IsValidHorizon returns true if h is a supported horizon.
func IsValidHorizon(h Horizon) bool {
	switch h {
	case H1d, H1w, H1m:
		return true
	default:
		return false
	}
}

// DefaultHorizon returns the default prediction horizon.
func DefaultHorizon() Horizon { return H1w }

// NormalizeHorizon converts a raw string to a valid horizon (or default).
func NormalizeHorizon(s string) Horizon {
	if s == "" {
		return DefaultHorizon()
	}
	h := Horizon(s)
	if IsValidHorizon(h) {
		return h
	}
	return DefaultHorizon()
}
