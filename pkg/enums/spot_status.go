package enums

import "fmt"

// SpotStatus is the single point of contention for spot allocation.
type SpotStatus string

const (
	SpotStatusAvailable SpotStatus = "A"
	SpotStatusOccupied  SpotStatus = "O"
)

var validSpotStatuses = []SpotStatus{
	SpotStatusAvailable,
	SpotStatusOccupied,
}

// String implements fmt.Stringer.
func (s SpotStatus) String() string {
	return string(s)
}

// Label returns the human readable form used in API payloads.
func (s SpotStatus) Label() string {
	switch s {
	case SpotStatusAvailable:
		return "available"
	case SpotStatusOccupied:
		return "occupied"
	default:
		return "unknown"
	}
}

// IsValid reports whether the value is a known SpotStatus.
func (s SpotStatus) IsValid() bool {
	for _, candidate := range validSpotStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSpotStatus converts raw input into a SpotStatus.
func ParseSpotStatus(value string) (SpotStatus, error) {
	for _, candidate := range validSpotStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid spot status %q", value)
}
