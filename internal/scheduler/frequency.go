package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xsync/xsync/internal/models"
)

var frequencyUnits = map[string]time.Duration{
	"second":  time.Second,
	"seconds": time.Second,
	"minute":  time.Minute,
	"minutes": time.Minute,
	"hour":    time.Hour,
	"hours":   time.Hour,
	"day":     24 * time.Hour,
	"days":    24 * time.Hour,
	"week":    7 * 24 * time.Hour,
	"weeks":   7 * 24 * time.Hour,
}

// ParseFrequency converts "<positive integer> <unit>" (e.g. "5 minutes") into
// an interval. Units are matched case-insensitively.
func ParseFrequency(spec string) (time.Duration, error) {
	parts := strings.Fields(spec)
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: %q must be in the form '<number> <unit>'", models.ErrInvalidFrequency, spec)
	}

	value, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", models.ErrInvalidFrequency, parts[0])
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: %d must be positive", models.ErrInvalidFrequency, value)
	}

	unit, ok := frequencyUnits[strings.ToLower(parts[1])]
	if !ok {
		return 0, fmt.Errorf("%w: unsupported unit %q", models.ErrInvalidFrequency, parts[1])
	}

	if int64(value) > int64(1<<62)/int64(unit) {
		return 0, fmt.Errorf("%w: %q is too large", models.ErrInvalidFrequency, spec)
	}
	return time.Duration(value) * unit, nil
}
