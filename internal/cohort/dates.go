package cohort

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/bc-pathway-engine/internal/domain"
)

// ParseRange builds a study range from two user-supplied dates. Any layout dateparse
// recognises is accepted, such as 2020-01-01, 01/31/2020 or 2020-01-01T00:00:00Z.
func ParseRange(from, to string) (domain.DateRange, error) {
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from == "" || to == "" {
		return domain.DateRange{}, domain.NewInvalidDateRange("start and end dates are required")
	}
	start, err := dateparse.ParseAny(from)
	if err != nil {
		return domain.DateRange{}, domain.NewInvalidDateRange("unparseable start date " + from)
	}
	end, err := dateparse.ParseAny(to)
	if err != nil {
		return domain.DateRange{}, domain.NewInvalidDateRange("unparseable end date " + to)
	}
	return domain.NewDateRange(start, end)
}

// ParseDate parses a single user-supplied date and truncates it to the day.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return time.Time{}, domain.NewValidationError("date", "unparseable date", s)
	}
	return domain.Day(t), nil
}
