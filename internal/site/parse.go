package site

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/festwatch/ticketwatch/internal/model"
)

// DateTimeLayout is how the listing renders a date cell joined with one end
// of the time range, e.g. "January 20, 2023 9:00 PM".
const DateTimeLayout = "January 2, 2006 3:04 PM"

const (
	TypePremiere        = "Premiere"
	TypeSecondScreening = "Second Screening"

	soldOutMarker = "(SOLD OUT)"
)

var (
	remainingPattern = regexp.MustCompile(` tickets remaining: (\d+)`)
	pricePattern     = regexp.MustCompile(`\$\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`)
)

// ScreeningID derives the stable identity of a listing row.
func ScreeningID(title, date, timeRange, location string) string {
	return title + " - " + date + " - " + timeRange + " - " + location
}

// ParseTimes parses a date cell and a "start - end" time range in loc. An end
// earlier than the start belongs to the following day.
func ParseTimes(date, timeRange string, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	parts := strings.SplitN(timeRange, " - ", 2)
	if len(parts) != 2 {
		return time.Time{}, time.Time{}, fmt.Errorf("time range %q: want \"start - end\"", timeRange)
	}
	start, err := time.ParseInLocation(DateTimeLayout, date+" "+strings.TrimSpace(parts[0]), loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start time: %w", err)
	}
	end, err := time.ParseInLocation(DateTimeLayout, date+" "+strings.TrimSpace(parts[1]), loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end time: %w", err)
	}
	if end.Before(start) {
		end = end.AddDate(0, 0, 1)
	}
	return start, end, nil
}

// IsParkCity reports whether a location string names a Park City venue.
func IsParkCity(location string) bool {
	return strings.HasSuffix(location, "Park City") || strings.HasSuffix(location, "Sundance Mountain Resort")
}

// IsSaltLakeCity reports whether a location string names a Salt Lake City venue.
func IsSaltLakeCity(location string) bool {
	return strings.HasSuffix(location, "Salt Lake City")
}

// SplitLocation splits "<venue>, <city>" on the last separator. A location
// without one is all venue.
func SplitLocation(location string) (venue, city string) {
	i := strings.LastIndex(location, ", ")
	if i < 0 {
		return location, ""
	}
	return location[:i], location[i+2:]
}

// NewScreening builds a listing record from the four raw cells.
func NewScreening(title, date, timeRange, location string, loc *time.Location, now time.Time) (model.Screening, error) {
	start, end, err := ParseTimes(date, timeRange, loc)
	if err != nil {
		return model.Screening{}, fmt.Errorf("screening %q: %w", title, err)
	}
	return model.Screening{
		ID:               ScreeningID(title, date, timeRange, location),
		Title:            title,
		DateString:       date,
		TimeRangeString:  timeRange,
		StartTime:        start,
		EndTime:          end,
		Location:         location,
		IsInParkCity:     IsParkCity(location),
		IsInSaltLakeCity: IsSaltLakeCity(location),
		UpdatedAt:        now,
	}, nil
}

// ScreeningType strips the surrounding parentheses the listing puts around
// the type label, e.g. "(Premiere)".
func ScreeningType(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "(") && strings.HasSuffix(raw, ")") && len(raw) >= 2 {
		return raw[1 : len(raw)-1]
	}
	return raw
}

// NewDetail classifies a screening type label.
func NewDetail(screeningType string, now time.Time) model.ScreeningDetail {
	return model.ScreeningDetail{
		ScreeningType:     screeningType,
		IsPremiere:        screeningType == TypePremiere,
		IsSecondScreening: screeningType == TypeSecondScreening,
		UpdatedAt:         now,
	}
}

// SoldOut reports whether a ticket type line carries the sold out marker.
func SoldOut(ticketType string) bool {
	return strings.HasSuffix(strings.TrimSpace(ticketType), soldOutMarker)
}

// ParseRemaining extracts the remaining ticket count from the message shown
// when an order cannot be fulfilled.
func ParseRemaining(message string) (int, bool) {
	m := remainingPattern.FindStringSubmatch(message)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// ParsePrice reads the total from the buy button label, "Buy ($54)", in cents.
func ParsePrice(label string) (int64, error) {
	m := pricePattern.FindStringSubmatch(label)
	if m == nil {
		return 0, fmt.Errorf("no price in %q", label)
	}
	dollars, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("price %q: %w", label, err)
	}
	return int64(math.Round(dollars * 100)), nil
}
