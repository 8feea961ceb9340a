package tds

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FinancialYear is identified by the calendar year in which it starts
// (April 1). FY 2024-25 runs 2024-04-01 .. 2025-03-31.
type FinancialYear int

func ParseFinancialYear(s string) (FinancialYear, error) {
	s = strings.TrimSpace(s)
	start, end, ok := strings.Cut(s, "-")
	if !ok {
		return 0, fmt.Errorf("invalid financial year: %q", s)
	}
	y, err := strconv.Atoi(start)
	if err != nil || len(start) != 4 || y < 1900 || y > 9998 {
		return 0, fmt.Errorf("invalid financial year: %q", s)
	}
	next := y + 1
	switch len(end) {
	case 2:
		if end != fmt.Sprintf("%02d", next%100) {
			return 0, fmt.Errorf("invalid financial year: %q", s)
		}
	case 4:
		if end != strconv.Itoa(next) {
			return 0, fmt.Errorf("invalid financial year: %q", s)
		}
	default:
		return 0, fmt.Errorf("invalid financial year: %q", s)
	}
	return FinancialYear(y), nil
}

func (fy FinancialYear) String() string {
	return fmt.Sprintf("%d-%02d", int(fy), (int(fy)+1)%100)
}

// AssessmentYear is the year following the financial year, in the same format.
func (fy FinancialYear) AssessmentYear() FinancialYear {
	return fy + 1
}

func (fy FinancialYear) Start(loc *time.Location) time.Time {
	return time.Date(int(fy), time.April, 1, 0, 0, 0, 0, loc)
}

// End is the first instant after the financial year.
func (fy FinancialYear) End(loc *time.Location) time.Time {
	return time.Date(int(fy)+1, time.April, 1, 0, 0, 0, 0, loc)
}

func CurrentFinancialYear(now time.Time) FinancialYear {
	if now.Month() >= time.April {
		return FinancialYear(now.Year())
	}
	return FinancialYear(now.Year() - 1)
}

// MonthsElapsed counts started months of fy up to now, clamped to 0..12.
func MonthsElapsed(fy FinancialYear, now time.Time) int {
	start := fy.Start(now.Location())
	if now.Before(start) {
		return 0
	}
	n := (now.Year()-start.Year())*12 + int(now.Month()-start.Month()) + 1
	return min(n, 12)
}

type Window struct {
	Opens  time.Time `json:"opens"`
	Closes time.Time `json:"closes"`
}

// DeclarationWindow is April 1 through February 28 of fy, both days
// inclusive, leap years included. Closes is the first instant after the
// window, which is Feb 29 in a leap year.
func DeclarationWindow(fy FinancialYear, loc *time.Location) Window {
	return Window{
		Opens:  fy.Start(loc),
		Closes: time.Date(int(fy)+1, time.February, 28, 0, 0, 0, 0, loc).AddDate(0, 0, 1),
	}
}

func (w Window) IsOpen(now time.Time) bool {
	return !now.Before(w.Opens) && now.Before(w.Closes)
}

// DaysRemaining counts whole calendar days left in the window including
// today; zero once closed.
func (w Window) DaysRemaining(now time.Time) int {
	if !now.Before(w.Closes) {
		return 0
	}
	if now.Before(w.Opens) {
		now = w.Opens
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, w.Closes.Location())
	return int(w.Closes.Sub(today).Hours()+12) / 24
}
