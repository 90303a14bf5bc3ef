package engine

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - The (year, month) window a club is scored for
// =============================================================================

// Period is one calendar month. Every activity record, event aggregation
// and reward distribution is keyed by a period.
type Period struct {
	Year  int
	Month time.Month
}

func NewPeriod(year int, month time.Month) Period {
	return Period{Year: year, Month: month}
}

// PeriodOf returns the period containing t (evaluated in UTC).
func PeriodOf(t time.Time) Period {
	t = t.UTC()
	return Period{Year: t.Year(), Month: t.Month()}
}

// MaxYear is the last year that renders as four digits in String.
const MaxYear = 9999

// Validate rejects months outside 1-12 and years outside 1-9999.
func (p Period) Validate() error {
	if p.Year < 1 {
		return &ValidationError{Field: "year", Message: "must be positive"}
	}
	if p.Year > MaxYear {
		return &ValidationError{Field: "year", Message: fmt.Sprintf("must be at most %d", MaxYear)}
	}
	if p.Month < time.January || p.Month > time.December {
		return &ValidationError{Field: "month", Message: "must be between 1 and 12"}
	}
	return nil
}

// Start is the first instant of the month, UTC.
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End is the first instant of the following month (exclusive bound).
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, 0)
}

// Contains returns true if t falls in [Start, End).
func (p Period) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(p.Start()) && t.Before(p.End())
}

func (p Period) Next() Period     { return PeriodOf(p.End()) }
func (p Period) Previous() Period { return PeriodOf(p.Start().AddDate(0, -1, 0)) }

// Before orders periods chronologically.
func (p Period) Before(other Period) bool {
	if p.Year != other.Year {
		return p.Year < other.Year
	}
	return p.Month < other.Month
}

// String renders the period as YYYY-MM.
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// ParsePeriod parses the YYYY-MM form produced by String.
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, &ValidationError{Field: "period", Message: fmt.Sprintf("expected YYYY-MM, got %q", s)}
	}
	return PeriodOf(t), nil
}

// LastN returns the n periods ending at (and including) p, oldest first.
func (p Period) LastN(n int) []Period {
	if n <= 0 {
		return nil
	}
	out := make([]Period, n)
	cur := p
	for i := n - 1; i >= 0; i-- {
		out[i] = cur
		cur = cur.Previous()
	}
	return out
}

// =============================================================================
// RECORD KEY - (club, year, month)
// =============================================================================

// RecordKey is the natural key of a ClubActivityRecord.
type RecordKey struct {
	ClubID ClubID
	Period Period
}

func NewRecordKey(club ClubID, year int, month time.Month) RecordKey {
	return RecordKey{ClubID: club, Period: NewPeriod(year, month)}
}

func (k RecordKey) Validate() error {
	if k.ClubID == "" {
		return &ValidationError{Field: "club_id", Message: "is required"}
	}
	return k.Period.Validate()
}

func (k RecordKey) String() string {
	return string(k.ClubID) + "/" + k.Period.String()
}

// IdempotencyKey is the key the distribution gateway deduplicates on.
// One reward per club per month, no matter how often approval is retried.
func (k RecordKey) IdempotencyKey() string {
	return "club-reward:" + string(k.ClubID) + ":" + k.Period.String()
}
