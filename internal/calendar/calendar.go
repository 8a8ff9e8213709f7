package calendar

import (
	"fmt"
	"time"
)

// DayFormat — канонический ключ дня, всегда в бизнес-зоне.
const DayFormat = "2006-01-02"

// Calendar отдаёт границы бизнес-дня. Остальной код системное время не трогает.
type Calendar interface {
	Today() string
	StartOfDay(day string) (int64, error) // epoch millis
	EndOfDay(day string) (int64, error)   // epoch millis, последняя миллисекунда дня
}

type Business struct {
	loc *time.Location
	now func() time.Time
}

func NewBusiness(tz string) (*Business, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load business timezone %q: %w", tz, err)
	}
	return &Business{loc: loc, now: time.Now}, nil
}

func (b *Business) Today() string {
	return b.now().In(b.loc).Format(DayFormat)
}

func (b *Business) StartOfDay(day string) (int64, error) {
	t, err := time.ParseInLocation(DayFormat, day, b.loc)
	if err != nil {
		return 0, fmt.Errorf("bad day %q: %w", day, err)
	}
	return t.UnixMilli(), nil
}

func (b *Business) EndOfDay(day string) (int64, error) {
	start, err := b.StartOfDay(day)
	if err != nil {
		return 0, err
	}
	return start + 24*time.Hour.Milliseconds() - 1, nil
}

// Fixed — календарь с замороженным "сегодня" для тестов.
type Fixed struct {
	Day string
	Loc *time.Location
}

func NewFixed(day string) *Fixed {
	return &Fixed{Day: day, Loc: time.FixedZone("UTC+8", 8*60*60)}
}

func (f *Fixed) Today() string { return f.Day }

func (f *Fixed) StartOfDay(day string) (int64, error) {
	t, err := time.ParseInLocation(DayFormat, day, f.Loc)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

func (f *Fixed) EndOfDay(day string) (int64, error) {
	start, err := f.StartOfDay(day)
	if err != nil {
		return 0, err
	}
	return start + 24*time.Hour.Milliseconds() - 1, nil
}
