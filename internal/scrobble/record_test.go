package scrobble

import (
	"testing"
	"time"
)

func TestWeekStart(t *testing.T) {
	monday := time.Date(2023, 10, 23, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			name: "exact week start",
			in:   monday,
			want: monday,
		},
		{
			name: "one second before week start",
			in:   monday.Add(-time.Second),
			want: monday.Add(-Week),
		},
		{
			name: "midweek",
			in:   time.Date(2023, 10, 25, 13, 45, 0, 0, time.UTC),
			want: monday,
		},
		{
			name: "sunday night",
			in:   time.Date(2023, 10, 29, 23, 59, 59, 0, time.UTC),
			want: monday,
		},
		{
			name: "non-utc input normalised",
			in:   time.Date(2023, 10, 23, 1, 0, 0, 0, time.FixedZone("CEST", 2*60*60)),
			want: monday.Add(-Week),
		},
		{
			name: "across month boundary",
			in:   time.Date(2023, 11, 1, 8, 0, 0, 0, time.UTC),
			want: time.Date(2023, 10, 30, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WeekStart(tt.in)
			if !got.Equal(tt.want) {
				t.Errorf("WeekStart(%v) = %v, want %v", tt.in, got, tt.want)
			}
			if got.Weekday() != time.Monday {
				t.Errorf("WeekStart returned %v, not a Monday", got.Weekday())
			}
		})
	}
}

func TestRecordValid(t *testing.T) {
	if (Record{}).Valid() {
		t.Error("zero record should not be valid")
	}
	if New("a", "t", "", 0).Valid() {
		t.Error("record at epoch 0 should not be valid")
	}
	if !New("a", "t", "", 1698055200).Valid() {
		t.Error("record with positive timestamp should be valid")
	}
}

func TestSortByTime(t *testing.T) {
	records := []Record{
		New("c", "c", "", 300),
		New("a", "a", "", 100),
		New("b", "b", "", 200),
	}

	SortByTime(records)

	for i, want := range []int64{100, 200, 300} {
		if records[i].Unix() != want {
			t.Errorf("records[%d] = %d, want %d", i, records[i].Unix(), want)
		}
	}
}
