package game

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestListingFee(t *testing.T) {
	tests := []struct {
		price int64
		want  int64
	}{
		{price: 1, want: MinListingFee},
		{price: 500, want: 100},
		{price: 2_000, want: 100},
		{price: 2_010, want: 101}, // 100.5 rounds up
		{price: 10_000, want: 500},
	}
	for _, tc := range tests {
		if got := ListingFee(tc.price); got != tc.want {
			t.Fatalf("price=%d got=%d want=%d", tc.price, got, tc.want)
		}
	}
}

func TestTransactionFee(t *testing.T) {
	tests := []struct {
		price int64
		want  int64
	}{
		{price: 500, want: 50},
		{price: 2_500, want: 50},
		{price: 10_000, want: 200},
		{price: 12_345, want: 247},
	}
	for _, tc := range tests {
		if got := TransactionFee(tc.price); got != tc.want {
			t.Fatalf("price=%d got=%d want=%d", tc.price, got, tc.want)
		}
	}
}

func TestCancelRefund(t *testing.T) {
	if got := CancelRefund(100); got != 50 {
		t.Fatalf("got %d want 50", got)
	}
	if got := CancelRefund(101); got != 51 {
		t.Fatalf("half should round away from zero, got %d", got)
	}
	if got := CancelRefund(0); got != 0 {
		t.Fatalf("got %d want 0", got)
	}
}

func TestWeekStart(t *testing.T) {
	monday := time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)
	for _, in := range []time.Time{
		monday,
		time.Date(2026, 10, 16, 19, 30, 0, 0, time.UTC),
		time.Date(2026, 10, 18, 23, 59, 59, 0, time.UTC),
	} {
		if got := WeekStart(in); !got.Equal(monday) {
			t.Fatalf("WeekStart(%s) = %s, want %s", in, got, monday)
		}
	}
	// Sunday belongs to the week that started six days earlier, across a year boundary.
	if got := WeekStart(time.Date(2027, 1, 3, 12, 0, 0, 0, time.UTC)); !got.Equal(time.Date(2026, 12, 28, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected week start %s", got)
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		want Code
	}{
		{nil, CodeOK},
		{fmt.Errorf("wrap: %w", ErrInsufficientFunds), CodeInsufficientFunds},
		{ErrSelfTrade, CodeSelfTrade},
		{fmt.Errorf("%w: listing x", ErrNotFound), CodeNotFound},
		{ErrTxConflict, CodeConflict},
		{errors.New("boom"), CodeInternal},
	}
	for _, tc := range tests {
		if got := CodeOf(tc.err); got != tc.want {
			t.Fatalf("CodeOf(%v) = %q want %q", tc.err, got, tc.want)
		}
	}
}

func TestResultOf(t *testing.T) {
	ok := ResultOf(42, nil)
	if !ok.Success || ok.Data != 42 || ok.Code != CodeOK {
		t.Fatalf("unexpected ok result: %+v", ok)
	}
	failed := ResultOf(0, fmt.Errorf("%w: nope", ErrUnauthorized))
	if failed.Success || failed.Code != CodeUnauthorized || failed.Error == "" {
		t.Fatalf("unexpected failed result: %+v", failed)
	}
}

func TestValidateListing(t *testing.T) {
	if err := ValidateListingType("weapon"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if err := ValidateListingType(ListingIntel); err != nil {
		t.Fatalf("intel should be valid: %v", err)
	}
	if err := ValidateListingText("   ", ""); err == nil {
		t.Fatalf("expected blank title to fail")
	}
	long := make([]byte, MaxListingTitleLen+1)
	for i := range long {
		long[i] = 'x'
	}
	if err := ValidateListingText(string(long), ""); err == nil {
		t.Fatalf("expected long title to fail")
	}
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("0", "18", "fri")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s != (Schedule{Minute: 0, Hour: 18, Weekday: int(time.Friday)}) {
		t.Fatalf("unexpected schedule %+v", s)
	}
	if s.String() != "0 18 fri" {
		t.Fatalf("unexpected string %q", s.String())
	}

	s, err = ParseSchedule("*", "*", "Saturday")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.Minute != Any || s.Hour != Any || s.Weekday != int(time.Saturday) {
		t.Fatalf("unexpected schedule %+v", s)
	}

	for _, bad := range [][3]string{{"60", "*", "*"}, {"*", "24", "*"}, {"*", "*", "7"}, {"x", "*", "*"}} {
		if _, err := ParseSchedule(bad[0], bad[1], bad[2]); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected %v to fail, got %v", bad, err)
		}
	}
}

func TestScheduleMatches(t *testing.T) {
	fri18 := Schedule{Minute: 0, Hour: 18, Weekday: int(time.Friday)}
	at := func(day, hour, minute int) time.Time {
		return time.Date(2026, 10, day, hour, minute, 0, 0, time.UTC)
	}
	if !fri18.Matches(at(16, 18, 0)) {
		t.Fatalf("friday 18:00 should match")
	}
	if fri18.Matches(at(16, 18, 1)) || fri18.Matches(at(17, 18, 0)) || fri18.Matches(at(16, 17, 0)) {
		t.Fatalf("off-slot times should not match")
	}
	every := Schedule{Minute: Any, Hour: Any, Weekday: Any}
	if !every.Matches(at(13, 3, 47)) {
		t.Fatalf("wildcard schedule should match any minute")
	}
}

func TestModifierSet(t *testing.T) {
	if _, err := NewModifier("gravity", "mul", 2); err == nil {
		t.Fatalf("expected unknown key to fail")
	}
	if _, err := NewModifier("xp_gain", "pow", 2); err == nil {
		t.Fatalf("expected unknown op to fail")
	}

	double, _ := NewModifier("business_income", "mul", 2)
	triple, _ := NewModifier("business_income", "mul", 3)
	plus, _ := NewModifier("energy_regen", "add", 5)

	set := ModifierSet{}
	set.Merge([]Modifier{double, plus})
	set.Merge([]Modifier{triple})

	if got := set.Apply(ModBusinessIncome, 100); got != 300 {
		t.Fatalf("later modifier should override, got %v", got)
	}
	if got := set.Apply(ModEnergyRegen, 5); got != 10 {
		t.Fatalf("got %v want 10", got)
	}
	if got := set.Apply(ModHeatDecay, 5); got != 5 {
		t.Fatalf("absent modifier should pass through, got %v", got)
	}
}
