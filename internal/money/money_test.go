package money

import "testing"

func TestParseMinor(t *testing.T) {
	cases := []struct {
		input string
		want  int64
		err   error
	}{
		{"500.00", 50000, nil},
		{"500", 50000, nil},
		{"0.5", 50, nil},
		{"0.05", 5, nil},
		{"-12.34", -1234, nil},
		{"+7", 700, nil},
		{" 3.10 ", 310, nil},
		{"", 0, ErrInvalidAmount},
		{"abc", 0, ErrInvalidAmount},
		{"1.2.3", 0, ErrInvalidAmount},
		{"1.234", 0, ErrTooManyDecimals},
	}
	for _, tc := range cases {
		got, err := ParseMinor(tc.input)
		if err != tc.err {
			t.Fatalf("ParseMinor(%q) error = %v, want %v", tc.input, err, tc.err)
		}
		if got != tc.want {
			t.Fatalf("ParseMinor(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
}

func TestFormatMinor(t *testing.T) {
	cases := []struct {
		value int64
		want  string
	}{
		{50000, "500.00"},
		{5, "0.05"},
		{-1234, "-12.34"},
		{0, "0.00"},
	}
	for _, tc := range cases {
		if got := FormatMinor(tc.value); got != tc.want {
			t.Fatalf("FormatMinor(%d) = %q, want %q", tc.value, got, tc.want)
		}
	}
}
