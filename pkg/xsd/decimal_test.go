package xsd

import "testing"

func TestDecimal_RoundTripString(t *testing.T) {
	cases := []string{"0.0", "1.5", "-1.5", "100.0", "0.000000000000000001", "-0.1"}
	for _, s := range cases {
		d, err := ParseDecimal(s)
		if err != nil {
			t.Fatalf("ParseDecimal(%q) error: %v", s, err)
		}
		if got := d.String(); got != s {
			t.Errorf("ParseDecimal(%q).String() = %q, want %q", s, got, s)
		}
	}
}

func TestDecimal_TrailingZerosNormalized(t *testing.T) {
	d, err := ParseDecimal("1.50000")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := d.String(), "1.5"; got != want {
		t.Errorf("String() = %q, want %q (trailing zeros must canonicalize away)", got, want)
	}
}

func TestDecimal_Arithmetic(t *testing.T) {
	a, _ := ParseDecimal("1.5")
	b, _ := ParseDecimal("2.25")
	if got, want := a.Add(b).String(), "3.75"; got != want {
		t.Errorf("1.5+2.25 = %q, want %q", got, want)
	}
	if got, want := b.Sub(a).String(), "0.75"; got != want {
		t.Errorf("2.25-1.5 = %q, want %q", got, want)
	}
	if got, want := a.Mul(DecimalFromInt64(2)).String(), "3.0"; got != want {
		t.Errorf("1.5*2 = %q, want %q", got, want)
	}
}

func TestDecimal_DivisionByZero(t *testing.T) {
	a, _ := ParseDecimal("1.0")
	zero, _ := ParseDecimal("0.0")
	if _, err := a.Div(zero); err == nil {
		t.Fatal("expected division by zero to error for xsd:decimal (no infinities in its value space)")
	}
}

func TestDecimal_Cmp(t *testing.T) {
	a, _ := ParseDecimal("1.0")
	b, _ := ParseDecimal("2.0")
	if a.Cmp(b) >= 0 {
		t.Error("1.0 must compare less than 2.0")
	}
	if b.Cmp(a) <= 0 {
		t.Error("2.0 must compare greater than 1.0")
	}
	if a.Cmp(a) != 0 {
		t.Error("a value must compare equal to itself")
	}
}

func TestDecimal_Bytes128RoundTrip(t *testing.T) {
	cases := []string{"0.0", "1.5", "-1.5", "123456789.987654321", "-0.000000000000000001"}
	for _, s := range cases {
		d, err := ParseDecimal(s)
		if err != nil {
			t.Fatal(err)
		}
		b := d.Bytes128()
		back := DecimalFromBytes128(b)
		if got, want := back.String(), d.String(); got != want {
			t.Errorf("Bytes128 round trip for %q: got %q, want %q", s, got, want)
		}
	}
}

func TestDecimal_RejectsMalformedInput(t *testing.T) {
	for _, s := range []string{"", "abc", "1.2.3", "--1", "."} {
		if _, err := ParseDecimal(s); err == nil {
			t.Errorf("ParseDecimal(%q) expected error", s)
		}
	}
}

func TestDecimal_TruncatesBeyondEighteenFractionalDigits(t *testing.T) {
	d, err := ParseDecimal("1.1234567890123456789") // 19 fractional digits
	if err != nil {
		t.Fatal(err)
	}
	if got, want := d.String(), "1.123456789012345678"; got != want {
		t.Errorf("String() = %q, want %q (19th fractional digit must truncate, scale is 18)", got, want)
	}
}
