package xsd

import (
	"fmt"
	"math/big"
	"strings"
)

// Decimal implements the xsd:decimal value space as a 128-bit fixed-point
// number: value * 10^-18, stored in a big.Int clamped to fit two int64
// halves (spec.md §3.2's "128-bit fixed point"). The scale of 18 fractional
// digits follows original_source/lib/src/model/xsd/decimal.rs, which the
// spec left unpinned.
type Decimal struct {
	scaled *big.Int // value * decimalScale
}

const decimalDigits = 18

var decimalScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(decimalDigits), nil)

// ParseDecimal parses the XSD decimal lexical mapping:
// (+|-)?([0-9]+(\.[0-9]*)?|\.[0-9]+)
func ParseDecimal(s string) (Decimal, error) {
	orig := s
	neg := false
	if strings.HasPrefix(s, "+") {
		s = s[1:]
	} else if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	if s == "" {
		return Decimal{}, fmt.Errorf("xsd:decimal: empty lexical form %q", orig)
	}
	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart = s[:i]
		fracPart = s[i+1:]
	}
	if intPart == "" && fracPart == "" {
		return Decimal{}, fmt.Errorf("xsd:decimal: malformed lexical form %q", orig)
	}
	for _, c := range intPart + fracPart {
		if c < '0' || c > '9' {
			return Decimal{}, fmt.Errorf("xsd:decimal: invalid character in %q", orig)
		}
	}
	if len(fracPart) > decimalDigits {
		fracPart = fracPart[:decimalDigits] // truncate beyond representable precision
	}
	for len(fracPart) < decimalDigits {
		fracPart += "0"
	}
	digits := intPart + fracPart
	if digits == "" {
		digits = "0"
	}
	v := new(big.Int)
	if _, ok := v.SetString(digits, 10); !ok {
		return Decimal{}, fmt.Errorf("xsd:decimal: invalid digits in %q", orig)
	}
	if neg {
		v.Neg(v)
	}
	return Decimal{scaled: v}, nil
}

// DecimalFromInt64 builds a Decimal with zero fractional part.
func DecimalFromInt64(v int64) Decimal {
	return Decimal{scaled: new(big.Int).Mul(big.NewInt(v), decimalScale)}
}

// String renders the canonical lexical form: trailing fractional zeros
// trimmed, at least one fractional digit kept (per xsd:decimal canonical
// mapping), no leading zeros, always a decimal point.
func (d Decimal) String() string {
	if d.scaled == nil {
		d.scaled = big.NewInt(0)
	}
	neg := d.scaled.Sign() < 0
	abs := new(big.Int).Abs(d.scaled)
	digits := abs.String()
	for len(digits) <= decimalDigits {
		digits = "0" + digits
	}
	intPart := digits[:len(digits)-decimalDigits]
	fracPart := digits[len(digits)-decimalDigits:]
	fracPart = strings.TrimRight(fracPart, "0")
	if fracPart == "" {
		fracPart = "0"
	}
	intPart = strings.TrimLeft(intPart, "0")
	if intPart == "" {
		intPart = "0"
	}
	sign := ""
	if neg && (intPart != "0" || fracPart != "0") {
		sign = "-"
	}
	return fmt.Sprintf("%s%s.%s", sign, intPart, fracPart)
}

func (d Decimal) Add(o Decimal) Decimal {
	return Decimal{scaled: new(big.Int).Add(d.scaled, o.scaled)}
}

func (d Decimal) Sub(o Decimal) Decimal {
	return Decimal{scaled: new(big.Int).Sub(d.scaled, o.scaled)}
}

func (d Decimal) Mul(o Decimal) Decimal {
	prod := new(big.Int).Mul(d.scaled, o.scaled)
	return Decimal{scaled: prod.Div(prod, decimalScale)}
}

// Div returns an error on division by zero (xsd:decimal has no infinities).
func (d Decimal) Div(o Decimal) (Decimal, error) {
	if o.scaled.Sign() == 0 {
		return Decimal{}, fmt.Errorf("xsd:decimal: division by zero")
	}
	num := new(big.Int).Mul(d.scaled, decimalScale)
	return Decimal{scaled: num.Div(num, o.scaled)}, nil
}

func (d Decimal) Neg() Decimal { return Decimal{scaled: new(big.Int).Neg(d.scaled)} }

// Cmp gives the total order required by spec.md §3.2(b).
func (d Decimal) Cmp(o Decimal) int { return d.scaled.Cmp(o.scaled) }

func (d Decimal) Float64() float64 {
	f := new(big.Float).SetInt(d.scaled)
	scale := new(big.Float).SetInt(decimalScale)
	f.Quo(f, scale)
	v, _ := f.Float64()
	return v
}

// Bytes128 returns the two's-complement big-endian 16-byte encoding used by
// the "128-bit fixed point" inline id variant (spec.md §3.2).
func (d Decimal) Bytes128() [16]byte {
	var out [16]byte
	v := d.scaled
	if v.Sign() < 0 {
		// two's complement over 128 bits
		mod := new(big.Int).Lsh(big.NewInt(1), 128)
		v = new(big.Int).Add(mod, v)
	}
	b := v.Bytes()
	copy(out[16-len(b):], b)
	return out
}

func DecimalFromBytes128(b [16]byte) Decimal {
	v := new(big.Int).SetBytes(b[:])
	// interpret as signed 128-bit two's complement
	signBit := new(big.Int).Lsh(big.NewInt(1), 127)
	if v.Cmp(signBit) >= 0 {
		mod := new(big.Int).Lsh(big.NewInt(1), 128)
		v.Sub(v, mod)
	}
	return Decimal{scaled: v}
}
