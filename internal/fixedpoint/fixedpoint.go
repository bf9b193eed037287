// Package fixedpoint implements 17.14 signed fixed-point arithmetic.
//
// The MLFQS recurrences run with interrupts off and must not use floating
// point, so every quantity with a fractional part is a Fixed. Operations
// mixing a Fixed and a plain int have their own methods; never combine the
// raw values with ordinary integer arithmetic.
package fixedpoint

import "fmt"

// Q is the number of fraction bits.
const Q = 14

// F is the fixed-point representation of 1.
const F = 1 << Q

// Fixed is a 17.14 fixed-point number.
type Fixed int32

// FromInt converts n to fixed point.
func FromInt(n int) Fixed {
	return Fixed(n * F)
}

// Ratio returns n/d in fixed point.
func Ratio(n, d int) Fixed {
	return FromInt(n).DivInt(d)
}

// Int converts x to an integer, rounding toward zero.
func (x Fixed) Int() int {
	return int(x) / F
}

// Round converts x to the nearest integer.
func (x Fixed) Round() int {
	if x >= 0 {
		return (int(x) + F/2) / F
	}
	return (int(x) - F/2) / F
}

func (x Fixed) Add(y Fixed) Fixed { return x + y }
func (x Fixed) Sub(y Fixed) Fixed { return x - y }

func (x Fixed) AddInt(n int) Fixed { return x + FromInt(n) }
func (x Fixed) SubInt(n int) Fixed { return x - FromInt(n) }

// Mul multiplies two fixed-point numbers using a 64-bit intermediate.
func (x Fixed) Mul(y Fixed) Fixed {
	return Fixed(int64(x) * int64(y) / F)
}

// Div divides two fixed-point numbers using a 64-bit intermediate.
func (x Fixed) Div(y Fixed) Fixed {
	return Fixed(int64(x) * F / int64(y))
}

func (x Fixed) MulInt(n int) Fixed { return x * Fixed(n) }
func (x Fixed) DivInt(n int) Fixed { return x / Fixed(n) }

func (x Fixed) String() string {
	v := int64(x) * 100
	if v >= 0 {
		v = (v + F/2) / F
	} else {
		v = (v - F/2) / F
	}
	sign := ""
	if v < 0 {
		sign, v = "-", -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}
