// This file is part of Gopher2600.
//
// Gopher2600 is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Gopher2600 is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Gopher2600.  If not, see <https://www.gnu.org/licenses/>.

// Package test provides lightweight test helpers used throughout the module
// in place of a third-party assertion library.
package test

import (
	"math"
	"reflect"
	"testing"
)

// result reduces a value of any comparable "did it work" shape (bool, error,
// nil) down to a single success/failure verdict.
func result(v interface{}) bool {
	switch o := v.(type) {
	case bool:
		return o
	case error:
		return o == nil
	case nil:
		return true
	default:
		return false
	}
}

// ExpectSuccess fails the test unless v indicates success.
func ExpectSuccess(t *testing.T, v interface{}) {
	t.Helper()
	if !result(v) {
		t.Errorf("expected success but got %v", v)
	}
}

// ExpectFailure fails the test unless v indicates failure.
func ExpectFailure(t *testing.T, v interface{}) {
	t.Helper()
	if result(v) {
		t.Errorf("expected failure but got %v", v)
	}
}

// ExpectEquality fails the test unless a and b are deeply equal.
func ExpectEquality(t *testing.T, a, b interface{}) {
	t.Helper()
	if !reflect.DeepEqual(a, b) {
		t.Errorf("expected %v to equal %v", a, b)
	}
}

// ExpectInequality fails the test if a and b are deeply equal.
func ExpectInequality(t *testing.T, a, b interface{}) {
	t.Helper()
	if reflect.DeepEqual(a, b) {
		t.Errorf("expected %v to not equal %v", a, b)
	}
}

// ExpectApproximate fails the test unless a and b are within tolerance of
// one another.
func ExpectApproximate(t *testing.T, a, b float64, tolerance float64) {
	t.Helper()
	if math.Abs(a-b) > tolerance {
		t.Errorf("expected %v to be within %v of %v", a, tolerance, b)
	}
}

// Equate fails the test unless got and want are deeply equal. It exists
// alongside ExpectEquality for call sites that read better with a single
// "this, equals, that" shape.
func Equate(t *testing.T, got, want interface{}) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
