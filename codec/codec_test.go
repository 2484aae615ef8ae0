package codec

import (
	"reflect"
	"testing"
)

func roundTrip(t *testing.T, in any, out any) {
	t.Helper()
	enc, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode(%#v) failed: %v", in, err)
	}
	if err := Decode(enc, out); err != nil {
		t.Fatalf("Decode(%q) failed: %v", enc, err)
	}
}

func TestRoundTripScalars(t *testing.T) {
	var i int
	roundTrip(t, 42, &i)
	if i != 42 {
		t.Errorf("int: got %d, want 42", i)
	}

	var neg int
	roundTrip(t, -7, &neg)
	if neg != -7 {
		t.Errorf("negative int: got %d, want -7", neg)
	}

	var f float64
	roundTrip(t, 3.5, &f)
	if f != 3.5 {
		t.Errorf("float64: got %v, want 3.5", f)
	}

	var b bool
	roundTrip(t, true, &b)
	if !b {
		t.Errorf("bool: got false, want true")
	}
}

func TestRoundTripString(t *testing.T) {
	var s string
	roundTrip(t, "hello, clnt!\nhahaha", &s)
	if s != "hello, clnt!\nhahaha" {
		t.Errorf("string: got %q", s)
	}
}

func TestRoundTripStringLeadingDigit(t *testing.T) {
	// A string beginning with a digit must not be confused with a length
	// prefix — the reader never backtracks (spec §9 open question).
	var s string
	roundTrip(t, "123 abc", &s)
	if s != "123 abc" {
		t.Errorf("string starting with digits: got %q", s)
	}
}

func TestRoundTripEmptyString(t *testing.T) {
	var s string
	roundTrip(t, "", &s)
	if s != "" {
		t.Errorf("empty string: got %q", s)
	}
}

func TestRoundTripSlice(t *testing.T) {
	var out []int
	roundTrip(t, []int{2, 7, 11, 15}, &out)
	if !reflect.DeepEqual(out, []int{2, 7, 11, 15}) {
		t.Errorf("slice: got %v", out)
	}
}

func TestRoundTripEmptySlice(t *testing.T) {
	var out []int
	roundTrip(t, []int{}, &out)
	if len(out) != 0 {
		t.Errorf("empty slice: got %v", out)
	}
}

func TestRoundTripNestedSlice(t *testing.T) {
	var out [][]string
	in := [][]string{{"a", "b"}, {"c"}}
	roundTrip(t, in, &out)
	if !reflect.DeepEqual(out, in) {
		t.Errorf("nested slice: got %v, want %v", out, in)
	}
}

type point struct {
	X    int
	Y    int
	Name string
}

func TestRoundTripStruct(t *testing.T) {
	var out point
	in := point{X: 1, Y: -2, Name: "origin"}
	roundTrip(t, in, &out)
	if out != in {
		t.Errorf("struct: got %+v, want %+v", out, in)
	}
}

func TestDecodeMalformedInteger(t *testing.T) {
	var i int
	err := Decode([]byte("notanumber "), &i)
	if err == nil {
		t.Fatal("expected a DecodeError for a malformed integer")
	}
	var de *DecodeError
	if !asDecodeError(err, &de) {
		t.Errorf("expected *DecodeError, got %T", err)
	}
}

func TestDecodeTruncatedStream(t *testing.T) {
	var s string
	// Declares a 10-byte string but supplies none.
	err := Decode([]byte("10 "), &s)
	if err == nil {
		t.Fatal("expected a DecodeError for a truncated stream")
	}
}

func TestDecodeTruncatedSequence(t *testing.T) {
	var out []int
	// Declares 3 elements but supplies only 1.
	err := Decode([]byte("3 1 "), &out)
	if err == nil {
		t.Fatal("expected a DecodeError for a truncated sequence")
	}
}

func asDecodeError(err error, target **DecodeError) bool {
	de, ok := err.(*DecodeError)
	if ok {
		*target = de
	}
	return ok
}

func TestEncodeWireShape(t *testing.T) {
	enc, err := Encode(2)
	if err != nil {
		t.Fatal(err)
	}
	if string(enc) != "2 " {
		t.Errorf("int wire form: got %q, want %q", enc, "2 ")
	}

	enc, err = Encode("hi")
	if err != nil {
		t.Fatal(err)
	}
	if string(enc) != "2 hi " {
		t.Errorf("string wire form: got %q, want %q", enc, "2 hi ")
	}

	enc, err = Encode([]int{1, 2})
	if err != nil {
		t.Fatal(err)
	}
	if string(enc) != "2 1 2 " {
		t.Errorf("sequence wire form: got %q, want %q", enc, "2 1 2 ")
	}
}

func TestDecoderSequentialValues(t *testing.T) {
	// A procedure packet's argument tuple is read off one contiguous
	// buffer value by value, exactly like add(1, 1) in spec §8 scenario 1.
	dec := NewDecoder([]byte("1 1 "))
	var a, b int
	if err := dec.Decode(&a); err != nil {
		t.Fatal(err)
	}
	if err := dec.Decode(&b); err != nil {
		t.Fatal(err)
	}
	if a != 1 || b != 1 {
		t.Errorf("got a=%d b=%d, want a=1 b=1", a, b)
	}
}
