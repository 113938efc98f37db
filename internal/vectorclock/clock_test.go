package vectorclock

import (
	"encoding/json"
	"testing"
)

func TestTick(t *testing.T) {
	c := New()
	c2 := c.Tick("a")
	if c2.Get("a") != 1 {
		t.Errorf("Get(a) = %d, want 1", c2.Get("a"))
	}
	if c.Get("a") != 0 {
		t.Error("Tick must not mutate the receiver")
	}
}

func TestMergeCommutativeIdempotent(t *testing.T) {
	a := Clock{"a": 2, "b": 1}
	b := Clock{"a": 1, "b": 3, "c": 5}

	ab := Merge(a, b)
	ba := Merge(b, a)
	if !Equal(ab, ba) {
		t.Errorf("merge not commutative: %v vs %v", ab, ba)
	}

	if !Equal(Merge(a, a), a) {
		t.Errorf("merge not idempotent: %v vs %v", Merge(a, a), a)
	}

	want := Clock{"a": 2, "b": 3, "c": 5}
	if !Equal(ab, want) {
		t.Errorf("merge = %v, want %v", ab, want)
	}
}

func TestMergeAssociative(t *testing.T) {
	a := Clock{"a": 1}
	b := Clock{"a": 2, "b": 1}
	c := Clock{"c": 4}

	left := Merge(Merge(a, b), c)
	right := Merge(a, Merge(b, c))
	if !Equal(left, right) {
		t.Errorf("merge not associative: %v vs %v", left, right)
	}
}

func TestHappensBefore(t *testing.T) {
	a := Clock{"x": 1}
	b := Clock{"x": 2}
	if !a.HappensBefore(b) {
		t.Error("expected a happens-before b")
	}
	if b.HappensBefore(a) {
		t.Error("b must not happen-before a")
	}
	if a.HappensBefore(a) {
		t.Error("a clock never happens-before itself")
	}
}

func TestConcurrent(t *testing.T) {
	a := Clock{"x": 1, "y": 0}
	b := Clock{"x": 0, "y": 1}
	if !a.Concurrent(b) {
		t.Error("expected a and b to be concurrent")
	}
	if !b.Concurrent(a) {
		t.Error("concurrency must be symmetric")
	}
	if a.Concurrent(a) {
		t.Error("a clock is never concurrent with itself")
	}
}

func TestEqualMissingKeysAreZero(t *testing.T) {
	a := Clock{"x": 0}
	b := Clock{}
	if !Equal(a, b) {
		t.Error("a clock with an explicit zero must equal the empty clock")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	in := Clock{"alice": 3, "bob": 0, "carol": MaxSafeCounter}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out Clock
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if !Equal(in, out) {
		t.Errorf("round trip mismatch: %v vs %v", in, out)
	}
}

func TestEmptyClockEncodesAsEmptyObject(t *testing.T) {
	data, err := json.Marshal(New())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != "{}" {
		t.Errorf("empty clock encoded as %s, want {}", data)
	}
}

func TestUnmarshalRejectsOverflow(t *testing.T) {
	data := []byte(`{"a": 9007199254740992}`) // 2^53
	var c Clock
	if err := json.Unmarshal(data, &c); err == nil {
		t.Error("expected overflow error")
	}
}

func TestUnmarshalAcceptsMaxSafeCounter(t *testing.T) {
	data := []byte(`{"a": 9007199254740991}`) // 2^53 - 1
	var c Clock
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Get("a") != MaxSafeCounter {
		t.Errorf("Get(a) = %d, want %d", c.Get("a"), uint64(MaxSafeCounter))
	}
}

func TestMissingKeyTreatedAsZero(t *testing.T) {
	c := Clock{"a": 5}
	if c.Get("nonexistent") != 0 {
		t.Error("missing key must read as zero")
	}
}
