package bitset

import "testing"

func TestSetClearTest(t *testing.T) {
	b := New(10)
	if b.Test(3) {
		t.Fatalf("expected bit 3 clear initially")
	}
	b.Set(3)
	if !b.Test(3) {
		t.Fatalf("expected bit 3 set")
	}
	b.Clear(3)
	if b.Test(3) {
		t.Fatalf("expected bit 3 clear after Clear")
	}
}

func TestSetAllClearAllRespectsWidth(t *testing.T) {
	b := New(70) // spans two words
	b.SetAll()
	if !b.AllSet() {
		t.Fatalf("expected all bits set")
	}
	if b.Count() != 70 {
		t.Fatalf("expected count 70, got %d", b.Count())
	}
	b.ClearAll()
	if !b.AllClear() {
		t.Fatalf("expected all bits clear")
	}
}

func TestAndOrXorAndNot(t *testing.T) {
	a := New(8)
	c := New(8)
	a.Set(0)
	a.Set(1)
	c.Set(1)
	c.Set(2)

	and := And2(a, c)
	if and.Bits()[0] != 1 || and.Count() != 1 {
		t.Fatalf("expected And2 = {1}, got %v", and.Bits())
	}

	or := Or2(a, c)
	want := []int{0, 1, 2}
	if !intsEqual(or.Bits(), want) {
		t.Fatalf("expected Or2 = %v, got %v", want, or.Bits())
	}

	x := a.Clone()
	x.Xor(c)
	if !intsEqual(x.Bits(), []int{0, 2}) {
		t.Fatalf("expected Xor = {0,2}, got %v", x.Bits())
	}

	an := a.Clone()
	an.AndNot(c)
	if !intsEqual(an.Bits(), []int{0}) {
		t.Fatalf("expected AndNot = {0}, got %v", an.Bits())
	}
}

func TestNot(t *testing.T) {
	a := New(5)
	a.Set(0)
	a.Set(2)
	n := a.Not()
	if !intsEqual(n.Bits(), []int{1, 3, 4}) {
		t.Fatalf("expected Not = {1,3,4}, got %v", n.Bits())
	}
}

func TestCountOverMultipleWords(t *testing.T) {
	b := New(200)
	for i := 0; i < 200; i += 3 {
		b.Set(i)
	}
	want := 0
	for i := 0; i < 200; i += 3 {
		want++
	}
	if b.Count() != want {
		t.Fatalf("expected count %d, got %d", want, b.Count())
	}
}

func TestEqual(t *testing.T) {
	a := New(16)
	b := New(16)
	a.Set(5)
	b.Set(5)
	if !a.Equal(b) {
		t.Fatalf("expected equal bitsets")
	}
	b.Set(6)
	if a.Equal(b) {
		t.Fatalf("expected unequal bitsets")
	}
}

func TestSizeMismatchPanics(t *testing.T) {
	a := New(4)
	b := New(5)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on size mismatch")
		}
	}()
	a.And(b)
}

func intsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
