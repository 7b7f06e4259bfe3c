package bitchunk

import "testing"

func TestFirstClear(t *testing.T) {
	var w Word
	if i, ok := w.FirstClear(); !ok || i != 0 {
		t.Fatalf("empty word: got (%d,%v), want (0,true)", i, ok)
	}

	w = w.SetBit(0).SetBit(1).SetBit(2)
	if i, ok := w.FirstClear(); !ok || i != 3 {
		t.Fatalf("got (%d,%v), want (3,true)", i, ok)
	}

	full := Full
	if _, ok := full.FirstClear(); ok {
		t.Fatalf("full word should report no clear bit")
	}
}

func TestFirstSet(t *testing.T) {
	var w Word
	if _, ok := w.FirstSet(); ok {
		t.Fatalf("empty word should report no set bit")
	}

	w = w.SetBit(5)
	if i, ok := w.FirstSet(); !ok || i != 5 {
		t.Fatalf("got (%d,%v), want (5,true)", i, ok)
	}
}

func TestIsFullIsEmpty(t *testing.T) {
	var w Word
	if !w.IsEmpty() || w.IsFull() {
		t.Fatalf("zero word should be empty, not full")
	}

	w = Full
	if w.IsEmpty() || !w.IsFull() {
		t.Fatalf("all-ones word should be full, not empty")
	}
}

func TestSetClearBit(t *testing.T) {
	var w Word

	for i := 0; i < 64; i++ {
		w = w.SetBit(i)
	}

	if !w.IsFull() {
		t.Fatalf("expected word to be full after setting all 64 bits")
	}

	for i := 0; i < 64; i++ {
		w = w.ClearBit(i)
	}

	if !w.IsEmpty() {
		t.Fatalf("expected word to be empty after clearing all 64 bits")
	}
}

func TestPopCount(t *testing.T) {
	w := Word(0).SetBit(1).SetBit(3).SetBit(63)
	if got := w.PopCount(); got != 3 {
		t.Fatalf("got %d, want 3", got)
	}
}

func TestWordsAndIndex(t *testing.T) {
	cases := []struct{ n, want int }{
		{0, 0}, {1, 1}, {64, 1}, {65, 2}, {128, 2}, {129, 3},
	}
	for _, c := range cases {
		if got := Words(c.n); got != c.want {
			t.Fatalf("Words(%d) = %d, want %d", c.n, got, c.want)
		}
	}

	word, offset := Index(130)
	if word != 2 || offset != 2 {
		t.Fatalf("Index(130) = (%d,%d), want (2,2)", word, offset)
	}
}

func TestCascadeSingleLevel(t *testing.T) {
	c := NewCascade(1)
	if c.Depth() != 1 {
		t.Fatalf("cascade over 1 base word should have depth 1, got %d", c.Depth())
	}

	if idx, ok := c.FindNotFull(); !ok || idx != 0 {
		t.Fatalf("FindNotFull() = (%d,%v), want (0,true)", idx, ok)
	}

	c.SetFull(0)
	if _, ok := c.FindNotFull(); ok {
		t.Fatalf("expected no not-full word after SetFull(0)")
	}

	c.ClearFull(0)
	if idx, ok := c.FindNotFull(); !ok || idx != 0 {
		t.Fatalf("FindNotFull() after clear = (%d,%v), want (0,true)", idx, ok)
	}
}

func TestCascadeMultiLevel(t *testing.T) {
	// 5000 base words needs a level-0 of 79 words, which in turn needs a
	// level-1 of 2 words, which in turn needs a level-2 of 1 word: depth 3.
	c := NewCascade(5000)
	if c.Depth() != 3 {
		t.Fatalf("depth = %d, want 3", c.Depth())
	}

	for i := 0; i < 5000; i++ {
		c.SetFull(i)
	}

	if _, ok := c.FindNotFull(); ok {
		t.Fatalf("expected no not-full word once every base word is full")
	}

	c.ClearFull(4321)

	idx, ok := c.FindNotFull()
	if !ok || idx != 4321 {
		t.Fatalf("FindNotFull() = (%d,%v), want (4321,true)", idx, ok)
	}
}

func TestCascadeFindNotFullSkipsFullPrefix(t *testing.T) {
	c := NewCascade(200)

	for i := 0; i < 150; i++ {
		c.SetFull(i)
	}

	idx, ok := c.FindNotFull()
	if !ok || idx != 150 {
		t.Fatalf("FindNotFull() = (%d,%v), want (150,true)", idx, ok)
	}
}
