package hasher

import "testing"

func TestSizeHasherCountsBytes(t *testing.T) {
	sh := NewSizeHasher(NewBlake3())
	if err := sh.AddBytes([]byte("hello, ")); err != nil {
		t.Fatal(err)
	}
	if err := sh.AddBytes([]byte("world")); err != nil {
		t.Fatal(err)
	}
	hs := sh.Finish()
	if hs.Size != int64(len("hello, world")) {
		t.Fatalf("Size = %d, want %d", hs.Size, len("hello, world"))
	}
}

func TestSizeHasherFinishTwicePanics(t *testing.T) {
	sh := NewSizeHasher(NewBlake3())
	sh.Finish()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic calling Finish twice")
		}
	}()
	sh.Finish()
}

func TestBlake3Deterministic(t *testing.T) {
	a := NewBlake3()
	a.AddBytes([]byte("frz"))
	b := NewBlake3()
	b.AddBytes([]byte("frz"))
	if a.Finish() != b.Finish() {
		t.Fatal("blake3 hash not deterministic")
	}
}

func TestBlake3EmptyInput(t *testing.T) {
	h := NewBlake3()
	sum := h.Finish()
	var zero [32]byte
	if sum == zero {
		t.Fatal("empty-input hash should not be the all-zero value")
	}
}
