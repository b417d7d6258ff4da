package applog

import "testing"

func TestProgressCounterTracksValue(t *testing.T) {
	log := New(nil)
	p := log.Progress("doing work")
	c := p.AddCounter("files", 10)
	c.Increment(3)
	c.Increment(4)
	if c.Value() != 7 {
		t.Fatalf("Value() = %d, want 7", c.Value())
	}
	p.Done()
}

func TestLogMethodsDoNotPanicWithNilLogger(t *testing.T) {
	log := New(nil)
	log.Info("info %d", 1)
	log.Important("important %s", "x")
	log.Error("error %v", "boom")
}
