package replay

import "testing"

func TestValidateMonotonic(t *testing.T) {
	f := New()
	for i := uint64(0); i < 100; i++ {
		if !f.Validate(i) {
			t.Fatalf("counter %d unexpectedly rejected", i)
		}
	}
}

func TestValidateRejectsDuplicate(t *testing.T) {
	f := New()
	if !f.Validate(5) {
		t.Fatal("first use of 5 should be accepted")
	}
	if f.Validate(5) {
		t.Fatal("duplicate counter 5 should be rejected")
	}
}

func TestValidateAllowsOutOfOrderWithinWindow(t *testing.T) {
	f := New()
	if !f.Validate(10) {
		t.Fatal("10 should be accepted")
	}
	if !f.Validate(3) {
		t.Fatal("3 should be accepted, it is behind but within the window")
	}
	if f.Validate(3) {
		t.Fatal("duplicate 3 should be rejected")
	}
}

func TestValidateRejectsTooFarBehind(t *testing.T) {
	f := New()
	if !f.Validate(windowSize * 10) {
		t.Fatal("initial high counter should be accepted")
	}
	if f.Validate(0) {
		t.Fatal("counter far behind the window should be rejected")
	}
}

func TestValidateLargeJumpClearsWindow(t *testing.T) {
	f := New()
	if !f.Validate(1) {
		t.Fatal("1 should be accepted")
	}
	if !f.Validate(1 + windowSize*3) {
		t.Fatal("large forward jump should be accepted as new high water mark")
	}
	if !f.Validate(1 + windowSize*3 - 1) {
		t.Fatal("counter just behind the new mark should be accepted once window is cleared")
	}
}
