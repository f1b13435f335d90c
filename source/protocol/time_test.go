package protocol

import "testing"

func TestSeqLessWraparound(t *testing.T) {
	if !seqLess(5, 10) {
		t.Errorf("expected 5 < 10")
	}
	if seqLess(10, 5) {
		t.Errorf("expected 10 not < 5")
	}
	// 0xFFFE precedes 0x0002 once sequence numbers wrap around 16 bits.
	if !seqLess(0xFFFE, 0x0002) {
		t.Errorf("expected wraparound 0xFFFE < 0x0002")
	}
	if seqLess(0x0002, 0xFFFE) {
		t.Errorf("expected 0x0002 not < 0xFFFE across wraparound")
	}
}

func TestSeqGreaterIsInverse(t *testing.T) {
	if !seqGreater(10, 5) {
		t.Errorf("expected 10 > 5")
	}
	if seqGreater(5, 10) {
		t.Errorf("expected 5 not > 10")
	}
}

func TestTimeDiffSymmetric(t *testing.T) {
	if d := timeDiff(1000, 900); d != 100 {
		t.Errorf("timeDiff(1000, 900) = %d, want 100", d)
	}
	if d := timeDiff(900, 1000); d != 100 {
		t.Errorf("timeDiff(900, 1000) = %d, want 100", d)
	}
}

func TestTimeLessWraparound(t *testing.T) {
	if !timeLess(100, 200) {
		t.Errorf("expected 100 before 200")
	}
	if timeLess(200, 100) {
		t.Errorf("expected 200 not before 100")
	}
}
