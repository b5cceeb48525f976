package gpio

import (
	"errors"
	"testing"
)

func TestFakeBankDefaultsHigh(t *testing.T) {
	f := NewFakeBank()

	high, err := f.ReadPin(9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !high {
		t.Error("unset input should read high (released, pull-up)")
	}
}

func TestFakeBankPressRelease(t *testing.T) {
	f := NewFakeBank()

	f.Press(9)
	high, _ := f.ReadPin(9)
	if high {
		t.Error("pressed button should read low")
	}

	f.Release(9)
	high, _ = f.ReadPin(9)
	if !high {
		t.Error("released button should read high")
	}

	// Other pins are unaffected.
	f.Press(8)
	high, _ = f.ReadPin(9)
	if !high {
		t.Error("pin 9 should still read high after pressing pin 8")
	}
}

func TestFakeBankRecordsWrites(t *testing.T) {
	f := NewFakeBank()

	if _, written := f.Output(0); written {
		t.Error("pin 0 should not be written yet")
	}

	f.WritePin(0, true)
	f.WritePin(1, false)
	f.WritePin(0, false)

	writes := f.Writes()
	want := []PinWrite{{0, true}, {1, false}, {0, false}}
	if len(writes) != len(want) {
		t.Fatalf("writes: got %d, want %d", len(writes), len(want))
	}
	for i := range want {
		if writes[i] != want[i] {
			t.Errorf("write %d: got %+v, want %+v", i, writes[i], want[i])
		}
	}

	if got := f.WritesTo(0); len(got) != 2 {
		t.Errorf("writes to pin 0: got %d, want 2", len(got))
	}
	high, written := f.Output(0)
	if !written || high {
		t.Errorf("pin 0 output: got (%v, %v), want (false, true)", high, written)
	}
}

func TestFakeBankReadError(t *testing.T) {
	f := NewFakeBank()
	f.ReadErrors[9] = errors.New("hardware fault")

	if _, err := f.ReadPin(9); err == nil {
		t.Error("expected error for pin 9")
	}
	if _, err := f.ReadPin(8); err != nil {
		t.Errorf("pin 8 should read fine: %v", err)
	}
}

func TestFakeBankWriteError(t *testing.T) {
	f := NewFakeBank()
	f.WriteError = errors.New("stuck")

	if err := f.WritePin(0, true); err == nil {
		t.Error("expected write error")
	}
	if len(f.Writes()) != 1 {
		t.Error("failed write should still be recorded")
	}
}

func TestFakeBankClose(t *testing.T) {
	f := NewFakeBank()

	if err := f.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !f.Closed() {
		t.Error("Closed() should be true after Close()")
	}
	if _, err := f.ReadPin(9); err == nil {
		t.Error("read after close should fail")
	}

	f.Reset()
	if f.Closed() {
		t.Error("Reset should clear closed flag")
	}
	if len(f.Writes()) != 0 {
		t.Error("Reset should clear writes")
	}
}

func TestFakeBankImplementsBank(t *testing.T) {
	var _ Bank = NewFakeBank()
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open("sysfs", "", Layout{}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestOpenFakeBackend(t *testing.T) {
	b, err := Open(BackendFake, "", Layout{Inputs: []int{9}, Outputs: []int{0}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer b.Close()
	if _, ok := b.(*FakeBank); !ok {
		t.Errorf("expected *FakeBank, got %T", b)
	}
}
