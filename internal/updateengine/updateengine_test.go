package updateengine

import "testing"

func TestParseStatusIdle(t *testing.T) {
	out := "LAST_CHECKED_TIME=1000\nPROGRESS=0.000000\nCURRENT_OP=UPDATE_STATUS_IDLE\nNEW_VERSION=0.0.0\n"
	if got := parseStatus(out); got != "UPDATE_STATUS_IDLE" {
		t.Fatalf("expected UPDATE_STATUS_IDLE, got %q", got)
	}
}

func TestParseStatusBusy(t *testing.T) {
	out := "CURRENT_OP=UPDATE_STATUS_UPDATED_NEED_REBOOT\n"
	if got := parseStatus(out); got != "UPDATE_STATUS_UPDATED_NEED_REBOOT" {
		t.Fatalf("expected busy status, got %q", got)
	}
}

// fakeProber checks that a test double satisfies Prober without shelling
// out; the conductor tests define their own.
type fakeProber struct {
	idle bool
	err  error
}

func (f *fakeProber) IsIdle() (bool, error) { return f.idle, f.err }

func TestFakeProberSatisfiesInterface(t *testing.T) {
	var p Prober = &fakeProber{idle: true}
	idle, err := p.IsIdle()
	if err != nil || !idle {
		t.Fatalf("expected idle=true, err=nil, got idle=%v err=%v", idle, err)
	}
}
