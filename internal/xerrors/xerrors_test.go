package xerrors

import (
	"errors"
	"runtime"
	"strings"
	"testing"
)

var errSentinel = errors.New("sentinel")

type hasStack interface{ StackPCs() []uintptr }
type hasPC interface{ PC() uintptr }

// stackContains checks if any frame in pcs contains the given function name substring.
func stackContains(pcs []uintptr, substr string) bool {
	frames := runtime.CallersFrames(pcs)
	for {
		fr, more := frames.Next()
		if strings.Contains(fr.Function, substr) {
			return true
		}
		if !more {
			break
		}
	}
	return false
}

func firstFrame(pcs []uintptr) string {
	fr, _ := runtime.CallersFrames(pcs).Next()
	return fr.Function
}

// New / Newf

func TestNew_ErrorMessage(t *testing.T) {
	err := New("something broke")
	if err.Error() != "something broke" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestNew_StackStartsAtCaller(t *testing.T) {
	err := New("boom")

	var hs hasStack
	if !errors.As(err, &hs) {
		t.Fatal("New error should have StackPCs")
	}
	if fn := firstFrame(hs.StackPCs()); !strings.HasSuffix(fn, "TestNew_StackStartsAtCaller") {
		t.Fatalf("first frame = %q, want the calling test", fn)
	}
}

func TestNewf_FormatsMessage(t *testing.T) {
	err := Newf("limit=%d window=%s", 3, "1s")
	if err.Error() != "limit=3 window=1s" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

// WithStack / EnsureTrace

func TestWithStack_Nil(t *testing.T) {
	if WithStack(nil) != nil {
		t.Fatal("WithStack(nil) should be nil")
	}
}

func TestWithStack_PreservesIdentity(t *testing.T) {
	err := WithStack(errSentinel)
	if err.Error() != "sentinel" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, errSentinel) {
		t.Fatal("errors.Is should find the sentinel")
	}
	var hs hasStack
	if !errors.As(err, &hs) || !stackContains(hs.StackPCs(), "TestWithStack_PreservesIdentity") {
		t.Fatal("stack should contain the caller")
	}
}

func TestEnsureTrace_Nil(t *testing.T) {
	if EnsureTrace(nil) != nil {
		t.Fatal("EnsureTrace(nil) should be nil")
	}
}

func TestEnsureTrace_AddsStackToPlainError(t *testing.T) {
	err := EnsureTrace(errSentinel)
	var hs hasStack
	if !errors.As(err, &hs) {
		t.Fatal("plain error should gain a stack")
	}
}

func TestEnsureTrace_KeepsExistingStack(t *testing.T) {
	orig := New("already traced")
	if got := EnsureTrace(orig); got != orig {
		t.Fatal("EnsureTrace should return an already-stacked error unchanged")
	}
}

func TestEnsureTrace_StackBelowWrap(t *testing.T) {
	orig := Wrap(New("inner"), "outer")
	if got := EnsureTrace(orig); got != orig {
		t.Fatal("a stack anywhere in the chain should be enough")
	}
}

// Wrap / Wrapf

func TestWrap_Nil(t *testing.T) {
	if Wrap(nil, "msg") != nil {
		t.Fatal("Wrap(nil) should be nil")
	}
	if Wrapf(nil, "msg %d", 1) != nil {
		t.Fatal("Wrapf(nil) should be nil")
	}
}

func TestWrap_MessageAndUnwrap(t *testing.T) {
	err := Wrap(errSentinel, "loading")
	if err.Error() != "loading: sentinel" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, errSentinel) {
		t.Fatal("errors.Is should see through Wrap")
	}
}

func TestWrapf_RecordsCallSite(t *testing.T) {
	err := Wrapf(errSentinel, "capacity=%d", 0)
	if err.Error() != "capacity=0: sentinel" {
		t.Fatalf("Error() = %q", err.Error())
	}
	var hp hasPC
	if !errors.As(err, &hp) {
		t.Fatal("Wrapf error should expose PC")
	}
	fr, _ := runtime.CallersFrames([]uintptr{hp.PC()}).Next()
	if !strings.HasSuffix(fr.Function, "TestWrapf_RecordsCallSite") {
		t.Fatalf("PC frame = %q, want the calling test", fr.Function)
	}
}

func TestChainedWrap(t *testing.T) {
	err := Wrap(Wrapf(WithStack(errSentinel), "level %d", 1), "level 2")
	if err.Error() != "level 2: level 1: sentinel" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, errSentinel) {
		t.Fatal("errors.Is should reach the sentinel through the chain")
	}
}
