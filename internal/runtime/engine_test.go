package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/dop251/goja"
)

func TestEngine_Evaluate(t *testing.T) {
	e := NewEngine(time.Second, nil)
	if err := e.Evaluate(context.Background(), "test.bundle", []byte("var x = 40 + 2;")); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	err := e.Do(func(vm *goja.Runtime) error {
		if got := vm.Get("x").ToInteger(); got != 42 {
			t.Fatalf("x = %d, want 42", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
}

func TestEngine_EvaluateTimeout(t *testing.T) {
	e := NewEngine(50*time.Millisecond, nil)
	err := e.Evaluate(context.Background(), "spin.bundle", []byte("while (true) {}"))
	if err == nil {
		t.Fatalf("expected interrupt of runaway evaluation")
	}

	// The engine stays usable after an interrupted evaluation.
	if err := e.Evaluate(context.Background(), "ok.bundle", []byte("var ok = 1;")); err != nil {
		t.Fatalf("evaluate after interrupt: %v", err)
	}
}

func TestEngine_EvaluateContextCancel(t *testing.T) {
	e := NewEngine(10*time.Second, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := e.Evaluate(ctx, "spin.bundle", []byte("while (true) {}")); err == nil {
		t.Fatalf("expected cancellation of runaway evaluation")
	}
}

func TestEngine_NestedEvaluationKeepsWatchdogArmed(t *testing.T) {
	e := NewEngine(50*time.Millisecond, nil)

	// loadInner models a chunk load: it re-enters the engine while the outer
	// evaluation's deadline passes. The inner evaluation sees the pending
	// interrupt and fails; that failure is swallowed so the outer bundle
	// keeps running.
	err := e.Do(func(vm *goja.Runtime) error {
		return vm.GlobalObject().Set("loadInner", func() {
			time.Sleep(120 * time.Millisecond)
			_ = e.runLocked(context.Background(), "inner.bundle", []byte("var inner = 1;"))
		})
	})
	if err != nil {
		t.Fatalf("install bridge: %v", err)
	}

	// The interrupt raised for the outer deadline must survive the nested
	// evaluation; the loop after the chunk load has to be cut short.
	outer := []byte("loadInner(); for (var i = 0; i < 100000000; i++) {}")
	if err := e.Evaluate(context.Background(), "outer.bundle", outer); err == nil {
		t.Fatalf("outer evaluation ran past its deadline after a nested evaluation")
	}

	// The engine stays usable once the outermost frame returns.
	if err := e.Evaluate(context.Background(), "ok.bundle", []byte("var ok = 1;")); err != nil {
		t.Fatalf("evaluate after interrupt: %v", err)
	}
}

func TestEngine_UpgradePlatformOnce(t *testing.T) {
	e := NewEngine(time.Second, nil)

	impl := PlatformImplementation{OS: "ios", Version: "17.4", TestMode: true}
	if err := e.UpgradePlatform(impl); err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if err := e.UpgradePlatform(impl); err == nil {
		t.Fatalf("second upgrade must be rejected")
	}

	script := []byte("var seenOS = __platformImpl.OS; var seenTesting = __platformImpl.isTesting;")
	if err := e.Evaluate(context.Background(), "probe.bundle", script); err != nil {
		t.Fatalf("evaluate probe: %v", err)
	}
	err := e.Do(func(vm *goja.Runtime) error {
		if got := vm.Get("seenOS").String(); got != "ios" {
			t.Fatalf("OS = %s, want ios", got)
		}
		if !vm.Get("seenTesting").ToBoolean() {
			t.Fatalf("isTesting not propagated")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
}
