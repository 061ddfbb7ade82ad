package layer

import "testing"

func TestDispatcherStopsAtFirstConsumer(t *testing.T) {
	var d Dispatcher[int]
	var calls []int
	d.Subscribe(func(v int) (bool, error) {
		calls = append(calls, 1)
		return false, nil
	})
	d.Subscribe(func(v int) (bool, error) {
		calls = append(calls, 2)
		return true, nil
	})
	d.Subscribe(func(v int) (bool, error) {
		calls = append(calls, 3)
		return true, nil
	})
	consumed, err := d.Dispatch(42)
	if err != nil {
		t.Fatal(err)
	}
	if !consumed {
		t.Fatal("expected consumed")
	}
	if len(calls) != 2 || calls[0] != 1 || calls[1] != 2 {
		t.Fatalf("unexpected call order: %v", calls)
	}
}

func TestDispatcherUnconsumed(t *testing.T) {
	var d Dispatcher[string]
	d.Subscribe(func(string) (bool, error) { return false, nil })
	consumed, err := d.Dispatch("hi")
	if err != nil {
		t.Fatal(err)
	}
	if consumed {
		t.Fatal("expected not consumed")
	}
}

func TestEmitterListener(t *testing.T) {
	var e Emitter[int]
	var got int
	e.Listen(func(v int) error {
		got = v
		return nil
	})
	if err := e.Emit(7); err != nil {
		t.Fatal(err)
	}
	if got != 7 {
		t.Fatalf("got %d, want 7", got)
	}
}

func TestResetInvalidatesSubscribers(t *testing.T) {
	var d Dispatcher[int]
	d.Subscribe(func(int) (bool, error) { return true, nil })
	d.Reset()
	if d.Len() != 0 {
		t.Fatal("expected no subscribers after Reset")
	}
	consumed, _ := d.Dispatch(1)
	if consumed {
		t.Fatal("expected nothing consumed after Reset")
	}
}
