package waiter

import (
	"testing"
	"time"
)

func TestWakeUpBeforeSleep(t *testing.T) {
	w := New()
	w.WakeUp()
	done := make(chan bool, 1)
	go func() { done <- w.SleepOn(nil) }()
	select {
	case ok := <-done:
		if !ok {
			t.Fatal("expected true")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out: pending wake-up lost")
	}
}

func TestExitTerminal(t *testing.T) {
	w := New()
	w.Exit()
	if ok := w.SleepOn(nil); ok {
		t.Fatal("expected false after exit")
	}
	if ok := w.SleepOn(nil); ok {
		t.Fatal("expected false on subsequent call too")
	}
}

func TestExitUnblocksSleeper(t *testing.T) {
	w := New()
	done := make(chan bool, 1)
	go func() { done <- w.SleepOn(nil) }()
	time.Sleep(20 * time.Millisecond)
	w.Exit()
	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected false on exit")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for exit to unblock sleeper")
	}
}

func TestReadyPredicate(t *testing.T) {
	w := New()
	ready := false
	done := make(chan bool, 1)
	go func() { done <- w.SleepOn(func() bool { return ready }) }()
	time.Sleep(20 * time.Millisecond)
	ready = true
	w.WakeUp()
	select {
	case ok := <-done:
		if !ok {
			t.Fatal("expected true")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}
