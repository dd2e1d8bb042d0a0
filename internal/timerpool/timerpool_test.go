package timerpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestArmFiresAfterDuration(t *testing.T) {
	tm := New()
	c := tm.Arm(10 * time.Millisecond)
	select {
	case <-c:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timer did not fire")
	}
}

func TestArmCancelsPreviousPendingFire(t *testing.T) {
	tm := New()
	first := tm.Arm(5 * time.Millisecond)
	time.Sleep(10 * time.Millisecond) // let the first tick land in the channel
	second := tm.Arm(20 * time.Millisecond)

	select {
	case <-first:
		t.Fatal("stale first channel should not be observed through the API under test")
	default:
	}

	select {
	case <-second:
		t.Fatal("second timer fired too early")
	case <-time.After(5 * time.Millisecond):
	}

	select {
	case <-second:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("second timer never fired")
	}
}

func TestStopOnUnarmedTimerIsSafe(t *testing.T) {
	tm := New()
	require.NotPanics(t, tm.Stop)
}
