package stopper

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMustStop_FalseBeforeDeadline(t *testing.T) {
	c := New(time.Hour, Wall)
	assert.False(t, c.MustStop())
}

func TestMustStop_TrueAfterDeadline(t *testing.T) {
	c := New(1*time.Millisecond, Wall)
	time.Sleep(5 * time.Millisecond)
	assert.True(t, c.MustStop())
}

func TestMustStop_UnboundedNeverElapses(t *testing.T) {
	c := New(0, Wall)
	time.Sleep(2 * time.Millisecond)
	assert.False(t, c.MustStop())
}

func TestInterrupt_SetsMustStopImmediately(t *testing.T) {
	c := New(time.Hour, Wall)
	require := assert.New(t)
	require.False(c.MustStop())
	c.Interrupt()
	require.True(c.MustStop())
	require.True(c.Interrupted())
}

func TestRemaining_ShrinksTowardZero(t *testing.T) {
	c := New(10*time.Millisecond, Wall)
	r1 := c.Remaining()
	time.Sleep(5 * time.Millisecond)
	r2 := c.Remaining()
	assert.Less(t, r2, r1)
	assert.GreaterOrEqual(t, r2, time.Duration(0))
}

func TestRemaining_UnboundedIsLarge(t *testing.T) {
	c := New(0, Wall)
	assert.Greater(t, c.Remaining(), time.Hour)
}

func TestWatchInterrupts_FirstSignalSetsTheFlag(t *testing.T) {
	c := New(time.Hour, Wall)
	c.WatchInterrupts()
	defer c.StopWatchingInterrupts()

	c.sigCh <- os.Interrupt

	deadline := time.Now().Add(time.Second)
	for !c.Interrupted() {
		if time.Now().After(deadline) {
			t.Fatal("interrupt flag was not set after the first signal")
		}
		time.Sleep(time.Millisecond)
	}
	assert.True(t, c.MustStop())
}

func TestContext_CancelledAfterDeadline(t *testing.T) {
	c := New(5*time.Millisecond, Wall)
	ctx, cancel := c.Context(context.Background())
	defer cancel()

	select {
	case <-ctx.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("context was not cancelled by the controller's deadline")
	}
}
