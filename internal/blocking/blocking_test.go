package blocking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNotifyWakesRegisteredWaiter(t *testing.T) {
	c := New()
	ticket := c.Register([]string{"k"})
	defer ticket.Cancel()

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.NotifyKey("k")
	}()

	select {
	case <-ticket.Wake():
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestFIFOOrder(t *testing.T) {
	c := New()
	first := c.Register([]string{"k"})
	second := c.Register([]string{"k"})
	defer first.Cancel()
	defer second.Cancel()

	c.NotifyKey("k")

	select {
	case <-first.Wake():
	default:
		t.Fatal("first waiter should have fired")
	}
	select {
	case <-second.Wake():
		t.Fatal("second waiter should not have fired; NotifyKey wakes only the front waiter")
	default:
	}
}

func TestCancelRemovesWaiter(t *testing.T) {
	c := New()
	ticket := c.Register([]string{"k"})
	ticket.Cancel()
	c.NotifyKey("k") // must not panic

	select {
	case <-ticket.Wake():
		t.Fatal("cancelled ticket should not fire")
	default:
	}
}

func TestUnrelatedKeyDoesNotWake(t *testing.T) {
	c := New()
	ticket := c.Register([]string{"a"})
	defer ticket.Cancel()
	c.NotifyKey("b")

	select {
	case <-ticket.Wake():
		t.Fatal("waiter on key a should not wake for key b")
	default:
	}
}

func TestWaitDeadline(t *testing.T) {
	now := time.Now()
	assert.True(t, WaitDeadline(now, 0).IsZero())
	assert.False(t, WaitDeadline(now, time.Second).IsZero())
}
