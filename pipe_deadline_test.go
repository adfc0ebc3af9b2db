package mplex

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPipeDeadlineZeroValueNeverFires(t *testing.T) {
	d := makePipeDeadline()
	select {
	case <-d.wait():
		t.Fatal("deadline fired with no deadline set")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestPipeDeadlineInPastFiresImmediately(t *testing.T) {
	d := makePipeDeadline()
	d.set(time.Now().Add(-time.Second))
	select {
	case <-d.wait():
	case <-time.After(time.Second):
		t.Fatal("deadline in the past did not fire")
	}
}

func TestPipeDeadlineFuture(t *testing.T) {
	d := makePipeDeadline()
	d.set(time.Now().Add(20 * time.Millisecond))

	select {
	case <-d.wait():
		t.Fatal("deadline fired too early")
	case <-time.After(5 * time.Millisecond):
	}

	select {
	case <-d.wait():
	case <-time.After(time.Second):
		t.Fatal("deadline never fired")
	}
}

func TestPipeDeadlineResetToZeroDisarms(t *testing.T) {
	d := makePipeDeadline()
	d.set(time.Now().Add(10 * time.Millisecond))
	d.set(time.Time{})

	select {
	case <-d.wait():
		t.Fatal("deadline fired after being cleared")
	case <-time.After(30 * time.Millisecond):
	}
}
