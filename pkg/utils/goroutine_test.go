package utils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGo_RunsFunction(t *testing.T) {
	done := make(chan struct{})
	Go(context.Background(), func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestGo_RecoversPanic(t *testing.T) {
	recovered := make(chan interface{}, 1)
	SetPanicHandler(func(r interface{}, _ []byte) { recovered <- r })
	Go(context.Background(), func() { panic("boom") })
	select {
	case r := <-recovered:
		assert.Equal(t, "boom", r)
	case <-time.After(time.Second):
		t.Fatal("panic was not reported")
	}
}

func TestGo_SkipsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := make(chan struct{}, 1)
	Go(ctx, func() { ran <- struct{}{} })
	select {
	case <-ran:
		t.Fatal("function ran on cancelled context")
	case <-time.After(50 * time.Millisecond):
	}
}
