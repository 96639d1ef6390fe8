package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackground_WaitBlocksUntilFnReturns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var finished atomic.Bool

	wait := background(ctx, func(ctx context.Context) {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
	})

	cancel()
	wait()
	assert.True(t, finished.Load())
}

func TestBackground_DeferredWaitRunsBeforeEarlierDefers(t *testing.T) {
	var order []string
	func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer func() { order = append(order, "writer closed") }()
		defer background(ctx, func(ctx context.Context) {
			<-ctx.Done()
			order = append(order, "consumer returned")
		})()
		cancel()
	}()
	assert.Equal(t, []string{"consumer returned", "writer closed"}, order)
}
