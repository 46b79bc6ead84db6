// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package utils

import (
	"context"
	"fmt"
	"runtime/debug"
)

// PanicHandler receives a recovered panic from a goroutine started with Go.
type PanicHandler func(recovered interface{}, stack []byte)

var panicHandler PanicHandler = func(recovered interface{}, stack []byte) {
	fmt.Printf("recovered goroutine panic: %v\n%s\n", recovered, stack)
}

// SetPanicHandler replaces the handler used by Go. Intended for wiring the
// application logger at startup.
func SetPanicHandler(h PanicHandler) {
	if h != nil {
		panicHandler = h
	}
}

// Go runs fn on a detached goroutine. A panic in fn is recovered and reported
// instead of crashing the process. ctx is handed to fn untouched.
func Go(ctx context.Context, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				panicHandler(r, debug.Stack())
			}
		}()
		if ctx != nil && ctx.Err() != nil {
			return
		}
		fn()
	}()
}
