// Copyright 2025 The Cantor Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the public API for the CPU reference accelerator
// context.
//
// Example:
//
//	ctx := cpu.New()
//	conv, err := nn.NewConv3DFromConfig(ctx, configLine)
package cpu

import "github.com/cantor-asr/cantor/internal/backend/cpu"

// Context is the CPU accelerator context.
type Context = cpu.Context

// New returns a ready CPU context.
func New() *Context { return cpu.New() }
