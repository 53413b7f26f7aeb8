// Copyright 2025 The Cantor Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu provides the public API for the WebGPU device memory
// allocator. Call IsAvailable before New to probe for an adapter without
// committing to a device.
package webgpu

import "github.com/cantor-asr/cantor/internal/backend/webgpu"

// Device owns the WebGPU instance, adapter, device and queue.
type Device = webgpu.Device

// Allocator hands out pooled GPU workspace buffers.
type Allocator = webgpu.Allocator

// New opens the highest-performance adapter available.
func New() (*Device, error) { return webgpu.New() }

// IsAvailable reports whether a WebGPU adapter can be opened.
func IsAvailable() bool { return webgpu.IsAvailable() }
