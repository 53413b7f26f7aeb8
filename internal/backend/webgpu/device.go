// Package webgpu provides a WebGPU-backed device memory allocator for
// workspace buffers. It satisfies the dnn.Allocator contract so contexts
// that stage work on the GPU can draw their workspaces from device memory
// instead of the host heap.
package webgpu

import (
	"fmt"

	"github.com/go-webgpu/webgpu/wgpu"
)

// Device owns the WebGPU instance, adapter, device and queue, plus the
// buffer pool the allocator draws from.
type Device struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	alloc *Allocator
}

// New opens the highest-performance adapter available.
// Returns an error if WebGPU is not available or initialization fails.
func New() (d *Device, err error) {
	// Recover from panic if the wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			d = nil
			err = fmt.Errorf("webgpu: native library not available: %v", r)
		}
	}()

	instance, instErr := wgpu.CreateInstance(nil)
	if instErr != nil {
		return nil, fmt.Errorf("webgpu: failed to create instance: %w", instErr)
	}
	adapter, adapterErr := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if adapterErr != nil {
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request adapter: %w", adapterErr)
	}

	device, deviceErr := adapter.RequestDevice(nil)
	if deviceErr != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request device: %w", deviceErr)
	}

	queue := device.GetQueue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to get queue")
	}

	d = &Device{
		instance: instance,
		adapter:  adapter,
		device:   device,
		queue:    queue,
	}
	d.alloc = newAllocator(device)
	return d, nil
}

// IsAvailable reports whether a WebGPU adapter can be opened on this
// machine without committing to a device.
func IsAvailable() (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	instance, err := wgpu.CreateInstance(nil)
	if err != nil {
		return false
	}
	defer instance.Release()

	adapter, err := instance.RequestAdapter(nil)
	if err != nil {
		return false
	}
	adapter.Release()
	return true
}

// Allocator returns the pooled device memory allocator.
func (d *Device) Allocator() *Allocator { return d.alloc }

// Release frees the pool and tears down the WebGPU objects. The Device
// must not be used afterwards.
func (d *Device) Release() {
	if d.alloc != nil {
		d.alloc.drain()
	}
	if d.device != nil {
		d.device.Release()
	}
	if d.adapter != nil {
		d.adapter.Release()
	}
	if d.instance != nil {
		d.instance.Release()
	}
	d.alloc, d.device, d.adapter, d.instance, d.queue = nil, nil, nil, nil, nil
}
