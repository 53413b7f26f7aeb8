package webgpu

import "testing"

func TestIsAvailable(t *testing.T) {
	available := IsAvailable()
	t.Logf("WebGPU available: %v", available)
	// Note: This test doesn't fail if WebGPU is unavailable
	// It just reports the status
}

func TestNewDeviceOrError(t *testing.T) {
	device, err := New()
	if err != nil {
		t.Logf("New: %v", err)
		if device != nil {
			t.Error("New must not return a device alongside an error")
		}
		return
	}
	defer device.Release()
	if device.Allocator() == nil {
		t.Error("an open device must have an allocator")
	}
}

func openDevice(t *testing.T) *Device {
	t.Helper()
	device, err := New()
	if err != nil {
		t.Logf("WebGPU not available: %v", err)
		t.Skip("WebGPU not available on this system")
	}
	return device
}

func TestAllocateAndFree(t *testing.T) {
	device := openDevice(t)
	defer device.Release()

	alloc := device.Allocator()
	buf, err := alloc.Allocate(64 * 1024)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if buf.Size() < 64*1024 {
		t.Errorf("buffer size = %d, want at least %d", buf.Size(), 64*1024)
	}
	alloc.Free(buf)
}

func TestPoolReuse(t *testing.T) {
	device := openDevice(t)
	defer device.Release()

	alloc := device.Allocator()
	buf, err := alloc.Allocate(32 * 1024)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	alloc.Free(buf)

	// A second request of equal or smaller size must come from the pool.
	again, err := alloc.Allocate(16 * 1024)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	hits, misses := alloc.Stats()
	t.Logf("pool hits: %d, misses: %d", hits, misses)
	if hits == 0 {
		t.Error("expected a pool hit on the second allocation")
	}
	if again != buf {
		t.Error("expected the pooled buffer back")
	}
	alloc.Free(again)
}

func TestAllocateNegative(t *testing.T) {
	device := openDevice(t)
	defer device.Release()

	if _, err := device.Allocator().Allocate(-1); err == nil {
		t.Error("negative allocation should fail")
	}
}
