package tensor

import "testing"

func TestStridesBijection(t *testing.T) {
	orders := []Order{OrderNCXYZ, OrderNCXZY, OrderNXYZC, OrderNXZYC}
	shape := [NumAxes]int{2, 3, 4, 5, 6}
	total := Volume(shape)

	for _, order := range orders {
		strides := Strides(order, shape)
		seen := make([]bool, total)
		var coord [NumAxes]int
		for coord[0] = 0; coord[0] < shape[0]; coord[0]++ {
			for coord[1] = 0; coord[1] < shape[1]; coord[1]++ {
				for coord[2] = 0; coord[2] < shape[2]; coord[2]++ {
					for coord[3] = 0; coord[3] < shape[3]; coord[3]++ {
						for coord[4] = 0; coord[4] < shape[4]; coord[4]++ {
							off := Offset(coord, strides)
							if off < 0 || off >= total {
								t.Fatalf("%s: offset %d of coord %v out of range [0,%d)", order, off, coord, total)
							}
							if seen[off] {
								t.Fatalf("%s: offset %d of coord %v already used", order, off, coord)
							}
							seen[off] = true
						}
					}
				}
			}
		}
	}
}

func TestStridesCanonical(t *testing.T) {
	shape := [NumAxes]int{2, 3, 4, 5, 6}
	got := Strides(OrderNCXYZ, shape)
	want := [NumAxes]int{360, 120, 30, 6, 1}
	if got != want {
		t.Fatalf("NCXYZ strides = %v, want %v", got, want)
	}
}

func TestStridesChannelLast(t *testing.T) {
	shape := [NumAxes]int{2, 3, 4, 5, 6}
	got := Strides(OrderNXYZC, shape)
	// Channels have unit stride, batch the largest.
	want := [NumAxes]int{360, 1, 90, 18, 3}
	if got != want {
		t.Fatalf("NXYZC strides = %v, want %v", got, want)
	}
	if got[1] != 1 {
		t.Fatalf("channel stride = %d, want 1", got[1])
	}
}

func TestStridesYZSwap(t *testing.T) {
	shape := [NumAxes]int{1, 1, 2, 3, 4}
	ncxzy := Strides(OrderNCXZY, shape)
	if ncxzy[3] != 1 || ncxzy[4] != 3 {
		t.Fatalf("NCXZY strides = %v, want y fastest", ncxzy)
	}
	nxzyc := Strides(OrderNXZYC, shape)
	if nxzyc[1] != 1 || nxzyc[3] != 1*shape[1] {
		t.Fatalf("NXZYC strides = %v", nxzyc)
	}
}

func TestParseVectorization(t *testing.T) {
	v, err := ParseVectorization("zyx")
	if err != nil || v != VectorizeZYX {
		t.Fatalf("zyx parsed to %v, %v", v, err)
	}
	v, err = ParseVectorization("yzx")
	if err != nil || v != VectorizeYZX {
		t.Fatalf("yzx parsed to %v, %v", v, err)
	}
	if _, err = ParseVectorization("xyz"); err == nil {
		t.Fatal("xyz accepted")
	}
}

func TestVectorizationInputOrder(t *testing.T) {
	if VectorizeZYX.InputOrder() != OrderNCXYZ {
		t.Fatal("zyx should map to NCXYZ")
	}
	if VectorizeYZX.InputOrder() != OrderNCXZY {
		t.Fatal("yzx should map to NCXZY")
	}
}

func TestVectorizationFromInt(t *testing.T) {
	for _, v := range []Vectorization{VectorizeZYX, VectorizeYZX} {
		got, err := VectorizationFromInt(int(v))
		if err != nil || got != v {
			t.Fatalf("round trip of %v gave %v, %v", v, got, err)
		}
	}
	if _, err := VectorizationFromInt(7); err == nil {
		t.Fatal("tag 7 accepted")
	}
}
