package msi

import "testing"

func TestAllocFree(t *testing.T) {
	v := Msi_alloc()
	if v < 56 || v > 63 {
		t.Fatalf("vector %d out of reserved range", v)
	}
	Msi_free(v)
	v2 := Msi_alloc()
	Msi_free(v2)
}

func TestDoubleFreePanics(t *testing.T) {
	v := Msi_alloc()
	Msi_free(v)
	defer func() {
		if recover() == nil {
			t.Fatal("double free should panic")
		}
	}()
	Msi_free(v)
}
