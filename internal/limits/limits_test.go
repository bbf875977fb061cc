package limits

import "testing"

func TestTakenGiven(t *testing.T) {
	s := Sysatomic_t(2)
	if !s.Take() {
		t.Fatal("first take should succeed")
	}
	if !s.Take() {
		t.Fatal("second take should succeed")
	}
	if s.Take() {
		t.Fatal("third take should fail: limit exhausted")
	}
	s.Give()
	if !s.Take() {
		t.Fatal("take after give should succeed")
	}
}

func TestTakenNegativeOnExhaustion(t *testing.T) {
	s := Sysatomic_t(0)
	before := int64(s)
	if s.Taken(5) {
		t.Fatal("taking more than available should fail")
	}
	if int64(s) != before {
		t.Fatalf("failed Taken must restore the limit, got %d want %d", s, before)
	}
}
