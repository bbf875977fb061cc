package accnt

import "testing"

func TestUtaddSystadd(t *testing.T) {
	var a Accnt_t
	a.Utadd(100)
	a.Systadd(200)
	if a.Userns != 100 || a.Sysns != 200 {
		t.Fatalf("got userns=%d sysns=%d", a.Userns, a.Sysns)
	}
}

func TestAdd(t *testing.T) {
	var a, b Accnt_t
	a.Utadd(10)
	a.Systadd(20)
	b.Utadd(5)
	b.Systadd(7)
	a.Add(&b)
	if a.Userns != 15 || a.Sysns != 27 {
		t.Fatalf("got userns=%d sysns=%d", a.Userns, a.Sysns)
	}
}

func TestToRusage(t *testing.T) {
	var a Accnt_t
	a.Utadd(1_500_000_000) // 1.5s
	buf := a.To_rusage()
	if len(buf) != 32 {
		t.Fatalf("got %d bytes, want 32", len(buf))
	}
}
