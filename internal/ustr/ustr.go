// Package ustr implements Ustr, the byte-slice path/string type used
// everywhere a kernel path is passed around instead of a Go string, so
// that a path copied in from user memory (internal/vm's CopyCstring) never has
// to round-trip through a string allocation. Grounded on the teacher's
// ustr/ustr.go.
package ustr

// Ustr represents an immutable path or string used by the kernel.
type Ustr []uint8

// Isdot reports whether the string equals '.'.
func (us Ustr) Isdot() bool {
	return len(us) == 1 && us[0] == '.'
}

// Isdotdot reports whether the string equals '..'.
func (us Ustr) Isdotdot() bool {
	return len(us) == 2 && us[0] == '.' && us[1] == '.'
}

// Eq compares two Ustr values for equality.
func (us Ustr) Eq(s Ustr) bool {
	if len(us) != len(s) {
		return false
	}
	for i, v := range us {
		if v != s[i] {
			return false
		}
	}
	return true
}

// MkUstr creates an empty Ustr value.
func MkUstr() Ustr {
	return Ustr{}
}

// MkUstrDot returns a Ustr representing '.'.
func MkUstrDot() Ustr {
	return Ustr(".")
}

// MkUstrRoot returns a Ustr for the root directory '/'.
func MkUstrRoot() Ustr {
	return Ustr("/")
}

// DotDot is a reusable Ustr containing "..".
var DotDot = Ustr{'.', '.'}

// MkUstrSlice converts a NUL-terminated byte slice to a Ustr, truncating at
// the first NUL. internal/vm's CopyCstring does its own NUL scan and does
// not call it.
func MkUstrSlice(buf []uint8) Ustr {
	for i := 0; i < len(buf); i++ {
		if buf[i] == 0 {
			return buf[:i]
		}
	}
	return buf
}

// Extend appends '/' and p to the current Ustr and returns the result.
func (us Ustr) Extend(p Ustr) Ustr {
	tmp := make(Ustr, len(us))
	copy(tmp, us)
	r := append(tmp, '/')
	return append(r, p...)
}

// ExtendStr appends '/' and the string p to the current Ustr.
func (us Ustr) ExtendStr(p string) Ustr {
	return us.Extend(Ustr(p))
}

// IsAbsolute reports whether the path begins with '/'.
func (us Ustr) IsAbsolute() bool {
	if len(us) == 0 {
		return false
	}
	return us[0] == '/'
}

// IndexByte returns the index of b in the string or -1 if not present.
func (us Ustr) IndexByte(b uint8) int {
	for i, v := range us {
		if v == b {
			return i
		}
	}
	return -1
}

// String converts the Ustr to a Go string.
func (us Ustr) String() string {
	return string(us)
}

// Components splits the path into its non-empty, non-dot slash-separated
// components, e.g. "/a//b/./c" -> ["a","b","c"]. Used by the VFS path
// walker (internal/fs) to resolve a canonical path one dentry at a time.
func (us Ustr) Components() []Ustr {
	var out []Ustr
	start := -1
	for i := 0; i <= len(us); i++ {
		atEnd := i == len(us)
		if !atEnd && us[i] != '/' {
			if start == -1 {
				start = i
			}
			continue
		}
		if start != -1 {
			comp := us[start:i]
			if !comp.Isdot() {
				out = append(out, comp)
			}
			start = -1
		}
	}
	return out
}
