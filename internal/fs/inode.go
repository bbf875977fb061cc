package fs

import (
	"sync"

	"levitateos/internal/defs"
	"levitateos/internal/mem"
	"levitateos/internal/ustr"
	"levitateos/internal/util"
)

// Inode_t is spec.md's Inode ("type, mode, size, fs-ops"): one per tmpfs
// object, regardless of how many Dentry_t names or open Files reference it.
// A regular file's content lives in ordinary mem.Phys frames, one per page,
// rather than in a plain Go byte slice: tmpfs.go's reclaim goroutine can
// only hand pages back to internal/mem's allocator during real memory
// pressure if file content is actually backed by that allocator.
type Inode_t struct {
	sync.Mutex
	Ino   uint64
	Mode  uint32 // S_IFMT bits (defs.S_IFREG/S_IFDIR/S_IFLNK/S_IFCHR) plus permission bits
	Nlink int
	Rdev  uint // device number (defs.Mkdev), meaningful only when Mode&S_IFMT == S_IFCHR

	size     int64
	pages    []mem.Pa_t  // regular file content
	target   ustr.Ustr   // symlink target
	children []*Dentry_t // directory entries, in creation order

	refcount int  // number of open File_t handles referencing this inode
	unlinked bool // Nlink reached 0 while refcount > 0
}

// Dentry_t names an Inode_t within a parent directory: spec.md's Dentry
// ("name in parent"). The dentry cache in tmpfs.go maps (parent inode,
// name) to the Inode_t directly; Dentry_t itself is the weak, order-stable
// record a directory's children list and getdents64 walk over.
type Dentry_t struct {
	Name  string
	Inode *Inode_t
}

// growTo ensures the inode has at least newSize bytes of zero-filled
// backing, allocating whole pages from internal/mem the same way
// internal/vm.MapAnon backs a VMA eagerly rather than on demand.
func (ino *Inode_t) growTo(newSize int64) defs.Err_t {
	wantPages := int(util.Roundup(uintptr(newSize), uintptr(mem.PGSIZE))) / mem.PGSIZE
	for len(ino.pages) < wantPages {
		pa, ok := mem.Phys.Alloc_frames(0)
		if !ok {
			return -defs.ENOMEM
		}
		bytes := mem.Pg2bytes(mem.Phys.Dmap(pa))
		for i := range bytes {
			bytes[i] = 0
		}
		ino.pages = append(ino.pages, pa)
	}
	if newSize > ino.size {
		ino.size = newSize
	}
	return 0
}

// shrinkTo frees every page beyond newSize, used by truncate and by
// freePages (newSize 0) when an orphan inode's last reference goes away.
func (ino *Inode_t) shrinkTo(newSize int64) {
	wantPages := int(util.Roundup(uintptr(newSize), uintptr(mem.PGSIZE))) / mem.PGSIZE
	for len(ino.pages) > wantPages {
		last := len(ino.pages) - 1
		pa := ino.pages[last]
		ino.pages = ino.pages[:last]
		if mem.Phys.Refdown(pa) {
			mem.Phys.Free_frames(pa, 0)
		}
	}
	ino.size = newSize
}

// freePages releases every backing page; called once an inode's refcount
// and Nlink both reach zero.
func (ino *Inode_t) freePages() {
	ino.shrinkTo(0)
}

func (ino *Inode_t) readAt(dst []byte, off int64) (int, defs.Err_t) {
	if off >= ino.size {
		return 0, 0
	}
	n := int64(len(dst))
	if off+n > ino.size {
		n = ino.size - off
	}
	total := 0
	for total < int(n) {
		pageno := int((off + int64(total)) / int64(mem.PGSIZE))
		inpage := int((off + int64(total)) % int64(mem.PGSIZE))
		bytes := mem.Pg2bytes(mem.Phys.Dmap(ino.pages[pageno]))
		k := mem.PGSIZE - inpage
		if rem := int(n) - total; k > rem {
			k = rem
		}
		copy(dst[total:total+k], bytes[inpage:inpage+k])
		total += k
	}
	return total, 0
}

func (ino *Inode_t) writeAt(src []byte, off int64) (int, defs.Err_t) {
	end := off + int64(len(src))
	if end > ino.size {
		if err := ino.growTo(end); err != 0 {
			return 0, err
		}
	}
	total := 0
	for total < len(src) {
		pageno := int((off + int64(total)) / int64(mem.PGSIZE))
		inpage := int((off + int64(total)) % int64(mem.PGSIZE))
		bytes := mem.Pg2bytes(mem.Phys.Dmap(ino.pages[pageno]))
		k := mem.PGSIZE - inpage
		if rem := len(src) - total; k > rem {
			k = rem
		}
		copy(bytes[inpage:inpage+k], src[total:total+k])
		total += k
	}
	return total, 0
}
