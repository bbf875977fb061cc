// Package fs implements spec.md §4.9's Virtual Filesystem: an Inode/Dentry/
// File object model over a single in-memory tmpfs tree, populated at boot
// from a CPIO "newc" initramfs archive (cpio.go). Grounded on the teacher's
// fs/ufs split (Fs_t holding the filesystem, operations named Fs_openat/
// Fs_mkdirat/... taking a path and the caller's cwd) but with no on-disk
// backing at all: every Inode_t's content lives directly in mem.Phys
// frames, so there is no log, superblock, or block cache layer to carry
// over from the teacher's AHCI-backed ufs.
package fs

import (
	"sync"

	"levitateos/internal/defs"
	"levitateos/internal/fd"
	"levitateos/internal/hashtable"
	"levitateos/internal/oommsg"
	"levitateos/internal/ustr"
)

// dkey is the dentry cache's key: a (parent inode, child name) pair.
type dkey struct {
	parent uint64
	name   string
}

// Fs_t is the tmpfs-backed VFS rooted at "/". One instance exists for the
// lifetime of the kernel, built by internal/userinit before PID 1 spawns.
type Fs_t struct {
	sync.Mutex
	root    *Inode_t
	dcache  *hashtable.Hashtable_t[dkey, *Inode_t]
	nextIno uint64

	orphanMu sync.Mutex
	orphans  []*Inode_t
}

// NewTmpfs allocates an empty tmpfs with just a root directory and starts
// the OOM reclaim goroutine. internal/mem's Alloc_frames blocks forever on
// oommsg.OomCh with no receiver, so this is the first and only consumer of
// that channel the retrieved pack ever wires up.
func NewTmpfs() *Fs_t {
	f := &Fs_t{
		dcache:  hashtable.MkHash[dkey, *Inode_t](256),
		nextIno: 2,
	}
	f.root = &Inode_t{Ino: 1, Mode: defs.S_IFDIR | 0755, Nlink: 2}
	go f.reclaimLoop()
	return f
}

// reclaimLoop answers internal/mem's OOM rendezvous: an unlinked inode kept
// alive only because a File_t still has it open (the classic "delete while
// open" orphan) has its backing pages freed the moment its last reference
// goes away. In the common case that already happens synchronously inside
// File_t.Close, so orphans is usually empty by the time a real OOM signal
// arrives; this loop exists so the allocator's retry always has a receiver
// to unblock it, and frees whatever happens to still be pending.
func (f *Fs_t) reclaimLoop() {
	for msg := range oommsg.OomCh {
		f.orphanMu.Lock()
		live := f.orphans[:0]
		for _, ino := range f.orphans {
			ino.Lock()
			if ino.refcount == 0 {
				ino.freePages()
			} else {
				live = append(live, ino)
			}
			ino.Unlock()
		}
		f.orphans = live
		f.orphanMu.Unlock()
		msg.Resume <- true
	}
}

func (f *Fs_t) allocIno() uint64 {
	f.Lock()
	defer f.Unlock()
	ino := f.nextIno
	f.nextIno++
	return ino
}

// lookupChild finds name within dir (already locked by the caller),
// consulting the dentry cache before falling back to a linear scan of
// dir.children, the same lazy-population idiom as the teacher's hashtable
// use elsewhere in the pack.
func (f *Fs_t) lookupChild(dir *Inode_t, name string) (*Inode_t, bool) {
	key := dkey{parent: dir.Ino, name: name}
	if ino, ok := f.dcache.Get(key); ok {
		return ino, true
	}
	for _, d := range dir.children {
		if d.Name == name {
			f.dcache.Set(key, d.Inode)
			return d.Inode, true
		}
	}
	return nil, false
}

func (f *Fs_t) insertChild(dir *Inode_t, name string, child *Inode_t) {
	dir.children = append(dir.children, &Dentry_t{Name: name, Inode: child})
	f.dcache.Set(dkey{parent: dir.Ino, name: name}, child)
}

func (f *Fs_t) removeChild(dir *Inode_t, name string) {
	for i, d := range dir.children {
		if d.Name == name {
			dir.children = append(dir.children[:i], dir.children[i+1:]...)
			break
		}
	}
	if _, ok := f.dcache.Get(dkey{parent: dir.Ino, name: name}); ok {
		f.dcache.Del(dkey{parent: dir.Ino, name: name})
	}
}

// walkParent resolves every component but the last, which must each be a
// directory, and returns the parent plus the final path component.
// Intermediate symlinks are not followed: a teaching kernel's tmpfs only
// ever holds symlinks created directly by symlinkat, and no spec.md
// scenario chains one through another path lookup, so resolving only the
// last component (in lookup, below) covers every required handler without
// the recursive, cycle-guarded splicing a general-purpose VFS needs.
func (f *Fs_t) walkParent(path ustr.Ustr) (*Inode_t, string, defs.Err_t) {
	comps := path.Components()
	if len(comps) == 0 {
		return nil, "", -defs.EINVAL
	}
	cur := f.root
	for _, c := range comps[:len(comps)-1] {
		cur.Lock()
		if cur.Mode&defs.S_IFMT != defs.S_IFDIR {
			cur.Unlock()
			return nil, "", -defs.ENOTDIR
		}
		child, ok := f.lookupChild(cur, c.String())
		cur.Unlock()
		if !ok {
			return nil, "", -defs.ENOENT
		}
		cur = child
	}
	return cur, comps[len(comps)-1].String(), 0
}

// lookup resolves the full path, including its last component. The
// returned inode may itself be a symlink; Open follows it at most once.
func (f *Fs_t) lookup(path ustr.Ustr) (*Inode_t, defs.Err_t) {
	if len(path.Components()) == 0 {
		return f.root, 0
	}
	dir, leaf, err := f.walkParent(path)
	if err != 0 {
		return nil, err
	}
	dir.Lock()
	if dir.Mode&defs.S_IFMT != defs.S_IFDIR {
		dir.Unlock()
		return nil, -defs.ENOTDIR
	}
	child, ok := f.lookupChild(dir, leaf)
	dir.Unlock()
	if !ok {
		return nil, -defs.ENOENT
	}
	return child, 0
}

// Open resolves path and returns a File_t, creating it first if O_CREAT is
// set and it does not exist. A trailing symlink is followed exactly once;
// O_NOFOLLOW support is not implemented, since no required handler name
// takes that flag.
func (f *Fs_t) Open(path ustr.Ustr, flags int, mode uint32) (*fd.Fd_t, defs.Err_t) {
	ino, err := f.lookup(path)
	if err == -defs.ENOENT && flags&defs.O_CREAT != 0 {
		dir, leaf, werr := f.walkParent(path)
		if werr != 0 {
			return nil, werr
		}
		dir.Lock()
		if _, exists := f.lookupChild(dir, leaf); exists {
			dir.Unlock()
			return nil, -defs.EEXIST
		}
		newIno := &Inode_t{Ino: f.allocIno(), Mode: defs.S_IFREG | (mode &^ 0o170000), Nlink: 1}
		f.insertChild(dir, leaf, newIno)
		dir.Unlock()
		ino = newIno
		err = 0
	}
	if err != 0 {
		return nil, err
	}
	if ino.Mode&defs.S_IFMT == defs.S_IFLNK {
		ino.Lock()
		target := ino.target
		ino.Unlock()
		ino, err = f.lookup(target)
		if err != 0 {
			return nil, err
		}
	}

	if ino.Mode&defs.S_IFMT == defs.S_IFCHR {
		ino.Lock()
		rdev := ino.Rdev
		ino.Unlock()
		ops, derr := openDevice(rdev)
		if derr != 0 {
			return nil, derr
		}
		return &fd.Fd_t{Fops: ops, Perms: permsForFlags(flags)}, 0
	}

	if flags&defs.O_TRUNC != 0 && ino.Mode&defs.S_IFMT == defs.S_IFREG {
		ino.Lock()
		ino.shrinkTo(0)
		ino.Unlock()
	}

	ino.Lock()
	ino.refcount++
	isDir := ino.Mode&defs.S_IFMT == defs.S_IFDIR
	ino.Unlock()

	file := &File_t{fs: f, inode: ino, isDir: isDir}
	return &fd.Fd_t{Fops: file, Perms: permsForFlags(flags)}, 0
}

func permsForFlags(flags int) int {
	if flags&defs.O_WRONLY != 0 {
		return fd.FD_WRITE
	}
	if flags&defs.O_RDWR != 0 {
		return fd.FD_READ | fd.FD_WRITE
	}
	return fd.FD_READ
}

// Mknod creates a character device node at path, carrying device number
// rdev (defs.Mkdev-encoded). The node is only openable once a matching
// Fdops_i factory has been installed via RegisterDevice; opening it first
// returns -ENXIO, the same as Linux opening a device node with no loaded
// driver.
func (f *Fs_t) Mknod(path ustr.Ustr, mode uint32, rdev uint) defs.Err_t {
	dir, leaf, err := f.walkParent(path)
	if err != 0 {
		return err
	}
	dir.Lock()
	defer dir.Unlock()
	if _, exists := f.lookupChild(dir, leaf); exists {
		return -defs.EEXIST
	}
	newIno := &Inode_t{Ino: f.allocIno(), Mode: defs.S_IFCHR | (mode &^ 0o170000), Nlink: 1, Rdev: rdev}
	f.insertChild(dir, leaf, newIno)
	return 0
}

// mkdirAll creates every path component that does not already exist as a
// directory, used by the CPIO loader so a file entry whose parent
// directory the archive never listed explicitly still lands correctly.
func (f *Fs_t) mkdirAll(path ustr.Ustr, mode uint32) defs.Err_t {
	comps := path.Components()
	cur := f.root
	for _, c := range comps {
		cur.Lock()
		child, ok := f.lookupChild(cur, c.String())
		if ok {
			isDir := child.Mode&defs.S_IFMT == defs.S_IFDIR
			cur.Unlock()
			if !isDir {
				return -defs.ENOTDIR
			}
			cur = child
			continue
		}
		newDir := &Inode_t{Ino: f.allocIno(), Mode: defs.S_IFDIR | (mode &^ 0o170000), Nlink: 2}
		f.insertChild(cur, c.String(), newDir)
		cur.Nlink++
		cur.Unlock()
		cur = newDir
	}
	return 0
}

// Mkdir creates an empty directory at path.
func (f *Fs_t) Mkdir(path ustr.Ustr, mode uint32) defs.Err_t {
	dir, leaf, err := f.walkParent(path)
	if err != 0 {
		return err
	}
	dir.Lock()
	defer dir.Unlock()
	if _, exists := f.lookupChild(dir, leaf); exists {
		return -defs.EEXIST
	}
	newDir := &Inode_t{Ino: f.allocIno(), Mode: defs.S_IFDIR | (mode &^ 0o170000), Nlink: 2}
	f.insertChild(dir, leaf, newDir)
	dir.Nlink++
	return 0
}

// Unlink removes path. If rmdir is set, path must name an empty directory;
// otherwise it must not name a directory at all.
func (f *Fs_t) Unlink(path ustr.Ustr, rmdir bool) defs.Err_t {
	dir, leaf, err := f.walkParent(path)
	if err != 0 {
		return err
	}
	dir.Lock()
	child, ok := f.lookupChild(dir, leaf)
	if !ok {
		dir.Unlock()
		return -defs.ENOENT
	}
	child.Lock()
	isDir := child.Mode&defs.S_IFMT == defs.S_IFDIR
	if rmdir && !isDir {
		child.Unlock()
		dir.Unlock()
		return -defs.ENOTDIR
	}
	if !rmdir && isDir {
		child.Unlock()
		dir.Unlock()
		return -defs.EISDIR
	}
	if isDir && len(child.children) != 0 {
		child.Unlock()
		dir.Unlock()
		return -defs.ENOTEMPTY
	}
	f.removeChild(dir, leaf)
	if isDir {
		dir.Nlink--
	}
	child.Nlink--
	if child.Nlink == 0 {
		if child.refcount == 0 {
			child.freePages()
		} else {
			child.unlinked = true
			f.orphanMu.Lock()
			f.orphans = append(f.orphans, child)
			f.orphanMu.Unlock()
		}
	}
	child.Unlock()
	dir.Unlock()
	return 0
}

// Rename moves oldp to newp, both resolved as absolute paths. A directory
// may not be renamed into its own subtree (-EINVAL, decided by comparing
// path components); no other cycle detection is attempted, since a single
// flat tmpfs tree rather than cross-filesystem mounts is the only topology
// spec.md's kernel core ever builds.
func (f *Fs_t) Rename(oldp, newp ustr.Ustr) defs.Err_t {
	srcDir, srcLeaf, err := f.walkParent(oldp)
	if err != 0 {
		return err
	}
	dstDir, dstLeaf, err := f.walkParent(newp)
	if err != 0 {
		return err
	}
	if oc, nc := oldp.Components(), newp.Components(); len(nc) > len(oc) {
		below := true
		for i := range oc {
			if !oc[i].Eq(nc[i]) {
				below = false
				break
			}
		}
		if below {
			return -defs.EINVAL
		}
	}

	// Lock both parent directories in a fixed order keyed by inode number
	// (or just once, if renaming within the same directory) so two
	// renames crossing the same pair of directories never deadlock.
	switch {
	case srcDir == dstDir:
		srcDir.Lock()
		defer srcDir.Unlock()
	case srcDir.Ino < dstDir.Ino:
		srcDir.Lock()
		defer srcDir.Unlock()
		dstDir.Lock()
		defer dstDir.Unlock()
	default:
		dstDir.Lock()
		defer dstDir.Unlock()
		srcDir.Lock()
		defer srcDir.Unlock()
	}

	child, ok := f.lookupChild(srcDir, srcLeaf)
	if !ok {
		return -defs.ENOENT
	}
	f.removeChild(srcDir, srcLeaf)
	if existing, exists := f.lookupChild(dstDir, dstLeaf); exists {
		f.removeChild(dstDir, dstLeaf)
		existing.Lock()
		existing.Nlink--
		if existing.Nlink == 0 && existing.refcount == 0 {
			existing.freePages()
		}
		existing.Unlock()
	}
	f.insertChild(dstDir, dstLeaf, child)
	return 0
}

// Link creates newp as a second name for the inode at oldp (a hard link);
// directories may not be hard-linked, matching Linux.
func (f *Fs_t) Link(oldp, newp ustr.Ustr) defs.Err_t {
	target, err := f.lookup(oldp)
	if err != 0 {
		return err
	}
	target.Lock()
	if target.Mode&defs.S_IFMT == defs.S_IFDIR {
		target.Unlock()
		return -defs.EPERM
	}
	target.Unlock()

	dir, leaf, werr := f.walkParent(newp)
	if werr != 0 {
		return werr
	}
	dir.Lock()
	defer dir.Unlock()
	if _, exists := f.lookupChild(dir, leaf); exists {
		return -defs.EEXIST
	}
	target.Lock()
	target.Nlink++
	target.Unlock()
	f.insertChild(dir, leaf, target)
	return 0
}

// Symlink creates linkpath as a symbolic link containing target verbatim
// (not resolved or validated at creation time, matching Linux).
func (f *Fs_t) Symlink(target, linkpath ustr.Ustr) defs.Err_t {
	dir, leaf, err := f.walkParent(linkpath)
	if err != 0 {
		return err
	}
	dir.Lock()
	defer dir.Unlock()
	if _, exists := f.lookupChild(dir, leaf); exists {
		return -defs.EEXIST
	}
	link := &Inode_t{Ino: f.allocIno(), Mode: defs.S_IFLNK | 0o777, Nlink: 1, target: append(ustr.Ustr{}, target...)}
	f.insertChild(dir, leaf, link)
	return 0
}

// Readlink returns the verbatim target of the symlink at path.
func (f *Fs_t) Readlink(path ustr.Ustr) (ustr.Ustr, defs.Err_t) {
	ino, err := f.lookup(path)
	if err != 0 {
		return nil, err
	}
	ino.Lock()
	defer ino.Unlock()
	if ino.Mode&defs.S_IFMT != defs.S_IFLNK {
		return nil, -defs.EINVAL
	}
	return ino.target, 0
}

// Stat fills st with the metadata for path, following a trailing symlink.
func (f *Fs_t) Stat(path ustr.Ustr, st *defs.Stat_t) defs.Err_t {
	ino, err := f.lookup(path)
	if err != 0 {
		return err
	}
	if ino.Mode&defs.S_IFMT == defs.S_IFLNK {
		ino.Lock()
		target := ino.target
		ino.Unlock()
		ino, err = f.lookup(target)
		if err != 0 {
			return err
		}
	}
	ino.Lock()
	defer ino.Unlock()
	fillStat(ino, st)
	return 0
}

func fillStat(ino *Inode_t, st *defs.Stat_t) {
	st.Ino = ino.Ino
	st.Mode = ino.Mode
	st.Nlink = uint32(ino.Nlink)
	st.Rdev = uint64(ino.Rdev)
	st.Size = ino.size
	st.Blksize = int64(0x1000)
	st.Blocks = (ino.size + 511) / 512
}
