package fusefs

import (
	"context"
	gopath "path"
	"syscall"

	gofusefs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/meigma/mirrorfs/internal/control"
)

// controlNode mirrors one origin path inside the control tree. Directories
// mirror as directories; regular files mirror as directories holding the
// cached pseudo-file.
type controlNode struct {
	gofusefs.Inode
	surface *control.Surface
	real    string
	isFile  bool
}

var (
	_ = (gofusefs.InodeEmbedder)((*controlNode)(nil))
	_ = (gofusefs.NodeLookuper)((*controlNode)(nil))
	_ = (gofusefs.NodeGetattrer)((*controlNode)(nil))
	_ = (gofusefs.NodeReaddirer)((*controlNode)(nil))
)

func (n *controlNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofusefs.Inode, syscall.Errno) {
	if n.isFile {
		if name != control.CachedFile {
			return nil, syscall.ENOENT
		}
		node := &cachedNode{surface: n.surface, real: n.real}
		content, err := n.surface.ReadCached(ctx, n.real)
		if err != nil {
			return nil, errnoOf(err)
		}
		cachedAttr(len(content), &out.Attr)
		return n.NewInode(ctx, node, gofusefs.StableAttr{Mode: syscall.S_IFREG}), 0
	}

	child := gopath.Join(n.real, name)
	attr, err := n.surface.Stat(ctx, child)
	if err != nil {
		return nil, errnoOf(err)
	}
	node := &controlNode{surface: n.surface, real: child, isFile: attr.IsRegular()}
	out.Attr.Mode = syscall.S_IFDIR | 0o755
	return n.NewInode(ctx, node, gofusefs.StableAttr{Mode: syscall.S_IFDIR}), 0
}

func (n *controlNode) Getattr(ctx context.Context, f gofusefs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Attr.Mode = syscall.S_IFDIR | 0o755
	out.Attr.Nlink = 2
	return 0
}

func (n *controlNode) Readdir(ctx context.Context) (gofusefs.DirStream, syscall.Errno) {
	if n.isFile {
		return gofusefs.NewListDirStream([]fuse.DirEntry{
			{Name: control.CachedFile, Mode: syscall.S_IFREG},
		}), 0
	}
	names, err := n.surface.List(ctx, n.real)
	if err != nil {
		return nil, errnoOf(err)
	}
	ents := make([]fuse.DirEntry, 0, len(names))
	for _, name := range names {
		ents = append(ents, fuse.DirEntry{Name: name, Mode: syscall.S_IFDIR})
	}
	return gofusefs.NewListDirStream(ents), 0
}

// cachedNode is the read/write pseudo-file reporting and driving cache
// state for one mirrored file.
type cachedNode struct {
	gofusefs.Inode
	surface *control.Surface
	real    string
}

var (
	_ = (gofusefs.InodeEmbedder)((*cachedNode)(nil))
	_ = (gofusefs.NodeGetattrer)((*cachedNode)(nil))
	_ = (gofusefs.NodeOpener)((*cachedNode)(nil))
	_ = (gofusefs.NodeReader)((*cachedNode)(nil))
	_ = (gofusefs.NodeWriter)((*cachedNode)(nil))
	_ = (gofusefs.NodeSetattrer)((*cachedNode)(nil))
)

func (n *cachedNode) Getattr(ctx context.Context, f gofusefs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	content, err := n.surface.ReadCached(ctx, n.real)
	if err != nil {
		return errnoOf(err)
	}
	cachedAttr(len(content), &out.Attr)
	return 0
}

// Open allows both read and write access: reads report coverage, writes
// drive prefetch and invalidation. Content is generated per request, so
// the kernel page cache is bypassed.
func (n *cachedNode) Open(ctx context.Context, flags uint32) (gofusefs.FileHandle, uint32, syscall.Errno) {
	return nil, fuse.FOPEN_DIRECT_IO, 0
}

func (n *cachedNode) Read(ctx context.Context, f gofusefs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	content, err := n.surface.ReadCached(ctx, n.real)
	if err != nil {
		return nil, errnoOf(err)
	}
	if off >= int64(len(content)) {
		return fuse.ReadResultData(nil), 0
	}
	end := min(off+int64(len(dest)), int64(len(content)))
	return fuse.ReadResultData([]byte(content)[off:end]), 0
}

func (n *cachedNode) Write(ctx context.Context, f gofusefs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	if err := n.surface.WriteCached(ctx, n.real, data); err != nil {
		return 0, errnoOf(err)
	}
	return uint32(len(data)), 0
}

// Setattr accepts truncation so shells can `echo 1 >` the pseudo-file; the
// content is synthesized, so there is nothing to truncate.
func (n *cachedNode) Setattr(ctx context.Context, f gofusefs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	return n.Getattr(ctx, f, out)
}

func cachedAttr(size int, out *fuse.Attr) {
	out.Mode = syscall.S_IFREG | 0o644
	out.Nlink = 1
	out.Size = uint64(size)
}
