package fusefs

import (
	"context"
	"log/slog"
	gopath "path"
	"syscall"

	gofusefs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/meigma/mirrorfs/internal/cache"
	"github.com/meigma/mirrorfs/internal/control"
)

// mirrorNode exposes one origin path through the mount. The root node also
// hangs the control tree off its directory.
type mirrorNode struct {
	gofusefs.Inode
	eng     *cache.Engine
	surface *control.Surface
	logger  *slog.Logger
	path    string
}

var (
	_ = (gofusefs.InodeEmbedder)((*mirrorNode)(nil))
	_ = (gofusefs.NodeLookuper)((*mirrorNode)(nil))
	_ = (gofusefs.NodeGetattrer)((*mirrorNode)(nil))
	_ = (gofusefs.NodeReaddirer)((*mirrorNode)(nil))
	_ = (gofusefs.NodeOpener)((*mirrorNode)(nil))
	_ = (gofusefs.NodeReader)((*mirrorNode)(nil))
	_ = (gofusefs.NodeWriter)((*mirrorNode)(nil))
	_ = (gofusefs.NodeSetattrer)((*mirrorNode)(nil))
	_ = (gofusefs.NodeCreater)((*mirrorNode)(nil))
	_ = (gofusefs.NodeMkdirer)((*mirrorNode)(nil))
	_ = (gofusefs.NodeMknoder)((*mirrorNode)(nil))
	_ = (gofusefs.NodeUnlinker)((*mirrorNode)(nil))
	_ = (gofusefs.NodeRmdirer)((*mirrorNode)(nil))
	_ = (gofusefs.NodeRenamer)((*mirrorNode)(nil))
)

func (n *mirrorNode) isRoot() bool {
	return n.path == "/"
}

func (n *mirrorNode) childPath(name string) string {
	return gopath.Join(n.path, name)
}

func (n *mirrorNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofusefs.Inode, syscall.Errno) {
	if n.isRoot() && n.surface != nil && name == n.surface.Name() {
		node := &controlNode{surface: n.surface, real: "/", isFile: false}
		out.Attr.Mode = syscall.S_IFDIR | 0o755
		return n.NewInode(ctx, node, gofusefs.StableAttr{Mode: syscall.S_IFDIR}), 0
	}

	child := n.childPath(name)
	attr, err := n.eng.Getattr(ctx, child)
	if err != nil {
		return nil, errnoOf(err)
	}
	attrToFuse(attr, &out.Attr)
	node := &mirrorNode{
		eng:     n.eng,
		surface: n.surface,
		logger:  n.logger,
		path:    child,
	}
	return n.NewInode(ctx, node, stableAttr(attr)), 0
}

func (n *mirrorNode) Getattr(ctx context.Context, f gofusefs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	attr, err := n.eng.Getattr(ctx, n.path)
	if err != nil {
		return errnoOf(err)
	}
	attrToFuse(attr, &out.Attr)
	return 0
}

func (n *mirrorNode) Readdir(ctx context.Context) (gofusefs.DirStream, syscall.Errno) {
	names, err := n.eng.Readdir(ctx, n.path, 0)
	if err != nil {
		return nil, errnoOf(err)
	}
	ents := make([]fuse.DirEntry, 0, len(names)+1)
	for _, name := range names {
		ents = append(ents, fuse.DirEntry{Name: name})
	}
	if n.isRoot() && n.surface != nil {
		ents = append(ents, fuse.DirEntry{
			Name: n.surface.Name(),
			Mode: syscall.S_IFDIR,
		})
	}
	return gofusefs.NewListDirStream(ents), 0
}

func (n *mirrorNode) Open(ctx context.Context, flags uint32) (gofusefs.FileHandle, uint32, syscall.Errno) {
	if err := n.eng.Open(n.path, flags); err != nil {
		return nil, 0, errnoOf(err)
	}
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (n *mirrorNode) Read(ctx context.Context, f gofusefs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, err := n.eng.Read(ctx, n.path, int64(len(dest)), off)
	if err != nil {
		n.logger.Debug("read failed", "path", n.path, "offset", off, "error", err)
		return nil, errnoOf(err)
	}
	return fuse.ReadResultData(data), 0
}

// The mirror is read-only: every namespace or data mutation is refused.

func (n *mirrorNode) Write(ctx context.Context, f gofusefs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	return 0, syscall.EROFS
}

func (n *mirrorNode) Setattr(ctx context.Context, f gofusefs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	return syscall.EROFS
}

func (n *mirrorNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*gofusefs.Inode, gofusefs.FileHandle, uint32, syscall.Errno) {
	return nil, nil, 0, syscall.EROFS
}

func (n *mirrorNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*gofusefs.Inode, syscall.Errno) {
	return nil, syscall.EROFS
}

func (n *mirrorNode) Mknod(ctx context.Context, name string, mode uint32, dev uint32, out *fuse.EntryOut) (*gofusefs.Inode, syscall.Errno) {
	return nil, syscall.EROFS
}

func (n *mirrorNode) Unlink(ctx context.Context, name string) syscall.Errno {
	return syscall.EROFS
}

func (n *mirrorNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	return syscall.EROFS
}

func (n *mirrorNode) Rename(ctx context.Context, name string, newParent gofusefs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	return syscall.EROFS
}
