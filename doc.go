// Package mirrorfs provides a persistently caching read-only mirror of a
// directory tree.
//
// A mirror presents the origin directory unchanged while recording every
// byte read, every directory listing and every attribute queried into a
// cache directory. Later reads are served from the cache without touching
// the origin, so a mirror keeps working when the origin is slow or gone.
//
// # Basic Usage
//
// Create a filesystem and mount it:
//
//	fsys, err := mirrorfs.New("/var/cache/mirror", "/mnt/slow-archive")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	server, err := fsys.Mount("/mnt/mirror", mirrorfs.MountConfig{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	server.Wait()
//
// # Cache-only mode
//
// With cache-only mode enabled the origin is never consulted; requests
// that cannot be served from the cache fail:
//
//	fsys.SetCacheOnly(true)
//
// # Control surface
//
// Inside the mount, the ".control" tree mirrors the origin structure and
// exposes one pseudo-file per mirrored file. Reading
// ".control/<path>/cached" reports the fraction of the file cached;
// writing '1' prefetches the whole file, writing '0' drops the entry.
package mirrorfs
