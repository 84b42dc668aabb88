// Package backup orchestrates one backup run: a scan pass that estimates
// the transfer size without touching the network, followed by a transfer
// pass that actually hashes, uploads, and serializes the directory tree into
// a Merkle root.
package backup

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"mbackup/internal/backuperr"
	"mbackup/internal/cache"
	"mbackup/internal/chunkmodel"
	"mbackup/internal/cryptutil"
	"mbackup/internal/remote"
	"mbackup/internal/secrets"
	"mbackup/internal/walker"
)

// Progress receives byte-count updates during the transfer pass.
type Progress interface {
	// SetTotal is called once, after the scan pass, with the estimated
	// transfer size.
	SetTotal(total uint64)
	// Add is called as each chunk's plaintext is processed.
	Add(n uint64)
}

type noopProgress struct{}

func (noopProgress) SetTotal(uint64) {}
func (noopProgress) Add(uint64)      {}

// Options configures a Run.
type Options struct {
	Roots    []string // absolute directory paths to back up
	Host     string    // identifies this client's roots in the server's root registry
	Excludes []string  // doublestar glob patterns

	Secrets secrets.Secrets
	Cache   *cache.Cache
	Remote  *remote.Client

	// Recheck forces every file to be re-read and re-hashed even when the
	// cache has a matching (size, mtime) entry.
	Recheck bool

	// Parallelism bounds concurrent file hash/probe work during the
	// transfer pass. Directory encoding remains strictly sequential: a
	// directory is only finished once every child (run with up to this
	// many workers) has completed. Zero or one means fully sequential,
	// matching the original single-threaded design.
	Parallelism int

	Logger   *slog.Logger
	Progress Progress
}

// Run performs one full scan-then-transfer backup run and returns the
// resulting snapshot root hash.
func Run(ctx context.Context, opts Options) (string, error) {
	if opts.Progress == nil {
		opts.Progress = noopProgress{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	lastDelete, err := opts.Remote.Status(ctx)
	if err != nil {
		return "", err
	}

	scanner := &runner{ctx: ctx, opts: opts, logger: logger, lastDelete: lastDelete, mode: modeScan}
	var rootEntries []chunkmodel.DirEnt
	for _, root := range opts.Roots {
		if !walker.IsDir(root) {
			logger.Warn("backup root is not a directory, skipping", "root", root)
			continue
		}
		entry, err := scanner.walkRoot(root)
		if err != nil {
			return "", err
		}
		rootEntries = append(rootEntries, entry)
	}
	chunkmodel.SortEntries(rootEntries)
	// The scan pass has already accumulated every file's size and every
	// directory level's own serialization estimate as it walked; the
	// top-level root-entry list is itself one more level, serialized once
	// in uploadDirSerialization during the transfer pass.
	total := scanner.scanTotal.Load() + chunkmodel.EstimateSize(rootEntries)
	opts.Progress.SetTotal(total)

	transferer := &runner{ctx: ctx, opts: opts, logger: logger, lastDelete: lastDelete, mode: modeTransfer}
	rootEntries = rootEntries[:0]
	for _, root := range opts.Roots {
		if !walker.IsDir(root) {
			continue
		}
		entry, err := transferer.walkRoot(root)
		if err != nil {
			return "", err
		}
		rootEntries = append(rootEntries, entry)
	}
	chunkmodel.SortEntries(rootEntries)

	rootHash, err := transferer.uploadDirSerialization(rootEntries)
	if err != nil {
		return "", err
	}
	if err := opts.Remote.PutRoot(ctx, opts.Host, rootHash); err != nil {
		return "", err
	}
	return rootHash, nil
}

type mode int

const (
	modeScan mode = iota
	modeTransfer
)

// runner holds the per-pass state shared across the walker callbacks. Its
// methods run concurrently across sibling files when opts.Parallelism > 1;
// opts.Cache and opts.Remote are both safe for concurrent use.
type runner struct {
	ctx        context.Context
	opts       Options
	logger     *slog.Logger
	lastDelete int64
	mode       mode

	// scanTotal accumulates the estimated transfer size during the scan
	// pass: every file's byte count plus every directory level's own
	// serialization estimate, added as each level finishes. Parallel
	// sibling walks update it concurrently, hence the atomic.
	scanTotal atomic.Uint64
}

func (r *runner) walkRoot(root string) (chunkmodel.DirEnt, error) {
	w := &walker.Walker{
		Excludes:    r.opts.Excludes,
		VisitFile:   r.visitFile,
		FinishDir:   r.finishDir,
		Parallelism: r.opts.Parallelism,
	}
	name := root
	return w.Walk(root, name)
}

func (r *runner) visitFile(path string, info os.FileInfo) (string, uint64, error) {
	if info.Size() == 0 {
		return chunkmodel.EmptyContent, 0, nil
	}
	if r.mode == modeScan {
		return r.scanFile(path, info)
	}
	return r.transferFile(path, info)
}

// scanFile estimates a file's chunk list without reading it, using the
// cache's fast path when available, and placeholder hashes otherwise.
func (r *runner) scanFile(path string, info os.FileInfo) (string, uint64, error) {
	size := info.Size()
	mtime := info.ModTime().Unix()

	r.scanTotal.Add(uint64(size))

	if !r.opts.Recheck {
		if chunks, ok, err := r.opts.Cache.LookupFile(path, size, mtime); err != nil {
			return "", 0, err
		} else if ok {
			return joinChunks(chunks), uint64(size), nil
		}
	}
	return chunkmodel.PlaceholderHash, uint64(size), nil
}

func joinChunks(chunks []string) string {
	if len(chunks) == 1 {
		return chunks[0]
	}
	out := chunks[0]
	for _, c := range chunks[1:] {
		out += "," + c
	}
	return out
}

// transferFile implements the chunker and fast path from spec §4.2: a
// matching cache entry is validated chunk-by-chunk via has_chunk before
// being trusted; any miss falls back to a full re-read.
func (r *runner) transferFile(path string, info os.FileInfo) (string, uint64, error) {
	size := info.Size()
	mtime := info.ModTime().Unix()

	if !r.opts.Recheck {
		if chunks, ok, err := r.opts.Cache.LookupFile(path, size, mtime); err != nil {
			return "", 0, err
		} else if ok {
			if allPresent, err := r.verifyChunks(chunks); err != nil {
				return "", 0, err
			} else if allPresent {
				return joinChunks(chunks), uint64(size), nil
			}
		}
	}

	chunks, err := r.chunkAndUpload(path, size)
	if err != nil {
		return "", 0, err
	}
	if err := r.opts.Cache.PutFile(path, size, mtime, chunks); err != nil {
		return "", 0, err
	}
	return joinChunks(chunks), uint64(size), nil
}

func (r *runner) verifyChunks(chunks []string) (bool, error) {
	for _, h := range chunks {
		probe, err := r.hasChunk(h, -1)
		if err != nil {
			return false, err
		}
		if probe == remote.No {
			return false, nil
		}
	}
	return true, nil
}

// hasChunk implements the cache-first, network-fallback existence probe
// from spec §4.3. size < 0 means "unknown", used when re-validating an
// already-known hash where the small-chunk heuristic does not apply.
func (r *runner) hasChunk(hash string, size int64) (remote.Probe, error) {
	cached, err := r.opts.Cache.HasRemote(hash, r.lastDelete)
	if err != nil {
		return remote.No, err
	}
	if cached {
		return remote.YesCached, nil
	}
	if size >= 0 && size < chunkmodel.SmallSize {
		return remote.No, nil
	}

	probe, err := r.opts.Remote.HasChunk(r.ctx, hash, size)
	if err != nil {
		return remote.No, err
	}
	if probe == remote.Yes {
		if err := r.opts.Cache.PutRemote(hash); err != nil {
			return remote.No, err
		}
	}
	return probe, nil
}

func (r *runner) chunkAndUpload(path string, size int64) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, backuperr.New(backuperr.Io, err)
	}
	defer f.Close()

	var chunks []string
	buf := make([]byte, chunkmodel.ChunkSize)
	for {
		n, err := io.ReadFull(f, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return nil, backuperr.New(backuperr.Io, err)
		}
		if n == 0 {
			break
		}
		hash, uploadErr := r.pushChunk(buf[:n])
		if uploadErr != nil {
			return nil, uploadErr
		}
		chunks = append(chunks, hash)
		if n < len(buf) {
			break
		}
	}
	return chunks, nil
}

// pushChunk implements spec §4.4: hash, probe, and conditionally upload.
// Only ever called during the transfer pass, so it unconditionally advances
// progress by the plaintext length — file-content chunks (via
// chunkAndUpload) and directory/root serialization chunks (via
// uploadDirSerialization) both flow through here, matching spec §4.4's
// "advance progress by the plaintext length" for the uploader itself.
func (r *runner) pushChunk(plaintext []byte) (string, error) {
	hash, err := cryptutil.HashChunk(r.opts.Secrets.Seed, plaintext)
	if err != nil {
		return "", backuperr.New(backuperr.Io, err)
	}

	probe, err := r.hasChunk(hash, int64(len(plaintext)))
	if err != nil {
		return "", err
	}
	if probe != remote.No {
		r.opts.Progress.Add(uint64(len(plaintext)))
		return hash, nil
	}

	sealed, err := cryptutil.Seal(r.opts.Secrets.Key, plaintext)
	if err != nil {
		return "", backuperr.New(backuperr.Io, err)
	}
	if err := r.opts.Remote.PushChunk(r.ctx, hash, sealed); err != nil {
		return "", err
	}
	if err := r.opts.Cache.PutRemote(hash); err != nil {
		return "", err
	}
	r.opts.Progress.Add(uint64(len(plaintext)))
	return hash, nil
}

// finishDir implements the directory encoder from spec §4.5.
func (r *runner) finishDir(entries []chunkmodel.DirEnt) (string, uint64, error) {
	if r.mode == modeScan {
		size := chunkmodel.EstimateSize(entries)
		r.scanTotal.Add(size)
		return chunkmodel.PlaceholderHash, size, nil
	}
	hash, err := r.uploadDirSerialization(entries)
	if err != nil {
		return "", 0, err
	}
	serialized := chunkmodel.Serialize(entries)
	return hash, uint64(len(serialized)), nil
}

func (r *runner) uploadDirSerialization(entries []chunkmodel.DirEnt) (string, error) {
	serialized := chunkmodel.Serialize(entries)
	return r.pushChunk(serialized)
}

