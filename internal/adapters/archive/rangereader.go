package archive

import (
	"context"
	"io"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jobrunner/zipcat/internal/ports/output"
)

// rangeReaderAt serves ReadAt calls on a remote object from fixed-size
// blocks fetched with ranged reads. The least recently used block is
// evicted once maxBlocks are cached.
type rangeReaderAt struct {
	storage   output.ObjectStorage
	key       string
	size      int64
	blockSize int64

	blocks *lru.Cache[int64, []byte]

	fetched atomic.Int64 // bytes read from storage
}

func newRangeReaderAt(storage output.ObjectStorage, key string, size, blockSize int64, maxBlocks int) *rangeReaderAt {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	if maxBlocks <= 0 {
		maxBlocks = DefaultCacheBlocks
	}
	// lru.New only fails for a non-positive size.
	blocks, _ := lru.New[int64, []byte](maxBlocks)
	return &rangeReaderAt{
		storage:   storage,
		key:       key,
		size:      size,
		blockSize: blockSize,
		blocks:    blocks,
	}
}

// readAt implements io.ReaderAt semantics with a caller context.
func (r *rangeReaderAt) readAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, io.ErrUnexpectedEOF
	}
	if off >= r.size {
		return 0, io.EOF
	}

	n := 0
	for n < len(p) && off+int64(n) < r.size {
		pos := off + int64(n)
		idx := pos / r.blockSize

		block, err := r.block(ctx, idx)
		if err != nil {
			return n, err
		}

		n += copy(p[n:], block[pos-idx*r.blockSize:])
	}

	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (r *rangeReaderAt) block(ctx context.Context, idx int64) ([]byte, error) {
	if b, ok := r.blocks.Get(idx); ok {
		return b, nil
	}

	start := idx * r.blockSize
	length := r.blockSize
	if start+length > r.size {
		length = r.size - start
	}

	rc, err := r.storage.ReadRange(ctx, r.key, start, length)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	buf := make([]byte, length)
	if _, err := io.ReadFull(rc, buf); err != nil {
		return nil, err
	}
	r.fetched.Add(length)

	if prev, ok, _ := r.blocks.PeekOrAdd(idx, buf); ok {
		return prev, nil
	}
	return buf, nil
}

// reset drops all cached blocks.
func (r *rangeReaderAt) reset() {
	r.blocks.Purge()
}

// withContext binds a context, producing a plain io.ReaderAt.
func (r *rangeReaderAt) withContext(ctx context.Context) io.ReaderAt {
	return ctxReaderAt{r: r, ctx: ctx}
}

type ctxReaderAt struct {
	r   *rangeReaderAt
	ctx context.Context
}

func (c ctxReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return c.r.readAt(c.ctx, p, off)
}
