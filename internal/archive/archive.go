package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"gocv.io/x/gocv"

	apperrors "github.com/GriffinCanCode/tetris-recorder/internal/errors"
	"github.com/GriffinCanCode/tetris-recorder/internal/trace"
)

type item struct {
	seq uint64
	img gocv.Mat
}

// Archive accumulates frames of one game and writes them in batches to a
// timestamped directory under root. The directory is created by the first
// Add after New, Seal or Discard.
type Archive struct {
	root       string
	batchSize  int
	flushDelay time.Duration
	now        func() time.Time

	mu      sync.Mutex
	dir     string
	items   []item
	timer   *time.Timer
	written int
	err     error
	wg      sync.WaitGroup
}

// New creates an archive rooted at root.
func New(root string, batchSize int, flushDelay time.Duration) *Archive {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if flushDelay <= 0 {
		flushDelay = DefaultFlushDelay
	}
	return &Archive{
		root:       root,
		batchSize:  batchSize,
		flushDelay: flushDelay,
		now:        time.Now,
		items:      make([]item, 0, batchSize),
	}
}

// Add queues a copy of frame under seq. The caller keeps ownership of frame.
func (a *Archive) Add(ctx context.Context, seq uint64, frame gocv.Mat) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dir == "" {
		dir, err := a.createDir()
		if err != nil {
			return err
		}
		a.dir = dir
		trace.Logger(ctx).Info("game archive started", "dir", dir)
	}

	a.items = append(a.items, item{seq: seq, img: frame.Clone()})

	if len(a.items) >= a.batchSize {
		a.flushLocked(ctx)
		return nil
	}

	// Start or reset timer for delayed flush
	if a.timer == nil {
		a.timer = time.AfterFunc(a.flushDelay, func() { a.Flush(ctx) })
	} else {
		a.timer.Reset(a.flushDelay)
	}
	return nil
}

func (a *Archive) createDir() (string, error) {
	base := filepath.Join(a.root, GamePrefix+a.now().UTC().Format(TimeLayout))
	dir := base
	for n := 2; ; n++ {
		err := os.MkdirAll(filepath.Dir(dir), 0o755)
		if err == nil {
			err = os.Mkdir(dir, 0o755)
		}
		if err == nil {
			return dir, nil
		}
		if !os.IsExist(err) {
			return "", apperrors.Wrapf(err, apperrors.CodeArchive, "create %s", dir)
		}
		dir = fmt.Sprintf("%s_%d", base, n)
	}
}

func (a *Archive) flushLocked(ctx context.Context) {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if len(a.items) == 0 {
		return
	}
	items, dir := a.items, a.dir
	a.items = make([]item, 0, a.batchSize)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, span := trace.StartSpan(ctx, "archive_batch_flush")
		defer span.End()
		span.SetAttr("count", len(items))

		written, err := writeBatch(dir, items)
		a.mu.Lock()
		a.written += written
		if err != nil && a.err == nil {
			a.err = err
		}
		a.mu.Unlock()
		if err != nil {
			span.SetAttr("error", err.Error())
			trace.Logger(ctx).Warn("archive batch write failed", "error", err, "count", len(items))
		}
	}()
}

func writeBatch(dir string, items []item) (int, error) {
	var firstErr error
	written := 0
	for _, it := range items {
		path := filepath.Join(dir, fmt.Sprintf(FramePattern, it.seq))
		if gocv.IMWrite(path, it.img) {
			written++
		} else if firstErr == nil {
			firstErr = apperrors.Newf(apperrors.CodeArchive, "write %s", path)
		}
		_ = it.img.Close()
	}
	return written, firstErr
}

// Flush starts writing pending frames immediately.
func (a *Archive) Flush(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flushLocked(ctx)
}

// Current returns the directory of the game in progress, or "".
func (a *Archive) Current() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dir
}

// Seal writes every pending frame and returns the finished directory and
// its frame count. The next Add starts a new directory.
func (a *Archive) Seal(ctx context.Context) (string, int, error) {
	a.mu.Lock()
	a.flushLocked(ctx)
	a.mu.Unlock()
	a.wg.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()
	dir, written, err := a.dir, a.written, a.err
	a.reset()
	if dir == "" {
		return "", 0, apperrors.New(apperrors.CodeArchive, "no frames archived")
	}
	if err != nil {
		return dir, written, err
	}
	trace.Logger(ctx).Info("game archive sealed", "dir", dir, "frames", written, "size", humanize.Bytes(dirSize(dir)))
	return dir, written, nil
}

// Discard drops pending frames and removes the directory of the game in
// progress.
func (a *Archive) Discard(ctx context.Context) error {
	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	for _, it := range a.items {
		_ = it.img.Close()
	}
	a.items = a.items[:0]
	a.mu.Unlock()
	a.wg.Wait()

	a.mu.Lock()
	dir := a.dir
	a.reset()
	a.mu.Unlock()
	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return apperrors.Wrapf(err, apperrors.CodeArchive, "remove %s", dir)
	}
	trace.Logger(ctx).Info("game archive discarded", "dir", dir)
	return nil
}

func (a *Archive) reset() {
	a.dir = ""
	a.written = 0
	a.err = nil
}

// Cleanup removes the oldest game directories so that at most keep remain.
// The game in progress is never removed. It returns the removed paths.
func (a *Archive) Cleanup(ctx context.Context, keep int) ([]string, error) {
	entries, err := os.ReadDir(a.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeArchive, "read %s", a.root)
	}

	current := a.Current()
	var games []string
	for _, e := range entries {
		path := filepath.Join(a.root, e.Name())
		if e.IsDir() && strings.HasPrefix(e.Name(), GamePrefix) && path != current {
			games = append(games, path)
		}
	}
	// timestamps sort chronologically
	sort.Strings(games)

	log := trace.Logger(ctx)
	var removed []string
	for len(games) > keep {
		path := games[0]
		games = games[1:]
		size := dirSize(path)
		var age string
		if info, err := os.Stat(path); err == nil {
			age = humanize.Time(info.ModTime())
		}
		if err := os.RemoveAll(path); err != nil {
			return removed, apperrors.Wrapf(err, apperrors.CodeArchive, "remove %s", path)
		}
		log.Info("removed old game", "dir", path, "size", humanize.Bytes(size), "age", age)
		removed = append(removed, path)
	}
	return removed, nil
}

func dirSize(dir string) uint64 {
	var total uint64
	_ = filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += uint64(info.Size())
		}
		return nil
	})
	return total
}
