package download

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"cover-palette/pkg/config"
	"cover-palette/pkg/models"
	"cover-palette/pkg/report"
	"cover-palette/pkg/storage"
	"cover-palette/pkg/utils"
)

// ImageExt is the extension every cover is stored under
const ImageExt = ".jpg"

// Getter is the part of fetch.Fetcher the cache needs
type Getter interface {
	Get(ctx context.Context, rawURL string, minDelay time.Duration) (*http.Response, error)
}

// Cache keeps one local file per cover record, fetching only what is missing
type Cache struct {
	dir       string
	chunkSize int
	workers   int
	delay     time.Duration
	getter    Getter
	ledger    storage.ImageStore // optional
	log       *logrus.Entry
}

// NewCache stores covers in cfg.ImageDir(). ledger may be nil.
func NewCache(cfg *config.AppConfig, getter Getter, ledger storage.ImageStore, baseLogger *logrus.Entry) *Cache {
	chunk := cfg.DownloadChunkSize
	if chunk <= 0 {
		chunk = 4096
	}
	workers := cfg.NumImageWorkers
	if workers <= 0 {
		workers = 1
	}
	return &Cache{
		dir:       cfg.ImageDir(),
		chunkSize: chunk,
		workers:   workers,
		delay:     cfg.ImageDelay,
		getter:    getter,
		ledger:    ledger,
		log:       baseLogger.WithField("component", "download"),
	}
}

// Dir is the cover directory
func (c *Cache) Dir() string { return c.dir }

// Path is the local file for a record filename
func (c *Cache) Path(filename string) string {
	return filepath.Join(c.dir, filename+ImageExt)
}

// Ensure makes sure every record has its cover on disk. Existing files are never
// requested again. Failures are logged and counted; the batch always runs to the end
// unless ctx is cancelled, in which case the rest is counted as skipped.
// Callers filter blank covers beforehand.
func (c *Cache) Ensure(ctx context.Context, records []models.CoverRecord) report.StageStats {
	counter := report.NewCounter("download")
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		err = fmt.Errorf("%w: creating image directory %s: %w", utils.ErrFilesystem, c.dir, err)
		c.log.Error(err)
		for range records {
			counter.Fail(utils.CategorizeError(err))
		}
		return counter.Snapshot()
	}

	c.log.Infof("Ensuring %d covers in %s with %d workers", len(records), c.dir, c.workers)
	var g errgroup.Group
	g.SetLimit(c.workers)
	dispatched := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		dispatched++
		g.Go(func() error {
			c.ensureOne(ctx, rec, counter)
			return nil
		})
	}
	_ = g.Wait()
	for range records[dispatched:] {
		counter.SkipAs(utils.ContextCategory(ctx.Err()))
	}

	stats := counter.Snapshot()
	c.log.WithFields(logrus.Fields{
		"downloaded": stats.Succeeded,
		"skipped":    stats.Skipped,
		"failed":     stats.Failed,
	}).Info("Download stage finished")
	return stats
}

func (c *Cache) ensureOne(ctx context.Context, rec models.CoverRecord, counter *report.Counter) {
	target := c.Path(rec.Filename)
	imgLog := c.log.WithFields(logrus.Fields{"filename": rec.Filename})

	defer func() {
		if r := recover(); r != nil {
			imgLog.WithFields(logrus.Fields{"panic_info": r, "stack_trace": string(debug.Stack())}).Error("PANIC recovered while downloading cover")
			counter.Fail("Internal_Panic")
		}
	}()

	if ctx.Err() != nil {
		counter.SkipAs(utils.ContextCategory(ctx.Err()))
		return
	}

	if info, err := os.Stat(target); err == nil {
		imgLog.Debug("Cover already on disk, skipping")
		c.recordSkip(rec, target, info.Size(), imgLog)
		counter.Skip()
		return
	}

	link := rec.CleanedLink
	if link == "" {
		link = rec.ImageLink
	}
	imgLog = imgLog.WithField("url", link)

	n, sum, err := c.fetch(ctx, link, target, imgLog)
	switch {
	case errors.Is(err, fs.ErrExist):
		imgLog.Debug("Another worker published this cover first")
		c.recordSkip(rec, target, n, imgLog)
		counter.Skip()
	case err != nil:
		if utils.IsContextError(err) {
			counter.SkipAs(utils.ContextCategory(err))
			return
		}
		category := utils.CategorizeError(err)
		imgLog.WithField("error_type", category).Warnf("Cover download failed: %v", err)
		c.update(rec.Filename, &models.ImageDBEntry{
			Status:      models.ImageStatusFailure,
			SourceURL:   link,
			ErrorType:   category,
			LastAttempt: time.Now(),
		}, imgLog)
		counter.Fail(category)
	default:
		imgLog.Infof("Saved cover (%s)", humanize.Bytes(uint64(n)))
		c.update(rec.Filename, &models.ImageDBEntry{
			Status:      models.ImageStatusSuccess,
			SourceURL:   link,
			LocalPath:   target,
			SHA256:      sum,
			Bytes:       n,
			LastAttempt: time.Now(),
		}, imgLog)
		counter.Success()
	}
}

// fetch streams link into a temp file beside target, checks it decodes as an image,
// then hard-links it into place. os.Link fails with fs.ErrExist if target appeared
// meanwhile, so a published file is never replaced.
func (c *Cache) fetch(ctx context.Context, link, target string, imgLog *logrus.Entry) (int64, string, error) {
	if link == "" {
		return 0, "", fmt.Errorf("%w: record has no image link", utils.ErrSelectorNotFound)
	}
	resp, err := c.getter.Get(ctx, link, c.delay)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(c.dir, "."+filepath.Base(target)+"-*.part")
	if err != nil {
		io.Copy(io.Discard, resp.Body)
		return 0, "", fmt.Errorf("%w: creating temp file: %w", utils.ErrFilesystem, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	hash := sha256.New()
	n, err := copyChunks(io.MultiWriter(tmp, hash), resp.Body, c.chunkSize)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("%w: closing %s: %w", utils.ErrFilesystem, tmpName, closeErr)
	}
	if err != nil {
		return n, "", err
	}
	imgLog.Debugf("Fetched %s into %s", humanize.Bytes(uint64(n)), tmpName)

	if err := checkImage(tmpName, resp.Header.Get("Content-Type")); err != nil {
		return n, "", err
	}

	if err := os.Link(tmpName, target); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return n, "", err
		}
		return n, "", fmt.Errorf("%w: publishing %s: %w", utils.ErrFilesystem, target, err)
	}
	return n, hex.EncodeToString(hash.Sum(nil)), nil
}

// checkImage rejects bodies no registered decoder recognises, like an HTML error page served with 200
func checkImage(path, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: reopening %s: %w", utils.ErrFilesystem, path, err)
	}
	defer f.Close()
	if _, _, err := image.DecodeConfig(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("%w: response (Content-Type %q) is not an image: %w", utils.ErrImageDecode, contentType, err)
	}
	return nil
}

// copyChunks reads src in chunkSize pieces and writes each to dst
func copyChunks(dst io.Writer, src io.Reader, chunkSize int) (int64, error) {
	buf := make([]byte, chunkSize)
	var total int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			total += int64(nw)
			if werr != nil {
				return total, fmt.Errorf("%w: writing chunk: %w", utils.ErrFilesystem, werr)
			}
			if nw != nr {
				return total, fmt.Errorf("%w: %w", utils.ErrFilesystem, io.ErrShortWrite)
			}
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			if utils.IsContextError(rerr) {
				return total, rerr
			}
			return total, fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, rerr)
		}
	}
}

// recordSkip notes a cover already on disk. Files the ledger has never seen are hashed once.
func (c *Cache) recordSkip(rec models.CoverRecord, target string, size int64, imgLog *logrus.Entry) {
	if c.ledger == nil {
		return
	}
	status, _, err := c.ledger.CheckImage(rec.Filename)
	if err == nil && status.Done() {
		return
	}
	sum, err := utils.CalculateFileSHA256(target)
	if err != nil {
		imgLog.Warnf("Could not hash existing cover: %v", err)
	}
	c.update(rec.Filename, &models.ImageDBEntry{
		Status:      models.ImageStatusSkipped,
		SourceURL:   rec.CleanedLink,
		LocalPath:   target,
		SHA256:      sum,
		Bytes:       size,
		LastAttempt: time.Now(),
	}, imgLog)
}

func (c *Cache) update(filename string, entry *models.ImageDBEntry, imgLog *logrus.Entry) {
	if c.ledger == nil {
		return
	}
	if err := c.ledger.UpdateImage(filename, entry); err != nil {
		imgLog.Errorf("Failed to record download status: %v", err)
	}
}
