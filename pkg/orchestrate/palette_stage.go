package orchestrate

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"cover-palette/pkg/config"
	"cover-palette/pkg/download"
	"cover-palette/pkg/export"
	"cover-palette/pkg/models"
	"cover-palette/pkg/palette"
	"cover-palette/pkg/report"
	"cover-palette/pkg/storage"
	"cover-palette/pkg/utils"
)

// paletteStage clusters every downloaded cover on a bounded worker pool
type paletteStage struct {
	cfg       *config.AppConfig
	extractor *palette.Extractor
	writer    export.PaletteWriter
	images    *download.Cache
	ledger    storage.PaletteStore
	log       *logrus.Entry
}

func (s *paletteStage) run(ctx context.Context, records []models.CoverRecord) report.StageStats {
	counter := report.NewCounter("palette")
	writeArtifacts := s.cfg.Palette.EffectiveWriteArtifacts()
	if writeArtifacts {
		if err := os.MkdirAll(s.writer.Dir, 0755); err != nil {
			s.log.Errorf("Cannot create artifact directory %s: %v", s.writer.Dir, err)
			for range records {
				counter.Fail(utils.CategorizeError(err))
			}
			return counter.Snapshot()
		}
	}

	workers := s.cfg.NumPaletteWorkers
	if workers <= 0 {
		workers = 1
	}
	s.log.Infof("Extracting palettes for %d covers with %d workers (k=%d)", len(records), workers, s.cfg.Palette.Clusters)

	var g errgroup.Group
	g.SetLimit(workers)
	dispatched := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		dispatched++
		g.Go(func() error {
			s.processOne(ctx, rec, writeArtifacts, counter)
			return nil
		})
	}
	_ = g.Wait()
	for range records[dispatched:] {
		counter.SkipAs(utils.ContextCategory(ctx.Err()))
	}

	stats := counter.Snapshot()
	s.log.WithFields(logrus.Fields{
		"extracted": stats.Succeeded,
		"skipped":   stats.Skipped,
		"failed":    stats.Failed,
	}).Info("Palette stage finished")
	return stats
}

func (s *paletteStage) processOne(ctx context.Context, rec models.CoverRecord, writeArtifacts bool, counter *report.Counter) {
	recLog := s.log.WithField("filename", rec.Filename)
	defer func() {
		if r := recover(); r != nil {
			recLog.WithFields(logrus.Fields{"panic_info": r, "stack_trace": string(debug.Stack())}).Error("PANIC recovered while extracting palette")
			counter.Fail("Internal_Panic")
		}
	}()
	if ctx.Err() != nil {
		counter.SkipAs(utils.ContextCategory(ctx.Err()))
		return
	}

	path := s.images.Path(rec.Filename)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		recLog.Warn("Cover not on disk, skipping palette")
		counter.Skip()
		return
	}

	if s.alreadyDone(rec.Filename, writeArtifacts) {
		recLog.Debug("Palette already computed, skipping")
		counter.Skip()
		return
	}

	start := time.Now()
	res, err := s.extractor.Extract(path)
	if err != nil {
		category := utils.CategorizeError(err)
		recLog.WithField("error_type", category).Warnf("Palette extraction failed: %v", err)
		s.update(rec.Filename, &models.PaletteDBEntry{
			Status:      models.ImageStatusFailure,
			ErrorType:   category,
			LastAttempt: time.Now(),
		}, recLog)
		counter.Fail(category)
		return
	}
	res.Filename = rec.Filename

	entry := &models.PaletteDBEntry{
		Status:      models.ImageStatusSuccess,
		Swatches:    res.Swatches[:],
		LastAttempt: time.Now(),
	}
	if writeArtifacts {
		artifact, err := s.writer.Write(res)
		if err != nil {
			category := utils.CategorizeError(err)
			recLog.WithField("error_type", category).Errorf("Failed to write palette artifact: %v", err)
			s.update(rec.Filename, &models.PaletteDBEntry{
				Status:      models.ImageStatusFailure,
				ErrorType:   category,
				LastAttempt: time.Now(),
			}, recLog)
			counter.Fail(category)
			return
		}
		entry.ArtifactPath = artifact
	}
	s.update(rec.Filename, entry, recLog)
	recLog.WithFields(logrus.Fields{
		"pixels":   res.Width * res.Height,
		"swatches": res.Swatches,
		"duration": time.Since(start),
	}).Debug("Palette extracted")
	counter.Success()
}

// alreadyDone is true when the artifact exists, or (without artifacts) the ledger holds swatches
func (s *paletteStage) alreadyDone(filename string, writeArtifacts bool) bool {
	if writeArtifacts {
		return s.writer.Exists(filename)
	}
	if s.ledger == nil {
		return false
	}
	status, _, err := s.ledger.CheckPalette(filename)
	return err == nil && status.Done()
}

func (s *paletteStage) update(filename string, entry *models.PaletteDBEntry, recLog *logrus.Entry) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.UpdatePalette(filename, entry); err != nil {
		recLog.Errorf("Failed to record palette status: %v", err)
	}
}
