package services

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kilnworks/kiln-cli/internal/core/domain"
	"github.com/kilnworks/kiln-cli/internal/core/ports/driving"
	"github.com/kilnworks/kiln-cli/internal/logger"
)

// Ensure Scanner implements the interface.
var _ driving.Scanner = (*Scanner)(nil)

// defaultExtensions are the file types indexed by a vault walk.
var defaultExtensions = map[string]struct{}{
	".md":       {},
	".markdown": {},
	".txt":      {},
}

// Scanner runs one-shot scans over the vault: it walks the tree, feeds
// every document through the pipeline once, then drains the pipeline and
// reports stats. Each Scanner drives exactly one pipeline run.
type Scanner struct {
	vault      string
	pipeline   *Pipeline
	resolver   *Resolver
	extensions map[string]struct{}
}

// NewScanner creates a scanner over vault. extensions filters the walk
// by file extension; nil means the defaults (.md, .markdown, .txt).
func NewScanner(vault string, pipeline *Pipeline, resolver *Resolver, extensions []string) *Scanner {
	exts := defaultExtensions
	if len(extensions) > 0 {
		exts = make(map[string]struct{}, len(extensions))
		for _, e := range extensions {
			if !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			exts[strings.ToLower(e)] = struct{}{}
		}
	}
	return &Scanner{
		vault:      vault,
		pipeline:   pipeline,
		resolver:   resolver,
		extensions: exts,
	}
}

// ScanAll walks the vault and processes every matching document once.
// Hidden directories are skipped.
func (s *Scanner) ScanAll(ctx context.Context) (*driving.ScanStats, error) {
	var paths []string
	err := filepath.WalkDir(s.vault, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != s.vault {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := s.extensions[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}
		rel, err := filepath.Rel(s.vault, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk vault: %w", err)
	}

	// Deterministic order, and the batch prefetch below stays warm.
	sort.Strings(paths)

	// Documents the store knows but the walk did not find were deleted
	// while no watcher was running; tombstone them so their records and
	// presence leave the index.
	var removed []string
	known, err := s.resolver.Session().KnownPaths(ctx)
	if err != nil {
		logger.Warn("Skipping removed-document sweep, cannot list indexed paths: %v", err)
	} else {
		onDisk := make(map[string]struct{}, len(paths))
		for _, p := range paths {
			onDisk[p] = struct{}{}
		}
		for _, p := range known {
			if _, ok := onDisk[p]; !ok {
				removed = append(removed, p)
			}
		}
	}
	if len(removed) > 0 {
		logger.Info("Removing %d documents no longer in the vault", len(removed))
	}

	return s.scan(ctx, paths, removed)
}

// ScanPaths processes the given documents (paths relative to the vault)
// through the pipeline, then drains it.
func (s *Scanner) ScanPaths(ctx context.Context, paths []string) (*driving.ScanStats, error) {
	return s.scan(ctx, paths, nil)
}

func (s *Scanner) scan(ctx context.Context, paths, removed []string) (*driving.ScanStats, error) {
	logger.Section("Scan")
	logger.Info("Scanning %d documents (session %s)", len(paths), s.resolver.Session().ID())

	s.resolver.Session().Prefetch(ctx, paths)
	s.pipeline.Start(ctx)

	var submitErr error
	for _, path := range paths {
		if err := s.pipeline.Submit(ctx, domain.FileEvent{Path: path, Type: domain.FileModified}); err != nil {
			submitErr = fmt.Errorf("submit %s: %w", path, err)
			break
		}
	}
	if submitErr == nil {
		for _, path := range removed {
			if err := s.pipeline.Submit(ctx, domain.FileEvent{Path: path, Type: domain.FileDeleted}); err != nil {
				submitErr = fmt.Errorf("submit deletion of %s: %w", path, err)
				break
			}
		}
	}

	if err := s.pipeline.Shutdown(ctx); err != nil && submitErr == nil {
		submitErr = err
	}
	if submitErr != nil {
		return nil, submitErr
	}

	filesScanned, blocksDirty, blocksClean, parseErrors := s.resolver.Stats()
	stats := &driving.ScanStats{
		FilesScanned: filesScanned,
		BlocksDirty:  blocksDirty,
		BlocksClean:  blocksClean,
		ParseErrors:  parseErrors,
		CacheHitRate: s.resolver.Session().HitRate(),
	}
	logger.Info("Scan complete: %d files, %d dirty blocks, %d clean, cache hit rate %.0f%%",
		stats.FilesScanned, stats.BlocksDirty, stats.BlocksClean, stats.CacheHitRate*100)
	return stats, nil
}
