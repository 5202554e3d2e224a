package access

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/astrodata/respath/pkg/respath"
)

// SweeperOptions configures a Sweeper.
type SweeperOptions struct {
	Dir    respath.ResourcePath // staging directory, defaults to respath.TempDir
	MaxAge time.Duration        // age before a staging file is reclaimed
	Logger func(format string, args ...any)
}

// Sweeper reclaims staging files left behind by crashed processes. Only
// files carrying the staging prefix are ever touched.
type Sweeper struct {
	dir    respath.ResourcePath
	maxAge time.Duration
	logf   func(string, ...any)
}

// NewSweeper returns a sweeper over the staging directory.
func NewSweeper(opts SweeperOptions) *Sweeper {
	logf := opts.Logger
	if logf == nil {
		logf = log.Printf
	}
	dir := opts.Dir
	if dir.Path() == "" {
		dir = respath.TempDir()
	}
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &Sweeper{dir: dir, maxAge: maxAge, logf: logf}
}

// Sweep performs one best-effort pass, returning files deleted.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	root, err := s.dir.OSPath()
	if err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-s.maxAge)
	var total int
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		if e.IsDir() || !strings.HasPrefix(e.Name(), respath.StagePrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(root, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logf("staging sweep: %v", err)
			continue
		}
		total++
	}
	return total, nil
}

// Start launches a background sweep loop until ctx is canceled.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) context.CancelFunc {
	if interval <= 0 {
		interval = time.Hour
	}
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logf("staging sweep: %v", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return cancel
}
