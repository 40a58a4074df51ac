package modspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vk/dapgrid/internal/ctxlog"
	"github.com/vk/dapgrid/internal/fsutil"
)

// LocationSource records which step of the fallback policy produced a
// location.
type LocationSource string

const (
	SourceConfigured   LocationSource = "configured"
	SourceConventional LocationSource = "conventional"
	SourceHost         LocationSource = "host"
)

// Location is one place model manifests are read from.
type Location struct {
	Path   string
	Source LocationSource
}

// DefaultConventionalPaths are checked, in order, after the configured
// locations. The first one that exists is used.
var DefaultConventionalPaths = []string{
	"models",
	"../models",
	"/etc/dapgrid/models",
}

type locationOptions struct {
	conventional []string
	hostLocator  func() (string, error)
}

// LocationOption customizes BuildLocations.
type LocationOption func(*locationOptions)

// WithConventionalPaths replaces DefaultConventionalPaths.
func WithConventionalPaths(paths ...string) LocationOption {
	return func(o *locationOptions) {
		o.conventional = paths
	}
}

// WithHostLocator replaces the function that reports where the host's own
// code was loaded from.
func WithHostLocator(fn func() (string, error)) LocationOption {
	return func(o *locationOptions) {
		o.hostLocator = fn
	}
}

// executableDir is the default host locator.
func executableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

// BuildLocations builds the ordered location list:
//  1. every configured path that exists, in order; the rest are logged and skipped;
//  2. the first conventional path that exists;
//  3. only if nothing was found, the directory the host executable lives in.
//
// Probe errors are never fatal. An error is returned only when the list would
// otherwise be empty and the host location cannot be determined.
func BuildLocations(ctx context.Context, configured []string, opts ...LocationOption) ([]Location, error) {
	logger := ctxlog.FromContext(ctx)
	o := &locationOptions{
		conventional: DefaultConventionalPaths,
		hostLocator:  executableDir,
	}
	for _, opt := range opts {
		opt(o)
	}

	var locations []Location
	seen := make(map[string]struct{})
	add := func(path string, src LocationSource) {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = filepath.Clean(path)
		}
		if _, dup := seen[abs]; dup {
			logger.Debug("Skipping duplicate module location.", "path", abs, "source", src)
			return
		}
		seen[abs] = struct{}{}
		locations = append(locations, Location{Path: abs, Source: src})
		logger.Info("Added module location.", "path", abs, "source", src)
	}

	for _, raw := range configured {
		path := strings.TrimSpace(raw)
		if path == "" {
			continue
		}
		ok, err := fsutil.Readable(path)
		if err != nil {
			logger.Warn("Configured module location could not be checked, skipping.", "path", path, "error", err)
			continue
		}
		if !ok {
			logger.Warn("Configured module location does not exist, skipping.", "path", path)
			continue
		}
		add(path, SourceConfigured)
	}

	for _, path := range o.conventional {
		if fsutil.IsDir(path) {
			add(path, SourceConventional)
			break
		}
	}

	if len(locations) == 0 {
		logger.Warn("No module locations found, using the host code location as fallback.")
		hostDir, err := o.hostLocator()
		if err != nil {
			return nil, fmt.Errorf("%w: cannot determine host code location: %v", ErrInit, err)
		}
		add(hostDir, SourceHost)
	}

	return locations, nil
}
