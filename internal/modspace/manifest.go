package modspace

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/dapgrid/internal/ctxlog"
	"github.com/vk/dapgrid/internal/fsutil"
	"github.com/vk/dapgrid/internal/schema"
)

// ManifestExtension is the file extension of model manifests.
const ManifestExtension = ".hcl"

// manifest is one decoded manifest file and the location it came from.
type manifest struct {
	path     string
	location Location
	config   *schema.ManifestConfig
}

// DecodeManifestFile parses and decodes a single HCL model manifest file.
func DecodeManifestFile(ctx context.Context, filePath string) (*schema.ManifestConfig, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Decoding model manifest file.", "path", filePath)
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filePath)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse model manifest %s: %w", filePath, diags)
	}

	var config schema.ManifestConfig
	diags = gohcl.DecodeBody(file.Body, nil, &config)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode model manifest %s: %w", filePath, diags)
	}

	logger.Debug("Successfully decoded model manifest file.", "path", filePath, "symbols_found", len(config.Symbols), "pipelines_found", len(config.Pipelines))
	return &config, nil
}

// loadManifests reads every manifest at every location, in location order.
// A location that cannot be scanned is skipped with a warning.
func loadManifests(ctx context.Context, locations []Location) ([]manifest, error) {
	logger := ctxlog.FromContext(ctx)
	var out []manifest
	for _, loc := range locations {
		files, err := fsutil.FindFilesByExtension(loc.Path, ManifestExtension)
		if err != nil {
			logger.Warn("Skipping unreadable module location.", "path", loc.Path, "source", loc.Source, "error", err)
			continue
		}
		if len(files) == 0 {
			logger.Warn("Module location holds no manifests.", "path", loc.Path, "source", loc.Source)
			continue
		}
		for _, f := range files {
			cfg, err := DecodeManifestFile(ctx, f)
			if err != nil {
				return nil, err
			}
			out = append(out, manifest{path: f, location: loc, config: cfg})
		}
	}
	return out, nil
}
