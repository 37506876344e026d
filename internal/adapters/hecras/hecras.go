// Package hecras recognizes HEC-RAS hydraulic model projects in zip archives
// and reads the viewing rectangle of their geometry files.
package hecras

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/jobrunner/zipcat/internal/domain"
	"github.com/jobrunner/zipcat/internal/ports/output"
)

const (
	// projectMarker is the first key of a HEC-RAS project file.
	projectMarker = "Proj Title"

	// rectangleLine is the zero-based line holding the viewing rectangle,
	// "Viewing Rectangle= left , right , top , bottom".
	rectangleLine = 2
	minTokens     = 9

	maxProjectBytes = 1 << 20
	maxLineBytes    = 64 << 10
)

var geometryExt = regexp.MustCompile(`(?i)^\.g\d+$`)

// Detector implements output.ModelProjectDetector.
type Detector struct{}

// NewDetector creates a project file detector.
func NewDetector() *Detector {
	return &Detector{}
}

// IsModelProject reports whether the .prj entry is a HEC-RAS project file
// rather than an ESRI projection definition.
func (d *Detector) IsModelProject(ctx context.Context, archive output.Archive, name string) (bool, error) {
	rc, err := archive.Open(ctx, name)
	if err != nil {
		return false, err
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(io.LimitReader(rc, maxProjectBytes))
	if err != nil {
		return false, err
	}
	return bytes.Contains(data, []byte(projectMarker)), nil
}

// Extractor implements output.AssetExtractor for hydraulic models. The
// returned metadata carries no projection; models borrow one from a sibling
// vector or from configuration.
type Extractor struct {
	logger *slog.Logger
}

// NewExtractor creates a model extractor.
func NewExtractor(logger *slog.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// Kind implements output.AssetExtractor.
func (e *Extractor) Kind() domain.AssetKind {
	return domain.AssetKindModel
}

// Extract unions the viewing rectangles of every geometry file of the model.
// Geometry result files (.g01.hdf) are grouped with the geometry but are not
// parsed.
func (e *Extractor) Extract(ctx context.Context, archive output.Archive, asset domain.AssetRef) (domain.AssetMetadata, error) {
	var boxes []domain.BBox
	for _, name := range asset.GeometryFiles {
		if !geometryExt.MatchString(path.Ext(name)) {
			continue
		}
		box, err := readRectangle(ctx, archive, name)
		if err != nil {
			return domain.AssetMetadata{}, err
		}
		e.logger.Debug("read model geometry", "model", asset.Name, "geometry", name, "bbox", box)
		boxes = append(boxes, box)
	}

	bbox, ok := domain.MergeBBoxes(boxes)
	if !ok {
		return domain.AssetMetadata{}, fmt.Errorf("%s: no geometry files: %w", asset.Name, domain.ErrNoMetadata)
	}

	return domain.AssetMetadata{
		Kind:          domain.AssetKindModel,
		Name:          asset.Name,
		BBox:          bbox,
		GeometryType:  "Polygon",
		GeometryFiles: append([]string(nil), asset.GeometryFiles...),
		OtherFiles:    append([]string(nil), asset.OtherFiles...),
	}, nil
}

func readRectangle(ctx context.Context, archive output.Archive, name string) (domain.BBox, error) {
	rc, err := archive.Open(ctx, name)
	if err != nil {
		return domain.BBox{}, &domain.MetadataExtractionError{Asset: name, Kind: domain.AssetKindModel, Err: err}
	}
	defer func() { _ = rc.Close() }()

	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 4096), maxLineBytes)
	line, n := "", 0
	for ; n <= rectangleLine && sc.Scan(); n++ {
		line = sc.Text()
	}
	if err := sc.Err(); err != nil {
		return domain.BBox{}, &domain.MetadataExtractionError{Asset: name, Kind: domain.AssetKindModel, Err: err}
	}
	if n <= rectangleLine {
		return domain.BBox{}, &domain.ModelHeaderParseError{File: name, Line: rectangleLine, Reason: fmt.Sprintf("file has only %d lines", n)}
	}
	return parseRectangle(name, line)
}

// parseRectangle reads left, right, top and bottom from tokens 2, 4, 6 and 8.
func parseRectangle(name, line string) (domain.BBox, error) {
	tokens := strings.Fields(line)
	if len(tokens) < minTokens {
		return domain.BBox{}, &domain.ModelHeaderParseError{
			File:   name,
			Line:   rectangleLine,
			Reason: fmt.Sprintf("expected at least %d tokens, got %d", minTokens, len(tokens)),
		}
	}

	var v [4]float64
	for i, idx := range []int{2, 4, 6, 8} {
		f, err := strconv.ParseFloat(strings.TrimSuffix(tokens[idx], ","), 64)
		if err != nil {
			return domain.BBox{}, &domain.ModelHeaderParseError{
				File:   name,
				Line:   rectangleLine,
				Reason: fmt.Sprintf("token %d %q is not numeric", idx, tokens[idx]),
			}
		}
		v[i] = f
	}

	left, right, top, bottom := v[0], v[1], v[2], v[3]
	box := domain.NewBBox(left, bottom, right, top).Normalized()
	if !box.IsFinite() {
		return domain.BBox{}, &domain.ModelHeaderParseError{File: name, Line: rectangleLine, Reason: "non-finite rectangle"}
	}
	return box, nil
}
