package insight

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"golang.org/x/image/draw"

	"github.com/deflagg/eva/pkg/eva"
)

var sanitizeRunRe = regexp.MustCompile(`[^A-Za-z0-9.\-_]+`)

// sanitizeFrameID produces a filesystem-safe stem from a frame_id: runs of
// non-alphanumeric/.-_ characters collapse to a single "-", leading/trailing
// "-_." are stripped, the result is truncated to 80 chars, and "frame" is
// substituted if nothing survives.
func sanitizeFrameID(frameID string) string {
	s := sanitizeRunRe.ReplaceAllString(frameID, "-")
	s = trimCutset(s, "-_.")
	if len(s) > 80 {
		s = s[:80]
	}
	s = trimCutset(s, "-_.")
	if s == "" {
		return "frame"
	}
	return s
}

func trimCutset(s, cutset string) string {
	start := 0
	for start < len(s) && isInCutset(s[start], cutset) {
		start++
	}
	end := len(s)
	for end > start && isInCutset(s[end-1], cutset) {
		end--
	}
	return s[start:end]
}

func isInCutset(b byte, cutset string) bool {
	for i := 0; i < len(cutset); i++ {
		if cutset[i] == b {
			return true
		}
	}
	return false
}

// writeClipAssets persists one JPEG per clip frame under assetsDir/clipID,
// downsampling first when cfg.Enabled, and returns each frame's path
// relative to assetsDir in clip order.
func writeClipAssets(assetsDir, clipID string, frames []eva.Frame, cfg DownsampleConfig) ([]string, error) {
	dir := filepath.Join(assetsDir, clipID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating clip dir: %w", err)
	}

	relPaths := make([]string, 0, len(frames))
	for i, f := range frames {
		data := f.ImageBytes
		if cfg.Enabled {
			downsampled, err := downsampleJPEG(data, cfg.MaxDim, cfg.JPEGQuality)
			if err != nil {
				return nil, err
			}
			data = downsampled
		}

		name := fmt.Sprintf("%02d-%s.jpg", i, sanitizeFrameID(f.FrameID))
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return nil, fmt.Errorf("writing clip asset: %w", err)
		}
		relPaths = append(relPaths, filepath.Join(clipID, name))
	}
	return relPaths, nil
}

// downsampleJPEG decodes data, resizes it so its longest side is at most
// maxDim (affine scaling via x/image/draw, never upscaling), and re-encodes
// it as JPEG at the given quality.
func downsampleJPEG(data []byte, maxDim, quality int) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errDownsampleDecode, err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	longest := w
	if h > longest {
		longest = h
	}
	if longest <= maxDim {
		return data, nil
	}

	scale := float64(maxDim) / float64(longest)
	newW := int(float64(w) * scale)
	newH := int(float64(h) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("%s: %w", errDownsampleEncode, err)
	}
	return out.Bytes(), nil
}

// pruneClips removes sibling clip directories older than maxAgeHours or
// beyond position maxClips in mtime-descending order, always skipping
// currentClipID. A failure to read assetsDir is returned for the caller to
// log; per-entry stat and removal errors are ignored, since retention is
// best-effort housekeeping.
func pruneClips(assetsDir, currentClipID string, maxClips, maxAgeHours int) error {
	entries, err := os.ReadDir(assetsDir)
	if err != nil {
		return err
	}

	type dirInfo struct {
		name    string
		modTime time.Time
	}
	var dirs []dirInfo
	for _, e := range entries {
		if !e.IsDir() || e.Name() == currentClipID {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // tolerate races: entry may have been removed concurrently
		}
		dirs = append(dirs, dirInfo{name: e.Name(), modTime: info.ModTime()})
	}

	sort.Slice(dirs, func(i, j int) bool { return dirs[i].modTime.After(dirs[j].modTime) })

	cutoff := time.Now().Add(-time.Duration(maxAgeHours) * time.Hour)
	for i, d := range dirs {
		if i < maxClips && d.modTime.After(cutoff) {
			continue
		}
		_ = os.RemoveAll(filepath.Join(assetsDir, d.name))
	}
	return nil
}
