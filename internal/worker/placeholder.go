package worker

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"

	"github.com/rs/zerolog"

	"imaged/internal/common/fsutil"
	"imaged/pkg/types"
)

const maxPlaceholderSide = 4096

// PlaceholderRenderer writes a flat image whose color is derived from the
// prompt and seed. It needs no GPU and stands in for a real pipeline in
// development and tests.
type PlaceholderRenderer struct {
	log    zerolog.Logger
	engine types.Engine
}

func NewPlaceholderRenderer(log zerolog.Logger) *PlaceholderRenderer {
	return &PlaceholderRenderer{log: log}
}

func (r *PlaceholderRenderer) Load(_ context.Context, engine types.Engine, gpuID int) error {
	r.engine = engine
	r.log.Info().Str("engine", engine.Name).Int("gpu_id", gpuID).Str("checkpoint", engine.CheckpointModel.Path).Msg("placeholder pipeline loaded")
	return nil
}

func (r *PlaceholderRenderer) Render(ctx context.Context, req Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := req.Params
	if p.FilePath == "" {
		return fmt.Errorf("image %d has no file path", req.ImageID)
	}
	w, h := clampSide(p.Width), clampSide(p.Height)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: swatch(p.Prompt, p.Seed)}, image.Point{}, draw.Src)

	var buf bytes.Buffer
	switch p.FileType {
	case types.FileJPG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
			return fmt.Errorf("encode jpeg: %w", err)
		}
	case types.FileWEBP:
		// no webp encoder available; the payload is PNG
		r.log.Warn().Int64("image_id", req.ImageID).Msg("webp requested from placeholder renderer, writing png data")
		fallthrough
	default:
		if err := png.Encode(&buf, img); err != nil {
			return fmt.Errorf("encode png: %w", err)
		}
	}
	if err := fsutil.WriteFileAtomic(p.FilePath, buf.Bytes(), 0o644); err != nil {
		return err
	}
	r.log.Debug().Int64("job_id", req.JobID).Int64("image_id", req.ImageID).Str("path", p.FilePath).
		Bool("ip_adapter", req.IPAdapterImage != "").Msg("image rendered")
	return nil
}

func (r *PlaceholderRenderer) Close() error { return nil }

func clampSide(n int) int {
	if n <= 0 {
		return 64
	}
	if n > maxPlaceholderSide {
		return maxPlaceholderSide
	}
	return n
}

func swatch(prompt string, seed int64) color.RGBA {
	h := fnv.New32a()
	_, _ = h.Write([]byte(prompt))
	v := h.Sum32() ^ uint32(seed) ^ uint32(seed>>32)
	return color.RGBA{R: uint8(v), G: uint8(v >> 8), B: uint8(v >> 16), A: 0xff}
}
