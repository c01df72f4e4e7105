package derivative

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// Разрешение стоп-кадра видео до приведения к size class.
const (
	stillWidth  = 640
	stillHeight = 360
)

// videoFrame извлекает один кадр через ffmpeg.
// Сначала пробует смещение VideoFrameOffset; ролик короче смещения
// даёт пустой вывод, тогда берётся первый кадр.
func (g *Generator) videoFrame(ctx context.Context, data []byte) (image.Image, error) {
	dir, err := os.MkdirTemp("", "mm-video-*")
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временной директории: %w", err)
	}
	defer os.RemoveAll(dir)

	// mp4 с moov-атомом в конце не читается из pipe, поэтому исходник пишется во временный файл
	src := filepath.Join(dir, "source")
	if err := os.WriteFile(src, data, 0o600); err != nil {
		return nil, fmt.Errorf("ошибка записи временного файла: %w", err)
	}

	offsets := []float64{g.opts.VideoFrameOffset.Seconds()}
	if g.opts.VideoFrameOffset > 0 {
		offsets = append(offsets, 0)
	}

	var lastErr error
	for _, offset := range offsets {
		frame, err := g.runFFmpeg(ctx, src, offset)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if len(frame) == 0 {
			lastErr = fmt.Errorf("пустой вывод на смещении %.1fs", offset)
			continue
		}
		img, _, err := image.Decode(bytes.NewReader(frame))
		if err != nil {
			lastErr = err
			continue
		}
		return img, nil
	}
	return nil, fmt.Errorf("%w: не найден декодируемый видеопоток: %v", ErrProcessing, lastErr)
}

func (g *Generator) runFFmpeg(ctx context.Context, src string, offset float64) ([]byte, error) {
	scale := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d",
		stillWidth, stillHeight, stillWidth, stillHeight)

	//nolint:gosec // путь к ffmpeg задаётся конфигурацией, аргументы не содержат пользовательского ввода
	cmd := exec.CommandContext(ctx, g.opts.FFmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-ss", strconv.FormatFloat(offset, 'f', 3, 64),
		"-i", src,
		"-map", "0:v:0",
		"-frames:v", "1",
		"-vf", scale,
		"-f", "image2pipe",
		"-c:v", "png",
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, truncate(stderr.String(), 300))
	}
	return stdout.Bytes(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
