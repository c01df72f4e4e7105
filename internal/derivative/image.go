package derivative

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // регистрация декодера GIF
	_ "image/jpeg" // регистрация декодера JPEG
	_ "image/png"  // регистрация декодера PNG

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"  // регистрация декодера BMP
	_ "golang.org/x/image/tiff" // регистрация декодера TIFF
	_ "golang.org/x/image/webp" // регистрация декодера WebP
)

// imageDecodable — растровые форматы, для которых есть декодер.
var imageDecodable = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
	"image/bmp":  true,
	"image/tiff": true,
}

// maxSourcePixels — предел размера исходного изображения (защита от decompression bomb).
const maxSourcePixels = 100_000_000

// decodeImage декодирует изображение с учётом EXIF-ориентации.
func decodeImage(data []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: не удалось прочитать заголовок изображения: %v", ErrProcessing, err)
	}
	if cfg.Width*cfg.Height > maxSourcePixels {
		return nil, fmt.Errorf("%w: изображение %dx%d слишком велико", ErrProcessing, cfg.Width, cfg.Height)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: не удалось декодировать изображение: %v", ErrProcessing, err)
	}
	return img, nil
}

// encodeThumbnail масштабирует с центрированным crop до размеров size class
// и кодирует в JPEG. Одинаковый вход всегда даёт одинаковый результат.
func encodeThumbnail(img image.Image, sc SizeClass, quality int) (*Result, error) {
	thumb := imaging.Fill(img, sc.Width, sc.Height, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("%w: ошибка кодирования JPEG: %v", ErrProcessing, err)
	}

	b := thumb.Bounds()
	return &Result{
		Data:        buf.Bytes(),
		ContentType: "image/jpeg",
		Width:       b.Dx(),
		Height:      b.Dy(),
	}, nil
}
