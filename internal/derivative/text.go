package derivative

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"unicode/utf8"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Геометрия текстовой «страницы».
const (
	pageWidth  = 600
	pageHeight = 800
	pageMargin = 32
	fontSize   = 14
	// lineHeight — межстрочный интервал 1.4 от размера шрифта
	lineHeight = fontSize * 7 / 5
	tabSpaces  = "    "
)

// textRenderer рисует текст на белой странице шрифтом Go Regular (с кириллицей).
// opentype.Face не безопасен для конкурентного использования,
// поэтому face создаётся на каждую отрисовку из общего *opentype.Font.
type textRenderer struct {
	font *opentype.Font
}

func newTextRenderer() (*textRenderer, error) {
	f, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки шрифта: %w", err)
	}
	return &textRenderer{font: f}, nil
}

// render отрисовывает первую страницу текста с переносом по словам.
// Остаток, не поместившийся на страницу, отбрасывается.
func (r *textRenderer) render(text string) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, pageWidth, pageHeight))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	face, err := opentype.NewFace(r.font, &opentype.FaceOptions{
		Size:    fontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return img
	}
	defer face.Close()

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{R: 0x22, G: 0x22, B: 0x22, A: 0xFF}),
		Face: face,
	}

	maxWidth := fixed.I(pageWidth - 2*pageMargin)
	y := pageMargin + fontSize

	for _, line := range r.wrap(d, text, maxWidth) {
		if y > pageHeight-pageMargin {
			break
		}
		d.Dot = fixed.P(pageMargin, y)
		d.DrawString(line)
		y += lineHeight
	}
	return img
}

// wrap разбивает текст на строки, не шире maxWidth.
func (r *textRenderer) wrap(d *font.Drawer, text string, maxWidth fixed.Int26_6) []string {
	var lines []string
	text = strings.ReplaceAll(text, "\t", tabSpaces)

	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}
		cur := ""
		for _, w := range words {
			// Слово шире строки режется по символам
			for d.MeasureString(w) > maxWidth && utf8.RuneCountInString(w) > 1 {
				cut := fitRunes(d, w, maxWidth)
				if cur != "" {
					lines = append(lines, cur)
					cur = ""
				}
				lines = append(lines, w[:cut])
				w = w[cut:]
			}
			candidate := w
			if cur != "" {
				candidate = cur + " " + w
			}
			if d.MeasureString(candidate) <= maxWidth {
				cur = candidate
				continue
			}
			if cur != "" {
				lines = append(lines, cur)
			}
			cur = w
		}
		if cur != "" {
			lines = append(lines, cur)
		}
	}
	return lines
}

// fitRunes возвращает байтовую длину префикса s, помещающегося в maxWidth (минимум один символ).
func fitRunes(d *font.Drawer, s string, maxWidth fixed.Int26_6) int {
	end := 0
	for i, rn := range s {
		next := i + utf8.RuneLen(rn)
		if d.MeasureString(s[:next]) > maxWidth {
			break
		}
		end = next
	}
	if end == 0 {
		_, size := utf8.DecodeRuneInString(s)
		end = size
	}
	return end
}
