package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	// Декодеры дополнительных форматов регистрируются в image.Decode
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	// ErrInvalidSize — недопустимый целевой размер масштабирования.
	ErrInvalidSize = errors.New("недопустимый размер изображения")
	// ErrTooManyPixels — заголовок объявляет больше пикселей, чем разрешено декодировать.
	ErrTooManyPixels = errors.New("слишком большое изображение")
)

// DefaultMaxPixels — предел площади декодируемого изображения по умолчанию.
const DefaultMaxPixels = 50_000_000

// ImageInfo — собственные характеристики изображения.
type ImageInfo struct {
	Width    int
	Height   int
	Format   string
	HasAlpha bool
}

// InspectImage читает заголовок изображения без полного декодирования.
func InspectImage(data []byte) (ImageInfo, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ImageInfo{}, fmt.Errorf("ошибка чтения заголовка изображения: %w", err)
	}
	return ImageInfo{
		Width:    cfg.Width,
		Height:   cfg.Height,
		Format:   format,
		HasAlpha: hasAlpha(cfg.ColorModel),
	}, nil
}

// Pixels — площадь изображения в пикселях.
func (i ImageInfo) Pixels() int64 {
	return int64(i.Width) * int64(i.Height)
}

// CheckPixels возвращает ErrTooManyPixels, если площадь превышает maxPixels.
// maxPixels <= 0 означает DefaultMaxPixels.
func (i ImageInfo) CheckPixels(maxPixels int64) error {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	if i.Pixels() > maxPixels {
		return fmt.Errorf("%w: %dx%d, допустимо не более %d пикселей", ErrTooManyPixels, i.Width, i.Height, maxPixels)
	}
	return nil
}

// hasAlpha — цветовая модель содержит альфа-канал.
// Для палитры: хотя бы один цвет не полностью непрозрачен.
func hasAlpha(m color.Model) bool {
	switch m {
	case color.RGBAModel, color.RGBA64Model, color.NRGBAModel, color.NRGBA64Model,
		color.AlphaModel, color.Alpha16Model:
		return true
	}
	if p, ok := m.(color.Palette); ok {
		for _, c := range p {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return true
			}
		}
	}
	return false
}

// DecodeImage декодирует изображение любого зарегистрированного формата.
func DecodeImage(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("ошибка декодирования изображения: %w", err)
	}
	return img, format, nil
}

// DecodeImageLimited декодирует изображение, предварительно проверив
// по заголовку, что его площадь не превышает maxPixels.
func DecodeImageLimited(data []byte, maxPixels int64) (image.Image, string, error) {
	info, err := InspectImage(data)
	if err != nil {
		return nil, "", err
	}
	if err := info.CheckPixels(maxPixels); err != nil {
		return nil, "", err
	}
	return DecodeImage(data)
}

// FitSize вычисляет размеры, при которых длинная сторона равна maxSide,
// с сохранением пропорций. Меньшая сторона не бывает меньше 1.
// Изображение, уже вписанное в maxSide, не увеличивается.
func FitSize(width, height, maxSide int) (int, int) {
	if width <= maxSide && height <= maxSide {
		return width, height
	}
	if width >= height {
		h := height * maxSide / width
		return maxSide, max(h, 1)
	}
	w := width * maxSide / height
	return max(w, 1), maxSide
}

// Resize уменьшает изображение так, чтобы длинная сторона стала не больше maxSide.
// Прозрачные области заливаются белым: результат предназначен для JPEG.
func Resize(src image.Image, maxSide int) (image.Image, error) {
	if maxSide <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, maxSide)
	}
	b := src.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: пустое изображение", ErrInvalidSize)
	}

	w, h := FitSize(b.Dx(), b.Dy(), maxSide)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst, nil
}

// Flatten накладывает изображение на белый фон без масштабирования.
func Flatten(src image.Image) image.Image {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}

// EncodeJPEG кодирует изображение в JPEG с качеством 1..100.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: ClampQuality(quality)}); err != nil {
		return nil, fmt.Errorf("ошибка кодирования JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// ClampQuality приводит качество к диапазону 1..100.
func ClampQuality(q int) int {
	return min(max(q, 1), 100)
}
