package media

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"
)

// makeJPEG создаёт JPEG заданного размера с градиентом.
func makeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}
	return buf.Bytes()
}

// makePNG создаёт PNG с полупрозрачными пикселями.
func makePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 200, A: uint8(x % 256)})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

// makePDF собирает минимальный PDF с корректной таблицей xref.
func makePDF(t *testing.T) []byte {
	t.Helper()
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R 4 0 R] /Count 2 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>",
		"<< /Title (Site Report) /Author (J. Inspector) /Producer (unit-test) >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R /Info 5 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestDetectMIME(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"jpeg", makeJPEG(t, 8, 8), "image/jpeg"},
		{"png", makePNG(t, 8, 8), "image/png"},
		{"pdf", makePDF(t), "application/pdf"},
		{"text", []byte("inspection notes\n"), "text/plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectMIME(tt.data); got != tt.want {
				t.Errorf("DetectMIME: ожидалось %q, получено %q", tt.want, got)
			}
		})
	}
}

func TestBaseMIME(t *testing.T) {
	if got := BaseMIME("Text/Plain; charset=utf-8"); got != "text/plain" {
		t.Errorf("BaseMIME: получено %q", got)
	}
}

func TestInspectImage(t *testing.T) {
	info, err := InspectImage(makeJPEG(t, 320, 200))
	if err != nil {
		t.Fatalf("InspectImage: %v", err)
	}
	if info.Width != 320 || info.Height != 200 || info.Format != "jpeg" || info.HasAlpha {
		t.Errorf("неожиданный результат: %+v", info)
	}

	info, err = InspectImage(makePNG(t, 10, 10))
	if err != nil {
		t.Fatalf("InspectImage png: %v", err)
	}
	if !info.HasAlpha {
		t.Errorf("PNG с прозрачностью: HasAlpha должен быть true")
	}

	if _, err := InspectImage([]byte("not an image")); err == nil {
		t.Error("ожидалась ошибка для не-изображения")
	}
}

func TestFitSize(t *testing.T) {
	tests := []struct {
		w, h, side   int
		wantW, wantH int
	}{
		{800, 600, 150, 150, 112},
		{600, 800, 150, 112, 150},
		{3000, 1, 150, 150, 1},
		// Меньшее изображение не увеличивается
		{100, 100, 300, 100, 100},
		{640, 480, 1024, 640, 480},
		{200, 400, 400, 200, 400},
	}
	for _, tt := range tests {
		w, h := FitSize(tt.w, tt.h, tt.side)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("FitSize(%d,%d,%d) = %dx%d, ожидалось %dx%d", tt.w, tt.h, tt.side, w, h, tt.wantW, tt.wantH)
		}
	}
}

func TestResizeAndEncode(t *testing.T) {
	img, format, err := DecodeImage(makeJPEG(t, 400, 300))
	if err != nil {
		t.Fatalf("DecodeImage: %v", err)
	}
	if format != "jpeg" {
		t.Errorf("формат: получено %q", format)
	}

	thumb, err := Resize(img, 150)
	if err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if b := thumb.Bounds(); b.Dx() != 150 || b.Dy() != 112 {
		t.Errorf("размер миниатюры %dx%d", b.Dx(), b.Dy())
	}

	data, err := EncodeJPEG(thumb, 80)
	if err != nil {
		t.Fatalf("EncodeJPEG: %v", err)
	}
	info, err := InspectImage(data)
	if err != nil || info.Width != 150 {
		t.Errorf("закодированная миниатюра: %+v, %v", info, err)
	}

	if _, err := Resize(img, 0); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("ожидалась ErrInvalidSize, получено %v", err)
	}
}

func TestResizeDoesNotUpscale(t *testing.T) {
	img, _, err := DecodeImage(makeJPEG(t, 120, 80))
	if err != nil {
		t.Fatalf("DecodeImage: %v", err)
	}
	out, err := Resize(img, 600)
	if err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if b := out.Bounds(); b.Dx() != 120 || b.Dy() != 80 {
		t.Errorf("размер %dx%d, ожидался исходный 120x80", b.Dx(), b.Dy())
	}
}

// pngHeader — PNG из сигнатуры и IHDR: заголовок объявляет w×h,
// пиксельных данных нет.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8 // глубина
	ihdr[9] = 0 // grayscale

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestDecodeImageLimited(t *testing.T) {
	// 100000×100000 при размере файла в несколько десятков байт
	data := pngHeader(100_000, 100_000)
	info, err := InspectImage(data)
	if err != nil {
		t.Fatalf("InspectImage: %v", err)
	}
	if info.Pixels() != 10_000_000_000 {
		t.Errorf("Pixels = %d", info.Pixels())
	}
	if _, _, err := DecodeImageLimited(data, 0); !errors.Is(err, ErrTooManyPixels) {
		t.Errorf("ожидалась ErrTooManyPixels с пределом по умолчанию, получено %v", err)
	}

	small := makeJPEG(t, 100, 100)
	if _, _, err := DecodeImageLimited(small, 9_999); !errors.Is(err, ErrTooManyPixels) {
		t.Errorf("ожидалась ErrTooManyPixels, получено %v", err)
	}
	img, _, err := DecodeImageLimited(small, 10_000)
	if err != nil {
		t.Fatalf("DecodeImageLimited на границе: %v", err)
	}
	if img.Bounds().Dx() != 100 {
		t.Errorf("ширина %d", img.Bounds().Dx())
	}
}

func TestFlattenRemovesAlpha(t *testing.T) {
	img, _, err := DecodeImage(makePNG(t, 4, 4))
	if err != nil {
		t.Fatalf("DecodeImage: %v", err)
	}
	flat := Flatten(img)
	// Полностью прозрачный пиксель (x=0) становится белым
	r, g, b, a := flat.At(0, 0).RGBA()
	if a != 0xffff || r != 0xffff || g != 0xffff || b != 0xffff {
		t.Errorf("ожидался белый непрозрачный пиксель, получено %d %d %d %d", r, g, b, a)
	}
}

func TestClampQuality(t *testing.T) {
	for in, want := range map[int]int{-5: 1, 0: 1, 1: 1, 85: 85, 100: 100, 150: 100} {
		if got := ClampQuality(in); got != want {
			t.Errorf("ClampQuality(%d) = %d, ожидалось %d", in, got, want)
		}
	}
}

func TestExtractExif_NoExif(t *testing.T) {
	// Go-кодировщик JPEG не пишет EXIF
	if _, err := ExtractExif(makeJPEG(t, 8, 8)); err == nil {
		t.Error("ожидалась ошибка для JPEG без EXIF")
	}
}

func TestExtractPDFInfo(t *testing.T) {
	info, err := ExtractPDFInfo(makePDF(t))
	if err != nil {
		t.Fatalf("ExtractPDFInfo: %v", err)
	}
	if info.PageCount != 2 {
		t.Errorf("PageCount: ожидалось 2, получено %d", info.PageCount)
	}
	if info.Title != "Site Report" || info.Author != "J. Inspector" || info.Producer != "unit-test" {
		t.Errorf("неожиданные метаданные: %+v", info)
	}
}

func TestExtractPDFInfo_Corrupt(t *testing.T) {
	data := []byte("%PDF-1.4\n" + strings.Repeat("garbage ", 40))
	if _, err := ExtractPDFInfo(data); err == nil {
		t.Error("ожидалась ошибка для повреждённого PDF")
	}
}
