package media

import (
	"bytes"
	"fmt"
	"math"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

// exifFields — поля EXIF, сохраняемые в metadata.exif.
var exifFields = []exif.FieldName{
	exif.Make,
	exif.Model,
	exif.Software,
	exif.DateTime,
	exif.DateTimeOriginal,
	exif.Orientation,
	exif.ExposureTime,
	exif.FNumber,
	exif.ISOSpeedRatings,
	exif.FocalLength,
	exif.LensModel,
	exif.Flash,
}

// ExifData — извлечённые поля EXIF и плотность пикселей.
type ExifData struct {
	Fields map[string]any
	// Density — горизонтальное разрешение (XResolution), 0 если не задано
	Density float64
}

// ExtractExif читает EXIF из JPEG/TIFF. Изображения без EXIF возвращают ошибку.
func ExtractExif(data []byte) (*ExifData, error) {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения EXIF: %w", err)
	}

	result := &ExifData{Fields: make(map[string]any)}
	for _, name := range exifFields {
		tag, err := x.Get(name)
		if err != nil {
			continue
		}
		if v, ok := tagValue(tag); ok {
			result.Fields[string(name)] = v
		}
	}

	if lat, long, err := x.LatLong(); err == nil && !math.IsNaN(lat) && !math.IsNaN(long) {
		result.Fields["GPSLatitude"] = lat
		result.Fields["GPSLongitude"] = long
	}

	if tag, err := x.Get(exif.XResolution); err == nil {
		if num, den, err := tag.Rat2(0); err == nil && den != 0 {
			result.Density = float64(num) / float64(den)
		}
	}
	return result, nil
}

// tagValue приводит значение тега к JSON-совместимому типу.
func tagValue(tag *tiff.Tag) (any, bool) {
	switch tag.Format() {
	case tiff.StringVal:
		s, err := tag.StringVal()
		if err != nil || s == "" {
			return nil, false
		}
		return s, true
	case tiff.IntVal:
		v, err := tag.Int(0)
		if err != nil {
			return nil, false
		}
		return v, true
	case tiff.RatVal:
		num, den, err := tag.Rat2(0)
		if err != nil || den == 0 {
			return nil, false
		}
		return float64(num) / float64(den), true
	case tiff.FloatVal:
		v, err := tag.Float(0)
		if err != nil {
			return nil, false
		}
		return v, true
	}
	return nil, false
}
