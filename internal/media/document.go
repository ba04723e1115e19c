package media

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// DocumentInfo — метаданные PDF-документа.
type DocumentInfo struct {
	PageCount int
	Author    string
	Title     string
	Subject   string
	Creator   string
	Producer  string
}

// ExtractPDFInfo читает количество страниц и словарь Info.
// Разбор повреждённых файлов может паниковать внутри парсера,
// паника превращается в ошибку.
func ExtractPDFInfo(data []byte) (info DocumentInfo, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ошибка разбора PDF: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return DocumentInfo{}, fmt.Errorf("ошибка открытия PDF: %w", err)
	}

	meta := reader.Trailer().Key("Info")
	return DocumentInfo{
		PageCount: reader.NumPage(),
		Author:    meta.Key("Author").Text(),
		Title:     meta.Key("Title").Text(),
		Subject:   meta.Key("Subject").Text(),
		Creator:   meta.Key("Creator").Text(),
		Producer:  meta.Key("Producer").Text(),
	}, nil
}
