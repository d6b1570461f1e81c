package files

import (
	"path/filepath"
	"strings"
)

// allowedExtensions maps a file category to its accepted extensions
// (lowercase, without the dot).
var allowedExtensions = map[string][]string{
	"images":    {"png", "jpg", "jpeg", "gif", "bmp", "tiff", "webp"},
	"documents": {"pdf", "doc", "docx", "txt", "rtf"},
	"audio":     {"mp3", "wav", "flac", "aac", "m4a", "ogg"},
	"video":     {"mp4", "avi", "mov", "wmv", "flv", "webm", "mkv"},
	"data":      {"csv", "json", "xml", "xlsx", "xls"},
	"archives":  {"zip", "rar", "7z", "tar", "gz"},
}

var extensionCategory = func() map[string]string {
	m := make(map[string]string)
	for category, exts := range allowedExtensions {
		for _, ext := range exts {
			m[ext] = category
		}
	}
	return m
}()

// fileExtension returns the lowercase extension without the leading dot.
func fileExtension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// categoryFor classifies a filename, or returns ("", false) when the
// extension is not on the allow-list.
func categoryFor(filename string) (string, bool) {
	category, ok := extensionCategory[fileExtension(filename)]
	return category, ok
}
