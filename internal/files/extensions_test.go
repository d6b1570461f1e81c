package files

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategoryFor(t *testing.T) {
	tests := []struct {
		filename     string
		wantCategory string
		wantAllowed  bool
	}{
		{"photo.jpg", "images", true},
		{"photo.JPEG", "images", true},
		{"scan.tiff", "images", true},
		{"report.pdf", "documents", true},
		{"notes.TXT", "documents", true},
		{"clip.mp3", "audio", true},
		{"interview.flac", "audio", true},
		{"demo.mp4", "video", true},
		{"raw.mkv", "video", true},
		{"export.csv", "data", true},
		{"payload.json", "data", true},
		{"bundle.zip", "archives", true},
		{"backup.tar", "archives", true},
		{"malware.exe", "", false},
		{"script.sh", "", false},
		{"page.html", "", false},
		{"noextension", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			category, allowed := categoryFor(tt.filename)
			assert.Equal(t, tt.wantAllowed, allowed)
			assert.Equal(t, tt.wantCategory, category)
		})
	}
}

func TestFileExtension(t *testing.T) {
	assert.Equal(t, "jpg", fileExtension("a.JPG"))
	assert.Equal(t, "gz", fileExtension("archive.tar.gz"))
	assert.Equal(t, "", fileExtension("none"))
}
