package storage

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"photo.jpg", "photo.jpg"},
		{"my photo (1).jpg", "my_photo__1_.jpg"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\alice\doc.pdf`, "doc.pdf"},
		{"Ünïcodé.png", "_n_cod_.png"},
		{"", "file"},
		{"...", "file"},
		{"___", "file"},
		{"data-set_v2.csv", "data-set_v2.csv"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in), tt.in)
	}
}

func TestBuildKey(t *testing.T) {
	key := BuildKey(12, 34, "cat photo.jpg")

	assert.True(t, strings.HasPrefix(key, "projects/12/datasets/34/"), key)
	assert.True(t, strings.HasSuffix(key, "_cat_photo.jpg"), key)

	// Timestamp segment is YYYYMMDD_HHMMSS.
	re := regexp.MustCompile(`^projects/12/datasets/34/\d{8}_\d{6}_cat_photo\.jpg$`)
	assert.Regexp(t, re, key)
}

func TestDatasetPrefix(t *testing.T) {
	assert.Equal(t, "projects/7/datasets/9/", DatasetPrefix(7, 9))

	key := BuildKey(7, 9, "a.png")
	assert.True(t, strings.HasPrefix(key, DatasetPrefix(7, 9)))
}
