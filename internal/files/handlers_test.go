package files

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"aibridge-backend/internal/database"
	"aibridge-backend/internal/models"
	"aibridge-backend/internal/storage"
)

// fakeStore is an in-memory ObjectStore for handler tests.
type fakeStore struct {
	objects map[string][]byte
	failPut bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (f *fakeStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if f.failPut {
		return errors.New("storage down")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.objects[key] = data
	return nil
}

func (f *fakeStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func (f *fakeStore) Delete(ctx context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func (f *fakeStore) PresignGet(ctx context.Context, key string) (string, error) {
	return "https://storage.test/" + key, nil
}

func (f *fakeStore) PresignPost(ctx context.Context, key string) (*storage.PresignedPost, error) {
	return &storage.PresignedPost{
		URL:    "https://storage.test/upload",
		Fields: map[string]string{"key": key},
		Key:    key,
	}, nil
}

func (f *fakeStore) Health(ctx context.Context) error { return nil }

var testDBSeq atomic.Int64

func setupUpload(t *testing.T) (*gin.Engine, *fakeStore, *models.Dataset) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:filestest%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	database.DB = db
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})

	store := newFakeStore()
	prev := storage.Default
	storage.Default = store
	t.Cleanup(func() { storage.Default = prev })

	org := models.Organization{Name: "Acme", Slug: "acme"}
	require.NoError(t, db.Create(&org).Error)
	project := models.Project{
		Name:           "cats",
		ProjectType:    models.TypeImageClassification,
		OrganizationID: org.ID,
		Status:         models.ProjectActive,
	}
	require.NoError(t, db.Create(&project).Error)
	dataset := models.Dataset{ProjectID: project.ID, Name: "batch-1"}
	require.NoError(t, db.Create(&dataset).Error)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("user_id", uint(1))
		c.Set("role", models.RoleClientAdmin)
		c.Set("organization_id", org.ID)
		c.Next()
	})
	router.POST("/datasets/:id/files/upload", HandleUpload)
	router.POST("/datasets/:id/files/presign", HandlePresignUpload)
	router.GET("/items/:id/download", HandleDownload)
	router.DELETE("/items/:id", HandleDeleteItem)
	return router, store, &dataset
}

func multipartBody(t *testing.T, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := writer.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return &buf, writer.FormDataContentType()
}

func TestUpload_PartialFailure(t *testing.T) {
	router, store, dataset := setupUpload(t)

	body, contentType := multipartBody(t, map[string][]byte{
		"cat.png":     []byte("png-bytes"),
		"malware.exe": []byte("nope"),
	})
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/datasets/%d/files/upload", dataset.ID), body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// One good file makes the batch a success.
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		UploadedFiles []map[string]interface{} `json:"uploaded_files"`
		FailedFiles   []map[string]interface{} `json:"failed_files"`
		Dataset       struct {
			TotalItems int64 `json:"total_items"`
		} `json:"dataset"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.UploadedFiles, 1)
	assert.Len(t, resp.FailedFiles, 1)
	assert.Equal(t, "cat.png", resp.UploadedFiles[0]["original_filename"])
	assert.Equal(t, "malware.exe", resp.FailedFiles[0]["filename"])
	assert.Equal(t, int64(1), resp.Dataset.TotalItems)

	// The object landed in storage under the dataset prefix.
	assert.Len(t, store.objects, 1)
	for key := range store.objects {
		assert.Contains(t, key, fmt.Sprintf("projects/%d/datasets/%d/", dataset.ProjectID, dataset.ID))
	}
}

func TestUpload_AllRejected(t *testing.T) {
	router, store, dataset := setupUpload(t)

	body, contentType := multipartBody(t, map[string][]byte{"script.sh": []byte("#!/bin/sh")})
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/datasets/%d/files/upload", dataset.ID), body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, store.objects)
}

func TestUpload_DuplicateContent(t *testing.T) {
	router, _, dataset := setupUpload(t)

	upload := func(name string) *httptest.ResponseRecorder {
		body, contentType := multipartBody(t, map[string][]byte{name: []byte("same-bytes")})
		req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/datasets/%d/files/upload", dataset.ID), body)
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	require.Equal(t, http.StatusCreated, upload("first.png").Code)

	// Same bytes under a new name are rejected as duplicates.
	w := upload("second.png")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp struct {
		FailedFiles []map[string]interface{} `json:"failed_files"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.FailedFiles, 1)
	assert.Contains(t, resp.FailedFiles[0]["reason"], "duplicate")
}

func TestUpload_StorageFailureRecorded(t *testing.T) {
	router, store, dataset := setupUpload(t)
	store.failPut = true

	body, contentType := multipartBody(t, map[string][]byte{"cat.png": []byte("png-bytes")})
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/datasets/%d/files/upload", dataset.ID), body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var count int64
	database.DB.Model(&models.DataItem{}).Count(&count)
	assert.Zero(t, count)
}

func TestPresignUpload(t *testing.T) {
	router, _, dataset := setupUpload(t)

	payload, _ := json.Marshal(gin.H{"filename": "big video.mp4"})
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/datasets/%d/files/presign", dataset.ID), bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "https://storage.test/upload", resp["url"])
	assert.Contains(t, resp["key"], "big_video.mp4")

	// Disallowed types never get a presigned URL.
	payload, _ = json.Marshal(gin.H{"filename": "tool.exe"})
	req = httptest.NewRequest(http.MethodPost, fmt.Sprintf("/datasets/%d/files/presign", dataset.ID), bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestDownloadAndDelete(t *testing.T) {
	router, store, dataset := setupUpload(t)

	body, contentType := multipartBody(t, map[string][]byte{"cat.png": []byte("png-bytes")})
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/datasets/%d/files/upload", dataset.ID), body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var item models.DataItem
	require.NoError(t, database.DB.First(&item).Error)

	req = httptest.NewRequest(http.MethodGet, fmt.Sprintf("/items/%d/download", item.ID), nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "https://storage.test/"+item.StorageKey, resp["download_url"])

	req = httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/items/%d", item.ID), nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Empty(t, store.objects)
	var fresh models.Dataset
	require.NoError(t, database.DB.First(&fresh, dataset.ID).Error)
	assert.Zero(t, fresh.TotalItems)
}
