package files

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"aibridge-backend/internal/database"
	"aibridge-backend/internal/datasets"
	apperrors "aibridge-backend/internal/errors"
	"aibridge-backend/internal/metrics"
	"aibridge-backend/internal/models"
	"aibridge-backend/internal/projects"
	"aibridge-backend/internal/storage"
	"aibridge-backend/pkg/utils"
)

func storageReady(c *gin.Context) bool {
	if storage.Default != nil {
		return true
	}
	utils.SendErrorResponse(c, http.StatusServiceUnavailable, apperrors.ErrStorageUnavailable)
	return false
}

// loadDataset resolves the :id dataset and checks project access.
func loadDataset(c *gin.Context) (*models.Dataset, *models.Project, bool) {
	datasetID, ok := projects.ParamID(c, "id")
	if !ok {
		return nil, nil, false
	}
	return datasets.Load(c, datasetID)
}

// refreshAggregates recounts a dataset's denormalized counters from its
// items. Called after any bulk mutation.
func refreshAggregates(datasetID uint) {
	var total, completed, approved int64
	database.DB.Model(&models.DataItem{}).Where("dataset_id = ?", datasetID).Count(&total)
	database.DB.Model(&models.DataItem{}).
		Where("dataset_id = ? AND status IN ?", datasetID,
			[]string{models.ItemAnnotated, models.ItemApproved}).Count(&completed)
	database.DB.Model(&models.DataItem{}).
		Where("dataset_id = ? AND status = ?", datasetID, models.ItemApproved).Count(&approved)

	database.DB.Model(&models.Dataset{}).Where("id = ?", datasetID).
		Updates(map[string]interface{}{
			"total_items":     total,
			"completed_items": completed,
			"approved_items":  approved,
		})
}

// HandleUpload ingests a multipart batch into a dataset. Each file is
// validated independently; one bad file never sinks the batch.
func HandleUpload(c *gin.Context) {
	if !storageReady(c) {
		return
	}
	dataset, project, ok := loadDataset(c)
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("INVALID_REQUEST", "Expected multipart form data"))
		return
	}
	fileHeaders := form.File["files"]
	if len(fileHeaders) == 0 {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("NO_FILES", "No files provided under field 'files'"))
		return
	}

	uploaded := make([]gin.H, 0, len(fileHeaders))
	failed := make([]gin.H, 0)
	fail := func(name, reason string) {
		failed = append(failed, gin.H{"filename": name, "reason": reason})
	}

	for _, header := range fileHeaders {
		category, allowed := categoryFor(header.Filename)
		if !allowed {
			fail(header.Filename, "file type not allowed: ."+fileExtension(header.Filename))
			continue
		}
		if header.Size > storage.MaxDirectUploadBytes {
			fail(header.Filename, fmt.Sprintf("file exceeds %d byte limit", storage.MaxDirectUploadBytes))
			continue
		}

		src, err := header.Open()
		if err != nil {
			fail(header.Filename, "failed to read file")
			continue
		}
		content, err := io.ReadAll(src)
		src.Close()
		if err != nil {
			fail(header.Filename, "failed to read file")
			continue
		}

		sum := sha256.Sum256(content)
		contentHash := hex.EncodeToString(sum[:])

		var dupes int64
		database.DB.Model(&models.DataItem{}).
			Where("dataset_id = ? AND content_hash = ?", dataset.ID, contentHash).
			Count(&dupes)
		if dupes > 0 {
			fail(header.Filename, "duplicate content already in dataset")
			continue
		}

		key := storage.BuildKey(project.ID, dataset.ID, header.Filename)
		contentType := header.Header.Get("Content-Type")
		if err := storage.Default.Put(c.Request.Context(), key,
			bytes.NewReader(content), int64(len(content)), contentType); err != nil {
			utils.HandleError(err, "files.HandleUpload")
			fail(header.Filename, "storage write failed")
			continue
		}

		item := models.DataItem{
			DatasetID:        dataset.ID,
			StorageKey:       key,
			OriginalFilename: header.Filename,
			ContentHash:      contentHash,
			FileSize:         int64(len(content)),
			ContentType:      contentType,
			Category:         category,
			Status:           models.ItemPending,
		}
		if err := database.DB.Create(&item).Error; err != nil {
			// Roll the object back so storage and DB stay in step.
			_ = storage.Default.Delete(c.Request.Context(), key)
			fail(header.Filename, "database write failed")
			continue
		}

		metrics.FilesUploaded.Inc()
		uploaded = append(uploaded, gin.H{
			"id":                item.ID,
			"original_filename": item.OriginalFilename,
			"storage_key":       item.StorageKey,
			"file_size":         item.FileSize,
			"category":          item.Category,
			"content_hash":      item.ContentHash,
		})
	}

	refreshAggregates(dataset.ID)
	var fresh models.Dataset
	database.DB.First(&fresh, dataset.ID)

	status := http.StatusCreated
	if len(uploaded) == 0 {
		status = http.StatusBadRequest
	}
	log.Printf("✅ dataset %d upload: %d stored, %d rejected", dataset.ID, len(uploaded), len(failed))
	c.JSON(status, gin.H{
		"uploaded_files": uploaded,
		"failed_files":   failed,
		"dataset": gin.H{
			"id":          fresh.ID,
			"total_items": fresh.TotalItems,
			"status":      fresh.Status,
		},
	})
}

// HandlePresignUpload returns a presigned POST so large files can go
// straight to object storage.
func HandlePresignUpload(c *gin.Context) {
	if !storageReady(c) {
		return
	}
	dataset, project, ok := loadDataset(c)
	if !ok {
		return
	}

	var req struct {
		Filename string `json:"filename" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("INVALID_REQUEST", "filename is required"))
		return
	}
	if _, allowed := categoryFor(req.Filename); !allowed {
		utils.SendErrorResponse(c, http.StatusUnprocessableEntity,
			apperrors.New("FILE_TYPE_NOT_ALLOWED", "file type not allowed: ."+fileExtension(req.Filename)))
		return
	}

	key := storage.BuildKey(project.ID, dataset.ID, req.Filename)
	post, err := storage.Default.PresignPost(c.Request.Context(), key)
	if err != nil {
		utils.HandleError(err, "files.HandlePresignUpload")
		utils.SendErrorResponse(c, http.StatusBadGateway, apperrors.ErrStorageUnavailable)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":    post.URL,
		"fields": post.Fields,
		"key":    post.Key,
	})
}

// HandleRegisterDirectUpload records an item uploaded via presigned POST
func HandleRegisterDirectUpload(c *gin.Context) {
	dataset, _, ok := loadDataset(c)
	if !ok {
		return
	}

	var req struct {
		StorageKey       string `json:"storage_key" binding:"required"`
		OriginalFilename string `json:"original_filename" binding:"required"`
		ContentHash      string `json:"content_hash"`
		FileSize         int64  `json:"file_size"`
		ContentType      string `json:"content_type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("INVALID_REQUEST", "storage_key and original_filename are required"))
		return
	}
	category, allowed := categoryFor(req.OriginalFilename)
	if !allowed {
		utils.SendErrorResponse(c, http.StatusUnprocessableEntity,
			apperrors.New("FILE_TYPE_NOT_ALLOWED", "file type not allowed: ."+fileExtension(req.OriginalFilename)))
		return
	}

	item := models.DataItem{
		DatasetID:        dataset.ID,
		StorageKey:       req.StorageKey,
		OriginalFilename: req.OriginalFilename,
		ContentHash:      req.ContentHash,
		FileSize:         req.FileSize,
		ContentType:      req.ContentType,
		Category:         category,
		Status:           models.ItemPending,
	}
	if err := database.DB.Create(&item).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusConflict,
			apperrors.New("DUPLICATE_KEY", "Storage key already registered"))
		return
	}

	metrics.FilesUploaded.Inc()
	refreshAggregates(dataset.ID)

	c.JSON(http.StatusCreated, gin.H{"item": item})
}

// HandleDownload returns a presigned GET URL for one item
func HandleDownload(c *gin.Context) {
	if !storageReady(c) {
		return
	}
	itemID, ok := projects.ParamID(c, "id")
	if !ok {
		return
	}

	var item models.DataItem
	if err := database.DB.First(&item, itemID).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusNotFound, apperrors.ErrNotFound)
		return
	}
	var dataset models.Dataset
	if err := database.DB.First(&dataset, item.DatasetID).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusNotFound, apperrors.ErrNotFound)
		return
	}
	if _, ok := projects.LoadAccessible(c, dataset.ProjectID); !ok {
		return
	}

	url, err := storage.Default.PresignGet(c.Request.Context(), item.StorageKey)
	if err != nil {
		utils.HandleError(err, "files.HandleDownload")
		utils.SendErrorResponse(c, http.StatusBadGateway, apperrors.ErrStorageUnavailable)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"download_url":      url,
		"original_filename": item.OriginalFilename,
		"content_type":      item.ContentType,
		"expires_in":        storage.PresignExpiry,
	})
}

// HandleDeleteItem removes an item and its stored object
func HandleDeleteItem(c *gin.Context) {
	itemID, ok := projects.ParamID(c, "id")
	if !ok {
		return
	}

	var item models.DataItem
	if err := database.DB.First(&item, itemID).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusNotFound, apperrors.ErrNotFound)
		return
	}
	var dataset models.Dataset
	if err := database.DB.First(&dataset, item.DatasetID).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusNotFound, apperrors.ErrNotFound)
		return
	}
	if _, ok := projects.LoadAccessible(c, dataset.ProjectID); !ok {
		return
	}

	if err := database.DB.Where("data_item_id = ?", item.ID).Delete(&models.Annotation{}).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "DB_ERROR", "Failed to delete annotations"))
		return
	}
	if err := database.DB.Delete(&item).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "DB_ERROR", "Failed to delete item"))
		return
	}

	if storage.Default != nil {
		if err := storage.Default.Delete(c.Request.Context(), item.StorageKey); err != nil {
			log.Printf("⚠️  failed to delete object %s: %v", item.StorageKey, err)
		}
	}

	refreshAggregates(dataset.ID)
	c.JSON(http.StatusOK, gin.H{"message": "Item deleted"})
}
