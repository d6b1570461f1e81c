package datasets

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"aibridge-backend/internal/database"
	apperrors "aibridge-backend/internal/errors"
	"aibridge-backend/internal/models"
	"aibridge-backend/internal/projects"
	"aibridge-backend/internal/storage"
	"aibridge-backend/pkg/utils"
)

// datasetView decorates a dataset with its derived progress.
func datasetView(d models.Dataset) gin.H {
	return gin.H{
		"id":                  d.ID,
		"project_id":          d.ProjectID,
		"name":                d.Name,
		"description":         d.Description,
		"status":              d.Status,
		"storage_prefix":      d.StoragePrefix,
		"total_items":         d.TotalItems,
		"completed_items":     d.CompletedItems,
		"approved_items":      d.ApprovedItems,
		"progress_percentage": d.ProgressPercentage(),
		"created_at":          d.CreatedAt,
		"updated_at":          d.UpdatedAt,
	}
}

// HandleCreateDataset opens a new dataset under a project
func HandleCreateDataset(c *gin.Context) {
	projectID, ok := projects.ParamID(c, "id")
	if !ok {
		return
	}
	project, ok := projects.LoadAccessible(c, projectID)
	if !ok {
		return
	}

	var req struct {
		Name        string `json:"name" binding:"required"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("INVALID_REQUEST", "name is required"))
		return
	}

	dataset := models.Dataset{
		ProjectID:   project.ID,
		Name:        req.Name,
		Description: req.Description,
		Status:      models.DatasetUploading,
	}
	if err := database.DB.Create(&dataset).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "DB_ERROR", "Failed to create dataset"))
		return
	}

	// The prefix needs the dataset ID, so it is stamped after insert.
	dataset.StoragePrefix = storage.DatasetPrefix(project.ID, dataset.ID)
	database.DB.Model(&dataset).Update("storage_prefix", dataset.StoragePrefix)

	c.JSON(http.StatusCreated, gin.H{"dataset": datasetView(dataset)})
}

// HandleListDatasets lists a project's datasets
func HandleListDatasets(c *gin.Context) {
	projectID, ok := projects.ParamID(c, "id")
	if !ok {
		return
	}
	if _, ok := projects.LoadAccessible(c, projectID); !ok {
		return
	}

	var datasets []models.Dataset
	if err := database.DB.Where("project_id = ?", projectID).
		Order("created_at ASC").Find(&datasets).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "DB_ERROR", "Failed to fetch datasets"))
		return
	}

	out := make([]gin.H, 0, len(datasets))
	for _, d := range datasets {
		out = append(out, datasetView(d))
	}

	c.JSON(http.StatusOK, gin.H{"datasets": out, "total": len(out)})
}

// Load fetches a dataset after checking project access.
func Load(c *gin.Context, datasetID uint) (*models.Dataset, *models.Project, bool) {
	var dataset models.Dataset
	if err := database.DB.First(&dataset, datasetID).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusNotFound, apperrors.ErrNotFound)
		return nil, nil, false
	}
	project, ok := projects.LoadAccessible(c, dataset.ProjectID)
	if !ok {
		return nil, nil, false
	}
	return &dataset, project, true
}

// HandleGetDataset returns one dataset with progress
func HandleGetDataset(c *gin.Context) {
	datasetID, ok := projects.ParamID(c, "id")
	if !ok {
		return
	}
	dataset, _, ok := Load(c, datasetID)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{"dataset": datasetView(*dataset)})
}

// HandleUpdateDataset updates name, description or status
func HandleUpdateDataset(c *gin.Context) {
	datasetID, ok := projects.ParamID(c, "id")
	if !ok {
		return
	}
	dataset, _, ok := Load(c, datasetID)
	if !ok {
		return
	}

	var req struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
		Status      *string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("INVALID_REQUEST", "Invalid update payload"))
		return
	}

	if req.Name != nil {
		dataset.Name = *req.Name
	}
	if req.Description != nil {
		dataset.Description = *req.Description
	}
	if req.Status != nil {
		switch *req.Status {
		case models.DatasetUploading, models.DatasetProcessing, models.DatasetReady, models.DatasetError:
			dataset.Status = *req.Status
		default:
			utils.SendErrorResponse(c, http.StatusUnprocessableEntity,
				apperrors.New("INVALID_STATUS", "Unknown dataset status: "+*req.Status))
			return
		}
	}

	if err := database.DB.Save(dataset).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "DB_ERROR", "Failed to update dataset"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"dataset": datasetView(*dataset)})
}

// HandleListItems pages through a dataset's items with presigned
// download URLs.
func HandleListItems(c *gin.Context) {
	datasetID, ok := projects.ParamID(c, "id")
	if !ok {
		return
	}
	dataset, _, ok := Load(c, datasetID)
	if !ok {
		return
	}
	page, perPage := utils.ParsePagination(c)

	query := database.DB.Model(&models.DataItem{}).Where("dataset_id = ?", dataset.ID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	query.Count(&total)

	var items []models.DataItem
	if err := query.Order("id ASC").
		Offset((page - 1) * perPage).Limit(perPage).
		Find(&items).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "DB_ERROR", "Failed to fetch items"))
		return
	}

	out := make([]gin.H, 0, len(items))
	for _, item := range items {
		entry := gin.H{
			"id":                item.ID,
			"dataset_id":        item.DatasetID,
			"original_filename": item.OriginalFilename,
			"content_type":      item.ContentType,
			"category":          item.Category,
			"file_size":         item.FileSize,
			"status":            item.Status,
			"created_at":        item.CreatedAt,
		}
		if storage.Default != nil {
			if url, err := storage.Default.PresignGet(c.Request.Context(), item.StorageKey); err == nil {
				entry["download_url"] = url
			}
		}
		out = append(out, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"items":      out,
		"pagination": utils.PaginationMeta(total, page, perPage),
	})
}
