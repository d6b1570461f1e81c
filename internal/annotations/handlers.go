package annotations

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"aibridge-backend/internal/database"
	apperrors "aibridge-backend/internal/errors"
	"aibridge-backend/internal/metrics"
	"aibridge-backend/internal/models"
	"aibridge-backend/internal/projects"
	"aibridge-backend/pkg/utils"
)

// validTransitions is the annotation state machine. Reviews drive the
// under_review exits; labelers drive the rest.
var validTransitions = map[string][]string{
	models.AnnotationPending:          {models.AnnotationInProgress},
	models.AnnotationInProgress:       {models.AnnotationCompleted},
	models.AnnotationCompleted:        {models.AnnotationUnderReview},
	models.AnnotationUnderReview:      {models.AnnotationApproved, models.AnnotationRejected, models.AnnotationRevisionRequired},
	models.AnnotationRejected:         {models.AnnotationInProgress},
	models.AnnotationRevisionRequired: {models.AnnotationInProgress},
}

// CanTransition reports whether from -> to is a legal status move.
func CanTransition(from, to string) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SyncItemStatus mirrors an annotation status onto its data item and
// refreshes the dataset counters.
func SyncItemStatus(annotation *models.Annotation) {
	var itemStatus string
	switch annotation.Status {
	case models.AnnotationCompleted, models.AnnotationUnderReview:
		itemStatus = models.ItemAnnotated
	case models.AnnotationApproved:
		itemStatus = models.ItemApproved
	case models.AnnotationRejected:
		itemStatus = models.ItemRejected
	case models.AnnotationRevisionRequired, models.AnnotationInProgress, models.AnnotationPending:
		itemStatus = models.ItemPending
	default:
		return
	}

	var item models.DataItem
	if err := database.DB.First(&item, annotation.DataItemID).Error; err != nil {
		return
	}
	database.DB.Model(&item).Update("status", itemStatus)

	var total, completed, approved int64
	database.DB.Model(&models.DataItem{}).Where("dataset_id = ?", item.DatasetID).Count(&total)
	database.DB.Model(&models.DataItem{}).
		Where("dataset_id = ? AND status IN ?", item.DatasetID,
			[]string{models.ItemAnnotated, models.ItemApproved}).Count(&completed)
	database.DB.Model(&models.DataItem{}).
		Where("dataset_id = ? AND status = ?", item.DatasetID, models.ItemApproved).Count(&approved)
	database.DB.Model(&models.Dataset{}).Where("id = ?", item.DatasetID).
		Updates(map[string]interface{}{
			"total_items":     total,
			"completed_items": completed,
			"approved_items":  approved,
		})
}

// HandleCreateAnnotation starts an annotation on a data item
func HandleCreateAnnotation(c *gin.Context) {
	userID := c.GetUint("user_id")

	var req struct {
		DataItemID     uint        `json:"data_item_id" binding:"required"`
		AnnotationType string      `json:"annotation_type" binding:"required"`
		Payload        models.JSON `json:"payload"`
		Confidence     *float64    `json:"confidence"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("INVALID_REQUEST", "data_item_id and annotation_type are required"))
		return
	}
	if !models.ValidAnnotationType(req.AnnotationType) {
		utils.SendErrorResponse(c, http.StatusUnprocessableEntity,
			apperrors.New("INVALID_ANNOTATION_TYPE", "Unknown annotation type: "+req.AnnotationType))
		return
	}

	var item models.DataItem
	if err := database.DB.First(&item, req.DataItemID).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusNotFound, apperrors.ErrNotFound)
		return
	}
	var dataset models.Dataset
	if err := database.DB.First(&dataset, item.DatasetID).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusNotFound, apperrors.ErrNotFound)
		return
	}

	// Labelers and reviewers can start on any active project; their
	// usual scope only covers work they have already touched.
	var project models.Project
	role := c.GetString("role")
	if role == models.RoleLabeler || role == models.RoleReviewer {
		if err := database.DB.Where("id = ? AND status IN ?", dataset.ProjectID,
			[]string{models.ProjectActive, models.ProjectInProgress}).
			First(&project).Error; err != nil {
			utils.SendErrorResponse(c, http.StatusNotFound, apperrors.ErrNotFound)
			return
		}
	} else {
		loaded, ok := projects.LoadAccessible(c, dataset.ProjectID)
		if !ok {
			return
		}
		project = *loaded
	}

	// One open annotation per labeler per item.
	var existing models.Annotation
	if err := database.DB.Where("data_item_id = ? AND labeler_id = ? AND status NOT IN ?",
		item.ID, userID,
		[]string{models.AnnotationApproved, models.AnnotationRejected}).
		First(&existing).Error; err == nil {
		utils.SendErrorResponse(c, http.StatusConflict,
			apperrors.New("ANNOTATION_EXISTS", "An open annotation for this item already exists"))
		return
	}

	annotation := models.Annotation{
		DataItemID:     item.ID,
		ProjectID:      project.ID,
		LabelerID:      userID,
		AnnotationType: req.AnnotationType,
		Status:         models.AnnotationInProgress,
		Payload:        req.Payload,
		Confidence:     req.Confidence,
	}
	if err := database.DB.Create(&annotation).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "DB_ERROR", "Failed to create annotation"))
		return
	}

	c.JSON(http.StatusCreated, gin.H{"annotation": annotation})
}

// loadOwn fetches an annotation the caller may edit.
func loadOwn(c *gin.Context) (*models.Annotation, bool) {
	annotationID, ok := projects.ParamID(c, "id")
	if !ok {
		return nil, false
	}
	var annotation models.Annotation
	if err := database.DB.First(&annotation, annotationID).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusNotFound, apperrors.ErrNotFound)
		return nil, false
	}

	role := c.GetString("role")
	if role != models.RoleAdmin && role != models.RoleProjectManager &&
		annotation.LabelerID != c.GetUint("user_id") {
		utils.SendErrorResponse(c, http.StatusForbidden, apperrors.ErrForbidden)
		return nil, false
	}
	return &annotation, true
}

// HandleUpdateAnnotation edits payload, confidence or time spent
func HandleUpdateAnnotation(c *gin.Context) {
	annotation, ok := loadOwn(c)
	if !ok {
		return
	}
	if annotation.Status == models.AnnotationApproved {
		utils.SendErrorResponse(c, http.StatusConflict,
			apperrors.New("ANNOTATION_LOCKED", "Approved annotations cannot be edited"))
		return
	}

	var req struct {
		Payload          models.JSON `json:"payload"`
		Confidence       *float64    `json:"confidence"`
		TimeSpentSeconds *int64      `json:"time_spent_seconds"`
		Status           *string     `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("INVALID_REQUEST", "Invalid update payload"))
		return
	}

	updates := map[string]interface{}{}
	if req.Payload != nil {
		updates["payload"] = req.Payload
	}
	if req.Confidence != nil {
		updates["confidence"] = *req.Confidence
	}
	if req.TimeSpentSeconds != nil {
		if *req.TimeSpentSeconds < 0 {
			utils.SendErrorResponse(c, http.StatusUnprocessableEntity,
				apperrors.New("INVALID_TIME", "time_spent_seconds cannot be negative"))
			return
		}
		updates["time_spent_seconds"] = *req.TimeSpentSeconds
	}
	if req.Status != nil && *req.Status != annotation.Status {
		if !models.ValidAnnotationStatus(*req.Status) {
			utils.SendErrorResponse(c, http.StatusUnprocessableEntity,
				apperrors.New("INVALID_STATUS", "Unknown annotation status: "+*req.Status))
			return
		}
		if !CanTransition(annotation.Status, *req.Status) {
			utils.SendErrorResponse(c, http.StatusUnprocessableEntity,
				apperrors.New("INVALID_TRANSITION",
					"Cannot move annotation from "+annotation.Status+" to "+*req.Status))
			return
		}
		updates["status"] = *req.Status
	}

	if len(updates) > 0 {
		if err := database.DB.Model(annotation).Updates(updates).Error; err != nil {
			utils.SendErrorResponse(c, http.StatusInternalServerError,
				apperrors.Wrap(err, "DB_ERROR", "Failed to update annotation"))
			return
		}
		if _, changed := updates["status"]; changed {
			SyncItemStatus(annotation)
		}
	}

	c.JSON(http.StatusOK, gin.H{"annotation": annotation})
}

// HandleSubmitAnnotation completes an in-progress annotation
func HandleSubmitAnnotation(c *gin.Context) {
	annotation, ok := loadOwn(c)
	if !ok {
		return
	}
	if !CanTransition(annotation.Status, models.AnnotationCompleted) {
		utils.SendErrorResponse(c, http.StatusUnprocessableEntity,
			apperrors.New("INVALID_TRANSITION",
				"Cannot submit annotation from status "+annotation.Status))
		return
	}

	var req struct {
		Payload          models.JSON `json:"payload"`
		Confidence       *float64    `json:"confidence"`
		TimeSpentSeconds *int64      `json:"time_spent_seconds"`
	}
	_ = c.ShouldBindJSON(&req)

	now := time.Now()
	annotation.Status = models.AnnotationCompleted
	annotation.CompletedAt = &now
	if req.Payload != nil {
		annotation.Payload = req.Payload
	}
	if req.Confidence != nil {
		annotation.Confidence = req.Confidence
	}
	if req.TimeSpentSeconds != nil && *req.TimeSpentSeconds >= 0 {
		annotation.TimeSpentSeconds = *req.TimeSpentSeconds
	}

	if err := database.DB.Save(annotation).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "DB_ERROR", "Failed to submit annotation"))
		return
	}

	metrics.AnnotationsCompleted.Inc()
	SyncItemStatus(annotation)

	c.JSON(http.StatusOK, gin.H{"annotation": annotation, "message": "Annotation submitted"})
}

// HandleGetAnnotation returns one annotation with its reviews
func HandleGetAnnotation(c *gin.Context) {
	annotationID, ok := projects.ParamID(c, "id")
	if !ok {
		return
	}
	var annotation models.Annotation
	if err := database.DB.First(&annotation, annotationID).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusNotFound, apperrors.ErrNotFound)
		return
	}
	if _, ok := projects.LoadAccessible(c, annotation.ProjectID); !ok {
		return
	}

	var reviews []models.Review
	database.DB.Where("annotation_id = ?", annotation.ID).Order("created_at DESC").Find(&reviews)

	c.JSON(http.StatusOK, gin.H{"annotation": annotation, "reviews": reviews})
}

// HandleListAnnotations lists annotations visible to the caller
func HandleListAnnotations(c *gin.Context) {
	role := c.GetString("role")
	userID := c.GetUint("user_id")
	orgID := c.GetUint("organization_id")
	page, perPage := utils.ParsePagination(c)

	query := database.DB.Model(&models.Annotation{})
	switch role {
	case models.RoleAdmin:
	case models.RoleLabeler:
		query = query.Where("labeler_id = ?", userID)
	case models.RoleReviewer:
		query = query.Where("status IN ?",
			[]string{models.AnnotationCompleted, models.AnnotationUnderReview})
	default:
		query = query.Where("project_id IN (?)", database.DB.Model(&models.Project{}).
			Select("id").Where("organization_id = ?", orgID))
	}
	if projectID := c.Query("project_id"); projectID != "" {
		query = query.Where("project_id = ?", projectID)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	query.Count(&total)

	var annotations []models.Annotation
	if err := query.Order("updated_at DESC").
		Offset((page - 1) * perPage).Limit(perPage).
		Find(&annotations).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "DB_ERROR", "Failed to fetch annotations"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"annotations": annotations,
		"pagination":  utils.PaginationMeta(total, page, perPage),
	})
}
