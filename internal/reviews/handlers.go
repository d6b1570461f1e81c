package reviews

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"aibridge-backend/internal/annotations"
	"aibridge-backend/internal/database"
	apperrors "aibridge-backend/internal/errors"
	"aibridge-backend/internal/metrics"
	"aibridge-backend/internal/models"
	"aibridge-backend/internal/projects"
	"aibridge-backend/pkg/utils"
)

// decisionStatus maps a review decision onto the annotation status it
// produces. Escalation parks the annotation for a second look.
var decisionStatus = map[string]string{
	models.ReviewApproved:         models.AnnotationApproved,
	models.ReviewRejected:         models.AnnotationRejected,
	models.ReviewRevisionRequired: models.AnnotationRevisionRequired,
	models.ReviewEscalated:        models.AnnotationUnderReview,
}

// HandleCreateReview records a review decision on a completed annotation
func HandleCreateReview(c *gin.Context) {
	reviewerID := c.GetUint("user_id")

	var req struct {
		AnnotationID uint     `json:"annotation_id" binding:"required"`
		Decision     string   `json:"decision" binding:"required"`
		QualityScore *float64 `json:"quality_score"`
		Feedback     string   `json:"feedback"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("INVALID_REQUEST", "annotation_id and decision are required"))
		return
	}
	if !models.ValidReviewDecision(req.Decision) {
		utils.SendErrorResponse(c, http.StatusUnprocessableEntity,
			apperrors.New("INVALID_DECISION", "Unknown review decision: "+req.Decision))
		return
	}
	if req.QualityScore != nil && (*req.QualityScore < 0 || *req.QualityScore > 1) {
		utils.SendErrorResponse(c, http.StatusUnprocessableEntity,
			apperrors.New("INVALID_SCORE", "quality_score must be between 0 and 1"))
		return
	}

	var annotation models.Annotation
	if err := database.DB.First(&annotation, req.AnnotationID).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusNotFound, apperrors.ErrNotFound)
		return
	}
	if annotation.Status != models.AnnotationCompleted && annotation.Status != models.AnnotationUnderReview {
		utils.SendErrorResponse(c, http.StatusConflict,
			apperrors.New("NOT_REVIEWABLE",
				"Annotation in status "+annotation.Status+" cannot be reviewed"))
		return
	}

	review := models.Review{
		AnnotationID: annotation.ID,
		ReviewerID:   reviewerID,
		Decision:     req.Decision,
		QualityScore: req.QualityScore,
		Feedback:     req.Feedback,
	}
	if err := database.DB.Create(&review).Error; err != nil {
		// Self-review is rejected by the model hook.
		log.Printf("⚠️ review rejected for annotation %d by reviewer %d: %v", annotation.ID, reviewerID, err)
		utils.SendErrorResponse(c, http.StatusConflict,
			apperrors.Wrap(err, "REVIEW_REJECTED", "Review could not be recorded"))
		return
	}

	annotation.Status = decisionStatus[req.Decision]
	if err := database.DB.Model(&annotation).Update("status", annotation.Status).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "DB_ERROR", "Failed to update annotation status"))
		return
	}

	if req.Decision == models.ReviewEscalated {
		log.Printf("⚠️ Annotation %d escalated by reviewer %d on project %d",
			annotation.ID, reviewerID, annotation.ProjectID)
	}

	metrics.ReviewsRecorded.WithLabelValues(req.Decision).Inc()
	annotations.SyncItemStatus(&annotation)

	c.JSON(http.StatusCreated, gin.H{
		"review":            review,
		"annotation_status": annotation.Status,
	})
}

// HandleListReviews pages through reviews, scoped to the caller
func HandleListReviews(c *gin.Context) {
	role := c.GetString("role")
	userID := c.GetUint("user_id")
	orgID := c.GetUint("organization_id")
	page, perPage := utils.ParsePagination(c)

	query := database.DB.Model(&models.Review{})
	switch role {
	case models.RoleAdmin:
	case models.RoleReviewer:
		query = query.Where("reviewer_id = ?", userID)
	case models.RoleLabeler:
		query = query.Where("annotation_id IN (?)", database.DB.Model(&models.Annotation{}).
			Select("id").Where("labeler_id = ?", userID))
	default:
		query = query.Where("annotation_id IN (?)", database.DB.Model(&models.Annotation{}).
			Select("annotations.id").
			Joins("JOIN projects ON projects.id = annotations.project_id").
			Where("projects.organization_id = ?", orgID))
	}
	if annotationID := c.Query("annotation_id"); annotationID != "" {
		query = query.Where("annotation_id = ?", annotationID)
	}
	if decision := c.Query("decision"); decision != "" {
		query = query.Where("decision = ?", decision)
	}

	var total int64
	query.Count(&total)

	var reviews []models.Review
	if err := query.Order("created_at DESC").
		Offset((page - 1) * perPage).Limit(perPage).
		Find(&reviews).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "DB_ERROR", "Failed to fetch reviews"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reviews":    reviews,
		"pagination": utils.PaginationMeta(total, page, perPage),
	})
}

// HandleProjectQuality computes a quality rollup for a project over the
// requested window (default 30 days) and persists it as a QualityMetric.
func HandleProjectQuality(c *gin.Context) {
	projectID, ok := projects.ParamID(c, "id")
	if !ok {
		return
	}
	project, ok := projects.LoadAccessible(c, projectID)
	if !ok {
		return
	}

	days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
	if err != nil || days < 1 || days > 365 {
		days = 30
	}
	periodEnd := time.Now()
	periodStart := periodEnd.AddDate(0, 0, -days)

	reviewed := database.DB.Model(&models.Review{}).
		Joins("JOIN annotations ON annotations.id = reviews.annotation_id").
		Where("annotations.project_id = ? AND reviews.created_at BETWEEN ? AND ?",
			project.ID, periodStart, periodEnd)

	var reviewedCount, approvedCount int64
	reviewed.Count(&reviewedCount)
	reviewed.Where("reviews.decision = ?", models.ReviewApproved).Count(&approvedCount)

	var avgScore float64
	database.DB.Model(&models.Review{}).
		Joins("JOIN annotations ON annotations.id = reviews.annotation_id").
		Where("annotations.project_id = ? AND reviews.created_at BETWEEN ? AND ? AND reviews.quality_score IS NOT NULL",
			project.ID, periodStart, periodEnd).
		Select("COALESCE(AVG(reviews.quality_score), 0)").
		Scan(&avgScore)

	var avgTime float64
	database.DB.Model(&models.Annotation{}).
		Where("project_id = ? AND completed_at BETWEEN ? AND ? AND time_spent_seconds > 0",
			project.ID, periodStart, periodEnd).
		Select("COALESCE(AVG(time_spent_seconds), 0)").
		Scan(&avgTime)

	var completedCount int64
	database.DB.Model(&models.Annotation{}).
		Where("project_id = ? AND completed_at BETWEEN ? AND ?", project.ID, periodStart, periodEnd).
		Count(&completedCount)

	accuracy := 0.0
	if reviewedCount > 0 {
		accuracy = float64(approvedCount) / float64(reviewedCount)
	}

	metric := models.QualityMetric{
		ProjectID:         project.ID,
		PeriodStart:       periodStart,
		PeriodEnd:         periodEnd,
		Accuracy:          accuracy,
		Throughput:        float64(completedCount) / float64(days),
		ReviewedCount:     reviewedCount,
		ApprovedCount:     approvedCount,
		AvgQualityScore:   avgScore,
		AvgTimePerItemSec: avgTime,
	}
	if err := database.DB.Create(&metric).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "DB_ERROR", "Failed to store quality metric"))
		return
	}

	meetsThreshold := accuracy >= project.QualityThreshold
	c.JSON(http.StatusOK, gin.H{
		"quality":           metric,
		"quality_threshold": project.QualityThreshold,
		"meets_threshold":   meetsThreshold,
	})
}
