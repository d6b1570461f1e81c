package projects

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"aibridge-backend/internal/billing"
	"aibridge-backend/internal/dashboard"
	"aibridge-backend/internal/database"
	apperrors "aibridge-backend/internal/errors"
	"aibridge-backend/internal/models"
	"aibridge-backend/internal/storage"
	"aibridge-backend/pkg/utils"
)

// scopedQuery narrows a project query to what the caller may see.
// Labelers and reviewers only see projects they have worked on.
func scopedQuery(db *gorm.DB, role string, userID, orgID uint) *gorm.DB {
	switch role {
	case models.RoleAdmin:
		return db
	case models.RoleProjectManager:
		// Managers are staff and see everything; listing offers ?managed=true.
		return db
	case models.RoleLabeler:
		return db.Where("id IN (?)", database.DB.Model(&models.Annotation{}).
			Select("DISTINCT project_id").Where("labeler_id = ?", userID))
	case models.RoleReviewer:
		return db.Where("id IN (?)", database.DB.Model(&models.Review{}).
			Select("DISTINCT annotations.project_id").
			Joins("JOIN annotations ON annotations.id = reviews.annotation_id").
			Where("reviews.reviewer_id = ?", userID))
	default: // client_admin, client_user
		return db.Where("organization_id = ?", orgID)
	}
}

// LoadAccessible fetches a project if the caller's scope covers it.
func LoadAccessible(c *gin.Context, projectID uint) (*models.Project, bool) {
	role := c.GetString("role")
	userID := c.GetUint("user_id")
	orgID := c.GetUint("organization_id")

	var project models.Project
	query := scopedQuery(database.DB.Where("id = ?", projectID), role, userID, orgID)
	if err := query.First(&project).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusNotFound, apperrors.ErrNotFound)
		return nil, false
	}
	return &project, true
}

// ParamID parses the :id (or named) route parameter.
func ParamID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("INVALID_ID", "Invalid "+name+" parameter"))
		return 0, false
	}
	return uint(id), true
}

// HandleCreateProject creates a project in the caller's organization
func HandleCreateProject(c *gin.Context) {
	userID := c.GetUint("user_id")
	orgID := c.GetUint("organization_id")
	role := c.GetString("role")

	var req struct {
		Name             string      `json:"name" binding:"required"`
		Description      string      `json:"description"`
		ProjectType      string      `json:"project_type" binding:"required"`
		Instructions     string      `json:"instructions"`
		QualityThreshold *float64    `json:"quality_threshold"`
		LabelConfig      models.JSON `json:"label_config"`
		Deadline         *time.Time  `json:"deadline"`
		Budget           float64     `json:"budget"`
		ManagerID        *uint       `json:"manager_id"`
		OrganizationID   *uint       `json:"organization_id"`
		CustomRate       *float64    `json:"custom_rate"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("INVALID_REQUEST", "name and project_type are required"))
		return
	}

	if !models.ValidProjectType(req.ProjectType) {
		utils.SendErrorResponse(c, http.StatusUnprocessableEntity,
			apperrors.New("INVALID_PROJECT_TYPE", "Unknown project type: "+req.ProjectType))
		return
	}
	if req.QualityThreshold != nil && (*req.QualityThreshold < 0 || *req.QualityThreshold > 1) {
		utils.SendErrorResponse(c, http.StatusUnprocessableEntity,
			apperrors.New("INVALID_THRESHOLD", "quality_threshold must be between 0 and 1"))
		return
	}

	// Admins may create on behalf of any organization; everyone else is
	// pinned to their own.
	targetOrg := orgID
	if role == models.RoleAdmin && req.OrganizationID != nil {
		targetOrg = *req.OrganizationID
	}
	if targetOrg == 0 {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("NO_ORGANIZATION", "Project requires an organization"))
		return
	}

	project := models.Project{
		Name:           req.Name,
		Description:    req.Description,
		ProjectType:    req.ProjectType,
		Status:         models.ProjectDraft,
		OrganizationID: targetOrg,
		CreatedBy:      userID,
		ManagerID:      req.ManagerID,
		Instructions:   req.Instructions,
		LabelConfig:    req.LabelConfig,
		Deadline:       req.Deadline,
		Budget:         req.Budget,
	}
	if req.QualityThreshold != nil {
		project.QualityThreshold = *req.QualityThreshold
	} else {
		project.QualityThreshold = 0.95
	}
	// A manager creating a project runs it unless they delegate.
	if role == models.RoleProjectManager && project.ManagerID == nil {
		project.ManagerID = &userID
	}
	// Negotiated per-item rates are an admin lever.
	if role == models.RoleAdmin {
		project.CustomRate = req.CustomRate
	}

	if err := database.DB.Create(&project).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "DB_ERROR", "Failed to create project"))
		return
	}

	log.Printf("✅ project %d (%s) created by user %d", project.ID, project.Name, userID)
	dashboard.InvalidateOrganization(project.OrganizationID)
	c.JSON(http.StatusCreated, gin.H{"project": project})
}

// HandleListProjects returns the caller's visible projects, paginated
func HandleListProjects(c *gin.Context) {
	role := c.GetString("role")
	userID := c.GetUint("user_id")
	orgID := c.GetUint("organization_id")
	page, perPage := utils.ParsePagination(c)

	query := scopedQuery(database.DB.Model(&models.Project{}), role, userID, orgID)
	if role == models.RoleProjectManager && c.Query("managed") == "true" {
		query = query.Where("manager_id = ?", userID)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if ptype := c.Query("project_type"); ptype != "" {
		query = query.Where("project_type = ?", ptype)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "DB_ERROR", "Failed to count projects"))
		return
	}

	var projects []models.Project
	if err := query.Order("created_at DESC").
		Offset((page - 1) * perPage).Limit(perPage).
		Find(&projects).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "DB_ERROR", "Failed to fetch projects"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"projects":   projects,
		"pagination": utils.PaginationMeta(total, page, perPage),
	})
}

// HandleGetProject returns a single project with dataset summaries
func HandleGetProject(c *gin.Context) {
	projectID, ok := ParamID(c, "id")
	if !ok {
		return
	}
	project, ok := LoadAccessible(c, projectID)
	if !ok {
		return
	}

	var datasets []models.Dataset
	database.DB.Where("project_id = ?", project.ID).Order("created_at ASC").Find(&datasets)

	c.JSON(http.StatusOK, gin.H{
		"project":  project,
		"datasets": datasets,
	})
}

// canManage reports whether the caller can mutate the project.
func canManage(c *gin.Context, project *models.Project) bool {
	role := c.GetString("role")
	userID := c.GetUint("user_id")
	switch role {
	case models.RoleAdmin:
		return true
	case models.RoleClientAdmin:
		return c.GetUint("organization_id") == project.OrganizationID
	case models.RoleProjectManager:
		return (project.ManagerID != nil && *project.ManagerID == userID) || project.CreatedBy == userID
	default:
		return false
	}
}

// HandleUpdateProject applies partial updates; status transitions stamp
// started_at and completed_at.
func HandleUpdateProject(c *gin.Context) {
	projectID, ok := ParamID(c, "id")
	if !ok {
		return
	}
	project, ok := LoadAccessible(c, projectID)
	if !ok {
		return
	}
	if !canManage(c, project) {
		utils.SendErrorResponse(c, http.StatusForbidden, apperrors.ErrForbidden)
		return
	}

	var req struct {
		Name             *string     `json:"name"`
		Description      *string     `json:"description"`
		Instructions     *string     `json:"instructions"`
		Status           *string     `json:"status"`
		QualityThreshold *float64    `json:"quality_threshold"`
		LabelConfig      models.JSON `json:"label_config"`
		Deadline         *time.Time  `json:"deadline"`
		Budget           *float64    `json:"budget"`
		ManagerID        *uint       `json:"manager_id"`
		CustomRate       *float64    `json:"custom_rate"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("INVALID_REQUEST", "Invalid update payload"))
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Instructions != nil {
		updates["instructions"] = *req.Instructions
	}
	if req.QualityThreshold != nil {
		if *req.QualityThreshold < 0 || *req.QualityThreshold > 1 {
			utils.SendErrorResponse(c, http.StatusUnprocessableEntity,
				apperrors.New("INVALID_THRESHOLD", "quality_threshold must be between 0 and 1"))
			return
		}
		updates["quality_threshold"] = *req.QualityThreshold
	}
	if req.LabelConfig != nil {
		updates["label_config"] = req.LabelConfig
	}
	if req.Deadline != nil {
		updates["deadline"] = *req.Deadline
	}
	if req.Budget != nil {
		updates["budget"] = *req.Budget
	}
	if req.ManagerID != nil {
		updates["manager_id"] = *req.ManagerID
	}
	if req.CustomRate != nil && c.GetString("role") == models.RoleAdmin {
		updates["custom_rate"] = *req.CustomRate
	}

	if req.Status != nil && *req.Status != project.Status {
		if !models.ValidProjectStatus(*req.Status) {
			utils.SendErrorResponse(c, http.StatusUnprocessableEntity,
				apperrors.New("INVALID_STATUS", "Unknown project status: "+*req.Status))
			return
		}
		updates["status"] = *req.Status
		now := time.Now()
		switch *req.Status {
		case models.ProjectActive, models.ProjectInProgress:
			if project.StartedAt == nil {
				updates["started_at"] = now
			}
		case models.ProjectCompleted:
			updates["completed_at"] = now
		}
	}

	if len(updates) == 0 {
		c.JSON(http.StatusOK, gin.H{"project": project})
		return
	}

	if err := database.DB.Model(project).Updates(updates).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "DB_ERROR", "Failed to update project"))
		return
	}

	dashboard.InvalidateOrganization(project.OrganizationID)
	c.JSON(http.StatusOK, gin.H{"project": project})
}

// HandleDeleteProject removes a project and everything under it.
// Only draft projects may be deleted by non-admins.
func HandleDeleteProject(c *gin.Context) {
	projectID, ok := ParamID(c, "id")
	if !ok {
		return
	}
	project, ok := LoadAccessible(c, projectID)
	if !ok {
		return
	}
	if !canManage(c, project) {
		utils.SendErrorResponse(c, http.StatusForbidden, apperrors.ErrForbidden)
		return
	}
	if project.Status != models.ProjectDraft && c.GetString("role") != models.RoleAdmin {
		utils.SendErrorResponse(c, http.StatusConflict,
			apperrors.New("PROJECT_NOT_DRAFT", "Only draft projects can be deleted"))
		return
	}

	var items []models.DataItem
	database.DB.Joins("JOIN datasets ON datasets.id = data_items.dataset_id").
		Where("datasets.project_id = ?", project.ID).Find(&items)

	err := database.DB.Transaction(func(tx *gorm.DB) error {
		annotationIDs := tx.Model(&models.Annotation{}).
			Select("id").Where("project_id = ?", project.ID)
		if err := tx.Where("annotation_id IN (?)", annotationIDs).Delete(&models.Review{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", project.ID).Delete(&models.Annotation{}).Error; err != nil {
			return err
		}
		datasetIDs := tx.Model(&models.Dataset{}).
			Select("id").Where("project_id = ?", project.ID)
		if err := tx.Where("dataset_id IN (?)", datasetIDs).Delete(&models.DataItem{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", project.ID).Delete(&models.Dataset{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", project.ID).Delete(&models.QualityMetric{}).Error; err != nil {
			return err
		}
		return tx.Delete(project).Error
	})
	if err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "DB_ERROR", "Failed to delete project"))
		return
	}

	// Storage cleanup is best effort; orphaned objects only cost space.
	if storage.Default != nil {
		for _, item := range items {
			if err := storage.Default.Delete(c.Request.Context(), item.StorageKey); err != nil {
				log.Printf("⚠️  failed to delete object %s: %v", item.StorageKey, err)
			}
		}
	}

	log.Printf("✅ project %d deleted by user %d (%d objects cleaned)", project.ID, c.GetUint("user_id"), len(items))
	dashboard.InvalidateOrganization(project.OrganizationID)
	c.JSON(http.StatusOK, gin.H{"message": "Project deleted"})
}

// HandleProjectStats aggregates progress and cost for a project
func HandleProjectStats(c *gin.Context) {
	projectID, ok := ParamID(c, "id")
	if !ok {
		return
	}
	project, ok := LoadAccessible(c, projectID)
	if !ok {
		return
	}

	type totals struct {
		Datasets       int64
		TotalItems     int64
		CompletedItems int64
		ApprovedItems  int64
	}
	var t totals
	database.DB.Model(&models.Dataset{}).
		Where("project_id = ?", project.ID).
		Select("COUNT(*) as datasets, COALESCE(SUM(total_items),0) as total_items, " +
			"COALESCE(SUM(completed_items),0) as completed_items, COALESCE(SUM(approved_items),0) as approved_items").
		Scan(&t)

	var annotationCounts []struct {
		Status string
		Count  int64
	}
	database.DB.Model(&models.Annotation{}).
		Where("project_id = ?", project.ID).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&annotationCounts)

	byStatus := map[string]int64{}
	for _, row := range annotationCounts {
		byStatus[row.Status] = row.Count
	}

	progress := 0.0
	if t.TotalItems > 0 {
		progress = float64(t.CompletedItems) / float64(t.TotalItems) * 100
	}

	c.JSON(http.StatusOK, gin.H{
		"project_id":           project.ID,
		"status":               project.Status,
		"datasets":             t.Datasets,
		"total_items":          t.TotalItems,
		"completed_items":      t.CompletedItems,
		"approved_items":       t.ApprovedItems,
		"progress_percentage":  progress,
		"annotations_by_status": byStatus,
		"cost_estimate":        billing.CalculateProjectCost(t.TotalItems, project.CustomRate),
	})
}
