package organizations

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"aibridge-backend/internal/database"
	apperrors "aibridge-backend/internal/errors"
	"aibridge-backend/internal/models"
	"aibridge-backend/internal/projects"
	"aibridge-backend/pkg/utils"
)

// HandleGetOrganization returns the caller's organization
func HandleGetOrganization(c *gin.Context) {
	orgID := c.GetUint("organization_id")
	if orgID == 0 {
		utils.SendErrorResponse(c, http.StatusNotFound,
			apperrors.New("NO_ORGANIZATION", "User has no organization"))
		return
	}

	var org models.Organization
	if err := database.DB.First(&org, orgID).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusNotFound, apperrors.ErrNotFound)
		return
	}

	var memberCount, projectCount int64
	database.DB.Model(&models.User{}).Where("organization_id = ?", orgID).Count(&memberCount)
	database.DB.Model(&models.Project{}).Where("organization_id = ?", orgID).Count(&projectCount)

	c.JSON(http.StatusOK, gin.H{
		"organization":  org,
		"member_count":  memberCount,
		"project_count": projectCount,
	})
}

// HandleUpdateOrganization edits the caller's organization
func HandleUpdateOrganization(c *gin.Context) {
	orgID := c.GetUint("organization_id")

	var org models.Organization
	if err := database.DB.First(&org, orgID).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusNotFound, apperrors.ErrNotFound)
		return
	}

	var req struct {
		Name         *string     `json:"name"`
		ContactEmail *string     `json:"contact_email"`
		Settings     models.JSON `json:"settings"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("INVALID_REQUEST", "Invalid update payload"))
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil && *req.Name != "" {
		updates["name"] = *req.Name
	}
	if req.ContactEmail != nil {
		updates["contact_email"] = *req.ContactEmail
	}
	if req.Settings != nil {
		updates["settings"] = req.Settings
	}
	if len(updates) > 0 {
		if err := database.DB.Model(&org).Updates(updates).Error; err != nil {
			utils.SendErrorResponse(c, http.StatusInternalServerError,
				apperrors.Wrap(err, "DB_ERROR", "Failed to update organization"))
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"organization": org})
}

// HandleListMembers returns the organization's users
func HandleListMembers(c *gin.Context) {
	orgID := c.GetUint("organization_id")

	var members []models.User
	if err := database.DB.Where("organization_id = ?", orgID).
		Order("created_at ASC").Find(&members).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "DB_ERROR", "Failed to fetch members"))
		return
	}

	out := make([]gin.H, 0, len(members))
	for _, m := range members {
		out = append(out, gin.H{
			"id":         m.ID,
			"username":   m.Username,
			"email":      m.Email,
			"full_name":  m.FullName(),
			"role":       m.Role,
			"is_active":  m.Active,
			"last_login": m.LastLogin,
			"created_at": m.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"members": out, "total": len(out)})
}

// HandleUpdateMemberRole changes a member's role. Escalation to the
// platform admin role is never allowed here.
func HandleUpdateMemberRole(c *gin.Context) {
	orgID := c.GetUint("organization_id")
	memberID, ok := projects.ParamID(c, "id")
	if !ok {
		return
	}

	var req struct {
		Role   *string `json:"role"`
		Active *bool   `json:"is_active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("INVALID_REQUEST", "Invalid update payload"))
		return
	}

	var member models.User
	if err := database.DB.Where("id = ? AND organization_id = ?", memberID, orgID).
		First(&member).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusNotFound, apperrors.ErrNotFound)
		return
	}
	if member.ID == c.GetUint("user_id") {
		utils.SendErrorResponse(c, http.StatusConflict,
			apperrors.New("SELF_UPDATE", "Cannot change your own role or status"))
		return
	}

	updates := map[string]interface{}{}
	if req.Role != nil {
		if !models.ValidRole(*req.Role) || *req.Role == models.RoleAdmin {
			utils.SendErrorResponse(c, http.StatusUnprocessableEntity,
				apperrors.New("INVALID_ROLE", "Invalid role: "+*req.Role))
			return
		}
		updates["role"] = *req.Role
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}
	if len(updates) > 0 {
		if err := database.DB.Model(&member).Updates(updates).Error; err != nil {
			utils.SendErrorResponse(c, http.StatusInternalServerError,
				apperrors.Wrap(err, "DB_ERROR", "Failed to update member"))
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"member": gin.H{
		"id":        member.ID,
		"username":  member.Username,
		"role":      member.Role,
		"is_active": member.Active,
	}})
}

// HandleListOrganizations is the admin-only directory of all orgs
func HandleListOrganizations(c *gin.Context) {
	page, perPage := utils.ParsePagination(c)

	query := database.DB.Model(&models.Organization{})
	if tier := c.Query("subscription_tier"); tier != "" {
		query = query.Where("subscription_tier = ?", tier)
	}

	var total int64
	query.Count(&total)

	var orgs []models.Organization
	if err := query.Order("created_at DESC").
		Offset((page - 1) * perPage).Limit(perPage).
		Find(&orgs).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "DB_ERROR", "Failed to fetch organizations"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"organizations": orgs,
		"pagination":    utils.PaginationMeta(total, page, perPage),
	})
}
