package dashboard

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"aibridge-backend/internal/cache"
	"aibridge-backend/internal/database"
	apperrors "aibridge-backend/internal/errors"
	"aibridge-backend/internal/metrics"
	"aibridge-backend/internal/models"
	"aibridge-backend/pkg/utils"
)

// Cache TTLs per dashboard. The admin view is the most expensive and
// the least volatile, so it holds the longest.
const (
	adminTTL     = 300 * time.Second
	clientTTL    = 180 * time.Second
	annotatorTTL = 120 * time.Second
	managerTTL   = 180 * time.Second
)

// serveCached returns the cached payload verbatim, or computes, caches
// and serves a fresh one. Cached responses are byte-identical to the
// response that populated them.
func serveCached(c *gin.Context, key string, ttl time.Duration, compute func() (gin.H, error)) {
	if payload, err := cache.Default.Get(key); err == nil {
		metrics.CacheHits.WithLabelValues("hit").Inc()
		c.Data(http.StatusOK, "application/json", payload)
		return
	}
	metrics.CacheHits.WithLabelValues("miss").Inc()

	stats, err := compute()
	if err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "DB_ERROR", "Failed to compute dashboard"))
		return
	}

	payload, err := json.Marshal(stats)
	if err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "ENCODING_ERROR", "Failed to encode dashboard"))
		return
	}
	if err := cache.Default.Set(key, payload, ttl); err != nil {
		log.Printf("⚠️  dashboard cache write failed for %s: %v", key, err)
	}
	c.Data(http.StatusOK, "application/json", payload)
}

// HandleAdminDashboard is the platform-wide operator view
func HandleAdminDashboard(c *gin.Context) {
	serveCached(c, "admin_dashboard_stats", adminTTL, func() (gin.H, error) {
		var userCount, orgCount, projectCount, itemCount, annotationCount int64
		if err := database.DB.Model(&models.User{}).Count(&userCount).Error; err != nil {
			return nil, err
		}
		database.DB.Model(&models.Organization{}).Count(&orgCount)
		database.DB.Model(&models.Project{}).Count(&projectCount)
		database.DB.Model(&models.DataItem{}).Count(&itemCount)
		database.DB.Model(&models.Annotation{}).Count(&annotationCount)

		var usersByRole []struct {
			Role  string
			Count int64
		}
		database.DB.Model(&models.User{}).
			Select("role, COUNT(*) as count").Group("role").Scan(&usersByRole)
		roleMap := map[string]int64{}
		for _, row := range usersByRole {
			roleMap[row.Role] = row.Count
		}

		var projectsByStatus []struct {
			Status string
			Count  int64
		}
		database.DB.Model(&models.Project{}).
			Select("status, COUNT(*) as count").Group("status").Scan(&projectsByStatus)
		statusMap := map[string]int64{}
		for _, row := range projectsByStatus {
			statusMap[row.Status] = row.Count
		}

		var revenueCents int64
		database.DB.Model(&models.PaymentRecord{}).
			Where("status = ?", "succeeded").
			Select("COALESCE(SUM(amount_cents), 0)").Scan(&revenueCents)

		weekAgo := time.Now().AddDate(0, 0, -7)
		var recentAnnotations, newUsers, newProjects int64
		database.DB.Model(&models.Annotation{}).
			Where("completed_at > ?", weekAgo).Count(&recentAnnotations)
		database.DB.Model(&models.User{}).
			Where("created_at > ?", weekAgo).Count(&newUsers)
		database.DB.Model(&models.Project{}).
			Where("created_at > ?", weekAgo).Count(&newProjects)

		return gin.H{
			"total_users":         userCount,
			"total_organizations": orgCount,
			"total_projects":      projectCount,
			"total_items":         itemCount,
			"total_annotations":   annotationCount,
			"users_by_role":       roleMap,
			"projects_by_status":  statusMap,
			"revenue_cents":       revenueCents,
			"annotations_7d":      recentAnnotations,
			"new_users_7d":        newUsers,
			"new_projects_7d":     newProjects,
			"generated_at":        time.Now().UTC(),
		}, nil
	})
}

// HandleClientDashboard summarizes one organization's workload
func HandleClientDashboard(c *gin.Context) {
	orgID := c.GetUint("organization_id")
	if orgID == 0 {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("NO_ORGANIZATION", "User has no organization"))
		return
	}

	key := fmt.Sprintf("client_dashboard_stats_%d", orgID)
	serveCached(c, key, clientTTL, func() (gin.H, error) {
		var projectCount int64
		if err := database.DB.Model(&models.Project{}).
			Where("organization_id = ?", orgID).Count(&projectCount).Error; err != nil {
			return nil, err
		}

		var projectsByStatus []struct {
			Status string
			Count  int64
		}
		database.DB.Model(&models.Project{}).
			Where("organization_id = ?", orgID).
			Select("status, COUNT(*) as count").Group("status").Scan(&projectsByStatus)
		statusMap := map[string]int64{}
		for _, row := range projectsByStatus {
			statusMap[row.Status] = row.Count
		}

		type totals struct {
			TotalItems     int64
			CompletedItems int64
			ApprovedItems  int64
		}
		var t totals
		database.DB.Model(&models.Dataset{}).
			Joins("JOIN projects ON projects.id = datasets.project_id").
			Where("projects.organization_id = ?", orgID).
			Select("COALESCE(SUM(datasets.total_items),0) as total_items, " +
				"COALESCE(SUM(datasets.completed_items),0) as completed_items, " +
				"COALESCE(SUM(datasets.approved_items),0) as approved_items").
			Scan(&t)

		progress := 0.0
		if t.TotalItems > 0 {
			progress = float64(t.CompletedItems) / float64(t.TotalItems) * 100
		}

		var spendCents int64
		database.DB.Model(&models.PaymentRecord{}).
			Where("organization_id = ? AND status = ?", orgID, "succeeded").
			Select("COALESCE(SUM(amount_cents), 0)").Scan(&spendCents)

		return gin.H{
			"organization_id":     orgID,
			"total_projects":      projectCount,
			"projects_by_status":  statusMap,
			"total_items":         t.TotalItems,
			"completed_items":     t.CompletedItems,
			"approved_items":      t.ApprovedItems,
			"progress_percentage": progress,
			"total_spend_cents":   spendCents,
			"generated_at":        time.Now().UTC(),
		}, nil
	})
}

// HandleAnnotatorDashboard shows a labeler their own throughput
func HandleAnnotatorDashboard(c *gin.Context) {
	userID := c.GetUint("user_id")

	key := fmt.Sprintf("annotator_dashboard_stats_%d", userID)
	serveCached(c, key, annotatorTTL, func() (gin.H, error) {
		var byStatus []struct {
			Status string
			Count  int64
		}
		if err := database.DB.Model(&models.Annotation{}).
			Where("labeler_id = ?", userID).
			Select("status, COUNT(*) as count").Group("status").
			Scan(&byStatus).Error; err != nil {
			return nil, err
		}
		statusMap := map[string]int64{}
		var total int64
		for _, row := range byStatus {
			statusMap[row.Status] = row.Count
			total += row.Count
		}

		completed := statusMap[models.AnnotationCompleted] +
			statusMap[models.AnnotationUnderReview] +
			statusMap[models.AnnotationApproved]
		progress := 0.0
		if total > 0 {
			progress = float64(completed) / float64(total) * 100
		}

		approvalRate := 0.0
		reviewed := statusMap[models.AnnotationApproved] + statusMap[models.AnnotationRejected]
		if reviewed > 0 {
			approvalRate = float64(statusMap[models.AnnotationApproved]) / float64(reviewed) * 100
		}

		var avgTime float64
		database.DB.Model(&models.Annotation{}).
			Where("labeler_id = ? AND time_spent_seconds > 0", userID).
			Select("COALESCE(AVG(time_spent_seconds), 0)").Scan(&avgTime)

		now := time.Now()
		dayAgo := now.AddDate(0, 0, -1)
		weekAgo := now.AddDate(0, 0, -7)
		monthAgo := now.AddDate(0, -1, 0)
		var completedToday, completed7d, completed30d int64
		database.DB.Model(&models.Annotation{}).
			Where("labeler_id = ? AND completed_at > ?", userID, dayAgo).
			Count(&completedToday)
		database.DB.Model(&models.Annotation{}).
			Where("labeler_id = ? AND completed_at > ?", userID, weekAgo).
			Count(&completed7d)
		database.DB.Model(&models.Annotation{}).
			Where("labeler_id = ? AND completed_at > ?", userID, monthAgo).
			Count(&completed30d)

		var activeProjects int64
		database.DB.Model(&models.Annotation{}).
			Where("labeler_id = ?", userID).
			Distinct("project_id").Count(&activeProjects)

		var pendingTasks []struct {
			ID         uint   `json:"annotation_id"`
			DataItemID uint   `json:"data_item_id"`
			ProjectID  uint   `json:"project_id"`
			Status     string `json:"status"`
		}
		database.DB.Model(&models.Annotation{}).
			Where("labeler_id = ? AND status IN ?", userID,
				[]string{models.AnnotationPending, models.AnnotationInProgress,
					models.AnnotationRevisionRequired}).
			Select("id, data_item_id, project_id, status").
			Order("updated_at ASC").Limit(20).
			Scan(&pendingTasks)

		return gin.H{
			"user_id":               userID,
			"total_annotations":     total,
			"annotations_by_status": statusMap,
			"progress_percentage":   progress,
			"approval_rate":         approvalRate,
			"avg_time_per_item_sec": avgTime,
			"completed_today":       completedToday,
			"completed_7d":          completed7d,
			"completed_30d":         completed30d,
			"active_projects":       activeProjects,
			"pending_tasks":         pendingTasks,
			"generated_at":          time.Now().UTC(),
		}, nil
	})
}

// HandleManagerDashboard gives a project manager per-labeler team stats
func HandleManagerDashboard(c *gin.Context) {
	userID := c.GetUint("user_id")
	orgID := c.GetUint("organization_id")

	key := fmt.Sprintf("pm_dashboard_stats_%d", userID)
	serveCached(c, key, managerTTL, func() (gin.H, error) {
		managedProjects := database.DB.Model(&models.Project{}).
			Select("id").
			Where("organization_id = ? AND (manager_id = ? OR created_by = ?)", orgID, userID, userID)

		var projectCount int64
		if err := database.DB.Model(&models.Project{}).
			Where("organization_id = ? AND (manager_id = ? OR created_by = ?)", orgID, userID, userID).
			Count(&projectCount).Error; err != nil {
			return nil, err
		}

		type teamRow struct {
			LabelerID    uint    `json:"labeler_id"`
			Username     string  `json:"username"`
			Total        int64   `json:"total"`
			Completed    int64   `json:"completed"`
			Approved     int64   `json:"approved"`
			Rejected     int64   `json:"rejected"`
			AvgTimeSec   float64 `json:"avg_time_sec"`
			ApprovalRate float64 `json:"approval_rate"`
		}
		var team []teamRow
		database.DB.Model(&models.Annotation{}).
			Joins("JOIN users ON users.id = annotations.labeler_id").
			Where("annotations.project_id IN (?)", managedProjects).
			Select("annotations.labeler_id, users.username, COUNT(*) as total, "+
				"SUM(CASE WHEN annotations.status IN (?, ?, ?) THEN 1 ELSE 0 END) as completed, "+
				"SUM(CASE WHEN annotations.status = ? THEN 1 ELSE 0 END) as approved, "+
				"SUM(CASE WHEN annotations.status = ? THEN 1 ELSE 0 END) as rejected, "+
				"COALESCE(AVG(CASE WHEN annotations.time_spent_seconds > 0 THEN annotations.time_spent_seconds END), 0) as avg_time_sec",
				models.AnnotationCompleted, models.AnnotationUnderReview, models.AnnotationApproved,
				models.AnnotationApproved, models.AnnotationRejected).
			Group("annotations.labeler_id, users.username").
			Scan(&team)
		for i := range team {
			if reviewed := team[i].Approved + team[i].Rejected; reviewed > 0 {
				team[i].ApprovalRate = float64(team[i].Approved) / float64(reviewed) * 100
			}
		}

		var pendingReview int64
		database.DB.Model(&models.Annotation{}).
			Where("project_id IN (?) AND status IN ?", managedProjects,
				[]string{models.AnnotationCompleted, models.AnnotationUnderReview}).
			Count(&pendingReview)

		var overdue int64
		database.DB.Model(&models.Project{}).
			Where("organization_id = ? AND (manager_id = ? OR created_by = ?)", orgID, userID, userID).
			Where("deadline < ? AND status NOT IN ?", time.Now(),
				[]string{models.ProjectCompleted, models.ProjectCancelled}).
			Count(&overdue)

		return gin.H{
			"user_id":          userID,
			"managed_projects": projectCount,
			"team_performance": team,
			"pending_review":   pendingReview,
			"overdue_projects": overdue,
			"generated_at":     time.Now().UTC(),
		}, nil
	})
}

// InvalidateOrganization drops cached dashboards touched by a change in
// the given organization.
func InvalidateOrganization(orgID uint) {
	_ = cache.Default.Delete("admin_dashboard_stats")
	_ = cache.Default.Delete(fmt.Sprintf("client_dashboard_stats_%d", orgID))
	_ = cache.Default.DeletePattern("pm_dashboard_stats_*")
}
