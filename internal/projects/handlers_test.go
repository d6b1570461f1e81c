package projects

import (
	"encoding/json"
	"fmt"
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
)

var testDBSeq atomic.Int64

const (
	labelerID  = 30
	reviewerID = 40
)

type fixture struct {
	org1, org2      models.Organization
	draft1, active1 models.Project
	active2         models.Project
}

// setup seeds two organizations with three projects. The labeler holds
// an annotation on org2's project, the reviewer a review on org1's
// active project.
func setup(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:projtest%d?mode=memory&cache=shared", testDBSeq.Add(1))
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

	f := &fixture{}
	f.org1 = models.Organization{Name: "Acme", Slug: "acme"}
	require.NoError(t, db.Create(&f.org1).Error)
	f.org2 = models.Organization{Name: "Globex", Slug: "globex"}
	require.NoError(t, db.Create(&f.org2).Error)

	f.draft1 = models.Project{
		Name:           "acme-draft",
		ProjectType:    models.TypeImageClassification,
		OrganizationID: f.org1.ID,
		Status:         models.ProjectDraft,
		CreatedBy:      1,
	}
	require.NoError(t, db.Create(&f.draft1).Error)
	f.active1 = models.Project{
		Name:           "acme-active",
		ProjectType:    models.TypeTextClassification,
		OrganizationID: f.org1.ID,
		Status:         models.ProjectActive,
		CreatedBy:      1,
	}
	require.NoError(t, db.Create(&f.active1).Error)
	f.active2 = models.Project{
		Name:           "globex-active",
		ProjectType:    models.TypeImageClassification,
		OrganizationID: f.org2.ID,
		Status:         models.ProjectActive,
		CreatedBy:      2,
	}
	require.NoError(t, db.Create(&f.active2).Error)

	dataset2 := models.Dataset{ProjectID: f.active2.ID, Name: "d2", TotalItems: 1}
	require.NoError(t, db.Create(&dataset2).Error)
	item2 := models.DataItem{DatasetID: dataset2.ID, StorageKey: "projects/3/datasets/1/a.png"}
	require.NoError(t, db.Create(&item2).Error)
	ann2 := models.Annotation{
		DataItemID:     item2.ID,
		ProjectID:      f.active2.ID,
		LabelerID:      labelerID,
		AnnotationType: models.AnnotationClassification,
		Status:         models.AnnotationCompleted,
	}
	require.NoError(t, db.Create(&ann2).Error)

	dataset1 := models.Dataset{ProjectID: f.active1.ID, Name: "d1", TotalItems: 1}
	require.NoError(t, db.Create(&dataset1).Error)
	item1 := models.DataItem{DatasetID: dataset1.ID, StorageKey: "projects/2/datasets/2/b.txt"}
	require.NoError(t, db.Create(&item1).Error)
	ann1 := models.Annotation{
		DataItemID:     item1.ID,
		ProjectID:      f.active1.ID,
		LabelerID:      labelerID,
		AnnotationType: models.AnnotationClassification,
		Status:         models.AnnotationCompleted,
	}
	require.NoError(t, db.Create(&ann1).Error)
	rev1 := models.Review{
		AnnotationID: ann1.ID,
		ReviewerID:   reviewerID,
		Decision:     models.ReviewApproved,
	}
	require.NoError(t, db.Create(&rev1).Error)

	return f
}

func as(role string, userID, orgID uint) *gin.Engine {
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Set("role", role)
		c.Set("organization_id", orgID)
		c.Next()
	})
	router.GET("/projects", HandleListProjects)
	router.GET("/projects/:id", HandleGetProject)
	router.DELETE("/projects/:id", HandleDeleteProject)
	return router
}

func listNames(t *testing.T, router *gin.Engine, query string) []string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/projects"+query, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Projects []models.Project `json:"projects"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	names := make([]string, len(resp.Projects))
	for i, p := range resp.Projects {
		names[i] = p.Name
	}
	return names
}

func TestListProjects_RoleScoping(t *testing.T) {
	f := setup(t)

	tests := []struct {
		name   string
		role   string
		userID uint
		orgID  uint
		want   []string
	}{
		{"admin sees all", models.RoleAdmin, 1, 0,
			[]string{"acme-draft", "acme-active", "globex-active"}},
		{"manager sees all", models.RoleProjectManager, 2, f.org2.ID,
			[]string{"acme-draft", "acme-active", "globex-active"}},
		{"client admin sees own org", models.RoleClientAdmin, 10, f.org1.ID,
			[]string{"acme-draft", "acme-active"}},
		{"client user sees own org", models.RoleClientUser, 11, f.org2.ID,
			[]string{"globex-active"}},
		{"labeler sees annotated projects", models.RoleLabeler, labelerID, f.org1.ID,
			[]string{"acme-active", "globex-active"}},
		{"reviewer sees reviewed projects", models.RoleReviewer, reviewerID, f.org1.ID,
			[]string{"acme-active"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			names := listNames(t, as(tt.role, tt.userID, tt.orgID), "")
			assert.ElementsMatch(t, tt.want, names)
		})
	}
}

func TestGetProject_OutOfScopeIs404(t *testing.T) {
	f := setup(t)
	router := as(models.RoleClientUser, 11, f.org2.ID)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/projects/%d", f.active1.ID), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListProjects_PaginationMeta(t *testing.T) {
	setup(t)
	router := as(models.RoleAdmin, 1, 0)

	req := httptest.NewRequest(http.MethodGet, "/projects?page=2&per_page=2", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Projects   []models.Project `json:"projects"`
		Pagination struct {
			Page    int   `json:"page"`
			PerPage int   `json:"per_page"`
			Total   int64 `json:"total"`
			Pages   int   `json:"pages"`
			HasNext bool  `json:"has_next"`
			HasPrev bool  `json:"has_prev"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Projects, 1)
	assert.Equal(t, 2, resp.Pagination.Page)
	assert.Equal(t, int64(3), resp.Pagination.Total)
	assert.Equal(t, 2, resp.Pagination.Pages)
	assert.False(t, resp.Pagination.HasNext)
	assert.True(t, resp.Pagination.HasPrev)
}

func TestListProjects_PerPageClamped(t *testing.T) {
	setup(t)
	router := as(models.RoleAdmin, 1, 0)

	req := httptest.NewRequest(http.MethodGet, "/projects?per_page=500", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Pagination struct {
			PerPage int `json:"per_page"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 100, resp.Pagination.PerPage)
}

func deleteProject(router *gin.Engine, id uint) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/projects/%d", id), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestDeleteProject_DraftOnlyRule(t *testing.T) {
	f := setup(t)

	// A manager cannot delete a project that left draft.
	manager := as(models.RoleProjectManager, 1, f.org1.ID)
	w := deleteProject(manager, f.active1.ID)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "PROJECT_NOT_DRAFT")

	var count int64
	database.DB.Model(&models.Project{}).Where("id = ?", f.active1.ID).Count(&count)
	assert.Equal(t, int64(1), count)

	// Draft projects go, together with their datasets and items.
	w = deleteProject(manager, f.draft1.ID)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	database.DB.Model(&models.Project{}).Where("id = ?", f.draft1.ID).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestDeleteProject_AdminOverridesDraftRule(t *testing.T) {
	f := setup(t)

	admin := as(models.RoleAdmin, 1, 0)
	w := deleteProject(admin, f.active2.ID)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var datasets, items, annotations int64
	database.DB.Model(&models.Dataset{}).Where("project_id = ?", f.active2.ID).Count(&datasets)
	database.DB.Model(&models.DataItem{}).Count(&items)
	database.DB.Model(&models.Annotation{}).Where("project_id = ?", f.active2.ID).Count(&annotations)
	assert.Equal(t, int64(0), datasets)
	assert.Equal(t, int64(1), items) // org1's item survives
	assert.Equal(t, int64(0), annotations)
}
