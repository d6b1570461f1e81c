package reviews

import (
	"bytes"
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

type fixture struct {
	router     *gin.Engine
	annotation models.Annotation
	dataset    models.Dataset
	item       models.DataItem
}

func setup(t *testing.T, reviewerID uint) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:revtest%d?mode=memory&cache=shared", testDBSeq.Add(1))
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

	org := models.Organization{Name: "Acme", Slug: "acme"}
	require.NoError(t, db.Create(&org).Error)
	project := models.Project{
		Name:           "p",
		ProjectType:    models.TypeImageClassification,
		OrganizationID: org.ID,
		Status:         models.ProjectActive,
	}
	require.NoError(t, db.Create(&project).Error)
	dataset := models.Dataset{ProjectID: project.ID, Name: "d", TotalItems: 1}
	require.NoError(t, db.Create(&dataset).Error)
	item := models.DataItem{
		DatasetID:  dataset.ID,
		StorageKey: "projects/1/datasets/1/x.png",
		Status:     models.ItemAnnotated,
	}
	require.NoError(t, db.Create(&item).Error)
	annotation := models.Annotation{
		DataItemID:     item.ID,
		ProjectID:      project.ID,
		LabelerID:      5,
		AnnotationType: models.AnnotationClassification,
		Status:         models.AnnotationCompleted,
	}
	require.NoError(t, db.Create(&annotation).Error)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("user_id", reviewerID)
		c.Set("role", models.RoleReviewer)
		c.Set("organization_id", org.ID)
		c.Next()
	})
	router.POST("/reviews", HandleCreateReview)
	router.GET("/reviews", HandleListReviews)

	return &fixture{router: router, annotation: annotation, dataset: dataset, item: item}
}

func (f *fixture) post(t *testing.T, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPost, "/reviews", &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestReviewDecisions(t *testing.T) {
	tests := []struct {
		decision       string
		wantAnnotation string
		wantItem       string
		wantApproved   int64
	}{
		{models.ReviewApproved, models.AnnotationApproved, models.ItemApproved, 1},
		{models.ReviewRejected, models.AnnotationRejected, models.ItemRejected, 0},
		{models.ReviewRevisionRequired, models.AnnotationRevisionRequired, models.ItemPending, 0},
		{models.ReviewEscalated, models.AnnotationUnderReview, models.ItemAnnotated, 0},
	}

	for _, tt := range tests {
		t.Run(tt.decision, func(t *testing.T) {
			f := setup(t, 9)

			score := 0.9
			w := f.post(t, gin.H{
				"annotation_id": f.annotation.ID,
				"decision":      tt.decision,
				"quality_score": score,
			})
			require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

			var ann models.Annotation
			require.NoError(t, database.DB.First(&ann, f.annotation.ID).Error)
			assert.Equal(t, tt.wantAnnotation, ann.Status)

			var item models.DataItem
			require.NoError(t, database.DB.First(&item, f.item.ID).Error)
			assert.Equal(t, tt.wantItem, item.Status)

			var dataset models.Dataset
			require.NoError(t, database.DB.First(&dataset, f.dataset.ID).Error)
			assert.Equal(t, tt.wantApproved, dataset.ApprovedItems)
		})
	}
}

func TestReview_SelfReviewConflicts(t *testing.T) {
	// Reviewer 5 is also the labeler of the fixture annotation.
	f := setup(t, 5)

	w := f.post(t, gin.H{
		"annotation_id": f.annotation.ID,
		"decision":      models.ReviewApproved,
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "REVIEW_REJECTED")
	// The hook's error text stays out of the response body.
	assert.NotContains(t, w.Body.String(), "own annotation")

	// The annotation is untouched.
	var ann models.Annotation
	require.NoError(t, database.DB.First(&ann, f.annotation.ID).Error)
	assert.Equal(t, models.AnnotationCompleted, ann.Status)
}

func TestReview_InvalidDecision(t *testing.T) {
	f := setup(t, 9)

	w := f.post(t, gin.H{
		"annotation_id": f.annotation.ID,
		"decision":      "maybe",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestReview_PendingAnnotationNotReviewable(t *testing.T) {
	f := setup(t, 9)

	require.NoError(t, database.DB.Model(&models.Annotation{}).
		Where("id = ?", f.annotation.ID).
		Update("status", models.AnnotationInProgress).Error)

	w := f.post(t, gin.H{
		"annotation_id": f.annotation.ID,
		"decision":      models.ReviewApproved,
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestReview_QualityScoreBounds(t *testing.T) {
	f := setup(t, 9)

	w := f.post(t, gin.H{
		"annotation_id": f.annotation.ID,
		"decision":      models.ReviewApproved,
		"quality_score": 1.5,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
