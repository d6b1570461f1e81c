package labelstudio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"aibridge-backend/internal/database"
	"aibridge-backend/internal/models"
	"aibridge-backend/internal/storage"
)

var testDBSeq atomic.Int64

type fakeStore struct{}

func (f *fakeStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	return nil
}
func (f *fakeStore) Get(ctx context.Context, key string) ([]byte, error) { return nil, nil }

func (f *fakeStore) Delete(ctx context.Context, key string) error { return nil }

func (f *fakeStore) Health(ctx context.Context) error { return nil }
func (f *fakeStore) PresignGet(ctx context.Context, key string) (string, error) {
	return "https://storage.test/" + key, nil
}
func (f *fakeStore) PresignPost(ctx context.Context, key string) (*storage.PresignedPost, error) {
	return &storage.PresignedPost{URL: "https://storage.test/", Key: key}, nil
}

type fixture struct {
	router  *gin.Engine
	project models.Project
	item    models.DataItem
}

func setup(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:lstest%d?mode=memory&cache=shared", testDBSeq.Add(1))
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
	externalID := 7
	project := models.Project{
		Name:              "p",
		ProjectType:       models.TypeImageClassification,
		OrganizationID:    org.ID,
		Status:            models.ProjectActive,
		ExternalProjectID: &externalID,
	}
	require.NoError(t, db.Create(&project).Error)
	dataset := models.Dataset{ProjectID: project.ID, Name: "d", TotalItems: 1}
	require.NoError(t, db.Create(&dataset).Error)
	item := models.DataItem{
		DatasetID:  dataset.ID,
		StorageKey: "projects/1/datasets/1/x.png",
	}
	require.NoError(t, db.Create(&item).Error)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(func(c *gin.Context) {
		c.Set("user_id", uint(1))
		c.Set("role", models.RoleAdmin)
		c.Set("organization_id", org.ID)
		c.Next()
	})
	router.POST("/projects/:id/sync", HandleSyncProject)

	return &fixture{router: router, project: project, item: item}
}

func (f *fixture) sync(projectID uint) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/projects/%d/sync", projectID), nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func bridgeTo(t *testing.T, url string) {
	t.Helper()
	prev := Default
	Default = &Client{http: resty.New().SetBaseURL(url)}
	t.Cleanup(func() { Default = prev })
}

func swapStore(t *testing.T, s storage.ObjectStore) {
	t.Helper()
	prev := storage.Default
	storage.Default = s
	t.Cleanup(func() { storage.Default = prev })
}

func TestSyncProject_BridgeDisabled(t *testing.T) {
	f := setup(t)
	prev := Default
	Default = nil
	t.Cleanup(func() { Default = prev })
	swapStore(t, &fakeStore{})

	w := f.sync(f.project.ID)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "ANNOTATION_BRIDGE_DISABLED")
}

func TestSyncProject_StorageDown(t *testing.T) {
	f := setup(t)
	// The bridge is configured but the object store never came up.
	bridgeTo(t, "http://label-studio.test")
	swapStore(t, nil)

	w := f.sync(f.project.ID)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "STORAGE_UNAVAILABLE")
}

func TestSyncProject_ImportsUnsyncedItems(t *testing.T) {
	f := setup(t)
	swapStore(t, &fakeStore{})

	var gotTasks []map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/import") {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotTasks))
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"task_count": %d}`, len(gotTasks))
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	bridgeTo(t, srv.URL)

	w := f.sync(f.project.ID)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		TasksImported int `json:"tasks_imported"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.TasksImported)

	require.Len(t, gotTasks, 1)
	data := gotTasks[0]["data"].(map[string]interface{})
	assert.Equal(t, "https://storage.test/"+f.item.StorageKey, data["image"])

	// The item is marked exported so a second sync sends nothing.
	var item models.DataItem
	require.NoError(t, database.DB.First(&item, f.item.ID).Error)
	require.NotNil(t, item.ExternalTaskID)

	gotTasks = nil
	w = f.sync(f.project.ID)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.TasksImported)
}

func TestDataKeyByProjectType(t *testing.T) {
	assert.Equal(t, "image", DataKey(models.TypeObjectDetection))
	assert.Equal(t, "audio", DataKey(models.TypeAudioClassification))
	assert.Equal(t, "video", DataKey(models.TypeVideoAnnotation))
	assert.Equal(t, "text", DataKey(models.TypeNamedEntityRecognition))
}
