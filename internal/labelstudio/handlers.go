package labelstudio

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"aibridge-backend/internal/database"
	apperrors "aibridge-backend/internal/errors"
	"aibridge-backend/internal/models"
	"aibridge-backend/internal/storage"
	"aibridge-backend/pkg/utils"
)

func notConfigured(c *gin.Context) bool {
	if Enabled() {
		return false
	}
	utils.SendErrorResponse(c, http.StatusServiceUnavailable,
		apperrors.New("ANNOTATION_BRIDGE_DISABLED", "Annotation service is not configured"))
	return true
}

func loadProject(c *gin.Context) (*models.Project, bool) {
	projectID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("INVALID_ID", "Invalid project ID"))
		return nil, false
	}
	var project models.Project
	if err := database.DB.First(&project, uint(projectID)).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusNotFound, apperrors.ErrNotFound)
		return nil, false
	}
	return &project, true
}

// HandleSyncProject creates the external annotation project when needed
// and imports all unsynced data items as tasks with presigned URLs.
func HandleSyncProject(c *gin.Context) {
	if notConfigured(c) {
		return
	}
	// Task import needs presigned URLs, so the object store must be up.
	if storage.Default == nil {
		utils.SendErrorResponse(c, http.StatusServiceUnavailable, apperrors.ErrStorageUnavailable)
		return
	}
	project, ok := loadProject(c)
	if !ok {
		return
	}

	if project.ExternalProjectID == nil {
		labelConfig := string(project.LabelConfig)
		if labelConfig == "" || labelConfig == "null" {
			labelConfig = DefaultLabelConfig(project.ProjectType)
		}
		created, err := Default.CreateProject(c.Request.Context(), project.Name, project.Description, labelConfig)
		if err != nil {
			utils.HandleError(err, "labelstudio.HandleSyncProject")
			utils.SendErrorResponse(c, http.StatusBadGateway, apperrors.ErrAnnotationBridge)
			return
		}
		project.ExternalProjectID = &created.ID
		if err := database.DB.Model(project).Update("external_project_id", created.ID).Error; err != nil {
			utils.SendErrorResponse(c, http.StatusInternalServerError,
				apperrors.Wrap(err, "DB_ERROR", "Failed to update project"))
			return
		}
	}

	var items []models.DataItem
	if err := database.DB.
		Joins("JOIN datasets ON datasets.id = data_items.dataset_id").
		Where("datasets.project_id = ? AND data_items.external_task_id IS NULL", project.ID).
		Find(&items).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "DB_ERROR", "Failed to list data items"))
		return
	}

	dataKey := DataKey(project.ProjectType)
	tasks := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		url, err := storage.Default.PresignGet(c.Request.Context(), item.StorageKey)
		if err != nil {
			log.Printf("⚠️  presign failed for item %d: %v", item.ID, err)
			continue
		}
		tasks = append(tasks, map[string]interface{}{
			"data": map[string]interface{}{
				dataKey:   url,
				"item_id": item.ID,
			},
		})
	}

	imported := 0
	if len(tasks) > 0 {
		var err error
		imported, err = Default.ImportTasks(c.Request.Context(), *project.ExternalProjectID, tasks)
		if err != nil {
			utils.HandleError(err, "labelstudio.HandleSyncProject")
			utils.SendErrorResponse(c, http.StatusBadGateway, apperrors.ErrAnnotationBridge)
			return
		}
		// Mark items as exported. Task IDs get mapped on pull.
		ids := make([]uint, len(items))
		for i, item := range items {
			ids[i] = item.ID
		}
		if err := database.DB.Model(&models.DataItem{}).
			Where("id IN ?", ids).
			Update("external_task_id", 0).Error; err != nil {
			log.Printf("⚠️  failed to mark items exported: %v", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"external_project_id": project.ExternalProjectID,
		"tasks_imported":      imported,
	})
}

// HandlePullAnnotations fetches completed tasks from the external
// project and upserts them as annotations.
func HandlePullAnnotations(c *gin.Context) {
	if notConfigured(c) {
		return
	}
	project, ok := loadProject(c)
	if !ok {
		return
	}
	if project.ExternalProjectID == nil {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("NOT_SYNCED", "Project has not been synced to the annotation service"))
		return
	}

	tasks, err := Default.ListTasks(c.Request.Context(), *project.ExternalProjectID)
	if err != nil {
		utils.HandleError(err, "labelstudio.HandlePullAnnotations")
		utils.SendErrorResponse(c, http.StatusBadGateway, apperrors.ErrAnnotationBridge)
		return
	}

	userID := c.GetUint("user_id")
	imported := 0
	for _, task := range tasks {
		itemID := itemIDFromTask(task)
		if itemID == 0 || len(task.Annotations) == 0 {
			continue
		}

		if err := database.DB.Model(&models.DataItem{}).
			Where("id = ?", itemID).
			Updates(map[string]interface{}{
				"external_task_id": task.ID,
				"status":           models.ItemAnnotated,
			}).Error; err != nil {
			log.Printf("⚠️  failed to update item %d: %v", itemID, err)
			continue
		}

		for _, raw := range task.Annotations {
			externalID := intField(raw, "id")
			if externalID == 0 {
				continue
			}
			payload, err := json.Marshal(raw)
			if err != nil {
				continue
			}

			var existing models.Annotation
			err = database.DB.Where("external_id = ?", externalID).First(&existing).Error
			if err == nil {
				database.DB.Model(&existing).Updates(map[string]interface{}{
					"payload": models.JSON(payload),
					"status":  models.AnnotationCompleted,
				})
				continue
			}

			ann := models.Annotation{
				DataItemID:     itemID,
				ProjectID:      project.ID,
				LabelerID:      userID,
				AnnotationType: annotationTypeFor(project.ProjectType),
				Status:         models.AnnotationCompleted,
				Payload:        models.JSON(payload),
				ExternalID:     &externalID,
			}
			if err := database.DB.Create(&ann).Error; err != nil {
				log.Printf("⚠️  failed to store annotation for item %d: %v", itemID, err)
				continue
			}
			imported++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks_checked":        len(tasks),
		"annotations_imported": imported,
	})
}

// HandleUnlinkProject deletes the external project and clears the sync
// state. Stored annotations are kept.
func HandleUnlinkProject(c *gin.Context) {
	if notConfigured(c) {
		return
	}
	project, ok := loadProject(c)
	if !ok {
		return
	}
	if project.ExternalProjectID == nil {
		c.JSON(http.StatusOK, gin.H{"message": "Project is not linked"})
		return
	}

	if err := Default.DeleteProject(c.Request.Context(), *project.ExternalProjectID); err != nil {
		utils.HandleError(err, "labelstudio.HandleUnlinkProject")
		utils.SendErrorResponse(c, http.StatusBadGateway, apperrors.ErrAnnotationBridge)
		return
	}

	if err := database.DB.Model(project).Update("external_project_id", nil).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "DB_ERROR", "Failed to update project"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Annotation project unlinked"})
}

func itemIDFromTask(task Task) uint {
	raw, ok := task.Data["item_id"]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case float64:
		return uint(v)
	case int:
		return uint(v)
	case string:
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			return uint(n)
		}
	}
	return 0
}

func intField(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

func annotationTypeFor(projectType string) string {
	switch projectType {
	case models.TypeImageClassification, models.TypeTextClassification, models.TypeAudioClassification:
		return models.AnnotationClassification
	case models.TypeObjectDetection:
		return models.AnnotationBoundingBox
	case models.TypeSemanticSegmentation:
		return models.AnnotationSegmentation
	case models.TypeNamedEntityRecognition:
		return models.AnnotationTextSpan
	case models.TypeVideoAnnotation:
		return models.AnnotationCustomType
	default:
		return models.AnnotationCustomType
	}
}
