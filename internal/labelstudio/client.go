package labelstudio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-resty/resty/v2"

	"aibridge-backend/internal/config"
	"aibridge-backend/internal/models"
)

// Client talks to a Label Studio instance over its REST API. The
// platform never manages the Label Studio process itself.
type Client struct {
	http *resty.Client
}

// Default is the process-wide client, set by InitClient in main. It
// stays nil when Label Studio is not configured; callers must check
// Enabled().
var Default *Client

// Enabled reports whether a Label Studio instance is configured.
func Enabled() bool {
	return Default != nil
}

// InitClient builds the client from LABEL_STUDIO_URL and
// LABEL_STUDIO_API_KEY. Absent configuration is not an error; the
// bridge endpoints report 503 instead.
func InitClient() error {
	baseURL := os.Getenv("LABEL_STUDIO_URL")
	apiKey := os.Getenv("LABEL_STUDIO_API_KEY")
	if baseURL == "" || apiKey == "" {
		log.Println("⚠️  Label Studio not configured, annotation bridge disabled")
		return nil
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Authorization", "Token "+apiKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(time.Duration(config.GetEnvInt("LABEL_STUDIO_TIMEOUT_SECONDS", 30)) * time.Second)

	Default = &Client{http: httpClient}
	log.Println("✅ Label Studio client initialized")
	return nil
}

// Project is a Label Studio project as returned by its API.
type Project struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	LabelConfig string `json:"label_config"`
	TaskNumber  int    `json:"task_number"`
}

// Task is a Label Studio task with its annotations.
type Task struct {
	ID          int                      `json:"id"`
	Data        map[string]interface{}   `json:"data"`
	Annotations []map[string]interface{} `json:"annotations"`
	IsLabeled   bool                     `json:"is_labeled"`
}

func apiError(resp *resty.Response, operation string) error {
	return fmt.Errorf("label studio %s: %s: %s", operation, resp.Status(), resp.String())
}

// CreateProject creates a Label Studio project.
func (c *Client) CreateProject(ctx context.Context, title, description, labelConfig string) (*Project, error) {
	var project Project
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"title":        title,
			"description":  description,
			"label_config": labelConfig,
		}).
		SetResult(&project).
		Post("/api/projects/")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp, "create project")
	}
	return &project, nil
}

// DeleteProject removes a Label Studio project and its tasks.
func (c *Client) DeleteProject(ctx context.Context, projectID int) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Delete(fmt.Sprintf("/api/projects/%d/", projectID))
	if err != nil {
		return err
	}
	if resp.IsError() {
		return apiError(resp, "delete project")
	}
	return nil
}

// ImportTasks bulk-imports tasks into a project and returns how many
// were created.
func (c *Client) ImportTasks(ctx context.Context, projectID int, tasks []map[string]interface{}) (int, error) {
	var result struct {
		TaskCount int `json:"task_count"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(tasks).
		SetResult(&result).
		Post(fmt.Sprintf("/api/projects/%d/import", projectID))
	if err != nil {
		return 0, err
	}
	if resp.IsError() {
		return 0, apiError(resp, "import tasks")
	}
	return result.TaskCount, nil
}

// ListTasks fetches all tasks of a project, annotations included.
func (c *Client) ListTasks(ctx context.Context, projectID int) ([]Task, error) {
	var tasks []Task
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("project", fmt.Sprintf("%d", projectID)).
		SetResult(&tasks).
		Get("/api/tasks/")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp, "list tasks")
	}
	return tasks, nil
}

// Health probes the API with the project listing endpoint.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/api/projects/")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return errors.New("label studio unhealthy: " + resp.Status())
	}
	return nil
}

// DefaultLabelConfig returns the labeling interface template for a
// project type. Custom projects supply their own config.
func DefaultLabelConfig(projectType string) string {
	switch projectType {
	case models.TypeImageClassification:
		return `<View><Image name="image" value="$image"/><Choices name="choice" toName="image"><Choice value="Class A"/><Choice value="Class B"/></Choices></View>`
	case models.TypeObjectDetection:
		return `<View><Image name="image" value="$image"/><RectangleLabels name="label" toName="image"><Label value="Object"/></RectangleLabels></View>`
	case models.TypeSemanticSegmentation:
		return `<View><Image name="image" value="$image"/><PolygonLabels name="label" toName="image"><Label value="Region"/></PolygonLabels></View>`
	case models.TypeTextClassification:
		return `<View><Text name="text" value="$text"/><Choices name="sentiment" toName="text"><Choice value="Positive"/><Choice value="Negative"/></Choices></View>`
	case models.TypeNamedEntityRecognition:
		return `<View><Text name="text" value="$text"/><Labels name="label" toName="text"><Label value="PER"/><Label value="ORG"/><Label value="LOC"/></Labels></View>`
	case models.TypeAudioClassification:
		return `<View><Audio name="audio" value="$audio"/><Choices name="choice" toName="audio"><Choice value="Class A"/><Choice value="Class B"/></Choices></View>`
	case models.TypeVideoAnnotation:
		return `<View><Video name="video" value="$video"/><Choices name="choice" toName="video"><Choice value="Class A"/><Choice value="Class B"/></Choices></View>`
	default:
		return `<View><Text name="text" value="$text"/><Choices name="choice" toName="text"><Choice value="Label"/></Choices></View>`
	}
}

// DataKey is the task data field used for a project type's media.
func DataKey(projectType string) string {
	switch projectType {
	case models.TypeImageClassification, models.TypeObjectDetection, models.TypeSemanticSegmentation:
		return "image"
	case models.TypeAudioClassification:
		return "audio"
	case models.TypeVideoAnnotation:
		return "video"
	default:
		return "text"
	}
}
