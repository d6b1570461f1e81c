package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// User roles. Authorization is role-based only; there is no separate
// permission table.
const (
	RoleAdmin          = "admin"
	RoleClientAdmin    = "client_admin"
	RoleProjectManager = "project_manager"
	RoleLabeler        = "labeler"
	RoleReviewer       = "reviewer"
	RoleClientUser     = "client_user"
)

var validRoles = map[string]bool{
	RoleAdmin:          true,
	RoleClientAdmin:    true,
	RoleProjectManager: true,
	RoleLabeler:        true,
	RoleReviewer:       true,
	RoleClientUser:     true,
}

// ValidRole reports whether r is one of the known user roles.
func ValidRole(r string) bool {
	return validRoles[r]
}

// StaffRole reports whether r is a platform-side role (not tied to a
// client organization's data scope).
func StaffRole(r string) bool {
	return r == RoleAdmin || r == RoleProjectManager
}

type User struct {
	ID             uint       `json:"id" gorm:"primaryKey"`
	Username       string     `json:"username" gorm:"uniqueIndex;not null"`
	Email          string     `json:"email" gorm:"uniqueIndex;not null"`
	Password       string     `json:"-"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	Role           string     `json:"role" gorm:"default:'client_user';index"`
	OrganizationID *uint      `json:"organization_id" gorm:"index"`
	Active         bool       `json:"is_active" gorm:"default:true"`
	LastLogin      *time.Time `json:"last_login"`

	// MFA fields
	MFAEnabled     bool        `json:"mfa_enabled" gorm:"default:false"`
	MFASecret      string      `json:"-"`
	MFABackupCodes StringArray `json:"-" gorm:"type:text"`

	StripeCustomerID string    `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// FullName joins first and last name, tolerating either being empty.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

type Organization struct {
	ID               uint      `json:"id" gorm:"primaryKey"`
	Name             string    `json:"name" gorm:"not null"`
	Slug             string    `json:"slug" gorm:"uniqueIndex"`
	Description      string    `json:"description"`
	ContactEmail     string    `json:"contact_email"`
	SubscriptionTier string    `json:"subscription_tier" gorm:"default:'starter'"`
	Settings         JSON      `json:"settings,omitempty" gorm:"type:json"`
	Active           bool      `json:"is_active" gorm:"default:true"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TokenBlacklist holds revoked JWTs until their natural expiry.
type TokenBlacklist struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	TokenHash string    `json:"-" gorm:"uniqueIndex;not null"`
	UserID    uint      `json:"user_id" gorm:"index"`
	ExpiresAt time.Time `json:"expires_at"`
	Reason    string    `json:"reason" gorm:"default:'logout'"`
	CreatedAt time.Time `json:"created_at"`
}

// Project statuses.
const (
	ProjectDraft      = "draft"
	ProjectActive     = "active"
	ProjectInProgress = "in_progress"
	ProjectReview     = "review"
	ProjectCompleted  = "completed"
	ProjectCancelled  = "cancelled"
)

var validProjectStatuses = map[string]bool{
	ProjectDraft:      true,
	ProjectActive:     true,
	ProjectInProgress: true,
	ProjectReview:     true,
	ProjectCompleted:  true,
	ProjectCancelled:  true,
}

func ValidProjectStatus(s string) bool {
	return validProjectStatuses[s]
}

// Project payment statuses.
const (
	PaymentUnpaid = "unpaid"
	PaymentPaid   = "paid"
	PaymentFailed = "failed"
)

// Project types map to annotation tool templates.
const (
	TypeImageClassification    = "image_classification"
	TypeObjectDetection        = "object_detection"
	TypeSemanticSegmentation   = "semantic_segmentation"
	TypeTextClassification     = "text_classification"
	TypeNamedEntityRecognition = "named_entity_recognition"
	TypeAudioClassification    = "audio_classification"
	TypeVideoAnnotation        = "video_annotation"
	TypeCustom                 = "custom"
)

var validProjectTypes = map[string]bool{
	TypeImageClassification:    true,
	TypeObjectDetection:        true,
	TypeSemanticSegmentation:   true,
	TypeTextClassification:     true,
	TypeNamedEntityRecognition: true,
	TypeAudioClassification:    true,
	TypeVideoAnnotation:        true,
	TypeCustom:                 true,
}

func ValidProjectType(t string) bool {
	return validProjectTypes[t]
}

type Project struct {
	ID               uint    `json:"id" gorm:"primaryKey"`
	Name             string  `json:"name" gorm:"not null"`
	Description      string  `json:"description"`
	ProjectType      string  `json:"project_type" gorm:"not null;index"`
	Status           string  `json:"status" gorm:"default:'draft';index"`
	OrganizationID   uint    `json:"organization_id" gorm:"index;not null"`
	CreatedBy        uint    `json:"created_by" gorm:"index"`
	ManagerID        *uint   `json:"manager_id" gorm:"index"`
	QualityThreshold float64 `json:"quality_threshold" gorm:"default:0.95"`
	LabelConfig      JSON    `json:"label_config,omitempty" gorm:"type:json"`
	Instructions     string  `json:"instructions"`

	Deadline      *time.Time `json:"deadline"`
	Budget        float64    `json:"budget"`
	PaymentStatus string     `json:"payment_status" gorm:"default:'unpaid'"`
	CustomRate    *float64   `json:"custom_rate"`

	ExternalProjectID *int `json:"external_project_id" gorm:"index"`

	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Dataset statuses.
const (
	DatasetUploading  = "uploading"
	DatasetProcessing = "processing"
	DatasetReady      = "ready"
	DatasetError      = "error"
)

type Dataset struct {
	ID             uint   `json:"id" gorm:"primaryKey"`
	ProjectID      uint   `json:"project_id" gorm:"index;not null"`
	Name           string `json:"name" gorm:"not null"`
	Description    string `json:"description"`
	Status         string `json:"status" gorm:"default:'uploading'"`
	StoragePrefix  string `json:"storage_prefix"`
	TotalItems     int64  `json:"total_items" gorm:"default:0"`
	CompletedItems int64  `json:"completed_items" gorm:"default:0"`
	ApprovedItems  int64  `json:"approved_items" gorm:"default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeSave keeps the denormalized counters inside their bounds.
func (d *Dataset) BeforeSave(tx *gorm.DB) error {
	if d.TotalItems < 0 || d.CompletedItems < 0 || d.ApprovedItems < 0 {
		return errors.New("dataset counters cannot be negative")
	}
	if d.CompletedItems > d.TotalItems {
		return errors.New("completed_items exceeds total_items")
	}
	if d.ApprovedItems > d.TotalItems {
		return errors.New("approved_items exceeds total_items")
	}
	return nil
}

// ProgressPercentage is completed/total, 0 when the dataset is empty.
func (d *Dataset) ProgressPercentage() float64 {
	if d.TotalItems == 0 {
		return 0
	}
	return float64(d.CompletedItems) / float64(d.TotalItems) * 100
}

// Data item statuses follow the annotation lifecycle of their latest
// annotation.
const (
	ItemPending   = "pending"
	ItemAnnotated = "annotated"
	ItemApproved  = "approved"
	ItemRejected  = "rejected"
)

type DataItem struct {
	ID               uint   `json:"id" gorm:"primaryKey"`
	DatasetID        uint   `json:"dataset_id" gorm:"index;not null"`
	StorageKey       string `json:"storage_key" gorm:"uniqueIndex;not null"`
	OriginalFilename string `json:"original_filename"`
	ContentHash      string `json:"content_hash" gorm:"index"`
	FileSize         int64  `json:"file_size"`
	ContentType      string `json:"content_type"`
	Category         string `json:"category"`
	Status           string `json:"status" gorm:"default:'pending';index"`
	ExternalTaskID   *int   `json:"external_task_id" gorm:"index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Annotation statuses.
const (
	AnnotationPending          = "pending"
	AnnotationInProgress       = "in_progress"
	AnnotationCompleted        = "completed"
	AnnotationUnderReview      = "under_review"
	AnnotationApproved         = "approved"
	AnnotationRejected         = "rejected"
	AnnotationRevisionRequired = "revision_required"
)

var validAnnotationStatuses = map[string]bool{
	AnnotationPending:          true,
	AnnotationInProgress:       true,
	AnnotationCompleted:        true,
	AnnotationUnderReview:      true,
	AnnotationApproved:         true,
	AnnotationRejected:         true,
	AnnotationRevisionRequired: true,
}

func ValidAnnotationStatus(s string) bool {
	return validAnnotationStatuses[s]
}

// Annotation types.
const (
	AnnotationClassification = "classification"
	AnnotationBoundingBox    = "bounding_box"
	AnnotationPolygon        = "polygon"
	AnnotationSegmentation   = "segmentation"
	AnnotationKeypoint       = "keypoint"
	AnnotationTextSpan       = "text_span"
	AnnotationTranscription  = "transcription"
	AnnotationCustomType     = "custom"
)

var validAnnotationTypes = map[string]bool{
	AnnotationClassification: true,
	AnnotationBoundingBox:    true,
	AnnotationPolygon:        true,
	AnnotationSegmentation:   true,
	AnnotationKeypoint:       true,
	AnnotationTextSpan:       true,
	AnnotationTranscription:  true,
	AnnotationCustomType:     true,
}

func ValidAnnotationType(t string) bool {
	return validAnnotationTypes[t]
}

type Annotation struct {
	ID               uint     `json:"id" gorm:"primaryKey"`
	DataItemID       uint     `json:"data_item_id" gorm:"index;not null"`
	ProjectID        uint     `json:"project_id" gorm:"index;not null"`
	LabelerID        uint     `json:"labeler_id" gorm:"index;not null"`
	AnnotationType   string   `json:"annotation_type" gorm:"not null"`
	Status           string   `json:"status" gorm:"default:'pending';index"`
	Payload          JSON     `json:"payload,omitempty" gorm:"type:json"`
	Confidence       *float64 `json:"confidence"`
	TimeSpentSeconds int64    `json:"time_spent_seconds" gorm:"default:0"`
	ExternalID       *int     `json:"external_id" gorm:"index"`

	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Review decisions.
const (
	ReviewApproved         = "approved"
	ReviewRejected         = "rejected"
	ReviewRevisionRequired = "revision_required"
	ReviewEscalated        = "escalated"
)

var validReviewDecisions = map[string]bool{
	ReviewApproved:         true,
	ReviewRejected:         true,
	ReviewRevisionRequired: true,
	ReviewEscalated:        true,
}

func ValidReviewDecision(d string) bool {
	return validReviewDecisions[d]
}

type Review struct {
	ID           uint     `json:"id" gorm:"primaryKey"`
	AnnotationID uint     `json:"annotation_id" gorm:"index;not null"`
	ReviewerID   uint     `json:"reviewer_id" gorm:"index;not null"`
	Decision     string   `json:"decision" gorm:"not null"`
	QualityScore *float64 `json:"quality_score"`
	Feedback     string   `json:"feedback"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate rejects self-review. The annotation must exist and belong
// to a different user than the reviewer.
func (r *Review) BeforeCreate(tx *gorm.DB) error {
	var ann Annotation
	if err := tx.First(&ann, r.AnnotationID).Error; err != nil {
		return errors.New("annotation not found")
	}
	if ann.LabelerID == r.ReviewerID {
		return errors.New("reviewer cannot review own annotation")
	}
	return nil
}

type QualityMetric struct {
	ID                uint      `json:"id" gorm:"primaryKey"`
	ProjectID         uint      `json:"project_id" gorm:"index;not null"`
	PeriodStart       time.Time `json:"period_start"`
	PeriodEnd         time.Time `json:"period_end"`
	Accuracy          float64   `json:"accuracy"`
	Throughput        float64   `json:"throughput"`
	AgreementScore    float64   `json:"agreement_score"`
	ReviewedCount     int64     `json:"reviewed_count"`
	ApprovedCount     int64     `json:"approved_count"`
	AvgQualityScore   float64   `json:"avg_quality_score"`
	AvgTimePerItemSec float64   `json:"avg_time_per_item_sec"`

	CreatedAt time.Time `json:"created_at"`
}

// Plan is a subscription tier. Prices are stored in cents.
type Plan struct {
	ID            uint    `json:"id" gorm:"primaryKey"`
	Name          string  `json:"name" gorm:"uniqueIndex;not null"`
	DisplayName   string  `json:"display_name"`
	PriceMonthly  int64   `json:"price_monthly"`
	IncludedItems int64   `json:"included_items"`
	OverageRate   float64 `json:"overage_rate"`
	StripePriceID string  `json:"-" gorm:"index"`
	Active        bool    `json:"is_active" gorm:"default:true"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Subscription statuses mirror Stripe's.
type Subscription struct {
	ID                   uint       `json:"id" gorm:"primaryKey"`
	OrganizationID       uint       `json:"organization_id" gorm:"index;not null"`
	PlanID               uint       `json:"plan_id" gorm:"index"`
	StripeSubscriptionID string     `json:"-" gorm:"uniqueIndex"`
	Status               string     `json:"status" gorm:"default:'active'"`
	CurrentPeriodStart   *time.Time `json:"current_period_start"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end"`
	CancelAtPeriodEnd    bool       `json:"cancel_at_period_end" gorm:"default:false"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PaymentRecord mirrors a Stripe payment intent's lifecycle.
type PaymentRecord struct {
	ID                    uint   `json:"id" gorm:"primaryKey"`
	UserID                uint   `json:"user_id" gorm:"index"`
	OrganizationID        uint   `json:"organization_id" gorm:"index"`
	ProjectID             *uint  `json:"project_id" gorm:"index"`
	StripePaymentIntentID string `json:"-" gorm:"uniqueIndex"`
	AmountCents           int64  `json:"amount_cents"`
	Currency              string `json:"currency" gorm:"default:'usd'"`
	Status                string `json:"status" gorm:"default:'pending';index"`
	Description           string `json:"description"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// All returns every model registered for migration, in dependency order.
func All() []interface{} {
	return []interface{}{
		&Organization{},
		&User{},
		&TokenBlacklist{},
		&Project{},
		&Dataset{},
		&DataItem{},
		&Annotation{},
		&Review{},
		&QualityMetric{},
		&Plan{},
		&Subscription{},
		&PaymentRecord{},
	}
}

// StringArray stores a []string as a JSON-encoded text column.
type StringArray []string

// Value implements the driver.Valuer interface for StringArray
func (sa StringArray) Value() (driver.Value, error) {
	if len(sa) == 0 {
		return nil, nil
	}
	return json.Marshal([]string(sa))
}

// Scan implements the sql.Scanner interface for StringArray
func (sa *StringArray) Scan(value interface{}) error {
	if value == nil {
		*sa = StringArray{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		if len(v) == 0 {
			*sa = StringArray{}
			return nil
		}
		return json.Unmarshal(v, sa)
	case string:
		if v == "" {
			*sa = StringArray{}
			return nil
		}
		return json.Unmarshal([]byte(v), sa)
	default:
		return errors.New("cannot scan into StringArray")
	}
}

// JSON is a generic JSON field type
type JSON []byte

// Value implements the driver.Valuer interface
func (j JSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return []byte(j), nil
}

// Scan implements the sql.Scanner interface
func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*j = JSON(v)
		return nil
	case string:
		*j = JSON(v)
		return nil
	default:
		return errors.New("cannot scan into JSON")
	}
}

// UnmarshalJSON implements the json.Unmarshaler interface
func (j *JSON) UnmarshalJSON(data []byte) error {
	*j = JSON(data)
	return nil
}

// MarshalJSON implements the json.Marshaler interface
func (j JSON) MarshalJSON() ([]byte, error) {
	if j == nil {
		return []byte("null"), nil
	}
	return []byte(j), nil
}
