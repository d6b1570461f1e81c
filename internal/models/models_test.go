package models

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBSeq atomic.Int64

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:modeltest%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(All()...))
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})
	return db
}

func TestDatasetCounterBounds(t *testing.T) {
	db := testDB(t)

	tests := []struct {
		name    string
		dataset Dataset
		wantErr bool
	}{
		{"valid", Dataset{ProjectID: 1, Name: "d", TotalItems: 10, CompletedItems: 5, ApprovedItems: 3}, false},
		{"all complete", Dataset{ProjectID: 1, Name: "d", TotalItems: 10, CompletedItems: 10, ApprovedItems: 10}, false},
		{"negative total", Dataset{ProjectID: 1, Name: "d", TotalItems: -1}, true},
		{"negative completed", Dataset{ProjectID: 1, Name: "d", TotalItems: 5, CompletedItems: -2}, true},
		{"completed over total", Dataset{ProjectID: 1, Name: "d", TotalItems: 5, CompletedItems: 6}, true},
		{"approved over total", Dataset{ProjectID: 1, Name: "d", TotalItems: 5, ApprovedItems: 6}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := db.Create(&tt.dataset).Error
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatasetProgressPercentage(t *testing.T) {
	empty := Dataset{TotalItems: 0, CompletedItems: 0}
	assert.Zero(t, empty.ProgressPercentage())

	half := Dataset{TotalItems: 10, CompletedItems: 5}
	assert.InDelta(t, 50.0, half.ProgressPercentage(), 1e-9)

	done := Dataset{TotalItems: 4, CompletedItems: 4}
	assert.InDelta(t, 100.0, done.ProgressPercentage(), 1e-9)
}

func TestReviewSelfReviewRejected(t *testing.T) {
	db := testDB(t)

	annotation := Annotation{
		DataItemID:     1,
		ProjectID:      1,
		LabelerID:      5,
		AnnotationType: AnnotationClassification,
		Status:         AnnotationCompleted,
	}
	require.NoError(t, db.Create(&annotation).Error)

	selfReview := Review{AnnotationID: annotation.ID, ReviewerID: 5, Decision: ReviewApproved}
	err := db.Create(&selfReview).Error
	require.Error(t, err)
	assert.Contains(t, err.Error(), "own annotation")

	peerReview := Review{AnnotationID: annotation.ID, ReviewerID: 6, Decision: ReviewApproved}
	assert.NoError(t, db.Create(&peerReview).Error)
}

func TestReviewMissingAnnotationRejected(t *testing.T) {
	db := testDB(t)

	review := Review{AnnotationID: 999, ReviewerID: 1, Decision: ReviewApproved}
	assert.Error(t, db.Create(&review).Error)
}

func TestValidators(t *testing.T) {
	assert.True(t, ValidRole(RoleLabeler))
	assert.False(t, ValidRole("superuser"))

	assert.True(t, ValidProjectStatus(ProjectActive))
	assert.False(t, ValidProjectStatus("paused"))

	assert.True(t, ValidProjectType(TypeObjectDetection))
	assert.False(t, ValidProjectType("3d_lidar"))

	assert.True(t, ValidAnnotationStatus(AnnotationUnderReview))
	assert.False(t, ValidAnnotationStatus("archived"))

	assert.True(t, ValidAnnotationType(AnnotationBoundingBox))
	assert.False(t, ValidAnnotationType("freeform"))

	assert.True(t, ValidReviewDecision(ReviewEscalated))
	assert.False(t, ValidReviewDecision("maybe"))
}

func TestStaffRole(t *testing.T) {
	assert.True(t, StaffRole(RoleAdmin))
	assert.True(t, StaffRole(RoleProjectManager))
	assert.False(t, StaffRole(RoleClientAdmin))
	assert.False(t, StaffRole(RoleLabeler))
}

func TestUserFullName(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", (&User{FirstName: "Ada", LastName: "Lovelace"}).FullName())
	assert.Equal(t, "Ada", (&User{FirstName: "Ada"}).FullName())
	assert.Equal(t, "", (&User{}).FullName())
}

func TestStringArrayRoundTrip(t *testing.T) {
	db := testDB(t)

	user := User{
		Username:       "mfa-user",
		Email:          "mfa@example.com",
		Password:       "x",
		MFABackupCodes: StringArray{"AAAA1111", "BBBB2222"},
	}
	require.NoError(t, db.Create(&user).Error)

	var loaded User
	require.NoError(t, db.First(&loaded, user.ID).Error)
	assert.Equal(t, StringArray{"AAAA1111", "BBBB2222"}, loaded.MFABackupCodes)
}

func TestJSONRoundTrip(t *testing.T) {
	db := testDB(t)

	project := Project{
		Name:           "p",
		ProjectType:    TypeImageClassification,
		OrganizationID: 1,
		LabelConfig:    JSON(`{"labels":["cat","dog"]}`),
	}
	require.NoError(t, db.Create(&project).Error)

	var loaded Project
	require.NoError(t, db.First(&loaded, project.ID).Error)
	assert.JSONEq(t, `{"labels":["cat","dog"]}`, string(loaded.LabelConfig))
}
