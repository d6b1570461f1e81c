package auth

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"aibridge-backend/internal/models"
)

var testDBSeq atomic.Int64

// testDB opens a fresh in-memory database. Each call gets its own
// namespace so tests never see each other's rows.
func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:authtest%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})
	return db
}

func TestTokenRoundTrip(t *testing.T) {
	SetTestSecret("test-secret-key")

	orgID := uint(7)
	user := models.User{
		ID:             42,
		Email:          "labeler@example.com",
		Role:           models.RoleLabeler,
		OrganizationID: &orgID,
	}

	token, expiry, err := GenerateToken(user)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiry, 5*time.Second)

	claims, err := ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "labeler@example.com", claims.Email)
	assert.Equal(t, uint(7), claims.OrganizationID)
	assert.Equal(t, models.RoleLabeler, claims.Role)
}

func TestParseToken_WrongSecret(t *testing.T) {
	SetTestSecret("secret-one")
	token, _, err := GenerateToken(models.User{ID: 1, Email: "a@b.co"})
	require.NoError(t, err)

	SetTestSecret("secret-two")
	_, err = ParseToken(token)
	assert.Error(t, err)
}

func TestParseToken_Expired(t *testing.T) {
	SetTestSecret("test-secret-key")
	token, _, err := GenerateTokenWithTTL(models.User{ID: 1, Email: "a@b.co"}, -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken(token)
	assert.Error(t, err)
}

func TestTokenBlacklist(t *testing.T) {
	db := testDB(t)
	SetTestSecret("test-secret-key")

	token, expiry, err := GenerateToken(models.User{ID: 9, Email: "x@y.co"})
	require.NoError(t, err)

	assert.False(t, IsTokenBlacklisted(db, token))
	BlacklistToken(db, token, 9, expiry)
	assert.True(t, IsTokenBlacklisted(db, token))

	// Blacklisting the same token twice must not panic or duplicate.
	BlacklistToken(db, token, 9, expiry)
	var count int64
	db.Model(&models.TokenBlacklist{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestCleanupTokenBlacklist(t *testing.T) {
	db := testDB(t)
	SetTestSecret("test-secret-key")

	expired, _, err := GenerateTokenWithTTL(models.User{ID: 1, Email: "a@b.co"}, time.Hour)
	require.NoError(t, err)
	live, _, err := GenerateTokenWithTTL(models.User{ID: 2, Email: "c@d.co"}, time.Hour)
	require.NoError(t, err)

	BlacklistToken(db, expired, 1, time.Now().Add(-time.Minute))
	BlacklistToken(db, live, 2, time.Now().Add(time.Hour))

	CleanupTokenBlacklist(db)

	assert.False(t, IsTokenBlacklisted(db, expired))
	assert.True(t, IsTokenBlacklisted(db, live))
}

func TestPasswordHashing(t *testing.T) {
	if testing.Short() {
		t.Skip("bcrypt at production cost is slow")
	}

	hash, err := HashPassword("Sup3rSecret")
	require.NoError(t, err)
	assert.NotEqual(t, "Sup3rSecret", hash)

	assert.True(t, CheckPassword("Sup3rSecret", hash))
	assert.False(t, CheckPassword("WrongPass1", hash))
}
