package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"aibridge-backend/internal/config"
	"aibridge-backend/internal/models"
)

const bcryptCost = 14

var jwtSecret []byte

// Claims represents JWT claims
type Claims struct {
	UserID         uint   `json:"user_id"`
	Email          string `json:"email"`
	OrganizationID uint   `json:"organization_id"`
	Role           string `json:"role"`
	jwt.RegisteredClaims
}

// InitJWT initializes JWT secret from environment
func InitJWT() {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
	jwtSecret = []byte(secret)
	log.Println("✅ JWT initialized")
}

// SetTestSecret installs a deterministic signing key. Tests only.
func SetTestSecret(secret string) {
	jwtSecret = []byte(secret)
}

// TokenTTL is the access token lifetime, JWT_TTL_SECONDS (default 3600).
func TokenTTL() time.Duration {
	return time.Duration(config.GetEnvInt("JWT_TTL_SECONDS", 3600)) * time.Second
}

// GenerateToken generates a JWT token for a user
func GenerateToken(user models.User) (string, time.Time, error) {
	return GenerateTokenWithTTL(user, TokenTTL())
}

// GenerateTokenWithTTL generates a JWT token with custom TTL
func GenerateTokenWithTTL(user models.User, ttl time.Duration) (string, time.Time, error) {
	expiry := time.Now().Add(ttl)

	var orgID uint
	if user.OrganizationID != nil {
		orgID = *user.OrganizationID
	}

	claims := &Claims{
		UserID:         user.ID,
		Email:          user.Email,
		OrganizationID: orgID,
		Role:           user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiry),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(jwtSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, expiry, nil
}

// ParseToken parses and validates a JWT token
func ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecret, nil
	})

	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token claims")
}

// IsTokenBlacklisted checks if a token is blacklisted
func IsTokenBlacklisted(db *gorm.DB, tokenString string) bool {
	if db == nil {
		return false
	}

	hash := sha256.Sum256([]byte(tokenString))
	tokenHash := hex.EncodeToString(hash[:])

	var count int64
	db.Model(&models.TokenBlacklist{}).Where("token_hash = ?", tokenHash).Count(&count)
	return count > 0
}

// BlacklistToken adds a token to the blacklist
func BlacklistToken(db *gorm.DB, tokenString string, userID uint, expiry time.Time) {
	if db == nil {
		return
	}

	hash := sha256.Sum256([]byte(tokenString))
	tokenHash := hex.EncodeToString(hash[:])

	blacklist := models.TokenBlacklist{
		TokenHash: tokenHash,
		UserID:    userID,
		ExpiresAt: expiry,
	}

	db.Create(&blacklist)
}

// CleanupTokenBlacklist removes expired tokens from blacklist
func CleanupTokenBlacklist(db *gorm.DB) {
	if db == nil {
		return
	}

	result := db.Where("expires_at < ?", time.Now()).Delete(&models.TokenBlacklist{})
	if result.Error == nil && result.RowsAffected > 0 {
		log.Printf("Cleaned up %d expired tokens from blacklist", result.RowsAffected)
	}
}
