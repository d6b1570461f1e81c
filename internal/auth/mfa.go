package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"aibridge-backend/internal/database"
	apperrors "aibridge-backend/internal/errors"
	"aibridge-backend/internal/models"
	"aibridge-backend/pkg/utils"
)

// ValidateTOTP validates a TOTP code against a secret
func ValidateTOTP(secret, token string) bool {
	return totp.Validate(token, secret)
}

// HashBackupCode hashes a backup code using SHA256
func HashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// ValidateBackupCode validates a backup code for a user. Codes are
// single use; a matched code is removed.
func ValidateBackupCode(user *models.User, code string) bool {
	if code == "" || database.DB == nil {
		return false
	}

	candidateHash := HashBackupCode(code)
	for i, backupHash := range user.MFABackupCodes {
		if strings.EqualFold(backupHash, candidateHash) {
			user.MFABackupCodes = append(user.MFABackupCodes[:i], user.MFABackupCodes[i+1:]...)
			database.DB.Save(user)
			return true
		}
	}
	return false
}

// verifyMFACode accepts either a TOTP code or a backup code.
func verifyMFACode(user *models.User, code string) bool {
	if ValidateTOTP(user.MFASecret, code) {
		return true
	}
	return ValidateBackupCode(user, code)
}

// GenerateBackupCodes generates 10 backup codes for MFA
func GenerateBackupCodes() ([]string, error) {
	codes := make([]string, 10)
	for i := range codes {
		bytes := make([]byte, 4)
		if _, err := rand.Read(bytes); err != nil {
			return nil, err
		}
		codes[i] = strings.ToUpper(hex.EncodeToString(bytes))
	}
	return codes, nil
}

// HashBackupCodes hashes an array of backup codes
func HashBackupCodes(codes []string) []string {
	hashed := make([]string, len(codes))
	for i, code := range codes {
		hashed[i] = HashBackupCode(code)
	}
	return hashed
}

// GenerateMFASecret generates a TOTP secret for a user
func GenerateMFASecret(userEmail string) (*otp.Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "AI Bridge",
		AccountName: userEmail,
		SecretSize:  32,
	})
	return key, err
}

// HandleMFASetup generates a pending TOTP secret and backup codes. MFA
// stays disabled until the user confirms a code via HandleMFAEnable.
func HandleMFASetup(c *gin.Context) {
	userID := c.GetUint("user_id")

	var user models.User
	if err := database.DB.First(&user, userID).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusNotFound, apperrors.ErrNotFound)
		return
	}
	if user.MFAEnabled {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("MFA_ALREADY_ENABLED", "MFA is already enabled"))
		return
	}

	key, err := GenerateMFASecret(user.Email)
	if err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "MFA_SETUP_FAILED", "Failed to generate MFA secret"))
		return
	}

	backupCodes, err := GenerateBackupCodes()
	if err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "MFA_SETUP_FAILED", "Failed to generate backup codes"))
		return
	}

	user.MFASecret = key.Secret()
	user.MFABackupCodes = models.StringArray(HashBackupCodes(backupCodes))
	if err := database.DB.Save(&user).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "DB_ERROR", "Failed to store MFA secret"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"secret":           key.Secret(),
		"provisioning_uri": key.URL(),
		"backup_codes":     backupCodes,
	})
}

// HandleMFAEnable turns MFA on after verifying a TOTP code
func HandleMFAEnable(c *gin.Context) {
	userID := c.GetUint("user_id")

	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("INVALID_REQUEST", "code is required"))
		return
	}

	var user models.User
	if err := database.DB.First(&user, userID).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusNotFound, apperrors.ErrNotFound)
		return
	}
	if user.MFASecret == "" {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("MFA_NOT_SETUP", "Run MFA setup first"))
		return
	}
	if !ValidateTOTP(user.MFASecret, req.Code) {
		utils.SendErrorResponse(c, http.StatusUnauthorized,
			apperrors.New("INVALID_MFA_CODE", "Invalid MFA code"))
		return
	}

	if err := database.DB.Model(&user).Update("mfa_enabled", true).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "DB_ERROR", "Failed to enable MFA"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "MFA enabled"})
}

// HandleMFADisable turns MFA off after verifying the password
func HandleMFADisable(c *gin.Context) {
	userID := c.GetUint("user_id")

	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("INVALID_REQUEST", "password is required"))
		return
	}

	var user models.User
	if err := database.DB.First(&user, userID).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusNotFound, apperrors.ErrNotFound)
		return
	}
	if !CheckPassword(req.Password, user.Password) {
		utils.SendErrorResponse(c, http.StatusUnauthorized,
			apperrors.New("INVALID_PASSWORD", "Password is incorrect"))
		return
	}

	updates := map[string]interface{}{
		"mfa_enabled":      false,
		"mfa_secret":       "",
		"mfa_backup_codes": nil,
	}
	if err := database.DB.Model(&user).Updates(updates).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "DB_ERROR", "Failed to disable MFA"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "MFA disabled"})
}
