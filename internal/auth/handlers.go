package auth

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"aibridge-backend/internal/database"
	apperrors "aibridge-backend/internal/errors"
	"aibridge-backend/internal/middleware"
	"aibridge-backend/internal/models"
	"aibridge-backend/pkg/utils"
)

func respondInvalidCredentials(c *gin.Context) {
	middleware.RecordFailedLoginAttempt(c)
	utils.SendErrorResponse(c, http.StatusUnauthorized, apperrors.ErrInvalidCredentials)
}

// userProfile is the JSON shape returned for the authenticated user.
func userProfile(user models.User) gin.H {
	return gin.H{
		"id":              user.ID,
		"username":        user.Username,
		"email":           user.Email,
		"first_name":      user.FirstName,
		"last_name":       user.LastName,
		"full_name":       user.FullName(),
		"role":            user.Role,
		"organization_id": user.OrganizationID,
		"is_active":       user.Active,
		"mfa_enabled":     user.MFAEnabled,
		"last_login":      user.LastLogin,
		"created_at":      user.CreatedAt,
	}
}

// HandleRegister creates a new user account
func HandleRegister(c *gin.Context) {
	var req struct {
		Username         string `json:"username" binding:"required"`
		Email            string `json:"email" binding:"required"`
		Password         string `json:"password" binding:"required"`
		FirstName        string `json:"first_name"`
		LastName         string `json:"last_name"`
		Role             string `json:"role"`
		OrganizationName string `json:"organization_name"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("INVALID_REQUEST", "username, email and password are required"))
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Username = strings.TrimSpace(req.Username)

	if !ValidEmail(req.Email) {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("INVALID_EMAIL", "Invalid email format"))
		return
	}
	if err := ValidatePassword(req.Password); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("WEAK_PASSWORD", err.Error()))
		return
	}

	role := req.Role
	if role == "" {
		role = models.RoleClientUser
	}
	if !models.ValidRole(role) || role == models.RoleAdmin {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("INVALID_ROLE", "Invalid role"))
		return
	}

	var count int64
	database.DB.Model(&models.User{}).Where("username = ?", req.Username).Count(&count)
	if count > 0 {
		utils.SendErrorResponse(c, http.StatusConflict,
			apperrors.New("USERNAME_TAKEN", "Username already exists"))
		return
	}
	database.DB.Model(&models.User{}).Where("email = ?", req.Email).Count(&count)
	if count > 0 {
		utils.SendErrorResponse(c, http.StatusConflict,
			apperrors.New("EMAIL_TAKEN", "Email already exists"))
		return
	}

	hashed, err := HashPassword(req.Password)
	if err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "HASH_FAILED", "Failed to process password"))
		return
	}

	user := models.User{
		Username:  req.Username,
		Email:     req.Email,
		Password:  hashed,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      role,
		Active:    true,
	}

	if req.OrganizationName != "" {
		org, err := findOrCreateOrganization(req.OrganizationName)
		if err != nil {
			utils.SendErrorResponse(c, http.StatusInternalServerError,
				apperrors.Wrap(err, "DB_ERROR", "Failed to resolve organization"))
			return
		}
		user.OrganizationID = &org.ID
	}

	if err := database.DB.Create(&user).Error; err != nil {
		// Unique indexes are the backstop against concurrent registration.
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate") {
			utils.SendErrorResponse(c, http.StatusConflict, apperrors.ErrConflict)
			return
		}
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "DB_ERROR", "Failed to create user"))
		return
	}

	token, expiry, err := GenerateToken(user)
	if err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "TOKEN_FAILED", "Failed to generate token"))
		return
	}

	log.Printf("✅ User registered: %s (%s)", user.Username, user.Role)

	c.JSON(http.StatusCreated, gin.H{
		"message":    "User registered successfully",
		"user":       userProfile(user),
		"token":      token,
		"expires_at": expiry,
	})
}

func findOrCreateOrganization(name string) (*models.Organization, error) {
	slug := slugify(name)
	var org models.Organization
	err := database.DB.Where("slug = ?", slug).First(&org).Error
	if err == nil {
		return &org, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	org = models.Organization{Name: name, Slug: slug, Active: true}
	if err := database.DB.Create(&org).Error; err != nil {
		return nil, err
	}
	return &org, nil
}

func slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// HandleLogin authenticates a user and issues a JWT
func HandleLogin(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
		MFACode  string `json:"mfa_code"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("INVALID_REQUEST", "email and password are required"))
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	// The response never reveals whether the email exists.
	var user models.User
	if err := database.DB.Where("email = ?", req.Email).First(&user).Error; err != nil {
		respondInvalidCredentials(c)
		return
	}

	if !CheckPassword(req.Password, user.Password) {
		respondInvalidCredentials(c)
		return
	}

	if !user.Active {
		utils.SendErrorResponse(c, http.StatusForbidden,
			apperrors.New("ACCOUNT_DISABLED", "Account is deactivated"))
		return
	}

	if user.MFAEnabled {
		if req.MFACode == "" {
			c.JSON(http.StatusOK, gin.H{
				"mfa_required": true,
				"message":      "MFA code required",
			})
			return
		}
		if !verifyMFACode(&user, req.MFACode) {
			utils.SendErrorResponse(c, http.StatusUnauthorized,
				apperrors.New("INVALID_MFA_CODE", "Invalid MFA code"))
			return
		}
	}

	middleware.RecordSuccessfulLoginAttempt(c)

	now := time.Now()
	user.LastLogin = &now
	if err := database.DB.Model(&user).Update("last_login", now).Error; err != nil {
		log.Printf("⚠️  failed to update last_login for user %d: %v", user.ID, err)
	}

	token, expiry, err := GenerateToken(user)
	if err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "TOKEN_FAILED", "Failed to generate token"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "Login successful",
		"user":       userProfile(user),
		"token":      token,
		"expires_at": expiry,
	})
}

// HandleLogout blacklists the current token
func HandleLogout(c *gin.Context) {
	tokenString := c.GetString("token")
	userID := c.GetUint("user_id")

	expiry := time.Now().Add(TokenTTL())
	if v, exists := c.Get("token_expiry"); exists {
		if t, ok := v.(time.Time); ok {
			expiry = t
		}
	}

	BlacklistToken(database.DB, tokenString, userID, expiry)

	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// HandleGetProfile returns the authenticated user's profile
func HandleGetProfile(c *gin.Context) {
	userVal, _ := c.Get("user")
	user, ok := userVal.(models.User)
	if !ok {
		utils.SendErrorResponse(c, http.StatusUnauthorized, apperrors.ErrUnauthorized)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userProfile(user)})
}

// HandleUpdateProfile updates mutable profile fields
func HandleUpdateProfile(c *gin.Context) {
	userID := c.GetUint("user_id")

	var req struct {
		FirstName *string `json:"first_name"`
		LastName  *string `json:"last_name"`
		Email     *string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("INVALID_REQUEST", "Invalid request body"))
		return
	}

	var user models.User
	if err := database.DB.First(&user, userID).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusNotFound, apperrors.ErrNotFound)
		return
	}

	updates := map[string]interface{}{}
	if req.FirstName != nil {
		updates["first_name"] = *req.FirstName
	}
	if req.LastName != nil {
		updates["last_name"] = *req.LastName
	}
	if req.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*req.Email))
		if !ValidEmail(email) {
			utils.SendErrorResponse(c, http.StatusBadRequest,
				apperrors.New("INVALID_EMAIL", "Invalid email format"))
			return
		}
		var count int64
		database.DB.Model(&models.User{}).Where("email = ? AND id <> ?", email, userID).Count(&count)
		if count > 0 {
			utils.SendErrorResponse(c, http.StatusConflict,
				apperrors.New("EMAIL_TAKEN", "Email already exists"))
			return
		}
		updates["email"] = email
	}

	if len(updates) > 0 {
		if err := database.DB.Model(&user).Updates(updates).Error; err != nil {
			utils.SendErrorResponse(c, http.StatusInternalServerError,
				apperrors.Wrap(err, "DB_ERROR", "Failed to update profile"))
			return
		}
	}

	database.DB.First(&user, userID)
	c.JSON(http.StatusOK, gin.H{
		"message": "Profile updated successfully",
		"user":    userProfile(user),
	})
}

// HandleChangePassword verifies the old password and sets a new one
func HandleChangePassword(c *gin.Context) {
	userID := c.GetUint("user_id")

	var req struct {
		OldPassword string `json:"old_password" binding:"required"`
		NewPassword string `json:"new_password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("INVALID_REQUEST", "old_password and new_password are required"))
		return
	}

	var user models.User
	if err := database.DB.First(&user, userID).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusNotFound, apperrors.ErrNotFound)
		return
	}

	if !CheckPassword(req.OldPassword, user.Password) {
		utils.SendErrorResponse(c, http.StatusUnauthorized,
			apperrors.New("INVALID_PASSWORD", "Current password is incorrect"))
		return
	}

	if err := ValidatePassword(req.NewPassword); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("WEAK_PASSWORD", err.Error()))
		return
	}

	hashed, err := HashPassword(req.NewPassword)
	if err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "HASH_FAILED", "Failed to process password"))
		return
	}

	if err := database.DB.Model(&user).Update("password", hashed).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "DB_ERROR", "Failed to update password"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Password changed successfully"})
}
