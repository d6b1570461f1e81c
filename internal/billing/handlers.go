package billing

import (
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"aibridge-backend/internal/database"
	apperrors "aibridge-backend/internal/errors"
	"aibridge-backend/internal/models"
	"aibridge-backend/pkg/utils"
)

func billingDisabled(c *gin.Context) bool {
	if Enabled() {
		return false
	}
	utils.SendErrorResponse(c, http.StatusServiceUnavailable,
		apperrors.New("BILLING_DISABLED", "Payment processing is not configured"))
	return true
}

func currentUser(c *gin.Context) (*models.User, bool) {
	userVal, _ := c.Get("user")
	user, ok := userVal.(models.User)
	if !ok {
		utils.SendErrorResponse(c, http.StatusUnauthorized, apperrors.ErrUnauthorized)
		return nil, false
	}
	return &user, true
}

// HandleCalculateCost prices a labeling workload without side effects.
func HandleCalculateCost(c *gin.Context) {
	var req struct {
		ItemCount  *int64   `json:"item_count" binding:"required"`
		CustomRate *float64 `json:"custom_rate"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || *req.ItemCount < 0 {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("INVALID_REQUEST", "item_count is required and must be non-negative"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"estimate": CalculateProjectCost(*req.ItemCount, req.CustomRate)})
}

// HandleGetPricing publishes the static per-item pricing tables
func HandleGetPricing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"tiers": []gin.H{
			{"tier": TierStarter, "max_items": 1000, "price_per_item": starterRate},
			{"tier": TierProfessional, "max_items": 10000, "price_per_item": professionalRate},
			{"tier": TierEnterprise, "max_items": nil, "price_per_item": enterpriseRate},
		},
		"volume_discounts": []gin.H{
			{"min_items": 10001, "discount_percent": 5},
			{"min_items": 25001, "discount_percent": 10},
			{"min_items": 50001, "discount_percent": 15},
		},
		"currency": "usd",
	})
}

// HandleGetPlans returns all active billing plans
func HandleGetPlans(c *gin.Context) {
	var plans []models.Plan
	if err := database.DB.Where("active = ?", true).Order("price_monthly ASC").Find(&plans).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "DB_ERROR", "Failed to fetch plans"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

// HandleGetPublishableKey hands the frontend its Stripe key
func HandleGetPublishableKey(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"publishable_key": os.Getenv("STRIPE_PUBLISHABLE_KEY")})
}

// projectItemCount sums total items across a project's datasets.
func projectItemCount(projectID uint) int64 {
	var total int64
	database.DB.Model(&models.Dataset{}).
		Where("project_id = ?", projectID).
		Select("COALESCE(SUM(total_items), 0)").
		Scan(&total)
	return total
}

// HandleCreatePaymentIntent prices a project and opens a payment intent
// for the full amount.
func HandleCreatePaymentIntent(c *gin.Context) {
	if billingDisabled(c) {
		return
	}
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var req struct {
		ProjectID uint `json:"project_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("INVALID_REQUEST", "project_id is required"))
		return
	}

	var project models.Project
	if err := database.DB.First(&project, req.ProjectID).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusNotFound, apperrors.ErrNotFound)
		return
	}
	if user.Role != models.RoleAdmin &&
		(user.OrganizationID == nil || *user.OrganizationID != project.OrganizationID) {
		utils.SendErrorResponse(c, http.StatusNotFound, apperrors.ErrNotFound)
		return
	}

	itemCount := projectItemCount(project.ID)
	if itemCount == 0 {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("EMPTY_PROJECT", "Project has no data items to price"))
		return
	}

	estimate := CalculateProjectCost(itemCount, project.CustomRate)
	amountCents := int64(estimate.Total * 100)

	customerID, err := getOrCreateCustomer(user)
	if err != nil {
		utils.HandleError(err, "billing.HandleCreatePaymentIntent")
		utils.SendErrorResponse(c, http.StatusBadGateway, apperrors.ErrPaymentFailed)
		return
	}

	intent, err := createPaymentIntent(customerID, amountCents,
		"Labeling project: "+project.Name,
		uuid.NewString(),
		map[string]string{
			"project_id": strconv.FormatUint(uint64(project.ID), 10),
			"user_id":    strconv.FormatUint(uint64(user.ID), 10),
		})
	if err != nil {
		utils.HandleError(err, "billing.HandleCreatePaymentIntent")
		utils.SendErrorResponse(c, http.StatusBadGateway, apperrors.ErrPaymentFailed)
		return
	}

	record := models.PaymentRecord{
		UserID:                user.ID,
		OrganizationID:        project.OrganizationID,
		ProjectID:             &project.ID,
		StripePaymentIntentID: intent.ID,
		AmountCents:           amountCents,
		Currency:              estimate.Currency,
		Status:                string(intent.Status),
		Description:           "Labeling project: " + project.Name,
	}
	if err := database.DB.Create(&record).Error; err != nil {
		log.Printf("⚠️  failed to store payment record for intent %s: %v", intent.ID, err)
	}

	c.JSON(http.StatusCreated, gin.H{
		"client_secret": intent.ClientSecret,
		"payment_id":    record.ID,
		"amount_cents":  amountCents,
		"estimate":      estimate,
	})
}

// HandleGetPaymentStatus reports a payment record's current status
func HandleGetPaymentStatus(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	paymentID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("INVALID_ID", "Invalid payment ID"))
		return
	}

	var record models.PaymentRecord
	query := database.DB.Where("id = ?", paymentID)
	if user.Role != models.RoleAdmin {
		query = query.Where("user_id = ?", user.ID)
	}
	if err := query.First(&record).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusNotFound, apperrors.ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"payment": record})
}

// HandlePaymentHistory lists payment records visible to the caller
func HandlePaymentHistory(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	query := database.DB.Order("created_at DESC").Limit(100)
	switch {
	case user.Role == models.RoleAdmin:
		// admins see everything
	case user.Role == models.RoleClientAdmin && user.OrganizationID != nil:
		query = query.Where("organization_id = ?", *user.OrganizationID)
	default:
		query = query.Where("user_id = ?", user.ID)
	}

	var records []models.PaymentRecord
	if err := query.Find(&records).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "DB_ERROR", "Failed to fetch payment history"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"payments": records, "total": len(records)})
}

// HandleCreateSubscription subscribes the caller's organization to a plan
func HandleCreateSubscription(c *gin.Context) {
	if billingDisabled(c) {
		return
	}
	user, ok := currentUser(c)
	if !ok {
		return
	}
	if user.OrganizationID == nil {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("NO_ORGANIZATION", "User has no organization"))
		return
	}

	var req struct {
		Plan string `json:"plan" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("INVALID_REQUEST", "plan is required"))
		return
	}

	var plan models.Plan
	if err := database.DB.Where("name = ? AND active = ?", req.Plan, true).First(&plan).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusNotFound,
			apperrors.New("PLAN_NOT_FOUND", "Unknown plan"))
		return
	}

	var existing models.Subscription
	if err := database.DB.Where("organization_id = ? AND status IN ?", *user.OrganizationID,
		[]string{"active", "incomplete", "trialing"}).First(&existing).Error; err == nil {
		utils.SendErrorResponse(c, http.StatusConflict,
			apperrors.New("SUBSCRIPTION_EXISTS", "Organization already has a subscription"))
		return
	}

	customerID, err := getOrCreateCustomer(user)
	if err != nil {
		utils.HandleError(err, "billing.HandleCreateSubscription")
		utils.SendErrorResponse(c, http.StatusBadGateway, apperrors.ErrPaymentFailed)
		return
	}

	stripeSub, err := createSubscription(customerID, plan)
	if err != nil {
		utils.HandleError(err, "billing.HandleCreateSubscription")
		utils.SendErrorResponse(c, http.StatusBadGateway, apperrors.ErrPaymentFailed)
		return
	}

	periodStart := time.Unix(stripeSub.CurrentPeriodStart, 0)
	periodEnd := time.Unix(stripeSub.CurrentPeriodEnd, 0)
	sub := models.Subscription{
		OrganizationID:       *user.OrganizationID,
		PlanID:               plan.ID,
		StripeSubscriptionID: stripeSub.ID,
		Status:               string(stripeSub.Status),
		CurrentPeriodStart:   &periodStart,
		CurrentPeriodEnd:     &periodEnd,
	}
	if err := database.DB.Create(&sub).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "DB_ERROR", "Failed to store subscription"))
		return
	}

	database.DB.Model(&models.Organization{}).
		Where("id = ?", *user.OrganizationID).
		Update("subscription_tier", plan.Name)

	c.JSON(http.StatusCreated, gin.H{
		"subscription": sub,
		"message":      "Subscription created",
	})
}

// HandleGetCurrentSubscription returns the organization's latest subscription
func HandleGetCurrentSubscription(c *gin.Context) {
	orgID := c.GetUint("organization_id")
	if orgID == 0 {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("NO_ORGANIZATION", "User has no organization"))
		return
	}

	var sub models.Subscription
	if err := database.DB.Where("organization_id = ?", orgID).
		Order("created_at DESC").First(&sub).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusNotFound,
			apperrors.New("NO_SUBSCRIPTION", "No subscription found"))
		return
	}

	var plan models.Plan
	database.DB.First(&plan, sub.PlanID)

	c.JSON(http.StatusOK, gin.H{"subscription": sub, "plan": plan})
}

// HandleCancelSubscription cancels at period end, or immediately with
// ?immediate=true
func HandleCancelSubscription(c *gin.Context) {
	if billingDisabled(c) {
		return
	}
	orgID := c.GetUint("organization_id")

	var sub models.Subscription
	if err := database.DB.Where("organization_id = ? AND status IN ?", orgID,
		[]string{"active", "incomplete", "trialing"}).First(&sub).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusNotFound,
			apperrors.New("NO_SUBSCRIPTION", "No active subscription"))
		return
	}

	immediate := c.Query("immediate") == "true"
	stripeSub, err := cancelSubscription(sub.StripeSubscriptionID, immediate)
	if err != nil {
		utils.HandleError(err, "billing.HandleCancelSubscription")
		utils.SendErrorResponse(c, http.StatusBadGateway, apperrors.ErrPaymentFailed)
		return
	}

	updates := map[string]interface{}{
		"cancel_at_period_end": stripeSub.CancelAtPeriodEnd,
		"status":               string(stripeSub.Status),
	}
	if err := database.DB.Model(&sub).Updates(updates).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "DB_ERROR", "Failed to update subscription"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Subscription cancelled", "subscription": sub})
}

// HandleListPaymentMethods returns the caller's saved cards
func HandleListPaymentMethods(c *gin.Context) {
	if billingDisabled(c) {
		return
	}
	user, ok := currentUser(c)
	if !ok {
		return
	}
	if user.StripeCustomerID == "" {
		c.JSON(http.StatusOK, gin.H{"payment_methods": []gin.H{}})
		return
	}

	methods, err := listPaymentMethods(user.StripeCustomerID)
	if err != nil {
		utils.HandleError(err, "billing.HandleListPaymentMethods")
		utils.SendErrorResponse(c, http.StatusBadGateway, apperrors.ErrPaymentFailed)
		return
	}

	out := make([]gin.H, 0, len(methods))
	for _, pm := range methods {
		entry := gin.H{"id": pm.ID, "type": pm.Type}
		if pm.Card != nil {
			entry["brand"] = pm.Card.Brand
			entry["last4"] = pm.Card.Last4
			entry["exp_month"] = pm.Card.ExpMonth
			entry["exp_year"] = pm.Card.ExpYear
		}
		out = append(out, entry)
	}

	c.JSON(http.StatusOK, gin.H{"payment_methods": out})
}

// HandleUsageStats reports the organization's labeling volume over the
// last 30 days with an overage estimate against its plan.
func HandleUsageStats(c *gin.Context) {
	orgID := c.GetUint("organization_id")
	if orgID == 0 {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("NO_ORGANIZATION", "User has no organization"))
		return
	}

	periodStart := time.Now().AddDate(0, -1, 0)

	var itemsUsed int64
	database.DB.Model(&models.Annotation{}).
		Joins("JOIN projects ON projects.id = annotations.project_id").
		Where("projects.organization_id = ? AND annotations.status IN ? AND annotations.completed_at > ?",
			orgID,
			[]string{models.AnnotationCompleted, models.AnnotationApproved},
			periodStart).
		Count(&itemsUsed)

	var org models.Organization
	database.DB.First(&org, orgID)

	resp := gin.H{
		"organization_id": orgID,
		"period_start":    periodStart,
		"items_used":      itemsUsed,
	}
	if plan, known := PlanByName(org.SubscriptionTier); known {
		overage := itemsUsed - plan.IncludedItems
		if overage < 0 {
			overage = 0
		}
		resp["plan"] = plan.Name
		resp["included_items"] = plan.IncludedItems
		resp["overage_items"] = overage
		resp["estimated_cost"] = MonthlyCost(plan, itemsUsed)
	}

	c.JSON(http.StatusOK, resp)
}
