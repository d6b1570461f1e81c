package billing

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"aibridge-backend/internal/database"
	apperrors "aibridge-backend/internal/errors"
	"aibridge-backend/internal/metrics"
	"aibridge-backend/internal/models"
	"aibridge-backend/pkg/utils"
)

const maxWebhookBodyBytes = 65536

// HandleStripeWebhook verifies and processes Stripe event deliveries.
// Unknown event types are acknowledged so Stripe stops retrying them.
func HandleStripeWebhook(c *gin.Context) {
	secret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	if secret == "" {
		utils.SendErrorResponse(c, http.StatusServiceUnavailable,
			apperrors.New("BILLING_DISABLED", "Webhook secret is not configured"))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("INVALID_PAYLOAD", "Failed to read webhook body"))
		return
	}

	event, err := webhook.ConstructEvent(payload, c.GetHeader("Stripe-Signature"), secret)
	if err != nil {
		log.Printf("⚠️  stripe webhook signature verification failed: %v", err)
		utils.SendErrorResponse(c, http.StatusBadRequest,
			apperrors.New("INVALID_SIGNATURE", "Webhook signature verification failed"))
		return
	}

	metrics.WebhookEvents.WithLabelValues(string(event.Type)).Inc()

	switch event.Type {
	case "payment_intent.succeeded":
		err = handlePaymentIntentSucceeded(event)
	case "payment_intent.payment_failed":
		err = handlePaymentIntentFailed(event)
	case "invoice.payment_succeeded":
		err = handleInvoicePaymentSucceeded(event)
	case "customer.subscription.updated":
		err = handleSubscriptionUpdated(event)
	case "customer.subscription.deleted":
		err = handleSubscriptionDeleted(event)
	default:
		log.Printf("stripe webhook: ignoring event type %s", event.Type)
	}

	if err != nil {
		utils.HandleError(err, "billing.HandleStripeWebhook")
		utils.SendErrorResponse(c, http.StatusInternalServerError,
			apperrors.Wrap(err, "WEBHOOK_FAILED", "Failed to process webhook event"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

func handlePaymentIntentSucceeded(event stripe.Event) error {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return err
	}

	database.DB.Model(&models.PaymentRecord{}).
		Where("stripe_payment_intent_id = ?", intent.ID).
		Update("status", "succeeded")

	// A project payment flips the project paid and live.
	if projectID, ok := metadataUint(intent.Metadata, "project_id"); ok {
		if err := database.DB.Model(&models.Project{}).
			Where("id = ?", projectID).
			Updates(map[string]interface{}{
				"payment_status": models.PaymentPaid,
				"status":         models.ProjectActive,
				"started_at":     time.Now(),
			}).Error; err != nil {
			return err
		}
		log.Printf("✅ payment succeeded for project %d (intent %s)", projectID, intent.ID)
	}
	return nil
}

func handlePaymentIntentFailed(event stripe.Event) error {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return err
	}

	database.DB.Model(&models.PaymentRecord{}).
		Where("stripe_payment_intent_id = ?", intent.ID).
		Update("status", "failed")

	if projectID, ok := metadataUint(intent.Metadata, "project_id"); ok {
		database.DB.Model(&models.Project{}).
			Where("id = ?", projectID).
			Update("payment_status", models.PaymentFailed)
		log.Printf("⚠️  payment failed for project %d (intent %s)", projectID, intent.ID)
	}
	return nil
}

func handleInvoicePaymentSucceeded(event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return err
	}
	if invoice.Subscription == nil {
		return nil
	}

	return database.DB.Model(&models.Subscription{}).
		Where("stripe_subscription_id = ?", invoice.Subscription.ID).
		Updates(map[string]interface{}{
			"status":               "active",
			"current_period_start": time.Unix(invoice.PeriodStart, 0),
			"current_period_end":   time.Unix(invoice.PeriodEnd, 0),
		}).Error
}

func handleSubscriptionUpdated(event stripe.Event) error {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		return err
	}

	return database.DB.Model(&models.Subscription{}).
		Where("stripe_subscription_id = ?", stripeSub.ID).
		Updates(map[string]interface{}{
			"status":               string(stripeSub.Status),
			"cancel_at_period_end": stripeSub.CancelAtPeriodEnd,
			"current_period_start": time.Unix(stripeSub.CurrentPeriodStart, 0),
			"current_period_end":   time.Unix(stripeSub.CurrentPeriodEnd, 0),
		}).Error
}

func handleSubscriptionDeleted(event stripe.Event) error {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		return err
	}

	var sub models.Subscription
	if err := database.DB.Where("stripe_subscription_id = ?", stripeSub.ID).First(&sub).Error; err != nil {
		// Already gone, nothing to roll back.
		return nil
	}

	if err := database.DB.Model(&sub).Update("status", "cancelled").Error; err != nil {
		return err
	}

	// The org falls back to pay-per-project pricing.
	database.DB.Model(&models.Organization{}).
		Where("id = ?", sub.OrganizationID).
		Update("subscription_tier", TierStarter)

	log.Printf("✅ subscription %s cancelled for organization %d", stripeSub.ID, sub.OrganizationID)
	return nil
}

func metadataUint(metadata map[string]string, key string) (uint, bool) {
	raw, ok := metadata[key]
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint(id), true
}
