package billing

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/customer"
	"github.com/stripe/stripe-go/v79/paymentintent"
	"github.com/stripe/stripe-go/v79/paymentmethod"
	"github.com/stripe/stripe-go/v79/subscription"

	"aibridge-backend/internal/cache"
	"aibridge-backend/internal/database"
	"aibridge-backend/internal/models"
)

const customerCacheTTL = 86400 * time.Second

// InitStripe configures the Stripe SDK. Billing endpoints report 503
// when the key is absent.
func InitStripe() {
	key := os.Getenv("STRIPE_SECRET_KEY")
	if key == "" {
		log.Println("⚠️  STRIPE_SECRET_KEY not set, billing disabled")
		return
	}
	stripe.Key = key
	log.Println("✅ Stripe initialized")
}

// Enabled reports whether Stripe is configured.
func Enabled() bool {
	return stripe.Key != ""
}

func customerCacheKey(userID uint) string {
	return fmt.Sprintf("stripe_customer_%d", userID)
}

// getOrCreateCustomer resolves the Stripe customer for a user, creating
// one lazily. The ID is cached for a day to spare Stripe lookups.
func getOrCreateCustomer(user *models.User) (string, error) {
	if cached, err := cache.Default.Get(customerCacheKey(user.ID)); err == nil && len(cached) > 0 {
		return string(cached), nil
	}

	if user.StripeCustomerID != "" {
		_ = cache.Default.Set(customerCacheKey(user.ID), []byte(user.StripeCustomerID), customerCacheTTL)
		return user.StripeCustomerID, nil
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(user.Email),
		Name:  stripe.String(user.FullName()),
	}
	params.AddMetadata("user_id", strconv.FormatUint(uint64(user.ID), 10))

	cust, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}

	if err := database.DB.Model(user).Update("stripe_customer_id", cust.ID).Error; err != nil {
		log.Printf("⚠️  failed to persist stripe customer for user %d: %v", user.ID, err)
	}
	_ = cache.Default.Set(customerCacheKey(user.ID), []byte(cust.ID), customerCacheTTL)

	return cust.ID, nil
}

// createPaymentIntent creates a Stripe payment intent with an
// idempotency key so client retries never double charge.
func createPaymentIntent(customerID string, amountCents int64, description, idempotencyKey string, metadata map[string]string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(string(stripe.CurrencyUSD)),
		Customer: stripe.String(customerID),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if description != "" {
		params.Description = stripe.String(description)
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}
	return paymentintent.New(params)
}

// createSubscription subscribes a customer to a plan using inline price
// data tied to the canonical plan definition.
func createSubscription(customerID string, plan models.Plan) (*stripe.Subscription, error) {
	item := &stripe.SubscriptionItemsParams{}
	if plan.StripePriceID != "" {
		item.Price = stripe.String(plan.StripePriceID)
	} else {
		item.PriceData = &stripe.SubscriptionItemPriceDataParams{
			Currency:   stripe.String(string(stripe.CurrencyUSD)),
			UnitAmount: stripe.Int64(plan.PriceMonthly),
			Product:    stripe.String(os.Getenv("STRIPE_PRODUCT_ID")),
			Recurring: &stripe.SubscriptionItemPriceDataRecurringParams{
				Interval: stripe.String(string(stripe.PriceRecurringIntervalMonth)),
			},
		}
	}

	params := &stripe.SubscriptionParams{
		Customer:        stripe.String(customerID),
		Items:           []*stripe.SubscriptionItemsParams{item},
		PaymentBehavior: stripe.String("default_incomplete"),
	}
	params.AddExpand("latest_invoice.payment_intent")

	return subscription.New(params)
}

// cancelSubscription cancels at period end by default; immediate when
// requested.
func cancelSubscription(stripeSubID string, immediate bool) (*stripe.Subscription, error) {
	if immediate {
		return subscription.Cancel(stripeSubID, nil)
	}
	return subscription.Update(stripeSubID, &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	})
}

// listPaymentMethods returns the customer's saved cards.
func listPaymentMethods(customerID string) ([]*stripe.PaymentMethod, error) {
	params := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerID),
		Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
	}
	iter := paymentmethod.List(params)
	var methods []*stripe.PaymentMethod
	for iter.Next() {
		methods = append(methods, iter.PaymentMethod())
	}
	return methods, iter.Err()
}
