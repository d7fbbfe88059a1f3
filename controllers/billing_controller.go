package controller

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/stripe/stripe-go/v76"
	billingportalsession "github.com/stripe/stripe-go/v76/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/customer"
	"gorm.io/gorm"

	"leadline/config"
	"leadline/models"
	"leadline/utils"
)

func InitStripe() {
	stripe.Key = config.AppConfig.StripeSecretKey
}

// CreateCheckoutSession starts a Stripe Checkout for a subscription plan
func CreateCheckoutSession(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req struct {
		PlanID     uint   `json:"plan_id" validate:"required"`
		SuccessURL string `json:"success_url" validate:"required"`
		CancelURL  string `json:"cancel_url" validate:"required"`
	}
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var plan models.Plan
	if err := config.DB.First(&plan, req.PlanID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Plan not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch plan", err)
	}
	if plan.StripePriceID == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Plan is not purchasable", nil)
	}

	customerID, err := getOrCreateStripeCustomer(user)
	if err != nil {
		utils.LogError("stripe_customer", err, map[string]interface{}{"user_id": user.ID})
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to process billing", err)
	}

	params := &stripe.CheckoutSessionParams{
		Customer:   stripe.String(customerID),
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(plan.StripePriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"plan_name": plan.Name,
			},
		},
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		utils.LogError("stripe_checkout", err, map[string]interface{}{"user_id": user.ID, "plan_id": plan.ID})
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create checkout session", err)
	}

	return c.JSON(fiber.Map{
		"success":      true,
		"checkout_url": sess.URL,
	})
}

// CreatePortalSession opens the Stripe customer portal for self-serve
// subscription management
func CreatePortalSession(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	if user.StripeCustomerID == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "No billing account for this user", nil)
	}

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(user.StripeCustomerID),
		ReturnURL: stripe.String(config.AppConfig.BillingPortalReturn),
	}
	sess, err := billingportalsession.New(params)
	if err != nil {
		utils.LogError("stripe_portal", err, map[string]interface{}{"user_id": user.ID})
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create portal session", err)
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"portal_url": sess.URL,
	})
}

// HandleBillingWebhook processes Stripe webhook events. Events are recorded
// by their Stripe id so replays are acknowledged without reprocessing.
func HandleBillingWebhook(c *fiber.Ctx) error {
	event, err := utils.ConstructStripeEvent(c)
	if err != nil {
		if fe, ok := err.(*fiber.Error); ok {
			return utils.ErrorResponse(c, fe.Code, fe.Message, nil)
		}
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid webhook", err)
	}

	record := models.BillingEvent{
		StripeEventID: event.ID,
		EventType:     string(event.Type),
		Payload:       string(event.Data.Raw),
	}
	result := config.DB.Where("stripe_event_id = ?", event.ID).FirstOrCreate(&record)
	if result.Error != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to record event", result.Error)
	}
	if result.RowsAffected == 0 {
		// Already processed
		return c.JSON(fiber.Map{"success": true, "duplicate": true})
	}

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		var sub stripe.Subscription
		if err := sub.UnmarshalJSON(event.Data.Raw); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Malformed subscription payload", err)
		}
		if err := syncSubscription(&sub, &record); err != nil {
			utils.LogError("stripe_subscription_sync", err, map[string]interface{}{"event_id": event.ID})
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to sync subscription", err)
		}
	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := sub.UnmarshalJSON(event.Data.Raw); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Malformed subscription payload", err)
		}
		if err := config.DB.Model(&models.User{}).
			Where("stripe_subscription_id = ?", sub.ID).
			Updates(map[string]interface{}{
				"subscription_status": "canceled",
				"plan_name":           "free",
			}).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to cancel subscription", err)
		}
	default:
		// Recorded but otherwise ignored
	}

	return c.JSON(fiber.Map{"success": true})
}

func syncSubscription(sub *stripe.Subscription, record *models.BillingEvent) error {
	var user models.User
	if err := config.DB.Where("stripe_customer_id = ?", sub.Customer.ID).First(&user).Error; err != nil {
		return err
	}

	updates := map[string]interface{}{
		"stripe_subscription_id": sub.ID,
		"subscription_status":    string(sub.Status),
	}
	if planName := sub.Metadata["plan_name"]; planName != "" {
		updates["plan_name"] = planName
	}
	if err := config.DB.Model(&user).Updates(updates).Error; err != nil {
		return err
	}

	return config.DB.Model(record).Update("user_id", user.ID).Error
}

func getOrCreateStripeCustomer(user *models.User) (string, error) {
	if user.StripeCustomerID != "" {
		return user.StripeCustomerID, nil
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(user.Email),
		Metadata: map[string]string{
			"user_id": utils.FormatUint(user.ID),
		},
	}
	if user.Name != nil {
		params.Name = stripe.String(*user.Name)
	}

	cust, err := customer.New(params)
	if err != nil {
		return "", err
	}

	if err := config.DB.Model(user).Update("stripe_customer_id", cust.ID).Error; err != nil {
		return "", err
	}
	user.StripeCustomerID = cust.ID
	return cust.ID, nil
}
