package controller

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"leadline/models"
	"leadline/realtime"
	"leadline/utils"
)

// WebhookController serves the public intake surface: message ingestion from
// the SMS relay (/hooks), operator replies (/reply) and the synchronous
// classification relay (/ai-classify).
type WebhookController struct {
	DB         *gorm.DB
	Logger     *log.Logger
	Hub        *realtime.Hub
	Automation *utils.AutomationClient
}

func NewWebhookController(db *gorm.DB, logger *log.Logger, hub *realtime.Hub, automation *utils.AutomationClient) *WebhookController {
	return &WebhookController{
		DB:         db,
		Logger:     logger,
		Hub:        hub,
		Automation: automation,
	}
}

type hookInput struct {
	Phone     string            `json:"phone" validate:"required"`
	Direction string            `json:"direction" validate:"required,oneof=inbound outbound"`
	Body      string            `json:"body" validate:"required"`
	AISummary *models.AISummary `json:"ai_summary"`
	TwilioSID string            `json:"twilio_sid"`
	Tag       string            `json:"tag"`
	Reason    string            `json:"reason"`
}

// HandleHook processes one inbound or outbound message event from the
// automation webhook: contact upsert, conversation find-or-open, message
// insert and conversation touch, all in one transaction so a storage failure
// leaves no partial state behind. An optional tag triggers the lead
// classification sink after commit, best effort.
func (wc *WebhookController) HandleHook(c *fiber.Ctx) error {
	var input hookInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	phone := utils.NormalizePhone(input.Phone)
	if !utils.IsValidPhone(phone) {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "phone must be a valid phone number", nil)
	}

	conversation, message, err := wc.ingestMessage(phone, input)
	if err != nil {
		utils.LogError("message_ingestion", err, map[string]interface{}{
			"phone":     phone,
			"direction": input.Direction,
		})
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to ingest message", err)
	}

	// message is nil when the twilio_sid was already ingested; the webhook
	// is replay-safe and simply acknowledges again.
	if message != nil {
		wc.broadcastMessage(conversation, message)

		if input.Tag != "" {
			if err := applyClassification(wc.DB, phone, input.Tag, input.Reason); err != nil {
				// Classification must not fail message ingestion.
				utils.LogError("lead_classification", err, map[string]interface{}{
					"phone": phone,
					"tag":   input.Tag,
				})
			}
		}
	}

	return c.JSON(fiber.Map{
		"success":         true,
		"conversation_id": conversation.ID,
	})
}

// ingestMessage runs the write chain for one message event. The second
// return value is nil when the event was a duplicate delivery (same
// twilio_sid) and nothing was written.
func (wc *WebhookController) ingestMessage(phone string, input hookInput) (*models.Conversation, *models.Message, error) {
	var conversation models.Conversation
	var message *models.Message

	err := wc.DB.Transaction(func(tx *gorm.DB) error {
		// Relay retries re-deliver the same provider message id; treat a
		// known twilio_sid as already ingested.
		if input.TwilioSID != "" {
			var existing models.Message
			err := tx.Where("twilio_sid = ?", input.TwilioSID).First(&existing).Error
			if err == nil {
				return tx.First(&conversation, existing.ConversationID).Error
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		contact, err := upsertContact(tx, phone)
		if err != nil {
			return err
		}

		now := time.Now()
		conv, err := findOrOpenConversation(tx, contact.ID, now)
		if err != nil {
			return err
		}
		conversation = *conv

		msg := models.Message{
			ConversationID: conversation.ID,
			Direction:      input.Direction,
			Body:           input.Body,
			AISummary:      input.AISummary,
			TwilioSID:      input.TwilioSID,
		}
		msg.CreatedAt = now
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}

		// Touch the parent conversation with the message timestamp.
		if err := tx.Model(&models.Conversation{}).Where("id = ?", conversation.ID).
			Update("last_msg_at", now).Error; err != nil {
			return err
		}
		conversation.LastMsgAt = now

		message = &msg
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &conversation, message, nil
}

// upsertContact returns the contact for a normalized phone number, creating
// it if unseen. The insert uses ON CONFLICT DO NOTHING so a concurrent
// insert of the same number cannot abort the enclosing transaction; the
// loser just reads the winner's row.
func upsertContact(tx *gorm.DB, phone string) (*models.Contact, error) {
	contact := models.Contact{Phone: phone}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "phone"}},
		DoNothing: true,
	}).Create(&contact).Error
	if err != nil {
		return nil, err
	}

	// ID stays zero when the row already existed
	if contact.ID == 0 {
		if err := tx.Where("phone = ?", phone).First(&contact).Error; err != nil {
			return nil, err
		}
	}
	return &contact, nil
}

// findOrOpenConversation returns the contact's open conversation, opening one
// if none exists. The partial unique index on (contact_id) WHERE status='open'
// closes the race between two near-simultaneous messages for the same
// contact: the second insert hits DO NOTHING and re-reads the first one's row.
func findOrOpenConversation(tx *gorm.DB, contactID uint, now time.Time) (*models.Conversation, error) {
	var conv models.Conversation
	err := tx.Where("contact_id = ? AND status = ?", contactID, models.ConversationOpen).
		First(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	conv = models.Conversation{
		ContactID: contactID,
		Status:    models.ConversationOpen,
		LastMsgAt: now,
	}
	err = tx.Clauses(clause.OnConflict{
		Columns:     []clause.Column{{Name: "contact_id"}},
		TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Eq{Column: "status", Value: models.ConversationOpen}}},
		DoNothing:   true,
	}).Create(&conv).Error
	if err != nil {
		return nil, err
	}

	if conv.ID == 0 {
		if err := tx.Where("contact_id = ? AND status = ?", contactID, models.ConversationOpen).
			First(&conv).Error; err != nil {
			return nil, err
		}
	}
	return &conv, nil
}

func (wc *WebhookController) broadcastMessage(conversation *models.Conversation, message *models.Message) {
	wc.Hub.Publish(realtime.Event{
		Topic: realtime.TopicConversations,
		Type:  "update",
		Data:  conversation,
	})
	wc.Hub.Publish(realtime.Event{
		Topic: realtime.TopicMessages(conversation.ID),
		Type:  "insert",
		Data:  message,
	})
}

type replyInput struct {
	ConversationID uint   `json:"conversation_id" validate:"required"`
	Phone          string `json:"phone" validate:"required"`
	Message        string `json:"message" validate:"required"`
	UserID         uint   `json:"user_id"`
}

// HandleReply persists an operator reply and forwards it to the automation
// webhook for actual SMS delivery. The local row is the record of operator
// intent: it survives a forwarding failure, which only downgrades
// delivery_status to failed for the delivery worker to retry.
func (wc *WebhookController) HandleReply(c *fiber.Ctx) error {
	var input replyInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	phone := utils.NormalizePhone(input.Phone)
	if !utils.IsValidPhone(phone) {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "phone must be a valid phone number", nil)
	}

	var conversation models.Conversation
	if err := wc.DB.First(&conversation, input.ConversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Conversation not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch conversation", err)
	}

	now := time.Now()
	message := models.Message{
		ConversationID: conversation.ID,
		Direction:      models.DirectionOutbound,
		Body:           input.Message,
		DeliveryStatus: models.DeliveryPending,
	}
	message.CreatedAt = now

	err := wc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&message).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).Where("id = ?", conversation.ID).
			Update("last_msg_at", now).Error
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to store reply", err)
	}
	conversation.LastMsgAt = now

	// Forward for actual delivery. Failure is logged, never propagated: the
	// operator's message is already persisted and the worker retries later.
	payload := fiber.Map{
		"conversation_id": conversation.ID,
		"phone":           phone,
		"message":         input.Message,
		"direction":       models.DirectionOutbound,
		"user_id":         input.UserID,
	}
	if _, err := wc.Automation.Forward(payload); err != nil {
		utils.LogError("reply_forwarding", err, map[string]interface{}{
			"conversation_id": conversation.ID,
			"message_id":      message.ID,
		})
		wc.markDelivery(&message, models.DeliveryFailed)
	} else {
		wc.markDelivery(&message, models.DeliveryConfirmed)
	}

	wc.broadcastMessage(&conversation, &message)

	return c.JSON(fiber.Map{
		"success":         true,
		"message_id":      message.ID,
		"delivery_status": message.DeliveryStatus,
	})
}

func (wc *WebhookController) markDelivery(message *models.Message, status string) {
	message.DeliveryStatus = status
	updates := map[string]interface{}{
		"delivery_status":  status,
		"forward_attempts": gorm.Expr("forward_attempts + 1"),
	}
	if err := wc.DB.Model(&models.Message{}).Where("id = ?", message.ID).
		Updates(updates).Error; err != nil {
		wc.Logger.Printf("Failed to update delivery status for message %d: %v", message.ID, err)
	}
}

type classifyInput struct {
	Phone     string `json:"phone" validate:"required"`
	Direction string `json:"direction" validate:"required"`
	Body      string `json:"body" validate:"required"`
}

// HandleClassify relays a message to the automation endpoint for AI
// classification and echoes its JSON response verbatim. Here the response IS
// the value, so relay failures propagate as 502 instead of being swallowed.
func (wc *WebhookController) HandleClassify(c *fiber.Ctx) error {
	var input classifyInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	resp, err := wc.Automation.Forward(fiber.Map{
		"phone":     utils.NormalizePhone(input.Phone),
		"direction": input.Direction,
		"body":      input.Body,
	})
	if err != nil {
		utils.LogError("classification_relay", err, map[string]interface{}{
			"phone": input.Phone,
		})
		return utils.ErrorResponse(c, fiber.StatusBadGateway, "Classification service unavailable", err)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(resp)
}
