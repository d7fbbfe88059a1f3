package controller

import (
	"errors"
	"log"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"leadline/models"
	"leadline/realtime"
	"leadline/utils"
)

type ConversationController struct {
	DB     *gorm.DB
	Logger *log.Logger
	Hub    *realtime.Hub
}

func NewConversationController(db *gorm.DB, logger *log.Logger, hub *realtime.Hub) *ConversationController {
	return &ConversationController{
		DB:     db,
		Logger: logger,
		Hub:    hub,
	}
}

// GetConversations returns the conversation list, most recently active
// first, which is the order the dashboard inbox renders in.
func (cc *ConversationController) GetConversations(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit > 100 {
		limit = 100
	}

	query := cc.DB.Model(&models.Conversation{}).Preload("Contact")
	if status := c.Query("status"); status != "" {
		if !models.IsValidConversationStatus(status) {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid status filter", nil)
		}
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count conversations", err)
	}

	var conversations []models.Conversation
	if err := query.Order("last_msg_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&conversations).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch conversations", err)
	}

	return c.JSON(utils.PaginatedResponse{
		Data:  conversations,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// GetConversation returns one conversation with its contact
func (cc *ConversationController) GetConversation(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))

	var conversation models.Conversation
	if err := cc.DB.Preload("Contact").First(&conversation, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Conversation not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch conversation", err)
	}

	return c.JSON(utils.SuccessResponse(conversation))
}

// GetMessages returns the conversation's thread ordered by creation
// timestamp ascending. Timestamp order is the contract: insertion order is
// not trusted under clock skew, so clients always receive and render by
// created_at.
func (cc *ConversationController) GetMessages(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))

	var conversation models.Conversation
	if err := cc.DB.First(&conversation, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Conversation not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch conversation", err)
	}

	var messages []models.Message
	if err := cc.DB.Where("conversation_id = ?", id).
		Order("created_at ASC").
		Find(&messages).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch messages", err)
	}

	return c.JSON(utils.SuccessResponse(messages))
}

// SetStatus moves a conversation to a new lifecycle status. Any status may
// transition to any other: the lifecycle is operator-driven and deliberately
// unrestricted.
func (cc *ConversationController) SetStatus(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))

	var input struct {
		Status string `json:"status" validate:"required,oneof=open qualified closed"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var conversation models.Conversation
	if err := cc.DB.First(&conversation, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Conversation not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch conversation", err)
	}

	if err := cc.DB.Model(&conversation).Update("status", input.Status).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update status", err)
	}

	cc.Hub.Publish(realtime.Event{
		Topic: realtime.TopicConversations,
		Type:  "update",
		Data:  &conversation,
	})

	return c.JSON(utils.SuccessResponse(conversation))
}

// MergeAISummary shallow-merges a partial summary onto the most recent
// message in the conversation that already carries one. This is how operator
// edits of lead-detail fields land back on the message the extraction came
// from; fields absent from the partial are preserved.
func (cc *ConversationController) MergeAISummary(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))

	var partial models.AISummary
	if err := c.BodyParser(&partial); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	var message models.Message
	err := cc.DB.Where("conversation_id = ? AND ai_summary IS NOT NULL", id).
		Order("created_at DESC").
		First(&message).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "No message with an AI summary in this conversation", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch message", err)
	}

	message.AISummary.Merge(partial)
	if err := cc.DB.Model(&message).Update("ai_summary", message.AISummary).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update summary", err)
	}

	cc.Hub.Publish(realtime.Event{
		Topic: realtime.TopicMessages(message.ConversationID),
		Type:  "update",
		Data:  &message,
	})

	return c.JSON(utils.SuccessResponse(message))
}
