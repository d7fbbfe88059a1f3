package worker

import (
	"context"
	"log"
	"time"

	"gorm.io/gorm"

	"leadline/models"
	"leadline/utils"
)

const maxForwardAttempts = 5

// DeliveryWorker retries outbound messages whose forwarding to the
// automation webhook failed. The message row is the record of operator
// intent; the worker's job is to reconcile its delivery_status with reality
// without ever dropping the row.
type DeliveryWorker struct {
	db         *gorm.DB
	automation *utils.AutomationClient
	logger     *log.Logger
	interval   time.Duration
}

func NewDeliveryWorker(db *gorm.DB, automation *utils.AutomationClient, logger *log.Logger) *DeliveryWorker {
	return &DeliveryWorker{
		db:         db,
		automation: automation,
		logger:     logger,
		interval:   time.Minute,
	}
}

func (dw *DeliveryWorker) Start(ctx context.Context) {
	dw.logger.Println("Starting delivery worker...")
	ticker := time.NewTicker(dw.interval)

	for {
		select {
		case <-ticker.C:
			dw.retryFailedDeliveries()
		case <-ctx.Done():
			dw.logger.Println("Stopping delivery worker...")
			ticker.Stop()
			return
		}
	}
}

func (dw *DeliveryWorker) retryFailedDeliveries() {
	var messages []models.Message
	if err := dw.db.Preload("Conversation.Contact").
		Where("direction = ? AND delivery_status = ? AND forward_attempts < ?",
			models.DirectionOutbound, models.DeliveryFailed, maxForwardAttempts).
		Order("created_at ASC").
		Limit(50).
		Find(&messages).Error; err != nil {
		dw.logger.Printf("Failed to fetch undelivered messages: %v", err)
		return
	}

	for _, msg := range messages {
		payload := map[string]interface{}{
			"conversation_id": msg.ConversationID,
			"phone":           msg.Conversation.Contact.Phone,
			"message":         msg.Body,
			"direction":       models.DirectionOutbound,
		}

		status := models.DeliveryConfirmed
		if _, err := dw.automation.Forward(payload); err != nil {
			dw.logger.Printf("Retry failed for message %d (attempt %d): %v",
				msg.ID, msg.ForwardAttempts+1, err)
			status = models.DeliveryFailed
		} else {
			dw.logger.Printf("Delivery confirmed for message %d after retry", msg.ID)
		}

		if err := dw.db.Model(&models.Message{}).Where("id = ?", msg.ID).
			Updates(map[string]interface{}{
				"delivery_status":  status,
				"forward_attempts": msg.ForwardAttempts + 1,
			}).Error; err != nil {
			dw.logger.Printf("Failed to update message %d: %v", msg.ID, err)
		}
	}
}
