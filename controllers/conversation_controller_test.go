package controller

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"leadline/models"
	"leadline/realtime"
)

func newConversationApp(t *testing.T, db *gorm.DB) (*fiber.App, *realtime.Hub) {
	t.Helper()

	hub := realtime.NewHub()
	cc := NewConversationController(db, discardLogger(), hub)

	app := fiber.New()
	app.Get("/conversations", cc.GetConversations)
	app.Get("/conversations/:id", cc.GetConversation)
	app.Get("/conversations/:id/messages", cc.GetMessages)
	app.Put("/conversations/:id/status", cc.SetStatus)
	app.Put("/conversations/:id/ai-summary", cc.MergeAISummary)
	return app, hub
}

func seedConversation(t *testing.T, db *gorm.DB, phone string) models.Conversation {
	t.Helper()

	contact := models.Contact{Phone: phone}
	require.NoError(t, db.Create(&contact).Error)
	conv := models.Conversation{ContactID: contact.ID, Status: models.ConversationOpen, LastMsgAt: time.Now()}
	require.NoError(t, db.Create(&conv).Error)
	return conv
}

func TestGetConversationsOrderedByActivity(t *testing.T) {
	db := setupTestDB(t)
	app, _ := newConversationApp(t, db)

	older := seedConversation(t, db, "+15550000001")
	require.NoError(t, db.Model(&older).Update("last_msg_at", time.Now().Add(-time.Hour)).Error)
	newer := seedConversation(t, db, "+15550000002")

	resp := getJSON(t, app, "/conversations")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Data  []models.Conversation `json:"data"`
		Total int64                 `json:"total"`
	}
	decodeBody(t, resp, &out)
	require.Len(t, out.Data, 2)
	assert.EqualValues(t, 2, out.Total)
	assert.Equal(t, newer.ID, out.Data[0].ID, "most recently active conversation first")
	assert.Equal(t, older.ID, out.Data[1].ID)
}

func TestGetConversationsStatusFilter(t *testing.T) {
	db := setupTestDB(t)
	app, _ := newConversationApp(t, db)

	open := seedConversation(t, db, "+15550000001")
	closed := seedConversation(t, db, "+15550000002")
	require.NoError(t, db.Model(&closed).Update("status", models.ConversationClosed).Error)

	resp := getJSON(t, app, "/conversations?status=open")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Data []models.Conversation `json:"data"`
	}
	decodeBody(t, resp, &out)
	require.Len(t, out.Data, 1)
	assert.Equal(t, open.ID, out.Data[0].ID)

	resp = getJSON(t, app, "/conversations?status=bogus")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetMessagesSortsByTimestamp(t *testing.T) {
	db := setupTestDB(t)
	app, _ := newConversationApp(t, db)

	conv := seedConversation(t, db, "+15550000001")

	// Insert deliberately out of id order with skewed timestamps: the
	// endpoint must sort by created_at, not insertion sequence.
	late := models.Message{ConversationID: conv.ID, Direction: models.DirectionInbound, Body: "later"}
	late.CreatedAt = time.Now()
	require.NoError(t, db.Create(&late).Error)

	early := models.Message{ConversationID: conv.ID, Direction: models.DirectionInbound, Body: "earlier"}
	early.CreatedAt = time.Now().Add(-time.Minute)
	require.NoError(t, db.Create(&early).Error)

	resp := getJSON(t, app, fmt.Sprintf("/conversations/%d/messages", conv.ID))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Data []models.Message `json:"data"`
	}
	decodeBody(t, resp, &out)
	require.Len(t, out.Data, 2)
	assert.Equal(t, "earlier", out.Data[0].Body)
	assert.Equal(t, "later", out.Data[1].Body)
}

func TestSetStatusTransitionsFreely(t *testing.T) {
	db := setupTestDB(t)
	app, hub := newConversationApp(t, db)

	conv := seedConversation(t, db, "+15550000001")

	sub := hub.Subscribe(realtime.TopicConversations)
	defer sub.Close()

	// Any status may move to any other, including closed back to open.
	for _, status := range []string{"qualified", "closed", "open", "closed"} {
		resp := putJSON(t, app, fmt.Sprintf("/conversations/%d/status", conv.ID), fiber.Map{"status": status})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var stored models.Conversation
		require.NoError(t, db.First(&stored, conv.ID).Error)
		assert.Equal(t, status, stored.Status)

		select {
		case ev := <-sub.Events():
			assert.Equal(t, "update", ev.Type)
		case <-time.After(time.Second):
			t.Fatal("status change was not fanned out")
		}
	}

	resp := putJSON(t, app, fmt.Sprintf("/conversations/%d/status", conv.ID), fiber.Map{"status": "archived"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = putJSON(t, app, "/conversations/9999/status", fiber.Map{"status": "closed"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMergeAISummaryPreservesUntouchedKeys(t *testing.T) {
	db := setupTestDB(t)
	app, _ := newConversationApp(t, db)

	conv := seedConversation(t, db, "+15550000001")

	msg := models.Message{
		ConversationID: conv.ID,
		Direction:      models.DirectionInbound,
		Body:           "123 Main St, asking 300k",
		AISummary:      &models.AISummary{Address: "123 Main St", Price: "300000"},
	}
	require.NoError(t, db.Create(&msg).Error)

	resp := putJSON(t, app, fmt.Sprintf("/conversations/%d/ai-summary", conv.ID), fiber.Map{
		"price": "310000",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stored models.Message
	require.NoError(t, db.First(&stored, msg.ID).Error)
	require.NotNil(t, stored.AISummary)
	assert.Equal(t, "123 Main St", stored.AISummary.Address, "keys absent from the partial must survive")
	assert.Equal(t, "310000", stored.AISummary.Price)
}

func TestMergeAISummaryTargetsLatestSummaryMessage(t *testing.T) {
	db := setupTestDB(t)
	app, _ := newConversationApp(t, db)

	conv := seedConversation(t, db, "+15550000001")

	withSummary := models.Message{
		ConversationID: conv.ID,
		Direction:      models.DirectionInbound,
		Body:           "old extraction",
		AISummary:      &models.AISummary{Address: "1 Old Rd"},
	}
	withSummary.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, db.Create(&withSummary).Error)

	newerWithSummary := models.Message{
		ConversationID: conv.ID,
		Direction:      models.DirectionInbound,
		Body:           "new extraction",
		AISummary:      &models.AISummary{Address: "2 New Ave"},
	}
	newerWithSummary.CreatedAt = time.Now().Add(-time.Minute)
	require.NoError(t, db.Create(&newerWithSummary).Error)

	// Newest message of all carries no summary and must be skipped.
	bare := models.Message{ConversationID: conv.ID, Direction: models.DirectionInbound, Body: "plain"}
	bare.CreatedAt = time.Now()
	require.NoError(t, db.Create(&bare).Error)

	resp := putJSON(t, app, fmt.Sprintf("/conversations/%d/ai-summary", conv.ID), fiber.Map{
		"timeline": "30 days",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var target models.Message
	require.NoError(t, db.First(&target, newerWithSummary.ID).Error)
	require.NotNil(t, target.AISummary)
	assert.Equal(t, "2 New Ave", target.AISummary.Address)
	assert.Equal(t, "30 days", target.AISummary.Timeline)

	var untouched models.Message
	require.NoError(t, db.First(&untouched, withSummary.ID).Error)
	assert.Empty(t, untouched.AISummary.Timeline, "older summary message must not be modified")

	var stillBare models.Message
	require.NoError(t, db.First(&stillBare, bare.ID).Error)
	assert.Nil(t, stillBare.AISummary)
}

func TestMergeAISummaryWithoutAnySummary(t *testing.T) {
	db := setupTestDB(t)
	app, _ := newConversationApp(t, db)

	conv := seedConversation(t, db, "+15550000001")
	msg := models.Message{ConversationID: conv.ID, Direction: models.DirectionInbound, Body: "plain"}
	require.NoError(t, db.Create(&msg).Error)

	resp := putJSON(t, app, fmt.Sprintf("/conversations/%d/ai-summary", conv.ID), fiber.Map{
		"price": "100000",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
