package controller

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"leadline/models"
	"leadline/realtime"
	"leadline/utils"
)

func newWebhookApp(t *testing.T, db *gorm.DB, automationURL string) (*fiber.App, *realtime.Hub) {
	t.Helper()

	hub := realtime.NewHub()
	automation := utils.NewAutomationClient(automationURL, 2*time.Second)
	wc := NewWebhookController(db, discardLogger(), hub, automation)

	app := fiber.New()
	app.Post("/hooks", wc.HandleHook)
	app.Post("/reply", wc.HandleReply)
	app.Post("/ai-classify", wc.HandleClassify)
	return app, hub
}

func TestHookRejectsMissingFields(t *testing.T) {
	db := setupTestDB(t)
	app, _ := newWebhookApp(t, db, "")

	// Missing body
	resp := postJSON(t, app, "/hooks", fiber.Map{
		"phone":     "+15551234567",
		"direction": "inbound",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Missing phone
	resp = postJSON(t, app, "/hooks", fiber.Map{
		"direction": "inbound",
		"body":      "hello",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Bad direction
	resp = postJSON(t, app, "/hooks", fiber.Map{
		"phone":     "+15551234567",
		"direction": "sideways",
		"body":      "hello",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// A rejected webhook must leave no partial state behind.
	var contacts, conversations, messages int64
	db.Model(&models.Contact{}).Count(&contacts)
	db.Model(&models.Conversation{}).Count(&conversations)
	db.Model(&models.Message{}).Count(&messages)
	assert.Zero(t, contacts)
	assert.Zero(t, conversations)
	assert.Zero(t, messages)
}

func TestHookCreatesContactConversationMessage(t *testing.T) {
	db := setupTestDB(t)
	app, _ := newWebhookApp(t, db, "")

	resp := postJSON(t, app, "/hooks", fiber.Map{
		"phone":     "+15550001111",
		"direction": "inbound",
		"body":      "Hi, interested in selling",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Success        bool `json:"success"`
		ConversationID uint `json:"conversation_id"`
	}
	decodeBody(t, resp, &out)
	assert.True(t, out.Success)
	require.NotZero(t, out.ConversationID)

	var contact models.Contact
	require.NoError(t, db.Where("phone = ?", "+15550001111").First(&contact).Error)

	var conversation models.Conversation
	require.NoError(t, db.First(&conversation, out.ConversationID).Error)
	assert.Equal(t, contact.ID, conversation.ContactID)
	assert.Equal(t, models.ConversationOpen, conversation.Status)

	var messages []models.Message
	require.NoError(t, db.Where("conversation_id = ?", conversation.ID).Find(&messages).Error)
	require.Len(t, messages, 1)
	assert.Equal(t, models.DirectionInbound, messages[0].Direction)
	assert.Equal(t, "Hi, interested in selling", messages[0].Body)
}

func TestHookContactUpsertIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	app, _ := newWebhookApp(t, db, "")

	// Same number in three formattings
	for _, phone := range []string{"+15551234567", "15551234567", "1 (555) 123-4567"} {
		resp := postJSON(t, app, "/hooks", fiber.Map{
			"phone":     phone,
			"direction": "inbound",
			"body":      "hello from " + phone,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	var contacts int64
	db.Model(&models.Contact{}).Count(&contacts)
	assert.EqualValues(t, 1, contacts, "re-ingesting the same phone must never create a duplicate contact")
}

func TestHookAtMostOneOpenConversation(t *testing.T) {
	db := setupTestDB(t)
	app, _ := newWebhookApp(t, db, "")

	var firstConvID uint
	for i, body := range []string{"first", "second", "third"} {
		resp := postJSON(t, app, "/hooks", fiber.Map{
			"phone":     "+15551234567",
			"direction": "inbound",
			"body":      body,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var out struct {
			ConversationID uint `json:"conversation_id"`
		}
		decodeBody(t, resp, &out)
		if i == 0 {
			firstConvID = out.ConversationID
		} else {
			assert.Equal(t, firstConvID, out.ConversationID, "messages while open must land in the same conversation")
		}
	}

	var open int64
	db.Model(&models.Conversation{}).Where("status = ?", models.ConversationOpen).Count(&open)
	assert.EqualValues(t, 1, open)

	// Closing the conversation allows a new one to open for the contact.
	require.NoError(t, db.Model(&models.Conversation{}).Where("id = ?", firstConvID).
		Update("status", models.ConversationClosed).Error)

	resp := postJSON(t, app, "/hooks", fiber.Map{
		"phone":     "+15551234567",
		"direction": "inbound",
		"body":      "hello again",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		ConversationID uint `json:"conversation_id"`
	}
	decodeBody(t, resp, &out)
	assert.NotEqual(t, firstConvID, out.ConversationID)
}

func TestOpenConversationUniqueIndexEnforced(t *testing.T) {
	db := setupTestDB(t)

	contact := models.Contact{Phone: "+15557770000"}
	require.NoError(t, db.Create(&contact).Error)

	first := models.Conversation{ContactID: contact.ID, Status: models.ConversationOpen, LastMsgAt: time.Now()}
	require.NoError(t, db.Create(&first).Error)

	// A raw second open conversation violates the partial unique index.
	dup := models.Conversation{ContactID: contact.ID, Status: models.ConversationOpen, LastMsgAt: time.Now()}
	err := db.Create(&dup).Error
	require.Error(t, err)
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	// A closed one for the same contact is fine.
	closed := models.Conversation{ContactID: contact.ID, Status: models.ConversationClosed, LastMsgAt: time.Now()}
	require.NoError(t, db.Create(&closed).Error)
}

func TestFindOrOpenConversationReusesWinner(t *testing.T) {
	db := setupTestDB(t)

	contact := models.Contact{Phone: "+15558881111"}
	require.NoError(t, db.Create(&contact).Error)

	a, err := findOrOpenConversation(db, contact.ID, time.Now())
	require.NoError(t, err)
	b, err := findOrOpenConversation(db, contact.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
}

func TestHookMessageOrdering(t *testing.T) {
	db := setupTestDB(t)
	app, _ := newWebhookApp(t, db, "")

	bodies := []string{"one", "two", "three", "four"}
	for _, body := range bodies {
		resp := postJSON(t, app, "/hooks", fiber.Map{
			"phone":     "+15551230000",
			"direction": "inbound",
			"body":      body,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		time.Sleep(2 * time.Millisecond)
	}

	var messages []models.Message
	require.NoError(t, db.Order("created_at ASC").Find(&messages).Error)
	require.Len(t, messages, len(bodies))
	for i, body := range bodies {
		assert.Equal(t, body, messages[i].Body, "timestamp sort must reproduce send order for sequential sends")
	}
}

func TestHookDuplicateTwilioSIDIsReplaySafe(t *testing.T) {
	db := setupTestDB(t)
	app, _ := newWebhookApp(t, db, "")

	payload := fiber.Map{
		"phone":      "+15551112222",
		"direction":  "inbound",
		"body":       "hello",
		"twilio_sid": "SM123abc",
	}

	resp := postJSON(t, app, "/hooks", payload)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var first struct {
		ConversationID uint `json:"conversation_id"`
	}
	decodeBody(t, resp, &first)

	resp = postJSON(t, app, "/hooks", payload)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var second struct {
		ConversationID uint `json:"conversation_id"`
	}
	decodeBody(t, resp, &second)

	assert.Equal(t, first.ConversationID, second.ConversationID)

	var messages int64
	db.Model(&models.Message{}).Count(&messages)
	assert.EqualValues(t, 1, messages, "relay retries must not duplicate the message")
}

func TestHookStoresAISummaryAndClassifies(t *testing.T) {
	db := setupTestDB(t)
	app, _ := newWebhookApp(t, db, "")

	resp := postJSON(t, app, "/hooks", fiber.Map{
		"phone":     "+15553334444",
		"direction": "inbound",
		"body":      "123 Main St, want to sell fast",
		"ai_summary": fiber.Map{
			"address":  "123 Main St",
			"timeline": "asap",
		},
		"tag":    "hot",
		"reason": "motivated seller",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var message models.Message
	require.NoError(t, db.Where("ai_summary IS NOT NULL").First(&message).Error)
	require.NotNil(t, message.AISummary)
	assert.Equal(t, "123 Main St", message.AISummary.Address)
	assert.Equal(t, "asap", message.AISummary.Timeline)

	var lead models.Lead
	require.NoError(t, db.Where("phone = ?", "+15553334444").First(&lead).Error)
	assert.Equal(t, "hot", lead.AITag)
	assert.Equal(t, "motivated seller", lead.AIClassificationReason)
	assert.Equal(t, models.LeadNoResponse, lead.Status, "a lead created by classification defaults to No Response")
	require.NotNil(t, lead.LastClassificationAt)
}

func TestHookBroadcastsToSubscribers(t *testing.T) {
	db := setupTestDB(t)
	app, hub := newWebhookApp(t, db, "")

	convSub := hub.Subscribe(realtime.TopicConversations)
	defer convSub.Close()

	resp := postJSON(t, app, "/hooks", fiber.Map{
		"phone":     "+15559990000",
		"direction": "inbound",
		"body":      "hello",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case ev := <-convSub.Events():
		assert.Equal(t, realtime.TopicConversations, ev.Topic)
	case <-time.After(time.Second):
		t.Fatal("conversation change was not fanned out")
	}
}

func TestReplyValidatesAndPersists(t *testing.T) {
	db := setupTestDB(t)

	// Automation endpoint that accepts everything.
	received := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		select {
		case received <- buf:
		default:
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	app, _ := newWebhookApp(t, db, srv.URL)

	// Missing primaries
	resp := postJSON(t, app, "/reply", fiber.Map{"phone": "+15550001111"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown conversation
	resp = postJSON(t, app, "/reply", fiber.Map{
		"conversation_id": 999,
		"phone":           "+15550001111",
		"message":         "hi",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Seed a conversation via the hook
	resp = postJSON(t, app, "/hooks", fiber.Map{
		"phone":     "+15550001111",
		"direction": "inbound",
		"body":      "Hi, interested in selling",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var hook struct {
		ConversationID uint `json:"conversation_id"`
	}
	decodeBody(t, resp, &hook)

	var before models.Conversation
	require.NoError(t, db.First(&before, hook.ConversationID).Error)
	time.Sleep(5 * time.Millisecond)

	resp = postJSON(t, app, "/reply", fiber.Map{
		"conversation_id": hook.ConversationID,
		"phone":           "+15550001111",
		"message":         "Great, tell me more",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var reply struct {
		Success        bool   `json:"success"`
		MessageID      uint   `json:"message_id"`
		DeliveryStatus string `json:"delivery_status"`
	}
	decodeBody(t, resp, &reply)
	assert.True(t, reply.Success)
	assert.Equal(t, models.DeliveryConfirmed, reply.DeliveryStatus)

	// Outbound message appended, conversation touched, thread now 2 long.
	var messages []models.Message
	require.NoError(t, db.Where("conversation_id = ?", hook.ConversationID).
		Order("created_at ASC").Find(&messages).Error)
	require.Len(t, messages, 2)
	assert.Equal(t, models.DirectionOutbound, messages[1].Direction)

	var after models.Conversation
	require.NoError(t, db.First(&after, hook.ConversationID).Error)
	assert.True(t, after.LastMsgAt.After(before.LastMsgAt), "last_msg_at must advance on reply")

	select {
	case body := <-received:
		assert.Contains(t, string(body), "Great, tell me more")
	case <-time.After(time.Second):
		t.Fatal("reply was not forwarded to the automation webhook")
	}
}

func TestReplyKeepsMessageWhenForwardingFails(t *testing.T) {
	db := setupTestDB(t)
	// Automation URL points nowhere: every forward fails.
	app, _ := newWebhookApp(t, db, "http://127.0.0.1:1")

	resp := postJSON(t, app, "/hooks", fiber.Map{
		"phone":     "+15550002222",
		"direction": "inbound",
		"body":      "hello",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var hook struct {
		ConversationID uint `json:"conversation_id"`
	}
	decodeBody(t, resp, &hook)

	resp = postJSON(t, app, "/reply", fiber.Map{
		"conversation_id": hook.ConversationID,
		"phone":           "+15550002222",
		"message":         "are you there?",
	})
	// Operator intent is preserved even though delivery is unconfirmed.
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var reply struct {
		MessageID      uint   `json:"message_id"`
		DeliveryStatus string `json:"delivery_status"`
	}
	decodeBody(t, resp, &reply)
	assert.Equal(t, models.DeliveryFailed, reply.DeliveryStatus)

	var message models.Message
	require.NoError(t, db.First(&message, reply.MessageID).Error)
	assert.Equal(t, "are you there?", message.Body)
	assert.Equal(t, models.DeliveryFailed, message.DeliveryStatus)
	assert.Equal(t, 1, message.ForwardAttempts)
}

func TestClassifyRelaysVerbatim(t *testing.T) {
	db := setupTestDB(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"tag":"warm","confidence":0.82}`))
	}))
	defer srv.Close()

	app, _ := newWebhookApp(t, db, srv.URL)

	resp := postJSON(t, app, "/ai-classify", fiber.Map{
		"phone":     "+15551234567",
		"direction": "inbound",
		"body":      "maybe next year",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]interface{}
	decodeBody(t, resp, &out)
	assert.Equal(t, "warm", out["tag"])
	assert.EqualValues(t, 0.82, out["confidence"])
}

func TestClassifyRelayFailure(t *testing.T) {
	db := setupTestDB(t)
	app, _ := newWebhookApp(t, db, "http://127.0.0.1:1")

	// Missing fields first
	resp := postJSON(t, app, "/ai-classify", fiber.Map{"phone": "+15551234567"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, app, "/ai-classify", fiber.Map{
		"phone":     "+15551234567",
		"direction": "inbound",
		"body":      "maybe next year",
	})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}
