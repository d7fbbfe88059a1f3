package controller

import (
	"encoding/csv"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"leadline/models"
	"leadline/utils"
)

type LeadController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewLeadController(db *gorm.DB, logger *log.Logger) *LeadController {
	return &LeadController{
		DB:     db,
		Logger: logger,
	}
}

// applyClassification is the lead classification sink: upsert-by-phone,
// last write wins on tag, reason and timestamp. A lead created here (phone
// previously unseen) starts as "No Response" until an operator or the
// classifier moves it. Shared by the webhook intake path and the API.
func applyClassification(db *gorm.DB, phone, tag, reason string) error {
	now := time.Now()

	lead := models.Lead{
		Phone:                  phone,
		Status:                 models.LeadNoResponse,
		AITag:                  tag,
		AIClassificationReason: reason,
		LastClassificationAt:   &now,
		Source:                 "webhook",
	}
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "phone"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"ai_tag":                   tag,
			"ai_classification_reason": reason,
			"last_classification_at":   now,
		}),
	}).Create(&lead).Error; err != nil {
		return err
	}

	// Re-read so the alert carries the lead's real status, not the default.
	if err := db.Where("phone = ?", phone).First(&lead).Error; err != nil {
		return err
	}

	// Operator notification is best effort, same policy as the sink itself.
	if err := utils.SendLeadAlertEmail(&lead); err != nil {
		utils.LogError("lead_alert_email", err, map[string]interface{}{
			"phone": phone,
			"tag":   tag,
		})
	}
	return nil
}

// ClassifyLead applies a classification event posted directly to the API
// (the automation tool normally routes these through /hooks with a tag).
func (lc *LeadController) ClassifyLead(c *fiber.Ctx) error {
	var input struct {
		Phone  string `json:"phone" validate:"required"`
		Tag    string `json:"tag" validate:"required"`
		Reason string `json:"reason"`
	}
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

	if err := applyClassification(lc.DB, phone, input.Tag, input.Reason); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to apply classification", err)
	}

	var lead models.Lead
	if err := lc.DB.Where("phone = ?", phone).First(&lead).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch lead", err)
	}
	return c.JSON(utils.SuccessResponse(lead))
}

type leadInput struct {
	Phone   string `json:"phone" validate:"required"`
	Name    string `json:"name" validate:"omitempty,max=200"`
	Email   string `json:"email"`
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Status  string `json:"status" validate:"omitempty,oneof=Qualified Unqualified 'No Response' Blocked"`
}

// CreateLead creates a new lead with validation
func (lc *LeadController) CreateLead(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input leadInput
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
	if input.Email != "" {
		if err := checkmail.ValidateFormat(input.Email); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "email must be a valid email address", err)
		}
	}

	var existing models.Lead
	if err := lc.DB.Where("phone = ?", phone).First(&existing).Error; err == nil {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Lead with this phone already exists", nil)
	}

	status := input.Status
	if status == "" {
		status = models.LeadNoResponse
	}

	lead := models.Lead{
		Phone:   phone,
		Name:    input.Name,
		Email:   input.Email,
		Address: input.Address,
		City:    input.City,
		State:   input.State,
		Zip:     input.Zip,
		Status:  status,
		Source:  "manual",
		UserID:  &user.ID,
	}
	if err := lc.DB.Create(&lead).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create lead", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(lead))
}

// GetLeads returns paginated list of leads with filters
func (lc *LeadController) GetLeads(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit > 100 {
		limit = 100
	}

	query := lc.DB.Model(&models.Lead{})
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if tag := c.Query("ai_tag"); tag != "" {
		query = query.Where("ai_tag = ?", tag)
	}
	if search := c.Query("search"); search != "" {
		query = query.Where("name LIKE ? OR phone LIKE ?", "%"+search+"%", "%"+search+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count leads", err)
	}

	var leads []models.Lead
	if err := query.Order("created_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&leads).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch leads", err)
	}

	return c.JSON(utils.PaginatedResponse{
		Data:  leads,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// GetLead returns a single lead
func (lc *LeadController) GetLead(c *fiber.Ctx) error {
	var lead models.Lead
	if err := lc.DB.First(&lead, utils.ParseUint(c.Params("id"))).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch lead", err)
	}
	return c.JSON(utils.SuccessResponse(lead))
}

// UpdateLead updates operator-editable lead fields. Classification fields
// belong to the sink and are not writable here.
func (lc *LeadController) UpdateLead(c *fiber.Ctx) error {
	var lead models.Lead
	if err := lc.DB.First(&lead, utils.ParseUint(c.Params("id"))).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch lead", err)
	}

	var input struct {
		Name    *string `json:"name"`
		Email   *string `json:"email"`
		Address *string `json:"address"`
		City    *string `json:"city"`
		State   *string `json:"state"`
		Zip     *string `json:"zip"`
		Status  *string `json:"status"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	updates := map[string]interface{}{}
	if input.Name != nil {
		updates["name"] = *input.Name
	}
	if input.Email != nil {
		if *input.Email != "" {
			if err := checkmail.ValidateFormat(*input.Email); err != nil {
				return utils.ErrorResponse(c, fiber.StatusBadRequest, "email must be a valid email address", err)
			}
		}
		updates["email"] = *input.Email
	}
	if input.Address != nil {
		updates["address"] = *input.Address
	}
	if input.City != nil {
		updates["city"] = *input.City
	}
	if input.State != nil {
		updates["state"] = *input.State
	}
	if input.Zip != nil {
		updates["zip"] = *input.Zip
	}
	if input.Status != nil {
		if !models.IsValidLeadStatus(*input.Status) {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid lead status", nil)
		}
		updates["status"] = *input.Status
	}

	if len(updates) > 0 {
		if err := lc.DB.Model(&lead).Updates(updates).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update lead", err)
		}
	}

	return c.JSON(utils.SuccessResponse(lead))
}

// DeleteLead soft-deletes a lead
func (lc *LeadController) DeleteLead(c *fiber.Ctx) error {
	result := lc.DB.Delete(&models.Lead{}, utils.ParseUint(c.Params("id")))
	if result.Error != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete lead", result.Error)
	}
	if result.RowsAffected == 0 {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}
	return c.JSON(fiber.Map{"success": true})
}

// ImportLeads imports leads from an uploaded CSV. Recognized header columns:
// name, phone, email, address, city, state, zip, status. Rows without a
// usable phone number and rows whose phone already exists are skipped, and
// the response reports how many were imported versus skipped.
func (lc *LeadController) ImportLeads(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	file, err := c.FormFile("file")
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "File upload error", err)
	}

	// Check file size (max 5MB)
	if file.Size > 5<<20 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "File too large (max 5MB)", nil)
	}

	src, err := file.Open()
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to open file", err)
	}
	defer src.Close()

	reader := csv.NewReader(src)
	records, err := reader.ReadAll()
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Failed to parse CSV file", err)
	}

	if len(records) < 2 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "CSV file must have at least a header and one row", nil)
	}

	header := records[0]
	rows := records[1:]

	imported := 0
	skipped := 0

	for _, row := range rows {
		if len(row) != len(header) {
			skipped++
			continue
		}

		leadData := make(map[string]string)
		for i, col := range header {
			leadData[col] = row[i]
		}

		phone := utils.NormalizePhone(leadData["phone"])
		if !utils.IsValidPhone(phone) {
			skipped++
			continue
		}
		if email := leadData["email"]; email != "" {
			if err := checkmail.ValidateFormat(email); err != nil {
				skipped++
				continue
			}
		}

		status := leadData["status"]
		if !models.IsValidLeadStatus(status) {
			status = models.LeadNoResponse
		}

		lead := models.Lead{
			Phone:   phone,
			Name:    leadData["name"],
			Email:   leadData["email"],
			Address: leadData["address"],
			City:    leadData["city"],
			State:   leadData["state"],
			Zip:     leadData["zip"],
			Status:  status,
			Source:  "csv",
			UserID:  &user.ID,
		}
		result := lc.DB.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "phone"}},
			DoNothing: true,
		}).Create(&lead)
		if result.Error != nil {
			lc.Logger.Printf("Failed to import lead %s: %v", phone, result.Error)
			skipped++
			continue
		}
		if lead.ID == 0 {
			skipped++ // phone already present
			continue
		}
		imported++
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"imported": imported,
		"skipped":  skipped,
	})
}

// GetLeadStats returns per-status and per-tag counts for the dashboard
func (lc *LeadController) GetLeadStats(c *fiber.Ctx) error {
	type statusCount struct {
		Status string `json:"status"`
		Count  int64  `json:"count"`
	}
	var byStatus []statusCount
	if err := lc.DB.Model(&models.Lead{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&byStatus).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to compute lead stats", err)
	}

	type tagCount struct {
		AITag string `json:"ai_tag"`
		Count int64  `json:"count"`
	}
	var byTag []tagCount
	if err := lc.DB.Model(&models.Lead{}).
		Select("ai_tag, count(*) as count").
		Where("ai_tag <> ''").
		Group("ai_tag").
		Scan(&byTag).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to compute tag stats", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"by_status": byStatus,
		"by_tag":    byTag,
	}))
}
