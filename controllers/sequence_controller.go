package controller

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"yardflow/models"
	"yardflow/utils"
)

type SequenceController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewSequenceController(db *gorm.DB, logger *log.Logger) *SequenceController {
	return &SequenceController{DB: db, Logger: logger}
}

type createStepInput struct {
	DelayHours float64 `json:"delay_hours" validate:"gte=0"`
	Subject    string  `json:"subject" validate:"required"`
	EmailBody  string  `json:"email_body" validate:"required"`
}

type createSequenceInput struct {
	Name        string            `json:"name" validate:"required,min=1,max=200"`
	Description string            `json:"description"`
	Steps       []createStepInput `json:"steps" validate:"required,min=1,dive"`
}

// CreateSequence creates a draft sequence with its ordered steps
func (sc *SequenceController) CreateSequence(c *fiber.Ctx) error {
	var input createSequenceInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	sequence := models.Sequence{
		Name:        input.Name,
		Description: input.Description,
		Status:      models.SequenceStatusDraft,
	}
	for i, step := range input.Steps {
		sequence.Steps = append(sequence.Steps, models.SequenceStep{
			StepNumber: i,
			DelayHours: step.DelayHours,
			Subject:    step.Subject,
			EmailBody:  step.EmailBody,
		})
	}

	if err := sc.DB.Create(&sequence).Error; err != nil {
		sc.Logger.Printf("Failed to create sequence: %v", err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create sequence", nil)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(sequence))
}

// GetSequence returns one sequence with its steps
func (sc *SequenceController) GetSequence(c *fiber.Ctx) error {
	var sequence models.Sequence
	err := sc.DB.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_number ASC")
	}).First(&sequence, utils.ParseUint(c.Params("id"))).Error
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
	}
	return c.JSON(utils.SuccessResponse(sequence))
}

// ListSequences returns sequences with pagination
func (sc *SequenceController) ListSequences(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 20)

	var sequences []models.Sequence
	var total int64
	sc.DB.Model(&models.Sequence{}).Count(&total)
	if err := sc.DB.Offset((page - 1) * limit).Limit(limit).Order("id DESC").Find(&sequences).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list sequences", nil)
	}

	return c.JSON(utils.PaginatedResponse{Data: sequences, Total: total, Page: page, Limit: limit})
}

// UpdateStatus moves a sequence between draft/active/paused/archived
func (sc *SequenceController) UpdateStatus(c *fiber.Ctx) error {
	var input struct {
		Status string `json:"status" validate:"required,oneof=draft active paused archived"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var sequence models.Sequence
	if err := sc.DB.First(&sequence, utils.ParseUint(c.Params("id"))).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
	}

	if err := sc.DB.Model(&sequence).Update("status", input.Status).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update sequence", nil)
	}

	sc.Logger.Printf("Sequence %d status changed to %s", sequence.ID, input.Status)
	return c.JSON(utils.SuccessResponse(fiber.Map{"id": sequence.ID, "status": input.Status}))
}

// UpdateStep edits one step template. Steps are frozen once any enrollment has
// progressed past step 0: sent history is snapshotted per delivery, but live
// edits under in-flight enrollments are still confusing enough to forbid.
func (sc *SequenceController) UpdateStep(c *fiber.Ctx) error {
	sequenceID := utils.ParseUint(c.Params("id"))
	stepNumber := utils.ParseUint(c.Params("step"))

	var input createStepInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var inFlight int64
	err := sc.DB.Model(&models.Enrollment{}).
		Where("sequence_id = ? AND current_step > 0 AND status IN ?",
			sequenceID, []string{models.EnrollmentStatusActive, models.EnrollmentStatusPaused}).
		Count(&inFlight).Error
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to check enrollments", nil)
	}
	if inFlight > 0 {
		return utils.ErrorResponse(c, fiber.StatusConflict,
			"Cannot edit steps while enrollments are in flight past step 0", nil)
	}

	res := sc.DB.Model(&models.SequenceStep{}).
		Where("sequence_id = ? AND step_number = ?", sequenceID, stepNumber).
		Updates(map[string]interface{}{
			"delay_hours": input.DelayHours,
			"subject":     input.Subject,
			"email_body":  input.EmailBody,
		})
	if res.Error != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update step", nil)
	}
	if res.RowsAffected == 0 {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Step not found", nil)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{"sequence_id": sequenceID, "step_number": stepNumber}))
}

// GetSequenceStats returns the denormalized enrollment counters
func (sc *SequenceController) GetSequenceStats(c *fiber.Ctx) error {
	var sequence models.Sequence
	if err := sc.DB.First(&sequence, utils.ParseUint(c.Params("id"))).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
	}

	var paused int64
	sc.DB.Model(&models.Enrollment{}).
		Where("sequence_id = ? AND status = ?", sequence.ID, models.EnrollmentStatusPaused).
		Count(&paused)

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"total_enrolled":  sequence.TotalEnrolled,
		"total_active":    sequence.TotalActive,
		"total_completed": sequence.TotalCompleted,
		"total_paused":    paused,
	}))
}
