package controller

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"yardflow/engine"
	"yardflow/models"
	"yardflow/utils"
)

type EnrollmentController struct {
	DB     *gorm.DB
	Engine *engine.Engine
	Logger *log.Logger
}

func NewEnrollmentController(db *gorm.DB, eng *engine.Engine, logger *log.Logger) *EnrollmentController {
	return &EnrollmentController{DB: db, Engine: eng, Logger: logger}
}

type enrollInput struct {
	SequenceID uint `json:"sequence_id" validate:"required"`
	ContactID  uint `json:"contact_id" validate:"required"`
}

// Enroll starts a contact on a sequence. Business rejections (not enrolled,
// compliance block) come back as 422 with the reason; infrastructure faults
// are 500s.
func (ec *EnrollmentController) Enroll(c *fiber.Ctx) error {
	var input enrollInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	result, err := ec.Engine.EnrollContact(c.Context(), input.SequenceID, input.ContactID)
	if err != nil {
		ec.Logger.Printf("Enrollment failed for sequence %d contact %d: %v",
			input.SequenceID, input.ContactID, err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Enrollment failed", nil)
	}
	if !result.Success {
		return utils.ErrorResponse(c, fiber.StatusUnprocessableEntity, result.Error, nil)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(fiber.Map{
		"enrollment_id": result.EnrollmentID,
	}))
}

func (ec *EnrollmentController) GetEnrollment(c *fiber.Ctx) error {
	var enrollment models.Enrollment
	err := ec.DB.Preload("Deliveries", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_number ASC")
	}).First(&enrollment, utils.ParseUint(c.Params("id"))).Error
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Enrollment not found", nil)
	}
	return c.JSON(utils.SuccessResponse(enrollment))
}

// ListForSequence returns enrollments of one sequence, optionally filtered by status
func (ec *EnrollmentController) ListForSequence(c *fiber.Ctx) error {
	query := ec.DB.Where("sequence_id = ?", utils.ParseUint(c.Params("id")))
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var enrollments []models.Enrollment
	if err := query.Order("id DESC").Limit(200).Find(&enrollments).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list enrollments", nil)
	}
	return c.JSON(utils.SuccessResponse(enrollments))
}

// Pause stops an active enrollment with an operator-supplied reason
func (ec *EnrollmentController) Pause(c *fiber.Ctx) error {
	var input struct {
		Reason string `json:"reason" validate:"required,oneof=compliance_failed send_failed unsubscribed bounced spam_complaint"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	if err := ec.Engine.PauseEnrollment(c.Context(), utils.ParseUint(c.Params("id")), input.Reason); err != nil {
		return utils.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Failed to pause enrollment", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"status": models.EnrollmentStatusPaused}))
}

// Resume reactivates a paused enrollment; the step that caused the pause is
// re-attempted immediately.
func (ec *EnrollmentController) Resume(c *fiber.Ctx) error {
	if err := ec.Engine.ResumeEnrollment(c.Context(), utils.ParseUint(c.Params("id"))); err != nil {
		return utils.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Failed to resume enrollment", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"status": models.EnrollmentStatusActive}))
}
