package controller

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"yardflow/models"
	"yardflow/utils"
)

type ContactController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewContactController(db *gorm.DB, logger *log.Logger) *ContactController {
	return &ContactController{DB: db, Logger: logger}
}

type createContactInput struct {
	Email            string `json:"email" validate:"required,email"`
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	Title            string `json:"title"`
	Company          string `json:"company"`
	AccountID        *uint  `json:"account_id"`
	GDPRConsentGiven bool   `json:"gdpr_consent_given"`
}

func (cc *ContactController) CreateContact(c *fiber.Ctx) error {
	var input createContactInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	contact := models.Contact{
		Email:               input.Email,
		FirstName:           input.FirstName,
		LastName:            input.LastName,
		Title:               input.Title,
		Company:             input.Company,
		AccountID:           input.AccountID,
		GDPRConsentGiven:    input.GDPRConsentGiven,
		EmailDeliveryStatus: models.DeliveryStatusValid,
	}
	if err := cc.DB.Create(&contact).Error; err != nil {
		cc.Logger.Printf("Failed to create contact: %v", err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create contact", nil)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(contact))
}

func (cc *ContactController) GetContact(c *fiber.Ctx) error {
	var contact models.Contact
	if err := cc.DB.Preload("Account").First(&contact, utils.ParseUint(c.Params("id"))).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Contact not found", nil)
	}
	return c.JSON(utils.SuccessResponse(contact))
}

func (cc *ContactController) ListContacts(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 20)

	var contacts []models.Contact
	var total int64
	cc.DB.Model(&models.Contact{}).Count(&total)
	if err := cc.DB.Offset((page - 1) * limit).Limit(limit).Order("id DESC").Find(&contacts).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list contacts", nil)
	}

	return c.JSON(utils.PaginatedResponse{Data: contacts, Total: total, Page: page, Limit: limit})
}

// UpdateConsent records a GDPR consent change from the CRM side
func (cc *ContactController) UpdateConsent(c *fiber.Ctx) error {
	var input struct {
		GDPRConsentGiven bool `json:"gdpr_consent_given"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	res := cc.DB.Model(&models.Contact{}).
		Where("id = ?", utils.ParseUint(c.Params("id"))).
		Update("gdpr_consent_given", input.GDPRConsentGiven)
	if res.Error != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update contact", nil)
	}
	if res.RowsAffected == 0 {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Contact not found", nil)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{"gdpr_consent_given": input.GDPRConsentGiven}))
}
