package controller

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"yardflow/compliance"
	"yardflow/models"
	"yardflow/utils"
)

// WebhookController receives delivery events from the email provider and
// tracking callbacks from sent emails.
type WebhookController struct {
	DB     *gorm.DB
	Gate   *compliance.Gate
	Logger *log.Logger
}

func NewWebhookController(db *gorm.DB, gate *compliance.Gate, logger *log.Logger) *WebhookController {
	return &WebhookController{DB: db, Gate: gate, Logger: logger}
}

type emailEventInput struct {
	EventType string `json:"event_type" validate:"required,oneof=unsubscribe bounce spam_complaint"`
	ContactID uint   `json:"contact_id" validate:"required"`
	// BounceType applies to bounce events only
	BounceType string `json:"bounce_type" validate:"omitempty,oneof=hard soft"`
}

// HandleEmailEvent routes unsubscribe/bounce/spam events into the compliance
// gate's handlers, which flip contact flags and pause affected enrollments.
func (wc *WebhookController) HandleEmailEvent(c *fiber.Ctx) error {
	var input emailEventInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var err error
	switch input.EventType {
	case "unsubscribe":
		err = wc.Gate.HandleUnsubscribe(input.ContactID)
	case "bounce":
		bounceType := input.BounceType
		if bounceType == "" {
			bounceType = compliance.BounceSoft
		}
		err = wc.Gate.HandleBounce(input.ContactID, bounceType)
	case "spam_complaint":
		err = wc.Gate.HandleSpamComplaint(input.ContactID)
	}
	if err != nil {
		wc.Logger.Printf("Failed to process %s event for contact %d: %v",
			input.EventType, input.ContactID, err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to process event", nil)
	}

	wc.Logger.Printf("Processed %s event for contact %d", input.EventType, input.ContactID)
	return c.JSON(utils.SuccessResponse(fiber.Map{"processed": input.EventType}))
}

// TrackOpen records an open event from the tracking pixel
func (wc *WebhookController) TrackOpen(c *fiber.Ctx) error {
	messageID := c.Params("messageID")
	if !utils.VerifyTrackingToken(messageID, c.Params("token")) {
		return c.SendStatus(fiber.StatusNotFound)
	}

	var delivery models.StepDelivery
	if err := wc.DB.Where("message_id = ?", messageID).First(&delivery).Error; err != nil {
		return c.SendStatus(fiber.StatusNotFound)
	}

	updates := map[string]interface{}{"open_count": gorm.Expr("open_count + ?", 1)}
	if delivery.OpenedAt == nil {
		updates["opened_at"] = utils.Pointer(time.Now().UTC())
	}
	wc.DB.Model(&delivery).Updates(updates)

	// 1x1 transparent GIF
	c.Set("Content-Type", "image/gif")
	return c.Send(trackingPixelGIF)
}

// TrackClick records a click and redirects to the original URL
func (wc *WebhookController) TrackClick(c *fiber.Ctx) error {
	messageID := c.Params("messageID")
	if !utils.VerifyTrackingToken(messageID, c.Params("token")) {
		return c.SendStatus(fiber.StatusNotFound)
	}

	var delivery models.StepDelivery
	if err := wc.DB.Where("message_id = ?", messageID).First(&delivery).Error; err != nil {
		return c.SendStatus(fiber.StatusNotFound)
	}

	updates := map[string]interface{}{"click_count": gorm.Expr("click_count + ?", 1)}
	if delivery.ClickedAt == nil {
		updates["clicked_at"] = utils.Pointer(time.Now().UTC())
	}
	wc.DB.Model(&delivery).Updates(updates)

	target := c.Query("url")
	if target == "" {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	return c.Redirect(target, fiber.StatusFound)
}

// HandleUnsubscribeLink serves one-click unsubscribes from sent emails
func (wc *WebhookController) HandleUnsubscribeLink(c *fiber.Ctx) error {
	var delivery models.StepDelivery
	if err := wc.DB.Where("message_id = ?", c.Params("messageID")).First(&delivery).Error; err != nil {
		return c.SendStatus(fiber.StatusNotFound)
	}

	if err := wc.Gate.HandleUnsubscribe(delivery.ContactID); err != nil {
		wc.Logger.Printf("Failed to unsubscribe contact %d: %v", delivery.ContactID, err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to unsubscribe", nil)
	}

	return c.SendString("You have been unsubscribed.")
}

var trackingPixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}
