package routes

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"gorm.io/gorm"

	"yardflow/compliance"
	controller "yardflow/controllers"
	"yardflow/engine"
	"yardflow/middleware"
)

func SetupRoutes(app *fiber.App, db *gorm.DB, eng *engine.Engine, gate *compliance.Gate) {
	sequenceController := controller.NewSequenceController(db, log.New(os.Stdout, "SEQUENCE: ", log.LstdFlags))
	contactController := controller.NewContactController(db, log.New(os.Stdout, "CONTACT: ", log.LstdFlags))
	enrollmentController := controller.NewEnrollmentController(db, eng, log.New(os.Stdout, "ENROLL: ", log.LstdFlags))
	webhookController := controller.NewWebhookController(db, gate, log.New(os.Stdout, "WEBHOOK: ", log.LstdFlags))

	// API group with versioning and protection
	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Sequence routes
	sequences := api.Group("/sequences")
	sequences.Post("/", sequenceController.CreateSequence)
	sequences.Get("/", sequenceController.ListSequences)
	sequences.Get("/:id", sequenceController.GetSequence)
	sequences.Patch("/:id/status", sequenceController.UpdateStatus)
	sequences.Put("/:id/steps/:step", sequenceController.UpdateStep)
	sequences.Get("/:id/stats", sequenceController.GetSequenceStats)
	sequences.Get("/:id/enrollments", enrollmentController.ListForSequence)

	// Contact routes
	contacts := api.Group("/contacts")
	contacts.Post("/", contactController.CreateContact)
	contacts.Get("/", contactController.ListContacts)
	contacts.Get("/:id", contactController.GetContact)
	contacts.Patch("/:id/consent", contactController.UpdateConsent)

	// Enrollment routes (enroll endpoint is rate limited per user)
	enrollments := api.Group("/enrollments")
	enrollments.Post("/", middleware.EnrollRateLimiter(), enrollmentController.Enroll)
	enrollments.Get("/:id", enrollmentController.GetEnrollment)
	enrollments.Post("/:id/pause", enrollmentController.Pause)
	enrollments.Post("/:id/resume", enrollmentController.Resume)

	// Public webhook and tracking endpoints (no auth - called by the email
	// provider and by links inside sent emails)
	app.Post("/webhooks/email", webhookController.HandleEmailEvent)
	app.Get("/track/open/:messageID/:token", webhookController.TrackOpen)
	app.Get("/track/click/:messageID/:token", webhookController.TrackClick)
	app.Get("/unsubscribe/:messageID", webhookController.HandleUnsubscribeLink)
}
