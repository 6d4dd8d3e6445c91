package main

import (
	"errors"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"arogya_erp_echo/internal/handlers"
	appMiddleware "arogya_erp_echo/internal/middleware"
	"arogya_erp_echo/internal/models"
	"arogya_erp_echo/internal/services"
	"arogya_erp_echo/internal/tasks"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, using system environment")
	}

	if os.Getenv("APP_ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Initialize Firebase
	credPath := os.Getenv("FIREBASE_CREDENTIALS_PATH")
	if credPath == "" {
		credPath = "./firebase-service-account.json"
	}

	authClient, err := services.InitFirebase(credPath)
	if err != nil {
		log.Warn().Err(err).Msg("Firebase initialization failed; authenticated routes will reject requests")
	}

	// Initialize Database
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal().Msg("DATABASE_URL not set")
	}
	db, err := services.InitDB(databaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	if err := services.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Initialize Redis (optional: caching and audit counters degrade gracefully)
	var cache *services.RedisCache
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cache, err = services.NewRedisCache(redisURL)
		if err != nil {
			log.Warn().Err(err).Msg("Redis initialization failed, continuing without cache")
			cache = nil
		}
	} else {
		log.Warn().Msg("REDIS_URL not set, caching and audit counters disabled")
	}

	// Wire the billing core
	gateway := services.NewRazorpayService()
	commissions := services.NewCommissionEngine(cache)
	ledger := services.NewInvoiceLedger(db, commissions)
	recon := services.NewReconciliationService(db, ledger, gateway, cache)

	// Receipt delivery is best-effort and runs in the worker, decoupled
	// from the capture transaction.
	recon.SetCaptureHook(func(payment *models.Payment, _ *models.Invoice) {
		if err := tasks.SendPaymentReceiptTask.Enqueue(db, payment.ID); err != nil {
			log.Error().Err(err).Uint("payment_id", payment.ID).Msg("failed to enqueue payment receipt")
		}
	})

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = appMiddleware.CustomErrorHandler

	// Initialize handlers
	paymentHandler := handlers.NewPaymentHandler(recon, gateway)
	invoiceHandler := handlers.NewInvoiceHandler(db, ledger)
	patientHandler := handlers.NewPatientHandler(db)
	referralHandler := handlers.NewReferralHandler(db, commissions)

	// Webhook is unauthenticated: trust comes from the signature over the
	// raw body, verified before anything else happens.
	e.POST("/payments/webhook", paymentHandler.Webhook)

	// Protected routes
	api := e.Group("")
	api.Use(appMiddleware.RequireAuth(authClient))

	api.GET("/payments/config", paymentHandler.Config)
	api.POST("/payments/create-order", paymentHandler.CreateOrder)
	api.POST("/payments/verify", paymentHandler.Verify)
	api.POST("/payments/:id/refund", paymentHandler.Refund)

	api.POST("/invoices", invoiceHandler.CreateInvoice)
	api.GET("/invoices", invoiceHandler.ListInvoices)
	api.GET("/invoices/:id", invoiceHandler.GetInvoice)
	api.POST("/invoices/:id/finalize", invoiceHandler.Finalize)
	api.POST("/invoices/:id/payment", invoiceHandler.RecordPayment)

	api.POST("/patients", patientHandler.CreatePatient)
	api.GET("/patients/:id", patientHandler.GetPatient)

	api.POST("/referral-sources", referralHandler.CreateReferralSource)
	api.GET("/referral-sources", referralHandler.ListReferralSources)
	api.PUT("/referral-sources/:id", referralHandler.UpdateReferralSource)
	api.GET("/commissions", referralHandler.ListCommissions)

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Info().Str("port", port).Msg("Server starting")
	if err := e.Start(":" + port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
