package services

import (
	"context"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"arogya_erp_echo/internal/models"
)

// newTestDB opens an in-memory SQLite database with the same gorm settings
// the postgres connection uses. The pool is pinned to a single connection
// so every query sees the same in-memory database.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap test db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func createTestPatient(t *testing.T, db *gorm.DB, referralSourceID *uint) *models.Patient {
	t.Helper()
	patient := models.Patient{
		MRN:              "MRN-" + t.Name(),
		Name:             "Asha Rao",
		Phone:            "9800000001",
		Email:            "asha@example.com",
		ReferralSourceID: referralSourceID,
	}
	if err := db.Create(&patient).Error; err != nil {
		t.Fatalf("create patient: %v", err)
	}
	return &patient
}

func createTestInvoice(t *testing.T, ledger *InvoiceLedger, patientID uint, amounts ...float64) *models.Invoice {
	t.Helper()
	items := make([]models.InvoiceItem, 0, len(amounts))
	for _, a := range amounts {
		items = append(items, models.InvoiceItem{Description: "Consultation", Amount: a})
	}
	invoice, err := ledger.CreateInvoice(context.Background(), CreateInvoiceInput{
		PatientID: patientID,
		Items:     items,
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	return invoice
}

func reloadInvoice(t *testing.T, db *gorm.DB, id uint) *models.Invoice {
	t.Helper()
	var invoice models.Invoice
	if err := db.First(&invoice, id).Error; err != nil {
		t.Fatalf("reload invoice: %v", err)
	}
	return &invoice
}
