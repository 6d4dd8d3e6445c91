package services

import (
	"fmt"
	"net/smtp"
	"os"

	"arogya_erp_echo/internal/models"
)

type EmailService struct {
	host     string
	port     string
	user     string
	password string
	from     string
}

func NewEmailService() *EmailService {
	return &EmailService{
		host:     os.Getenv("SMTP_HOST"),
		port:     os.Getenv("SMTP_PORT"),
		user:     os.Getenv("SMTP_USER"),
		password: os.Getenv("SMTP_PASS"),
		from:     os.Getenv("EMAIL_FROM"),
	}
}

func (s *EmailService) SendEmail(to []string, subject, body string) error {
	if s.host == "" || s.port == "" || s.user == "" || s.password == "" {
		return fmt.Errorf("SMTP credentials not fully configured")
	}

	auth := smtp.PlainAuth("", s.user, s.password, s.host)

	// Build the message
	message := []byte(fmt.Sprintf("To: %s\r\n"+
		"Subject: %s\r\n"+
		"\r\n"+
		"%s\r\n", to[0], subject, body))

	addr := fmt.Sprintf("%s:%s", s.host, s.port)

	err := smtp.SendMail(addr, auth, s.from, to, message)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

// SendPaymentReceipt emails a plain-text receipt for a captured payment.
// Delivery is best-effort; billing state never depends on it.
func (s *EmailService) SendPaymentReceipt(to string, patientName, invoiceNumber string, payment *models.Payment, balance float64) error {
	if to == "" {
		return fmt.Errorf("patient has no email address")
	}

	subject := fmt.Sprintf("Payment receipt for invoice %s", invoiceNumber)
	body := fmt.Sprintf(
		"Dear %s,\n\n"+
			"We have received your payment of %.2f (%s) against invoice %s.\n"+
			"Reference: %s\n"+
			"Outstanding balance: %.2f\n\n"+
			"Thank you.",
		patientName, payment.Amount, payment.Mode, invoiceNumber, payment.TransactionRef, balance)

	return s.SendEmail([]string{to}, subject, body)
}
