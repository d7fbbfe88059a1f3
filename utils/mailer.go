package utils

import (
	"fmt"

	"gopkg.in/gomail.v2"

	"leadline/config"
	"leadline/models"
)

// SendLeadAlertEmail notifies the configured operator address when the
// classifier tags a lead. Best effort: callers log the error and move on,
// the same policy as the classification sink itself.
func SendLeadAlertEmail(lead *models.Lead) error {
	cfg := config.AppConfig
	if cfg.AlertEmail == "" || cfg.SMTPHost == "" {
		return nil // alerts not configured
	}

	m := gomail.NewMessage()
	m.SetHeader("From", cfg.FromEmail)
	m.SetHeader("To", cfg.AlertEmail)
	m.SetHeader("Subject", fmt.Sprintf("Lead classified: %s (%s)", lead.Phone, lead.AITag))
	m.SetBody("text/plain", fmt.Sprintf(
		"Lead %s was classified as %q.\n\nReason: %s\nStatus: %s\n",
		lead.Phone, lead.AITag, lead.AIClassificationReason, lead.Status,
	))

	d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send lead alert email: %w", err)
	}
	return nil
}
