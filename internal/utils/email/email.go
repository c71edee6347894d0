package email

import (
	"fmt"
	"net/smtp"

	"github.com/Dan9191/p2p-lending/internal/config"
	"github.com/Dan9191/p2p-lending/internal/models"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// Sender handles sending loan notifications via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
	send   func(e *email.Email) error
}

// NewSender creates a new email sender. With no SMTP host configured every
// send is a no-op.
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	s := &Sender{cfg: cfg, logger: logger}
	s.send = func(e *email.Email) error {
		addr := fmt.Sprintf("%s:%s", cfg.SMTPHost, cfg.SMTPPort)
		auth := smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)
		return e.Send(addr, auth)
	}
	return s
}

// Enabled reports whether SMTP delivery is configured.
func (s *Sender) Enabled() bool {
	return s.cfg.SMTPHost != ""
}

func (s *Sender) deliver(to, subject, body string) error {
	if !s.Enabled() || to == "" {
		s.logger.Debugf("Email to %q skipped: %s", to, subject)
		return nil
	}

	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	e.Subject = subject
	e.Text = []byte(body + "\nBest regards,\nP2P Lending")

	if err := s.send(e); err != nil {
		s.logger.Errorf("Failed to send email to %s: %v", to, err)
		return fmt.Errorf("failed to send email: %w", err)
	}
	s.logger.Infof("Email sent to %s: %s", to, subject)
	return nil
}

func greeting(name string) string {
	if name == "" {
		name = "borrower"
	}
	return fmt.Sprintf("Dear %s,\n\n", name)
}

// SendLoanConfirmation tells a borrower their loan request is listed
func (s *Sender) SendLoanConfirmation(to, name string, loan *models.LoanRequest) error {
	body := greeting(name) + fmt.Sprintf(
		"Your loan request #%d for %.2f has been approved and listed for investors.\n"+
			"Credit score: %d (%s)\n"+
			"Interest rate: %.2f%%\n"+
			"Term: %d months, monthly payment %.2f\n"+
			"Funding closes on %s.\n",
		loan.ID, loan.ApprovedAmount, loan.CreditScore, loan.Category.Label(),
		loan.InterestRate, loan.TermMonths, loan.MonthlyPayment,
		loan.FundingDeadline.Format("2006-01-02"),
	)
	return s.deliver(to, "Loan Request Confirmation", body)
}

// SendInvestmentReceived tells a borrower that an investor funded their loan
func (s *Sender) SendInvestmentReceived(to, name string, loan *models.LoanRequest, amount float64) error {
	body := greeting(name) + fmt.Sprintf(
		"An investor contributed %.2f to your loan request #%d.\n"+
			"Funded so far: %.2f of %.2f (%d%%)\n",
		amount, loan.ID, loan.FundedAmount, loan.ApprovedAmount, loan.FundingProgress(),
	)
	if loan.Status == models.LoanStatusFunded {
		body += "Your loan is now fully funded.\n"
	}
	return s.deliver(to, "Investment Received", body)
}

// SendRepaymentReceived confirms a borrower's repayment
func (s *Sender) SendRepaymentReceived(to, name string, loan *models.LoanRequest, amount float64) error {
	body := greeting(name) + fmt.Sprintf(
		"We received your repayment of %.2f for loan #%d.\n"+
			"Repaid so far: %.2f of %.2f (%d%%)\n",
		amount, loan.ID, loan.TotalRepaid, loan.TotalDue(), loan.RepaymentProgress(),
	)
	if loan.Status == models.LoanStatusRepaid {
		body += "Your loan is fully repaid. Thank you.\n"
	}
	return s.deliver(to, "Repayment Received", body)
}
