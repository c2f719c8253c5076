package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/reportdesk/reportdesk/internal/client"
	"github.com/reportdesk/reportdesk/internal/models"
)

// main requests a report and polls it to a terminal state.
func main() {
	if errRun := run(os.Args[1:]); errRun != nil {
		log.WithError(errRun).Error("command failed")
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("reportctl", flag.ContinueOnError)
	server := fs.String("server", "http://localhost:8318", "report service base URL")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	fullName := fs.String("name", "", "full name, used when registering a new account")
	taxID := fs.String("tax-id", "", "11-digit company tax id")
	companyName := fs.String("company", "", "company name")
	interval := fs.Duration("interval", client.DefaultPollInterval, "poll interval")
	maxAttempts := fs.Int("max-attempts", client.DefaultMaxAttempts, "poll attempt ceiling")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}

	_ = godotenv.Load()
	if *email == "" || *password == "" {
		return errors.New("email and password are required")
	}
	if *taxID == "" || *companyName == "" {
		return errors.New("tax-id and company are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(*server)
	if errAuth := login(ctx, c, *email, *password, *fullName); errAuth != nil {
		return errAuth
	}

	created, errCreate := c.CreateReport(ctx, client.CreateReportInput{
		TaxID:       *taxID,
		CompanyName: *companyName,
	})
	if errCreate != nil {
		return fmt.Errorf("create report: %w", errCreate)
	}
	log.WithFields(log.Fields{"report_id": created.ReportID, "status": created.Status}).Info("report requested")

	poller := client.NewPoller(c, created.ReportID,
		client.WithInterval(*interval),
		client.WithMaxAttempts(*maxAttempts),
	)

	progressDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-progressDone:
				return
			case <-ticker.C:
				log.Infof("polling %s: %d attempts (%.0f%%)",
					created.ReportID, poller.Attempts(), poller.Progress()*100)
			}
		}
	}()

	outcome := poller.Run(ctx)
	close(progressDone)

	switch outcome.State {
	case client.StateCompleted:
		if parsed, errParse := models.ParseReportPayload(outcome.Report.Payload); errParse == nil {
			log.WithFields(log.Fields{
				"risk_score":    parsed.RiskScore,
				"risk_category": parsed.RiskCategory,
			}).Info("report completed")
		}
		pretty, errEncode := json.MarshalIndent(json.RawMessage(outcome.Report.Payload), "", "  ")
		if errEncode != nil {
			return errEncode
		}
		fmt.Println(string(pretty))
		return nil
	case client.StateFailed:
		return fmt.Errorf("report failed after %d attempts: %w", outcome.Attempts, outcome.Err)
	case client.StateTimedOut:
		return fmt.Errorf("report still processing after %d attempts", outcome.Attempts)
	case client.StateCancelled:
		return errors.New("polling cancelled")
	default:
		return fmt.Errorf("unexpected poll state %s", outcome.State)
	}
}

// login authenticates, registering the account first when it does not exist
// and a full name was provided.
func login(ctx context.Context, c *client.Client, email, password, fullName string) error {
	_, errLogin := c.Login(ctx, email, password)
	if errLogin == nil {
		return nil
	}
	var apiErr *client.APIError
	if !errors.As(errLogin, &apiErr) || apiErr.StatusCode != 401 || fullName == "" {
		return fmt.Errorf("login: %w", errLogin)
	}
	if _, errRegister := c.Register(ctx, email, password, fullName); errRegister != nil {
		return fmt.Errorf("register: %w", errRegister)
	}
	log.WithField("email", email).Info("account registered")
	return nil
}
