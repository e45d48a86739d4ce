package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/spacebook/booking-flow/internal/config"
	"github.com/spacebook/booking-flow/internal/database"
)

// Prints the payment audit trail of one payment intent, oldest first.
func main() {
	var (
		dbURL    string
		intentID string
	)
	flag.StringVar(&dbURL, "database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	flag.StringVar(&intentID, "intent", "", "payment intent id, e.g. pi_3Q... (required)")
	flag.Parse()

	_ = godotenv.Load()

	if intentID == "" {
		log.Fatal("-intent is required")
	}
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set and -database-url was not provided")
	}

	db, err := database.NewConnection(config.DatabaseConfig{URL: dbURL, MaxConnections: 2, MaxIdleConnections: 1})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	repo := database.NewPaymentAuditRepository(db, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	audits, err := repo.ListByIntent(ctx, intentID)
	if err != nil {
		log.Fatalf("failed to load audit trail: %v", err)
	}
	if len(audits) == 0 {
		fmt.Printf("No audit entries for %s\n", intentID)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tEVENT\tSOURCE\tUSER\tATTEMPT\tSTATE\tERROR")
	for _, a := range audits {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			a.CreatedAt.Format(time.RFC3339),
			a.EventType,
			a.EventSource,
			a.UserID,
			optInt(a.Attempt),
			optString(a.FlowState),
			optString(a.ErrorMessage),
		)
	}
	w.Flush()
}

func optInt(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}

func optString(v *string) string {
	if v == nil || *v == "" {
		return "-"
	}
	return *v
}
