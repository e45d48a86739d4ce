package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/spacebook/booking-flow/internal/utils"
	"github.com/spacebook/booking-flow/pkg/jwt"
)

// Mints an access token for local development against a non-production backend.
func main() {
	var (
		userID    string
		email     string
		roles     string
		ttl       time.Duration
		newSecret bool
	)
	flag.StringVar(&userID, "user", "", "user id to put in the token (required)")
	flag.StringVar(&email, "email", "", "email claim")
	flag.StringVar(&roles, "roles", "member", "comma separated roles")
	flag.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	flag.BoolVar(&newSecret, "new-secret", false, "generate a fresh JWT_SECRET instead of reading it from the environment")
	flag.Parse()

	_ = godotenv.Load()

	if userID == "" {
		log.Fatal("-user is required")
	}
	if os.Getenv("ENVIRONMENT") == "production" {
		log.Fatal("refusing to mint tokens with ENVIRONMENT=production")
	}

	secret := os.Getenv("JWT_SECRET")
	if newSecret || secret == "" {
		var err error
		secret, err = utils.GenerateSecret(32)
		if err != nil {
			log.Fatalf("Failed to generate secret: %v", err)
		}
		fmt.Println("Add this to your .env file (the backend must share it):")
		fmt.Printf("JWT_SECRET=%s\n\n", secret)
	}

	var roleList []string
	for _, r := range strings.Split(roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roleList = append(roleList, r)
		}
	}

	token, err := jwt.NewService(secret, ttl).GenerateAccessToken(userID, email, roleList)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}

	fmt.Printf("Authorization: Bearer %s\n", token)
	fmt.Printf("Expires: %s\n", time.Now().Add(ttl).Format(time.RFC3339))
}
