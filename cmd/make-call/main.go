package main

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/joho/godotenv"

	"github.com/troikatech/carecall/pkg/auth"
	"github.com/troikatech/carecall/pkg/phone"
)

// make-call asks a running bridge to place an outbound call.
//
//	make-call <phone_number>
func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		log.Fatal("usage: make-call <phone_number>")
	}
	target := phone.Normalize(os.Args[1])

	baseURL := os.Getenv("API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}

	client := resty.New().SetBaseURL(baseURL).SetTimeout(30 * time.Second)

	if secret := os.Getenv("ADMIN_JWT_SECRET"); secret != "" {
		token, expiresAt, err := auth.GenerateAdminToken("make-call", auth.ScopeInitiateCall, secret, 5*time.Minute)
		if err != nil {
			log.Fatalf("Failed to generate admin token: %v", err)
		}
		client.SetAuthToken(token)
		fmt.Printf("Using admin token valid until %s\n", expiresAt.Format(time.RFC3339))
	}

	fmt.Printf("Placing call to %s via %s\n", target, baseURL)

	var result struct {
		Status  string `json:"status"`
		CallSid string `json:"call_sid"`
		Message string `json:"message"`
	}
	resp, err := client.R().
		SetResult(&result).
		Get("/initiate_call/" + url.PathEscape(target))
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}
	if resp.IsError() {
		log.Fatalf("Bridge returned %d: %s", resp.StatusCode(), resp.String())
	}

	if result.Status != "success" {
		log.Fatalf("Call not placed: %s", result.Message)
	}
	fmt.Printf("Call placed, sid %s\n", result.CallSid)
}
