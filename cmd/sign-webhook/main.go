package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/joho/godotenv"

	"github.com/troikatech/carecall/pkg/webhook"
)

// sign-webhook signs a call-end payload the way the agent platform does and
// prints the signature header. With -post it delivers the payload too.
func main() {
	_ = godotenv.Load()

	file := flag.String("file", "-", "payload file, - for stdin")
	post := flag.String("post", "", "bridge base URL to deliver the payload to")
	flag.Parse()

	secret := os.Getenv("WEBHOOK_SECRET")
	if secret == "" {
		log.Fatal("WEBHOOK_SECRET not set")
	}

	body, err := readPayload(*file)
	if err != nil {
		log.Fatalf("Failed to read payload: %v", err)
	}

	header := webhook.Sign(secret, strconv.FormatInt(time.Now().Unix(), 10), body)
	fmt.Printf("%s: %s\n", webhook.HeaderName, header)

	if *post == "" {
		return
	}

	resp, err := resty.New().
		SetTimeout(15*time.Second).
		R().
		SetHeader(webhook.HeaderName, header).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(*post + "/twilio/call-end")
	if err != nil {
		log.Fatalf("Delivery failed: %v", err)
	}
	fmt.Printf("%d %s\n", resp.StatusCode(), resp.String())
}

func readPayload(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
