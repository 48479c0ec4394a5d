package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/troikatech/carecall/internal/convai"
	"github.com/troikatech/carecall/internal/profile"
	"github.com/troikatech/carecall/internal/store"
	"github.com/troikatech/carecall/pkg/env"
	"github.com/troikatech/carecall/pkg/mongo"
	"github.com/troikatech/carecall/pkg/phone"
)

// check-profile verifies the datastore and, given a phone number, prints the
// profile and conversation variables a call to that number would get.
//
//	check-profile [phone_number]
func main() {
	cfg, err := env.Load(".env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	fmt.Println("========================================")
	fmt.Println("Caller Profile Diagnostic Tool")
	fmt.Println("========================================")
	fmt.Printf("Database: %s\n\n", cfg.DBName)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.NewClient(ctx, mongo.Options{
		URI:      cfg.MongoURI,
		DBName:   cfg.DBName,
		Username: cfg.MongoUser,
		Password: cfg.MongoServiceKey,
		AppName:  "check-profile",
	})
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(ctx)
	}()

	if !checkCollections(ctx, client) {
		os.Exit(1)
	}

	if len(os.Args) < 2 {
		return
	}

	target := phone.Normalize(os.Args[1])
	fmt.Printf("\nAssembling profile for %s...\n", phone.Mask(target))

	res := profile.NewAssembler(store.NewMongoStore(client), zap.NewNop()).Assemble(ctx, target)
	printJSON("Profile", res)
	if !res.OK() {
		fmt.Printf("❌ %s\n", res.ErrorMessage())
		os.Exit(1)
	}
	printJSON("Conversation variables", sorted(convai.Variables(res)))
}

func checkCollections(ctx context.Context, client *mongo.Client) bool {
	collections := []string{
		store.CollectionUsers,
		store.CollectionLovedOnes,
		store.CollectionMedications,
		store.CollectionCallPreferences,
		store.CollectionNotificationSettings,
		store.CollectionAppointments,
		store.CollectionConversations,
	}

	fmt.Println("Checking collections...")
	allGood := true
	for _, name := range collections {
		var doc map[string]interface{}
		found, err := client.NewQuery(name).Limit(1).FindOne(ctx, &doc)
		switch {
		case err != nil:
			fmt.Printf("❌ %s: %v\n", name, err)
			allGood = false
		case !found:
			fmt.Printf("⚠️  %s: empty\n", name)
		default:
			fmt.Printf("✅ %s: OK\n", name)
		}
	}
	return allGood
}

type keyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func sorted(vars map[string]string) []keyValue {
	out := make([]keyValue, 0, len(vars))
	for k, v := range vars {
		out = append(out, keyValue{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func printJSON(title string, v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%s: %v\n", title, err)
		return
	}
	fmt.Printf("\n%s:\n%s\n", title, data)
}
