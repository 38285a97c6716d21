// request-seeder generates fake employee change requests, encrypts them
// the way a CRM integration would, and submits them to a running bridge.
// Useful for load testing and for exercising the processing pipeline
// against a Jamf Pro sandbox.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/jamfbridge/jamfbridge/internal/crypto"
	"github.com/jamfbridge/jamfbridge/internal/models"
)

var (
	bridgeURL = flag.String("url", "http://localhost:8080", "bridge API base URL")
	apiKey    = flag.String("api-key", "", "API key for authentication (required)")
	secret    = flag.String("secret", "", "shared encryption secret (required)")
	crmID     = flag.String("crm-id", "CRM-SEED", "CRM tenant identifier")
	count     = flag.Int("count", 50, "number of requests to generate")
	interval  = flag.Duration("interval", 100*time.Millisecond, "interval between submissions")
	types     = flag.String("types", "create,update,delete", "comma-separated request types")
)

func main() {
	flag.Parse()

	if *apiKey == "" {
		log.Fatal("API key is required. Use -api-key flag")
	}
	if *secret == "" {
		log.Fatal("Encryption secret is required. Use -secret flag")
	}

	engine, err := crypto.NewEngine(*secret)
	if err != nil {
		log.Fatalf("Failed to create crypto engine: %v", err)
	}

	gofakeit.Seed(time.Now().UnixNano())

	requestTypes := parseTypes(*types)

	log.Printf("Starting request seeder:")
	log.Printf("  Bridge URL: %s", *bridgeURL)
	log.Printf("  CRM ID: %s", *crmID)
	log.Printf("  Count: %d", *count)
	log.Printf("  Types: %v", requestTypes)

	client := &http.Client{Timeout: 10 * time.Second}

	successCount := 0
	failCount := 0

	for i := 0; i < *count; i++ {
		requestType := requestTypes[rand.Intn(len(requestTypes))]

		if err := submit(client, engine, requestType); err != nil {
			log.Printf("Failed to submit request: %v", err)
			failCount++
		} else {
			successCount++
			if successCount%25 == 0 {
				log.Printf("Progress: %d/%d requests submitted", successCount, *count)
			}
		}

		if *interval > 0 && i < *count-1 {
			time.Sleep(*interval)
		}
	}

	log.Printf("Done: %d submitted, %d failed", successCount, failCount)
}

func parseTypes(s string) []models.RequestType {
	var result []models.RequestType
	for _, part := range strings.Split(s, ",") {
		t := models.RequestType(strings.TrimSpace(part))
		if t.Valid() {
			result = append(result, t)
		}
	}
	if len(result) == 0 {
		result = []models.RequestType{models.RequestTypeCreate}
	}
	return result
}

func generateRecord(requestType models.RequestType) models.EmployeeRecord {
	person := gofakeit.Person()

	record := models.EmployeeRecord{
		EmployeeID: fmt.Sprintf("EMP-%d", gofakeit.Number(1000, 99999)),
		Email:      person.Contact.Email,
		FullName:   person.FirstName + " " + person.LastName,
		Department: gofakeit.JobDescriptor(),
		Device: models.DeviceInfo{
			Serial:    gofakeit.Regex(`C02[A-Z0-9]{9}`),
			Platform:  "Mac",
			OSVersion: gofakeit.AppVersion(),
		},
	}

	// Updates and deletes reference an existing Jamf Pro record.
	if requestType != models.RequestTypeCreate {
		record.JamfProID = fmt.Sprintf("%d", gofakeit.Number(1, 5000))
	}
	return record
}

func submit(client *http.Client, engine *crypto.Engine, requestType models.RequestType) error {
	record := generateRecord(requestType)

	plaintext, err := json.Marshal(record)
	if err != nil {
		return err
	}

	payload, err := engine.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt payload: %w", err)
	}
	encryptedKey, err := engine.Encrypt([]byte(gofakeit.UUID()))
	if err != nil {
		return fmt.Errorf("failed to encrypt key material: %w", err)
	}

	body, err := json.Marshal(models.SubmitRequest{
		CRMID:        *crmID,
		RequestType:  requestType,
		Payload:      payload,
		EncryptedKey: encryptedKey,
		Checksum:     crypto.Checksum(plaintext),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, *bridgeURL+"/api/v1/requests", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", *apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
