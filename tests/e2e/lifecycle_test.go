package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/regbridge/subtrack/internal/control"
	"github.com/regbridge/subtrack/internal/core/config"
)

const apiPort = 18741

func startApp(t *testing.T) func() {
	t.Helper()

	cfg := control.Config{
		Port: apiPort,
		Registry: config.RegistryConfig{
			MaxRetries:     3,
			DefaultTimeout: time.Hour,
			TimeoutSweep:   time.Minute,
			ArchiveSweep:   time.Minute,
		},
		Delivery: config.DeliveryConfig{
			Workers:          2,
			MaxAttempts:      3,
			BaseBackoff:      10 * time.Millisecond,
			MaxBackoff:       100 * time.Millisecond,
			DispatchInterval: 50 * time.Millisecond,
			RetryInterval:    50 * time.Millisecond,
			BatchSize:        10,
			RequestTimeout:   time.Second,
		},
	}

	app, err := control.NewApp(cfg)
	if err != nil {
		t.Fatalf("Failed to create app: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := app.Start(ctx); err != nil {
		t.Fatalf("Failed to start app: %v", err)
	}

	// Wait for the HTTP server to come up.
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(apiURL("/health"))
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("API server did not become ready")
		}
		time.Sleep(50 * time.Millisecond)
	}

	return func() {
		cancel()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if err := app.Stop(stopCtx); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	}
}

func apiURL(path string) string {
	return fmt.Sprintf("http://localhost:%d%s", apiPort, path)
}

func postJSON(t *testing.T, path string, body any, wantStatus int) map[string]any {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(apiURL(path), "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("POST %s: decode: %v", path, err)
	}
	if resp.StatusCode != wantStatus {
		t.Fatalf("POST %s: status %d, want %d (%v)", path, resp.StatusCode, wantStatus, out)
	}
	return out
}

func getJSON(t *testing.T, path string) map[string]any {
	t.Helper()
	resp, err := http.Get(apiURL(path))
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", path, resp.StatusCode)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("GET %s: decode: %v", path, err)
	}
	return out
}

func TestSubmissionLifecycleOverAPI(t *testing.T) {
	stop := startApp(t)
	defer stop()

	sub := postJSON(t, "/api/v1/submissions", map[string]any{
		"document_id":  "doc-e2e-1",
		"org_id":       "org-1",
		"type":         "invoice",
		"priority":     "normal",
		"submitted_by": "e2e",
	}, http.StatusCreated)

	id, _ := sub["id"].(string)
	if id == "" {
		t.Fatalf("no submission id in %v", sub)
	}
	if sub["status"] != "pending" {
		t.Fatalf("initial status = %v, want pending", sub["status"])
	}

	// Walk the happy path up to transmitted.
	for _, status := range []string{"validating", "validated", "queued", "transmitting", "transmitted"} {
		got := postJSON(t, "/api/v1/submissions/"+id+"/transition", map[string]any{
			"to_status": status,
			"reason":    "pipeline",
		}, http.StatusOK)
		if got["status"] != status {
			t.Fatalf("transition to %s: status = %v", status, got["status"])
		}
	}

	// An illegal transition is rejected with a conflict.
	data, _ := json.Marshal(map[string]any{"to_status": "validating"})
	resp, err := http.Post(apiURL("/api/v1/submissions/"+id+"/transition"), "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("illegal transition: status %d, want 409", resp.StatusCode)
	}

	// Authority acceptance closes the submission.
	ack := postJSON(t, "/api/v1/submissions/"+id+"/acknowledgments", map[string]any{
		"status":    "accepted",
		"result":    "approved",
		"code":      "200",
		"reference": "AUTH-REF-42",
	}, http.StatusOK)
	if ack["category"] != "acceptance" || ack["applied"] != true {
		t.Fatalf("ack = %v", ack)
	}

	final := getJSON(t, "/api/v1/submissions/"+id)
	if final["status"] != "accepted" {
		t.Errorf("final status = %v, want accepted", final["status"])
	}
	if final["authority_ref"] != "AUTH-REF-42" {
		t.Errorf("authority_ref = %v", final["authority_ref"])
	}
	if final["completed_at"] == nil {
		t.Error("completed_at not set")
	}

	history := getJSON(t, "/api/v1/submissions/"+id+"/history")
	transitions, _ := history["history"].([]any)
	if len(transitions) != 6 {
		t.Errorf("history length = %d, want 6", len(transitions))
	}

	listed := getJSON(t, "/api/v1/submissions?status=accepted")
	if count, _ := listed["count"].(float64); count != 1 {
		t.Errorf("accepted count = %v, want 1", listed["count"])
	}
}
