package gcs

import (
	"context"
	"testing"

	"github.com/angelmondragon/storefront-autopilot/pkg/config"
)

func TestNewClientRequiresBucket(t *testing.T) {
	if _, err := NewClient(context.Background(), config.GCSConfig{}, config.GCPConfig{}, nil); err == nil {
		t.Fatal("expected bucket error")
	}
}

func TestClientOptionsPrecedence(t *testing.T) {
	if got := clientOptions(config.GCPConfig{}); len(got) != 0 {
		t.Fatalf("expected default credentials, got %d options", len(got))
	}
	if got := clientOptions(config.GCPConfig{CredentialsJSON: `{"type":"service_account"}`, ApplicationCredentials: "/tmp/creds.json"}); len(got) != 1 {
		t.Fatalf("expected exactly one credentials option, got %d", len(got))
	}
	if got := clientOptions(config.GCPConfig{ApplicationCredentials: "/tmp/creds.json"}); len(got) != 1 {
		t.Fatalf("expected file credentials option, got %d", len(got))
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if c.Bucket() != "" {
		t.Fatal("nil client should report empty bucket")
	}
	if err := c.Upload(context.Background(), "audit/report.json", "application/json", []byte("{}")); err == nil {
		t.Fatal("expected error from nil client")
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected error from nil client ping")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close on nil client should be a no-op, got %v", err)
	}
}
