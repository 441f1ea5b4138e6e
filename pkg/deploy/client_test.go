package deploy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/storefront-autopilot/pkg/errors"
)

func TestDeployUploadsInlineFiles(t *testing.T) {
	var payload struct {
		Name  string `json:"name"`
		Files []struct {
			File     string `json:"file"`
			Data     string `json:"data"`
			Encoding string `json:"encoding"`
		} `json:"files"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v13/deployments" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.URL.Query().Get("teamId") != "team_1" {
			t.Fatalf("team id not propagated: %s", r.URL.RawQuery)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Fatalf("missing bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		_, _ = w.Write([]byte(`{"id":"dpl_1","url":"budget-planner-abc.vercel.app"}`))
	}))
	defer srv.Close()

	client, err := NewClient("tok", WithBaseURL(srv.URL), WithTeamID("team_1"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	dep, err := client.Deploy(context.Background(), "budget-planner", []File{
		{Path: "index.html", Data: []byte("<html></html>")},
		{Path: "/api/health.js", Data: []byte("export default () => {}")},
	})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if dep.URL != "https://budget-planner-abc.vercel.app" || dep.ID != "dpl_1" {
		t.Fatalf("unexpected deployment %+v", dep)
	}
	if payload.Name != "budget-planner" || len(payload.Files) != 2 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.Files[1].File != "api/health.js" {
		t.Fatalf("leading slash should be trimmed, got %q", payload.Files[1].File)
	}
	decoded, _ := base64.StdEncoding.DecodeString(payload.Files[0].Data)
	if string(decoded) != "<html></html>" || payload.Files[0].Encoding != "base64" {
		t.Fatalf("unexpected file encoding %+v", payload.Files[0])
	}
}

func TestSetEnvVarPatchesExistingOrCreates(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v9/projects/proj/env":
			_, _ = w.Write([]byte(`{"envs":[{"id":"env_1","key":"PRODUCT_ID"}]}`))
		default:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	client, _ := NewClient("tok", WithBaseURL(srv.URL))
	ctx := context.Background()
	if err := client.SetEnvVar(ctx, "proj", "PRODUCT_ID", "p1"); err != nil {
		t.Fatalf("patch env: %v", err)
	}
	if err := client.SetEnvVar(ctx, "proj", "PRICE", "19.00"); err != nil {
		t.Fatalf("create env: %v", err)
	}

	want := []string{
		"GET /v9/projects/proj/env",
		"PATCH /v9/projects/proj/env/env_1",
		"GET /v9/projects/proj/env",
		"POST /v10/projects/proj/env",
	}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected calls %v", calls)
	}
}

func TestDisableProtectionSendsNull(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/v9/projects/proj" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, _ := NewClient("tok", WithBaseURL(srv.URL))
	if err := client.DisableProtection(context.Background(), "proj"); err != nil {
		t.Fatalf("disable protection: %v", err)
	}
	value, ok := body["ssoProtection"]
	if !ok || value != nil {
		t.Fatalf("expected explicit null ssoProtection, got %+v", body)
	}
}

func TestNon2xxBecomesRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":"forbidden"}}`))
	}))
	defer srv.Close()

	client, _ := NewClient("tok", WithBaseURL(srv.URL))
	_, err := client.Deploy(context.Background(), "proj", []File{{Path: "index.html", Data: []byte("x")}})
	if err == nil {
		t.Fatal("expected error")
	}
	if pkgerrors.CodeOf(err) != pkgerrors.CodeRemote {
		t.Fatalf("expected remote code, got %s", pkgerrors.CodeOf(err))
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected APIError with status 403, got %v", err)
	}
}

func TestNewClientRequiresToken(t *testing.T) {
	if _, err := NewClient("  "); err == nil {
		t.Fatal("expected token error")
	}
}
