package payments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestConfirmationApproved(t *testing.T) {
	cases := []struct {
		name string
		c    Confirmation
		want bool
	}{
		{"authorized", Confirmation{Status: "AUTHORIZED", ResponseCode: 0}, true},
		{"declined code", Confirmation{Status: "AUTHORIZED", ResponseCode: -1}, false},
		{"failed status", Confirmation{Status: "FAILED", ResponseCode: 0}, false},
	}
	for _, tc := range cases {
		if got := tc.c.Approved(); got != tc.want {
			t.Fatalf("%s: got %v", tc.name, got)
		}
	}
}

func TestHTTPGatewayCreateTransaction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/transactions" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"token":"tok-1","url":"https://pay.example/tok-1"}`))
	}))
	defer server.Close()

	gateway := NewHTTPGateway(server.URL)
	tx, err := gateway.CreateTransaction(context.Background(), "req-1", 6000, "http://localhost/return")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.Token != "tok-1" || tx.URL == "" {
		t.Fatalf("unexpected transaction: %+v", tx)
	}
}

func TestHTTPGatewayCommitUnavailable(t *testing.T) {
	gateway := NewHTTPGateway("http://127.0.0.1:0")
	if _, err := gateway.CommitTransaction(context.Background(), "tok-1"); err == nil {
		t.Fatal("expected error for unreachable gateway")
	}
}
