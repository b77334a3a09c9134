package zabbix

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	agenterrors "github.com/zabbar/zabbar/internal/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(ClientConfig{
		ServerURL:      server.URL,
		ServerIdentity: "test-server",
		VerifyTLS:      true,
		AuthTimeout:    5 * time.Second,
		FetchTimeout:   5 * time.Second,
	})
	return client, server
}

func rpcResult(w http.ResponseWriter, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"jsonrpc": "2.0",
		"result":  result,
		"id":      1,
	})
}

func rpcFailure(w http.ResponseWriter, code int, message, data string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"jsonrpc": "2.0",
		"error":   map[string]interface{}{"code": code, "message": message, "data": data},
		"id":      1,
	})
}

func TestClientLogin(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != apiPath {
			t.Errorf("Expected %s, got %s", apiPath, r.URL.Path)
		}
		var req request
		json.NewDecoder(r.Body).Decode(&req)
		if req.Method != "user.login" {
			t.Errorf("Expected user.login, got %s", req.Method)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("Login request must not carry an Authorization header")
		}
		rpcResult(w, "abc123token")
	})

	token, err := client.Login(context.Background(), "alice", "secret")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if token != "abc123token" {
		t.Errorf("Expected abc123token, got %s", token)
	}
	if client.Token() != "abc123token" {
		t.Error("Token not retained on client")
	}
}

func TestClientLoginRejected(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		rpcFailure(w, -32602, "Invalid params.", "Incorrect user name or password or account is temporarily blocked.")
	})

	_, err := client.Login(context.Background(), "alice", "wrong")
	if !errors.Is(err, agenterrors.ErrAuth) {
		t.Fatalf("Expected auth error, got %v", err)
	}
	if errors.Is(err, agenterrors.ErrSessionExpired) {
		t.Error("Rejected login must not classify as session expiry")
	}
}

func TestClientActiveProblems(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Expected bearer token, got %q", got)
		}
		rpcResult(w, []map[string]string{
			{"eventid": "1001", "objectid": "77", "name": "Disk full", "severity": "4", "clock": "1700000000", "acknowledged": "0"},
			{"eventid": "1002", "objectid": "78", "name": "CPU spike", "severity": "5", "clock": "1700000100", "acknowledged": "1"},
		})
	})
	client.SetToken("tok")

	alerts, err := client.ActiveProblems(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("Expected 2 alerts, got %d", len(alerts))
	}
	if alerts[0].ID != "1001" {
		t.Errorf("Alert identity must be the eventid, got %s", alerts[0].ID)
	}
	if alerts[0].Severity != 4 || alerts[0].Title != "Disk full" {
		t.Errorf("Unexpected alert: %+v", alerts[0])
	}
	if alerts[0].Acknowledged || !alerts[1].Acknowledged {
		t.Error("Acknowledged flags not mapped")
	}
	if alerts[0].OccurredAt != time.Unix(1700000000, 0).UTC() {
		t.Errorf("Unexpected timestamp: %v", alerts[0].OccurredAt)
	}
}

func TestClientSessionExpiry(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		rpcFailure(w, -32602, "Invalid params.", "Session terminated, re-login, please.")
	})
	client.SetToken("stale")

	_, err := client.ActiveProblems(context.Background())
	if !agenterrors.IsSessionExpired(err) {
		t.Fatalf("Expected session expiry classification, got %v", err)
	}
}

func TestClientMalformedResponse(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	})
	client.SetToken("tok")

	_, err := client.ActiveProblems(context.Background())
	if !errors.Is(err, agenterrors.ErrMalformedResponse) {
		t.Fatalf("Expected malformed-response error, got %v", err)
	}
}

func TestClientMalformedProblemRecord(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		rpcResult(w, []map[string]string{
			{"eventid": "1001", "name": "Disk full", "severity": "nine", "clock": "1700000000", "acknowledged": "0"},
		})
	})
	client.SetToken("tok")

	_, err := client.ActiveProblems(context.Background())
	if !errors.Is(err, agenterrors.ErrMalformedResponse) {
		t.Fatalf("Expected malformed-response error, got %v", err)
	}
}

func TestClientTimeoutClassification(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		rpcResult(w, []map[string]string{})
	})
	client.SetToken("tok")
	client.fetchTimeout = 50 * time.Millisecond

	_, err := client.ActiveProblems(context.Background())
	if !errors.Is(err, agenterrors.ErrTimeout) {
		t.Fatalf("Expected timeout classification, got %v", err)
	}
	if agenterrors.IsSessionExpired(err) {
		t.Error("A timeout must never classify as session expiry")
	}
}

func TestClientAcknowledge(t *testing.T) {
	var gotParams ackParams
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string    `json:"method"`
			Params ackParams `json:"params"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Method != "event.acknowledge" {
			t.Errorf("Expected event.acknowledge, got %s", req.Method)
		}
		gotParams = req.Params
		rpcResult(w, map[string][]string{"eventids": {"1001"}})
	})
	client.SetToken("tok")

	if err := client.Acknowledge(context.Background(), "1001", "on it"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(gotParams.EventIDs) != 1 || gotParams.EventIDs[0] != "1001" {
		t.Errorf("Expected eventid 1001, got %v", gotParams.EventIDs)
	}
	if gotParams.Action != actionAcknowledge|actionAddMessage {
		t.Errorf("Expected ack+message action, got %d", gotParams.Action)
	}
	if gotParams.Message != "on it" {
		t.Errorf("Expected message to pass through, got %q", gotParams.Message)
	}
}

func TestClientAuthedCallWithoutToken(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("Request must not reach the server without a token")
	})

	_, err := client.ActiveProblems(context.Background())
	if !agenterrors.IsSessionExpired(err) {
		t.Fatalf("Expected session-expired classification, got %v", err)
	}
}

func TestClientHosts(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req request
		json.NewDecoder(r.Body).Decode(&req)
		if req.Method != "host.get" {
			t.Errorf("Expected host.get, got %s", req.Method)
		}
		rpcResult(w, []map[string]string{
			{"hostid": "10", "host": "db01", "name": "Database 01"},
		})
	})
	client.SetToken("tok")

	hosts, err := client.Hosts(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(hosts) != 1 || hosts[0].Name != "Database 01" {
		t.Errorf("Unexpected hosts: %+v", hosts)
	}
}
