package vonage

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func testKeyPEM(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		AppID:      "app-1",
		PrivateKey: testKeyPEM(t),
		BaseURL:    baseURL,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return c
}

func TestNewClientRejectsBadKey(t *testing.T) {
	_, err := NewClient(Config{AppID: "app-1", PrivateKey: []byte("not a key")}, zerolog.Nop())
	if err == nil {
		t.Error("expected error for unparseable key")
	}

	_, err = NewClient(Config{PrivateKey: testKeyPEM(t)}, zerolog.Nop())
	if err == nil {
		t.Error("expected error for missing application id")
	}
}

func TestCreateCall(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody CreateCallRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"uuid":"LEG-1","status":"started","direction":"outbound"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	resp, err := c.CreateCall(context.Background(), CreateCallRequest{
		To:        []Endpoint{PhoneEndpoint("12995551212")},
		From:      PhoneEndpoint("12995550101"),
		AnswerURL: []string{"https://gateway.example.com/webhooks/answer"},
		EventURL:  []string{"https://gateway.example.com/webhooks/event"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "POST /v1/calls" {
		t.Errorf("unexpected request: %s", gotPath)
	}
	if !strings.HasPrefix(gotAuth, "Bearer ") {
		t.Errorf("expected bearer token, got %q", gotAuth)
	}
	if resp.UUID != "LEG-1" || resp.Status != "started" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if gotBody.To[0].Type != "phone" || gotBody.To[0].Number != "12995551212" {
		t.Errorf("unexpected to endpoint: %+v", gotBody.To)
	}
}

func TestHangupTreatsGoneLegAsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "call not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if err := c.Hangup(context.Background(), "LEG-GONE"); err != nil {
		t.Errorf("404 hangup must be a no-op, got %v", err)
	}
}

func TestHangupSendsAction(t *testing.T) {
	var gotMethod string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if err := c.Hangup(context.Background(), "LEG-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Errorf("expected PUT, got %s", gotMethod)
	}
	if gotBody["action"] != "hangup" {
		t.Errorf("expected hangup action, got %v", gotBody)
	}
}

func TestServerErrorsAreTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.CreateCall(context.Background(), CreateCallRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsTransient(err) {
		t.Errorf("500 must be transient, got %T: %v", err, err)
	}
}

func TestRateLimitIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	err := c.StreamAudio(context.Background(), "LEG-1", "http://moh.example.com/us.mp3", 0, -0.6)
	if !IsTransient(err) {
		t.Errorf("429 must be transient, got %T: %v", err, err)
	}
}

func TestClientErrorsArePermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.CreateCall(context.Background(), CreateCallRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsTransient(err) {
		t.Error("400 must not be transient")
	}
}

func TestStartRecordingIgnoresGoneLeg(t *testing.T) {
	var gotPath string
	var gotOpts RecordingOptions
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotOpts)
		http.Error(w, "leg not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if err := c.StartRecording(context.Background(), "LEG-1", DefaultRecordingOptions()); err != nil {
		t.Errorf("404 recording must be a no-op, got %v", err)
	}
	if gotPath != "/v1/legs/LEG-1/recording" {
		t.Errorf("unexpected path: %s", gotPath)
	}
	if !gotOpts.Split || !gotOpts.Streamed || gotOpts.Format != "mp3" || gotOpts.ValidityTime != 30 {
		t.Errorf("unexpected recording options: %+v", gotOpts)
	}
}

func TestStreamAudioBody(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"message":"Stream started"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if err := c.StreamAudio(context.Background(), "LEG-1", "http://moh.example.com/us.mp3", 0, -0.6); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	urls, ok := gotBody["stream_url"].([]interface{})
	if !ok || len(urls) != 1 || urls[0] != "http://moh.example.com/us.mp3" {
		t.Errorf("unexpected stream_url: %v", gotBody["stream_url"])
	}
	if gotBody["level"] != "-0.6" {
		t.Errorf("level must be a string, got %v (%T)", gotBody["level"], gotBody["level"])
	}
}

func TestDownloadRecording(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		io.WriteString(w, "AUDIO-BYTES")
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	body, err := c.DownloadRecording(context.Background(), srv.URL+"/v1/files/abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer body.Close()

	data, _ := io.ReadAll(body)
	if string(data) != "AUDIO-BYTES" {
		t.Errorf("unexpected body: %q", data)
	}
}

func TestNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	c := newTestClient(t, srv.URL)
	err := c.Hangup(context.Background(), "LEG-1")
	if !IsTransient(err) {
		t.Errorf("connection failure must be transient, got %T: %v", err, err)
	}
}
