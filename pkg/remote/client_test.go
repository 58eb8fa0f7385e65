package remote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// writeJSON encodes data as JSON to the response writer.
func writeJSON(w http.ResponseWriter, data interface{}) {
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func newSessionClient(url string) *Client {
	c := NewClient(url)
	c.sessionID = "test-session"
	return c
}

func TestClient_Connect(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/session" && r.Method == "POST" {
			var body map[string]interface{}
			json.NewDecoder(r.Body).Decode(&body)
			got = body["capabilities"].(map[string]interface{})["alwaysMatch"].(map[string]interface{})
			writeJSON(w, map[string]interface{}{
				"value": map[string]interface{}{
					"sessionId": "test-session-123",
					"capabilities": map[string]interface{}{
						"platformName":    "Android",
						"platformVersion": "14",
					},
				},
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL + "/")
	err := client.Connect(context.Background(), map[string]interface{}{
		"platformName":   "Android",
		"deviceName":     "Pixel 7",
		"appium:noReset": false,
		"sauce:options":  map[string]interface{}{"username": "u"},
	})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if client.ID() != "test-session-123" {
		t.Errorf("Expected sessionID 'test-session-123', got '%s'", client.ID())
	}
	if client.Platform() != "android" {
		t.Errorf("Expected platform 'android', got '%s'", client.Platform())
	}

	for _, key := range []string{"platformName", "appium:deviceName", "appium:noReset", "sauce:options"} {
		if _, ok := got[key]; !ok {
			t.Errorf("Expected capability %q in request, got %v", key, got)
		}
	}
	if _, ok := got["deviceName"]; ok {
		t.Error("deviceName should be sent with the appium: prefix")
	}
}

func TestClient_ConnectError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		writeJSON(w, map[string]interface{}{
			"value": map[string]interface{}{
				"error":   "session not created",
				"message": "Could not find a connected Android device",
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.Connect(context.Background(), map[string]interface{}{"platformName": "Android"})
	if err == nil {
		t.Fatal("Expected error")
	}
	var wd *WebDriverError
	if !errors.As(err, &wd) || wd.Code != "session not created" {
		t.Errorf("Expected session not created error, got %v", err)
	}
}

func TestClient_ConnectNoSessionID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"value": map[string]interface{}{}})
	}))
	defer server.Close()

	if err := NewClient(server.URL).Connect(context.Background(), nil); err == nil {
		t.Error("Expected error for missing session id")
	}
}

func TestClient_Quit(t *testing.T) {
	deleteCalled := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/session/test-session" && r.Method == "DELETE" {
			deleteCalled = true
			writeJSON(w, map[string]interface{}{"value": nil})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newSessionClient(server.URL)
	if err := client.Quit(context.Background()); err != nil {
		t.Fatalf("Quit failed: %v", err)
	}
	if !deleteCalled {
		t.Error("DELETE /session was not called")
	}
	if client.ID() != "" {
		t.Error("sessionID should be cleared after quit")
	}

	// Second quit is a no-op
	deleteCalled = false
	if err := client.Quit(context.Background()); err != nil || deleteCalled {
		t.Errorf("second Quit should be a no-op, err=%v called=%v", err, deleteCalled)
	}
}

func TestClient_FindElement(t *testing.T) {
	var using, value string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/session/test-session/element" && r.Method == "POST" {
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			using, value = body["using"], body["value"]
			writeJSON(w, map[string]interface{}{
				"value": map[string]interface{}{
					"element-6066-11e4-a52e-4f735466cecf": "elem-123",
				},
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newSessionClient(server.URL)
	elemID, err := client.FindElement(context.Background(), "accessibility id", "myButton")
	if err != nil {
		t.Fatalf("FindElement failed: %v", err)
	}
	if elemID != "elem-123" {
		t.Errorf("Expected element ID 'elem-123', got '%s'", elemID)
	}
	if using != "accessibility id" || value != "myButton" {
		t.Errorf("unexpected locator sent: %s=%s", using, value)
	}
}

func TestClient_FindElementLegacyID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"value": map[string]interface{}{"ELEMENT": "legacy-1"},
		})
	}))
	defer server.Close()

	id, err := newSessionClient(server.URL).FindElement(context.Background(), "id", "x")
	if err != nil || id != "legacy-1" {
		t.Errorf("Expected legacy-1, got %q (%v)", id, err)
	}
}

func TestClient_FindElementNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]interface{}{
			"value": map[string]interface{}{
				"error":   "no such element",
				"message": "An element could not be located",
			},
		})
	}))
	defer server.Close()

	_, err := newSessionClient(server.URL).FindElement(context.Background(), "id", "missing")
	if !errors.Is(err, ErrNoSuchElement) {
		t.Errorf("Expected ErrNoSuchElement, got %v", err)
	}
	if errors.Is(err, ErrStaleElement) {
		t.Error("not-found must not match ErrStaleElement")
	}
}

func TestClient_StaleElement(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]interface{}{
			"value": map[string]interface{}{
				"error":   "stale element reference",
				"message": "gone",
			},
		})
	}))
	defer server.Close()

	err := newSessionClient(server.URL).Click(context.Background(), "elem-1")
	if !errors.Is(err, ErrStaleElement) {
		t.Errorf("Expected ErrStaleElement, got %v", err)
	}
}

func TestClient_ElementOperations(t *testing.T) {
	var calls []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		switch r.URL.Path {
		case "/session/test-session/element/e1/text":
			writeJSON(w, map[string]interface{}{"value": "Hello"})
		case "/session/test-session/element/e1/displayed":
			writeJSON(w, map[string]interface{}{"value": true})
		case "/session/test-session/element/e1/enabled":
			writeJSON(w, map[string]interface{}{"value": false})
		case "/session/test-session/element/e1/value":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["text"] != "bob" {
				t.Errorf("Expected text 'bob', got %q", body["text"])
			}
			writeJSON(w, map[string]interface{}{"value": nil})
		default:
			writeJSON(w, map[string]interface{}{"value": nil})
		}
	}))
	defer server.Close()

	ctx := context.Background()
	client := newSessionClient(server.URL)

	if err := client.Click(ctx, "e1"); err != nil {
		t.Errorf("Click failed: %v", err)
	}
	if err := client.Clear(ctx, "e1"); err != nil {
		t.Errorf("Clear failed: %v", err)
	}
	if err := client.SendKeys(ctx, "e1", "bob"); err != nil {
		t.Errorf("SendKeys failed: %v", err)
	}
	if text, _ := client.Text(ctx, "e1"); text != "Hello" {
		t.Errorf("Expected 'Hello', got %q", text)
	}
	if shown, _ := client.Displayed(ctx, "e1"); !shown {
		t.Error("Expected displayed")
	}
	if enabled, _ := client.Enabled(ctx, "e1"); enabled {
		t.Error("Expected disabled")
	}
	if err := client.HideKeyboard(ctx); err != nil {
		t.Errorf("HideKeyboard failed: %v", err)
	}
	if err := client.Back(ctx); err != nil {
		t.Errorf("Back failed: %v", err)
	}

	want := []string{
		"POST /session/test-session/element/e1/click",
		"POST /session/test-session/element/e1/clear",
		"POST /session/test-session/element/e1/value",
		"GET /session/test-session/element/e1/text",
		"GET /session/test-session/element/e1/displayed",
		"GET /session/test-session/element/e1/enabled",
		"POST /session/test-session/appium/device/hide_keyboard",
		"POST /session/test-session/back",
	}
	if len(calls) != len(want) {
		t.Fatalf("Expected %d calls, got %v", len(want), calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d: expected %q, got %q", i, want[i], calls[i])
		}
	}
}

func TestClient_Screenshot(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/session/test-session/screenshot" {
			writeJSON(w, map[string]interface{}{"value": base64.StdEncoding.EncodeToString(png)})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	data, err := newSessionClient(server.URL).Screenshot(context.Background())
	if err != nil {
		t.Fatalf("Screenshot failed: %v", err)
	}
	if string(data) != string(png) {
		t.Errorf("Expected PNG bytes, got %v", data)
	}
}

func TestClient_CurrentActivity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/session/test-session/appium/device/current_activity" {
			writeJSON(w, map[string]interface{}{"value": ".MainActivity"})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	activity, err := newSessionClient(server.URL).CurrentActivity(context.Background())
	if err != nil {
		t.Fatalf("CurrentActivity failed: %v", err)
	}
	if activity != ".MainActivity" {
		t.Errorf("Expected .MainActivity, got %q", activity)
	}
}

func TestClient_SetImplicitWait(t *testing.T) {
	var implicit float64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]float64
		json.NewDecoder(r.Body).Decode(&body)
		implicit = body["implicit"]
		writeJSON(w, map[string]interface{}{"value": nil})
	}))
	defer server.Close()

	if err := newSessionClient(server.URL).SetImplicitWait(context.Background(), 10*time.Second); err != nil {
		t.Fatalf("SetImplicitWait failed: %v", err)
	}
	if implicit != 10000 {
		t.Errorf("Expected 10000ms, got %v", implicit)
	}
}

func TestClient_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server can observe the client disconnect.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newSessionClient(server.URL).FindElement(ctx, "id", "slow")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestIsSessionGone(t *testing.T) {
	if !IsSessionGone(&WebDriverError{Code: "invalid session id"}) {
		t.Error("invalid session id should be session gone")
	}
	if IsSessionGone(errors.New("boom")) {
		t.Error("plain error is not session gone")
	}
}

func TestHTTPDialer_Dial(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"value": map[string]interface{}{"sessionId": "dialed"},
		})
	}))
	defer server.Close()

	s, err := HTTPDialer{Client: server.Client()}.Dial(context.Background(), server.URL, map[string]interface{}{})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	if s.ID() != "dialed" {
		t.Errorf("Expected session 'dialed', got %q", s.ID())
	}
}

func TestEncodeCapabilities(t *testing.T) {
	in := map[string]interface{}{
		"platformName":      "Android",
		"automationName":    "UiAutomator2",
		"appium:noReset":    true,
		"sauce:options":     map[string]interface{}{},
		"newCommandTimeout": 300,
	}
	out := EncodeCapabilities(in)

	tests := map[string]bool{
		"platformName":             true,
		"appium:automationName":    true,
		"appium:noReset":           true,
		"sauce:options":            true,
		"appium:newCommandTimeout": true,
		"automationName":           false,
		"appium:platformName":      false,
	}
	for key, want := range tests {
		if _, ok := out[key]; ok != want {
			t.Errorf("key %q present=%v, want %v", key, ok, want)
		}
	}
	if _, ok := in["appium:automationName"]; ok {
		t.Error("EncodeCapabilities must not mutate its input")
	}
}
