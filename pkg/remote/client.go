// Package remote is a W3C WebDriver client for an Appium-compatible automation server.
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// W3C WebDriver element identifier key (standard constant)
const w3cElementKey = "element-6066-11e4-a52e-4f735466cecf"

//go:generate mockgen -package=session -destination=../session/mock_remote_test.go github.com/devicelab-dev/mobile-harness/pkg/remote Session,Dialer

// Session is one live automation session on a device.
type Session interface {
	ID() string
	FindElement(ctx context.Context, strategy, value string) (string, error)
	Click(ctx context.Context, elementID string) error
	Clear(ctx context.Context, elementID string) error
	SendKeys(ctx context.Context, elementID, text string) error
	Text(ctx context.Context, elementID string) (string, error)
	Displayed(ctx context.Context, elementID string) (bool, error)
	Enabled(ctx context.Context, elementID string) (bool, error)
	Screenshot(ctx context.Context) ([]byte, error)
	HideKeyboard(ctx context.Context) error
	Back(ctx context.Context) error
	CurrentActivity(ctx context.Context) (string, error)
	SetImplicitWait(ctx context.Context, timeout time.Duration) error
	Quit(ctx context.Context) error
}

// Dialer opens sessions against a remote automation server.
type Dialer interface {
	Dial(ctx context.Context, serverURL string, caps map[string]interface{}) (Session, error)
}

// HTTPDialer dials sessions over HTTP.
type HTTPDialer struct {
	// Client is used for every request; nil means a client with a 5 minute timeout.
	Client *http.Client
}

// Dial creates a session with the given capabilities.
func (d HTTPDialer) Dial(ctx context.Context, serverURL string, caps map[string]interface{}) (Session, error) {
	c := NewClient(serverURL)
	if d.Client != nil {
		c.client = d.Client
	}
	if err := c.Connect(ctx, caps); err != nil {
		return nil, err
	}
	return c, nil
}

// Client handles HTTP communication with the automation server.
type Client struct {
	serverURL string
	sessionID string
	client    *http.Client
	platform  string // ios, android
}

// NewClient creates a new client. No session exists until Connect.
func NewClient(serverURL string) *Client {
	return &Client{
		serverURL: strings.TrimSuffix(serverURL, "/"),
		client: &http.Client{
			Timeout: 5 * time.Minute, // Long timeout for install/screenshot
		},
	}
}

// Connect creates a new session with the given capabilities.
func (c *Client) Connect(ctx context.Context, caps map[string]interface{}) error {
	body := map[string]interface{}{
		"capabilities": map[string]interface{}{
			"alwaysMatch": EncodeCapabilities(caps),
		},
	}

	resp, err := c.post(ctx, "/session", body)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	value, ok := resp["value"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("invalid session response")
	}

	c.sessionID, _ = value["sessionId"].(string)
	if c.sessionID == "" {
		return fmt.Errorf("no session ID in response")
	}

	if returned, ok := value["capabilities"].(map[string]interface{}); ok {
		if platform, ok := returned["platformName"].(string); ok {
			c.platform = strings.ToLower(platform)
		}
	}
	return nil
}

// ID returns the server-assigned session id.
func (c *Client) ID() string {
	return c.sessionID
}

// Platform returns the platform (ios/android).
func (c *Client) Platform() string {
	return c.platform
}

// Quit closes the session. It is a no-op when no session is open.
func (c *Client) Quit(ctx context.Context) error {
	if c.sessionID == "" {
		return nil
	}
	_, err := c.delete(ctx, c.sessionPath())
	c.sessionID = ""
	return err
}

// Element Operations

// FindElement finds a single element.
func (c *Client) FindElement(ctx context.Context, strategy, value string) (string, error) {
	body := map[string]interface{}{
		"using": strategy,
		"value": value,
	}

	resp, err := c.post(ctx, c.sessionPath()+"/element", body)
	if err != nil {
		return "", err
	}

	elemValue, ok := resp["value"].(map[string]interface{})
	if !ok {
		return "", ErrNoSuchElement
	}
	id := extractElementID(elemValue)
	if id == "" {
		return "", ErrNoSuchElement
	}
	return id, nil
}

// Click clicks an element using the WebDriver standard endpoint.
func (c *Client) Click(ctx context.Context, elementID string) error {
	_, err := c.post(ctx, c.elementPath(elementID)+"/click", map[string]interface{}{})
	return err
}

// Clear clears an element's text.
func (c *Client) Clear(ctx context.Context, elementID string) error {
	_, err := c.post(ctx, c.elementPath(elementID)+"/clear", map[string]interface{}{})
	return err
}

// SendKeys types text into an element.
func (c *Client) SendKeys(ctx context.Context, elementID, text string) error {
	_, err := c.post(ctx, c.elementPath(elementID)+"/value", map[string]interface{}{
		"text": text,
	})
	return err
}

// Text returns an element's text.
func (c *Client) Text(ctx context.Context, elementID string) (string, error) {
	resp, err := c.get(ctx, c.elementPath(elementID)+"/text")
	if err != nil {
		return "", err
	}
	text, _ := resp["value"].(string)
	return text, nil
}

// Displayed checks if element is visible.
func (c *Client) Displayed(ctx context.Context, elementID string) (bool, error) {
	resp, err := c.get(ctx, c.elementPath(elementID)+"/displayed")
	if err != nil {
		return false, err
	}
	displayed, _ := resp["value"].(bool)
	return displayed, nil
}

// Enabled checks if element is enabled.
func (c *Client) Enabled(ctx context.Context, elementID string) (bool, error) {
	resp, err := c.get(ctx, c.elementPath(elementID)+"/enabled")
	if err != nil {
		return false, err
	}
	enabled, _ := resp["value"].(bool)
	return enabled, nil
}

// HideKeyboard hides the on-screen keyboard.
func (c *Client) HideKeyboard(ctx context.Context) error {
	_, err := c.post(ctx, c.sessionPath()+"/appium/device/hide_keyboard", map[string]interface{}{})
	return err
}

// Back navigates back.
func (c *Client) Back(ctx context.Context) error {
	_, err := c.post(ctx, c.sessionPath()+"/back", map[string]interface{}{})
	return err
}

// CurrentActivity returns the foreground Android activity.
func (c *Client) CurrentActivity(ctx context.Context) (string, error) {
	resp, err := c.get(ctx, c.sessionPath()+"/appium/device/current_activity")
	if err != nil {
		return "", err
	}
	activity, ok := resp["value"].(string)
	if !ok {
		return "", fmt.Errorf("invalid current activity response")
	}
	return activity, nil
}

// Screenshot returns a screenshot as PNG bytes.
func (c *Client) Screenshot(ctx context.Context) ([]byte, error) {
	resp, err := c.get(ctx, c.sessionPath()+"/screenshot")
	if err != nil {
		return nil, err
	}
	encoded, ok := resp["value"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid screenshot response")
	}
	return base64.StdEncoding.DecodeString(encoded)
}

// SetImplicitWait sets the server-side implicit wait for element lookups.
func (c *Client) SetImplicitWait(ctx context.Context, timeout time.Duration) error {
	_, err := c.post(ctx, c.sessionPath()+"/timeouts", map[string]interface{}{
		"implicit": timeout.Milliseconds(),
	})
	return err
}

// HTTP Helpers

func (c *Client) sessionPath() string {
	return "/session/" + c.sessionID
}

func (c *Client) elementPath(elementID string) string {
	return c.sessionPath() + "/element/" + elementID
}

func (c *Client) get(ctx context.Context, path string) (map[string]interface{}, error) {
	return c.request(ctx, http.MethodGet, path, nil)
}

func (c *Client) post(ctx context.Context, path string, body interface{}) (map[string]interface{}, error) {
	return c.request(ctx, http.MethodPost, path, body)
}

func (c *Client) delete(ctx context.Context, path string) (map[string]interface{}, error) {
	return c.request(ctx, http.MethodDelete, path, nil)
}

func (c *Client) request(ctx context.Context, method, path string, body interface{}) (map[string]interface{}, error) {
	url := c.serverURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, &WebDriverError{Status: resp.StatusCode, Code: "unknown error", Message: strings.TrimSpace(string(respBody))}
		}
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	// Check for WebDriver error
	if errValue, ok := result["value"].(map[string]interface{}); ok {
		if errType, ok := errValue["error"].(string); ok {
			msg, _ := errValue["message"].(string)
			return result, &WebDriverError{Status: resp.StatusCode, Code: errType, Message: msg}
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return result, &WebDriverError{Status: resp.StatusCode, Code: "unknown error", Message: http.StatusText(resp.StatusCode)}
	}

	return result, nil
}

func extractElementID(value map[string]interface{}) string {
	// W3C format
	if id, ok := value[w3cElementKey].(string); ok {
		return id
	}
	// Legacy format
	if id, ok := value["ELEMENT"].(string); ok {
		return id
	}
	return ""
}

// IsSessionGone reports whether err means the session no longer exists server-side.
func IsSessionGone(err error) bool {
	var wd *WebDriverError
	return errors.As(err, &wd) && wd.Code == "invalid session id"
}
