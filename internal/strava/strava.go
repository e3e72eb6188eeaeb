// Package strava uploads workouts to Strava via its OAuth2 API.
//
// Each user supplies their own API application credentials (client ID
// and secret from https://www.strava.com/settings/api); tokens and
// settings live as JSON files in the user's data directory.
package strava

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

const (
	authURL         = "https://www.strava.com/oauth/authorize"
	tokenURL        = "https://www.strava.com/oauth/token"
	uploadURL       = "https://www.strava.com/api/v3/uploads"
	uploadStatusURL = "https://www.strava.com/api/v3/uploads/%d"

	// Refresh ahead of actual expiry.
	expiryBuffer = 60 * time.Second

	uploadPollInterval = time.Second
	uploadPollLimit    = 30
)

// PathResolver locates a user's data directory.
type PathResolver interface {
	UserDir(userID string) string
}

// Settings holds a user's Strava application credentials.
type Settings struct {
	ClientID     string `json:"strava_client_id,omitempty"`
	ClientSecret string `json:"strava_client_secret,omitempty"`
}

// Tokens is the stored OAuth2 token set.
type Tokens struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresAt    int64           `json:"expires_at"`
	Athlete      json.RawMessage `json:"athlete,omitempty"`
}

// UploadStatus is Strava's answer to an upload request.
type UploadStatus struct {
	ID         int64  `json:"id"`
	Status     string `json:"status"`
	ActivityID int64  `json:"activity_id"`
	Error      string `json:"error"`
}

// Client talks to the Strava API on behalf of stored users.
type Client struct {
	paths  PathResolver
	http   *http.Client
	logger *log.Logger
	now    func() time.Time
	sleep  func(time.Duration)
}

// NewClient creates a Strava client. Panics if paths or logger is nil.
func NewClient(paths PathResolver, logger *log.Logger) *Client {
	if paths == nil {
		panic("NewClient: paths cannot be nil")
	}
	if logger == nil {
		panic("NewClient: logger cannot be nil")
	}
	return &Client{
		paths:  paths,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger,
		now:    time.Now,
		sleep:  time.Sleep,
	}
}

// LoadSettings reads a user's Strava credentials; missing file means
// empty settings.
func (c *Client) LoadSettings(userID string) (Settings, error) {
	var settings Settings
	if err := readFileJSON(c.settingsPath(userID), &settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// SaveSettings stores a user's Strava credentials.
func (c *Client) SaveSettings(userID string, settings Settings) error {
	return writeFileJSON(c.settingsPath(userID), settings)
}

// Connected reports whether the user has a stored access token.
func (c *Client) Connected(userID string) bool {
	tokens, err := c.loadTokens(userID)
	return err == nil && tokens != nil && tokens.AccessToken != ""
}

// Disconnect removes a user's stored tokens.
func (c *Client) Disconnect(userID string) error {
	err := os.Remove(c.tokensPath(userID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// AuthURL builds the authorization redirect for a user, or an error
// if they have not configured a client ID.
func (c *Client) AuthURL(userID, redirectURI string) (string, error) {
	settings, err := c.LoadSettings(userID)
	if err != nil {
		return "", err
	}
	if settings.ClientID == "" {
		return "", fmt.Errorf("strava client_id not configured for user %s", userID)
	}
	q := url.Values{
		"client_id":       {settings.ClientID},
		"redirect_uri":    {redirectURI},
		"response_type":   {"code"},
		"scope":           {"activity:write"},
		"state":           {userID},
		"approval_prompt": {"auto"},
	}
	return authURL + "?" + q.Encode(), nil
}

// ExchangeCode trades an authorization code for tokens and stores them.
func (c *Client) ExchangeCode(userID, code string) (*Tokens, error) {
	settings, err := c.LoadSettings(userID)
	if err != nil {
		return nil, err
	}
	if settings.ClientID == "" || settings.ClientSecret == "" {
		return nil, fmt.Errorf("strava client_id and client_secret not configured")
	}

	tokens, err := c.postToken(url.Values{
		"client_id":     {settings.ClientID},
		"client_secret": {settings.ClientSecret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
	})
	if err != nil {
		return nil, err
	}
	if err := c.saveTokens(userID, tokens); err != nil {
		return nil, err
	}
	c.logger.Printf("Strava: connected user %s", userID)
	return tokens, nil
}

// AccessToken returns a valid access token for the user, refreshing
// the stored one when close to expiry.
func (c *Client) AccessToken(userID string) (string, error) {
	tokens, err := c.loadTokens(userID)
	if err != nil {
		return "", err
	}
	if tokens == nil {
		return "", fmt.Errorf("user %s is not connected to Strava", userID)
	}
	if c.now().Before(time.Unix(tokens.ExpiresAt, 0).Add(-expiryBuffer)) {
		return tokens.AccessToken, nil
	}

	settings, err := c.LoadSettings(userID)
	if err != nil {
		return "", err
	}
	if settings.ClientID == "" || settings.ClientSecret == "" {
		return "", fmt.Errorf("strava credentials missing, cannot refresh token")
	}
	fresh, err := c.postToken(url.Values{
		"client_id":     {settings.ClientID},
		"client_secret": {settings.ClientSecret},
		"refresh_token": {tokens.RefreshToken},
		"grant_type":    {"refresh_token"},
	})
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}
	// Keep athlete info from the original grant.
	fresh.Athlete = tokens.Athlete
	if err := c.saveTokens(userID, fresh); err != nil {
		return "", err
	}
	return fresh.AccessToken, nil
}

// UploadTCX sends a TCX document to Strava and polls until processing
// finishes or the poll limit is reached.
func (c *Client) UploadTCX(userID string, tcx []byte, name, description string) (*UploadStatus, error) {
	token, err := c.AccessToken(userID)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "workout.tcx")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(tcx); err != nil {
		return nil, err
	}
	mw.WriteField("data_type", "tcx")
	mw.WriteField("name", name)
	mw.WriteField("description", description)
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, uploadURL, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var status UploadStatus
	if err := c.doJSON(req, &status); err != nil {
		return nil, fmt.Errorf("strava upload: %w", err)
	}
	c.logger.Printf("Strava: upload %d accepted for user %s", status.ID, userID)

	if status.ID == 0 {
		return &status, nil
	}
	for i := 0; i < uploadPollLimit; i++ {
		c.sleep(uploadPollInterval)
		polled, err := c.uploadStatus(token, status.ID)
		if err != nil {
			return nil, err
		}
		if polled.ActivityID != 0 || polled.Error != "" {
			return polled, nil
		}
	}
	return &status, nil
}

func (c *Client) uploadStatus(token string, uploadID int64) (*UploadStatus, error) {
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf(uploadStatusURL, uploadID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	var status UploadStatus
	if err := c.doJSON(req, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) postToken(form url.Values) (*Tokens, error) {
	resp, err := c.http.PostForm(tokenURL, form)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("strava token endpoint returned %d: %s", resp.StatusCode, raw)
	}
	var tokens Tokens
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	return &tokens, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d: %s", resp.StatusCode, raw)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) settingsPath(userID string) string {
	return filepath.Join(c.paths.UserDir(userID), "settings.json")
}

func (c *Client) tokensPath(userID string) string {
	return filepath.Join(c.paths.UserDir(userID), "strava.json")
}

// loadTokens returns nil when the user has never connected.
func (c *Client) loadTokens(userID string) (*Tokens, error) {
	var tokens *Tokens
	if err := readFileJSON(c.tokensPath(userID), &tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

func (c *Client) saveTokens(userID string, tokens *Tokens) error {
	return writeFileJSON(c.tokensPath(userID), tokens)
}

func readFileJSON(path string, out any) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeFileJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
