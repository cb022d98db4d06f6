package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"inquiry-relay-go/internal/credential"
)

// ErrAuthExpired is returned when the portal rejects the session or redirects to a login page
var ErrAuthExpired = errors.New("portal authentication expired")

const codeLoginRequired = "login_required"

// Inquiry is the latest inquiry as read from the portal
type Inquiry struct {
	TenantName            string `json:"tenant_name"`
	TenantEmail           string `json:"tenant_email,omitempty"`
	TenantMessage         string `json:"tenant_message"`
	ConversationReference string `json:"conversation_reference"`
}

// Client talks to the portal automation session service. It holds at most one
// session, opened lazily by the first call that needs it.
type Client struct {
	baseURL  string
	headless bool
	creds    credential.Store
	client   *http.Client

	mu        sync.Mutex
	sessionID string
}

// NewClient creates a portal client
func NewClient(baseURL string, headless bool, creds credential.Store) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		headless: headless,
		creds:    creds,
		client: &http.Client{
			// a redirect means the portal is sending the session to its login page
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

type sessionRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Headless bool   `json:"headless"`
}

type sessionResponse struct {
	ID string `json:"id"`
}

type replyRequest struct {
	ConversationReference string `json:"conversation_reference"`
	Text                  string `json:"text"`
}

type apiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ExtractLatest reads the most recent inquiry from the portal inbox
func (c *Client) ExtractLatest(ctx context.Context) (*Inquiry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}

	var inquiry Inquiry
	if err := c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(id)+"/inquiries/latest", nil, &inquiry); err != nil {
		return nil, fmt.Errorf("extracting latest inquiry: %w", err)
	}
	if strings.TrimSpace(inquiry.TenantMessage) == "" {
		return nil, fmt.Errorf("extracting latest inquiry: empty tenant message")
	}
	return &inquiry, nil
}

// Deliver sends text as a reply in the conversation identified by ref
func (c *Client) Deliver(ctx context.Context, ref, text string) error {
	if ref == "" {
		return fmt.Errorf("delivering reply: conversation reference is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := c.ensureSession(ctx)
	if err != nil {
		return err
	}

	body := replyRequest{ConversationReference: ref, Text: text}
	if err := c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(id)+"/replies", body, nil); err != nil {
		return fmt.Errorf("delivering reply: %w", err)
	}
	return nil
}

// ReleaseSession closes the open session, if any. It is safe to call repeatedly.
func (c *Client) ReleaseSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessionID == "" {
		return nil
	}
	id := c.sessionID
	c.sessionID = ""

	err := c.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(id), nil, nil)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("releasing session %s: %w", id, err)
	}
	logrus.WithField("session_id", id).Debug("Released portal session")
	return nil
}

// HasSession reports whether a session is currently open
func (c *Client) HasSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID != ""
}

func (c *Client) ensureSession(ctx context.Context) (string, error) {
	if c.sessionID != "" {
		return c.sessionID, nil
	}

	username, err := c.creds.Get(credential.PortalUsernameKey)
	if err != nil {
		return "", fmt.Errorf("loading portal username: %w", err)
	}
	password, err := c.creds.Get(credential.PortalPasswordKey)
	if err != nil {
		return "", fmt.Errorf("loading portal password: %w", err)
	}

	var session sessionResponse
	req := sessionRequest{Username: username, Password: password, Headless: c.headless}
	if err := c.do(ctx, http.MethodPost, "/sessions", req, &session); err != nil {
		return "", fmt.Errorf("opening portal session: %w", err)
	}
	if session.ID == "" {
		return "", fmt.Errorf("opening portal session: empty session id")
	}

	c.sessionID = session.ID
	logrus.WithField("session_id", session.ID).Debug("Opened portal session")
	return c.sessionID, nil
}

// StatusError is an unexpected HTTP status from the session service
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("portal error (%d): %s", e.Code, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling portal: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiErrorResponse
		_ = json.Unmarshal(respBody, &apiErr)

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden ||
			(resp.StatusCode >= 300 && resp.StatusCode < 400) ||
			apiErr.Error.Code == codeLoginRequired {
			// the session is unusable once the portal asks for a login
			c.sessionID = ""
			return fmt.Errorf("%w (%d)", ErrAuthExpired, resp.StatusCode)
		}

		msg := apiErr.Error.Message
		if msg == "" {
			msg = strings.TrimSpace(string(respBody))
		}
		return &StatusError{Code: resp.StatusCode, Message: msg}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
