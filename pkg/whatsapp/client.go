package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/wakb/wakb/pkg/config"
)

// Client is a REST client for a WhatsApp gateway exposing send and device
// endpoints behind basic auth. It implements the pkg/kb Sender interface.
type Client struct {
	host       string
	user       string
	password   string
	httpClient *http.Client

	mu    sync.Mutex
	myJID string // cached after the first successful lookup
}

// NewClient creates a gateway client from configuration.
func NewClient(cfg config.WhatsAppConfig) *Client {
	host := cfg.Host
	if host == "" {
		host = config.Default().WhatsApp.Host
	}
	return &Client{
		host:     host,
		user:     cfg.BasicAuthUser,
		password: cfg.BasicAuthPassword,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type sendMessageRequest struct {
	Phone          string `json:"phone"`
	Message        string `json:"message"`
	ReplyMessageID string `json:"reply_message_id,omitempty"`
}

type gatewayResponse struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Results json.RawMessage `json:"results"`
}

// SendMessage sends a text message to a chat, optionally as a reply.
func (c *Client) SendMessage(ctx context.Context, chatJID, text, replyToID string) error {
	body, err := json.Marshal(sendMessageRequest{
		Phone:          chatJID,
		Message:        text,
		ReplyMessageID: replyToID,
	})
	if err != nil {
		return fmt.Errorf("marshaling send request: %w", err)
	}

	var resp gatewayResponse
	if err := c.do(ctx, http.MethodPost, "/send/message", bytes.NewReader(body), &resp); err != nil {
		return fmt.Errorf("sending message to %s: %w", chatJID, err)
	}
	return nil
}

type deviceInfo struct {
	Name   string `json:"name"`
	Device string `json:"device"`
}

// MyJID returns the bot's own normalized JID, caching the gateway lookup.
func (c *Client) MyJID(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.myJID
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	var resp gatewayResponse
	if err := c.do(ctx, http.MethodGet, "/app/devices", nil, &resp); err != nil {
		return "", fmt.Errorf("fetching devices: %w", err)
	}

	var devices []deviceInfo
	if err := json.Unmarshal(resp.Results, &devices); err != nil {
		return "", fmt.Errorf("decoding devices: %w", err)
	}
	if len(devices) == 0 {
		return "", fmt.Errorf("gateway reports no connected devices")
	}

	jid, err := NormalizeJID(devices[0].Device)
	if err != nil {
		return "", fmt.Errorf("normalizing device JID: %w", err)
	}

	c.mu.Lock()
	c.myJID = jid
	c.mu.Unlock()
	return jid, nil
}

// GroupParticipant describes one member of a group.
type GroupParticipant struct {
	JID         string `json:"JID"`
	PhoneNumber string `json:"PhoneNumber"`
	IsAdmin     bool   `json:"IsAdmin"`
}

// GroupInfo describes a group the connected account participates in.
type GroupInfo struct {
	JID          string             `json:"JID"`
	Name         string             `json:"Name"`
	Participants []GroupParticipant `json:"Participants"`
}

type userGroupsResult struct {
	Data []GroupInfo `json:"data"`
}

// UserGroups lists the groups the connected account is a member of.
func (c *Client) UserGroups(ctx context.Context) ([]GroupInfo, error) {
	var resp gatewayResponse
	if err := c.do(ctx, http.MethodGet, "/user/my/groups", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching groups: %w", err)
	}

	var result userGroupsResult
	if err := json.Unmarshal(resp.Results, &result); err != nil {
		return nil, fmt.Errorf("decoding groups: %w", err)
	}
	return result.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, body *bytes.Reader, out *gatewayResponse) error {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.host+path, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.host+path, nil)
	}
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody bytes.Buffer
		errBody.ReadFrom(resp.Body)
		return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, errBody.String())
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding gateway response: %w", err)
		}
	}
	return nil
}
