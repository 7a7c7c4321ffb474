package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"voxmail/internal/logging"
)

const defaultTimeout = 30 * time.Second

// Client talks to the hosted mail API. The zero value is not usable; build
// one with New.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New returns a Client for the given base URL and API key. httpClient may be
// nil, in which case a default client with a 30s timeout is used.
func New(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
	}
}

// ListMessagesOptions selects one page of messages for a grant.
type ListMessagesOptions struct {
	GrantID       string
	Limit         int
	PageToken     string
	ReceivedAfter int64 // epoch seconds; 0 means unbounded
	UnreadOnly    bool
}

type listEnvelope struct {
	Data       []wireMessage `json:"data"`
	NextCursor string        `json:"next_cursor"`
}

type wireAddress struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type wireAttachment struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

type wireMessage struct {
	ID          string           `json:"id"`
	ThreadID    string           `json:"thread_id"`
	Subject     string           `json:"subject"`
	From        []wireAddress    `json:"from"`
	To          []wireAddress    `json:"to"`
	CC          []wireAddress    `json:"cc"`
	BCC         []wireAddress    `json:"bcc"`
	ReplyTo     []wireAddress    `json:"reply_to"`
	Date        int64            `json:"date"`
	Folders     []string         `json:"folders"`
	Unread      bool             `json:"unread"`
	Starred     bool             `json:"starred"`
	Snippet     string           `json:"snippet"`
	Body        string           `json:"body"`
	Attachments []wireAttachment `json:"attachments"`
}

// ListMessagesPage fetches one page of messages. The returned page is
// terminal when NextCursor is empty.
func (c *Client) ListMessagesPage(ctx context.Context, opt ListMessagesOptions) (*MessagePage, error) {
	q := url.Values{}
	if opt.Limit > 0 {
		q.Set("limit", strconv.Itoa(opt.Limit))
	}
	if opt.PageToken != "" {
		q.Set("page_token", opt.PageToken)
	}
	if opt.ReceivedAfter > 0 {
		q.Set("received_after", strconv.FormatInt(opt.ReceivedAfter, 10))
	}
	if opt.UnreadOnly {
		q.Set("unread", "true")
	}

	var env listEnvelope
	if err := c.get(ctx, fmt.Sprintf("/v3/grants/%s/messages", url.PathEscape(opt.GrantID)), q, &env); err != nil {
		return nil, err
	}

	page := &MessagePage{NextCursor: env.NextCursor}
	for _, wm := range env.Data {
		page.Messages = append(page.Messages, normalizeMessage(wm))
	}
	return page, nil
}

// ListUnread fetches up to limit unread messages received after the given
// epoch. Pagination is followed internally.
func (c *Client) ListUnread(ctx context.Context, grantID string, limit int, receivedAfter int64) ([]Message, error) {
	var out []Message
	cursor := ""
	for len(out) < limit {
		page, err := c.ListMessagesPage(ctx, ListMessagesOptions{
			GrantID:       grantID,
			Limit:         limit - len(out),
			PageToken:     cursor,
			ReceivedAfter: receivedAfter,
			UnreadOnly:    true,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, page.Messages...)
		if page.NextCursor == "" || len(page.Messages) == 0 {
			break
		}
		cursor = page.NextCursor
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListContacts fetches up to limit contacts for a grant.
func (c *Client) ListContacts(ctx context.Context, grantID string, limit int) ([]Contact, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var env struct {
		Data []struct {
			ID     string `json:"id"`
			Name   string `json:"given_name"`
			Emails []struct {
				Email string `json:"email"`
			} `json:"emails"`
		} `json:"data"`
	}
	if err := c.get(ctx, fmt.Sprintf("/v3/grants/%s/contacts", url.PathEscape(grantID)), q, &env); err != nil {
		return nil, err
	}
	out := make([]Contact, 0, len(env.Data))
	for _, wc := range env.Data {
		contact := Contact{ID: wc.ID, Name: wc.Name}
		for _, e := range wc.Emails {
			contact.Emails = append(contact.Emails, Address{Email: e.Email})
		}
		out = append(out, contact)
	}
	return out, nil
}

// ListEvents fetches up to limit upcoming calendar events for a grant.
func (c *Client) ListEvents(ctx context.Context, grantID string, limit int) ([]Event, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var env struct {
		Data []struct {
			ID          string `json:"id"`
			Title       string `json:"title"`
			Description string `json:"description"`
			When        struct {
				StartTime int64 `json:"start_time"`
			} `json:"when"`
			Location string `json:"location"`
			Status   string `json:"status"`
		} `json:"data"`
	}
	if err := c.get(ctx, fmt.Sprintf("/v3/grants/%s/events", url.PathEscape(grantID)), q, &env); err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(env.Data))
	for _, we := range env.Data {
		out = append(out, Event{
			ID:          we.ID,
			Title:       we.Title,
			Description: we.Description,
			When:        we.When.StartTime,
			Location:    we.Location,
			Status:      we.Status,
		})
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mail api request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("mail api read body: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{Status: resp.StatusCode, Body: string(body)}
		if apiErr.Auth() {
			logging.Log.WithField("status", resp.StatusCode).Error("mail api auth failure")
		}
		return apiErr
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("mail api parse response: %w", err)
	}
	return nil
}

func normalizeMessage(wm wireMessage) Message {
	msg := Message{
		ID:       wm.ID,
		ThreadID: wm.ThreadID,
		Subject:  wm.Subject,
		To:       normalizeAddresses(wm.To),
		CC:       normalizeAddresses(wm.CC),
		BCC:      normalizeAddresses(wm.BCC),
		ReplyTo:  normalizeAddresses(wm.ReplyTo),
		Date:     wm.Date,
		Labels:   wm.Folders,
		Unread:   wm.Unread,
		Starred:  wm.Starred,
		Snippet:  wm.Snippet,
	}
	if len(wm.From) > 0 {
		msg.From = Address{Name: wm.From[0].Name, Email: strings.ToLower(wm.From[0].Email)}
	}
	if len(wm.Folders) > 0 {
		msg.Folder = wm.Folders[0]
	}
	for _, a := range wm.Attachments {
		msg.Attachments = append(msg.Attachments, Attachment{
			ID: a.ID, Filename: a.Filename, ContentType: a.ContentType, Size: a.Size,
		})
	}
	msg.HasAttachments = len(msg.Attachments) > 0

	body := DecodeBodyPart(wm.Body)
	msg.BodyText = HTMLToText(body)
	if msg.Snippet == "" {
		msg.Snippet = Snippet(msg.BodyText, 160)
	}
	return msg
}

func normalizeAddresses(in []wireAddress) []Address {
	if len(in) == 0 {
		return nil
	}
	out := make([]Address, 0, len(in))
	for _, a := range in {
		email := strings.ToLower(strings.TrimSpace(a.Email))
		name := strings.TrimSpace(a.Name)
		if email == "" && name == "" {
			continue
		}
		out = append(out, Address{Name: name, Email: email})
	}
	return out
}
