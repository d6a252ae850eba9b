package mail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/coursegrader/platform/pkg/common/logger"
	"golang.org/x/oauth2"
)

const gmailBaseURL = "https://gmail.googleapis.com/gmail/v1/users/me"

var googleEndpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.google.com/o/oauth2/auth",
	TokenURL: "https://oauth2.googleapis.com/token",
}

var fromAddrPattern = regexp.MustCompile(`<([^<>]+)>`)

type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	FetchLabel   string
	SenderName   string
	SenderEmail  string
	DownloadDir  string
}

// GmailExchanger implements Exchanger over the Gmail REST API. An unread
// message carrying the configured label is treated as a submission; after the
// pipeline finishes with it, MarkProcessed removes the UNREAD label so the
// poll query shrinks. Correctness never depends on that marker — the dedup
// key does the real work.
type GmailExchanger struct {
	cfg     GmailConfig
	client  *http.Client
	labelID string
}

func NewGmailExchanger(ctx context.Context, cfg GmailConfig) *GmailExchanger {
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     googleEndpoint,
		Scopes:       []string{"https://www.googleapis.com/auth/gmail.modify"},
	}
	token := &oauth2.Token{RefreshToken: cfg.RefreshToken}
	return &GmailExchanger{
		cfg:    cfg,
		client: oauthCfg.Client(ctx, token),
	}
}

// Connect resolves the configured label name to its Gmail id, creating the
// label when it does not exist yet.
func (g *GmailExchanger) Connect(ctx context.Context) error {
	var listing struct {
		Labels []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"labels"`
	}
	if err := g.get(ctx, "/labels", &listing); err != nil {
		return fmt.Errorf("listing labels: %w", err)
	}
	for _, label := range listing.Labels {
		if label.Name == g.cfg.FetchLabel {
			g.labelID = label.ID
			logger.Log.WithField("label", label.Name).Info("Gmail exchanger connected")
			return nil
		}
	}

	var created struct {
		ID string `json:"id"`
	}
	body := map[string]string{
		"name":                  g.cfg.FetchLabel,
		"labelListVisibility":   "labelShow",
		"messageListVisibility": "show",
	}
	if err := g.post(ctx, "/labels", body, &created); err != nil {
		return fmt.Errorf("creating label %q: %w", g.cfg.FetchLabel, err)
	}
	g.labelID = created.ID
	logger.Log.WithField("label", g.cfg.FetchLabel).Info("Gmail label created")
	return nil
}

func (g *GmailExchanger) FetchNew(ctx context.Context) ([]RawMessage, error) {
	query := url.Values{}
	query.Set("q", "is:unread")
	query.Set("labelIds", g.labelID)

	var listing struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := g.get(ctx, "/messages?"+query.Encode(), &listing); err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	messages := make([]RawMessage, 0, len(listing.Messages))
	for _, ref := range listing.Messages {
		msg, err := g.loadMessage(ctx, ref.ID)
		if err != nil {
			logger.Log.WithError(err).WithField("message_id", ref.ID).
				Warn("failed to load message, will retry next poll")
			continue
		}
		messages = append(messages, *msg)
	}
	return messages, nil
}

func (g *GmailExchanger) Send(ctx context.Context, msg OutgoingMessage) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "To: %s\r\n", formatAddr(msg.ToName, msg.To))
	fmt.Fprintf(&buf, "From: %s\r\n", formatAddr(g.cfg.SenderName, g.cfg.SenderEmail))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	buf.WriteString(msg.Body)

	payload := map[string]string{
		"raw": base64.URLEncoding.EncodeToString(buf.Bytes()),
	}
	if err := g.post(ctx, "/messages/send", payload, nil); err != nil {
		return fmt.Errorf("sending message to %s: %w", msg.To, err)
	}
	logger.Log.WithFields(map[string]interface{}{
		"to":      msg.To,
		"subject": msg.Subject,
	}).Info("Message sent")
	return nil
}

func (g *GmailExchanger) MarkProcessed(ctx context.Context, messageID string) error {
	body := map[string]interface{}{
		"addLabelIds":    []string{},
		"removeLabelIds": []string{"UNREAD"},
	}
	if err := g.post(ctx, "/messages/"+messageID+"/modify", body, nil); err != nil {
		return fmt.Errorf("marking message %s processed: %w", messageID, err)
	}
	return nil
}

type gmailMessage struct {
	ID           string `json:"id"`
	InternalDate string `json:"internalDate"`
	Payload      struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
		Parts []gmailPart `json:"parts"`
	} `json:"payload"`
}

type gmailPart struct {
	Filename string `json:"filename"`
	Body     struct {
		Data         string `json:"data"`
		AttachmentID string `json:"attachmentId"`
	} `json:"body"`
	Parts []gmailPart `json:"parts"`
}

func (g *GmailExchanger) loadMessage(ctx context.Context, id string) (*RawMessage, error) {
	var msg gmailMessage
	if err := g.get(ctx, "/messages/"+id, &msg); err != nil {
		return nil, err
	}

	raw := RawMessage{ID: id}
	for _, h := range msg.Payload.Headers {
		switch h.Name {
		case "From":
			raw.Sender = extractAddr(h.Value)
		case "Subject":
			raw.Subject = h.Value
		}
	}
	if millis, err := strconv.ParseInt(msg.InternalDate, 10, 64); err == nil {
		raw.ReceivedAt = time.UnixMilli(millis).UTC()
	} else {
		raw.ReceivedAt = time.Now().UTC()
	}

	attachments, err := g.saveAttachments(ctx, id, flattenParts(msg.Payload.Parts))
	if err != nil {
		return nil, err
	}
	raw.Attachments = attachments
	return &raw, nil
}

func (g *GmailExchanger) saveAttachments(ctx context.Context, messageID string, parts []gmailPart) ([]Attachment, error) {
	dir := filepath.Join(g.cfg.DownloadDir, messageID)
	if err := os.RemoveAll(dir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	var attachments []Attachment
	for _, part := range parts {
		if part.Filename == "" {
			continue
		}
		data := part.Body.Data
		if data == "" && part.Body.AttachmentID != "" {
			var att struct {
				Data string `json:"data"`
			}
			path := "/messages/" + messageID + "/attachments/" + part.Body.AttachmentID
			if err := g.get(ctx, path, &att); err != nil {
				return nil, fmt.Errorf("downloading attachment %q: %w", part.Filename, err)
			}
			data = att.Data
		}
		decoded, err := base64.URLEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("decoding attachment %q: %w", part.Filename, err)
		}
		dest := filepath.Join(dir, filepath.Base(part.Filename))
		if err := os.WriteFile(dest, decoded, 0o644); err != nil {
			return nil, err
		}
		attachments = append(attachments, Attachment{Filename: part.Filename, Path: dest})
	}
	return attachments, nil
}

func flattenParts(parts []gmailPart) []gmailPart {
	var flat []gmailPart
	for _, part := range parts {
		flat = append(flat, part)
		flat = append(flat, flattenParts(part.Parts)...)
	}
	return flat
}

func (g *GmailExchanger) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, gmailBaseURL+path, nil)
	if err != nil {
		return err
	}
	return g.do(req, out)
}

func (g *GmailExchanger) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gmailBaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return g.do(req, out)
}

func (g *GmailExchanger) do(req *http.Request, out interface{}) error {
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gmail api %s: status %d: %s", req.URL.Path, resp.StatusCode, snippet)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func extractAddr(from string) string {
	if match := fromAddrPattern.FindStringSubmatch(from); match != nil {
		return strings.TrimSpace(match[1])
	}
	return strings.TrimSpace(from)
}

func formatAddr(name, email string) string {
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", name), email)
}
