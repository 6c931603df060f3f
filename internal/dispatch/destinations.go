package dispatch

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// httpDestination is the shared shape every webhook-style destination
// below is built from: a long-lived *http.Client with a fixed
// timeout, grounded on the teacher's notification channels
// (internal/notification/dingtalk.go, slack.go, sms.go).
type httpDestination struct {
	client *http.Client
	cfg    map[string]string
	logger *logrus.Logger
}

func newHTTPDestination(cfg map[string]string, logger *logrus.Logger, timeout time.Duration) httpDestination {
	if logger == nil {
		logger = logrus.New()
	}
	return httpDestination{
		client: &http.Client{Timeout: timeout},
		cfg:    cfg,
		logger: logger,
	}
}

// SlackDestination posts to a Slack incoming webhook, grounded on
// notification.SlackChannel.
type SlackDestination struct{ httpDestination }

func NewSlackDestination(cfg map[string]string, logger *logrus.Logger) *SlackDestination {
	return &SlackDestination{newHTTPDestination(cfg, logger, 30*time.Second)}
}

func (d *SlackDestination) Type() string { return "slack" }

func (d *SlackDestination) Publish(ctx context.Context, subject, message string, destCtx map[string]string, hostDenyList []string) (string, error) {
	webhookURL := d.cfg["webhook_url"]
	if webhookURL == "" {
		return "", fmt.Errorf("webhook_url is required for slack destinations")
	}

	payload := map[string]interface{}{
		"text": joinSubjectAndMessage(subject, message),
	}
	if channel := d.cfg["channel"]; channel != "" {
		payload["channel"] = channel
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return postJSON(ctx, d.client, webhookURL, body, hostDenyList)
}

// CustomWebhook posts a generic JSON payload, optionally HMAC-signing
// the URL the way DingTalk does, grounded on notification.DingTalkChannel.
type CustomWebhook struct{ httpDestination }

func NewCustomWebhook(cfg map[string]string, logger *logrus.Logger) *CustomWebhook {
	return &CustomWebhook{newHTTPDestination(cfg, logger, 10*time.Second)}
}

func (d *CustomWebhook) Type() string { return "custom_webhook" }

func (d *CustomWebhook) Publish(ctx context.Context, subject, message string, destCtx map[string]string, hostDenyList []string) (string, error) {
	webhookURL := d.cfg["webhook_url"]
	if webhookURL == "" {
		return "", fmt.Errorf("webhook_url is required for custom webhook destinations")
	}

	if secret := d.cfg["secret"]; secret != "" {
		signed, err := signURL(webhookURL, secret)
		if err != nil {
			return "", fmt.Errorf("failed to sign webhook URL: %w", err)
		}
		webhookURL = signed
	}

	payload := map[string]interface{}{
		"subject": subject,
		"message": message,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return postJSON(ctx, d.client, webhookURL, body, hostDenyList)
}

// Chime posts to an Amazon Chime incoming webhook, grounded on
// notification.WeChatWorkChannel (same "group chat webhook" shape,
// different provider).
type Chime struct{ httpDestination }

func NewChime(cfg map[string]string, logger *logrus.Logger) *Chime {
	return &Chime{newHTTPDestination(cfg, logger, 15*time.Second)}
}

func (d *Chime) Type() string { return "chime" }

func (d *Chime) Publish(ctx context.Context, subject, message string, destCtx map[string]string, hostDenyList []string) (string, error) {
	webhookURL := d.cfg["webhook_url"]
	if webhookURL == "" {
		return "", fmt.Errorf("webhook_url is required for chime destinations")
	}

	payload := map[string]interface{}{"Content": joinSubjectAndMessage(subject, message)}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return postJSON(ctx, d.client, webhookURL, body, hostDenyList)
}

// Telegram posts to the Telegram Bot API, grounded on
// notification.TelegramChannel.
type Telegram struct{ httpDestination }

func NewTelegram(cfg map[string]string, logger *logrus.Logger) *Telegram {
	return &Telegram{newHTTPDestination(cfg, logger, 15*time.Second)}
}

func (d *Telegram) Type() string { return "telegram" }

func (d *Telegram) Publish(ctx context.Context, subject, message string, destCtx map[string]string, hostDenyList []string) (string, error) {
	botToken := d.cfg["bot_token"]
	chatID := d.cfg["chat_id"]
	if botToken == "" || chatID == "" {
		return "", fmt.Errorf("bot_token and chat_id are required for telegram destinations")
	}

	apiURL := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", botToken)
	payload := map[string]interface{}{
		"chat_id": chatID,
		"text":    joinSubjectAndMessage(subject, message),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return postJSON(ctx, d.client, apiURL, body, hostDenyList)
}

// Email sends through a generic HTTP email-relay endpoint, grounded
// on notification.EmailChannel's SMTP config surface but adapted to
// the same HTTP-destination shape as the other channels (no SMTP
// library exists in this module's dependency corpus).
type Email struct{ httpDestination }

func NewEmail(cfg map[string]string, logger *logrus.Logger) *Email {
	return &Email{newHTTPDestination(cfg, logger, 20*time.Second)}
}

func (d *Email) Type() string { return "email" }

func (d *Email) Publish(ctx context.Context, subject, message string, destCtx map[string]string, hostDenyList []string) (string, error) {
	relayURL := d.cfg["relay_url"]
	if relayURL == "" {
		return "", fmt.Errorf("relay_url is required for email destinations")
	}

	payload := map[string]interface{}{
		"to":      d.cfg["to"],
		"subject": subject,
		"body":    message,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return postJSON(ctx, d.client, relayURL, body, hostDenyList)
}

// SNS publishes through an HTTP SNS-compatible endpoint, grounded on
// notification.SMSChannel's generic-HTTP-provider branch. A real AWS
// SDK publish path belongs in cmd/runner/main.go's destination
// registry once AWS credentials are wired from config.AWS; this
// transport-level shape is what every destination here shares.
type SNS struct{ httpDestination }

func NewSNS(cfg map[string]string, logger *logrus.Logger) *SNS {
	return &SNS{newHTTPDestination(cfg, logger, 20*time.Second)}
}

func (d *SNS) Type() string { return "sns" }

func (d *SNS) Publish(ctx context.Context, subject, message string, destCtx map[string]string, hostDenyList []string) (string, error) {
	topicARN := d.cfg["topic_arn"]
	if topicARN == "" {
		return "", fmt.Errorf("topic_arn is required for sns destinations")
	}
	if err := checkHostAllowed(d.cfg["endpoint"], hostDenyList); err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("Action", "Publish")
	form.Set("TopicArn", topicARN)
	form.Set("Subject", subject)
	form.Set("Message", message)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg["endpoint"], bytes.NewBufferString(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("sns publish failed with status %d: %s", resp.StatusCode, string(respBody))
	}
	return string(respBody), nil
}

func joinSubjectAndMessage(subject, message string) string {
	if subject == "" {
		return message
	}
	return subject + "\n\n" + message
}

// checkHostAllowed raises if targetURL's host is on hostDenyList,
// before any request reaches it — spec.md §6's "must raise on
// disallowed host" for the destination publish contract.
func checkHostAllowed(targetURL string, hostDenyList []string) error {
	if len(hostDenyList) == 0 {
		return nil
	}
	u, err := url.Parse(targetURL)
	if err != nil {
		return fmt.Errorf("invalid destination URL: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	for _, denied := range hostDenyList {
		if host == strings.ToLower(denied) {
			return fmt.Errorf("publish host %q is on the destination host deny-list", host)
		}
	}
	return nil
}

func postJSON(ctx context.Context, client *http.Client, targetURL string, body []byte, hostDenyList []string) (string, error) {
	if err := checkHostAllowed(targetURL, hostDenyList); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("publish failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var decoded struct {
		MessageID string `json:"message_id"`
		TS        string `json:"ts"`
	}
	_ = json.Unmarshal(respBody, &decoded)
	if decoded.MessageID != "" {
		return decoded.MessageID, nil
	}
	if decoded.TS != "" {
		return decoded.TS, nil
	}
	return hashBody(respBody), nil
}

func hashBody(b []byte) string {
	sum := sha256.Sum256(b)
	return base64.RawURLEncoding.EncodeToString(sum[:8])
}

// signURL HMAC-signs a webhook URL the way DingTalk requires, kept
// from notification.DingTalkChannel.signURL.
func signURL(webhookURL, secret string) (string, error) {
	timestamp := time.Now().UnixNano() / 1e6
	stringToSign := fmt.Sprintf("%d\n%s", timestamp, secret)

	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(h.Sum(nil))

	u, err := url.Parse(webhookURL)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("timestamp", strconv.FormatInt(timestamp, 10))
	q.Set("sign", signature)
	u.RawQuery = q.Encode()

	return u.String(), nil
}
