package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// AccountSummary 汇总单个账户的运行结果。
type AccountSummary struct {
	Address     string
	Name        string
	Events      int
	Failed      int
	TotalReward decimal.Decimal
	Err         error
}

// Notification 封装一次报表运行的摘要。
type Notification struct {
	RunID         string
	From          time.Time
	To            time.Time
	Symbol        string
	Duration      time.Duration
	Accounts      []AccountSummary
	AdditionalMsg string
}

// FailedAccounts 统计失败账户数。
func (n Notification) FailedAccounts() int {
	failed := 0
	for _, acc := range n.Accounts {
		if acc.Err != nil {
			failed++
		}
	}
	return failed
}

// Notifier 定义通知输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "notify_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("run_id", note.RunID).
		Int("accounts", len(note.Accounts)).
		Int("failed_accounts", note.FailedAccounts()).
		Msg("运行摘要已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	status := "OK"
	if note.FailedAccounts() > 0 {
		status = "PARTIAL"
	}
	builder.WriteString(fmt.Sprintf("[Staking Reward Report] %s\n", status))
	builder.WriteString(fmt.Sprintf("Run: %s\n", note.RunID))
	builder.WriteString(fmt.Sprintf("Window: %s .. %s UTC\n", note.From.UTC().Format(time.DateOnly), note.To.UTC().Format(time.DateOnly)))
	if note.Duration > 0 {
		builder.WriteString(fmt.Sprintf("Duration: %s\n", note.Duration.Round(time.Second)))
	}
	for _, acc := range note.Accounts {
		label := acc.Name
		if label == "" {
			label = acc.Address
		}
		if acc.Err != nil {
			builder.WriteString(fmt.Sprintf("- %s: FAILED (%s)\n", label, acc.Err))
			continue
		}
		builder.WriteString(fmt.Sprintf("- %s: %d events, %s %s", label, acc.Events, acc.TotalReward.StringFixed(4), note.Symbol))
		if acc.Failed > 0 {
			builder.WriteString(fmt.Sprintf(", %d skipped", acc.Failed))
		}
		builder.WriteString("\n")
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
