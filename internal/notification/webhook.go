// Package notification 通过 Webhook 推送证书事件
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"text/template"
	"time"

	"go.uber.org/zap"

	"ssl-dns01/internal/config"
	"ssl-dns01/internal/logger"
)

// EventType 事件类型
type EventType string

const (
	EventCertExpiring    EventType = "cert_expiring"    // 证书即将过期
	EventCertRenewed     EventType = "cert_renewed"     // 证书签发/续期成功
	EventCertFailed      EventType = "cert_failed"      // 证书签发失败
	EventCertDeployed    EventType = "cert_deployed"    // 证书已上传到云平台
	EventChallengeFailed EventType = "challenge_failed" // DNS 验证记录处理失败
)

// EventData 事件数据
type EventData struct {
	Event     string         `json:"event"`
	Domain    string         `json:"domain"`
	Timestamp string         `json:"timestamp"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// WebhookNotifier Webhook 通知器，未启用时为 nil，所有方法对 nil 安全
type WebhookNotifier struct {
	config *config.WebhookConfig
	client *http.Client
	wait   func(ctx context.Context, d time.Duration) error
	log    *zap.SugaredLogger
}

// NewWebhookNotifier 创建 Webhook 通知器
func NewWebhookNotifier(cfg *config.WebhookConfig, log *zap.SugaredLogger) *WebhookNotifier {
	if cfg == nil || !cfg.Enabled {
		return nil
	}

	timeout := 30 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	return &WebhookNotifier{
		config: cfg,
		client: &http.Client{Timeout: timeout},
		wait:   sleepContext,
		log:    logger.OrNop(log),
	}
}

// ShouldNotify 检查是否应该发送该事件的通知
func (w *WebhookNotifier) ShouldNotify(eventType EventType) bool {
	if !w.IsEnabled() {
		return false
	}

	// 没有配置事件列表时发送所有事件
	if len(w.config.Events) == 0 {
		return true
	}
	return slices.Contains(w.config.Events, string(eventType))
}

// Notify 发送通知，失败时按 1s、2s、4s 退避重试
func (w *WebhookNotifier) Notify(ctx context.Context, eventType EventType, domain, message string, data map[string]any) error {
	if !w.ShouldNotify(eventType) {
		return nil
	}

	eventData := EventData{
		Event:     string(eventType),
		Domain:    domain,
		Timestamp: time.Now().Format(time.RFC3339),
		Message:   message,
		Data:      data,
	}

	body, err := w.buildBody(eventData)
	if err != nil {
		return err
	}

	retries := w.config.Retries
	if retries <= 0 {
		retries = 3
	}

	var lastErr error
	for i := 0; i < retries; i++ {
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * time.Second
			w.log.Warnf("Webhook 通知失败，%v 后重试 (第 %d/%d 次)...", backoff, i+1, retries)
			if err := w.wait(ctx, backoff); err != nil {
				w.log.Warnf("Webhook 通知已取消: %v", err)
				return fmt.Errorf("%w (上次错误: %v)", err, lastErr)
			}
		}

		if lastErr = w.post(ctx, body); lastErr == nil {
			w.log.Infof("Webhook 通知发送成功: %s (事件: %s, 域名: %s)", w.config.URL, eventType, domain)
			return nil
		}
		if ctx.Err() != nil {
			break
		}
	}

	w.log.Errorf("Webhook 通知发送失败 (已尝试 %d 次): %v", retries, lastErr)
	return lastErr
}

// sleepContext 等待 d，ctx 取消时提前返回
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (w *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range w.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("Webhook 返回错误状态码: %d", resp.StatusCode)
	}
	return nil
}

// buildBody 生成请求体；模板渲染失败时退回默认 JSON
func (w *WebhookNotifier) buildBody(eventData EventData) ([]byte, error) {
	if w.config.BodyTemplate != "" {
		body, err := renderTemplate(w.config.BodyTemplate, eventData)
		if err == nil {
			return body, nil
		}
		w.log.Warnf("渲染 Webhook 请求体模板失败: %v", err)
	}

	body, err := json.Marshal(eventData)
	if err != nil {
		return nil, fmt.Errorf("序列化事件数据失败: %w", err)
	}
	return body, nil
}

func renderTemplate(tmplStr string, data EventData) ([]byte, error) {
	funcMap := template.FuncMap{
		"toJson": func(v any) string {
			b, err := json.Marshal(v)
			if err != nil {
				return "null"
			}
			return string(b)
		},
	}

	tmpl, err := template.New("webhook").Funcs(funcMap).Option("missingkey=zero").Parse(tmplStr)
	if err != nil {
		return nil, fmt.Errorf("解析模板失败: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("渲染模板失败: %w", err)
	}
	return buf.Bytes(), nil
}

// NotifyCertExpiring 通知证书即将过期
func (w *WebhookNotifier) NotifyCertExpiring(ctx context.Context, name string, daysRemaining int) error {
	message := fmt.Sprintf("证书即将过期: %s (剩余 %d 天)", name, daysRemaining)
	return w.Notify(ctx, EventCertExpiring, name, message, map[string]any{"days_remaining": daysRemaining})
}

// NotifyCertRenewed 通知证书签发/续期成功
func (w *WebhookNotifier) NotifyCertRenewed(ctx context.Context, name string, domains []string, notAfter time.Time) error {
	message := fmt.Sprintf("证书签发/续期成功: %s", name)
	return w.Notify(ctx, EventCertRenewed, name, message, map[string]any{
		"domains":   domains,
		"not_after": notAfter.Format(time.RFC3339),
	})
}

// NotifyCertFailed 通知证书签发失败
func (w *WebhookNotifier) NotifyCertFailed(ctx context.Context, name, reason string) error {
	message := fmt.Sprintf("证书签发失败: %s", name)
	return w.Notify(ctx, EventCertFailed, name, message, map[string]any{"reason": reason})
}

// NotifyCertDeployed 通知证书已上传到云平台
func (w *WebhookNotifier) NotifyCertDeployed(ctx context.Context, name, target, certID string) error {
	message := fmt.Sprintf("证书已上传到 %s: %s", target, name)
	return w.Notify(ctx, EventCertDeployed, name, message, map[string]any{
		"target":  target,
		"cert_id": certID,
	})
}

// NotifyChallengeFailed 通知验证记录处理失败
func (w *WebhookNotifier) NotifyChallengeFailed(ctx context.Context, domain, result, reason string) error {
	message := fmt.Sprintf("DNS 验证记录处理失败: %s (%s)", domain, result)
	return w.Notify(ctx, EventChallengeFailed, domain, message, map[string]any{
		"result": result,
		"reason": reason,
	})
}

// IsEnabled 检查是否启用
func (w *WebhookNotifier) IsEnabled() bool {
	return w != nil && w.config != nil && w.config.Enabled
}
