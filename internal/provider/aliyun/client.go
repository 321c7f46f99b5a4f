package aliyun

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"ssl-dns01/internal/provider"
	"ssl-dns01/internal/signer"
)

const (
	alidnsVersion = "2015-01-09"
	acsDateLayout = "2006-01-02T15:04:05Z"
)

// errorBody 阿里云 OpenAPI 错误响应
type errorBody struct {
	RequestID string `json:"RequestId"`
	Code      string `json:"Code"`
	Message   string `json:"Message"`
}

// Client 阿里云 RPC 风格 OpenAPI 客户端，请求由 ACS3 签名器自行签名
type Client struct {
	signer     *signer.ACS3Signer
	endpoint   string
	host       string
	version    string
	httpClient *http.Client
	now        func() time.Time
	nonce      func() string
}

// ClientOption 客户端选项
type ClientOption func(*Client)

// WithEndpoint 指定接入地址（含协议）
func WithEndpoint(endpoint string) ClientOption {
	return func(c *Client) {
		c.endpoint = strings.TrimSuffix(endpoint, "/")
	}
}

// WithHTTPClient 指定 HTTP 客户端
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient 创建云解析客户端
func NewClient(accessKeyID, accessKeySecret, region string, opts ...ClientOption) (*Client, error) {
	endpoint := "https://alidns.aliyuncs.com"
	if region != "" {
		endpoint = fmt.Sprintf("https://alidns.%s.aliyuncs.com", region)
	}

	c := &Client{
		signer:     signer.NewACS3Signer(accessKeyID, accessKeySecret),
		endpoint:   endpoint,
		version:    alidnsVersion,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
		nonce:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}

	u, err := url.Parse(c.endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("无效的接入地址: %s", c.endpoint)
	}
	c.host = u.Host
	return c, nil
}

// Call 调用接口，参数放在查询串中，响应解析到 out
func (c *Client) Call(ctx context.Context, action string, params url.Values, out any) error {
	headers := map[string]string{
		"host":                  c.host,
		"x-acs-action":          action,
		"x-acs-version":         c.version,
		"x-acs-date":            c.now().UTC().Format(acsDateLayout),
		"x-acs-signature-nonce": c.nonce(),
	}

	signed, err := c.signer.Sign(&signer.Request{
		Method:  http.MethodGet,
		Path:    "/",
		Query:   params,
		Headers: headers,
	})
	if err != nil {
		return fmt.Errorf("签名请求 %s 失败: %w", action, err)
	}

	target := c.endpoint + "/"
	if query := signer.CanonicalQuery(params); query != "" {
		target += "?" + query
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return c.apiError(action, err)
	}
	httpReq.Host = c.host
	for k, v := range headers {
		if k == "host" {
			continue
		}
		httpReq.Header.Set(k, v)
	}
	for k, v := range signed.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return c.apiError(action, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return c.apiError(action, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		apiErr := &provider.APIError{
			Provider:   "aliyun",
			Action:     action,
			StatusCode: httpResp.StatusCode,
			Message:    strings.TrimSpace(string(raw)),
		}
		var body errorBody
		if json.Unmarshal(raw, &body) == nil && body.Code != "" {
			apiErr.Code = body.Code
			apiErr.Message = body.Message
			apiErr.RequestID = body.RequestID
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return c.apiError(action, fmt.Errorf("解析响应失败: %w", err))
	}
	return nil
}

func (c *Client) apiError(action string, err error) error {
	return &provider.APIError{Provider: "aliyun", Action: action, Err: err}
}
