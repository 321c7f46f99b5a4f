package tencent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ssl-dns01/internal/provider"
	"ssl-dns01/internal/signer"
)

const (
	dnspodEndpoint = "https://dnspod.tencentcloudapi.com"
	dnspodService  = "dnspod"
	dnspodVersion  = "2021-03-23"

	contentTypeJSON = "application/json; charset=utf-8"
)

type jsonRequest interface {
	ToJsonString() string
}

type jsonResponse interface {
	FromJsonString(s string) error
}

// errorEnvelope 腾讯云 API 3.0 错误响应
type errorEnvelope struct {
	Response struct {
		Error *struct {
			Code    string `json:"Code"`
			Message string `json:"Message"`
		} `json:"Error"`
		RequestID string `json:"RequestId"`
	} `json:"Response"`
}

// Client 腾讯云 API 3.0 客户端，请求由 TC3 签名器自行签名
type Client struct {
	signer     *signer.TC3Signer
	endpoint   string
	host       string
	version    string
	region     string
	httpClient *http.Client
	now        func() time.Time
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

// WithRegion 指定地域（DNSPod 为全局服务，可不填）
func WithRegion(region string) ClientOption {
	return func(c *Client) {
		c.region = region
	}
}

// NewClient 创建 DNSPod 客户端
func NewClient(secretID, secretKey string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		signer:     signer.NewTC3Signer(secretID, secretKey, dnspodService),
		endpoint:   dnspodEndpoint,
		version:    dnspodVersion,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
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

// Call 调用接口，req/resp 为 DNSPod SDK 中的请求/响应模型
func (c *Client) Call(ctx context.Context, action string, req jsonRequest, resp jsonResponse) error {
	body := []byte(req.ToJsonString())

	signed, err := c.signer.Sign(&signer.Request{
		Method: http.MethodPost,
		Headers: map[string]string{
			"Host":         c.host,
			"Content-Type": contentTypeJSON,
		},
		Body: body,
	}, c.now().Unix())
	if err != nil {
		return fmt.Errorf("签名请求 %s 失败: %w", action, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/", bytes.NewReader(body))
	if err != nil {
		return c.apiError(action, err)
	}
	httpReq.Host = c.host
	httpReq.Header.Set("Content-Type", contentTypeJSON)
	httpReq.Header.Set("X-TC-Action", action)
	httpReq.Header.Set("X-TC-Version", c.version)
	httpReq.Header.Set("X-TC-Language", "zh-CN")
	if c.region != "" {
		httpReq.Header.Set("X-TC-Region", c.region)
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
		return &provider.APIError{
			Provider:   "tencent",
			Action:     action,
			StatusCode: httpResp.StatusCode,
			Message:    strings.TrimSpace(string(raw)),
		}
	}

	var envelope errorEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return c.apiError(action, fmt.Errorf("解析响应失败: %w", err))
	}
	if e := envelope.Response.Error; e != nil {
		return &provider.APIError{
			Provider:   "tencent",
			Action:     action,
			StatusCode: httpResp.StatusCode,
			Code:       e.Code,
			Message:    e.Message,
			RequestID:  envelope.Response.RequestID,
		}
	}

	if err := resp.FromJsonString(string(raw)); err != nil {
		return c.apiError(action, fmt.Errorf("解析响应失败: %w", err))
	}
	return nil
}

func (c *Client) apiError(action string, err error) error {
	return &provider.APIError{Provider: "tencent", Action: action, Err: err}
}
