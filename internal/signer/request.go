// Package signer 实现云厂商 API 的请求签名（腾讯云 TC3 与阿里云 ACS3），不依赖厂商 SDK。
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strings"
)

// ErrInvalidInput 签名输入不合法（例如缺少 host 头）
var ErrInvalidInput = errors.New("签名输入不合法")

// Request 待签名的 HTTP 请求
type Request struct {
	Method  string
	Path    string            // 为空时视为 "/"
	Query   url.Values        // 查询参数
	Headers map[string]string // 请求头，名称大小写不敏感
	Body    []byte
}

// Signed 签名结果，构造后不再修改
type Signed struct {
	CanonicalRequest string
	StringToSign     string
	SignedHeaders    string
	Signature        string
	Authorization    string

	// Headers 需要附加到请求上的头（包含 Authorization）
	Headers map[string]string
}

// header 按名称大小写不敏感地查找请求头
func (r *Request) header(name string) (string, bool) {
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

func (r *Request) method() string {
	if r.Method == "" {
		return "GET"
	}
	return strings.ToUpper(r.Method)
}

type headerPair struct {
	name  string
	value string
}

// canonicalHeaders 生成 "key:value\n" 形式的规范头以及分号连接的头名称列表
func canonicalHeaders(pairs []headerPair) (string, string) {
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].name < pairs[j].name })

	var b strings.Builder
	names := make([]string, 0, len(pairs))
	for _, p := range pairs {
		b.WriteString(p.name)
		b.WriteByte(':')
		b.WriteString(p.value)
		b.WriteByte('\n')
		names = append(names, p.name)
	}
	return b.String(), strings.Join(names, ";")
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key []byte, msg string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}
