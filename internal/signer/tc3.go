package signer

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// TC3Algorithm 腾讯云 API 3.0 签名算法
	TC3Algorithm  = "TC3-HMAC-SHA256"
	tc3RequestTag = "tc3_request"
)

// tc3SignedHeaders 参与 TC3 签名的固定头集合
var tc3SignedHeaders = []string{"content-type", "host"}

// TC3Signer 腾讯云 TC3-HMAC-SHA256 签名器（按日期、服务派生签名密钥）
type TC3Signer struct {
	SecretID  string
	SecretKey string
	Service   string // 例如 dnspod、ssl
}

// NewTC3Signer 创建 TC3 签名器
func NewTC3Signer(secretID, secretKey, service string) *TC3Signer {
	return &TC3Signer{SecretID: secretID, SecretKey: secretKey, Service: service}
}

// Sign 对请求签名，timestamp 为整秒 Unix 时间戳
func (s *TC3Signer) Sign(req *Request, timestamp int64) (*Signed, error) {
	if _, ok := req.header("host"); !ok {
		return nil, fmt.Errorf("%w: 缺少 host 头", ErrInvalidInput)
	}

	method := req.method()

	pairs := make([]headerPair, 0, len(tc3SignedHeaders))
	for _, name := range tc3SignedHeaders {
		value, _ := req.header(name)
		pairs = append(pairs, headerPair{name: name, value: strings.TrimSpace(value)})
	}
	headers, signedHeaders := canonicalHeaders(pairs)

	payloadHash := sha256Hex(nil)
	if method != "GET" {
		payloadHash = sha256Hex(req.Body)
	}

	query := ""
	if len(req.Query) > 0 {
		query = req.Query.Encode()
	}

	canonicalRequest := strings.Join([]string{
		method,
		"/",
		query,
		headers,
		signedHeaders,
		payloadHash,
	}, "\n")

	date := time.Unix(timestamp, 0).UTC().Format("2006-01-02")
	scope := date + "/" + s.Service + "/" + tc3RequestTag
	stringToSign := strings.Join([]string{
		TC3Algorithm,
		strconv.FormatInt(timestamp, 10),
		scope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")

	secretDate := hmacSHA256([]byte("TC3"+s.SecretKey), date)
	secretService := hmacSHA256(secretDate, s.Service)
	secretSigning := hmacSHA256(secretService, tc3RequestTag)
	signature := hex.EncodeToString(hmacSHA256(secretSigning, stringToSign))

	authorization := fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		TC3Algorithm, s.SecretID, scope, signedHeaders, signature)

	return &Signed{
		CanonicalRequest: canonicalRequest,
		StringToSign:     stringToSign,
		SignedHeaders:    signedHeaders,
		Signature:        signature,
		Authorization:    authorization,
		Headers: map[string]string{
			"Authorization":  authorization,
			"X-TC-Timestamp": strconv.FormatInt(timestamp, 10),
		},
	}, nil
}
