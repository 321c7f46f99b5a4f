package signer

import (
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// ACS3Algorithm 阿里云 V3 签名算法
	ACS3Algorithm = "ACS3-HMAC-SHA256"

	acsHeaderPrefix  = "x-acs-"
	acsContentSHA256 = "x-acs-content-sha256"
)

// ACS3Signer 阿里云 ACS3-HMAC-SHA256 签名器（单次 HMAC，不做密钥派生）
type ACS3Signer struct {
	AccessKeyID     string
	AccessKeySecret string
}

// NewACS3Signer 创建 ACS3 签名器
func NewACS3Signer(accessKeyID, accessKeySecret string) *ACS3Signer {
	return &ACS3Signer{AccessKeyID: accessKeyID, AccessKeySecret: accessKeySecret}
}

// Sign 对请求签名。x-acs-date、x-acs-signature-nonce 等头由调用方放入 req.Headers，
// x-acs-content-sha256 由签名器计算并在结果中返回。
func (s *ACS3Signer) Sign(req *Request) (*Signed, error) {
	if _, ok := req.header("host"); !ok {
		return nil, fmt.Errorf("%w: 缺少 host 头", ErrInvalidInput)
	}

	payloadHash := sha256Hex(req.Body)

	pairs := []headerPair{{name: acsContentSHA256, value: payloadHash}}
	for k, v := range req.Headers {
		name := strings.ToLower(strings.TrimSpace(k))
		if name == acsContentSHA256 {
			continue
		}
		if strings.HasPrefix(name, acsHeaderPrefix) || name == "host" || name == "content-type" {
			pairs = append(pairs, headerPair{name: name, value: strings.TrimSpace(v)})
		}
	}
	headers, signedHeaders := canonicalHeaders(pairs)

	canonicalRequest := strings.Join([]string{
		req.method(),
		canonicalPath(req.Path),
		CanonicalQuery(req.Query),
		headers,
		signedHeaders,
		payloadHash,
	}, "\n")

	stringToSign := ACS3Algorithm + "\n" + sha256Hex([]byte(canonicalRequest))
	signature := hex.EncodeToString(hmacSHA256([]byte(s.AccessKeySecret), stringToSign))

	authorization := fmt.Sprintf("%s Credential=%s,SignedHeaders=%s,Signature=%s",
		ACS3Algorithm, s.AccessKeyID, signedHeaders, signature)

	return &Signed{
		CanonicalRequest: canonicalRequest,
		StringToSign:     stringToSign,
		SignedHeaders:    signedHeaders,
		Signature:        signature,
		Authorization:    authorization,
		Headers: map[string]string{
			"Authorization":  authorization,
			acsContentSHA256: payloadHash,
		},
	}, nil
}
