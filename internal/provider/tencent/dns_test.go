package tencent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssl-dns01/internal/config"
	"ssl-dns01/internal/provider"
	"ssl-dns01/internal/signer"
)

type fakeRecord struct {
	ID     uint64
	Domain string
	Name   string
	Value  string
	TTL    uint64
}

// fakeDNSPod 模拟 DNSPod API，校验每个请求的 TC3 签名
type fakeDNSPod struct {
	t       *testing.T
	mu      sync.Mutex
	domains []map[string]any
	records []*fakeRecord
	nextID  uint64
	actions []string
}

func (f *fakeDNSPod) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	require.NoError(f.t, err)

	ts, err := strconv.ParseInt(r.Header.Get("X-TC-Timestamp"), 10, 64)
	require.NoError(f.t, err)
	signed, err := signer.NewTC3Signer("AKIDTEST", "SECRET", "dnspod").Sign(&signer.Request{
		Method:  r.Method,
		Headers: map[string]string{"host": r.Host, "content-type": r.Header.Get("Content-Type")},
		Body:    body,
	}, ts)
	require.NoError(f.t, err)

	action := r.Header.Get("X-TC-Action")
	if r.Header.Get("Authorization") != signed.Authorization {
		f.reply(w, map[string]any{"Error": map[string]string{"Code": "AuthFailure.SignatureFailure", "Message": "签名错误"}})
		return
	}

	var params map[string]any
	require.NoError(f.t, json.Unmarshal(body, &params))

	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)

	switch action {
	case "DescribeDomainList":
		offsetValue, _ := params["Offset"].(float64)
		offset := int(offsetValue)
		var page []map[string]any
		if offset < len(f.domains) {
			page = f.domains[offset:]
		}
		f.reply(w, map[string]any{"DomainList": page})
	case "DescribeRecordList":
		var list []map[string]any
		for _, rec := range f.records {
			if rec.Domain == params["Domain"] && rec.Name == params["Subdomain"] {
				list = append(list, map[string]any{
					"RecordId": rec.ID, "Name": rec.Name, "Type": "TXT", "Value": rec.Value, "TTL": rec.TTL,
				})
			}
		}
		if len(list) == 0 {
			f.reply(w, map[string]any{"Error": map[string]string{"Code": codeNoDataOfRecord, "Message": "记录列表为空"}})
			return
		}
		f.reply(w, map[string]any{"RecordList": list})
	case "CreateRecord":
		f.nextID++
		rec := &fakeRecord{
			ID:     f.nextID,
			Domain: params["Domain"].(string),
			Name:   params["SubDomain"].(string),
			Value:  params["Value"].(string),
		}
		if ttl, ok := params["TTL"].(float64); ok {
			rec.TTL = uint64(ttl)
		}
		f.records = append(f.records, rec)
		f.reply(w, map[string]any{"RecordId": rec.ID})
	case "DeleteRecord":
		id := uint64(params["RecordId"].(float64))
		for i, rec := range f.records {
			if rec.ID == id {
				f.records = append(f.records[:i], f.records[i+1:]...)
				break
			}
		}
		f.reply(w, map[string]any{})
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (f *fakeDNSPod) reply(w http.ResponseWriter, resp map[string]any) {
	resp["RequestId"] = "req-test"
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"Response": resp})
}

func newTestProvider(t *testing.T, fake *fakeDNSPod, secretKey string) *DNSProvider {
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	p, err := NewDNSProvider(config.Credential{
		Provider:  "tencent",
		SecretID:  "AKIDTEST",
		SecretKey: secretKey,
		TTL:       600,
	}, nil, WithEndpoint(server.URL))
	require.NoError(t, err)
	return p
}

func TestListZones(t *testing.T) {
	fake := &fakeDNSPod{t: t, domains: []map[string]any{
		{"DomainId": 1, "Name": "example.com", "Status": "ENABLE", "DNSStatus": ""},
		{"DomainId": 2, "Name": "paused.com", "Status": "PAUSE", "DNSStatus": ""},
		{"DomainId": 3, "Name": "moved.com", "Status": "ENABLE", "DNSStatus": "DNSERROR"},
	}}
	p := newTestProvider(t, fake, "SECRET")

	zones, err := p.ListZones(context.Background())
	require.NoError(t, err)
	require.Len(t, zones, 3)

	assert.Equal(t, &provider.Zone{ID: "1", Name: "example.com"}, zones[0])
	assert.True(t, zones[1].Disabled)
	assert.Contains(t, zones[1].Reason, "PAUSE")
	assert.True(t, zones[2].Disabled)
}

func TestRecordLifecycle(t *testing.T) {
	fake := &fakeDNSPod{t: t}
	p := newTestProvider(t, fake, "SECRET")
	ctx := context.Background()
	zone := &provider.Zone{ID: "1", Name: "example.com"}

	require.NoError(t, p.CreateRecord(ctx, zone, "_acme-challenge", "token-a"))
	require.NoError(t, p.CreateRecord(ctx, zone, "_acme-challenge", "token-b"))
	// 相同记录不重复添加
	require.NoError(t, p.CreateRecord(ctx, zone, "_acme-challenge", "token-a"))

	fake.mu.Lock()
	require.Len(t, fake.records, 2)
	assert.Equal(t, uint64(600), fake.records[0].TTL)
	fake.mu.Unlock()

	require.NoError(t, p.DeleteRecord(ctx, zone, "_acme-challenge", "token-a"))

	fake.mu.Lock()
	require.Len(t, fake.records, 1)
	assert.Equal(t, "token-b", fake.records[0].Value)
	fake.mu.Unlock()

	err := p.DeleteRecord(ctx, zone, "_acme-challenge", "token-a")
	assert.ErrorIs(t, err, provider.ErrRecordNotFound)
}

func TestSignatureRejected(t *testing.T) {
	fake := &fakeDNSPod{t: t}
	p := newTestProvider(t, fake, "WRONG")

	_, err := p.ListZones(context.Background())
	require.Error(t, err)

	code, ok := provider.IsAPIError(err)
	assert.True(t, ok)
	assert.Equal(t, "AuthFailure.SignatureFailure", code)
}

func TestHTTPStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := NewClient("id", "key", WithEndpoint(server.URL))
	require.NoError(t, err)

	err = client.Call(context.Background(), "DescribeDomainList", &rawRequest{}, &rawResponse{})
	var apiErr *provider.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

type rawRequest struct{}

func (r *rawRequest) ToJsonString() string { return "{}" }

type rawResponse struct{ body string }

func (r *rawResponse) FromJsonString(s string) error {
	r.body = s
	return nil
}
