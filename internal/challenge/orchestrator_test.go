package challenge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-acme/lego/v4/challenge/dns01"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssl-dns01/internal/provider"
)

type memRecord struct {
	zone  string
	rr    string
	value string
}

// memDNS 内存中的DNS提供商
type memDNS struct {
	mu        sync.Mutex
	zones     []*provider.Zone
	records   []memRecord
	listCalls int
	inFlight  int
	overlap   bool
	createErr error
}

func (m *memDNS) Name() string { return "mem" }

func (m *memDNS) ListZones(ctx context.Context) ([]*provider.Zone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	return m.zones, nil
}

func (m *memDNS) enter() {
	m.mu.Lock()
	m.inFlight++
	if m.inFlight > 1 {
		m.overlap = true
	}
	m.mu.Unlock()
	time.Sleep(2 * time.Millisecond)
}

func (m *memDNS) leave() {
	m.mu.Lock()
	m.inFlight--
	m.mu.Unlock()
}

func (m *memDNS) CreateRecord(ctx context.Context, zone *provider.Zone, rr, value string) error {
	m.enter()
	defer m.leave()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, r := range m.records {
		if r.zone == zone.Name && r.rr == rr && r.value == value {
			return nil
		}
	}
	m.records = append(m.records, memRecord{zone: zone.Name, rr: rr, value: value})
	return nil
}

func (m *memDNS) DeleteRecord(ctx context.Context, zone *provider.Zone, rr, value string) error {
	m.enter()
	defer m.leave()

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.records {
		if r.zone == zone.Name && r.rr == rr && r.value == value {
			m.records = append(m.records[:i], m.records[i+1:]...)
			return nil
		}
	}
	return provider.ErrRecordNotFound
}

func (m *memDNS) snapshot() []memRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]memRecord(nil), m.records...)
}

func newTestOrchestrator(p provider.DNSProvider, opts ...Option) *Orchestrator {
	return New(p, append([]Option{WithInterval(0), WithCleanupJitter(0)}, opts...)...)
}

func TestWildcardAndApexShareChallengeName(t *testing.T) {
	dns := &memDNS{zones: []*provider.Zone{
		{ID: "1", Name: "example.com"},
		{ID: "2", Name: "dev.example.com"},
	}}
	o := newTestOrchestrator(dns)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]Result, 3)
	inputs := []struct{ domain, value string }{
		{"*.example.com", "wild-token"},
		{"example.com", "apex-token"},
		{"api.dev.example.com", "api-token"},
	}
	for i, in := range inputs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = o.Setup(ctx, in.domain, in.value)
		}()
	}
	wg.Wait()

	assert.Equal(t, []Result{ResultCreated, ResultCreated, ResultCreated}, results)
	assert.Equal(t, 1, dns.listCalls)
	assert.False(t, dns.overlap)

	assert.ElementsMatch(t, []memRecord{
		{zone: "example.com", rr: "_acme-challenge", value: "wild-token"},
		{zone: "example.com", rr: "_acme-challenge", value: "apex-token"},
		{zone: "dev.example.com", rr: "_acme-challenge.api", value: "api-token"},
	}, dns.snapshot())
	assert.Equal(t, StateCreated, o.State("*.example.com", "wild-token"))

	// 只删除值匹配的那一条
	assert.Equal(t, ResultDeleted, o.Cleanup(ctx, "*.example.com", "wild-token"))
	assert.ElementsMatch(t, []memRecord{
		{zone: "example.com", rr: "_acme-challenge", value: "apex-token"},
		{zone: "dev.example.com", rr: "_acme-challenge.api", value: "api-token"},
	}, dns.snapshot())

	assert.Equal(t, ResultDeleted, o.Cleanup(ctx, "example.com", "apex-token"))
	assert.Equal(t, ResultDeleted, o.Cleanup(ctx, "api.dev.example.com", "api-token"))
	assert.Empty(t, dns.snapshot())
	assert.Equal(t, StateRemoved, o.State("example.com", "apex-token"))
	assert.Equal(t, 1, dns.listCalls)
}

func TestCleanupIsIdempotent(t *testing.T) {
	dns := &memDNS{zones: []*provider.Zone{{Name: "example.com"}}}
	o := newTestOrchestrator(dns)
	ctx := context.Background()

	require.Equal(t, ResultCreated, o.Setup(ctx, "www.example.com", "v"))
	assert.Equal(t, ResultDeleted, o.Cleanup(ctx, "www.example.com", "v"))
	assert.Equal(t, ResultRecordNotFound, o.Cleanup(ctx, "www.example.com", "v"))
	assert.True(t, ResultRecordNotFound.OK())
}

func TestZoneFailures(t *testing.T) {
	dns := &memDNS{zones: []*provider.Zone{
		{Name: "example.com"},
		{Name: "paused.net", Disabled: true, Reason: "域名已暂停"},
	}}

	type failure struct {
		domain string
		result Result
	}
	var failures []failure
	o := newTestOrchestrator(dns, WithFailureFunc(func(domain string, result Result, err error) {
		failures = append(failures, failure{domain, result})
	}))
	ctx := context.Background()

	assert.Equal(t, ResultZoneNotFound, o.Setup(ctx, "www.other.org", "v"))
	assert.Equal(t, ResultZoneNotUsable, o.Setup(ctx, "www.paused.net", "v"))
	// 添加时已失败的记录，清理不再重复回调
	assert.Equal(t, ResultZoneNotFound, o.Cleanup(ctx, "www.other.org", "v"))
	assert.Equal(t, ResultZoneNotUsable, o.Cleanup(ctx, "www.paused.net", "v"))
	assert.Equal(t, StateFailed, o.State("www.other.org", "v"))

	// 未经添加的清理照常回调
	assert.Equal(t, ResultZoneNotFound, o.Cleanup(ctx, "www.unknown.org", "v"))

	// 后缀未按点对齐不算匹配
	assert.Equal(t, ResultZoneNotFound, o.Setup(ctx, "badexample.com", "v"))

	assert.Equal(t, []failure{
		{"www.other.org", ResultZoneNotFound},
		{"www.paused.net", ResultZoneNotUsable},
		{"www.unknown.org", ResultZoneNotFound},
		{"badexample.com", ResultZoneNotFound},
	}, failures)
	assert.Equal(t, 1, dns.listCalls)
	assert.Empty(t, dns.snapshot())
}

func TestSetupReportsProviderFailure(t *testing.T) {
	apiErr := &provider.APIError{Provider: "mem", Action: "CreateRecord", Code: "LimitExceeded"}
	dns := &memDNS{zones: []*provider.Zone{{Name: "example.com"}}, createErr: apiErr}

	var got error
	o := newTestOrchestrator(dns, WithFailureFunc(func(domain string, result Result, err error) {
		got = err
	}))

	assert.Equal(t, ResultFailed, o.Setup(context.Background(), "example.com", "v"))
	assert.True(t, errors.Is(got, apiErr))
	assert.Equal(t, StateFailed, o.State("example.com", "v"))
}

func TestCleanupWaitsJitterBeforeEnqueue(t *testing.T) {
	dns := &memDNS{zones: []*provider.Zone{{Name: "example.com"}}}

	var slept []time.Duration
	o := New(dns, WithInterval(0), WithSleep(func(d time.Duration) { slept = append(slept, d) }))
	o.jitter = func(limit time.Duration) time.Duration {
		assert.Equal(t, DefaultCleanupJitter, limit)
		return 1234 * time.Millisecond
	}

	ctx := context.Background()
	require.Equal(t, ResultCreated, o.Setup(ctx, "example.com", "v"))
	assert.Empty(t, slept)

	require.Equal(t, ResultDeleted, o.Cleanup(ctx, "example.com", "v"))
	assert.Equal(t, []time.Duration{1234 * time.Millisecond}, slept)
}

func TestCleanupSurvivesCancelledContext(t *testing.T) {
	dns := &memDNS{zones: []*provider.Zone{{Name: "example.com"}}}
	o := newTestOrchestrator(dns)

	require.Equal(t, ResultCreated, o.Setup(context.Background(), "example.com", "v"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, ResultDeleted, o.Cleanup(ctx, "example.com", "v"))
	assert.Empty(t, dns.snapshot())
}

func TestLegoProviderHooks(t *testing.T) {
	t.Setenv("LEGO_DISABLE_CNAME_SUPPORT", "true")

	dns := &memDNS{zones: []*provider.Zone{{Name: "example.com"}}}
	o := newTestOrchestrator(dns, WithTimeout(90*time.Second, 3*time.Second))

	keyAuth := "token.thumbprint"
	want := dns01.GetChallengeInfo("example.com", keyAuth).Value

	require.NoError(t, o.Present("example.com", "token", keyAuth))
	assert.Equal(t, []memRecord{{zone: "example.com", rr: "_acme-challenge", value: want}}, dns.snapshot())

	require.NoError(t, o.CleanUp("example.com", "token", keyAuth))
	assert.Empty(t, dns.snapshot())

	// 失败也不向 lego 返回错误
	require.NoError(t, o.Present("nowhere.org", "token", keyAuth))

	timeout, interval := o.Timeout()
	assert.Equal(t, 90*time.Second, timeout)
	assert.Equal(t, 3*time.Second, interval)
}

func TestChallengeFollowsCNAMETarget(t *testing.T) {
	dns := &memDNS{zones: []*provider.Zone{
		{Name: "example.com"},
		{Name: "acme-zone.net"},
	}}
	o := newTestOrchestrator(dns)
	ctx := context.Background()

	info := dns01.ChallengeInfo{
		FQDN:          "_acme-challenge.www.example.com.",
		EffectiveFQDN: "www.Acme-Zone.net.",
		Value:         "v",
	}
	key, target := o.challengeTarget("www.example.com", info)
	assert.Equal(t, recordKey{domain: "www.example.com", value: "v"}, key)

	assert.Equal(t, ResultCreated, o.setup(ctx, key, target))
	assert.Equal(t, []memRecord{{zone: "acme-zone.net", rr: "www", value: "v"}}, dns.snapshot())
	assert.Equal(t, StateCreated, o.State("www.example.com", "v"))

	assert.Equal(t, ResultDeleted, o.cleanup(ctx, key, target))
	assert.Empty(t, dns.snapshot())

	// 没有 CNAME 时仍写在 _acme-challenge 下
	info.EffectiveFQDN = info.FQDN
	key, target = o.challengeTarget("www.example.com", info)
	assert.Equal(t, ResultCreated, o.setup(ctx, key, target))
	assert.Equal(t, []memRecord{{zone: "example.com", rr: "_acme-challenge.www", value: "v"}}, dns.snapshot())
}

func TestDefaultJitterWithinBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := randomJitter(DefaultCleanupJitter)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, DefaultCleanupJitter)
	}
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "zone_not_usable", ResultZoneNotUsable.String())
	assert.Equal(t, "cleanup_queued", StateCleanupQueued.String())
	assert.False(t, ResultFailed.OK())
}
