package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zabbar/zabbar/internal/config"
	"github.com/zabbar/zabbar/internal/credentials"
	agenterrors "github.com/zabbar/zabbar/internal/errors"
	"github.com/zabbar/zabbar/internal/models"
	"github.com/zabbar/zabbar/internal/zabbix"
)

// fakeClient is a RemoteAPI double with scriptable responses.
type fakeClient struct {
	mu           sync.Mutex
	token        string
	problems     []models.Alert
	problemsErr  error
	hostsErr     error
	fetchDelay   time.Duration
	problemCalls int
	loginToken   string
	loginErr     error
	ackErr       error
	acked        []string
}

func (c *fakeClient) Login(ctx context.Context, username, password string) (string, error) {
	if c.loginErr != nil {
		return "", c.loginErr
	}
	c.SetToken(c.loginToken)
	return c.loginToken, nil
}

func (c *fakeClient) Logout(ctx context.Context) error { return nil }

func (c *fakeClient) ActiveProblems(ctx context.Context) ([]models.Alert, error) {
	c.mu.Lock()
	c.problemCalls++
	delay := c.fetchDelay
	problems := make([]models.Alert, len(c.problems))
	copy(problems, c.problems)
	err := c.problemsErr
	c.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	return problems, nil
}

func (c *fakeClient) Hosts(ctx context.Context) ([]zabbix.Host, error) {
	c.mu.Lock()
	err := c.hostsErr
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return []zabbix.Host{{ID: "10", Name: "host-1"}}, nil
}

func (c *fakeClient) Acknowledge(ctx context.Context, eventID, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acked = append(c.acked, eventID)
	return c.ackErr
}

func (c *fakeClient) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *fakeClient) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *fakeClient) setProblems(problems ...models.Alert) {
	c.mu.Lock()
	c.problems = problems
	c.mu.Unlock()
}

func (c *fakeClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.problemCalls
}

// fakeProvider counts summarization calls and records prompts.
type fakeProvider struct {
	mu      sync.Mutex
	text    string
	err     error
	delay   time.Duration
	prompts []string
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Summarize(ctx context.Context, prompt string) (string, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, prompt)
	delay := p.delay
	text, err := p.text, p.err
	p.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return text, err
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.prompts)
}

func (p *fakeProvider) lastPrompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.prompts) == 0 {
		return ""
	}
	return p.prompts[len(p.prompts)-1]
}

// memStore is an in-memory store.Store double that counts snapshot saves.
type memStore struct {
	mu       sync.Mutex
	snapshot models.Snapshot
	status   models.AgentStatus
	saves    int
}

func (s *memStore) Save(snapshot models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snapshot
	s.saves++
	return nil
}

func (s *memStore) Load() (models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot, nil
}

func (s *memStore) SaveStatus(status models.AgentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	return nil
}

func (s *memStore) LoadStatus() (models.AgentStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, nil
}

func (s *memStore) Subscribe(fn func()) {}
func (s *memStore) Close() error        { return nil }

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// memCreds is an in-memory credentials.Store double.
type memCreds struct {
	mu     sync.Mutex
	tokens map[string]string
}

func newMemCreds() *memCreds { return &memCreds{tokens: map[string]string{}} }

func (c *memCreds) Get(serverID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	token, ok := c.tokens[serverID]
	if !ok {
		return "", credentials.ErrNotFound
	}
	return token, nil
}

func (c *memCreds) Save(serverID, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[serverID] = token
	return nil
}

func (c *memCreds) Delete(serverID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, serverID)
	return nil
}

func (c *memCreds) has(serverID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tokens[serverID]
	return ok
}

func testConfig() *config.Config {
	return &config.Config{
		ServerURL:       "https://zabbix.example.com",
		ServerIdentity:  "zabbix.example.com",
		PollInterval:    0, // manual-only in tests
		VerifyTLS:       true,
		PrimaryFilter:   models.NewSeveritySet(2, 3, 4, 5),
		SecondaryFilter: models.NewSeveritySet(4, 5),
		SortPreference:  "severity",
		ResultCap:       models.DefaultResultCap,
		Summary: config.SummaryConfig{
			Enabled:        true,
			Provider:       config.ProviderOllama,
			PromptTemplate: config.DefaultPromptTemplate,
			Timeout:        2 * time.Second,
		},
	}
}

func newTestAgent(t *testing.T, client *fakeClient, provider *fakeProvider, cfg *config.Config) (*Agent, *memStore, *memCreds) {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	st := &memStore{}
	creds := newMemCreds()
	a := New(client, creds, st, provider, func() *config.Config { return cfg })
	t.Cleanup(a.Shutdown)
	return a, st, creds
}

func authenticate(a *Agent, creds *memCreds, client *fakeClient) {
	creds.Save("zabbix.example.com", "tok")
	client.SetToken("tok")
	a.RestoreSession()
}

func waitForSaves(t *testing.T, st *memStore, want int) {
	t.Helper()
	require.Eventually(t, func() bool { return st.saveCount() >= want },
		2*time.Second, 10*time.Millisecond, "expected at least %d snapshot saves", want)
}

func TestRunCycleNoOpWhenLoggedOut(t *testing.T) {
	client := &fakeClient{}
	a, st, _ := newTestAgent(t, client, &fakeProvider{}, nil)

	require.NoError(t, a.RunCycle(context.Background()))
	assert.Equal(t, 0, client.calls(), "a logged-out agent must not hit the API")
	assert.Equal(t, 0, st.saveCount())
}

func TestRunCyclePublishesFilteredSnapshot(t *testing.T) {
	client := &fakeClient{}
	client.setProblems(
		models.Alert{ID: "1", Title: "Disk full", Severity: 4, OccurredAt: time.Unix(1700000100, 0)},
		models.Alert{ID: "2", Title: "CPU spike", Severity: 5, OccurredAt: time.Unix(1700000000, 0)},
		models.Alert{ID: "3", Title: "Noise", Severity: 1, OccurredAt: time.Unix(1700000200, 0)},
	)
	provider := &fakeProvider{text: "Two problems."}
	a, st, creds := newTestAgent(t, client, provider, nil)
	authenticate(a, creds, client)

	require.NoError(t, a.RunCycle(context.Background()))
	waitForSaves(t, st, 1)

	snap, _ := st.Load()
	require.Len(t, snap.Alerts, 2, "severity-1 alert must be filtered out")
	assert.Equal(t, "CPU spike", snap.Alerts[0].Title, "most severe first")
	assert.Equal(t, "Disk full", snap.Alerts[1].Title)
	assert.True(t, snap.Authenticated)
	assert.Equal(t, 2, snap.UnacknowledgedCount)
	assert.Equal(t, []int{4, 5}, snap.ActiveFilter)
	assert.Equal(t, "Two problems.", snap.SummaryText)
	assert.Equal(t, "zabbix.example.com", snap.ServerIdentity)
}

func TestRunCycleIdempotentWhenUnchanged(t *testing.T) {
	client := &fakeClient{}
	client.setProblems(models.Alert{ID: "1", Title: "Disk full", Severity: 4, OccurredAt: time.Unix(1700000000, 0)})
	provider := &fakeProvider{text: "Disk is filling up."}
	a, st, creds := newTestAgent(t, client, provider, nil)
	authenticate(a, creds, client)

	require.NoError(t, a.RunCycle(context.Background()))
	waitForSaves(t, st, 1)
	first, _ := st.Load()

	// Same remote state, fresh event id: title-based signature is unchanged.
	client.setProblems(models.Alert{ID: "99", Title: "Disk full", Severity: 4, OccurredAt: time.Unix(1700000500, 0)})
	require.NoError(t, a.RunCycle(context.Background()))
	waitForSaves(t, st, 2)
	second, _ := st.Load()

	assert.Equal(t, 1, provider.calls(), "unchanged signature must not re-summarize")
	assert.Equal(t, first.SummaryText, second.SummaryText)
	assert.True(t, second.LastUpdate.After(first.LastUpdate) || second.LastUpdate.Equal(first.LastUpdate))
}

func TestRunCycleResummarizesOnChange(t *testing.T) {
	client := &fakeClient{}
	client.setProblems(models.Alert{ID: "1", Title: "Disk full", Severity: 4})
	provider := &fakeProvider{text: "summary"}
	a, st, creds := newTestAgent(t, client, provider, nil)
	authenticate(a, creds, client)

	require.NoError(t, a.RunCycle(context.Background()))
	waitForSaves(t, st, 1)
	require.Equal(t, 1, provider.calls())

	client.setProblems(
		models.Alert{ID: "1", Title: "Disk full", Severity: 4},
		models.Alert{ID: "2", Title: "CPU spike", Severity: 5},
	)
	require.NoError(t, a.RunCycle(context.Background()))
	waitForSaves(t, st, 2)

	require.Eventually(t, func() bool { return provider.calls() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, provider.lastPrompt(), "CPU spike", "new alert must appear in the prompt")
}

func TestRunCycleSummarizationFailureUsesFallback(t *testing.T) {
	client := &fakeClient{}
	client.setProblems(models.Alert{ID: "1", Title: "Disk full", Severity: 4})
	provider := &fakeProvider{err: fmt.Errorf("model overloaded")}
	a, st, creds := newTestAgent(t, client, provider, nil)
	authenticate(a, creds, client)

	require.NoError(t, a.RunCycle(context.Background()), "a broken summarizer is not a cycle failure")
	waitForSaves(t, st, 1)

	snap, _ := st.Load()
	assert.Equal(t, "unable to generate summary", snap.SummaryText)
	require.Len(t, snap.Alerts, 1, "alert data must publish despite summarizer failure")
}

func TestRunCycleSummarizationDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Summary.Enabled = false
	client := &fakeClient{}
	client.setProblems(models.Alert{ID: "1", Title: "Disk full", Severity: 4})
	provider := &fakeProvider{text: "should not run"}
	a, st, creds := newTestAgent(t, client, provider, cfg)
	authenticate(a, creds, client)

	require.NoError(t, a.RunCycle(context.Background()))
	waitForSaves(t, st, 1)

	snap, _ := st.Load()
	assert.Empty(t, snap.SummaryText)
	assert.Equal(t, 0, provider.calls())
}

func TestRunCycleFetchErrorKeepsLastSnapshot(t *testing.T) {
	client := &fakeClient{}
	client.setProblems(models.Alert{ID: "1", Title: "Disk full", Severity: 4})
	provider := &fakeProvider{text: "summary"}
	a, st, creds := newTestAgent(t, client, provider, nil)
	authenticate(a, creds, client)

	require.NoError(t, a.RunCycle(context.Background()))
	waitForSaves(t, st, 1)
	good, _ := st.Load()

	client.mu.Lock()
	client.hostsErr = agenterrors.NewConnectionError("host_get", "zabbix.example.com", fmt.Errorf("connection refused"))
	client.mu.Unlock()

	err := a.RunCycle(context.Background())
	require.Error(t, err, "a failed fetch must report a cycle error")

	current, _ := st.Load()
	assert.Equal(t, good.Alerts, current.Alerts, "failed cycle must not touch the published snapshot")
	assert.Equal(t, models.StateAuthenticated, a.State(), "a network error must not end the session")
}

func TestRunCycleSessionExpiry(t *testing.T) {
	client := &fakeClient{}
	client.setProblems(models.Alert{ID: "1", Title: "Disk full", Severity: 4})
	provider := &fakeProvider{text: "summary"}
	a, st, creds := newTestAgent(t, client, provider, nil)
	authenticate(a, creds, client)

	require.NoError(t, a.RunCycle(context.Background()))
	waitForSaves(t, st, 1)
	good, _ := st.Load()

	client.mu.Lock()
	client.problemsErr = agenterrors.NewSessionExpiredError("problem_get", "zabbix.example.com")
	client.mu.Unlock()

	err := a.RunCycle(context.Background())
	require.Error(t, err)
	require.True(t, agenterrors.IsSessionExpired(err))

	assert.Equal(t, models.StateLoggedOut, a.State())
	assert.False(t, creds.has("zabbix.example.com"), "expired credential must be cleared")

	current, _ := st.Load()
	assert.Equal(t, good.Alerts, current.Alerts, "last good alert data must remain visible after expiry")
	assert.Equal(t, good.SummaryText, current.SummaryText)
	assert.False(t, current.Authenticated, "the published snapshot must reflect the ended session")
}

func TestRunCycleOverlappingTicksDropped(t *testing.T) {
	client := &fakeClient{fetchDelay: 150 * time.Millisecond}
	client.setProblems(models.Alert{ID: "1", Title: "Disk full", Severity: 4})
	provider := &fakeProvider{text: "summary"}
	a, st, creds := newTestAgent(t, client, provider, nil)
	authenticate(a, creds, client)

	done := make(chan struct{})
	go func() {
		a.RunCycle(context.Background())
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)

	// Second tick while the first cycle is still fetching.
	require.NoError(t, a.RunCycle(context.Background()))
	<-done

	assert.Equal(t, 1, client.calls(), "overlapping tick must be a no-op")
	waitForSaves(t, st, 1)
}

func TestLogoutDuringCycle(t *testing.T) {
	client := &fakeClient{fetchDelay: 150 * time.Millisecond}
	client.setProblems(models.Alert{ID: "1", Title: "Disk full", Severity: 4})
	provider := &fakeProvider{text: "summary"}
	a, st, creds := newTestAgent(t, client, provider, nil)
	authenticate(a, creds, client)

	done := make(chan struct{})
	go func() {
		a.RunCycle(context.Background())
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)

	require.NoError(t, a.Logout())
	<-done
	// Give any stray summarize worker time to (incorrectly) publish.
	time.Sleep(50 * time.Millisecond)

	snap, _ := st.Load()
	assert.False(t, snap.Authenticated, "snapshot must stay unauthenticated after logout")
	assert.Empty(t, snap.Alerts, "a cycle finishing after logout must not publish alert data")
	assert.Equal(t, models.StateLoggedOut, a.State())
}

func TestLogoutIdempotent(t *testing.T) {
	client := &fakeClient{}
	a, _, _ := newTestAgent(t, client, &fakeProvider{}, nil)

	require.NoError(t, a.Logout())
	require.NoError(t, a.Logout())
	assert.Equal(t, models.StateLoggedOut, a.State())
}

func TestLoginFailureStaysLoggedOut(t *testing.T) {
	client := &fakeClient{loginErr: agenterrors.NewAuthError("login", "zabbix.example.com", fmt.Errorf("bad credentials"))}
	a, _, creds := newTestAgent(t, client, &fakeProvider{}, nil)

	err := a.Login(context.Background(), "alice", "wrong")
	require.Error(t, err)
	assert.Equal(t, models.StateLoggedOut, a.State())
	assert.False(t, creds.has("zabbix.example.com"))
}

func TestLoginSuccessStoresCredentialAndCycles(t *testing.T) {
	client := &fakeClient{loginToken: "fresh-token"}
	client.setProblems(models.Alert{ID: "1", Title: "Disk full", Severity: 4})
	provider := &fakeProvider{text: "summary"}
	a, st, creds := newTestAgent(t, client, provider, nil)

	require.NoError(t, a.Login(context.Background(), "alice", "secret"))
	assert.Equal(t, "fresh-token", client.Token())
	assert.True(t, creds.has("zabbix.example.com"))

	waitForSaves(t, st, 1)
	snap, _ := st.Load()
	assert.True(t, snap.Authenticated)
}

func TestAcknowledgeAlwaysRefreshes(t *testing.T) {
	client := &fakeClient{ackErr: fmt.Errorf("permission denied")}
	client.setProblems(models.Alert{ID: "1", Title: "Disk full", Severity: 4})
	provider := &fakeProvider{text: "summary"}
	a, _, creds := newTestAgent(t, client, provider, nil)
	authenticate(a, creds, client)

	err := a.Acknowledge(context.Background(), "1", "on it")
	require.Error(t, err, "the acknowledge error must surface")
	assert.Equal(t, 1, client.calls(), "a cycle must run even when the acknowledge failed")
}

func TestUnacknowledgedCountUsesPreCapSet(t *testing.T) {
	cfg := testConfig()
	cfg.ResultCap = 5
	client := &fakeClient{}
	problems := make([]models.Alert, 0, 12)
	for i := 0; i < 12; i++ {
		problems = append(problems, models.Alert{
			ID:         fmt.Sprintf("%d", i),
			Title:      fmt.Sprintf("Problem %d", i),
			Severity:   4,
			OccurredAt: time.Unix(int64(1700000000+i), 0),
		})
	}
	client.setProblems(problems...)
	provider := &fakeProvider{text: "summary"}
	a, st, creds := newTestAgent(t, client, provider, cfg)
	authenticate(a, creds, client)

	require.NoError(t, a.RunCycle(context.Background()))
	waitForSaves(t, st, 1)

	snap, _ := st.Load()
	assert.Len(t, snap.Alerts, 5, "published list is capped")
	assert.Equal(t, 12, snap.UnacknowledgedCount, "count comes from the pre-cap filtered set")
	assert.Equal(t, 5, snap.ResultCap)
}

func TestTitlePatternFilter(t *testing.T) {
	cfg := testConfig()
	cfg.TitlePattern = "Disk*"
	client := &fakeClient{}
	client.setProblems(
		models.Alert{ID: "1", Title: "Disk full", Severity: 4},
		models.Alert{ID: "2", Title: "CPU spike", Severity: 5},
	)
	provider := &fakeProvider{text: "summary"}
	a, st, creds := newTestAgent(t, client, provider, cfg)
	authenticate(a, creds, client)

	require.NoError(t, a.RunCycle(context.Background()))
	waitForSaves(t, st, 1)

	snap, _ := st.Load()
	require.Len(t, snap.Alerts, 1)
	assert.Equal(t, "Disk full", snap.Alerts[0].Title)
}

func TestStaleSummaryDiscardedOnSignatureChange(t *testing.T) {
	client := &fakeClient{}
	client.setProblems(models.Alert{ID: "1", Title: "Disk full", Severity: 4})
	provider := &fakeProvider{text: "summary", delay: 120 * time.Millisecond}
	a, st, creds := newTestAgent(t, client, provider, nil)
	authenticate(a, creds, client)

	// First cycle launches a slow summarization.
	require.NoError(t, a.RunCycle(context.Background()))

	// The alert set changes while the old call is still running.
	client.setProblems(models.Alert{ID: "2", Title: "CPU spike", Severity: 5})
	require.NoError(t, a.RunCycle(context.Background()))

	// Eventually the stale result is discarded and a fresh call covers the
	// new signature; the published snapshot must reflect the latest set.
	require.Eventually(t, func() bool {
		snap, _ := st.Load()
		return len(snap.Alerts) == 1 && snap.Alerts[0].Title == "CPU spike" && snap.SummaryText != ""
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, 2, provider.calls(), "one call per distinct signature, no extra launches")
}

func TestChangedCycleSummarizedAfterRelogin(t *testing.T) {
	client := &fakeClient{loginToken: "fresh-token"}
	client.setProblems(models.Alert{ID: "1", Title: "Disk full", Severity: 4})
	provider := &fakeProvider{text: "summary", delay: 300 * time.Millisecond}
	a, st, creds := newTestAgent(t, client, provider, nil)
	authenticate(a, creds, client)

	// First cycle launches a slow summarization for the old session.
	require.NoError(t, a.RunCycle(context.Background()))

	// Session is torn down and rebuilt while that call is still running, and
	// the new session sees a different alert set.
	require.NoError(t, a.Logout())
	client.setProblems(models.Alert{ID: "2", Title: "CPU spike", Severity: 5})
	require.NoError(t, a.Login(context.Background(), "alice", "secret"))

	// The old worker's completion must not swallow the new session's
	// summarization request: the changed set still gets summarized and
	// published.
	require.Eventually(t, func() bool {
		snap, _ := st.Load()
		return snap.Authenticated && len(snap.Alerts) == 1 &&
			snap.Alerts[0].Title == "CPU spike" && snap.SummaryText == "summary"
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, 2, provider.calls())
}

func TestSummaryAttachesToFreshestSnapshot(t *testing.T) {
	client := &fakeClient{}
	client.setProblems(models.Alert{ID: "1", Title: "Disk full", Severity: 4})
	provider := &fakeProvider{text: "summary", delay: 200 * time.Millisecond}
	a, st, creds := newTestAgent(t, client, provider, nil)
	authenticate(a, creds, client)

	// First cycle defers publication behind a slow summarization.
	require.NoError(t, a.RunCycle(context.Background()))

	// The alert is acknowledged before the call returns; the title set (and
	// so the signature) is unchanged, so this cycle publishes immediately.
	client.setProblems(models.Alert{ID: "1", Title: "Disk full", Severity: 4, Acknowledged: true})
	require.NoError(t, a.RunCycle(context.Background()))

	// When the summarization completes it must attach to the acknowledged
	// snapshot, not roll the consumer back to the pre-acknowledge state.
	require.Eventually(t, func() bool {
		snap, _ := st.Load()
		return snap.SummaryText == "summary"
	}, 3*time.Second, 20*time.Millisecond)

	snap, _ := st.Load()
	require.Len(t, snap.Alerts, 1)
	assert.True(t, snap.Alerts[0].Acknowledged, "acknowledgement state must survive the summary publication")
	assert.Equal(t, 0, snap.UnacknowledgedCount)
	assert.Equal(t, 1, provider.calls(), "an unchanged signature must not re-summarize")
}

func TestEndToEndSignatureScenario(t *testing.T) {
	client := &fakeClient{}
	client.setProblems(models.Alert{ID: "1", Title: "Disk full", Severity: 4})
	provider := &fakeProvider{text: "summary"}
	a, st, creds := newTestAgent(t, client, provider, nil)
	authenticate(a, creds, client)

	require.NoError(t, a.RunCycle(context.Background()))
	waitForSaves(t, st, 1)
	require.Equal(t, 1, provider.calls())
	assert.Contains(t, provider.lastPrompt(), "Disk full")

	a.mu.Lock()
	sig := a.lastSig
	a.mu.Unlock()
	assert.Equal(t, "Disk full|4,5", sig)

	// Identical fetch: no new summarization.
	require.NoError(t, a.RunCycle(context.Background()))
	waitForSaves(t, st, 2)
	assert.Equal(t, 1, provider.calls())

	// Changed set: new signature, one more summarization with the new title.
	client.setProblems(
		models.Alert{ID: "1", Title: "Disk full", Severity: 4},
		models.Alert{ID: "2", Title: "CPU spike", Severity: 5},
	)
	require.NoError(t, a.RunCycle(context.Background()))
	require.Eventually(t, func() bool { return provider.calls() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, strings.Contains(provider.lastPrompt(), "CPU spike"))
}
