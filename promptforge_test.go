package promptforge_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptforge/promptforge"
	"github.com/promptforge/promptforge/provider/mock"
	"github.com/promptforge/promptforge/quota"
	"github.com/promptforge/promptforge/version"
)

func newService(t *testing.T, p promptforge.Provider, opts ...promptforge.Option) *promptforge.Service {
	t.Helper()
	base := []promptforge.Option{
		promptforge.WithLedger(quota.New(quota.NewMemoryStore(), quota.WithLimits(quota.Limits{Free: 3, Pro: 100}))),
		promptforge.WithVersionStore(version.NewMemoryStore()),
	}
	svc, err := promptforge.New(p, append(base, opts...)...)
	require.NoError(t, err)
	return svc
}

func generateReq(requestID string) promptforge.GenerateRequest {
	return promptforge.GenerateRequest{
		Input:       "write a product launch announcement for our app",
		FrameworkID: "RACEF",
		UserID:      "alice",
		Tier:        promptforge.TierFree,
		RequestID:   requestID,
	}
}

func TestGenerateProducesVersionedOutput(t *testing.T) {
	svc := newService(t, mock.New())
	ctx := context.Background()

	result, err := svc.Generate(ctx, generateReq("req-1"))
	require.NoError(t, err)

	assert.Equal(t, "Hello from mock provider", result.Output)
	assert.Equal(t, "RACEF", result.FrameworkUsed)
	assert.NotEmpty(t, result.VersionID)

	versions, err := svc.Versions(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, result.VersionID, versions[0].ID)
	assert.Equal(t, "optimize", versions[0].Kind)
}

func TestGenerateConsumesQuota(t *testing.T) {
	svc := newService(t, mock.New())
	ctx := context.Background()

	_, err := svc.Generate(ctx, generateReq("req-1"))
	require.NoError(t, err)

	status, err := svc.Quota(ctx, "alice", promptforge.TierFree, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Used)
}

func TestGenerateRollsBackOnProviderFailure(t *testing.T) {
	p := mock.New(mock.WithError(&promptforge.UpstreamError{
		Kind:   promptforge.UpstreamTransient,
		Detail: "transport failure",
	}))
	svc := newService(t, p)
	ctx := context.Background()

	_, err := svc.Generate(ctx, generateReq("req-1"))
	require.Error(t, err)

	status, err := svc.Quota(ctx, "alice", promptforge.TierFree, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, status.Used, "a failed generation must not charge the user")
}

func TestGenerateDenialCarriesSnapshot(t *testing.T) {
	svc := newService(t, mock.New())
	ctx := context.Background()

	for i, id := range []string{"req-1", "req-2", "req-3"} {
		_, err := svc.Generate(ctx, generateReq(id))
		require.NoError(t, err, "generation %d", i)
	}

	_, err := svc.Generate(ctx, generateReq("req-4"))
	require.Error(t, err)

	var denied *promptforge.QuotaDeniedError
	require.ErrorAs(t, err, &denied)
	assert.ErrorIs(t, denied.Reason, promptforge.ErrQuotaExceeded)
	assert.Equal(t, 3, denied.Status.Used)
	assert.Equal(t, 3, denied.Status.Limit)
	assert.False(t, denied.Status.CanGenerate)
}

func TestGenerateRetryBudgetDenial(t *testing.T) {
	p := mock.New(mock.WithError(&promptforge.UpstreamError{
		Kind:   promptforge.UpstreamTransient,
		Detail: "transport failure",
	}))
	svc := newService(t, p, promptforge.WithLedger(
		quota.New(quota.NewMemoryStore(), quota.WithMaxRequestRetries(2)),
	))
	ctx := context.Background()

	req := generateReq("req-1")
	for range 2 {
		_, err := svc.Generate(ctx, req)
		require.Error(t, err)
		assert.False(t, promptforge.IsQuotaDenied(err))
	}

	_, err := svc.Generate(ctx, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, promptforge.ErrRetryExhausted)
}

func TestGenerateValidation(t *testing.T) {
	svc := newService(t, mock.New())
	ctx := context.Background()

	t.Run("short input", func(t *testing.T) {
		req := generateReq("req-1")
		req.Input = "too short"
		_, err := svc.Generate(ctx, req)
		assert.ErrorIs(t, err, promptforge.ErrInvalidInput)
	})

	t.Run("missing framework", func(t *testing.T) {
		req := generateReq("req-1")
		req.FrameworkID = ""
		_, err := svc.Generate(ctx, req)
		assert.ErrorIs(t, err, promptforge.ErrFrameworkMissing)
	})

	t.Run("missing user", func(t *testing.T) {
		req := generateReq("req-1")
		req.UserID = ""
		_, err := svc.Generate(ctx, req)
		assert.ErrorIs(t, err, promptforge.ErrInvalidInput)
	})

	t.Run("bad tier", func(t *testing.T) {
		req := generateReq("req-1")
		req.Tier = promptforge.Tier("platinum")
		_, err := svc.Generate(ctx, req)
		assert.ErrorIs(t, err, promptforge.ErrInvalidInput)
	})
}

func TestGeneratePromptCarriesFrameworkAndAnswers(t *testing.T) {
	var got promptforge.ChatRequest
	p := mock.New(mock.WithResponseFunc(func(req promptforge.ChatRequest) (promptforge.ChatResponse, error) {
		got = req
		return promptforge.ChatResponse{Content: "# Optimized", FinishReason: "stop"}, nil
	}))
	svc := newService(t, p)

	req := generateReq("req-1")
	req.Answers = promptforge.ClarificationAnswers{
		GoalClarity:    "increase signups by 20%",
		TargetAudience: "indie developers",
	}
	req.AttachmentContent = "previous launch copy"

	_, err := svc.Generate(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, got.Messages, 2)
	system, user := got.Messages[0].Content, got.Messages[1].Content
	assert.Contains(t, system, "RACEF", "framework document is in the system prompt")
	assert.Contains(t, user, "increase signups by 20%")
	assert.Contains(t, user, "indie developers")
	assert.Contains(t, user, "not provided", "unanswered clarifications get the default")
	assert.Contains(t, user, "previous launch copy")
	assert.InDelta(t, 0.7, *got.Temperature, 1e-9)
	assert.Equal(t, 3000, *got.MaxTokens)
}

func TestMatchValidatesInput(t *testing.T) {
	svc := newService(t, mock.New())

	_, err := svc.Match(context.Background(), "short", promptforge.TierFree)
	assert.ErrorIs(t, err, promptforge.ErrInvalidInput)
}

func TestMatchUsesDefaultMatcher(t *testing.T) {
	svc := newService(t, mock.New())

	candidates, err := svc.Match(context.Background(), "help me write better marketing copy", promptforge.TierFree)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "RACEF", candidates[0].ID)
}

// failingVersions always fails to persist.
type failingVersions struct{}

func (failingVersions) SaveVersion(context.Context, promptforge.Version) (string, error) {
	return "", errors.New("version store down")
}

func (failingVersions) ListVersions(context.Context, string, int) ([]promptforge.Version, error) {
	return nil, errors.New("version store down")
}

func TestGenerateSurvivesVersionStoreFailure(t *testing.T) {
	svc := newService(t, mock.New(), promptforge.WithVersionStore(failingVersions{}))

	result, err := svc.Generate(context.Background(), generateReq("req-1"))
	require.NoError(t, err, "history loss must not fail a paid-for generation")
	assert.Empty(t, result.VersionID)
	assert.NotEmpty(t, result.Output)
}

func TestGenerateTrimsOutput(t *testing.T) {
	p := mock.New(mock.WithResponseFunc(func(promptforge.ChatRequest) (promptforge.ChatResponse, error) {
		return promptforge.ChatResponse{Content: "\n\n# Prompt\n\n"}, nil
	}))
	svc := newService(t, p)

	result, err := svc.Generate(context.Background(), generateReq("req-1"))
	require.NoError(t, err)
	assert.Equal(t, "# Prompt", result.Output)
	assert.False(t, strings.HasSuffix(result.Output, "\n"))
}
