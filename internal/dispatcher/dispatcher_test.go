package dispatcher

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
)

type recordingHandler struct {
	calls []domain.JobKind
	out   string
	err   error
}

func (h *recordingHandler) Execute(_ context.Context, kind domain.JobKind, _ domain.JobConfig, _ domain.ProjectContext) (string, error) {
	h.calls = append(h.calls, kind)
	return h.out, h.err
}

func project() domain.ProjectContext {
	return domain.ProjectContext{ProjectID: uuid.New(), OwnerID: uuid.New()}
}

func TestRegistry_RoutesByKind(t *testing.T) {
	snapshot := &recordingHandler{out: "snapshot stored"}
	export := &recordingHandler{out: "exported"}
	r := NewRegistry().
		Register(domain.KindAnalyticsSnapshot, snapshot).
		Register(domain.KindAnalyticsExport, export)

	out, err := r.Execute(context.Background(), domain.KindAnalyticsSnapshot,
		domain.AnalyticsSnapshotConfig{Metrics: []string{"clicks"}}, project())
	require.NoError(t, err)
	assert.Equal(t, "snapshot stored", out)
	assert.Len(t, snapshot.calls, 1)
	assert.Empty(t, export.calls)
	assert.Equal(t, []domain.JobKind{domain.KindAnalyticsExport, domain.KindAnalyticsSnapshot}, r.Kinds())
}

func TestRegistry_UnknownKindFails(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), domain.KindKeywordRankSync,
		domain.KeywordRankSyncConfig{KeywordSetID: "set-1", SearchEngine: "google", Locale: "en-US", Depth: 10}, project())
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestRegistry_Fallback(t *testing.T) {
	fallback := &recordingHandler{out: "ok"}
	r := NewRegistry().WithFallback(fallback)
	out, err := r.Execute(context.Background(), domain.KindAnalyticsSnapshot,
		domain.AnalyticsSnapshotConfig{Metrics: []string{"clicks"}}, project())
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, []domain.JobKind{domain.KindAnalyticsSnapshot}, fallback.calls)
}

func TestRegistry_ConfigKindMismatch(t *testing.T) {
	h := &recordingHandler{}
	r := NewRegistry().Register(domain.KindAnalyticsExport, h)
	_, err := r.Execute(context.Background(), domain.KindAnalyticsExport,
		domain.AnalyticsSnapshotConfig{Metrics: []string{"clicks"}}, project())
	require.Error(t, err)
	assert.Empty(t, h.calls)
}

func TestLogHandler(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	out, err := LogHandler(zap.New(core)).Execute(context.Background(), domain.KindAnalyticsSnapshot,
		domain.AnalyticsSnapshotConfig{Metrics: []string{"clicks"}}, project())
	require.NoError(t, err)
	assert.Equal(t, "accepted analytics-snapshot", out)
	assert.Equal(t, 1, logs.FilterMessage("dispatcher: job accepted without worker").Len())
}
