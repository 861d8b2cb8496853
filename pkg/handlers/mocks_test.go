package handlers

import (
	"context"
	"net/http"

	"github.com/ekaya-inc/auto-dw/pkg/models"
	"github.com/ekaya-inc/auto-dw/pkg/services"
)

// noScope stands in for database.WithScopeContext in handler tests.
func noScope(next http.HandlerFunc) http.HandlerFunc {
	return next
}

type mockBuildService struct {
	buildResult *services.BuildResult
	loadResult  *services.LoadResult
	preview     *services.SQLPreview
	schema      *models.DVSchema
	builds      []*models.DVBuild
	err         error

	lastRequest services.BuildRequest
	lastBuildID string
	calls       []string
}

var _ services.BuildService = (*mockBuildService)(nil)

func (m *mockBuildService) Build(ctx context.Context, req services.BuildRequest) (*services.BuildResult, error) {
	m.calls = append(m.calls, "Build")
	m.lastRequest = req
	if m.err != nil {
		return nil, m.err
	}
	return m.buildResult, nil
}

func (m *mockBuildService) Load(ctx context.Context, buildID string) (*services.LoadResult, error) {
	m.calls = append(m.calls, "Load")
	m.lastBuildID = buildID
	return m.loadResult, m.err
}

func (m *mockBuildService) Run(ctx context.Context, req services.BuildRequest) (*services.BuildResult, *services.LoadResult, error) {
	m.calls = append(m.calls, "Run")
	m.lastRequest = req
	return m.buildResult, m.loadResult, m.err
}

func (m *mockBuildService) Plan(ctx context.Context, req services.BuildRequest) (*services.BuildResult, *services.SQLPreview, error) {
	m.calls = append(m.calls, "Plan")
	m.lastRequest = req
	if m.err != nil {
		return nil, nil, m.err
	}
	return m.buildResult, m.preview, nil
}

func (m *mockBuildService) PreviewSQL(ctx context.Context, buildID string) (*services.SQLPreview, error) {
	m.calls = append(m.calls, "PreviewSQL")
	m.lastBuildID = buildID
	if m.err != nil {
		return nil, m.err
	}
	return m.preview, nil
}

func (m *mockBuildService) GetSchema(ctx context.Context, buildID string) (*models.DVSchema, error) {
	m.calls = append(m.calls, "GetSchema")
	m.lastBuildID = buildID
	if m.err != nil {
		return nil, m.err
	}
	return m.schema, nil
}

func (m *mockBuildService) ListBuilds(ctx context.Context) ([]*models.DVBuild, error) {
	m.calls = append(m.calls, "ListBuilds")
	if m.err != nil {
		return nil, m.err
	}
	return m.builds, nil
}

type mockColumnStatusService struct {
	statuses []*models.ColumnStatus
	err      error
}

func (m *mockColumnStatusService) List(ctx context.Context) ([]*models.ColumnStatus, error) {
	return m.statuses, m.err
}

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(ctx context.Context) error {
	return m.err
}
