package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/auto-dw/pkg/models"
)

func TestColumnStatusService_List(t *testing.T) {
	score := 0.9
	repo := &mockClassificationRepo{statuses: []*models.ColumnStatus{
		{SchemaName: "public", TableName: "customer", ColumnName: "city", Status: models.ColumnStatusReadyToDeploy, ConfidenceScore: &score},
		{SchemaName: "public", TableName: "customer", ColumnName: "notes", Status: models.ColumnStatusQueued},
	}}
	svc := NewColumnStatusService(repo, 0.8, zap.NewNop())

	statuses, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, statuses, 2)
	assert.Equal(t, 0.8, repo.statusThreshold)
}

func TestColumnStatusService_ListError(t *testing.T) {
	repo := &mockClassificationRepo{err: errors.New("boom")}
	svc := NewColumnStatusService(repo, 0.8, zap.NewNop())

	_, err := svc.List(context.Background())
	assert.EqualError(t, err, "boom")
}
