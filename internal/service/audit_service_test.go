package service

import (
	"context"
	"testing"

	"agentex/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditRecordAndList(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	audit := NewAuditService(env.db, quietLogger())

	actor := mustCreateUser(t, env.db, "admin", true, true)

	audit.Record(ctx, &actor.ID, model.ActionCreateRole, "role-1", "ops", map[string]string{"name": "ops"})
	audit.Record(ctx, nil, model.ActionCreatePermission, "perm-1", "users:read", nil)

	logs, total, err := audit.GetAuditLogs(ctx, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, logs, 2)

	// Newest first; system actions show "System" as the actor.
	byAction := map[string]AuditLogResponse{}
	for _, l := range logs {
		byAction[l.Action] = l
	}
	assert.Equal(t, "admin", byAction[model.ActionCreateRole].Username)
	assert.Contains(t, byAction[model.ActionCreateRole].Details, "ops")
	assert.Equal(t, "System", byAction[model.ActionCreatePermission].Username)
	assert.Empty(t, byAction[model.ActionCreatePermission].UserID)
}

func TestAuditPagination(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	audit := NewAuditService(env.db, quietLogger())

	for i := 0; i < 5; i++ {
		audit.Record(ctx, nil, model.ActionUpdateRole, "role-1", "ops", nil)
	}

	logs, total, err := audit.GetAuditLogs(ctx, 2, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	assert.Len(t, logs, 2)
}
