package handlers_test

import (
	"net/http"
	"testing"

	"github.com/hugh/go-tenant/internal/api/dto"
	"github.com/hugh/go-tenant/internal/database/models"
	"github.com/hugh/go-tenant/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRoleHandler_UpdateGrantsAccess(t *testing.T) {
	env := setupTestRouter(t)

	rr := env.do(t, "GET", "/api/v1/billing/transactions", nil, env.memberToken)
	testutil.AssertStatus(t, rr, http.StatusForbidden)

	rr = env.do(t, "PUT", "/api/v1/organizations/roles/member/permissions",
		map[string]interface{}{"permissions": models.Permissions{"billing": {"view"}}}, env.Token)
	testutil.AssertStatus(t, rr, http.StatusOK)

	var resp dto.RolePermissionsResponse
	testutil.ParseJSONResponse(t, rr, &resp)
	assert.Equal(t, "member", resp.Role)
	assert.Equal(t, models.Permissions{"billing": {"view"}}, resp.Permissions)

	rr = env.do(t, "GET", "/api/v1/billing/transactions", nil, env.memberToken)
	testutil.AssertStatus(t, rr, http.StatusOK)

	rr = env.do(t, "DELETE", "/api/v1/organizations/roles/member/permissions", nil, env.Token)
	testutil.AssertStatus(t, rr, http.StatusNoContent)

	rr = env.do(t, "GET", "/api/v1/billing/transactions", nil, env.memberToken)
	testutil.AssertStatus(t, rr, http.StatusForbidden)
}

func TestRoleHandler_UpdateValidation(t *testing.T) {
	env := setupTestRouter(t)

	tests := []struct {
		name       string
		path       string
		body       interface{}
		token      string
		wantStatus int
	}{
		{
			name:       "platform capability",
			path:       "/api/v1/organizations/roles/member/permissions",
			body:       map[string]interface{}{"permissions": models.Permissions{"product": {"create"}}},
			token:      env.Token,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing permissions",
			path:       "/api/v1/organizations/roles/member/permissions",
			body:       map[string]interface{}{},
			token:      env.Token,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad action",
			path:       "/api/v1/organizations/roles/member/permissions",
			body:       map[string]interface{}{"permissions": models.Permissions{"billing": {"View All"}}},
			token:      env.Token,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad role slug",
			path:       "/api/v1/organizations/roles/Bad%20Role/permissions",
			body:       map[string]interface{}{"permissions": models.Permissions{"billing": {"view"}}},
			token:      env.Token,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "member cannot edit roles",
			path:       "/api/v1/organizations/roles/member/permissions",
			body:       map[string]interface{}{"permissions": models.Permissions{"billing": {"view"}}},
			token:      env.memberToken,
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, "PUT", tt.path, tt.body, tt.token)
			testutil.AssertStatus(t, rr, tt.wantStatus)
		})
	}
}

func TestRoleHandler_List(t *testing.T) {
	env := setupTestRouter(t)

	rr := env.do(t, "GET", "/api/v1/organizations/roles", nil, env.Token)
	testutil.AssertStatus(t, rr, http.StatusOK)

	var resp struct {
		Data       []dto.RolePermissionsResponse `json:"data"`
		Assignable models.Permissions            `json:"assignable"`
	}
	testutil.ParseJSONResponse(t, rr, &resp)
	if assert.Len(t, resp.Data, 1) {
		assert.Equal(t, models.RoleOwner, resp.Data[0].Role)
	}
	assert.Contains(t, resp.Assignable, "billing")
	assert.NotContains(t, resp.Assignable, "product")
}
