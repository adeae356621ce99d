package borrows

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"LERS-backend/internal/platform/auth"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(f *fixture, actor *auth.Actor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if actor != nil {
			c.Set(auth.CtxUserIDKey, actor.UserID)
			c.Set(auth.CtxRoleKey, string(actor.Role))
		}
		c.Next()
	})
	RegisterRoutes(r, f.svc, nil)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var rd *bytes.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_RequestReturn(t *testing.T) {
	f := newFixture(t)
	b := f.borrow(StatusActive)
	r := newRouter(f, &f.student)

	w := do(r, http.MethodPost, "/borrows/"+b.ID+"/return-request",
		`{"request_data":true,"data_request_remarks":"logs","requested_equipment_ids":[1,"x"]}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"borrow_status":"PENDING_RETURN"`)
	assert.Contains(t, w.Body.String(), `"requested_equipment_ids":[]`)
}

func TestHandler_RequestReturn_EmptyBody(t *testing.T) {
	f := newFixture(t)
	b := f.borrow(StatusActive)
	r := newRouter(f, &f.student)

	w := do(r, http.MethodPost, "/borrows/"+b.ID+"/return-request", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"data_requested":false`)
}

func TestHandler_InvalidTransitionIs400(t *testing.T) {
	f := newFixture(t)
	b := f.borrow(StatusRejectedStaff)
	r := newRouter(f, &f.student)

	w := do(r, http.MethodPost, "/borrows/"+b.ID+"/return-request", `{"request_data":false}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"INVALID_TRANSITION"`)
	assert.Contains(t, w.Body.String(), "REJECTED_STAFF")
}

func TestHandler_Unauthenticated(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f, nil)

	w := do(r, http.MethodGet, "/borrow-groups/"+newID(), "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"UNAUTHORIZED"`)
}

func TestHandler_BulkApprove(t *testing.T) {
	f := newFixture(t)
	a := f.borrow(StatusPending)
	b := f.borrow(StatusApproved)

	w := do(newRouter(f, &f.staff), http.MethodPost, "/borrows/bulk-approve",
		`{"borrow_ids":["`+a.ID+`","`+b.ID+`","`+newID()+`"]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"approved_count":1,"requested_count":3,"skipped_count":2}`, w.Body.String())

	w = do(newRouter(f, &f.student), http.MethodPost, "/borrows/bulk-approve", `{"borrow_ids":["`+a.ID+`"]}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(newRouter(f, &f.staff), http.MethodPost, "/borrows/bulk-approve", `{"borrow_ids":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_DeleteDataFile(t *testing.T) {
	f := newFixture(t)
	b := f.dataRequest(DataFile{ID: "f1", Name: "scan.csv", URL: "u"})
	r := newRouter(f, &f.staff)

	w := do(r, http.MethodDelete, "/data-requests/"+b.ID+"/files/f1", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"data_files":[]`)

	w = do(r, http.MethodDelete, "/data-requests/"+b.ID+"/files/f1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_FetchGroupForbidden(t *testing.T) {
	f := newFixture(t)
	gid, _ := f.group()

	w := do(newRouter(f, &f.stranger), http.MethodGet, "/borrow-groups/"+gid, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(newRouter(f, &f.student), http.MethodGet, "/borrow-groups/"+gid, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, strings.Count(w.Body.String(), `"borrow_id"`))
}

func TestHandler_LifecycleRoutes(t *testing.T) {
	f := newFixture(t)
	b := f.borrow(StatusPending)
	r := newRouter(f, &f.staff)

	w := do(r, http.MethodPost, "/borrows/"+b.ID+"/approve", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = do(r, http.MethodPost, "/borrows/"+b.ID+"/checkout", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"borrow_status":"ACTIVE"`)

	w = do(r, http.MethodGet, "/borrows/pending-returns", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"items":[],"next_offset":0}`, w.Body.String())
}
