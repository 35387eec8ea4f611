package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"

	"energy-maps/algo"
	"energy-maps/db"
	"energy-maps/model"
	"energy-maps/utils"
)

type testServer struct {
	t      *testing.T
	router *gin.Engine
	admin  string // 管理员 token
	user   string // 普通用户 token
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := db.Open(sqlite.Open(dsn))
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	Store = db.NewStore(gdb)
	Index = algo.NewMeterIndex()
	Log = zap.NewNop()
	MaxImageBytes = 1 << 20
	ConfigureAuth("test-secret", time.Hour)

	require.NoError(t, Store.EnsureAdmin("admin", "admin123"))
	admin, err := Store.FindUserByUsername("admin")
	require.NoError(t, err)
	adminToken, err := IssueToken(admin)
	require.NoError(t, err)

	hashed, err := utils.HashPassword("user1234")
	require.NoError(t, err)
	u := &model.User{Username: "viewer", Password: hashed, Role: model.RoleUser}
	require.NoError(t, Store.CreateUser(u))
	userToken, err := IssueToken(u)
	require.NoError(t, err)

	r := gin.New()
	SetupRoutes(r, "")
	return &testServer{t: t, router: r, admin: adminToken, user: userToken}
}

func (s *testServer) do(method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) json(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(s.t, err)
		r = bytes.NewReader(data)
	}
	return s.do(method, path, token, r, "application/json")
}

// createMap 以管理员身份上传地图; width/height 为 0 时不带图片
func (s *testServer) createMap(name string, width, height int, fields map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(s.t, mw.WriteField("name", name))
	for k, v := range fields {
		require.NoError(s.t, mw.WriteField(k, v))
	}
	if width > 0 && height > 0 {
		fw, err := mw.CreateFormFile("image", name+".png")
		require.NoError(s.t, err)
		require.NoError(s.t, png.Encode(fw, image.NewGray(image.Rect(0, 0, width, height))))
	}
	require.NoError(s.t, mw.Close())
	return s.do(http.MethodPost, "/api/maps", s.admin, &buf, mw.FormDataContentType())
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}
