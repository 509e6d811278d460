package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tyust/tyust-client/config"
	"github.com/tyust/tyust-client/internal/domain/shared"
	"github.com/tyust/tyust-client/internal/infrastructure/gateway"
	"github.com/tyust/tyust-client/internal/infrastructure/storage"
	"github.com/tyust/tyust-client/pkg/logger"
)

// campusServer is a minimal backend speaking the {code, data, msg} envelope.
type campusServer struct {
	mu     sync.Mutex
	routes map[string]string
	logins []map[string]string
}

func newCampusServer(t *testing.T) (*campusServer, *httptest.Server) {
	t.Helper()
	cs := &campusServer{routes: map[string]string{
		"/api/auth/login":      `{"code":0,"data":{"studentId":"2021001","name":"张三","class":"软件2101","token":"jwt-1","avatarUrl":"/avatars/1.png"}}`,
		"/api/auth/logout":     `{"code":0,"data":null}`,
		"/api/semester-config": `{"code":0,"data":{"semester_name":"2023-2024学年第二学期","semester_start_date":"2024/02/26"}}`,
		"/api/courses": `{"code":0,"data":[
			{"id":"c1","name":"高等数学","teacher":"王老师","classroom":"A101","week":1,"section":1,"sectionCount":2,"weeks":[1,2,3]},
			{"id":"c2","name":"大学英语","teacher":"李老师","classroom":"B202","week":3,"section":3,"sectionCount":2,"weeks":[2]}
		]}`,
		"/api/scores": `{"code":0,"data":[{"semester":"2023-2024-1","course":"线性代数","credit":"3","score":"91","gpa":"4.1"}]}`,
	}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		if r.URL.Path == "/api/auth/login" {
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			cs.logins = append(cs.logins, body)
		} else if r.URL.Path != "/api/semester-config" && r.Header.Get(gateway.HeaderToken) == "" {
			_, _ = io.WriteString(w, `{"code":401,"msg":"未登录"}`)
			return
		}
		body, ok := cs.routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return cs, srv
}

func (cs *campusServer) set(path, body string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.routes[path] = body
}

type testApp struct {
	*app
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	store  *storage.MemoryStore
}

func newTestApp(t *testing.T, baseURL string) *testApp {
	t.Helper()
	cfg := &config.Config{
		App: config.AppConfig{Environment: config.EnvDevelopment},
		API: config.APIConfig{
			BaseURL:                 baseURL,
			RequestTimeout:          5 * time.Second,
			CircuitBreakerThreshold: 3,
			CircuitBreakerCooldown:  time.Minute,
		},
		Store:   config.StoreConfig{Driver: storage.DriverMemory},
		Session: config.SessionConfig{RedirectDelay: 10 * time.Millisecond, DefaultTotalWeeks: 20},
	}
	require.NoError(t, cfg.Validate())

	ta := &testApp{stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}, store: storage.NewMemoryStore()}
	ta.app = newApp(cfg, ta.store, ta.stdout, newConsole(ta.stderr, false), logger.Nop())
	ta.readPassword = func() (string, error) { return "secret", nil }
	return ta
}

func TestApp_LoginAndBrowse(t *testing.T) {
	cs, srv := newCampusServer(t)
	ta := newTestApp(t, srv.URL+"/api")
	ctx := context.Background()

	require.NoError(t, ta.run(ctx, []string{"login", "-id", "2021001", "-remember"}))
	assert.Contains(t, ta.stdout.String(), "已登录：张三（2021001）软件2101")
	require.Len(t, cs.logins, 1)
	assert.Equal(t, map[string]string{"stuId": "2021001", "password": "secret"}, cs.logins[0])

	ta.stdout.Reset()
	require.NoError(t, ta.run(ctx, []string{"courses"}))
	out := ta.stdout.String()
	assert.Contains(t, out, "高等数学")
	assert.Contains(t, out, "1-2")
	assert.Contains(t, out, "1,2,3")

	ta.stdout.Reset()
	require.NoError(t, ta.run(ctx, []string{"today", "-date", "2024-03-04"}))
	assert.Contains(t, ta.stdout.String(), "周一 · 第 2 周")
	assert.Contains(t, ta.stdout.String(), "高等数学")
	assert.NotContains(t, ta.stdout.String(), "大学英语")

	ta.stdout.Reset()
	require.NoError(t, ta.run(ctx, []string{"today", "-date", "2024-03-06"}))
	assert.Contains(t, ta.stdout.String(), "大学英语")

	ta.stdout.Reset()
	require.NoError(t, ta.run(ctx, []string{"week", "-date", "2024-03-06"}))
	assert.Contains(t, ta.stdout.String(), "第 2 周（共 20 周）3 月")
	assert.Contains(t, ta.stdout.String(), "周一 4")
	assert.Contains(t, ta.stdout.String(), "周日 10")

	ta.stdout.Reset()
	require.NoError(t, ta.run(ctx, []string{"scores"}))
	assert.Contains(t, ta.stdout.String(), "线性代数")

	ta.stdout.Reset()
	require.NoError(t, ta.run(ctx, []string{"whoami"}))
	assert.Contains(t, ta.stdout.String(), "学号：2021001")
	assert.Contains(t, ta.stdout.String(), "头像："+srv.URL+"/api/avatars/1.png")

	ta.stdout.Reset()
	require.NoError(t, ta.run(ctx, []string{"logout"}))
	assert.Contains(t, ta.stdout.String(), "已退出登录")
	assert.False(t, ta.session.HasCredential(ctx))
	assert.Equal(t, "2021001", ta.session.RememberedAccount(ctx).LoginID)
}

func TestApp_LoginUsesRememberedAccount(t *testing.T) {
	cs, srv := newCampusServer(t)
	ta := newTestApp(t, srv.URL+"/api")
	ctx := context.Background()

	require.NoError(t, ta.run(ctx, []string{"login", "-id", "2021001", "-remember"}))
	require.NoError(t, ta.run(ctx, []string{"logout"}))

	ta.readPassword = func() (string, error) {
		t.Fatal("password must not be prompted for the remembered account")
		return "", nil
	}
	require.NoError(t, ta.run(ctx, []string{"login"}))
	require.Len(t, cs.logins, 2)
	assert.Equal(t, "secret", cs.logins[1]["password"])
}

func TestApp_StaleDataOnRefreshFailure(t *testing.T) {
	cs, srv := newCampusServer(t)
	ta := newTestApp(t, srv.URL+"/api")
	ctx := context.Background()
	require.NoError(t, ta.run(ctx, []string{"login", "-id", "2021001"}))

	cs.set("/api/courses", `{"code":500,"msg":"数据库维护中"}`)
	ta.stdout.Reset()
	require.NoError(t, ta.run(ctx, []string{"courses"}))

	assert.Contains(t, ta.stdout.String(), "高等数学")
	assert.Contains(t, ta.stderr.String(), "刷新失败，显示的是缓存数据：数据库维护中")
}

func TestApp_ExpiredSession(t *testing.T) {
	cs, srv := newCampusServer(t)
	ta := newTestApp(t, srv.URL+"/api")
	ctx := context.Background()
	require.NoError(t, ta.run(ctx, []string{"login", "-id", "2021001", "-remember"}))

	cs.set("/api/scores", `{"code":403,"msg":"token invalid"}`)
	err := ta.run(ctx, []string{"scores"})
	require.ErrorIs(t, err, shared.ErrUnauthenticated)

	assert.Equal(t, 1, strings.Count(ta.stderr.String(), gateway.MsgSessionExpired))
	assert.Contains(t, ta.stderr.String(), "tyust login")
	assert.Eventually(t, func() bool { return !ta.expiry.IsHandling() }, time.Second, 5*time.Millisecond)
	assert.False(t, ta.session.HasCredential(ctx))
	assert.Equal(t, "2021001", ta.session.RememberedAccount(ctx).LoginID)
}

func TestApp_CoursesOfOneWeek(t *testing.T) {
	_, srv := newCampusServer(t)
	ta := newTestApp(t, srv.URL+"/api")
	ctx := context.Background()
	require.NoError(t, ta.run(ctx, []string{"login", "-id", "2021001"}))

	ta.stdout.Reset()
	require.NoError(t, ta.run(ctx, []string{"courses", "-week", "2"}))
	assert.Contains(t, ta.stdout.String(), "第 2 周（2024-03-04 起）")
	assert.Contains(t, ta.stdout.String(), "高等数学")
	assert.Contains(t, ta.stdout.String(), "大学英语")

	ta.stdout.Reset()
	require.NoError(t, ta.run(ctx, []string{"courses", "-week", "3"}))
	assert.Contains(t, ta.stdout.String(), "高等数学")
	assert.NotContains(t, ta.stdout.String(), "大学英语")

	err := ta.run(ctx, []string{"courses", "-week", "21"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "20 weeks")
	assert.Error(t, ta.run(ctx, []string{"courses", "-week", "-1"}))
}

func TestApp_ExpiredSessionWithCachedCourses(t *testing.T) {
	cs, srv := newCampusServer(t)
	ta := newTestApp(t, srv.URL+"/api")
	ctx := context.Background()
	require.NoError(t, ta.run(ctx, []string{"login", "-id", "2021001"}))

	cs.set("/api/courses", `{"code":401,"msg":"token expired"}`)
	ta.stdout.Reset()
	require.NoError(t, ta.run(ctx, []string{"courses"}))

	assert.Contains(t, ta.stdout.String(), "高等数学", "the cached timetable stays visible")
	assert.Equal(t, 1, strings.Count(ta.stderr.String(), gateway.MsgSessionExpired))
	assert.NotContains(t, ta.stderr.String(), "刷新失败")
	assert.Eventually(t, func() bool { return !ta.expiry.IsHandling() }, time.Second, 5*time.Millisecond)
	assert.False(t, ta.session.HasCredential(ctx))
}

func TestApp_Reset(t *testing.T) {
	_, srv := newCampusServer(t)
	ta := newTestApp(t, srv.URL+"/api")
	ctx := context.Background()
	require.NoError(t, ta.run(ctx, []string{"login", "-id", "2021001", "-remember"}))

	ta.stdout.Reset()
	require.NoError(t, ta.run(ctx, []string{"reset"}))
	assert.Contains(t, ta.stdout.String(), "本地数据已清除")
	assert.False(t, ta.session.HasCredential(ctx))
	assert.True(t, ta.session.RememberedAccount(ctx).Empty())
}

func TestApp_LoginNetworkFailureNamesTheAPI(t *testing.T) {
	_, srv := newCampusServer(t)
	url := srv.URL + "/api"
	srv.Close()
	ta := newTestApp(t, url)

	err := ta.run(context.Background(), []string{"login", "-id", "2021001"})
	require.ErrorIs(t, err, shared.ErrNetwork)
	assert.Contains(t, err.Error(), url)
	assert.Contains(t, err.Error(), "TYUST_API_BASE_URL")
	assert.Equal(t, 1, strings.Count(ta.stderr.String(), gateway.MsgNetworkFailure))
}

func TestApp_Errors(t *testing.T) {
	_, srv := newCampusServer(t)
	ta := newTestApp(t, srv.URL+"/api")
	ctx := context.Background()

	assert.ErrorIs(t, ta.run(ctx, nil), errHelp)
	assert.ErrorIs(t, ta.run(ctx, []string{"dance"}), errHelp)
	assert.ErrorIs(t, ta.run(ctx, []string{"whoami"}), errNotLoggedIn)
	assert.ErrorIs(t, ta.run(ctx, []string{"login"}), errHelp, "no id and nothing remembered")
	assert.Error(t, ta.run(ctx, []string{"week", "-date", "tomorrow"}))

	ta.readPassword = func() (string, error) { return "", nil }
	assert.ErrorIs(t, ta.run(ctx, []string{"login", "-id", "2021001"}), errNoPassword)
}

func TestLabels(t *testing.T) {
	assert.Equal(t, "周日", weekdayName(7))
	assert.Equal(t, "?", weekdayName(0))
}
