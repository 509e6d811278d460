// Package campus contains the student-facing operations of the client:
// sign-in and sign-out, the timetable, scores and the academic week. Every
// list follows the cache-then-revalidate flow implemented by Revalidate.
package campus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tyust/tyust-client/internal/domain/semester"
	"github.com/tyust/tyust-client/internal/domain/session"
	"github.com/tyust/tyust-client/internal/domain/shared"
	"github.com/tyust/tyust-client/internal/infrastructure/cache"
	"github.com/tyust/tyust-client/internal/infrastructure/gateway"
	"github.com/tyust/tyust-client/pkg/logger"
	"github.com/tyust/tyust-client/pkg/timeutil"
)

// Backend routes.
const (
	PathLogin          = "/auth/login"
	PathLogout         = "/auth/logout"
	PathCourses        = "/courses"
	PathSemesterConfig = "/semester-config"
	PathScores         = "/scores"
	PathRawScores      = "/raw-scores"
	PathUserInfo       = "/user/info"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES (Interfaces)
// ══════════════════════════════════════════════════════════════════════════════

// Sender performs classified requests. *gateway.Gateway implements it.
type Sender interface {
	Send(ctx context.Context, spec gateway.RequestSpec) (json.RawMessage, error)
}

// SessionStore is the session state used by the client.
// *session.Manager from the application layer implements it.
type SessionStore interface {
	HasCredential(ctx context.Context) bool
	Identity(ctx context.Context) session.Identity
	SetSession(ctx context.Context, credential string, id session.Identity) error
	UpdateIdentity(ctx context.Context, id session.Identity) error
	ClearSession(ctx context.Context, preserveRememberedAccount bool) error
	RememberAccount(ctx context.Context, acc session.RememberedAccount) error
	RememberedAccount(ctx context.Context) session.RememberedAccount
	ForgetAccount(ctx context.Context) error
	Reset(ctx context.Context) error
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Config holds client settings.
type Config struct {
	// DefaultTotalWeeks applies when the server omits the semester length.
	DefaultTotalWeeks int
}

// Client wires the gateway, the session and the entity cache together.
type Client struct {
	api      Sender
	session  SessionStore
	cache    *cache.EntityCache
	cfg      Config
	validate *validator.Validate
	log      *logger.Logger
}

// NewClient creates a Client.
func NewClient(api Sender, sess SessionStore, c *cache.EntityCache, cfg Config, log *logger.Logger) *Client {
	if cfg.DefaultTotalWeeks <= 0 {
		cfg.DefaultTotalWeeks = semester.DefaultTotalWeeks
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		api:      api,
		session:  sess,
		cache:    c,
		cfg:      cfg,
		validate: validator.New(),
		log:      log.With(logger.Component("campus")),
	}
}

// Session exposes the session store, for callers that only need to read it.
func (c *Client) Session() SessionStore { return c.session }

// ══════════════════════════════════════════════════════════════════════════════
// SIGN-IN / SIGN-OUT
// ══════════════════════════════════════════════════════════════════════════════

// Login signs in, stores the session and warms the cache with the semester
// configuration and then the timetable. A warm-up failure is reported in
// LoginResult.PrefetchErr and does not undo the login.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if err := c.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("login: %w: %v", shared.ErrInvalidInput, err)
	}

	var info UserInfo
	_, err := c.api.Send(ctx, gateway.RequestSpec{
		Path:     PathLogin,
		Method:   http.MethodPost,
		Body:     req,
		SkipAuth: true,
		Into:     &info,
		Accept: func() error {
			if info.Token == "" {
				return errors.New("response carries no token")
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if info.StudentID == "" {
		info.StudentID = req.LoginID
	}

	id := info.Identity()
	if err := c.session.SetSession(ctx, info.Token, id); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	if req.Remember {
		err = c.session.RememberAccount(ctx, session.RememberedAccount{LoginID: req.LoginID, Password: req.Password})
	} else {
		err = c.session.ForgetAccount(ctx)
	}
	if err != nil {
		c.log.Warn("remembered account not updated", logger.Err(err))
	}

	c.log.Info("signed in", logger.StudentID(id.StudentID))

	result := &LoginResult{Identity: c.session.Identity(ctx)}
	result.PrefetchErr = c.prefetch(ctx)
	if result.PrefetchErr != nil {
		c.log.Warn("post-login prefetch failed", logger.Err(result.PrefetchErr))
	}
	return result, nil
}

// prefetch runs the warm-up stages in order and stops at the first failure.
func (c *Client) prefetch(ctx context.Context) error {
	stages := []struct {
		name string
		run  func(context.Context) error
	}{
		{"semester config", func(ctx context.Context) error {
			_, err := c.fetchSemester(ctx)
			return err
		}},
		{"courses", func(ctx context.Context) error {
			_, err := c.fetchCourses(ctx)
			return err
		}},
	}
	for _, stage := range stages {
		if err := stage.run(ctx); err != nil {
			return fmt.Errorf("prefetch %s: %w", stage.name, err)
		}
	}
	return nil
}

// Logout tells the server the session is over and clears local state.
// The server call is best effort. keepAccount preserves the remembered login.
func (c *Client) Logout(ctx context.Context, keepAccount bool) error {
	if c.session.HasCredential(ctx) {
		_, err := c.api.Send(ctx, gateway.RequestSpec{
			Path:        PathLogout,
			Method:      http.MethodPost,
			NoIndicator: true,
		})
		if err != nil {
			c.log.Warn("server logout failed", logger.Err(err))
		}
	}
	if err := c.session.ClearSession(ctx, keepAccount); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	c.log.Info("signed out", logger.Bool("kept_account", keepAccount))
	return nil
}

// Reset signs out like Logout and then wipes every key the client owns,
// the remembered account included.
func (c *Client) Reset(ctx context.Context) error {
	if err := c.Logout(ctx, false); err != nil {
		c.log.Warn("logout before reset failed", logger.Err(err))
	}
	if err := c.session.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

// ValidateToken checks the stored credential against the server without the
// loading indicator. It is false when there is no credential or on any error.
func (c *Client) ValidateToken(ctx context.Context) bool {
	if !c.session.HasCredential(ctx) {
		return false
	}
	_, err := c.api.Send(ctx, gateway.RequestSpec{Path: PathUserInfo, NoIndicator: true})
	return err == nil
}

// UserInfo reloads the profile from the server and stores it.
func (c *Client) UserInfo(ctx context.Context) (session.Identity, error) {
	var info UserInfo
	if _, err := c.api.Send(ctx, gateway.RequestSpec{Path: PathUserInfo, Into: &info}); err != nil {
		return session.Identity{}, fmt.Errorf("user info: %w", err)
	}
	if err := c.session.UpdateIdentity(ctx, info.Identity()); err != nil {
		return session.Identity{}, fmt.Errorf("user info: %w", err)
	}
	return c.session.Identity(ctx), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LISTS
// ══════════════════════════════════════════════════════════════════════════════

// Courses shows the cached timetable, then refreshes it.
func (c *Client) Courses(ctx context.Context, display func(Snapshot[[]Course])) Snapshot[[]Course] {
	return Revalidate(ctx, c.cache, cache.Courses, c.getCourses, display)
}

// Scores shows the cached score list of the given type, then refreshes it.
// Type 1 is the effective list, 2 the raw list.
func (c *Client) Scores(ctx context.Context, scoreType int, display func(Snapshot[[]Score])) Snapshot[[]Score] {
	kind := cache.ScoreKind(scoreType)
	path := PathScores
	if kind == cache.RawScores {
		path = PathRawScores
	}
	fetch := func(ctx context.Context) ([]Score, error) {
		return decode[[]Score](ctx, c.api, gateway.RequestSpec{Path: path})
	}
	return Revalidate(ctx, c.cache, kind, fetch, display)
}

// SemesterConfig shows the cached semester configuration, then refreshes it.
// It does not require a credential.
func (c *Client) SemesterConfig(ctx context.Context, display func(Snapshot[semester.Wire])) Snapshot[semester.Wire] {
	return Revalidate(ctx, c.cache, cache.SemesterConfig, c.getSemester, display)
}

// ══════════════════════════════════════════════════════════════════════════════
// ACADEMIC WEEK
// ══════════════════════════════════════════════════════════════════════════════

// Semester returns the semester configuration from the cache, fetching it
// when nothing is cached.
func (c *Client) Semester(ctx context.Context) (semester.Config, error) {
	wire, ok, err := cache.ReadAs[semester.Wire](ctx, c.cache, cache.SemesterConfig)
	if err != nil {
		c.log.Warn("semester cache unreadable", logger.Err(err))
	}
	if !ok {
		wire, err = c.fetchSemester(ctx)
		if err != nil {
			return semester.Config{}, err
		}
	}
	return semester.FromWire(wire, c.cfg.DefaultTotalWeeks)
}

// CurrentWeek returns the academic week containing now.
func (c *Client) CurrentWeek(ctx context.Context, now time.Time) (int, error) {
	cfg, err := c.Semester(ctx)
	if err != nil {
		return 0, fmt.Errorf("current week: %w", err)
	}
	return cfg.Week(now), nil
}

// TodayCourses lists the courses running on now's weekday in the current
// academic week, ordered by first section.
func (c *Client) TodayCourses(ctx context.Context, now time.Time) (Today, error) {
	week, err := c.CurrentWeek(ctx, now)
	if err != nil {
		return Today{}, err
	}

	courses, ok, err := cache.ReadAs[[]Course](ctx, c.cache, cache.Courses)
	if err != nil {
		c.log.Warn("course cache unreadable", logger.Err(err))
	}
	if !ok {
		courses, err = c.fetchCourses(ctx)
		if err != nil {
			return Today{}, fmt.Errorf("today: %w", err)
		}
	}

	weekday := timeutil.ISOWeekday(timeutil.ToCampus(now))
	return Today{
		Weekday: weekday,
		Week:    week,
		Courses: CoursesOn(courses, weekday, week),
	}, nil
}

// CoursesOn filters courses by weekday and academic week and sorts them by
// section.
func CoursesOn(courses []Course, weekday, week int) []Course {
	out := make([]Course, 0, len(courses))
	for _, course := range courses {
		if course.Weekday == weekday && course.InWeek(week) {
			out = append(out, course)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Section < out[j].Section })
	return out
}

// CoursesInWeek keeps the courses running in the given academic week, ordered
// by weekday and then section.
func CoursesInWeek(courses []Course, week int) []Course {
	out := make([]Course, 0, len(courses))
	for _, course := range courses {
		if course.InWeek(week) {
			out = append(out, course)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Weekday != out[j].Weekday {
			return out[i].Weekday < out[j].Weekday
		}
		return out[i].Section < out[j].Section
	})
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// FETCH HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func (c *Client) getCourses(ctx context.Context) ([]Course, error) {
	return decode[[]Course](ctx, c.api, gateway.RequestSpec{Path: PathCourses})
}

// getSemester rejects a configuration the week arithmetic cannot use, so it
// is never cached.
func (c *Client) getSemester(ctx context.Context) (semester.Wire, error) {
	var wire semester.Wire
	_, err := c.api.Send(ctx, gateway.RequestSpec{
		Path:     PathSemesterConfig,
		SkipAuth: true,
		Into:     &wire,
		Accept: func() error {
			_, err := semester.FromWire(wire, c.cfg.DefaultTotalWeeks)
			return err
		},
	})
	if err != nil {
		return semester.Wire{}, err
	}
	return wire, nil
}

// fetchCourses fetches and writes through the cache.
func (c *Client) fetchCourses(ctx context.Context) ([]Course, error) {
	courses, err := c.getCourses(ctx)
	if err != nil {
		return nil, err
	}
	if err := cache.WriteAs(ctx, c.cache, cache.Courses, courses); err != nil {
		c.log.Warn("course cache not written", logger.Err(err))
	}
	return courses, nil
}

// fetchSemester fetches and writes through the cache.
func (c *Client) fetchSemester(ctx context.Context) (semester.Wire, error) {
	wire, err := c.getSemester(ctx)
	if err != nil {
		return semester.Wire{}, err
	}
	if err := cache.WriteAs(ctx, c.cache, cache.SemesterConfig, wire); err != nil {
		c.log.Warn("semester cache not written", logger.Err(err))
	}
	return wire, nil
}

// decode sends spec and lets the gateway unmarshal the payload into T, so a
// malformed payload is reported like any other server failure. A null
// payload decodes to the zero value.
func decode[T any](ctx context.Context, api Sender, spec gateway.RequestSpec) (T, error) {
	var v T
	spec.Into = &v
	if _, err := api.Send(ctx, spec); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

// IsExpired reports whether err ended the session.
func IsExpired(err error) bool {
	return shared.IsUnauthenticated(err)
}
