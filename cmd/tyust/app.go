package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/tyust/tyust-client/config"
	"github.com/tyust/tyust-client/internal/application/campus"
	"github.com/tyust/tyust-client/internal/application/expiry"
	appsession "github.com/tyust/tyust-client/internal/application/session"
	"github.com/tyust/tyust-client/internal/domain/semester"
	"github.com/tyust/tyust-client/internal/domain/shared"
	"github.com/tyust/tyust-client/internal/infrastructure/cache"
	"github.com/tyust/tyust-client/internal/infrastructure/gateway"
	"github.com/tyust/tyust-client/internal/infrastructure/storage"
	"github.com/tyust/tyust-client/pkg/logger"
	"github.com/tyust/tyust-client/pkg/timeutil"
)

var (
	errHelp        = errors.New("help provided")
	errNoPassword  = errors.New("password is required")
	errNotLoggedIn = errors.New("not logged in")
)

var weekdayNames = [...]string{"", "周一", "周二", "周三", "周四", "周五", "周六", "周日"}

// ══════════════════════════════════════════════════════════════════════════════
// WIRING
// ══════════════════════════════════════════════════════════════════════════════

type app struct {
	cfg     *config.Config
	client  *campus.Client
	session *appsession.Manager
	expiry  *expiry.Coordinator
	console *console
	baseURL string
	out     io.Writer

	now          func() time.Time
	readPassword func() (string, error)
}

func newApp(cfg *config.Config, store storage.Store, out io.Writer, con *console, log *logger.Logger) *app {
	entities := cache.New(store, log)
	mgr := appsession.NewManager(store, entities, log)
	coord := expiry.NewCoordinator(mgr, con, con,
		expiry.WithRedirectDelay(cfg.Session.RedirectDelay),
		expiry.WithLogger(log))

	gw := gateway.New(gateway.Config{
		BaseURL:          cfg.API.BaseURL,
		Timeout:          cfg.API.RequestTimeout,
		BreakerThreshold: cfg.API.CircuitBreakerThreshold,
		BreakerCooldown:  cfg.API.CircuitBreakerCooldown,
	}, gateway.NewHTTPDispatcher(nil, cfg.API.RequestTimeout), mgr, coord,
		gateway.WithIndicator(con),
		gateway.WithNotifier(con),
		gateway.WithLogger(log))

	client := campus.NewClient(gw, mgr, entities,
		campus.Config{DefaultTotalWeeks: cfg.Session.DefaultTotalWeeks}, log)

	return &app{
		cfg:     cfg,
		client:  client,
		session: mgr,
		expiry:  coord,
		console: con,
		baseURL: gw.BaseURL(),
		out:     out,
		now:     timeutil.Now,
		readPassword: func() (string, error) {
			return "", errNoPassword
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCH
// ══════════════════════════════════════════════════════════════════════════════

func (a *app) printUsage() {
	fmt.Fprintln(a.console.out, "Usage: tyust <command> [flags]")
	fmt.Fprintln(a.console.out, "  login   [-id STUDENT_ID] [-remember] - sign in, the password is prompted")
	fmt.Fprintln(a.console.out, "  logout  [-forget]                    - sign out")
	fmt.Fprintln(a.console.out, "  reset                                - sign out and wipe all local data")
	fmt.Fprintln(a.console.out, "  whoami  [-refresh]                   - show the signed-in student")
	fmt.Fprintln(a.console.out, "  courses [-week N]                    - show the timetable, or one academic week")
	fmt.Fprintln(a.console.out, "  scores  [-raw]                       - show effective or raw scores")
	fmt.Fprintln(a.console.out, "  week    [-date YYYY-MM-DD]           - show the academic week")
	fmt.Fprintln(a.console.out, "  today   [-date YYYY-MM-DD]           - show the courses of one day")
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) < 1 {
		a.printUsage()
		return errHelp
	}

	var err error
	switch args[0] {
	case "login":
		err = a.login(ctx, args[1:])
	case "logout":
		err = a.logout(ctx, args[1:])
	case "reset":
		err = a.reset(ctx, args[1:])
	case "whoami":
		err = a.whoami(ctx, args[1:])
	case "courses":
		err = a.courses(ctx, args[1:])
	case "scores":
		err = a.scores(ctx, args[1:])
	case "week":
		err = a.week(ctx, args[1:])
	case "today":
		err = a.today(ctx, args[1:])
	default:
		a.printUsage()
		return errHelp
	}

	a.awaitRedirect(ctx)
	return err
}

// awaitRedirect keeps the process alive until a pending expiry episode has
// pointed the user back to login.
func (a *app) awaitRedirect(ctx context.Context) {
	if !a.expiry.IsHandling() {
		return
	}
	timer := time.NewTimer(a.cfg.Session.RedirectDelay + time.Second)
	defer timer.Stop()
	select {
	case <-a.console.redirects:
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (a *app) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.console.out)
	return fs
}

// ══════════════════════════════════════════════════════════════════════════════
// COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

func (a *app) login(ctx context.Context, args []string) error {
	remembered := a.session.RememberedAccount(ctx)

	fs := a.flagSet("login")
	id := fs.String("id", remembered.LoginID, "Student ID. Defaults to the remembered account.")
	remember := fs.Bool("remember", !remembered.Empty(), "Remember the account for the next login.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		fs.Usage()
		return errHelp
	}

	password := ""
	if *id == remembered.LoginID {
		password = remembered.Password
	}
	if password == "" {
		pwd, err := a.readPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			return errNoPassword
		}
		password = pwd
	}

	res, err := a.client.Login(ctx, campus.LoginRequest{LoginID: *id, Password: password, Remember: *remember})
	if shared.IsNetwork(err) {
		return fmt.Errorf("%w (API %s, set TYUST_API_BASE_URL to change it)", err, a.baseURL)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "已登录：%s（%s）%s\n", res.Identity.Name, res.Identity.StudentID, res.Identity.Class)
	if res.PrefetchErr != nil {
		fmt.Fprintf(a.console.out, "数据预加载失败：%s\n", shared.UserMessage(res.PrefetchErr))
	}
	return nil
}

func (a *app) logout(ctx context.Context, args []string) error {
	fs := a.flagSet("logout")
	forget := fs.Bool("forget", false, "Also forget the remembered account.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.client.Logout(ctx, !*forget); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "已退出登录")
	return nil
}

func (a *app) reset(ctx context.Context, args []string) error {
	if err := a.flagSet("reset").Parse(args); err != nil {
		return err
	}
	if err := a.client.Reset(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "本地数据已清除")
	return nil
}

func (a *app) whoami(ctx context.Context, args []string) error {
	fs := a.flagSet("whoami")
	refresh := fs.Bool("refresh", false, "Reload the profile from the server.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !a.session.HasCredential(ctx) {
		return errNotLoggedIn
	}

	id := a.session.Identity(ctx)
	if *refresh {
		var err error
		if id, err = a.client.UserInfo(ctx); err != nil {
			return err
		}
	}

	fmt.Fprintf(a.out, "姓名：%s\n学号：%s\n班级：%s\n", id.Name, id.StudentID, id.Class)
	if avatar := id.AvatarDisplayURL(a.baseURL); avatar != "" {
		fmt.Fprintf(a.out, "头像：%s\n", avatar)
	}
	return nil
}

func (a *app) courses(ctx context.Context, args []string) error {
	fs := a.flagSet("courses")
	week := fs.Int("week", 0, "Only show the courses of this academic week.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *week < 0 {
		return fmt.Errorf("invalid -week %d", *week)
	}

	snap := a.client.Courses(ctx, nil)
	if err := a.staleNotice(snap.Err, snap.HasValue()); err != nil {
		return err
	}

	courses := snap.Value
	if *week > 0 {
		sem, err := a.client.Semester(ctx)
		if err != nil {
			return err
		}
		if *week > sem.TotalWeeks {
			return fmt.Errorf("invalid -week %d: the semester has %d weeks", *week, sem.TotalWeeks)
		}
		dates := semester.DatesOfWeek(sem.StartDate, *week)
		fmt.Fprintf(a.out, "第 %d 周（%s 起）\n", *week, timeutil.FormatDateStr(dates.First))
		courses = campus.CoursesInWeek(courses, *week)
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "星期\t节次\t课程\t教师\t教室\t周次")
	for _, c := range courses {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			weekdayName(c.Weekday), sectionLabel(c), c.Name, c.Teacher, c.Classroom, weeksLabel(c))
	}
	return tw.Flush()
}

func (a *app) scores(ctx context.Context, args []string) error {
	fs := a.flagSet("scores")
	raw := fs.Bool("raw", false, "Show raw scores including failed attempts.")
	if err := fs.Parse(args); err != nil {
		return err
	}

	scoreType := cache.ScoreTypeEffective
	if *raw {
		scoreType = cache.ScoreTypeRaw
	}
	snap := a.client.Scores(ctx, scoreType, nil)
	if err := a.staleNotice(snap.Err, snap.HasValue()); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "学期\t课程\t学分\t成绩\t绩点")
	for _, s := range snap.Value {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.Semester, s.Course, s.Credit, s.Score, s.GPA)
	}
	return tw.Flush()
}

func (a *app) week(ctx context.Context, args []string) error {
	now, err := a.parseDate("week", args)
	if err != nil {
		return err
	}

	sem, err := a.client.Semester(ctx)
	if err != nil {
		return err
	}
	week := sem.Week(now)
	dates := semester.DatesOfWeek(sem.StartDate, week)

	if sem.SemesterName != "" {
		fmt.Fprintln(a.out, sem.SemesterName)
	}
	fmt.Fprintf(a.out, "第 %d 周（共 %d 周）%d 月\n", week, sem.TotalWeeks, dates.Month)
	for i, day := range dates.Days {
		fmt.Fprintf(a.out, "%s %d\n", weekdayNames[i+1], day)
	}
	return nil
}

func (a *app) today(ctx context.Context, args []string) error {
	now, err := a.parseDate("today", args)
	if err != nil {
		return err
	}

	today, err := a.client.TodayCourses(ctx, now)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "%s %s · 第 %d 周\n", timeutil.FormatDateStr(now), weekdayName(today.Weekday), today.Week)
	if len(today.Courses) == 0 {
		fmt.Fprintln(a.out, "今天没有课")
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	for _, c := range today.Courses {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", sectionLabel(c), c.Name, c.Classroom, c.Teacher)
	}
	return tw.Flush()
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// staleNotice reports a failed refresh. It is only an error when there is
// nothing cached to show. An ended session was already announced by the
// expiry coordinator.
func (a *app) staleNotice(err error, hasValue bool) error {
	if err == nil {
		return nil
	}
	if !hasValue {
		return err
	}
	if campus.IsExpired(err) {
		return nil
	}
	fmt.Fprintf(a.console.out, "刷新失败，显示的是缓存数据：%s\n", shared.UserMessage(err))
	return nil
}

func (a *app) parseDate(name string, args []string) (time.Time, error) {
	fs := a.flagSet(name)
	date := fs.String("date", "", "Day to show, YYYY-MM-DD. Defaults to today.")
	if err := fs.Parse(args); err != nil {
		return time.Time{}, err
	}
	if *date == "" {
		return a.now(), nil
	}
	day, err := timeutil.ParseDate(*date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid -date: %w", err)
	}
	// midday keeps the result inside the requested day
	return day.Add(12 * time.Hour), nil
}

func weekdayName(d int) string {
	if d < 1 || d > 7 {
		return "?"
	}
	return weekdayNames[d]
}

func sectionLabel(c campus.Course) string {
	if c.RawSection != "" {
		return c.RawSection
	}
	if c.SectionCount > 1 {
		return fmt.Sprintf("%d-%d", c.Section, c.Section+c.SectionCount-1)
	}
	return fmt.Sprint(c.Section)
}

func weeksLabel(c campus.Course) string {
	if c.RawWeeks != "" {
		return c.RawWeeks
	}
	parts := make([]string, len(c.Weeks))
	for i, w := range c.Weeks {
		parts[i] = fmt.Sprint(w)
	}
	return strings.Join(parts, ",")
}
