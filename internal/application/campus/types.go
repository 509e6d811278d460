package campus

import (
	"github.com/tyust/tyust-client/internal/domain/session"
)

// Course is one timetable entry as served by /courses.
type Course struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Teacher      string `json:"teacher"`
	Classroom    string `json:"classroom"`
	Time         string `json:"time"`
	Weekday      int    `json:"week"` // 1 = Monday … 7 = Sunday
	Section      int    `json:"section"`
	SectionCount int    `json:"sectionCount"`
	Weeks        []int  `json:"weeks"`
	RawWeeks     string `json:"rawWeeks"`
	RawSection   string `json:"rawSection"`
	Address      string `json:"address"`
	Credit       string `json:"credit"`
	Category     string `json:"category"`
	Method       string `json:"method"`
}

// InWeek reports whether the course runs in the given academic week.
func (c Course) InWeek(week int) bool {
	for _, w := range c.Weeks {
		if w == week {
			return true
		}
	}
	return false
}

// Score is one row of /scores or /raw-scores.
type Score struct {
	Semester   string `json:"semester"`
	Course     string `json:"course"`
	Credit     string `json:"credit"`
	Score      string `json:"score"`
	GPA        string `json:"gpa"`
	Teacher    string `json:"teacher"`
	CourseType string `json:"courseType"`
}

// UserInfo is the payload of /auth/login and /user/info.
type UserInfo struct {
	StudentID string  `json:"studentId"`
	Name      string  `json:"name"`
	Class     string  `json:"class"`
	Token     string  `json:"token"`
	AvatarURL *string `json:"avatarUrl"`
}

// Identity converts the payload into the locally stored profile. Empty
// fields stay empty; display defaults are applied when the profile is read.
func (u UserInfo) Identity() session.Identity {
	id := session.Identity{
		StudentID: u.StudentID,
		Name:      u.Name,
		Class:     u.Class,
	}
	if u.AvatarURL != nil {
		id.AvatarURL = *u.AvatarURL
	}
	return id
}

// LoginRequest is the sign-in form.
type LoginRequest struct {
	LoginID  string `json:"stuId" validate:"required"`
	Password string `json:"password" validate:"required"`
	// Remember keeps the login for the next sign-in form.
	Remember bool `json:"-"`
}

// LoginResult is returned by a successful Login. PrefetchErr reports the
// stage of the post-login warm-up that failed; the login itself stands.
type LoginResult struct {
	Identity    session.Identity
	PrefetchErr error
}

// Today is the list of courses running on one day.
type Today struct {
	Weekday int
	Week    int
	Courses []Course
}
