// Package session defines the locally persisted session state of a student:
// the opaque credential, the identity shown in the UI and the optional
// remembered login. It also owns the table of storage keys that forms the
// persisted-state contract with older installs.
package session

import (
	"net/url"
	"strings"
)

// Key is a persistent store key.
type Key string

// Storage keys. These strings are shared with data written by earlier
// releases and must not change.
const (
	KeyToken               Key = "token"
	KeyStudentID           Key = "studentId"
	KeyName                Key = "name"
	KeyClass               Key = "class"
	KeyAvatarURL           Key = "avatarUrl"
	KeyRememberedAccount   Key = "rememberedAccount"
	KeyCoursesCache        Key = "coursesCache"
	KeyScoresCache         Key = "scoresCache"
	KeyRawScoresCache      Key = "rawScoresCache"
	KeySemesterConfigCache Key = "semesterConfigCache"
)

// String returns the raw key.
func (k Key) String() string { return string(k) }

// Defaults used when an identity field was never stored.
const (
	DefaultName  = "学生"
	DefaultClass = "未知班级"
)

// Identity is the profile cached alongside the credential.
type Identity struct {
	StudentID string `json:"studentId"`
	Name      string `json:"name"`
	Class     string `json:"class"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// WithDefaults fills empty display fields with their placeholders.
func (i Identity) WithDefaults() Identity {
	if i.Name == "" {
		i.Name = DefaultName
	}
	if i.Class == "" {
		i.Class = DefaultClass
	}
	return i
}

// AvatarDisplayURL resolves a relative avatar path against the current API
// base URL. Absolute URLs and empty values are returned unchanged.
func (i Identity) AvatarDisplayURL(baseURL string) string {
	if i.AvatarURL == "" || baseURL == "" {
		return i.AvatarURL
	}
	ref, err := url.Parse(i.AvatarURL)
	if err != nil || ref.IsAbs() {
		return i.AvatarURL
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		return i.AvatarURL
	}
	if strings.HasPrefix(i.AvatarURL, "/") {
		// Server paths are relative to the API root, not the host root.
		ref, _ = url.Parse(strings.TrimLeft(i.AvatarURL, "/"))
	}
	return base.ResolveReference(ref).String()
}

// RememberedAccount is the login saved by the "remember me" option.
type RememberedAccount struct {
	LoginID  string `json:"stuId"`
	Password string `json:"password"`
}

// Empty reports whether nothing is remembered.
func (a RememberedAccount) Empty() bool {
	return a.LoginID == "" && a.Password == ""
}

// IdentityKeys are the keys written by a login, in write order after the token.
var IdentityKeys = []Key{KeyStudentID, KeyName, KeyClass, KeyAvatarURL}
