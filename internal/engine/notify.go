package engine

import (
	"log"
	"os"
)

// AuthProvider reports the signed-in user id, or "" when signed out.
type AuthProvider interface {
	CurrentUser() string
}

// StaticUser is an AuthProvider that always reports the same user.
type StaticUser string

func (u StaticUser) CurrentUser() string { return string(u) }

// Level is the severity of a Notice.
type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Notice is a user-facing message.
type Notice struct {
	Level   Level
	Message string
	Err     error
}

// Notifier delivers notices to the user.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// LogNotifier writes notices to a logger.
type LogNotifier struct {
	Logger *log.Logger
}

func (n LogNotifier) Notify(notice Notice) {
	l := n.Logger
	if l == nil {
		l = log.New(os.Stderr, "", log.LstdFlags)
	}
	l.Printf("%s: %s", notice.Level, notice.Message)
}
