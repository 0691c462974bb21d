package pipeline

import (
	"errors"
	"regexp"
)

var exitPhrase = regexp.MustCompile(`(?i)\b(exit|quit|stop)\b`)

// errExit ends a session without an error
var errExit = errors.New("exit phrase received")

// IsExitPhrase reports whether text asks to end the session
func IsExitPhrase(text string) bool {
	return exitPhrase.MatchString(text)
}
