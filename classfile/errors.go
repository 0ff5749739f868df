package classfile

import (
	"fmt"
	"runtime"
)

// MalformedClassError is returned by Parse when the input bytes are not a
// well-formed class file. Callers (per spec §7) treat this as NotApplicable
// and leave the original bytes untouched.
type MalformedClassError struct {
	Reason string
	Site   string // file:line of the detecting check, for diagnostics
}

func (e *MalformedClassError) Error() string {
	if e.Site != "" {
		return fmt.Sprintf("malformed class file: %s (detected at %s)", e.Reason, e.Site)
	}
	return fmt.Sprintf("malformed class file: %s", e.Reason)
}

func malformed(reason string) error {
	site := ""
	if pc, file, line, ok := runtime.Caller(1); ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			site = fmt.Sprintf("%s:%d", shortFile(file), line)
		}
	}
	return &MalformedClassError{Reason: reason, Site: site}
}

func shortFile(file string) string {
	depth := 0
	for i := len(file) - 1; i >= 0; i-- {
		if file[i] == '/' {
			depth++
			if depth == 2 {
				return file[i+1:]
			}
		}
	}
	return file
}
