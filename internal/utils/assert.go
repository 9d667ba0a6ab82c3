package utils

import (
	"fmt"
	"log"
)

// Assert panics when a programming invariant does not hold. It is not meant
// for runtime failures such as a bad read from the controller.
func Assert(condition bool, message string) {
	if !condition {
		log.Panicln("[Assertion Failed]", message)
	}
}

func Assertf(condition bool, format string, args ...any) {
	if !condition {
		log.Panicln("[Assertion Failed]", fmt.Sprintf(format, args...))
	}
}

type Assertion struct {
	Message   string
	Condition bool
}

// AssertAll checks every assertion and panics with all failed messages.
func AssertAll(prefix string, assertions ...Assertion) {
	var failed []string
	for _, a := range assertions {
		if !a.Condition {
			failed = append(failed, a.Message)
		}
	}
	if len(failed) > 0 {
		log.Panicf("[Assertion Failed] %s: %v", prefix, failed)
	}
}
