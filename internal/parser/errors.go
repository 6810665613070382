package parser

import "fmt"

// ParseError reports a model source unit that could not be parsed.
type ParseError struct {
	File    string
	Message string
}

func (e *ParseError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	return e.Message
}

// DuplicateNameError reports two source units declaring the same model name.
type DuplicateNameError struct {
	Name  string
	Files []string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("duplicate model name %q declared by %v", e.Name, e.Files)
}
