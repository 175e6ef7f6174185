package domain

import "strings"

type Command int

const (
	CommandNone Command = iota
	CommandExit
	CommandClear
	CommandExport
	CommandHelp
)

// DetectCommand detects special commands in the message text.
func DetectCommand(text string) Command {
	lower := strings.ToLower(strings.TrimSpace(text))

	switch lower {
	case "exit", "quit", "bye":
		return CommandExit
	case "clear", "reset":
		return CommandClear
	case "help", "?":
		return CommandHelp
	}

	// Export the transcript, optionally with a description
	if lower == "export" || strings.HasPrefix(lower, "export ") {
		return CommandExport
	}

	return CommandNone
}

// ExtractExportDescription returns the text after "export", if any.
func ExtractExportDescription(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= len("export") {
		return ""
	}
	return strings.TrimSpace(trimmed[len("export"):])
}
