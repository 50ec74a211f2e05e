// commands.go intercepts the few control phrases that must work even when
// the model is down: they are matched before anything reaches the engine.
package concierge

import "strings"

// Command is a recognized control phrase.
type Command int

const (
	CommandNone Command = iota
	CommandReset
	CommandForget
	CommandHelp
	CommandSignOut
)

// ParseCommand matches the message against the control phrases. Matching is
// exact after normalization so ordinary sentences that merely contain a
// phrase still reach the model.
func ParseCommand(text string) Command {
	normalized := strings.ToLower(strings.TrimSpace(text))
	normalized = strings.TrimRight(normalized, ".!?")

	switch normalized {
	case "reset", "start over":
		return CommandReset
	case "forget me":
		return CommandForget
	case "help":
		return CommandHelp
	case "sign out", "signout", "log out", "logout":
		return CommandSignOut
	}
	return CommandNone
}

// HelpText is the fixed reply to the help command.
const HelpText = `I find restaurants and book tables over text.

Try things like:
- "find a table for 4 at an italian place saturday night"
- "what sushi spots are near the office?"
- "cancel my reservation at Nonna's"

Commands: "reset" clears our conversation, "sign out" disconnects your reservation account, "forget me" erases what I remember about you.`
