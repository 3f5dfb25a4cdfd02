// Package operator defines the typed command contract shared by the two
// external command sources — the interactive console and the JSON control
// channel (§4.7 "OperatorSurface"). Neither consumer talks to the
// Coordinator directly; both build a Command and send it on the
// Coordinator's external-command channel, then wait on a single-use reply
// channel.
package operator

import (
	"strconv"
	"strings"

	"smo-relay/internal/protocol"
)

// Selector names which connected players a command targets (§4.6
// "External command ... select players (all / by name list / all except
// list)").
type SelectorKind int

const (
	SelectAll SelectorKind = iota
	SelectByName
	SelectAllExcept
)

// Selector is a player-targeting expression attached to a Command.
type Selector struct {
	Kind  SelectorKind
	Names []string // used by SelectByName and SelectAllExcept
}

// All is the SelectAll selector, the common case.
var All = Selector{Kind: SelectAll}

// ByName builds a SelectByName selector.
func ByName(names ...string) Selector {
	return Selector{Kind: SelectByName, Names: names}
}

// AllExcept builds a SelectAllExcept selector.
func AllExcept(names ...string) Selector {
	return Selector{Kind: SelectAllExcept, Names: names}
}

// Action names the effect a Command has once players are selected. The
// core only needs to know how to build the packet for each action and
// where to send it (selected players vs. the lobby broadcast) — the
// specific actions below are the ones the console and control channel
// expose (§6 "Console").
type Action int

const (
	// ActionSendShine pushes a SelfAddressed Shine packet to the selected
	// players (admin "give shine").
	ActionSendShine Action = iota
	// ActionKick disconnects the selected players.
	ActionKick
	// ActionBan disconnects the selected players and adds their GUID to
	// the ban list.
	ActionBan
	// ActionBroadcastGame sends a Game packet as self-addressed to the
	// selected players (admin "force stage").
	ActionBroadcastGame
	// ActionStatus requests a read-only snapshot; it never mutates state.
	ActionStatus
)

// Command is one external request: an action, its target selection, and
// whatever typed payload the action needs.
type Command struct {
	Action   Action
	Target   Selector
	ShineID  int32             // ActionSendShine
	Reason   string            // ActionBan
	GamePkt  protocol.GameBody // ActionBroadcastGame
}

// Reply is what a Command handler writes back — a human-readable result
// string or an error, never both (§7 "External-command errors are
// returned through the reply channel ... not raised").
type Reply struct {
	Text string
	Err  error
}

// Request pairs a Command with its single-use reply channel (§4.7 "a
// typed ExternalCommand plus a single-use reply channel of Result<string>").
// ReplyCh is always buffered with capacity 1 so the handler's send never
// blocks on a reader that has already given up (§5 "reply=1").
type Request struct {
	Command Command
	ReplyCh chan Reply
}

// NewRequest builds a Request with a freshly allocated reply channel.
func NewRequest(cmd Command) Request {
	return Request{Command: cmd, ReplyCh: make(chan Reply, 1)}
}

// Surface is what the console and the JSON control channel are given to
// issue commands against — it hides the Coordinator's channel plumbing
// behind one blocking call.
type Surface interface {
	Dispatch(Command) Reply
}

// ParseCommandLine parses one line of the shared console/control-channel
// command grammar into a Command (§4.7 "every console action has a JSON
// equivalent"):
//
//	status
//	shine <id> [names...]              (no names => all)
//	kick <names...>
//	ban <reason> -- <names...>
//	stage <is2d> <scenario> <stage> [names...]
//
// A leading "!" selector name means "all except" (e.g. "kick !Mario"
// targets everyone but Mario).
func ParseCommandLine(line string) (Command, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, false
	}

	verb := fields[0]
	rest := fields[1:]

	switch verb {
	case "status":
		return Command{Action: ActionStatus, Target: All}, true

	case "shine":
		if len(rest) == 0 {
			return Command{}, false
		}
		id, err := strconv.ParseInt(rest[0], 10, 32)
		if err != nil {
			return Command{}, false
		}
		return Command{Action: ActionSendShine, ShineID: int32(id), Target: selectorFrom(rest[1:])}, true

	case "kick":
		if len(rest) == 0 {
			return Command{}, false
		}
		return Command{Action: ActionKick, Target: selectorFrom(rest)}, true

	case "ban":
		reason, names, ok := splitReasonAndNames(rest)
		if !ok {
			return Command{}, false
		}
		return Command{Action: ActionBan, Reason: reason, Target: selectorFrom(names)}, true

	case "stage":
		if len(rest) < 3 {
			return Command{}, false
		}
		is2D := rest[0] == "true" || rest[0] == "2d"
		scenario, err := strconv.ParseInt(rest[1], 10, 8)
		if err != nil {
			return Command{}, false
		}
		return Command{
			Action: ActionBroadcastGame,
			Target: selectorFrom(rest[3:]),
			GamePkt: protocol.GameBody{
				Is2D:     is2D,
				Scenario: int8(scenario),
				Stage:    rest[2],
			},
		}, true

	default:
		return Command{}, false
	}
}

// selectorFrom builds a Selector from a trailing name list: empty means
// All, a leading "!" name on the first entry means AllExcept the rest.
func selectorFrom(names []string) Selector {
	if len(names) == 0 {
		return All
	}
	if strings.HasPrefix(names[0], "!") {
		excluded := make([]string, len(names))
		excluded[0] = strings.TrimPrefix(names[0], "!")
		copy(excluded[1:], names[1:])
		return AllExcept(excluded...)
	}
	return ByName(names...)
}

// splitReasonAndNames parses "<reason words...> -- <names...>"; the
// separator is required so a multi-word reason can't be confused with
// target names.
func splitReasonAndNames(fields []string) (reason string, names []string, ok bool) {
	for i, f := range fields {
		if f == "--" {
			return strings.Join(fields[:i], " "), fields[i+1:], true
		}
	}
	return "", nil, false
}
