package logic

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrUnknownCommand is returned for a suffix outside the command set.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrInvalidDuration is returned for an unlocked_time payload that is not
	// a non-negative integer.
	ErrInvalidDuration = errors.New("invalid unlock duration")
)

// CommandKind is the closed set of inbound commands.
type CommandKind uint8

const (
	CommandConfigName CommandKind = iota + 1
	CommandMaintenanceReason
	CommandQuickDisplayMessage
	CommandConfigStatus
	CommandUnlockedTime
	CommandReset
)

var commandSuffixes = map[string]CommandKind{
	"config_name":                    CommandConfigName,
	"config_maintenance_long_reason": CommandMaintenanceReason,
	"quick_display_msg":              CommandQuickDisplayMessage,
	"config_status":                  CommandConfigStatus,
	"unlocked_time":                  CommandUnlockedTime,
	"reset":                          CommandReset,
}

// String returns the transport suffix of the command.
func (k CommandKind) String() string {
	for suffix, kind := range commandSuffixes {
		if kind == k {
			return suffix
		}
	}
	return "unknown"
}

// Status is a decoded config_status code.
type Status uint8

const (
	// StatusUnknown covers every code outside the known set.
	StatusUnknown Status = iota
	StatusRequiresAuth
	StatusPushToUnlock
	StatusPermanentlyUnlocked
	StatusMaintenance
	StatusAwaitingUpdate
	StatusCheckInStation
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusRequiresAuth:
		return "REQUIRES_AUTH"
	case StatusPushToUnlock:
		return "PUSH_TO_UNLOCK"
	case StatusPermanentlyUnlocked:
		return "PERMANENTLY_UNLOCKED"
	case StatusMaintenance:
		return "MAINTENANCE"
	case StatusAwaitingUpdate:
		return "AWAITING_UPDATE"
	case StatusCheckInStation:
		return "CHECK_IN_STATION"
	default:
		return "UNKNOWN"
	}
}

// ParseStatus decodes a status code. Only the leading character matters,
// plus the second one when the first is '-'. Anything unrecognized,
// including an empty payload, is StatusUnknown.
func ParseStatus(code string) Status {
	if code == "" {
		return StatusUnknown
	}
	switch code[0] {
	case '5':
		return StatusRequiresAuth
	case '2':
		return StatusPushToUnlock
	case '0':
		return StatusPermanentlyUnlocked
	case '-':
		if len(code) < 2 {
			return StatusUnknown
		}
		switch code[1] {
		case '1':
			return StatusMaintenance
		case '2':
			return StatusAwaitingUpdate
		case '3':
			return StatusCheckInStation
		}
	}
	return StatusUnknown
}

// Command is a parsed inbound message.
type Command struct {
	Kind CommandKind
	// Text is the terminated payload text.
	Text     string
	Status   Status
	Duration time.Duration
}

// ParseCommand turns a transport suffix and raw payload into a Command. The
// payload is not assumed to be terminated: trailing NUL bytes are dropped.
func ParseCommand(suffix string, payload []byte) (Command, error) {
	kind, ok := commandSuffixes[suffix]
	if !ok {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, suffix)
	}

	cmd := Command{
		Kind: kind,
		Text: strings.TrimRight(string(payload), "\x00"),
	}

	switch kind {
	case CommandConfigStatus:
		cmd.Status = ParseStatus(cmd.Text)
	case CommandUnlockedTime:
		ms, err := strconv.ParseUint(strings.TrimSpace(cmd.Text), 10, 32)
		if err != nil {
			return Command{}, fmt.Errorf("%w: %q", ErrInvalidDuration, cmd.Text)
		}
		cmd.Duration = time.Duration(ms) * time.Millisecond
	}

	return cmd, nil
}
