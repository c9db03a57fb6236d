package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidCommand = errors.New("gatekeeper: invalid command")
	ErrUnknownAction  = fmt.Errorf("%w: unknown action", ErrInvalidCommand)
)

const (
	ActionAdd       = "add"
	ActionRemove    = "remove"
	ActionList      = "list"
	ActionThreshold = "threshold"
	ActionTimeout   = "timeout"
)

// normalizeAction maps English and Chinese action words to an action.
func normalizeAction(word string) (string, bool) {
	switch strings.ToLower(word) {
	case "add", "添加":
		return ActionAdd, true
	case "remove", "移除":
		return ActionRemove, true
	case "list", "查看":
		return ActionList, true
	case "threshold", "阈值":
		return ActionThreshold, true
	case "timeout", "时限":
		return ActionTimeout, true
	}
	return "", false
}

func DefaultCommandKeywords() []string {
	return []string{"whitelist", "加群验证白名单"}
}

const commandUsage = "Usage:\n" +
	"whitelist add|remove [group]\n" +
	"whitelist list\n" +
	"whitelist threshold [value] [group]\n" +
	"whitelist timeout [seconds] [group]"

// Command is one parsed whitelist command.
type Command struct {
	Action string
	Args   []string
}

// Commander parses and applies whitelist commands against the policy store.
type Commander struct {
	store    PolicyStore
	keywords []string
}

func NewCommander(store PolicyStore, keywords []string) *Commander {
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return &Commander{store: store, keywords: out}
}

// Matches reports whether text starts with a command keyword as its first word.
func (c *Commander) Matches(text string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	for _, k := range c.keywords {
		if fields[0] == k {
			return true
		}
	}
	return false
}

// Parse splits text into a command. A missing or unknown action is ErrInvalidCommand.
func (c *Commander) Parse(text string) (Command, error) {
	if !c.Matches(text) {
		return Command{}, fmt.Errorf("%w: missing keyword", ErrInvalidCommand)
	}
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return Command{}, fmt.Errorf("%w: missing action", ErrInvalidCommand)
	}
	action, ok := normalizeAction(fields[1])
	if !ok {
		return Command{}, fmt.Errorf("%w %q", ErrUnknownAction, fields[1])
	}
	return Command{Action: action, Args: fields[2:]}, nil
}

// Execute runs the command in text issued from groupID and returns the
// one-line reply for that group.
func (c *Commander) Execute(ctx context.Context, groupID int64, text string) string {
	cmd, err := c.Parse(text)
	if err != nil {
		log.Debug().Err(err).Int64("group_id", groupID).Msg("gatekeeper.Commander.Execute")
		if errors.Is(err, ErrUnknownAction) {
			return "Unknown action. Use add, remove, list, threshold or timeout.\n" + commandUsage
		}
		return commandUsage
	}
	log.Info().Str("action", cmd.Action).Strs("args", cmd.Args).Int64("group_id", groupID).Msg("gatekeeper.Commander.Execute")

	switch cmd.Action {
	case ActionAdd:
		target, err := groupArg(cmd.Args, 0, groupID)
		if err != nil {
			return fmt.Sprintf("Invalid group id %q.", cmd.Args[0])
		}
		ok, err := c.store.AddGroup(ctx, target)
		if err != nil || !ok {
			logStoreFailure(err, cmd.Action, target)
			return fmt.Sprintf("Failed to add group %d to the whitelist.", target)
		}
		return fmt.Sprintf("Added group %d to the whitelist.", target)

	case ActionRemove:
		target, err := groupArg(cmd.Args, 0, groupID)
		if err != nil {
			return fmt.Sprintf("Invalid group id %q.", cmd.Args[0])
		}
		ok, err := c.store.RemoveGroup(ctx, target)
		if err != nil || !ok {
			logStoreFailure(err, cmd.Action, target)
			return fmt.Sprintf("Failed to remove group %d from the whitelist.", target)
		}
		return fmt.Sprintf("Removed group %d from the whitelist.", target)

	case ActionList:
		groups, err := c.store.ListMonitoredGroups(ctx)
		if err != nil {
			logStoreFailure(err, cmd.Action, groupID)
			return "Failed to read the whitelist."
		}
		if len(groups) == 0 {
			return "The whitelist is empty."
		}
		ids := make([]string, 0, len(groups))
		for _, g := range groups {
			ids = append(ids, strconv.FormatInt(g, 10))
		}
		return "Whitelisted groups: " + strings.Join(ids, ", ")

	case ActionThreshold:
		return c.policyCommand(ctx, cmd, groupID, "threshold", "", c.store.Threshold, c.store.SetThreshold)

	case ActionTimeout:
		return c.policyCommand(ctx, cmd, groupID, "timeout", " seconds", c.store.TimeoutSeconds, c.store.SetTimeout)
	}
	return commandUsage
}

// policyCommand implements "<action>" (read current group) and
// "<action> <value> [group]" (write).
func (c *Commander) policyCommand(
	ctx context.Context,
	cmd Command,
	groupID int64,
	name string,
	unit string,
	get func(context.Context, int64) (int, error),
	set func(context.Context, int64, int) (bool, error),
) string {
	if len(cmd.Args) == 0 {
		v, err := get(ctx, groupID)
		if err != nil {
			logStoreFailure(err, cmd.Action, groupID)
		}
		return fmt.Sprintf("The %s of group %d is %d%s.", name, groupID, v, unit)
	}

	value, err := strconv.Atoi(cmd.Args[0])
	if err != nil {
		return fmt.Sprintf("Please provide a valid %s number.", name)
	}
	target, err := groupArg(cmd.Args, 1, groupID)
	if err != nil {
		return fmt.Sprintf("Invalid group id %q.", cmd.Args[1])
	}
	ok, err := set(ctx, target, value)
	if err != nil || !ok {
		logStoreFailure(err, cmd.Action, target)
		return fmt.Sprintf("Failed to set the %s of group %d.", name, target)
	}
	return fmt.Sprintf("Set the %s of group %d to %d%s.", name, target, value, unit)
}

// groupArg parses args[i] as a group id, or returns fallback when absent.
func groupArg(args []string, i int, fallback int64) (int64, error) {
	if len(args) <= i {
		return fallback, nil
	}
	id, err := strconv.ParseInt(args[i], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: group %q", ErrInvalidCommand, args[i])
	}
	return id, nil
}

func logStoreFailure(err error, action string, groupID int64) {
	if err == nil {
		return
	}
	log.Error().Err(err).Str("action", action).Int64("group_id", groupID).Msg("gatekeeper.Commander store")
}
