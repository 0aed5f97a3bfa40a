// internal/protocol/command.go
package protocol

import "slices"

// CommandName identifies a logical matrix operation. The values double as
// keys in dialect tables.
type CommandName string

const (
	CommandPowerOn          CommandName = "power_on"
	CommandPowerOff         CommandName = "power_off"
	CommandQueryPower       CommandName = "query_power"
	CommandSetInput         CommandName = "set_input"
	CommandQueryInput       CommandName = "query_input"
	CommandSetAudioOutput   CommandName = "set_audio_output"
	CommandQueryAudioOutput CommandName = "query_audio_output"
	CommandSetMultiview     CommandName = "set_multiview"
	CommandQueryMultiview   CommandName = "query_multiview"
)

// AllCommands lists every known command name.
var AllCommands = []CommandName{
	CommandPowerOn, CommandPowerOff, CommandQueryPower,
	CommandSetInput, CommandQueryInput,
	CommandSetAudioOutput, CommandQueryAudioOutput,
	CommandSetMultiview, CommandQueryMultiview,
}

// IsQuery reports whether the command only reads device state.
func (n CommandName) IsQuery() bool {
	switch n {
	case CommandQueryPower, CommandQueryInput, CommandQueryAudioOutput, CommandQueryMultiview:
		return true
	default:
		return false
	}
}

// Command is an immutable logical operation with its parameters.
type Command struct {
	name        CommandName
	params      []int
	expectReply bool
}

// NewCommand creates a command. Queries require a state report; actuations
// accept any line that is not an error as acknowledgement. Silence fails
// both.
func NewCommand(name CommandName, params ...int) Command {
	return Command{
		name:        name,
		params:      slices.Clone(params),
		expectReply: name.IsQuery(),
	}
}

// WithRequiredReply returns a copy that is only satisfied by a state report,
// not by a plain acknowledgement.
func (c Command) WithRequiredReply() Command {
	c.params = slices.Clone(c.params)
	c.expectReply = true
	return c
}

func (c Command) Name() CommandName  { return c.name }
func (c Command) Params() []int      { return slices.Clone(c.params) }
func (c Command) ExpectsReply() bool { return c.expectReply }
func (c Command) String() string     { return string(c.name) }

func PowerOn() Command    { return NewCommand(CommandPowerOn) }
func PowerOff() Command   { return NewCommand(CommandPowerOff) }
func QueryPower() Command { return NewCommand(CommandQueryPower) }
func QueryInput() Command { return NewCommand(CommandQueryInput) }

// SetPower maps a boolean to PowerOn or PowerOff.
func SetPower(on bool) Command {
	if on {
		return PowerOn()
	}
	return PowerOff()
}

// SetInput routes the given input (1-based) to the output.
func SetInput(input int) Command { return NewCommand(CommandSetInput, input) }

// SetAudioOutput selects the audio source; 0 follows the active window.
func SetAudioOutput(source int) Command { return NewCommand(CommandSetAudioOutput, source) }

func QueryAudioOutput() Command { return NewCommand(CommandQueryAudioOutput) }

// SetMultiview selects the screen layout (1 single ... 5 quad).
func SetMultiview(mode int) Command { return NewCommand(CommandSetMultiview, mode) }

func QueryMultiview() Command { return NewCommand(CommandQueryMultiview) }
