// internal/protocol/dialect.go
package protocol

import (
	"fmt"
	"regexp"
	"strings"

	"matrix-service/internal/config"
)

// Dialect is the mnemonic table of one matrix firmware. Framing is shared;
// everything device-specific lives here.
type Dialect struct {
	Name     string
	Commands map[CommandName]CommandSpec
	// ErrorTokens are case-insensitive line prefixes meaning the device
	// refused the command.
	ErrorTokens []string
	// OnValue and OffValue are the captured power report values.
	OnValue  string
	OffValue string
	// PoweredOffReply matches the standby answer to non-power queries.
	PoweredOffReply string
}

// CommandSpec is the wire form of one command.
type CommandSpec struct {
	// Format is a fmt template taking one %d per parameter.
	Format string
	// Reply is a regexp a state report must match; the first capture group
	// is the reported value.
	Reply string
	// Min and Max bound the single parameter, when Format takes one.
	Min int
	Max int
}

// Params returns the number of parameters the format expects.
func (cs CommandSpec) Params() int {
	return strings.Count(cs.Format, "%d")
}

// Supports reports whether the dialect defines the command.
func (d Dialect) Supports(name CommandName) bool {
	_, ok := d.Commands[name]
	return ok
}

// Validate checks that the table can drive the client.
func (d Dialect) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("dialect name is required")
	}

	for _, required := range []CommandName{CommandPowerOn, CommandPowerOff, CommandQueryPower, CommandSetInput, CommandQueryInput} {
		if !d.Supports(required) {
			return fmt.Errorf("dialect %s: missing command %s", d.Name, required)
		}
	}

	for name, def := range d.Commands {
		if def.Format == "" {
			return fmt.Errorf("dialect %s: command %s has no format", d.Name, name)
		}
		if n := def.Params(); n > 1 {
			return fmt.Errorf("dialect %s: command %s takes %d parameters, at most 1 supported", d.Name, name, n)
		}
		if def.Params() == 1 && def.Min > def.Max {
			return fmt.Errorf("dialect %s: command %s has min %d above max %d", d.Name, name, def.Min, def.Max)
		}
		if name.IsQuery() && def.Reply == "" {
			return fmt.Errorf("dialect %s: query %s has no reply pattern", d.Name, name)
		}
		if def.Reply != "" {
			if _, err := regexp.Compile(def.Reply); err != nil {
				return fmt.Errorf("dialect %s: command %s reply: %w", d.Name, name, err)
			}
		}
	}

	if d.OnValue == "" || d.OffValue == "" {
		return fmt.Errorf("dialect %s: on and off values are required", d.Name)
	}

	if d.PoweredOffReply != "" {
		if _, err := regexp.Compile(d.PoweredOffReply); err != nil {
			return fmt.Errorf("dialect %s: powered off reply: %w", d.Name, err)
		}
	}

	return nil
}

// GenericDialect is the PW/SW command set spoken by most 4-port switches.
func GenericDialect() Dialect {
	return Dialect{
		Name: "generic",
		Commands: map[CommandName]CommandSpec{
			CommandPowerOn:          {Format: "PW ON"},
			CommandPowerOff:         {Format: "PW OFF"},
			CommandQueryPower:       {Format: "PW?", Reply: `^PW (ON|OFF)$`},
			CommandSetInput:         {Format: "SW %d", Min: 1, Max: 4},
			CommandQueryInput:       {Format: "SW?", Reply: `^SW (\d+)$`},
			CommandSetAudioOutput:   {Format: "AU %d", Min: 0, Max: 4},
			CommandQueryAudioOutput: {Format: "AU?", Reply: `^AU (\d+)$`},
			CommandSetMultiview:     {Format: "MV %d", Min: 1, Max: 5},
			CommandQueryMultiview:   {Format: "MV?", Reply: `^MV (\d+)$`},
		},
		ErrorTokens:     []string{"ERR", "NAK"},
		OnValue:         "ON",
		OffValue:        "OFF",
		PoweredOffReply: `^POWER OFF$`,
	}
}

// UHD401MVDialect is the lower-case command set of the 4x1 multiviewer.
// A standby unit answers "power off" to anything but the power query.
func UHD401MVDialect() Dialect {
	return Dialect{
		Name: "uhd401mv",
		Commands: map[CommandName]CommandSpec{
			CommandPowerOn:    {Format: "on"},
			CommandPowerOff:   {Format: "off"},
			CommandQueryPower: {Format: "r power", Reply: `^(on|off)$`},
			CommandSetInput:   {Format: "sw i%dv1", Min: 1, Max: 4},
			CommandQueryInput: {Format: "r av1", Reply: `^av1 from i(\d+)$`},
		},
		ErrorTokens:     []string{"command error", "error"},
		OnValue:         "on",
		OffValue:        "off",
		PoweredOffReply: `(?i)\boff\b`,
	}
}

// DialectFromConfig converts a configured table. Unknown command keys are
// rejected.
func DialectFromConfig(name string, cfg config.DialectConfig) (Dialect, error) {
	d := Dialect{
		Name:            name,
		Commands:        make(map[CommandName]CommandSpec, len(cfg.Commands)),
		ErrorTokens:     cfg.ErrorTokens,
		OnValue:         cfg.OnValue,
		OffValue:        cfg.OffValue,
		PoweredOffReply: cfg.PoweredOffReply,
	}
	if d.OnValue == "" {
		d.OnValue = "ON"
	}
	if d.OffValue == "" {
		d.OffValue = "OFF"
	}

	known := make(map[string]CommandName, len(AllCommands))
	for _, n := range AllCommands {
		known[string(n)] = n
	}

	for key, c := range cfg.Commands {
		n, ok := known[strings.ToLower(key)]
		if !ok {
			return Dialect{}, fmt.Errorf("dialect %s: unknown command %q", name, key)
		}
		d.Commands[n] = CommandSpec{Format: c.Format, Reply: c.Reply, Min: c.Min, Max: c.Max}
	}

	if err := d.Validate(); err != nil {
		return Dialect{}, err
	}
	return d, nil
}
