// Package commands implements the operator-facing hosting commands: info,
// enable and disable. Every failure is reported as a text response.
package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/psantana5/hosting/internal/canary"
	"github.com/psantana5/hosting/internal/markers"
	"github.com/psantana5/hosting/pkg/logging"
)

// PromoteLevel is the caller's privilege.
type PromoteLevel int

const (
	None PromoteLevel = iota
	Admin
)

func (l PromoteLevel) String() string {
	if l == Admin {
		return "admin"
	}
	return "none"
}

const (
	msgDisabled  = "Hosting plugin is disabled"
	msgNoSession = "This command can only be used in game"
	msgNotAdmin  = "You need to be admin to use this command"
)

// Context describes who is running a command and where responses go.
type Context struct {
	Level     PromoteLevel
	InSession bool
	Out       io.Writer
}

// Respond writes one response message.
func (c *Context) Respond(msg string) {
	if c.Out == nil {
		return
	}
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}
	io.WriteString(c.Out, msg)
}

// Store is the slice of the hosting config the commands need.
type Store interface {
	Enabled() bool
	SetEnabled(enabled bool)
	Save()
}

// Module runs the hosting commands against one config and storage directory.
type Module struct {
	config     Store
	storageDir string
	logger     *logging.Logger
}

// New returns a command module.
func New(config Store, storageDir string, logger *logging.Logger) *Module {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Module{
		config:     config,
		storageDir: storageDir,
		logger:     logger.WithField("component", "commands"),
	}
}

// Report is the data behind the info command.
type Report struct {
	Enabled    bool      `json:"enabled" yaml:"enabled"`
	LastCanary time.Time `json:"last_canary,omitempty" yaml:"last_canary,omitempty"`
	CanaryAge  string    `json:"canary_age,omitempty" yaml:"canary_age,omitempty"`
	PID        int32     `json:"pid,omitempty" yaml:"pid,omitempty"`
	Alive      bool      `json:"alive" yaml:"alive"`
}

// Report reads the config and the marker files.
func (m *Module) Report() Report {
	r := Report{Enabled: m.config.Enabled()}
	if stamp, err := markers.ReadCanary(m.storageDir); err == nil {
		r.LastCanary = stamp
		r.CanaryAge = time.Since(stamp).Round(time.Second).String()
	}
	if pid, err := markers.ReadPID(m.storageDir); err == nil {
		r.PID = pid
		r.Alive = markers.Alive(pid)
	}
	return r
}

// Info reports the current settings. It needs no privilege but only works
// inside a session while the feature is enabled.
func (m *Module) Info(ctx *Context) {
	if !m.config.Enabled() {
		ctx.Respond(msgDisabled)
		return
	}
	if !ctx.InSession {
		ctx.Respond(msgNoSession)
		return
	}
	m.respondWithInfo(ctx)
}

// Enable turns canary writes on and saves the config.
func (m *Module) Enable(ctx *Context) {
	m.setEnabled(ctx, true)
}

// Disable turns canary writes off and saves the config.
func (m *Module) Disable(ctx *Context) {
	m.setEnabled(ctx, false)
}

func (m *Module) setEnabled(ctx *Context, enabled bool) {
	if ctx.Level < Admin {
		ctx.Respond(msgNotAdmin)
		return
	}
	m.config.SetEnabled(enabled)
	m.config.Save()
	m.logger.Info("Hosting toggled", map[string]interface{}{"enabled": enabled})
	m.respondWithInfo(ctx)
}

func (m *Module) respondWithInfo(ctx *Context) {
	ctx.Respond(FormatReport(m.Report()))
}

// Execute runs a console line such as "info" or "!hosting disable".
func (m *Module) Execute(ctx *Context, line string) {
	fields := strings.Fields(line)
	if len(fields) > 0 && (fields[0] == "!hosting" || fields[0] == "hosting") {
		fields = fields[1:]
	}
	if len(fields) == 0 {
		ctx.Respond("Usage: hosting info|enable|disable")
		return
	}

	switch strings.ToLower(fields[0]) {
	case "info":
		m.Info(ctx)
	case "enable":
		m.Enable(ctx)
	case "disable":
		m.Disable(ctx)
	default:
		ctx.Respond(fmt.Sprintf("Unknown command: %s", fields[0]))
	}
}

// FormatReport renders r the way the console shows it.
func FormatReport(r Report) string {
	var b strings.Builder
	b.WriteString("Hosting:\r\n")
	fmt.Fprintf(&b, "Enabled: %s\r\n", FormatBool(r.Enabled))
	if !r.LastCanary.IsZero() {
		fmt.Fprintf(&b, "Last canary: %s (%s ago)\r\n", r.LastCanary.Format(canary.TimeFormat), r.CanaryAge)
	}
	if r.PID != 0 {
		fmt.Fprintf(&b, "PID: %d (running: %s)\r\n", r.PID, FormatBool(r.Alive))
	}
	return b.String()
}

// FormatBool renders a boolean as Yes or No.
func FormatBool(value bool) string {
	if value {
		return "Yes"
	}
	return "No"
}
