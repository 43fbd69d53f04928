// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Command-line parsing for planrun.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"strings"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdHelp Command = iota
	CmdRun
	CmdPlan
	CmdExecute
	CmdInteractive
	CmdServe
	CmdConfig
	CmdDoctor
	CmdVersion
	CmdUnknown
)

var commandNames = map[Command]string{
	CmdHelp:        "help",
	CmdRun:         "run",
	CmdPlan:        "plan",
	CmdExecute:     "execute",
	CmdInteractive: "interactive",
	CmdServe:       "serve",
	CmdConfig:      "config",
	CmdDoctor:      "doctor",
	CmdVersion:     "version",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return "unknown"
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	ConfigPath string // --config: explicit config file
	LogFile    string // --log-file: overrides [log] file
	Verbose    bool
	Quiet      bool
	JSON       bool
	Model      string // --model: overrides [planner] model
	Provider   string // --provider: overrides [backend] provider

	// run, plan, execute
	Goal       string
	TUI        bool
	PlanOnly   bool
	Report     string // --report: file.{md,json,html}
	PlanFile   string // --plan: plan document for execute
	Format     string // --format: plan encoding for `plan`
	Out        string // --out: where `plan` writes the document
	NoMarkdown bool
	Stream     bool // print generated text while it streams

	// serve
	Addr string

	// config
	Subcommand  string
	ConfigKey   string
	ConfigValue string
	Force       bool

	// Name is the command word as typed, kept for error messages.
	Name string
	// Raw holds the arguments after the command word.
	Raw []string
}

// boolFlags never take a value, so they can sit in front of goal words.
var boolFlags = []string{
	"json", "tui", "plan-only", "verbose", "v", "quiet", "q",
	"no-markdown", "stream", "force", "help", "h", "version",
}

const usageText = `planrun - break a goal into a plan of actions and run it

planrun asks a language model to decompose a goal into a dependency graph
of actions, runs ready actions concurrently, checks every result with a
second evaluation pass, and combines the outputs into one final answer.

Usage:
  planrun run <goal>            Plan, execute and synthesize a goal
  planrun plan <goal>           Compile a plan only (YAML or JSON)
  planrun execute --plan FILE   Execute a saved plan
  planrun interactive           Read goals at a prompt, one run per goal
  planrun serve                 Serve the planner over HTTP
  planrun config [SUBCOMMAND]   show | init | path | get KEY | set KEY VALUE | keys
  planrun doctor                Check configuration and backend
  planrun version               Show version information
  planrun help                  Show this help

Run options:
  --tui                 Live dashboard (requires a terminal)
  --json                Stream progress events as JSON lines, then the result
  --report FILE         Write a report (.md, .json or .html)
  --plan-only           Stop after compiling the plan
  --stream              Print generated text as it arrives
  --no-markdown         Print the final result without rendering

Plan options:
  -f, --format FORMAT   yaml (default) or json
  -o, --out FILE        Write the plan to FILE (format from extension)

Serve options:
  --addr ADDR           Listen address (default from [server] addr)

Global options:
  -c, --config FILE     Configuration file (default ~/.planrun/config.toml)
  -m, --model NAME      Model to use
  --provider NAME       ollama or openai
  --log-file FILE       Append the log to FILE
  -v, --verbose         Debug logging
  -q, --quiet           Only print results

A goal of "-" is read from standard input.

Examples:
  planrun run "write a Go function that reverses a string"
  planrun run --tui --report out.html "outline a blog post about DAG schedulers"
  planrun plan -o plan.yaml "set up a CI pipeline"
  planrun execute --plan plan.yaml --json

Version: %s
`

// PrintUsage prints the usage/help text.
func PrintUsage(w io.Writer) {
	fmt.Fprintf(w, usageText, Version)
}

// VersionInfo is the --json form of `planrun version`.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// HandleVersion prints version information.
func HandleVersion(w io.Writer, args Args) error {
	info := VersionInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if args.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(NewJSONResponse("version", info))
	}
	fmt.Fprintf(w, "planrun version %s\n", info.Version)
	fmt.Fprintf(w, "  Git commit: %s\n", info.GitCommit)
	fmt.Fprintf(w, "  Build date: %s\n", info.BuildDate)
	fmt.Fprintf(w, "  Go:         %s (%s)\n", info.GoVersion, info.Platform)
	return nil
}

// Parse parses command-line arguments (without the program name) and
// returns the command and its arguments. Flags may appear anywhere.
func Parse(argv []string) (Command, Args) {
	p := NewArgParser(argv, boolFlags...)

	args := Args{
		ConfigPath: firstFlag(p, "config", "c"),
		LogFile:    p.Flag("log-file"),
		Verbose:    p.BoolFlag("verbose") || p.BoolFlag("v"),
		Quiet:      p.BoolFlag("quiet") || p.BoolFlag("q"),
		JSON:       p.BoolFlag("json"),
		Model:      firstFlag(p, "model", "m"),
		Provider:   p.Flag("provider"),
		Name:       p.Subcommand(),
		Raw:        p.PositionalFrom(1),
	}

	if p.BoolFlag("help") || p.BoolFlag("h") {
		return CmdHelp, args
	}

	switch strings.ToLower(p.Subcommand()) {
	case "":
		if p.BoolFlag("version") {
			return CmdVersion, args
		}
		return CmdHelp, args

	case "run":
		parseRunArgs(&args, p)
		return CmdRun, args

	case "plan", "compile":
		parseRunArgs(&args, p)
		args.Format = strings.ToLower(firstFlag(p, "format", "f"))
		args.Out = firstFlag(p, "out", "o")
		return CmdPlan, args

	case "execute", "exec":
		parseRunArgs(&args, p)
		args.PlanFile = firstFlag(p, "plan", "p")
		if args.PlanFile == "" {
			// `planrun execute plan.yaml`
			args.PlanFile = p.Positional(1)
		}
		return CmdExecute, args

	case "interactive", "repl", "i":
		parseRunArgs(&args, p)
		return CmdInteractive, args

	case "serve", "server":
		args.Addr = p.Flag("addr")
		return CmdServe, args

	case "config":
		args.Subcommand = strings.ToLower(p.Positional(1))
		args.ConfigKey = p.Positional(2)
		args.ConfigValue = JoinPositionalArgs(p, 3)
		args.Force = p.BoolFlag("force")
		return CmdConfig, args

	case "doctor", "diag":
		return CmdDoctor, args

	case "version":
		return CmdVersion, args

	case "help":
		return CmdHelp, args

	default:
		return CmdUnknown, args
	}
}

func parseRunArgs(args *Args, p *ArgParser) {
	args.Goal = strings.TrimSpace(JoinPositionalArgs(p, 1))
	args.TUI = p.BoolFlag("tui")
	args.PlanOnly = p.BoolFlag("plan-only")
	args.Report = p.Flag("report")
	args.NoMarkdown = p.BoolFlag("no-markdown")
	args.Stream = p.BoolFlag("stream")
}

// firstFlag returns the first non-empty value among the given names.
func firstFlag(p *ArgParser, names ...string) string {
	for _, name := range names {
		if v := p.Flag(name); v != "" {
			return v
		}
	}
	return ""
}

// ErrUnknownCommand reports a command word planrun does not know.
func ErrUnknownCommand(name string) error {
	return NewValidationErrorWithExample("command", name, "unknown command", "planrun help")
}
