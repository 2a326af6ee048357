package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	log "github.com/sirupsen/logrus"

	"github.com/mystor/git-revise/pkg/revise"
)

const version = "0.1.0"

type VersionFlag bool

func (VersionFlag) Decode(ctx *kong.DecodeContext) error { return nil }
func (VersionFlag) IsBool() bool                         { return true }
func (VersionFlag) BeforeApply(app *kong.Kong, vars kong.Vars) error {
	fmt.Fprintf(app.Stdout, "revise %s\n", version)
	app.Exit(0)
	return nil
}

// Globals carries every flag shared across revise's single effective
// command (there is only one verb: rewrite a range of commits), mirroring
// how a multi-command CLI built on kong separates its Globals struct from
// per-command flags even when, here, everything lives on one command.
type Globals struct {
	Verbose bool        `short:"v" name:"verbose" help:"Print debug diagnostics to stderr."`
	Version VersionFlag `name:"version" help:"Show version and exit."`
}

// App is the flag surface for the rewrite itself.
type App struct {
	Globals

	All          bool     `short:"a" name:"all" help:"Stage all tracked, modified files before operating."`
	Patch        bool     `short:"p" name:"patch" help:"Interactively stage hunks of modified files."`
	NoIndex      bool     `name:"no-index" help:"Ignore the index entirely; the target commit's original tree is left unchanged."`
	Reauthor     bool     `name:"reauthor" help:"Set the author of the targeted commit(s) to the current user."`
	Ref          string   `name:"ref" default:"HEAD" help:"Reference to update with the rewritten history."`
	Interactive  bool     `short:"i" name:"interactive" help:"Interactively edit the commits in the selected range."`
	Autosquash   bool     `name:"autosquash" help:"Apply fixup!/squash! auto-squashing to the todo list."`
	NoAutosquash bool     `name:"no-autosquash" help:"Disable fixup!/squash! auto-squashing even if revise.autoSquash is set."`
	Cut          bool     `short:"c" name:"cut" help:"Accepted but ignored: the target commit is not split."`
	Edit         bool     `short:"e" name:"edit" help:"Interactively edit the commit message of each selected commit."`
	Message      []string `short:"m" name:"message" help:"Use the given message as the commit message (may be repeated for multiple paragraphs)."`

	Continue bool `name:"continue" help:"Resume a rewrite that stopped on a conflict." xor:"resume"`
	Skip     bool `name:"skip" help:"Discard the commit that stopped the rewrite and resume with the rest." xor:"resume"`
	Abort    bool `name:"abort" help:"Discard an in-progress rewrite's saved state." xor:"resume"`

	Target string `arg:"" optional:"" help:"Revision to rewrite, or the start of an interactive range (e.g. HEAD~3)."`
}

func main() {
	var app App
	parser := kong.Must(&app,
		kong.Name("revise"),
		kong.Description("Efficiently reorder, edit, and squash git commits."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)
	_, err := parser.Parse(os.Args[1:])
	if err != nil {
		// Flag misuse gets its own exit code per the CLI contract;
		// FatalIfErrorf would otherwise exit 1 like a generic failure.
		fmt.Fprintf(os.Stderr, "revise: %v\n", err)
		os.Exit(2)
	}

	if app.Verbose {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.WarnLevel)
	}

	os.Exit(run(&app))
}

func run(app *App) int {
	ctx := context.Background()

	repo, err := revise.Open(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "revise: %v\n", err)
		return 128
	}

	cmd := &revise.CommandOptions{
		All:          app.All,
		Patch:        app.Patch,
		NoIndex:      app.NoIndex,
		Reauthor:     app.Reauthor,
		Ref:          app.Ref,
		Interactive:  app.Interactive,
		Autosquash:   app.Autosquash,
		NoAutosquash: app.NoAutosquash,
		Cut:          app.Cut,
		Edit:         app.Edit,
		Messages:     app.Message,
		Target:       app.Target,
		Continue:     app.Continue,
		Skip:         app.Skip,
		Abort:        app.Abort,
	}

	if err := revise.RunCommand(ctx, repo, cmd); err != nil {
		return exitCodeFor(err)
	}
	return 0
}

func exitCodeFor(err error) int {
	switch {
	case revise.IsUserAbort(err):
		return 1
	case revise.IsVcsFailed(err):
		return 128
	default:
		fmt.Fprintf(os.Stderr, "revise: %v\n", err)
		return 1
	}
}
