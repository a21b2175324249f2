// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"cmp"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"
)

const (
	ConfigLoadFailedId Id = iota + 1
	StoreOpenFailedId
	ConsoleStartFailedId
	SSHStartFailedId
	SerialDeviceUnavailableId
	ScriptNotFoundId
	UnknownCommandId
	CommandFailedId
)

type (
	// Id identifies a catalog entry.
	Id int

	// MarkdownMsg is the body of an Issue.
	MarkdownMsg string

	// HttpLink is a documentation link shown under "See also".
	HttpLink string

	// Issue is a Markdown explanation of a class of failure.
	Issue struct {
		id       Id
		mdMsg    MarkdownMsg
		docLinks []HttpLink
		extLinks []HttpLink
	}
)

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

// Render renders the issue with the glamour style at stylePath ("dark",
// "light", "notty" or a JSON style file).
func (i *Issue) Render(stylePath string) (string, error) {
	extraMd := ""
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		extraMd += "\n\n## See also\n"
		for _, link := range i.docLinks {
			extraMd += "\n- <" + string(link) + ">"
		}
		for _, link := range i.extLinks {
			extraMd += "\n- <" + string(link) + ">"
		}
	}
	return render(string(i.mdMsg)+extraMd, stylePath)
}

var (
	render = glamour.Render

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Configuration could not be loaded

The configuration file exists but does not parse as CUE or does not match the
configuration schema.

## Things you can try
- Print the effective defaults and compare:
~~~
$ flashcmd config show
~~~
- Write a fresh file next to the broken one:
~~~
$ flashcmd config init --force
~~~
- Environment variables such as ` + "`FLASHCMD_CONSOLE_PORT`" + ` override the file, check them too.`,
	}

	storeOpenFailedIssue = &Issue{
		id: StoreOpenFailedId,
		mdMsg: `
# The persisted store could not be opened

flashcmd keeps flags, channel start values and the ping watchdog settings in a
SQLite database. Opening or migrating it failed.

## Things you can try
- Make sure the directory of ` + "`store.path`" + ` exists and is writable.
- Use an in-memory store for a throwaway session:
~~~
$ FLASHCMD_STORE_PATH=:memory: flashcmd serve
~~~`,
	}

	consoleStartFailedIssue = &Issue{
		id: ConsoleStartFailedId,
		mdMsg: `
# The TCP console did not start

The console could not listen on the configured address.

## Things you can try
- Another process may own the port. Pick a different one:
~~~
$ FLASHCMD_CONSOLE_PORT=2323 flashcmd serve
~~~
- Ports below 1024 need elevated privileges on most systems.
- Disable the console with ` + "`console: enabled: false`" + `.`,
	}

	sshStartFailedIssue = &Issue{
		id: SSHStartFailedId,
		mdMsg: `
# The SSH console did not start

## Things you can try
- Set a password, the SSH console refuses to run without one:
~~~cue
ssh: {
	enabled:  true
	password: "change-me"
}
~~~
- Check that ` + "`ssh.host_key_path`" + ` points at a writable location.
- Make sure the port is free.`,
	}

	serialDeviceUnavailableIssue = &Issue{
		id: SerialDeviceUnavailableId,
		mdMsg: `
# The serial device is not available

The UART reader could not open ` + "`uart.device`" + `.

## Things you can try
- Use ` + "`-`" + ` to read command lines from stdin instead.
- Check the permissions of the device node (the dialout group on Linux).`,
	}

	scriptNotFoundIssue = &Issue{
		id: ScriptNotFoundId,
		mdMsg: `
# Autoexec script not found

` + "`script.path`" + ` names a file that does not exist. Every non-blank line of the
script is executed at start up; lines beginning with ` + "`//`" + ` or ` + "`#`" + ` are skipped.

## Things you can try
- Create the file, or clear ` + "`script.path`" + ` to run without one.`,
	}

	unknownCommandIssue = &Issue{
		id: UnknownCommandId,
		mdMsg: `
# Unknown command

No command or alias with that name is registered. Lookup ignores case and
falls back to the name without its trailing digits, so ` + "`SetChannel3`" + ` finds
` + "`SetChannel`" + `.

## Things you can try
~~~
$ flashcmd list
~~~`,
	}

	commandFailedIssue = &Issue{
		id: CommandFailedId,
		mdMsg: `
# The command did not succeed

The engine answered with a result other than OK. The exit status is the result
code: 1 empty line, 2 unknown command, 3 not enough arguments, 4 bad argument,
5 recursion limit.

## Things you can try
- Run the command with ` + "`--verbose`" + ` to see the engine log.
- Check the argument list with ` + "`flashcmd list`" + `.`,
	}

	issues = map[Id]*Issue{
		configLoadFailedIssue.Id():        configLoadFailedIssue,
		storeOpenFailedIssue.Id():         storeOpenFailedIssue,
		consoleStartFailedIssue.Id():      consoleStartFailedIssue,
		sshStartFailedIssue.Id():          sshStartFailedIssue,
		serialDeviceUnavailableIssue.Id(): serialDeviceUnavailableIssue,
		scriptNotFoundIssue.Id():          scriptNotFoundIssue,
		unknownCommandIssue.Id():          unknownCommandIssue,
		commandFailedIssue.Id():           commandFailedIssue,
	}
)

// Values returns every catalog entry ordered by Id.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for _, is := range issues {
		out = append(out, is)
	}
	slices.SortFunc(out, func(a, b *Issue) int { return cmp.Compare(a.id, b.id) })
	return out
}

func Get(id Id) *Issue {
	return issues[id]
}
