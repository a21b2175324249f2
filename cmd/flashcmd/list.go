// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/flashcmd/flashcmd/internal/config"
	"github.com/flashcmd/flashcmd/internal/node"
)

const listWordWrap = 100

type commandInfo struct {
	Name        string
	Args        string
	Description string
}

func newListCommand(app *App) *cobra.Command {
	var markdown bool

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the registered commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := registeredCommands(cmd.Context())
			if err != nil {
				return app.fail(cmd, err)
			}
			if markdown {
				return renderCommandsMarkdown(app.stdout, infos)
			}
			renderCommandsPlain(app.stdout, infos)
			return nil
		},
	}
	listCmd.Flags().BoolVar(&markdown, "markdown", false, "render the list as a Markdown table")

	return listCmd
}

// registeredCommands lists what a freshly booted device registers, using a
// throwaway in-memory store.
func registeredCommands(ctx context.Context) ([]commandInfo, error) {
	cfg := config.DefaultConfig()
	cfg.Store.Path = config.MemoryStore

	n, err := node.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer n.Close()

	reg := n.Engine().Registry()
	var infos []commandInfo
	for _, name := range reg.Names() {
		info := commandInfo{Name: name}
		if e, ok := reg.Find(name); ok {
			if doc, ok := e.Doc(); ok {
				info.Args = doc.Args
				info.Description = doc.Description
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func renderCommandsPlain(w io.Writer, infos []commandInfo) {
	fmt.Fprintln(w, TitleStyle.Render("Commands"))
	fmt.Fprintln(w)
	for _, info := range infos {
		line := "  " + CmdStyle.Render(info.Name)
		if info.Args != "" {
			line += " " + SubtitleStyle.Render(info.Args)
		}
		fmt.Fprintln(w, line)
		if info.Description != "" {
			fmt.Fprintln(w, "      "+info.Description)
		}
	}
}

func commandsMarkdown(infos []commandInfo) string {
	var b strings.Builder
	b.WriteString("# Commands\n\n")
	b.WriteString("| Command | Arguments | Description |\n")
	b.WriteString("|---|---|---|\n")
	for _, info := range infos {
		fmt.Fprintf(&b, "| `%s` | %s | %s |\n", info.Name, markdownCell(info.Args), markdownCell(info.Description))
	}
	return b.String()
}

func markdownCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func renderCommandsMarkdown(w io.Writer, infos []commandInfo) error {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(listWordWrap),
	)
	if err != nil {
		return fmt.Errorf("create markdown renderer: %w", err)
	}
	out, err := r.Render(commandsMarkdown(infos))
	if err != nil {
		return fmt.Errorf("render command list: %w", err)
	}
	_, err = io.WriteString(w, out)
	return err
}
