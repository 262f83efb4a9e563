package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// RegisterBuiltins registers the core slash-command surface:
// /help, /model, /plugin, /task, /project, /clear, /compact, /debug,
// /agent. Each handler only shapes a Result; the actual side effect
// (switching models, killing a background task, clearing history) is
// performed by whatever Dependencies the handler closes over.
func RegisterBuiltins(r *Registry, deps Dependencies) {
	mustRegister := func(cmd *Command) {
		if err := r.Register(cmd); err != nil {
			panic(fmt.Sprintf("failed to register builtin command %q: %v", cmd.Name, err))
		}
	}

	mustRegister(&Command{
		Name:        "help",
		Aliases:     []string{"h", "?"},
		Description: "Show available commands",
		Usage:       "/help [command]",
		AcceptsArgs: true,
		Category:    "system",
		Source:      "builtin",
		Handler:     helpHandler(r),
	})

	mustRegister(&Command{
		Name:        "model",
		Description: "Show or change the active model",
		Usage:       "/model [service] <name>",
		AcceptsArgs: true,
		Category:    "config",
		Source:      "builtin",
		Handler:     modelHandler(deps),
	})

	mustRegister(&Command{
		Name:        "plugin",
		Description: "List, inspect, or toggle plugins",
		Usage:       "/plugin {list|show|config|install|uninstall|activate|deactivate|active} [name]",
		AcceptsArgs: true,
		Category:    "config",
		Source:      "builtin",
		Handler:     pluginHandler(deps),
	})

	mustRegister(&Command{
		Name:        "task",
		Description: "List or kill background shells and delegated agents",
		Usage:       "/task {list|kill <id>}",
		AcceptsArgs: true,
		Category:    "control",
		Source:      "builtin",
		Handler:     taskHandler(deps),
	})

	mustRegister(&Command{
		Name:        "project",
		Description: "Inspect or initialize project context",
		Usage:       "/project {init|view}",
		AcceptsArgs: true,
		Category:    "session",
		Source:      "builtin",
		Handler:     projectHandler(deps),
	})

	mustRegister(&Command{
		Name:        "clear",
		Description: "Start a new conversation",
		Category:    "session",
		Source:      "builtin",
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			return &Result{
				Text: "Starting a new conversation.",
				Data: map[string]any{"action": "clear_session"},
			}, nil
		},
	})

	mustRegister(&Command{
		Name:        "compact",
		Description: "Summarize and compact the conversation history",
		Category:    "session",
		Source:      "builtin",
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			return &Result{
				Text: "Compacting conversation...",
				Data: map[string]any{"action": "compact"},
			}, nil
		},
	})

	mustRegister(&Command{
		Name:        "debug",
		Description: "Inspect runtime internals (read-state, patch journal, loop detector)",
		Usage:       "/debug <subcommand>",
		AcceptsArgs: true,
		Category:    "system",
		Source:      "builtin",
		Handler:     debugHandler(deps),
	})

	mustRegister(&Command{
		Name:        "agent",
		Description: "List or inspect active delegated agents",
		Usage:       "/agent {list|...}",
		AcceptsArgs: true,
		Category:    "control",
		Source:      "builtin",
		Handler:     agentHandler(deps),
	})
}

func modelHandler(deps Dependencies) CommandHandler {
	return func(ctx context.Context, inv *Invocation) (*Result, error) {
		arg := strings.TrimSpace(inv.Args)
		if arg == "" {
			current := ""
			if deps.CurrentModel != nil {
				current = deps.CurrentModel()
			}
			text := "Current model: (use /model <name> to change)"
			if current != "" {
				text = fmt.Sprintf("Current model: %s", current)
			}
			return &Result{Text: text, Data: map[string]any{"action": "get_model"}}, nil
		}
		if deps.SetModel != nil {
			if err := deps.SetModel(arg); err != nil {
				return &Result{Error: err.Error()}, nil
			}
		}
		return &Result{
			Text: fmt.Sprintf("Model changed to: %s", arg),
			Data: map[string]any{"action": "set_model", "model": arg},
		}, nil
	}
}

func pluginHandler(deps Dependencies) CommandHandler {
	return func(ctx context.Context, inv *Invocation) (*Result, error) {
		fields := strings.Fields(inv.Args)
		if len(fields) == 0 {
			return &Result{Text: "Usage: /plugin {list|show|config|install|uninstall|activate|deactivate|active} [name]"}, nil
		}
		sub, rest := fields[0], fields[1:]
		if deps.Plugins == nil {
			return &Result{Error: "plugin management is not available in this session"}, nil
		}
		switch sub {
		case "list":
			names := deps.Plugins.List()
			if len(names) == 0 {
				return &Result{Text: "No plugins installed."}, nil
			}
			return &Result{Text: "Plugins:\n" + strings.Join(names, "\n")}, nil
		case "active":
			names := deps.Plugins.Active()
			if len(names) == 0 {
				return &Result{Text: "No plugins active."}, nil
			}
			return &Result{Text: "Active plugins:\n" + strings.Join(names, "\n")}, nil
		case "activate", "deactivate", "install", "uninstall":
			if len(rest) == 0 {
				return &Result{Error: fmt.Sprintf("/plugin %s requires a plugin name", sub)}, nil
			}
			if err := deps.Plugins.Toggle(sub, rest[0]); err != nil {
				return &Result{Error: err.Error()}, nil
			}
			return &Result{Text: fmt.Sprintf("%s: %s", sub, rest[0])}, nil
		default:
			return &Result{Error: fmt.Sprintf("unknown /plugin subcommand %q", sub)}, nil
		}
	}
}

func taskHandler(deps Dependencies) CommandHandler {
	return func(ctx context.Context, inv *Invocation) (*Result, error) {
		fields := strings.Fields(inv.Args)
		if len(fields) == 0 || fields[0] == "list" {
			if deps.Tasks == nil {
				return &Result{Text: "No background tasks."}, nil
			}
			items := deps.Tasks.List()
			if len(items) == 0 {
				return &Result{Text: "No background tasks."}, nil
			}
			return &Result{Text: "Background tasks:\n" + strings.Join(items, "\n")}, nil
		}
		if fields[0] == "kill" {
			if len(fields) < 2 {
				return &Result{Error: "/task kill requires an id"}, nil
			}
			if deps.Tasks == nil {
				return &Result{Error: "no background tasks available"}, nil
			}
			if err := deps.Tasks.Kill(fields[1]); err != nil {
				return &Result{Error: err.Error()}, nil
			}
			return &Result{Text: fmt.Sprintf("Killed task %s", fields[1])}, nil
		}
		return &Result{Error: fmt.Sprintf("unknown /task subcommand %q", fields[0])}, nil
	}
}

func projectHandler(deps Dependencies) CommandHandler {
	return func(ctx context.Context, inv *Invocation) (*Result, error) {
		arg := strings.TrimSpace(inv.Args)
		switch arg {
		case "", "view":
			if deps.Project == nil {
				return &Result{Text: "No project context detected."}, nil
			}
			return &Result{Text: deps.Project.View()}, nil
		case "init":
			if deps.Project == nil {
				return &Result{Error: "project initialization is not available"}, nil
			}
			if err := deps.Project.Init(); err != nil {
				return &Result{Error: err.Error()}, nil
			}
			return &Result{Text: "Project initialized."}, nil
		default:
			return &Result{Error: fmt.Sprintf("unknown /project subcommand %q", arg)}, nil
		}
	}
}

func debugHandler(deps Dependencies) CommandHandler {
	return func(ctx context.Context, inv *Invocation) (*Result, error) {
		if deps.Debug == nil {
			return &Result{Text: "No debug inspectors registered."}, nil
		}
		sub := strings.TrimSpace(inv.Args)
		out, err := deps.Debug.Inspect(sub)
		if err != nil {
			return &Result{Error: err.Error()}, nil
		}
		return &Result{Text: out}, nil
	}
}

func agentHandler(deps Dependencies) CommandHandler {
	return func(ctx context.Context, inv *Invocation) (*Result, error) {
		fields := strings.Fields(inv.Args)
		if len(fields) == 0 || fields[0] == "list" {
			if deps.Agents == nil {
				return &Result{Text: "No delegated agents active."}, nil
			}
			items := deps.Agents.List()
			if len(items) == 0 {
				return &Result{Text: "No delegated agents active."}, nil
			}
			return &Result{Text: "Active agents:\n" + strings.Join(items, "\n")}, nil
		}
		return &Result{Error: fmt.Sprintf("unknown /agent subcommand %q", fields[0])}, nil
	}
}

var categoryTitle = cases.Title(language.English)

func titleCase(s string) string {
	return categoryTitle.String(s)
}

func helpHandler(r *Registry) CommandHandler {
	return func(ctx context.Context, inv *Invocation) (*Result, error) {
		if inv.Args != "" {
			cmdName := strings.ToLower(strings.TrimSpace(inv.Args))
			cmdName = strings.TrimPrefix(cmdName, "/")

			cmd, exists := r.Get(cmdName)
			if !exists {
				return &Result{
					Text: fmt.Sprintf("Unknown command: %s\n\nUse /help to see available commands.", cmdName),
				}, nil
			}

			var sb strings.Builder
			sb.WriteString(fmt.Sprintf("**/%s**\n", cmd.Name))
			if cmd.Description != "" {
				sb.WriteString(fmt.Sprintf("%s\n", cmd.Description))
			}
			if cmd.Usage != "" {
				sb.WriteString(fmt.Sprintf("\nUsage: `%s`\n", cmd.Usage))
			}
			if len(cmd.Aliases) > 0 {
				aliases := make([]string, len(cmd.Aliases))
				for i, a := range cmd.Aliases {
					aliases[i] = "/" + a
				}
				sb.WriteString(fmt.Sprintf("\nAliases: %s\n", strings.Join(aliases, ", ")))
			}

			return &Result{Text: sb.String(), Markdown: true}, nil
		}

		byCategory := r.ListByCategory()
		categories := make([]string, 0, len(byCategory))
		for cat := range byCategory {
			categories = append(categories, cat)
		}
		sort.Strings(categories)

		var sb strings.Builder
		sb.WriteString("**Available Commands**\n\n")

		for _, category := range categories {
			cmds := byCategory[category]
			if len(cmds) == 0 {
				continue
			}
			sb.WriteString(fmt.Sprintf("**%s**\n", titleCase(category)))
			for _, cmd := range cmds {
				desc := cmd.Description
				if desc == "" {
					desc = "No description"
				}
				sb.WriteString(fmt.Sprintf("  `/%s` - %s\n", cmd.Name, desc))
			}
			sb.WriteString("\n")
		}

		sb.WriteString("Use `/help <command>` for more details.")

		return &Result{Text: sb.String(), Markdown: true}, nil
	}
}
