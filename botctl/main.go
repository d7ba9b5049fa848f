// Copyright 2026 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command botctl is a command line client for botvisord.
//
// Subcommands are
//
//	list                   - list all bots
//	show <bot>             - show one bot
//	deploy <zip>           - upload an archive as a new bot
//	start <bot>            - start the bot
//	stop <bot>             - stop the bot
//	restart <bot>          - stop the bot if running, then start it
//	logs <bot>             - print the bot's log
//	delete <bot>           - stop and remove the bot
//	config <bot> key=value - change descriptor fields
//	events                 - show what the server did to bots
//
// The server address comes from --addr, or BOTVISOR_ADDR.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/gdamore/botvisor/rest"
)

const defaultAddr = "http://127.0.0.1:3000"

type app struct {
	addr    string
	output  string
	timeout time.Duration
	out     io.Writer
}

func (a *app) client() *rest.Client {
	return rest.NewClient(nil, strings.TrimRight(a.addr, "/"))
}

func (a *app) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), a.timeout)
}

func (a *app) printer() (*printer, error) {
	return newPrinter(a.out, a.output)
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}
	root := &cobra.Command{
		Use:           "botctl",
		Short:         "Control bots managed by botvisord",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addr := os.Getenv("BOTVISOR_ADDR")
	if addr == "" {
		addr = defaultAddr
	}
	root.PersistentFlags().StringVarP(&a.addr, "addr", "a", addr, "server base URL")
	root.PersistentFlags().StringVarP(&a.output, "output", "o", formatTable, "output format (table, json, yaml)")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 30*time.Second, "request timeout")
	root.SetOut(out)

	root.AddCommand(
		a.listCmd(),
		a.showCmd(),
		a.deployCmd(),
		a.startCmd(),
		a.stopCmd(),
		a.restartCmd(),
		a.logsCmd(),
		a.deleteCmd(),
		a.configCmd(),
		a.eventsCmd(),
	)
	return root
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all bots",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.printer()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			bots, err := a.client().Bots(ctx)
			if err != nil {
				return err
			}
			return p.bots(bots)
		},
	}
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <bot>",
		Short: "Show one bot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.printer()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			d, err := a.client().Bot(ctx, args[0])
			if err != nil {
				return err
			}
			return p.bot(*d)
		},
	}
}

func (a *app) deployCmd() *cobra.Command {
	var name, command string
	var start bool
	cmd := &cobra.Command{
		Use:   "deploy <archive.zip>",
		Short: "Upload a zip archive as a new bot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.printer()
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			ctx, cancel := a.context(cmd)
			defer cancel()
			c := a.client()
			d, err := c.Deploy(ctx, name, command, args[0], f)
			if err != nil {
				return err
			}
			if start {
				if _, err := c.Start(ctx, d.Name); err != nil {
					return errors.Wrapf(err, "deployed %s, but start failed", d.Name)
				}
				if d, err = c.Bot(ctx, d.Name); err != nil {
					return err
				}
			}
			return p.bot(*d)
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "bot name (generated when empty)")
	cmd.Flags().StringVarP(&command, "command", "c", "", "startup command (server default when empty)")
	cmd.Flags().BoolVar(&start, "start", false, "start the bot after deploying")
	return cmd
}

// action builds the commands that act on one bot and report a message.
func (a *app) action(use, short string, fn func(context.Context, *rest.Client, string) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <bot>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			msg, err := fn(ctx, a.client(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, msg)
			return nil
		},
	}
}

func (a *app) startCmd() *cobra.Command {
	return a.action("start", "Start a bot", func(ctx context.Context, c *rest.Client, name string) (string, error) {
		pid, err := c.Start(ctx, name)
		return fmt.Sprintf("%s started, pid %d", name, pid), err
	})
}

func (a *app) stopCmd() *cobra.Command {
	return a.action("stop", "Stop a bot", func(ctx context.Context, c *rest.Client, name string) (string, error) {
		return fmt.Sprintf("%s stopped", name), c.Stop(ctx, name)
	})
}

func (a *app) restartCmd() *cobra.Command {
	return a.action("restart", "Restart a bot", func(ctx context.Context, c *rest.Client, name string) (string, error) {
		pid, err := c.Restart(ctx, name)
		return fmt.Sprintf("%s restarted, pid %d", name, pid), err
	})
}

func (a *app) deleteCmd() *cobra.Command {
	return a.action("delete", "Stop and remove a bot", func(ctx context.Context, c *rest.Client, name string) (string, error) {
		return fmt.Sprintf("%s deleted", name), c.Delete(ctx, name)
	})
}

func (a *app) logsCmd() *cobra.Command {
	var tail int
	cmd := &cobra.Command{
		Use:   "logs <bot>",
		Short: "Print a bot's log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			logs, err := a.client().Logs(ctx, args[0], tail)
			if err != nil {
				return err
			}
			if _, err = io.WriteString(a.out, logs); err != nil {
				return err
			}
			if logs != "" && !strings.HasSuffix(logs, "\n") {
				fmt.Fprintln(a.out)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&tail, "tail", "t", 0, "only the last N lines")
	return cmd
}

// parseAssignments turns key=value arguments into a patch.  Values that
// parse as JSON keep their type, anything else is a string.
func parseAssignments(args []string) (map[string]interface{}, error) {
	patch := make(map[string]interface{}, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, errors.Errorf("expected key=value, got %q", arg)
		}
		var val interface{}
		if json.Unmarshal([]byte(v), &val) != nil {
			val = v
		}
		patch[k] = val
	}
	return patch, nil
}

func (a *app) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config <bot> key=value...",
		Short: "Change descriptor fields of a bot",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.printer()
			if err != nil {
				return err
			}
			patch, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			d, err := a.client().UpdateConfig(ctx, args[0], patch)
			if err != nil {
				return err
			}
			return p.bot(*d)
		},
	}
}

func (a *app) eventsCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show what the server did to bots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.printer()
			if err != nil {
				return err
			}
			c := a.client()
			ctx, cancel := a.context(cmd)
			events, last, err := c.Events(ctx, 0, 0)
			cancel()
			if err != nil {
				return err
			}
			if err := p.events(events); err != nil || !follow {
				return err
			}
			for {
				events, last, err = c.Events(cmd.Context(), last, 5*time.Minute)
				if err != nil {
					return err
				}
				if err := p.events(events); err != nil {
					return err
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep waiting for new events")
	return cmd
}

func main() {
	if err := newRootCmd(os.Stdout).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "botctl: %v\n", err)
		os.Exit(1)
	}
}
