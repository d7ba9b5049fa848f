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

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/gdamore/botvisor"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

var (
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	stoppedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle  = lipgloss.NewStyle().Bold(true)
)

// useColor follows the NO_COLOR convention, and otherwise colors only
// terminals.
func useColor() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

type printer struct {
	w      io.Writer
	format string
	color  bool
}

func newPrinter(w io.Writer, format string) (*printer, error) {
	switch format {
	case formatTable, formatJSON, formatYAML:
	default:
		return nil, errors.Errorf("unknown output format %q", format)
	}
	return &printer{w: w, format: format, color: format == formatTable && useColor()}, nil
}

func (p *printer) status(d botvisor.Descriptor) string {
	s := string(d.Status)
	if !p.color {
		return s
	}
	if d.Running() {
		return runningStyle.Render(s)
	}
	return stoppedStyle.Render(s)
}

func (p *printer) header(s string) string {
	if !p.color {
		return s
	}
	return headerStyle.Render(s)
}

// structured writes v as JSON or YAML.  YAML is produced from the JSON
// encoding so both formats carry the same keys in the same order.
func (p *printer) structured(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if p.format == formatJSON {
		_, err = fmt.Fprintf(p.w, "%s\n", b)
		return err
	}
	var n yaml.Node
	if err := yaml.Unmarshal(b, &n); err != nil {
		return err
	}
	blockStyle(&n)
	enc := yaml.NewEncoder(p.w)
	enc.SetIndent(2)
	if err := enc.Encode(&n); err != nil {
		return err
	}
	return enc.Close()
}

// blockStyle drops the flow style that parsing JSON leaves on every node.
func blockStyle(n *yaml.Node) {
	n.Style &^= yaml.FlowStyle
	for _, c := range n.Content {
		blockStyle(c)
	}
}

func age(t time.Time) string {
	d := time.Since(t)
	// for printing second resolution is sufficient
	d -= d % time.Second
	return d.String()
}

func (p *printer) bots(bots []botvisor.Descriptor) error {
	if p.format != formatTable {
		return p.structured(bots)
	}
	fmt.Fprintf(p.w, "%-20s %-10s %8s %6s %12s  %s\n", "NAME", "STATUS",
		"PID", "PORT", "UPTIME", "COMMAND")
	for _, d := range bots {
		pid, up := "-", "-"
		if d.Running() {
			pid = fmt.Sprint(d.PID)
			if d.StartedAt != nil {
				up = age(*d.StartedAt)
			}
		}
		// Pad before styling, escape codes have no width.
		st := p.status(d) + fmt.Sprintf("%*s", 10-len(d.Status), "")
		fmt.Fprintf(p.w, "%-20s %s %8s %6d %12s  %s\n", d.Name, st,
			pid, d.Port, up, d.StartupCommand)
	}
	return nil
}

func (p *printer) bot(d botvisor.Descriptor) error {
	if p.format != formatTable {
		return p.structured(d)
	}
	row := func(k, v string) {
		fmt.Fprintf(p.w, "%s %s\n", p.header(fmt.Sprintf("%-16s", k+":")), v)
	}
	row("Name", d.Name)
	row("Status", p.status(d))
	row("Command", d.StartupCommand)
	row("Port", fmt.Sprint(d.Port))
	row("Created", d.CreatedAt.Local().Format(time.RFC3339))
	if d.Running() {
		row("PID", fmt.Sprint(d.PID))
		if d.StartedAt != nil {
			row("Started", d.StartedAt.Local().Format(time.RFC3339))
			row("Uptime", age(*d.StartedAt))
		}
	}
	return nil
}

func (p *printer) events(events []botvisor.Event) error {
	if p.format != formatTable {
		if len(events) == 0 {
			return nil
		}
		return p.structured(events)
	}
	for _, ev := range events {
		fmt.Fprintf(p.w, "%s  %-20s %s\n", ev.Time.Local().Format("2006-01-02 15:04:05"), ev.Bot, ev.Text)
	}
	return nil
}
