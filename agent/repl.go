package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dairyisscary/syn/internal/app"
	"github.com/dairyisscary/syn/internal/replica"
)

const help = `commands:
  login <name>
  down <index> <top> <left>   press on a box
  move <top> <left>
  up <top> <left>             release; creates a box unless dragging
  leave                       pointer left the canvas
  boxes | users | frame
  quit`

// repl drives the replica from a terminal, one command per line.
func repl(ctx context.Context, rep *replica.Replica, in io.Reader, out io.Writer, quit func()) {
	sc := bufio.NewScanner(in)
	fmt.Fprintln(out, help)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "quit" {
			quit()
			return
		}
		ev, show, err := parseCommand(fields)
		if err != nil {
			fmt.Fprintln(out, err)
			continue
		}
		var f app.Frame
		err = rep.Do(ctx, func() {
			if ev != nil {
				ev.apply(rep.Coordinator())
			}
			f = rep.Coordinator().Frame()
		})
		if err != nil {
			fmt.Fprintln(out, err)
			return
		}
		printFrame(out, f, show)
	}
}

func parseCommand(fields []string) (ev *pointerEvent, show string, err error) {
	nums := func(want int) ([]float64, error) {
		if len(fields)-1 != want {
			return nil, fmt.Errorf("%s takes %d numbers", fields[0], want)
		}
		out := make([]float64, want)
		for i, f := range fields[1:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("%s: %q is not a number", fields[0], f)
			}
			out[i] = v
		}
		return out, nil
	}
	switch fields[0] {
	case "login":
		if len(fields) < 2 {
			return nil, "", fmt.Errorf("login takes a name")
		}
		return &pointerEvent{Type: "login", Name: strings.Join(fields[1:], " ")}, "users", nil
	case "down":
		n, err := nums(3)
		if err != nil {
			return nil, "", err
		}
		return &pointerEvent{Type: "down", Index: int(n[0]), Top: n[1], Left: n[2]}, "frame", nil
	case "move", "up":
		n, err := nums(2)
		if err != nil {
			return nil, "", err
		}
		return &pointerEvent{Type: fields[0], Top: n[0], Left: n[1]}, "boxes", nil
	case "leave":
		return &pointerEvent{Type: "leave"}, "users", nil
	case "boxes", "users", "frame":
		return nil, fields[0], nil
	}
	return nil, "", fmt.Errorf("unknown command %q\n%s", fields[0], help)
}

func printFrame(out io.Writer, f app.Frame, show string) {
	switch show {
	case "boxes":
		for _, b := range f.Boxes {
			fmt.Fprintf(out, "%2d  %-5s top=%g left=%g %gx%g\n", b.Index, b.Color, b.Position.Top, b.Position.Left, b.Size.Width, b.Size.Height)
		}
		fmt.Fprintf(out, "state: %s\n", f.DragState)
	case "users":
		if f.LocalUser != nil {
			fmt.Fprintf(out, "you: %s\n", f.LocalUser.Name)
		}
		for _, u := range f.RemoteUsers {
			cursor := "-"
			if u.Cursor != nil {
				cursor = fmt.Sprintf("%g,%g", u.Cursor.Top, u.Cursor.Left)
			}
			fmt.Fprintf(out, "  %s (%s) %s cursor %s\n", u.Name, u.Client, u.Color.Hex(), cursor)
		}
	default:
		b, _ := json.MarshalIndent(f, "", "  ")
		fmt.Fprintln(out, string(b))
	}
}
