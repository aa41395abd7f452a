package demo

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"go.viam.com/utils"
)

// An Operator is the person supervising a demo replay.
type Operator interface {
	// ConfirmStart reports whether the operator asked to retry the start pose.
	ConfirmStart(ctx context.Context) (retry bool, err error)
	// StopOption drains pending operator input without blocking.
	StopOption(ctx context.Context) (endEpisode, endAction bool)
	// Reward asks whether the robot succeeded.
	Reward(ctx context.Context) (float64, error)
}

// ConsoleOperator talks to an operator over a terminal. Lines typed at any
// time are queued, so stop requests can be entered while the robot moves.
type ConsoleOperator struct {
	out       io.Writer
	lines     chan string
	closed    chan struct{}
	closeOnce sync.Once
}

// NewConsoleOperator starts reading lines from in. The reader goroutine ends
// at EOF, or after Close once the pending read returns; in itself is never
// closed since it is usually the process's stdin.
func NewConsoleOperator(in io.Reader, out io.Writer) *ConsoleOperator {
	o := &ConsoleOperator{out: out, lines: make(chan string, 64), closed: make(chan struct{})}
	utils.PanicCapturingGo(func() {
		defer close(o.lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case o.lines <- strings.TrimSpace(scanner.Text()):
			case <-o.closed:
				return
			}
		}
	})
	return o
}

// Close stops forwarding input. Later reads return io.EOF.
func (o *ConsoleOperator) Close() error {
	o.closeOnce.Do(func() { close(o.closed) })
	return nil
}

func (o *ConsoleOperator) prompt(s string) {
	//nolint:errcheck
	fmt.Fprintln(o.out, s)
}

func (o *ConsoleOperator) readLine(ctx context.Context) (string, error) {
	select {
	case <-o.closed:
		return "", io.EOF
	default:
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-o.closed:
		return "", io.EOF
	case line, ok := <-o.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	}
}

// ConfirmStart implements Operator.
func (o *ConsoleOperator) ConfirmStart(ctx context.Context) (bool, error) {
	o.prompt("Robot in a good state to start? (r to retry)")
	line, err := o.readLine(ctx)
	if err != nil {
		return false, err
	}
	return strings.Contains(strings.ToLower(line), "r"), nil
}

// StopOption implements Operator.
func (o *ConsoleOperator) StopOption(ctx context.Context) (bool, bool) {
	o.prompt("Enter x to end the episode or b to end the action")
	var endEpisode, endAction bool
	for {
		select {
		case line, ok := <-o.lines:
			if !ok {
				return endEpisode, endAction
			}
			line = strings.ToLower(line)
			endEpisode = endEpisode || strings.Contains(line, "x")
			endAction = endAction || strings.Contains(line, "b")
		default:
			return endEpisode, endAction
		}
	}
}

// Reward implements Operator. Values above 1 are treated as typos and asked again.
func (o *ConsoleOperator) Reward(ctx context.Context) (float64, error) {
	for {
		o.prompt("Did the robot succeed? (0 or 1)")
		line, err := o.readLine(ctx)
		if err != nil {
			return 0, err
		}
		reward, err := strconv.ParseFloat(line, 64)
		if err != nil || reward > 1 {
			o.prompt(fmt.Sprintf("Reward %q not understood", line))
			continue
		}
		return reward, nil
	}
}
