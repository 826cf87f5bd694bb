package extron

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// OptionNone is the selection for an unrouted output.
const OptionNone = "None"

const inputOptionPrefix = "Input "

// OutputUnit is one selectable output: it shows the routed input and accepts
// "None" or "Input <n>".
type OutputUnit struct {
	client *Client
	number int
}

func (o *OutputUnit) Number() int {
	return o.number
}

func (o *OutputUnit) Name() string {
	return fmt.Sprintf("Output %d", o.number)
}

// Options lists the valid selections in display order.
func (o *OutputUnit) Options() []string {
	options := make([]string, 0, o.client.cfg.NumInputs+1)
	options = append(options, OptionNone)
	for i := 1; i <= o.client.cfg.NumInputs; i++ {
		options = append(options, InputOption(i))
	}
	return options
}

// Input returns the last known video input without touching the wire.
func (o *OutputUnit) Input() int {
	input, _ := o.client.matrix.Input(o.number, SignalVideo)
	return input
}

// Current returns the selection matching the routed input.
func (o *OutputUnit) Current() string {
	return InputOption(o.Input())
}

func (o *OutputUnit) Available() bool {
	return o.client.Available()
}

// Select routes the input named by option to this output.
func (o *OutputUnit) Select(ctx context.Context, option string) error {
	input, err := ParseInputOption(option)
	if err != nil {
		return err
	}
	return o.client.SetRoute(ctx, o.number, input, SignalVideo)
}

// InputOption renders an input number as a selection; 0 is OptionNone.
func InputOption(input int) string {
	if input == 0 {
		return OptionNone
	}
	return inputOptionPrefix + strconv.Itoa(input)
}

// ParseInputOption is the inverse of InputOption.
func ParseInputOption(option string) (int, error) {
	if option == OptionNone {
		return 0, nil
	}
	rest, ok := strings.CutPrefix(option, inputOptionPrefix)
	if !ok {
		return 0, fmt.Errorf("%w: unknown option %q", ErrOutOfRange, option)
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: unknown option %q", ErrOutOfRange, option)
	}
	return n, nil
}
