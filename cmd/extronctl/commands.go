package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/KevinKickass/OpenMatrixCore/internal/auth"
	"github.com/KevinKickass/OpenMatrixCore/internal/extron"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type options struct {
	host     string
	port     int
	password string
	inputs   int
	outputs  int
	timeout  time.Duration
	verbose  bool
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var opts options

	flags := pflag.NewFlagSet("extronctl", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&opts.host, "host", "", "switcher address")
	flags.IntVarP(&opts.port, "port", "p", extron.DefaultPort, "SIS port")
	flags.StringVar(&opts.password, "password", "", "login password, if the switcher requires one")
	flags.IntVarP(&opts.inputs, "inputs", "i", 0, "number of inputs")
	flags.IntVarP(&opts.outputs, "outputs", "o", 0, "number of outputs")
	flags.DurationVarP(&opts.timeout, "timeout", "t", 3*time.Second, "command timeout")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log session activity to stderr")
	flags.Usage = func() { usage(stderr, flags) }

	if err := flags.Parse(args); err != nil {
		return err
	}

	rest := flags.Args()
	if len(rest) == 0 {
		usage(stderr, flags)
		return errors.New("missing command")
	}

	cmd, cmdArgs := rest[0], rest[1:]
	if cmd == "hash-password" {
		return hashPassword(stdin, stdout)
	}

	client, err := connect(ctx, opts, stderr)
	if err != nil {
		return err
	}
	defer client.Close()

	switch cmd {
	case "route":
		return route(ctx, client, cmdArgs, stdout)
	case "query":
		return query(ctx, client, cmdArgs, stdout)
	case "status":
		return status(ctx, client, stdout)
	case "info":
		return info(ctx, client, stdout)
	case "watch":
		return watch(ctx, client, stdout)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func connect(ctx context.Context, opts options, stderr io.Writer) (*extron.Client, error) {
	logger := zap.NewNop()
	if opts.verbose {
		cfg := zap.NewDevelopmentConfig()
		cfg.OutputPaths = []string{"stderr"}
		l, err := cfg.Build()
		if err != nil {
			return nil, err
		}
		logger = l
	}

	client, err := extron.NewClient(extron.Config{
		Host:           opts.host,
		Port:           opts.port,
		Password:       opts.password,
		NumInputs:      opts.inputs,
		NumOutputs:     opts.outputs,
		CommandTimeout: opts.timeout,
		ConnectTimeout: opts.timeout,
		LoginTimeout:   opts.timeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

func intArgs(args []string, names ...string) ([]int, error) {
	if len(args) != len(names) {
		return nil, fmt.Errorf("expected %s", strings.Join(names, " "))
	}
	values := make([]int, len(args))
	for i, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a number", names[i], a)
		}
		values[i] = v
	}
	return values, nil
}

func route(ctx context.Context, client *extron.Client, args []string, stdout io.Writer) error {
	v, err := intArgs(args, "<output>", "<input>")
	if err != nil {
		return err
	}
	if err := client.SetRoute(ctx, v[0], v[1], extron.SignalVideo); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Output %d: %s\n", v[0], extron.InputOption(v[1]))
	return nil
}

func query(ctx context.Context, client *extron.Client, args []string, stdout io.Writer) error {
	v, err := intArgs(args, "<output>")
	if err != nil {
		return err
	}
	input, err := client.QueryRoute(ctx, v[0], extron.SignalVideo)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, input)
	return nil
}

// status prints one line per output; Connect already synchronized the state.
func status(ctx context.Context, client *extron.Client, stdout io.Writer) error {
	if client.Stale() {
		if err := client.Resync(ctx); err != nil {
			return err
		}
	}
	snap := client.Snapshot()
	for _, out := range client.Outputs() {
		fmt.Fprintf(stdout, "%-10s video %-8s audio %s\n",
			out.Name(),
			extron.InputOption(snap[extron.Tie{Output: out.Number(), Signal: extron.SignalVideo}]),
			extron.InputOption(snap[extron.Tie{Output: out.Number(), Signal: extron.SignalAudio}]))
	}
	return nil
}

func info(ctx context.Context, client *extron.Client, stdout io.Writer) error {
	report, err := client.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "video %dx%d audio %dx%d\n",
		report.VideoInputs, report.VideoOutputs, report.AudioInputs, report.AudioOutputs)
	return nil
}

func watch(ctx context.Context, client *extron.Client, stdout io.Writer) error {
	changes := make(chan extron.Change, 64)
	unsubscribe := client.Subscribe(func(c extron.Change) {
		select {
		case changes <- c:
		default:
		}
	})
	defer unsubscribe()

	lost := make(chan struct{})
	defer client.OnStateChange(func(s extron.State) {
		if s == extron.StateDisconnected {
			select {
			case lost <- struct{}{}:
			default:
			}
		}
	})()

	for {
		select {
		case c := <-changes:
			fmt.Fprintf(stdout, "%s output %d %s: %s -> %s\n",
				time.Now().Format(time.TimeOnly), c.Output, c.Signal,
				extron.InputOption(c.Previous), extron.InputOption(c.Input))
		case <-lost:
			return extron.ErrConnectionLost
		case <-ctx.Done():
			return nil
		}
	}
}

func hashPassword(stdin io.Reader, stdout io.Writer) error {
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return errors.New("empty password")
	}

	hash, err := auth.NewPasswordHasher().HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, hash)
	return nil
}
