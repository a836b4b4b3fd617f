package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/dustin/go-humanize"
	"github.com/mitchellh/mapstructure"

	"github.com/RiV-chain/txrate/src/rate"
	"github.com/RiV-chain/txrate/src/transfer"
	"github.com/RiV-chain/txrate/src/version"
)

const usage = `Measure raw TCP throughput between two hosts.

Usage:
  txrate [options] <role> <address> <port>
  txrate -h | --help
  txrate --version

Roles:
  server    Listen on <address> <port>, accept one connection, report the rx rate.
  client    Connect to <address> <port>, send until stopped, report the tx rate.
            Any role other than "server" runs as client.

Options:
  -b --buffer=<size>        Transfer buffer size [default: 32MiB].
  -t --time=<duration>      Stop after this long, 0 runs until interrupted [default: 0s].
  -C --congestion=<algo>    TCP congestion control algorithm, Linux only.
  -f --format=<format>      Report format: text, table, json or hjson [default: text].
  -p --progress             Show a live progress bar on stderr.
  --logto=<target>          File path to log to, "syslog" or "stdout" [default: stdout].
  --loglevel=<level>        Log level to enable [default: info].
  -h --help                 Show this screen.
  --version                 Print the version of this build.
`

type CmdLineEnv struct {
	Role       string        `mapstructure:"<role>"`
	Address    string        `mapstructure:"<address>"`
	Port       string        `mapstructure:"<port>"`
	Buffer     string        `mapstructure:"--buffer"`
	Time       time.Duration `mapstructure:"--time"`
	Congestion string        `mapstructure:"--congestion"`
	Format     string        `mapstructure:"--format"`
	Progress   bool          `mapstructure:"--progress"`
	LogTo      string        `mapstructure:"--logto"`
	LogLevel   string        `mapstructure:"--loglevel"`

	bufferSize int
	format     rate.Format
}

var errHelp = errors.New("help requested")

// parseArgs parses the command line. Usage, help and version text go to out.
// errHelp means the user asked for help or the version and nothing else
// should run.
func parseArgs(argv []string, out io.Writer) (*CmdLineEnv, error) {
	if argv == nil {
		argv = []string{}
	}
	helped := false
	parser := &docopt.Parser{
		HelpHandler: func(err error, text string) {
			fmt.Fprintln(out, text)
			helped = err == nil
		},
	}
	ver := fmt.Sprintf("Build name: %s\nBuild version: %s", version.BuildName(), version.BuildVersion())
	opts, err := parser.ParseArgs(usage, argv, ver)
	if err != nil {
		return nil, err
	}
	if helped {
		return nil, errHelp
	}

	env := &CmdLineEnv{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
		Result:     env,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(map[string]interface{}(opts)); err != nil {
		fmt.Fprintln(out, "Error:", err)
		return nil, err
	}
	if err := env.validate(); err != nil {
		fmt.Fprintln(out, "Error:", err)
		return nil, err
	}
	return env, nil
}

func (env *CmdLineEnv) validate() error {
	size, err := humanize.ParseBytes(env.Buffer)
	if err != nil {
		return fmt.Errorf("invalid buffer size %q: %w", env.Buffer, err)
	}
	if size == 0 || size > math.MaxInt32 {
		return fmt.Errorf("buffer size %q out of range", env.Buffer)
	}
	env.bufferSize = int(size)
	if env.Time < 0 {
		return fmt.Errorf("negative duration %s", env.Time)
	}
	if env.format, err = rate.ParseFormat(env.Format); err != nil {
		return err
	}
	return nil
}

// isServer reports whether the receiver role was selected. Every other role
// string selects the sender.
func (env *CmdLineEnv) isServer() bool {
	return env.Role == "server"
}

func (env *CmdLineEnv) setupOptions(stdout, stderr io.Writer) []transfer.SetupOption {
	options := []transfer.SetupOption{
		transfer.BufferSize(env.bufferSize),
		transfer.Duration(env.Time),
		transfer.Output{Writer: stdout},
	}
	if env.Congestion != "" {
		options = append(options, transfer.Congestion(env.Congestion))
	}
	if env.Progress {
		options = append(options, transfer.Progress{Writer: stderr})
	}
	return options
}

// parsePort follows atoi(3): leading whitespace is skipped, the leading
// digits are used and anything unparsable is 0. exact is false when part of
// the string was ignored. Signs are not accepted: docopt already reads a
// leading "-" as an option, so a negative port never reaches here.
func parsePort(s string) (port int, exact bool) {
	s = strings.TrimLeft(s, " \t\n\v\f\r")
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	port, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return port, end == len(s)
}
