// Command tmctl inspects an event store through the replay engine.
//
//	tmctl [-config tmctl.yaml] [-o json|yaml] <command> [flags]
//
// Commands:
//
//	bounds                          current last position of every stream
//	resolve -stream S -at T         last position of S strictly before T
//	sync    -at T | -stream S -pos N
//	count   -stream S -tags "a b"   events of S matching the tags
//	replay  -tags "a b" [-at T]     fold matching events into a tally
//	import  -file events.yaml       append a fixture file
//	watch   -tags "a b"             follow the time range of matching events
//
// T is RFC 3339 or unix microseconds. Configuration is read from -config or
// TIMEMACHINE_CONFIG and overridden by TIMEMACHINE_* variables.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
)

var errUsage = errors.New("usage: tmctl [-config file] [-o json|yaml] bounds|resolve|sync|count|replay|import|watch [flags]")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	global := flag.NewFlagSet("tmctl", flag.ContinueOnError)
	global.SetOutput(stderr)
	var (
		configPath = global.String("config", getEnv("TIMEMACHINE_CONFIG", ""), "config file (yaml, toml or json)")
		format     = global.String("o", "json", "output format: json or yaml")
	)
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		return errUsage
	}

	cmd, ok := commands[global.Arg(0)]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, global.Arg(0))
	}

	env, err := newEnv(*configPath, *format, stdout, stderr)
	if err != nil {
		return err
	}
	defer env.close()

	fs := flag.NewFlagSet(global.Arg(0), flag.ContinueOnError)
	fs.SetOutput(stderr)
	return cmd(ctx, env, fs, global.Args()[1:])
}

func getEnv(key, fallback string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return v
}
