package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/codewandler/clstr-timemachine/core/replay"
	"github.com/codewandler/clstr-timemachine/internal/fixture"
)

type command func(ctx context.Context, e *env, fs *flag.FlagSet, args []string) error

var commands = map[string]command{
	"bounds":  cmdBounds,
	"resolve": cmdResolve,
	"sync":    cmdSync,
	"count":   cmdCount,
	"replay":  cmdReplay,
	"import":  cmdImport,
	"watch":   cmdWatch,
}

// timeFlag accepts RFC 3339 timestamps and unix microseconds.
type timeFlag struct {
	t   time.Time
	set bool
}

func (f *timeFlag) String() string {
	if !f.set {
		return ""
	}
	return f.t.Format(time.RFC3339Nano)
}

func (f *timeFlag) Set(s string) error {
	t, err := parseTime(s)
	if err != nil {
		return err
	}
	f.t, f.set = t, true
	return nil
}

func parseTime(s string) (time.Time, error) {
	if micros, err := strconv.ParseInt(s, 10, 64); err == nil {
		return replay.MicrosTime(micros), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("time %q is neither RFC 3339 nor unix microseconds", s)
	}
	return t, nil
}

func cmdBounds(ctx context.Context, e *env, fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	bounds, err := e.engine.CurrentBounds(ctx)
	if err != nil {
		return err
	}
	return e.print(bounds)
}

func cmdResolve(ctx context.Context, e *env, fs *flag.FlagSet, args []string) error {
	var at timeFlag
	stream := fs.String("stream", "", "stream id")
	fs.Var(&at, "at", "reference time")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *stream == "" || !at.set {
		return fmt.Errorf("%w: resolve needs -stream and -at", errUsage)
	}

	id := replay.StreamID(*stream)
	bounds, err := e.engine.CurrentBounds(ctx)
	if err != nil {
		return err
	}
	timing, err := e.engine.Classify(ctx, id, at.t, bounds.Get(id))
	if err != nil {
		return err
	}
	pos, err := e.engine.Resolve(ctx, id, at.t, bounds.Get(id))
	if err != nil {
		return err
	}
	return e.print(map[string]any{
		"stream":   id,
		"at":       at.t,
		"timing":   timing.String(),
		"position": pos,
	})
}

func cmdSync(ctx context.Context, e *env, fs *flag.FlagSet, args []string) error {
	var at timeFlag
	fs.Var(&at, "at", "reference time")
	stream := fs.String("stream", "", "reference stream")
	pos := fs.Int64("pos", -1, "reference position within -stream")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if at.set == (*stream != "") {
		return fmt.Errorf("%w: sync needs either -at or -stream with -pos", errUsage)
	}

	bounds, err := e.engine.CurrentBounds(ctx)
	if err != nil {
		return err
	}
	var sel replay.PositionMap
	if at.set {
		sel, err = e.engine.SyncToTimestamp(ctx, at.t, bounds)
	} else {
		sel, err = e.engine.SyncToStreamPosition(ctx, replay.StreamID(*stream), replay.Position(*pos), bounds)
	}
	if err != nil {
		return err
	}
	return e.print(sel)
}

func cmdCount(ctx context.Context, e *env, fs *flag.FlagSet, args []string) error {
	stream := fs.String("stream", "", "stream id")
	tags := fs.String("tags", "", "space separated tags")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *stream == "" {
		return fmt.Errorf("%w: count needs -stream", errUsage)
	}
	f, err := parseTags(*tags)
	if err != nil {
		return err
	}

	id := replay.StreamID(*stream)
	bounds, err := e.engine.CurrentBounds(ctx)
	if err != nil {
		return err
	}
	n, last, err := e.engine.CountMatching(ctx, id, bounds.Get(id), f)
	if err != nil {
		return err
	}
	return e.print(map[string]any{
		"stream": id,
		"filter": f.String(),
		"count":  n,
		"last":   last,
	})
}

// tally is the state of the generic twin folded by the replay command.
type tally struct {
	Events    int             `json:"events" yaml:"events"`
	PerStream map[string]int  `json:"per_stream" yaml:"per_stream"`
	LastID    string          `json:"last_id,omitempty" yaml:"last_id,omitempty"`
	LastAt    time.Time       `json:"last_at,omitzero" yaml:"last_at,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty" yaml:"-"`
}

func onTally(s tally, payload json.RawMessage, meta replay.Meta) tally {
	per := make(map[string]int, len(s.PerStream)+1)
	for k, v := range s.PerStream {
		per[k] = v
	}
	per[string(meta.Stream)]++
	return tally{
		Events:    s.Events + 1,
		PerStream: per,
		LastID:    meta.ID,
		LastAt:    meta.Timestamp,
		Payload:   payload,
	}
}

func cmdReplay(ctx context.Context, e *env, fs *flag.FlagSet, args []string) error {
	var at timeFlag
	tags := fs.String("tags", "", "space separated tags")
	fs.Var(&at, "at", "replay up to this time (default: everything)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	f, err := parseTags(*tags)
	if err != nil {
		return err
	}

	bounds, err := e.engine.CurrentBounds(ctx)
	if err != nil {
		return err
	}
	sel := bounds
	if at.set {
		if sel, err = e.engine.SyncToTimestamp(ctx, at.t, bounds); err != nil {
			return err
		}
	}

	def := replay.Definition[tally, json.RawMessage]{
		Name:    "tally",
		Initial: tally{PerStream: map[string]int{}},
		OnEvent: onTally,
		Where:   f,
	}
	res, err := replay.Replay(ctx, e.engine, def, sel)
	if err != nil {
		return err
	}
	return e.print(map[string]any{
		"selection": sel,
		"previous":  res.Previous,
		"current":   res.Current,
	})
}

func cmdImport(ctx context.Context, e *env, fs *flag.FlagSet, args []string) error {
	file := fs.String("file", "", "fixture file (.yaml, .yml or .json)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("%w: import needs -file", errUsage)
	}

	events, err := fixture.Import(ctx, e.appender, *file)
	if err != nil {
		return err
	}
	e.log.Info("imported", slog.String("file", *file), slog.Int("events", len(events)))

	bounds, err := e.engine.CurrentBounds(ctx)
	if err != nil {
		return err
	}
	return e.print(map[string]any{
		"imported": len(events),
		"bounds":   bounds,
	})
}

func cmdWatch(ctx context.Context, e *env, fs *flag.FlagSet, args []string) error {
	tags := fs.String("tags", "", "space separated tags (default: all events)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	f, err := parseTags(*tags)
	if err != nil {
		return err
	}

	printErr := make(chan error, 1)
	cancel, err := replay.WatchTimeRange(ctx, e.engine.Store(), f, func(tr replay.TimeRange) {
		if err := e.print(map[string]any{"earliest": tr.Earliest, "latest": tr.Latest}); err != nil {
			select {
			case printErr <- err:
			default:
			}
		}
	})
	if err != nil {
		return err
	}
	defer cancel()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return ctx.Err()
	case err := <-printErr:
		return err
	}
}

// parseTags parses -tags. An empty value matches all events.
func parseTags(s string) (replay.Filter, error) {
	if s == "" {
		return replay.MatchAll(), nil
	}
	return replay.ParseFilter(s)
}
