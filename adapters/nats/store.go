package nats

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/clstr-timemachine/core/replay"
)

const (
	defaultStreamPrefix  = "TIMEMACHINE"
	defaultSubjectPrefix = "timemachine.events"

	// blockSize is the number of messages read per consumer round-trip.
	blockSize = 256

	// consumerInactiveThreshold bounds the lifetime of a block consumer the
	// store failed to delete.
	consumerInactiveThreshold = 30 * time.Second
)

// StoreConfig configures a JetStream backed event store.
type StoreConfig struct {
	Connect       Connector    // Connect is used to create the underlying NATS connection. If nil, ConnectDefault() is used.
	Log           *slog.Logger // Log for diagnostics (optional)
	StreamPrefix  string       // StreamPrefix prefixes the JetStream stream of every event stream
	SubjectPrefix string       // SubjectPrefix prefixes the subject of every event stream
	// Storage defaults to file storage.
	Storage jetstream.StorageType
	// PollInterval drives ObserveEarliest and ObserveLatest (default: 1s).
	PollInterval time.Duration
}

// Store keeps every event stream in its own JetStream stream, so the raw
// position p of an event is its stream sequence p+1.
type Store struct {
	nc            *natsgo.Conn
	closeNc       closeFunc
	js            jetstream.JetStream
	log           *slog.Logger
	streamPrefix  string
	subjectPrefix string
	storage       jetstream.StorageType
	pollInterval  time.Duration

	mu          sync.Mutex // serializes appends
	lamport     uint64
	clockLoaded bool

	streamsMu sync.Mutex
	streams   map[replay.StreamID]jetstream.Stream
}

// wireEvent is the message body of a stored event. Offset is implied by the
// stream sequence and Stream by the JetStream stream.
type wireEvent struct {
	ID        string          `json:"id"`
	Lamport   uint64          `json:"lamport"`
	Timestamp int64           `json:"ts"`
	Tags      []string        `json:"tags"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func NewStore(cfg StoreConfig) (*Store, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNatsCon, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNatsCon()
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	streamPrefix := strings.ToUpper(cfg.StreamPrefix)
	if streamPrefix == "" {
		streamPrefix = defaultStreamPrefix
	}
	subjectPrefix := cfg.SubjectPrefix
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	log = log.With(
		slog.String("store", "nats_js"),
		slog.String("streamPrefix", streamPrefix),
		slog.String("subjectPrefix", subjectPrefix),
	)

	return &Store{
		nc:            nc,
		closeNc:       closeNatsCon,
		js:            js,
		log:           log,
		streamPrefix:  streamPrefix,
		subjectPrefix: subjectPrefix,
		storage:       cfg.Storage,
		pollInterval:  pollInterval,
		streams:       map[replay.StreamID]jetstream.Stream{},
	}, nil
}

func (s *Store) Close() error {
	s.js.CleanupPublisher()
	s.closeNc()
	s.log.Debug("closed event store")
	return nil
}

// --- append ---

// Append publishes events in order. Appends through one Store are
// serialized so Lamport clocks stay monotonic.
func (s *Store) Append(ctx context.Context, events ...replay.Event) ([]replay.Event, error) {
	if len(events) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadClockLocked(ctx); err != nil {
		return nil, fmt.Errorf("failed to load lamport clock: %w", err)
	}

	out := make([]replay.Event, 0, len(events))
	for _, e := range events {
		if e.Stream == "" {
			return out, errors.New("event stream is empty")
		}
		if _, err := s.ensureStream(ctx, e.Stream); err != nil {
			return out, err
		}

		e, clock := replay.Stamp(e, replay.NoPosition, s.lamport)
		seq, err := s.publish(ctx, e)
		if err != nil {
			return out, err
		}
		s.lamport = clock
		e.Offset = replay.Position(seq - 1)
		out = append(out, e)
	}

	s.log.Debug("append", slog.Int("num_events", len(out)), slog.Uint64("lamport", s.lamport))
	return out, nil
}

func (s *Store) publish(ctx context.Context, e replay.Event) (uint64, error) {
	data, err := json.Marshal(wireEvent{
		ID:        e.ID,
		Lamport:   e.Lamport,
		Timestamp: e.Timestamp.UnixMicro(),
		Tags:      e.Tags,
		Payload:   e.Payload,
	})
	if err != nil {
		return 0, err
	}

	msg := natsgo.NewMsg(s.subjectFor(e.Stream))
	msg.Header.Set("x-stream-id", string(e.Stream))
	msg.Data = data

	ack, err := s.js.PublishMsg(ctx, msg, jetstream.WithMsgID(e.ID))
	if err != nil {
		return 0, fmt.Errorf("failed to append to stream %q: %w", e.Stream, err)
	}
	return ack.Sequence, nil
}

// loadClockLocked initializes the Lamport clock from the last message of
// every stream.
func (s *Store) loadClockLocked(ctx context.Context) error {
	if s.clockLoaded {
		return nil
	}
	var clock uint64
	err := s.eachStream(ctx, func(id replay.StreamID, info *jetstream.StreamInfo) error {
		if info.State.LastSeq == 0 || info.State.Msgs == 0 {
			return nil
		}
		stream, err := s.streamFor(ctx, id)
		if err != nil {
			return err
		}
		raw, err := stream.GetMsg(ctx, info.State.LastSeq)
		if err != nil {
			return err
		}
		ev, err := s.decode(id, raw.Sequence, raw.Data)
		if err != nil {
			return err
		}
		clock = max(clock, ev.Lamport)
		return nil
	})
	if err != nil {
		return err
	}
	s.lamport = max(s.lamport, clock)
	s.clockLoaded = true
	return nil
}

// --- read ---

func (s *Store) CurrentBounds(ctx context.Context) (replay.PositionMap, error) {
	out := replay.PositionMap{}
	err := s.eachStream(ctx, func(id replay.StreamID, info *jetstream.StreamInfo) error {
		if info.State.LastSeq > 0 && info.State.Msgs > 0 {
			out[id] = replay.Position(info.State.LastSeq - 1)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) QueryRange(ctx context.Context, q replay.RangeQuery) ([]replay.Event, error) {
	var out []replay.Event
	for _, id := range q.Upper.Streams() {
		from, to := q.From(id), q.Upper[id]
		if to < from || to < 0 {
			continue
		}
		events, err := s.readBlock(ctx, id, max(from, 0), to)
		if err != nil {
			return nil, err
		}
		for _, e := range events {
			if q.Filter.MatchesEvent(e) {
				out = append(out, e)
			}
		}
	}
	replay.SortEvents(out, q.Order)
	return out, nil
}

// QueryRangeChunked merges the selected streams in q.Order. Every stream is
// read in blocks, so memory stays bounded by the number of streams.
func (s *Store) QueryRangeChunked(ctx context.Context, q replay.RangeQuery, chunkSize int, onChunk replay.ChunkFunc) error {
	if chunkSize <= 0 {
		return fmt.Errorf("invalid chunk size %d", chunkSize)
	}

	var cursors []*cursor
	for _, id := range q.Upper.Streams() {
		from, to := max(q.From(id), 0), q.Upper[id]
		if to < from {
			continue
		}
		cursors = append(cursors, &cursor{store: s, stream: id, lo: from, hi: to, order: q.Order})
	}

	chunk := make([]replay.Event, 0, chunkSize)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		err := onChunk(chunk)
		chunk = make([]replay.Event, 0, chunkSize)
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		next, err := pick(ctx, cursors, q.Order)
		if err != nil {
			return err
		}
		if next == nil {
			break
		}
		e := next.pop()
		if !q.Filter.MatchesEvent(e) {
			continue
		}
		chunk = append(chunk, e)
		if len(chunk) == chunkSize {
			if err := flush(); err != nil {
				if errors.Is(err, replay.ErrStop) {
					return nil
				}
				return err
			}
		}
	}

	if err := flush(); err != nil && !errors.Is(err, replay.ErrStop) {
		return err
	}
	return nil
}

func (s *Store) ObserveEarliest(ctx context.Context, f replay.Filter, fn func(replay.Event)) (replay.CancelFunc, error) {
	return replay.ObservePolling(ctx, s, f, replay.Earliest, replay.PollOpts{Interval: s.pollInterval, Log: s.log}, fn), nil
}

func (s *Store) ObserveLatest(ctx context.Context, f replay.Filter, fn func(replay.Event)) (replay.CancelFunc, error) {
	return replay.ObservePolling(ctx, s, f, replay.Latest, replay.PollOpts{Interval: s.pollInterval, Log: s.log}, fn), nil
}

// readBlock returns the events of stream at raw positions from..to in
// ascending order. Missing streams read as empty.
func (s *Store) readBlock(ctx context.Context, id replay.StreamID, from, to replay.Position) ([]replay.Event, error) {
	stream, err := s.streamFor(ctx, id)
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	startSeq, endSeq := uint64(from)+1, uint64(to)+1

	if startSeq == endSeq {
		raw, err := stream.GetMsg(ctx, startSeq)
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		ev, err := s.decode(id, raw.Sequence, raw.Data)
		if err != nil {
			return nil, err
		}
		return []replay.Event{ev}, nil
	}

	cc, err := stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		DeliverPolicy:     jetstream.DeliverByStartSequencePolicy,
		OptStartSeq:       startSeq,
		InactiveThreshold: consumerInactiveThreshold,
	})
	if err != nil {
		return nil, err
	}
	defer s.deleteConsumer(ctx, stream, cc)
	return s.consumeEvents(ctx, id, cc, endSeq)
}

// deleteConsumer removes the ephemeral consumer of one block read. The
// inactivity threshold cleans up whatever this misses.
func (s *Store) deleteConsumer(ctx context.Context, stream jetstream.Stream, cc jetstream.Consumer) {
	info := cc.CachedInfo()
	if info == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), natsgo.DefaultTimeout)
	defer cancel()
	if err := stream.DeleteConsumer(ctx, info.Name); err != nil && !errors.Is(err, jetstream.ErrConsumerNotFound) {
		s.log.Debug("delete consumer failed", slog.String("consumer", info.Name), slog.Any("error", err))
	}
}

func (s *Store) consumeEvents(ctx context.Context, id replay.StreamID, cc jetstream.Consumer, endSeq uint64) ([]replay.Event, error) {
	var out []replay.Event

outer:
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		mb, err := cc.FetchNoWait(blockSize)
		if err != nil {
			return nil, err
		}

		empty := true
		for msg := range mb.Messages() {
			empty = false
			md, err := msg.Metadata()
			if err != nil {
				return nil, err
			}
			if md.Sequence.Stream > endSeq {
				break outer
			}
			ev, err := s.decode(id, md.Sequence.Stream, msg.Data())
			if err != nil {
				return nil, fmt.Errorf("failed to decode message: %w", err)
			}
			out = append(out, ev)
			if md.Sequence.Stream == endSeq {
				break outer
			}
		}
		if mb.Error() != nil {
			return nil, mb.Error()
		}
		if empty {
			break
		}
	}
	return out, nil
}

func (s *Store) decode(id replay.StreamID, seq uint64, data []byte) (replay.Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return replay.Event{}, err
	}
	return replay.Event{
		ID:        w.ID,
		Stream:    id,
		Offset:    replay.Position(seq - 1),
		Lamport:   w.Lamport,
		Timestamp: replay.MicrosTime(w.Timestamp),
		Tags:      w.Tags,
		Payload:   w.Payload,
	}, nil
}

// --- streams ---

func (s *Store) streamFor(ctx context.Context, id replay.StreamID) (jetstream.Stream, error) {
	s.streamsMu.Lock()
	stream, ok := s.streams[id]
	s.streamsMu.Unlock()
	if ok {
		return stream, nil
	}
	stream, err := s.js.Stream(ctx, s.streamNameFor(id))
	if err != nil {
		return nil, err
	}
	s.streamsMu.Lock()
	s.streams[id] = stream
	s.streamsMu.Unlock()
	return stream, nil
}

func (s *Store) ensureStream(ctx context.Context, id replay.StreamID) (jetstream.Stream, error) {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	if stream, ok := s.streams[id]; ok {
		return stream, nil
	}
	stream, info, err := createOrUpdateStream(ctx, s.js, jetstream.StreamConfig{
		Name:     s.streamNameFor(id),
		Subjects: []string{s.subjectFor(id)},
		Storage:  s.storage,
		Metadata: map[string]string{"stream_id": string(id)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure stream %q: %w", id, err)
	}
	s.log.Debug("ensured", slog.String("stream", info.Config.Name))
	s.streams[id] = stream
	return stream, nil
}

// eachStream calls fn for every JetStream stream holding events of this
// store, in stream id order.
func (s *Store) eachStream(ctx context.Context, fn func(replay.StreamID, *jetstream.StreamInfo) error) error {
	lister := s.js.ListStreams(ctx, jetstream.WithStreamListSubject(s.subjectPrefix+".>"))
	var infos []*jetstream.StreamInfo
	for info := range lister.Info() {
		infos = append(infos, info)
	}
	if err := lister.Err(); err != nil && !errors.Is(err, jetstream.ErrEndOfData) {
		return err
	}

	type entry struct {
		id   replay.StreamID
		info *jetstream.StreamInfo
	}
	entries := make([]entry, 0, len(infos))
	for _, info := range infos {
		id, ok := s.streamIDOf(info.Config.Name)
		if !ok {
			continue
		}
		entries = append(entries, entry{id, info})
	}
	slices.SortFunc(entries, func(a, b entry) int { return strings.Compare(string(a.id), string(b.id)) })

	for _, e := range entries {
		if err := fn(e.id, e.info); err != nil {
			return err
		}
	}
	return nil
}

// --- helpers ---

// Stream ids may contain any character, JetStream names and subject tokens
// may not. Both carry the hex encoded id.

func (s *Store) streamNameFor(id replay.StreamID) string {
	return s.streamPrefix + "_" + hex.EncodeToString([]byte(id))
}

func (s *Store) subjectFor(id replay.StreamID) string {
	return s.subjectPrefix + "." + hex.EncodeToString([]byte(id))
}

func (s *Store) streamIDOf(name string) (replay.StreamID, bool) {
	enc, ok := strings.CutPrefix(name, s.streamPrefix+"_")
	if !ok {
		return "", false
	}
	b, err := hex.DecodeString(enc)
	if err != nil {
		return "", false
	}
	return replay.StreamID(b), true
}

func createOrUpdateStream(ctx context.Context, js jetstream.JetStream, cfg jetstream.StreamConfig) (s jetstream.Stream, si *jetstream.StreamInfo, err error) {
	ctx, cancel := context.WithTimeout(ctx, 10*natsgo.DefaultTimeout)
	defer cancel()

	s, err = js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	si, err = s.Info(ctx)
	if err != nil {
		return nil, nil, err
	}
	return s, si, nil
}

var (
	_ replay.Store    = (*Store)(nil)
	_ replay.Appender = (*Store)(nil)
)
