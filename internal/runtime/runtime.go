package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/conversation"
	"github.com/loqalabs/loqa-voice/internal/events"
	"github.com/loqalabs/loqa-voice/internal/eventstore"
	"github.com/loqalabs/loqa-voice/internal/hotwindow"
	"github.com/loqalabs/loqa-voice/internal/llm"
	"github.com/loqalabs/loqa-voice/internal/natsserver"
	"github.com/loqalabs/loqa-voice/internal/player"
	"github.com/loqalabs/loqa-voice/internal/presence"
	"github.com/loqalabs/loqa-voice/internal/router"
	"github.com/loqalabs/loqa-voice/internal/stt"
	"github.com/loqalabs/loqa-voice/internal/trigger"
	"github.com/loqalabs/loqa-voice/internal/tts"
	"github.com/loqalabs/loqa-voice/internal/turn"
	"github.com/loqalabs/loqa-voice/internal/vad"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger
	ready  atomic.Bool

	addr     atomic.Value
	loop     *conversation.Loop
	presence *presence.Registry
	journal  *eventstore.Journal
	store    *eventstore.Store
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Addr returns the bound HTTP address once the server is listening.
func (r *Runtime) Addr() string {
	if v, ok := r.addr.Load().(string); ok {
		return v
	}
	return ""
}

// Start wires the pipeline and blocks until ctx is cancelled, the user quits
// or capture fails permanently.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	obs, err := installObservability(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	busClient, closeBus, err := r.connectBus(ctx)
	if err != nil {
		return err
	}
	defer closeBus()

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer store.Close()
	r.store = store

	journal, err := eventstore.NewJournal(ctx, store, uuid.NewString(), r.cfg.Node.ID, r.logger)
	if err != nil {
		return fmt.Errorf("start turn journal: %w", err)
	}
	defer journal.Close()
	r.journal = journal

	format := audio.Format{SampleRate: r.cfg.Audio.SampleRate, FrameDuration: r.cfg.Audio.FrameDuration()}
	opener, out, closeAudio, err := openAudio(r.cfg.Audio.Mode, format)
	if err != nil {
		return err
	}
	defer closeAudio()
	hub := audio.NewHub(opener, r.cfg.Audio.CaptureBufferFrames,
		time.Duration(r.cfg.Audio.ReopenMaxElapsedMS)*time.Millisecond, r.logger)

	broadcaster := events.NewBroadcaster(r.logger)
	defer broadcaster.Close()
	base := events.Multi{broadcaster, journal}
	if busClient != nil {
		base = append(base, events.NewBusPublisher(busClient, r.logger))
	}

	var loop *conversation.Loop
	runner, err := r.buildController(out, hub, events.Multi{base, events.Func(func(ctx context.Context, ev events.Event) {
		loop.Publish(ctx, ev)
	})})
	if err != nil {
		return err
	}

	conversational, err := vad.NewClassifier(r.cfg.VAD, r.logger)
	if err != nil {
		return fmt.Errorf("build vad: %w", err)
	}
	seg := vad.NewSegmenter(vad.OptionsFromConfig(r.cfg.VAD, r.cfg.Audio), conversational)

	var window *hotwindow.Scheduler
	if r.cfg.HotWindow.Enabled {
		window = hotwindow.New(r.cfg.HotWindow.Duration(), hotWindowObserver(ctx, base))
	}

	trig, err := trigger.New(r.cfg.Trigger, busClient, cancel, r.logger)
	if err != nil {
		return fmt.Errorf("start trigger: %w", err)
	}
	defer trig.Close()

	loop = conversation.New(hub, seg, runner, trig, window, base,
		conversation.Options{ListenTimeout: time.Duration(r.cfg.Trigger.ListenTimeoutMS) * time.Millisecond},
		r.logger)
	r.loop = loop

	if busClient != nil {
		reg, err := presence.NewRegistry(ctx, r.cfg.Node, busClient, func() string { return loop.State().String() }, r.logger)
		if err != nil {
			return fmt.Errorf("start presence: %w", err)
		}
		defer reg.Close()
		r.presence = reg
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/turns", r.handleTurns)
	mux.Handle("/events", broadcaster)
	mux.Handle("/metrics", obs.metrics)

	addr := net.JoinHostPort(r.cfg.HTTP.Bind, strconv.Itoa(r.cfg.HTTP.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	r.addr.Store(listener.Addr().String())
	httpServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		err := loop.Run(gctx)
		// The loop ending for any reason ends the daemon.
		cancel()
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		r.ready.Store(false)
		r.logger.Info("runtime stopping")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", r.Addr()),
		slog.String("session_id", journal.SessionID()),
		slog.String("trigger", r.cfg.Trigger.Mode),
		slog.Bool("hot_window", window != nil))

	return g.Wait()
}

func (r *Runtime) connectBus(ctx context.Context) (*bus.Client, func(), error) {
	if !r.cfg.Bus.Enabled {
		return nil, func() {}, nil
	}
	busCfg := r.cfg.Bus
	srv, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return nil, nil, err
	}
	if srv != nil {
		busCfg.Servers = []string{srv.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.cfg.Node.ID, r.logger)
	if err != nil {
		srv.Shutdown()
		return nil, nil, err
	}
	return client, func() {
		client.Close()
		srv.Shutdown()
	}, nil
}

func (r *Runtime) buildController(out audio.Playback, hub *audio.Hub, pub events.Publisher) (*turn.Controller, error) {
	recognizer, err := stt.New(r.cfg.STT)
	if err != nil {
		return nil, fmt.Errorf("build stt: %w", err)
	}
	synth, err := tts.New(r.cfg.TTS)
	if err != nil {
		return nil, fmt.Errorf("build tts: %w", err)
	}
	generator, err := llm.New(r.cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("build llm: %w", err)
	}
	// The interrupt monitor gets its own classifier so it never shares model
	// state with the conversational segmenter.
	monitorClassifier, err := vad.NewClassifier(r.cfg.VAD, r.logger)
	if err != nil {
		return nil, fmt.Errorf("build interrupt vad: %w", err)
	}
	window := time.Duration(r.cfg.Interrupt.WindowMS) * time.Millisecond
	detector := vad.NewSegmenter(vad.OptionsFromConfig(r.cfg.VAD, r.cfg.Audio).ForWindow(window), monitorClassifier)

	speaker := player.New(synth, out, hub, detector, recognizer,
		player.NewMatcher(r.cfg.Interrupt.Words, r.cfg.Interrupt.Similarity),
		player.OptionsFromConfig(r.cfg), r.logger)

	return turn.New(turn.Deps{
		Recognizer: recognizer,
		Classifier: router.NewKeywordClassifier(r.cfg.Router),
		Generator:  generator,
		Speaker:    speaker,
		Events:     pub,
	}, r.cfg.LLM, r.logger), nil
}

func openAudio(mode string, format audio.Format) (audio.CaptureOpener, audio.Playback, func(), error) {
	switch mode {
	case "mock":
		dev := audio.NewMockDevice(format)
		opener := func(context.Context) (audio.Capture, error) { return dev, nil }
		return opener, dev, func() { _ = dev.Close() }, nil
	case "portaudio", "":
		pa, err := audio.OpenPortAudio(format)
		if err != nil {
			return nil, nil, nil, err
		}
		return pa.OpenCapture, pa, func() { _ = pa.Close() }, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported audio mode %q", mode)
	}
}

// hotWindowObserver turns scheduler transitions into pipeline events.
func hotWindowObserver(ctx context.Context, pub events.Publisher) func(hotwindow.Transition) {
	return func(t hotwindow.Transition) {
		ev := events.Event{Type: events.HotWindowExpired, Cause: string(t.Reason)}
		switch {
		case t.Active:
			ev.Type = events.HotWindowActive
		case t.Reason == hotwindow.ReasonCancelled:
			ev.Type = events.HotWindowCancelled
		}
		pub.Publish(ctx, ev)
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (r.presence == nil || r.presence.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// handleTurns lists the metrics of turns journaled in this session.
func (r *Runtime) handleTurns(w http.ResponseWriter, req *http.Request) {
	if r.store == nil || r.journal == nil {
		http.Error(w, "journal unavailable", http.StatusServiceUnavailable)
		return
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	turns, err := r.store.ListTurns(req.Context(), r.journal.SessionID(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if turns == nil {
		turns = []eventstore.Turn{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(turns)
}
