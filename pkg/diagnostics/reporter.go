// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package diagnostics captures point-in-time diagnostic reports of the
running process.

A Reporter turns a trigger (an unrecovered panic, a fatal error, the report
signal or an explicit call) into one report: a header, a system
information snapshot, the native stack of the triggering goroutine, every
goroutine's stack and a summary of the live handles of a loop.Loop. The
report is rendered as text or JSON and either returned or written to a
uniquely named file.

# Capture Model

Capture runs synchronously on the triggering goroutine. A single atomic
flag guards it: a trigger that arrives while another capture is running is
dropped, never queued, so a fault inside capture cannot recurse. The stack
buffers are allocated when the Reporter is built and are owned by whoever
holds the flag.

# Failure Policy

Automatic triggers (exception, fatalerror, signal) never surface errors;
failures are logged and counted, and a report that cannot be written is
emitted to stderr instead. Explicit calls receive ErrCaptureSuppressed,
*SinkError or *ConfigError.
*/
package diagnostics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/diagreport/pkg/logging"
	"github.com/AleutianAI/diagreport/pkg/loop"
)

// Result is the outcome of one capture.
type Result struct {
	Report  *Report
	Content []byte
	// Destination is "value", "file", "stdout" or "stderr".
	Destination string
	// Stored is set when the report was written to a file.
	Stored *StoredReport
}

// trigger carries one request through the pipeline.
type trigger struct {
	reason Reason
	event  string
	err    error
	dest   Destination
	format Format
	crash  *crashCapture
}

// -----------------------------------------------------------------------------
// Options
// -----------------------------------------------------------------------------

// Option customizes a Reporter at construction.
type Option func(*Reporter)

// WithMetrics records pipeline metrics. Default: NoOpMetrics.
func WithMetrics(m Metrics) Option {
	return func(r *Reporter) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithTracer wraps captures in spans. Default: NoOpTracer.
func WithTracer(t Tracer) Option {
	return func(r *Reporter) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithMirrors adds mirrors that receive every written report.
func WithMirrors(ms ...Mirror) Option {
	return func(r *Reporter) {
		for _, m := range ms {
			if m != nil {
				r.initialMirrors = append(r.initialMirrors, m)
			}
		}
	}
}

// WithExitFunc replaces os.Exit in FatalError.
func WithExitFunc(fn func(int)) Option {
	return func(r *Reporter) {
		if fn != nil {
			r.exit = fn
		}
	}
}

// WithStreams replaces os.Stdout and os.Stderr for the stream
// destinations, the fatal error message and the sink fallback.
func WithStreams(stdout, stderr io.Writer) Option {
	return func(r *Reporter) {
		if stdout != nil {
			r.stdout = stdout
		}
		if stderr != nil {
			r.stderr = stderr
		}
	}
}

// WithProbe replaces the system probe.
func WithProbe(p EnvironmentProbe) Option {
	return func(r *Reporter) {
		if p != nil {
			r.probe = p
		}
	}
}

// =============================================================================
// Reporter
// =============================================================================

// Reporter produces diagnostic reports for one process.
//
// # Description
//
// A Reporter owns the enabled event set, the reentrancy guard, the
// pre-sized capture buffers and the file destination. Create one per
// process; install it early so the exception and signal triggers are live
// before work starts.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Reporter struct {
	cfg    Config
	logger *logging.Logger

	loop     *loop.Loop
	ownsLoop bool
	handles  *HandleWalker
	stacks   *StackWalker
	probe    EnvironmentProbe
	text     *TextFormatter
	json     *JSONFormatter
	buf      bytes.Buffer
	limiter  *rate.Limiter

	enabled   atomic.Uint32
	fired     atomic.Uint32
	capturing atomic.Bool
	closed    atomic.Bool
	seq       atomic.Uint64

	destMu sync.Mutex
	dest   atomic.Pointer[fileDestination]

	mirrorMu       sync.Mutex
	mirrors        atomic.Pointer[[]Mirror]
	initialMirrors []Mirror

	metrics Metrics
	tracer  Tracer
	exit    func(int)
	stdout  io.Writer
	stderr  io.Writer

	trigMu sync.Mutex
	signal *signalTrigger
	crash  *CrashMonitor

	lastPanic atomic.Pointer[reportedPanic]
}

// NewReporter builds a Reporter and arms the triggers in cfg.Events.
//
// # Description
//
// Start from DefaultConfig. Zero values of Signal, SignalBurst, Format,
// FatalExitCode, MaxNativeFrames, GoroutineBufferBytes and MirrorTimeout
// take their defaults; for SignalRate, MaxGoroutines and the Include
// switches zero is a setting (unlimited, no cap, off). When lp is nil the Reporter
// creates a private loop, which then only holds the Reporter's own signal
// watcher. The Reporter installs itself as lp's panic hook so panics in
// loop callbacks produce exception reports.
//
// # Inputs
//
//   - cfg: Reporter configuration
//   - lp: Loop whose handles are summarized; may be nil
//   - logger: Logger; nil discards
//   - opts: Optional collaborators
//
// # Outputs
//
//   - *Reporter: Armed reporter
//   - error: *ConfigError for invalid settings, or a filesystem error
//
// # Examples
//
//	cfg := diagnostics.DefaultConfig()
//	cfg.Events = diagnostics.AllEvents
//	r, err := diagnostics.NewReporter(cfg, lp, logger)
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//	defer r.Wrap()()
func NewReporter(cfg Config, lp *loop.Loop, logger *logging.Logger, opts ...Option) (*Reporter, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.Format != FormatText && cfg.Format != FormatJSON {
		return nil, &ConfigError{Field: "format", Value: string(cfg.Format), Reason: "must be text or json"}
	}
	if signalSupported() {
		if _, err := resolveSignal(cfg.Signal); err != nil {
			return nil, err
		}
	}

	r := &Reporter{
		cfg:     cfg,
		logger:  logger.With("component", "diagreport"),
		loop:    lp,
		text:    NewTextFormatter(),
		json:    NewJSONFormatter(),
		metrics: NewNoOpMetrics(),
		tracer:  NewNoOpTracer(),
		exit:    os.Exit,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}
	if r.loop == nil {
		r.loop = loop.New(logger)
		r.ownsLoop = true
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.probe == nil {
		p := NewSystemProbe(cfg.IncludeEnvironment, nil)
		p.Warm(context.Background())
		r.probe = p
	}

	dumpBytes := 0
	if cfg.IncludeGoroutines {
		dumpBytes = cfg.GoroutineBufferBytes
	}
	r.stacks = NewStackWalker(cfg.MaxNativeFrames, dumpBytes, cfg.MaxGoroutines)
	r.handles = NewHandleWalker(r.loop)
	r.buf.Grow(64 * 1024)

	if cfg.SignalRate > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.SignalRate), cfg.SignalBurst)
	} else {
		r.limiter = rate.NewLimiter(rate.Inf, 0)
	}

	mirrors := append([]Mirror(nil), r.initialMirrors...)
	r.mirrors.Store(&mirrors)

	dir := cfg.Directory
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = wd
	}
	filename := cfg.Filename
	if filename == "" {
		filename = DefaultFilenamePattern(cfg.Format)
	}
	if err := r.setDestination(dir, filename); err != nil {
		return nil, err
	}

	if err := r.arm(cfg.Events); err != nil {
		r.closeTriggers()
		return nil, err
	}
	r.loop.SetPanicHook(r.ReportPanic)
	return r, nil
}

// Config returns the effective configuration.
func (r *Reporter) Config() Config { return r.cfg }

// Loop returns the loop whose handles are reported.
func (r *Reporter) Loop() *loop.Loop { return r.loop }

// Storage returns the current file storage.
func (r *Reporter) Storage() *FileStorage { return r.dest.Load().storage }

// Metrics returns the metrics recorder.
func (r *Reporter) Metrics() Metrics { return r.metrics }

// -----------------------------------------------------------------------------
// Event set
// -----------------------------------------------------------------------------

// Enable adds event kinds to the enabled set.
//
// # Description
//
// kinds accepts names ("exception"), "+"-joined lists ("exception+signal")
// or comma lists. All names are validated before anything changes, so an
// invalid name leaves the set untouched. Enabling "signal" installs the
// signal watcher; enabling an enabled kind is a no-op.
//
// # Outputs
//
//   - error: *ConfigError for unknown names or an unsupported trigger
func (r *Reporter) Enable(kinds ...string) error {
	set, err := ParseEvents(kinds...)
	if err != nil {
		return err
	}
	if r.closed.Load() {
		return ErrReporterClosed
	}
	return r.arm(set)
}

// Disable removes event kinds from the enabled set. Disabling "signal"
// removes the watcher and restores the default disposition.
func (r *Reporter) Disable(kinds ...string) error {
	set, err := ParseEvents(kinds...)
	if err != nil {
		return err
	}
	if r.closed.Load() {
		return ErrReporterClosed
	}
	r.enabled.And(^uint32(set))
	return r.syncTriggers()
}

// IsEnabled reports whether reason is in the enabled set.
func (r *Reporter) IsEnabled(reason Reason) bool {
	return EventSet(r.enabled.Load()).Has(reason)
}

// Events returns the enabled set.
func (r *Reporter) Events() EventSet {
	return EventSet(r.enabled.Load())
}

func (r *Reporter) arm(set EventSet) error {
	if set.Has(ReasonSignal) && !signalSupported() {
		return &ConfigError{Field: "events", Value: "signal", Reason: "signal trigger not supported on " + runtime.GOOS}
	}
	r.enabled.Or(uint32(set))
	return r.syncTriggers()
}

// syncTriggers installs or removes the signal watcher and crash output
// forwarding to match the enabled set.
func (r *Reporter) syncTriggers() error {
	r.trigMu.Lock()
	defer r.trigMu.Unlock()

	if r.closed.Load() {
		return nil
	}
	wantSignal := r.IsEnabled(ReasonSignal)
	switch {
	case wantSignal && r.signal == nil:
		st, err := r.installSignal()
		if err != nil {
			r.enabled.And(^uint32(EventsOf(ReasonSignal)))
			return err
		}
		r.signal = st
		r.logger.Debug("signal trigger installed", "signal", r.cfg.Signal)
	case !wantSignal && r.signal != nil:
		r.signal.close()
		r.signal = nil
		r.logger.Debug("signal trigger removed", "signal", r.cfg.Signal)
	}
	if r.crash != nil {
		forward := r.IsEnabled(ReasonException) || r.IsEnabled(ReasonFatalError)
		if err := r.crash.SetForwarding(forward); err != nil {
			r.logger.Warn("failed to update crash output forwarding", "error", err)
		}
	}
	return nil
}

// AttachCrashMonitor routes fatal runtime crashes to m while exception or
// fatalerror is enabled.
func (r *Reporter) AttachCrashMonitor(m *CrashMonitor) error {
	r.trigMu.Lock()
	r.crash = m
	r.trigMu.Unlock()
	return r.syncTriggers()
}

// -----------------------------------------------------------------------------
// Destination
// -----------------------------------------------------------------------------

// SetFileDestination sets the file name pattern used by written reports,
// or "stdout"/"stderr" to write to a stream. An empty value restores the
// default pattern. The directory is unchanged.
//
// # Outputs
//
//   - error: *ConfigError for an invalid pattern
func (r *Reporter) SetFileDestination(dest string) error {
	r.destMu.Lock()
	dir := r.dest.Load().storage.Dir()
	r.destMu.Unlock()
	if dest == "" {
		dest = DefaultFilenamePattern(r.cfg.Format)
	}
	return r.setDestination(dir, dest)
}

// SetDirectory changes the report directory, keeping the pattern.
func (r *Reporter) SetDirectory(dir string) error {
	r.destMu.Lock()
	cur := r.dest.Load()
	name := cur.storage.Pattern().String()
	if cur.stream != nil {
		name = cur.streamName
	}
	r.destMu.Unlock()
	return r.setDestination(dir, name)
}

func (r *Reporter) setDestination(dir, name string) error {
	r.destMu.Lock()
	defer r.destMu.Unlock()

	d := &fileDestination{}
	pattern := DefaultFilenamePattern(r.cfg.Format)
	switch name {
	case DestinationStdout:
		d.stream, d.streamName = r.stdout, DestinationStdout
	case DestinationStderr:
		d.stream, d.streamName = r.stderr, DestinationStderr
	default:
		pattern = name
	}
	if d.stream != nil {
		if cur := r.dest.Load(); cur != nil {
			pattern = cur.storage.Pattern().String()
		}
	}
	fp, err := ParseFilenamePattern(pattern)
	if err != nil {
		return err
	}
	storage, err := NewFileStorage(dir, fp)
	if err != nil {
		return &SinkError{Path: dir, Err: err}
	}
	d.storage = storage
	r.dest.Store(d)
	return nil
}

// AddMirror adds a mirror for subsequent written reports.
func (r *Reporter) AddMirror(m Mirror) {
	if m == nil {
		return
	}
	r.mirrorMu.Lock()
	defer r.mirrorMu.Unlock()
	next := append(append([]Mirror(nil), *r.mirrors.Load()...), m)
	r.mirrors.Store(&next)
}

// -----------------------------------------------------------------------------
// Explicit API
// -----------------------------------------------------------------------------

// GetReport captures a report and returns its text without writing it.
//
// # Outputs
//
//   - string: The text report
//   - error: ErrCaptureSuppressed if another capture is running
func (r *Reporter) GetReport(ctx context.Context) (string, error) {
	res, err := r.fire(ctx, trigger{reason: ReasonAPICall, event: "GetReport", dest: ReturnAsValue, format: FormatText})
	if err != nil {
		return "", err
	}
	return string(res.Content), nil
}

// GetReportJSON captures a report and returns it as JSON.
func (r *Reporter) GetReportJSON(ctx context.Context) ([]byte, error) {
	res, err := r.fire(ctx, trigger{reason: ReasonAPICall, event: "GetReportJSON", dest: ReturnAsValue, format: FormatJSON})
	if err != nil {
		return nil, err
	}
	return res.Content, nil
}

// WriteReport captures a report and writes it to the file destination.
//
// # Inputs
//
//   - ctx: Used for tracing and mirrors
//   - cause: Optional error recorded in the header
//
// # Outputs
//
//   - string: The written path, or "stdout"/"stderr"
//   - error: ErrCaptureSuppressed or *SinkError
func (r *Reporter) WriteReport(ctx context.Context, cause error) (string, error) {
	t := trigger{reason: ReasonAPICall, event: "WriteReport", err: cause, dest: WriteToFile}
	if cause != nil {
		t.event = cause.Error()
	}
	res, err := r.fire(ctx, t)
	if err != nil {
		return "", err
	}
	if res.Stored != nil {
		return res.Stored.Path, nil
	}
	return res.Destination, nil
}

// FireReport runs the pipeline for reason and writes to the file
// destination.
//
// # Description
//
// cause describes the trigger: an error, a string, an os.Signal or any
// value printable with fmt. For automatic reasons the call honors the
// enabled set and once policy and never returns an error; a nil Result
// means no report was produced. For ReasonAPICall errors are returned.
func (r *Reporter) FireReport(ctx context.Context, reason Reason, cause any) (*Result, error) {
	if !reason.IsValid() {
		return nil, &ConfigError{Field: "reason", Value: reason.String(), Reason: "unknown event kind"}
	}
	event, err := describeCause(cause)
	res, ferr := r.fire(ctx, trigger{reason: reason, event: event, err: err, dest: WriteToFile})
	if ferr != nil && reason.Automatic() {
		return res, nil
	}
	return res, ferr
}

// Prune applies retention to the report directory and updates the stored
// count metric.
func (r *Reporter) Prune(ctx context.Context, maxAge time.Duration, maxCount int) (int, error) {
	storage := r.Storage()
	n, err := storage.Prune(ctx, maxAge, maxCount)
	if n > 0 {
		r.metrics.RecordPruned(n)
	}
	if count, cerr := storage.Count(ctx); cerr == nil {
		r.metrics.RecordStoredCount(count)
	}
	return n, err
}

// Close removes the triggers and stops crash forwarding. A private loop
// is closed; a caller-provided loop only loses the panic hook.
func (r *Reporter) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	crash := r.closeTriggers()
	var errs []error
	if crash != nil {
		errs = append(errs, crash.Close())
	}
	if r.ownsLoop {
		errs = append(errs, r.loop.Close())
	} else {
		r.loop.SetPanicHook(nil)
	}
	return errors.Join(errs...)
}

func (r *Reporter) closeTriggers() *CrashMonitor {
	r.trigMu.Lock()
	defer r.trigMu.Unlock()
	if r.signal != nil {
		r.signal.close()
		r.signal = nil
	}
	crash := r.crash
	r.crash = nil
	return crash
}

// =============================================================================
// Pipeline
// =============================================================================

// fire gates a trigger, captures under the guard and runs mirrors after
// the guard is released.
func (r *Reporter) fire(ctx context.Context, t trigger) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if r.closed.Load() {
		if t.reason.Automatic() {
			return nil, nil
		}
		return nil, ErrReporterClosed
	}
	if t.reason.Automatic() && !r.IsEnabled(t.reason) {
		return nil, nil
	}
	if !r.capturing.CompareAndSwap(false, true) {
		r.metrics.RecordSuppressed(t.reason, SuppressReentrant)
		r.logger.Debug("report trigger suppressed", "reason", t.reason.String(), "cause", SuppressReentrant)
		if t.reason.Automatic() {
			return nil, nil
		}
		return nil, ErrCaptureSuppressed
	}

	res, err := r.fireLocked(ctx, t)
	if res != nil && res.Stored != nil {
		r.mirror(ctx, *res.Stored, res.Content)
	}
	return res, err
}

func (r *Reporter) fireLocked(ctx context.Context, t trigger) (res *Result, err error) {
	defer r.capturing.Store(false)
	defer func() {
		if v := recover(); v != nil {
			res = nil
			err = fmt.Errorf("report capture panicked: %v", v)
			r.metrics.RecordError("capture")
			r.logger.Error("report capture panicked", "reason", t.reason.String(), "value", fmt.Sprint(v))
		}
	}()

	if t.reason.Automatic() && r.cfg.Once.Has(t.reason) {
		bit := uint32(EventsOf(t.reason))
		if r.fired.Or(bit)&bit != 0 {
			r.metrics.RecordSuppressed(t.reason, SuppressOnce)
			r.logger.Debug("report trigger suppressed", "reason", t.reason.String(), "cause", SuppressOnce)
			return nil, nil
		}
	}

	start := time.Now()
	ctx, finish := r.tracer.StartSpan(ctx, "diagreport.capture", map[string]string{"reason": t.reason.String()})
	defer func() { finish(err) }()

	rep := r.captureReport(ctx, t, start)

	format := t.format
	if format == "" {
		format = r.cfg.Format
	}
	content, err := r.render(rep, format)
	if err != nil {
		r.metrics.RecordError("format")
		return nil, err
	}

	res = &Result{Report: rep, Content: content, Destination: "value"}
	if t.dest == WriteToFile {
		d := r.dest.Load()
		res.Destination = d.String()
		var serr error
		if d.stream != nil {
			serr = writeStream(d.stream, d.streamName, content)
		} else {
			var st StoredReport
			st, serr = d.storage.Store(ctx, r.filenameValues(rep), content)
			if serr == nil {
				res.Stored = &st
			}
		}
		if serr != nil {
			r.metrics.RecordError("sink")
			r.logger.Error("failed to write diagnostic report", "reason", t.reason.String(), "error", serr)
			r.emitFallback(content)
			return res, serr
		}
	}

	elapsed := time.Since(start)
	r.metrics.RecordReport(t.reason, res.Destination, elapsed, len(content))
	path := res.Destination
	if res.Stored != nil {
		path = res.Stored.Path
	}
	r.logger.Info("diagnostic report captured",
		"reason", t.reason.String(),
		"id", rep.Header.ID,
		"destination", path,
		"bytes", len(content),
		"duration_ms", elapsed.Milliseconds(),
		"trace_id", r.tracer.TraceID(ctx),
	)
	if degraded := rep.Degraded(); len(degraded) > 0 {
		r.logger.Debug("report sections degraded", "sections", degraded)
	}
	return res, nil
}

// captureReport fills the report: header, environment, handles, stacks.
func (r *Reporter) captureReport(ctx context.Context, t trigger, now time.Time) *Report {
	rep := &Report{Header: r.captureHeader(t, now)}
	rep.Environment = r.probe.Probe(ctx)
	if rep.Header.Hostname == "" {
		rep.Header.Hostname = rep.Environment.Hostname
	}
	if t.crash != nil {
		t.crash.fill(rep, r.cfg.MaxGoroutines)
		return rep
	}

	if records, err := r.handles.Walk(now); err != nil {
		rep.HandlesError = err.Error()
	} else {
		rep.Handles = records
	}
	r.captureStacks(rep)
	return rep
}

func (r *Reporter) captureStacks(rep *Report) {
	frames, truncated, err := r.stacks.CaptureNative()
	if err != nil {
		rep.NativeStackError = err.Error()
	} else {
		rep.NativeStack = frames
		rep.NativeStackTruncated = truncated
	}

	gs, gtrunc, err := r.stacks.CaptureManaged()
	if err != nil {
		rep.GoroutinesError = err.Error()
	} else {
		rep.Goroutines = gs
		rep.GoroutinesTruncated = gtrunc
	}
}

func (r *Reporter) captureHeader(t trigger, now time.Time) Header {
	h := Header{
		Reason:        t.reason,
		Event:         t.event,
		ID:            r.newReportID(),
		Time:          now,
		PID:           os.Getpid(),
		PPID:          os.Getppid(),
		CommandLine:   append([]string(nil), os.Args...),
		GoVersion:     runtime.Version(),
		ReportVersion: ReportVersion,
	}
	if t.err != nil {
		h.Error = t.err.Error()
	}
	if wd, err := os.Getwd(); err == nil {
		h.Cwd = wd
	}
	if t.crash != nil {
		t.crash.header(&h)
	}
	return h
}

func (r *Reporter) newReportID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return strconv.Itoa(os.Getpid()) + "-" + strconv.FormatUint(r.seq.Load(), 10)
	}
	return id.String()
}

func (r *Reporter) filenameValues(rep *Report) FilenameValues {
	return FilenameValues{
		PID:   rep.Header.PID,
		Seq:   r.seq.Add(1),
		ID:    rep.Header.ID,
		Time:  rep.Header.Time,
		Event: rep.Header.Reason,
	}
}

// render formats rep. Text goes through the pre-grown buffer owned by the
// guard holder; the result is copied out.
func (r *Reporter) render(rep *Report, format Format) ([]byte, error) {
	if format == FormatJSON {
		return r.json.Format(rep)
	}
	r.buf.Reset()
	if err := r.text.Write(&r.buf, rep); err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}
	return bytes.Clone(r.buf.Bytes()), nil
}

func (r *Reporter) emitFallback(content []byte) {
	_, _ = io.WriteString(r.stderr, "diagreport: report could not be written to its destination; emitting to stderr\n")
	_, _ = r.stderr.Write(content)
}

func (r *Reporter) mirror(ctx context.Context, st StoredReport, content []byte) {
	mirrors := *r.mirrors.Load()
	if len(mirrors) == 0 {
		return
	}
	if err := runMirrors(ctx, mirrors, r.cfg.MirrorTimeout, st, content); err != nil {
		r.metrics.RecordError("mirror")
		r.logger.Warn("failed to mirror diagnostic report", "path", st.Path, "error", err)
	}
}

// describeCause turns a trigger cause into the header's event text and
// error.
func describeCause(cause any) (string, error) {
	switch v := cause.(type) {
	case nil:
		return "", nil
	case error:
		return v.Error(), v
	case os.Signal:
		return describeSignal(v), nil
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return fmt.Sprint(v), nil
	}
}
