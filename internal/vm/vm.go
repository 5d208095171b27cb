// Package vm wires the whole machine together: object memory, the
// bytecode interpreter, the process scheduler, the primitive dispatch
// table, the display surface, the event queue, statistics, and
// snapshot load/save. It does not import internal/bitblt. internal/interp
// and internal/sched never import each other (internal/primitive imports
// internal/interp); only vm assembles the concrete types behind their
// small boundary interfaces.
package vm

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/devhawala/ST80-sub000/internal/display"
	"github.com/devhawala/ST80-sub000/internal/event"
	"github.com/devhawala/ST80-sub000/internal/interp"
	"github.com/devhawala/ST80-sub000/internal/memory"
	"github.com/devhawala/ST80-sub000/internal/oop"
	"github.com/devhawala/ST80-sub000/internal/primitive"
	"github.com/devhawala/ST80-sub000/internal/sched"
	"github.com/devhawala/ST80-sub000/internal/snapshot"
	"github.com/devhawala/ST80-sub000/internal/stats"
)

// Config bounds the object memory and tells the VM where to persist
// itself; zero values pick the defaults a fresh bootstrap image needs.
type Config struct {
	HeapWords    int
	OTEntries    int
	Scheme       oop.Scheme
	TimezoneMins int // minutes offset from UTC (§6.4); stored only, nothing in the VM reads it
}

// DefaultConfig mirrors spec.md's stated Non-goal ceiling ("<=~48K
// objects or <=1 Mword heaps"): a 256 Kword heap, well under the heap
// bound, and an object table at the 48K-entry bound itself.
func DefaultConfig() Config {
	return Config{HeapWords: 1 << 18, OTEntries: 48 * 1024, Scheme: oop.Classic}
}

// VM is the assembled machine.
type VM struct {
	Memory *memory.Manager
	Interp *interp.Interpreter
	Sched  *sched.Scheduler
	Prims  *primitive.Dispatcher
	Stats    *stats.Stats
	Registry *prometheus.Registry
	Events   *event.Queue
	Log      *zap.Logger

	Display display.Surface

	config           Config
	snapshotFilename string
}

// schedNotifier adapts *sched.Scheduler to event.Notifier without
// event importing sched.
type schedNotifier struct{ s *sched.Scheduler }

func (n schedNotifier) Notify() { n.s.WakeYield() }

// New assembles a VM around an already-populated Manager (e.g. from a
// bootstrap image builder or a loaded snapshot); log may be nil, in
// which case a no-op logger is used.
func New(m *memory.Manager, cfg Config, log *zap.Logger) *VM {
	if log == nil {
		log = zap.NewNop()
	}
	s := sched.New(m, func() int64 { return time.Now().UnixMilli() })
	prims := primitive.New()
	ic := interp.New(m, s, prims)

	// Each VM gets its own registry rather than prometheus's global
	// DefaultRegisterer: several VMs can coexist in one process (e.g.
	// tests), and registering the same metric names twice against one
	// global registry panics.
	registry := prometheus.NewRegistry()

	v := &VM{
		Memory:   m,
		Interp:   ic,
		Sched:    s,
		Prims:    prims,
		Stats:    stats.New(registry),
		Registry: registry,
		Log:      log,
		Display:  display.Null{},
		config:   cfg,
	}
	v.Events = event.NewQueue(schedNotifier{s})
	return v
}

// NewBootstrap builds a fresh Manager of the given configuration and
// wraps it in a VM, for use with internal/image's bootstrap builder
// (tests, and a from-scratch image before any snapshot exists).
func NewBootstrap(cfg Config, log *zap.Logger) *VM {
	if cfg.HeapWords == 0 {
		cfg = DefaultConfig()
	}
	m := memory.NewManager(cfg.HeapWords, cfg.OTEntries, cfg.Scheme)
	return New(m, cfg, log)
}

// Load restores a VM from a snapshot file (§6.1), running the
// full-GC-to-normalize pass the format's load behavior requires.
func Load(r io.Reader, cfg Config, log *zap.Logger) (*VM, error) {
	loaded, err := snapshot.Load(r)
	if err != nil {
		return nil, errors.Wrap(err, "vm: load snapshot")
	}
	if cfg.HeapWords == 0 {
		cfg = DefaultConfig()
	}
	m := memory.NewManagerFromSnapshot(loaded.Heap, loaded.OT, loaded.Scheme, cfg.HeapWords, cfg.OTEntries)
	v := New(m, cfg, log)
	v.Memory.CollectGarbage(v.Interp)
	v.Log.Info("snapshot loaded",
		zap.Int("heapUsedWords", len(loaded.Heap)),
		zap.Int("otUsedEntries", len(loaded.OT)),
		zap.Bool("stretch", loaded.Scheme == oop.Stretch))
	return v, nil
}

// LoadFile opens path and loads it as a snapshot (§6.4's image
// filename argument, with the ".im" suffix convention).
func LoadFile(path string, cfg Config, log *zap.Logger) (*VM, error) {
	f, err := os.Open(withImageSuffix(path))
	if err != nil {
		return nil, errors.Wrap(err, "vm: open snapshot file")
	}
	defer f.Close()
	return Load(f, cfg, log)
}

func withImageSuffix(path string) string {
	const suffix = ".im"
	if len(path) >= len(suffix) && path[len(path)-len(suffix):] == suffix {
		return path
	}
	return path + suffix
}

// SetSnapshotFilename implements §6.2's setSnapshotFilename: announce
// the next save target.
func (v *VM) SetSnapshotFilename(name string) { v.snapshotFilename = withImageSuffix(name) }

// SaveSnapshot implements §6.2's saveSnapshot: archive the previous
// snapshot file (if any) and persist the current object memory as a
// single new one.
func (v *VM) SaveSnapshot() error {
	if v.snapshotFilename == "" {
		return errors.New("vm: no snapshot filename set")
	}
	if _, err := os.Stat(v.snapshotFilename); err == nil {
		if err := os.Rename(v.snapshotFilename, v.snapshotFilename+".bak"); err != nil {
			return errors.Wrap(err, "vm: archive previous snapshot")
		}
	}
	f, err := os.Create(v.snapshotFilename)
	if err != nil {
		return errors.Wrap(err, "vm: create snapshot file")
	}
	defer f.Close()

	heap := v.Memory.Heap.Slice(0, v.Memory.Heap.Used())
	if err := snapshot.Save(f, heap, v.Memory.OT.Entries, v.Memory.Scheme); err != nil {
		return errors.Wrap(err, "vm: write snapshot")
	}
	v.Log.Info("snapshot saved", zap.String("file", v.snapshotFilename))
	return nil
}

// SaveExternalChanges implements §6.2's saveExternalChanges: this
// implementation models no external file-system artifact distinct
// from the snapshot itself (no virtual disk, no change-log file), so
// it is a documented no-op rather than a half-built delta format.
func (v *VM) SaveExternalChanges() error { return nil }

// InputEvent implements §6.2's inputEvent(word): enqueue one 16-bit
// event word for the interpreter to drain.
func (v *VM) InputEvent(w event.Word) { v.Events.Enqueue(w) }

// Boot activates ctx as the running context without going through a
// Process object -- used by bootstrap images and tests that build a
// bare context directly rather than a full Process/Scheduler
// hierarchy (internal/image.Builder's scenarios).
func (v *VM) Boot(ctx oop.OOP) { v.Sched.SetActive(oop.NilPointer); v.Interp.ActivateContext(ctx) }

// BootProcess installs initialProcess as the active process and any
// others as ready, the ordinary path once an image defines real
// Process objects (spec.md §2's well-known SchedulerAssociationPointer
// holds the Smalltalk-visible handle to the same scheduler state this
// VM's sched.Scheduler tracks natively; see DESIGN.md for why process
// discovery from that association isn't implemented here).
func (v *VM) BootProcess(initialProcess oop.OOP, ready ...oop.OOP) {
	v.Sched.SetActive(initialProcess)
	for _, p := range ready {
		v.Sched.AddReady(p)
	}
	v.Interp.ActivateContext(v.Sched.ContextOf(initialProcess))
}

// Run drives the interpreter until a quit condition or fatal error,
// syncing statistics on the way out.
func (v *VM) Run() error {
	err := v.Interp.Run(v.Interp.ActiveContext())
	v.Stats.Sync(v.Interp, v.Memory)
	return err
}
