package miner

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/rs/zerolog"
)

// DebounceInterval is how long the driver waits after the last restart
// request before it actually (re)starts a mining job, so a burst of tip
// or mempool changes collapses into a single restart.
const DebounceInterval = 250 * time.Millisecond

// RespawnBackoff is how long the driver waits after an engine crash
// before reissuing the interrupted job.
const RespawnBackoff = time.Second

// MineFunc is the contract between the driver and a mining engine: search
// for a solution to job, polling cancel cooperatively, and return the
// mined block and true on success or nil and false once cancelled.
type MineFunc func(job Job, cancel *atomic.Uint32) (*block.Block, bool)

// JobBuilder produces the next job to mine, given the current chain tip
// and mempool contents. It returns ok=false when mining should not run
// (no mining address configured, or mining disabled).
type JobBuilder func() (job Job, ok bool)

// Driver owns the debounce timer and the single background worker
// goroutine. It is safe for concurrent use; NotifyChange is meant to be
// called from the node's request-handling path every time the tip or
// mempool changes.
type Driver struct {
	mu sync.Mutex

	debounce       time.Duration
	respawnBackoff time.Duration
	timer          *time.Timer
	running        bool
	restartPending bool
	stopped        bool

	cancel atomic.Uint32

	mine     MineFunc
	buildJob JobBuilder
	onFound  func(*block.Block)
	logger   zerolog.Logger
}

// NewDriver constructs a driver. buildJob is called each time the worker
// is about to start mining; onFound is called (from the worker goroutine)
// with every successfully mined block.
func NewDriver(buildJob JobBuilder, onFound func(*block.Block)) *Driver {
	return &Driver{
		debounce:       DebounceInterval,
		respawnBackoff: RespawnBackoff,
		mine:           NewEngine().Mine,
		buildJob:       buildJob,
		onFound:        onFound,
		logger:         log.WithComponent("miner"),
	}
}

// NotifyChange signals that the chain tip or mempool changed and mining
// should restart against the new state. It only (re)arms the debounce
// timer: a burst of changes arriving within the debounce window collapses
// into the single restart decided at fire-time, rather than cancelling the
// in-flight job on every call.
func (d *Driver) NotifyChange() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.debounce, d.fire)
}

// fire is invoked once the debounce window has elapsed with no further
// NotifyChange calls. If a job is running, this is where the cancel flag
// is actually set and a restart is marked pending; the job's own
// completion (runJob) starts the next one. If no job is running, fire
// starts one immediately.
func (d *Driver) fire() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if d.running {
		d.cancel.Store(1)
		d.restartPending = true
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()
	d.startLocked()
}

// startLocked builds a job and launches the worker goroutine, unless
// mining is currently disabled or already running.
func (d *Driver) startLocked() {
	d.mu.Lock()
	if d.stopped || d.running {
		d.mu.Unlock()
		return
	}
	job, ok := d.buildJob()
	if !ok {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.restartPending = false
	d.cancel.Store(0)
	d.mu.Unlock()

	go d.runJob(job)
}

func (d *Driver) runJob(job Job) {
	var found *block.Block
	var ok bool
	for {
		var crashed bool
		found, ok, crashed = d.mineOnce(job)
		if !crashed {
			break
		}
		d.logger.Error().Int("height", job.Height).Msg("mining engine crashed, respawning")
		time.Sleep(d.respawnBackoff)
		d.mu.Lock()
		stopped := d.stopped
		d.mu.Unlock()
		if stopped {
			found, ok = nil, false
			break
		}
	}

	d.mu.Lock()
	d.running = false
	restart := d.restartPending
	d.restartPending = false
	stopped := d.stopped
	d.mu.Unlock()

	if ok && found != nil {
		d.logger.Info().Str("hash", found.Hash).Int("height", found.Height).Msg("block mined")
		if d.onFound != nil {
			d.onFound(found)
		}
	}

	if stopped {
		return
	}
	if restart || ok {
		// Either a change arrived mid-search, or we found a block and
		// must build the next job on top of it.
		d.startLocked()
	}
}

// mineOnce runs the mining engine for one job, converting a panic into a
// crashed verdict so the driver can respawn instead of losing the worker.
func (d *Driver) mineOnce(job Job) (b *block.Block, ok, crashed bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Msg("mining engine panic")
			b, ok, crashed = nil, false, true
		}
	}()
	b, ok = d.mine(job, &d.cancel)
	return b, ok, false
}

// Cancel requests that the in-flight job (if any) stop as soon as
// possible, without marking the driver permanently stopped: a later
// NotifyChange can still start a fresh job on top of the current tip.
func (d *Driver) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		d.cancel.Store(1)
	}
}

// Stop halts the driver permanently. Any in-flight job is cancelled; it
// will not be restarted. Used only at node shutdown.
func (d *Driver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.cancel.Store(1)
	if d.timer != nil {
		d.timer.Stop()
	}
}

// Running reports whether a mining job is currently in flight.
func (d *Driver) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}
