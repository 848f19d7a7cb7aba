package engine

import (
	"runtime/debug"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/argusengine/argus/internal/core/lifecycle"
	"github.com/argusengine/argus/internal/core/module"
)

const (
	// sleepOverhead is left unslept at the end of a paced iteration to absorb
	// wake-up latency.
	sleepOverhead = 120 * time.Microsecond

	// ackPollInterval bounds each wait of the update side on the render
	// side's halt acknowledgment.
	ackPollInterval = 10 * time.Millisecond
)

// Start runs the engine until Stop is called. The render context runs on a
// new goroutine; the update context runs on the calling goroutine. Start
// returns after both contexts have acknowledged the halt, the deinit stages
// have run and the render goroutine has exited.
func (e *Engine) Start() error {
	if e.stage.Current() != lifecycle.Running {
		return errNotInitialized
	}
	if !e.started.CompareAndSwap(false, true) {
		return errAlreadyStarted
	}

	go e.renderMain()

	// No update callback may observe a render context that has not finished
	// its init callbacks.
	select {
	case <-e.renderReady.Done():
	case <-e.renderDone:
	}
	e.log.Info("engine started")

	e.updateLoop()

	e.log.Debug("update thread observed halt request")
	e.updateAck.Set()
	e.log.Debug("update thread acknowledged halt request")
	e.awaitRenderAck()

	var errs error
	for _, stage := range lifecycle.DeinitStages {
		e.advance(stage)
		errs = multierr.Append(errs, module.RunDeinit(e.resolved, stage, e.log))
	}

	select {
	case <-e.renderDone:
	default:
		e.log.Debug("waiting for render thread to halt")
		<-e.renderDone
	}

	e.log.Info("engine stopped",
		zap.Uint64("update_frames", e.update.frames.Load()),
		zap.Uint64("render_frames", e.render.frames.Load()),
	)
	return errs
}

func (e *Engine) updateLoop() {
	last := time.Now()
	for !e.stop.IsSet() {
		if e.renderPanicked.Load() {
			e.log.Error("render thread died, stopping engine")
			e.Stop()
			break
		}
		last = e.iterate(e.update, last)
	}
}

// renderMain is the body of the render goroutine. A panic anywhere in it is
// recorded for the update side instead of crashing the process.
func (e *Engine) renderMain() {
	defer close(e.renderDone)
	defer func() {
		if r := recover(); r != nil {
			e.renderPanicked.Store(true)
			e.log.Error("render thread panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()

	e.runRenderInit()

	last := time.Now()
	for !e.stop.IsSet() {
		last = e.iterate(e.render, last)
	}

	e.log.Debug("render thread observed halt request")
	e.renderAck.Set()
	e.log.Debug("render thread acknowledged halt request")

	// Shared state stays untouched until the update side has halted too.
	e.updateAck.Wait()
}

// iterate runs one flush, dispatch and invoke cycle and returns the
// timestamp the next iteration measures its delta from.
func (e *Engine) iterate(ls *loopState, last time.Time) time.Time {
	start := time.Now()
	dt := start.Sub(last)

	ls.oneOffs.Flush()
	for _, cb := range ls.oneOffs.Drain() {
		cb.Payload()
	}

	ls.events.DispatchAll()

	ls.callbacks.Flush()
	for _, cb := range ls.callbacks.Items() {
		cb.Payload(dt)
	}

	ls.frames.Add(1)
	pace(start, ls.rate)
	return start
}

// awaitRenderAck waits for the render side to acknowledge the halt, checking
// periodically whether it died instead.
func (e *Engine) awaitRenderAck() {
	if e.renderAck.IsSet() {
		e.log.Debug("render thread already acknowledged halt request")
		return
	}
	for {
		if e.renderAck.WaitTimeout(ackPollInterval) {
			e.log.Debug("render thread acknowledged halt request")
			return
		}
		if e.renderPanicked.Load() || isClosed(e.renderDone) {
			e.log.Warn("render thread is gone, treating halt as acknowledged")
			e.renderAck.Set()
			return
		}
	}
}

func pace(start time.Time, rate uint32) {
	if rate == 0 {
		return
	}
	target := time.Second / time.Duration(rate)
	elapsed := time.Since(start)
	if elapsed >= target {
		return
	}
	remaining := target - elapsed
	if remaining <= sleepOverhead {
		return
	}
	time.Sleep(remaining - sleepOverhead)
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
