package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/rtcore/arena"
	"github.com/wippyai/rtcore/kernel"
	"github.com/wippyai/rtcore/msgq"
	"github.com/wippyai/rtcore/partition"
	"github.com/wippyai/rtcore/region"
	"github.com/wippyai/rtcore/sem"
	"github.com/wippyai/rtcore/task"
	"github.com/wippyai/rtcore/timer"
	"github.com/wippyai/rtcore/waitq"
)

// workload is a small sampler/logger pipeline that keeps every object kind
// busy so the monitor has something to show.
type workload struct {
	k       *kernel.Kernel
	log     *zap.Logger
	tick    *timer.Timer
	samples *msgq.Queue
	logged  *sem.Semaphore
	frames  *partition.Partition
	scratch *region.Region
	sampler *task.Task
	logger  *task.Task
	count   atomic.Uint64
	stop    atomic.Bool
}

func startWorkload(ctx context.Context, k *kernel.Kernel, period time.Duration) (*workload, error) {
	w := &workload{k: k, log: k.Logger().Named("workload")}
	if err := w.build(ctx, period); err != nil {
		w.teardown(ctx)
		return nil, err
	}
	return w, nil
}

func (w *workload) build(ctx context.Context, period time.Duration) error {
	k := w.k
	var err error
	if w.samples, err = k.CreateQueue("samples", msgq.Options{Slots: 8, MessageSize: 16}); err != nil {
		return err
	}
	if w.logged, err = k.CreateSemaphore("logged", sem.Options{}); err != nil {
		return err
	}
	if w.frames, err = k.CreatePartition("frames", arena.NewHeap(4096), partition.Options{BlockSize: 256}); err != nil {
		return err
	}
	if w.scratch, err = k.CreateRegion("scratch", arena.NewHeap(64*1024), region.Options{}); err != nil {
		return err
	}
	if w.tick, err = k.ArmPeriodic(period, nil); err != nil {
		return err
	}
	if w.sampler, err = k.CreateTask("sampler", task.Options{Priority: 60}); err != nil {
		return err
	}
	if w.logger, err = k.CreateTask("logger", task.Options{Priority: 40}); err != nil {
		return err
	}
	if err := w.sampler.Start(ctx, w.sample); err != nil {
		return err
	}
	return w.logger.Start(ctx, w.drain)
}

// teardown removes whatever a failed build managed to create.
func (w *workload) teardown(ctx context.Context) {
	w.stop.Store(true)
	for _, t := range []*task.Task{w.logger, w.sampler} {
		if t != nil {
			w.check("delete task", t.Delete(ctx))
		}
	}
	if w.tick != nil {
		w.k.Cancel(w.tick)
	}
	if w.samples != nil {
		w.check("delete queue", w.samples.Delete(ctx))
	}
	if w.logged != nil {
		w.check("delete semaphore", w.logged.Delete(ctx))
	}
	if w.frames != nil {
		w.check("delete partition", w.frames.Delete())
	}
	if w.scratch != nil {
		w.check("delete region", w.scratch.Delete(ctx))
	}
}

// check logs an error the pipeline has no caller to report to.
func (w *workload) check(op string, err error) {
	if err != nil {
		w.log.Warn(op+" failed", zap.Error(err))
	}
}

func (w *workload) sample(ctx context.Context) {
	msg := make([]byte, 16)
	for !w.stop.Load() {
		n, err := w.tick.WaitTick(ctx, waitq.Infinite)
		if err != nil {
			break
		}
		block, err := w.frames.GetBlock()
		if err != nil {
			continue
		}
		binary.LittleEndian.PutUint64(msg, n)
		binary.LittleEndian.PutUint64(msg[8:], uint64(block))
		w.check("return block", w.frames.ReturnBlock(block))
		if err := w.samples.Send(ctx, msg, waitq.NoWait); err != nil {
			continue
		}
	}
	// an empty message tells the logger to finish
	w.check("send end marker", w.samples.Send(ctx, nil, waitq.Infinite))
}

func (w *workload) drain(ctx context.Context) {
	buf := make([]byte, 16)
	for {
		n, err := w.samples.Receive(ctx, buf, waitq.Infinite)
		if err != nil || n == 0 {
			return
		}
		seq := binary.LittleEndian.Uint64(buf)
		size := uint32(64 + seq%1024)
		seg, err := w.scratch.Allocate(ctx, size, waitq.NoWait)
		if err != nil {
			continue
		}
		if line, err := w.scratch.Slice(seg, size); err == nil {
			copy(line, fmt.Sprintf("sample %d", seq))
		}
		w.check("free segment", w.scratch.Free(ctx, seg))
		w.count.Add(1)
		w.check("give", w.logged.Give(ctx))
	}
}

// Stop winds the pipeline down and deletes every object it created.
func (w *workload) Stop(ctx context.Context) error {
	w.stop.Store(true)
	var eg errgroup.Group
	for _, t := range []*task.Task{w.sampler, w.logger} {
		eg.Go(func() error {
			if err := t.Join(ctx, waitq.Timed(5*time.Second)); err != nil {
				return fmt.Errorf("join %s: %w", t.Name(), err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	w.k.Cancel(w.tick)

	if err := w.samples.Delete(ctx); err != nil {
		return err
	}
	if err := w.logged.Delete(ctx); err != nil {
		return err
	}
	if err := w.frames.Delete(); err != nil {
		return err
	}
	return w.scratch.Delete(ctx)
}
