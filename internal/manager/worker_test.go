package manager

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"diffusiond/internal/queue"
)

func enqueueAll(t *testing.T, q *queue.Queue, ps ...queue.Params) []*queue.Record {
	t.Helper()
	recs := make([]*queue.Record, 0, len(ps))
	for _, p := range ps {
		rec := queue.NewRecord(p)
		if err := q.TryEnqueue(rec); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		recs = append(recs, rec)
	}
	return recs
}

func TestWorker_ProcessesInFIFOOrder(t *testing.T) {
	q := queue.New(10)
	gen := newFakeGen()
	recs := enqueueAll(t, q, params("a"), params("b"), params("c"), params("d"), params("e"))
	startedWorker(t, q, gen, workerOptions{maxBatch: 2, log: zerolog.Nop()})

	for _, rec := range recs {
		images, err := waitRecord(t, rec)
		if err != nil {
			t.Fatalf("record %s: %v", rec.Params.Prompts[0], err)
		}
		if len(images) != 1 {
			t.Fatalf("expected 1 image, got %d", len(images))
		}
	}
	want := []string{"gen:a", "gen:b", "gen:c", "gen:d", "gen:e"}
	if got := gen.Calls(); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
}

func TestWorker_AdapterSwitchingAndDefault(t *testing.T) {
	q := queue.New(10)
	gen := newFakeGen()
	recs := enqueueAll(t, q,
		withAdapter("a", "style.safetensors"),
		params("b"),
		withAdapter("c", "style.safetensors"),
		withAdapter("d", "style.safetensors"),
	)
	startedWorker(t, q, gen, workerOptions{maxBatch: 4, log: zerolog.Nop()})
	for _, rec := range recs {
		if _, err := waitRecord(t, rec); err != nil {
			t.Fatalf("record %s: %v", rec.Params.Prompts[0], err)
		}
	}
	want := []string{
		"adapter:style.safetensors", "gen:a",
		"adapter:", "gen:b",
		"adapter:style.safetensors", "gen:c", "gen:d",
	}
	if got := gen.Calls(); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
}

func TestWorker_DefaultAdapterRestoredForPlainRecords(t *testing.T) {
	q := queue.New(10)
	gen := newFakeGen()
	gen.adapter = "base"
	def := adapterKey{path: "base", scale: 1}
	recs := enqueueAll(t, q, params("a"), withAdapter("b", "other"), params("c"))
	startedWorker(t, q, gen, workerOptions{maxBatch: 3, defaultAdapter: def, initial: def, log: zerolog.Nop()})
	var outs []string
	for _, rec := range recs {
		images, err := waitRecord(t, rec)
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		outs = append(outs, string(images[0].Data))
	}
	want := []string{"a|base", "b|other", "c|base"}
	if !reflect.DeepEqual(outs, want) {
		t.Fatalf("outputs = %v, want %v", outs, want)
	}
}

func TestWorker_AdapterFailureOnlyFailsItsRecords(t *testing.T) {
	q := queue.New(10)
	gen := newFakeGen()
	gen.adapterErr["broken"] = errors.New("file not found")
	recs := enqueueAll(t, q,
		withAdapter("a", "broken"),
		params("b"),
		withAdapter("c", "broken"),
	)
	startedWorker(t, q, gen, workerOptions{maxBatch: 3, log: zerolog.Nop()})

	_, errA := waitRecord(t, recs[0])
	_, errB := waitRecord(t, recs[1])
	_, errC := waitRecord(t, recs[2])
	if !IsAdapterLoadFailed(errA) || !IsAdapterLoadFailed(errC) {
		t.Fatalf("expected adapter failures, got a=%v c=%v", errA, errC)
	}
	if errB != nil {
		t.Fatalf("record without adapter should succeed, got %v", errB)
	}
	// The broken adapter is attempted once per batch.
	n := 0
	for _, c := range gen.Calls() {
		if c == "adapter:broken" {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("expected one load attempt, got %d (%v)", n, gen.Calls())
	}
}

func TestWorker_GenerationErrorIsIsolated(t *testing.T) {
	q := queue.New(10)
	gen := newFakeGen()
	gen.genErr["b"] = errors.New("cuda out of memory")
	recs := enqueueAll(t, q, params("a"), params("b"), params("c"))
	startedWorker(t, q, gen, workerOptions{maxBatch: 3, log: zerolog.Nop()})

	if _, err := waitRecord(t, recs[0]); err != nil {
		t.Fatalf("a: %v", err)
	}
	_, err := waitRecord(t, recs[1])
	if !IsGenerationFailed(err) || !strings.Contains(err.Error(), "out of memory") {
		t.Fatalf("b: expected generation failure, got %v", err)
	}
	if _, err := waitRecord(t, recs[2]); err != nil {
		t.Fatalf("c: %v", err)
	}
}

func TestWorker_RecoversBackendPanic(t *testing.T) {
	q := queue.New(10)
	gen := newFakeGen()
	gen.panicOn = "boom"
	recs := enqueueAll(t, q, params("boom"), params("after"))
	w := startedWorker(t, q, gen, workerOptions{maxBatch: 1, log: zerolog.Nop()})

	_, err := waitRecord(t, recs[0])
	if !IsGenerationFailed(err) || !strings.Contains(err.Error(), "panic") {
		t.Fatalf("expected panic to surface as generation failure, got %v", err)
	}
	if _, err := waitRecord(t, recs[1]); err != nil {
		t.Fatalf("worker should keep serving after a panic: %v", err)
	}
	if w.State() != WorkerRunning {
		t.Fatalf("worker state = %s", w.State())
	}
}

func TestWorker_FusesCompatibleNeighbours(t *testing.T) {
	q := queue.New(10)
	gen := &fakeBatchGen{fakeGen: newFakeGen()}
	odd := params("c")
	odd.Width = 128
	recs := enqueueAll(t, q, params("a"), params("b"), odd, params("d"))
	startedWorker(t, q, gen, workerOptions{maxBatch: 4, fuse: true, log: zerolog.Nop()})
	for _, rec := range recs {
		if _, err := waitRecord(t, rec); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	gen.mu.Lock()
	fused := gen.fused
	gen.mu.Unlock()
	if !reflect.DeepEqual(fused, [][]string{{"a", "b"}}) {
		t.Fatalf("fused calls = %v", fused)
	}
	want := []string{"gen:c", "gen:d"}
	if got := gen.Calls(); !reflect.DeepEqual(got, want) {
		t.Fatalf("single calls = %v, want %v", got, want)
	}
}

func TestWorker_NoFusionUnlessEnabled(t *testing.T) {
	q := queue.New(10)
	gen := &fakeBatchGen{fakeGen: newFakeGen()}
	recs := enqueueAll(t, q, params("a"), params("b"))
	startedWorker(t, q, gen, workerOptions{maxBatch: 2, log: zerolog.Nop()})
	for _, rec := range recs {
		if _, err := waitRecord(t, rec); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if len(gen.fused) != 0 {
		t.Fatalf("unexpected fused calls %v", gen.fused)
	}
}

func TestWorker_StopsWhenQueueClosed(t *testing.T) {
	q := queue.New(2)
	w := newWorker(q, newFakeGen(), workerOptions{log: zerolog.Nop()})
	go w.Run(context.Background())
	q.Close()
	select {
	case <-w.Done():
	case <-testCtx(t).Done():
		t.Fatal("worker did not exit after close")
	}
	if w.State() != WorkerStopped {
		t.Fatalf("state = %s", w.State())
	}
}

func TestWorker_AbandonMakesSettleNoop(t *testing.T) {
	q := queue.New(2)
	gen := newFakeGen()
	gen.block = make(chan struct{})
	gen.started = make(chan string, 1)
	recs := enqueueAll(t, q, params("slow"))
	w := startedWorker(t, q, gen, workerOptions{log: zerolog.Nop()})
	<-gen.started

	if n := w.abandon(ErrShuttingDown); n != 1 {
		t.Fatalf("abandoned %d records, want 1", n)
	}
	_, err := waitRecord(t, recs[0])
	if !IsShuttingDown(err) {
		t.Fatalf("expected shutting down, got %v", err)
	}
	// Finishing the generate call must not resolve the record again.
	close(gen.block)
	w.Stop()
	<-w.Done()
}

func TestWorkerState_String(t *testing.T) {
	if WorkerRunning.String() != "running" || WorkerState(9).String() != "worker_state(9)" {
		t.Fatalf("unexpected names")
	}
}
