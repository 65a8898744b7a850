package services

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kelvana/presetsmith/internal/audio"
	"github.com/kelvana/presetsmith/internal/models"
	"github.com/kelvana/presetsmith/internal/statushub"
	"github.com/kelvana/presetsmith/internal/utils"
)

// fakeLedger mimics the upsert semantics of the SQL repository: on conflict
// only the mutable columns are rewritten.
type fakeLedger struct {
	mu       sync.Mutex
	rows     map[string]*models.InferenceRequest
	failNext bool
	findErr  error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{rows: make(map[string]*models.InferenceRequest)}
}

func (f *fakeLedger) Upsert(_ context.Context, r *models.InferenceRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("ledger down")
	}
	if cur, ok := f.rows[r.ID]; ok {
		cur.Status = r.Status
		cur.UpdatedAt = r.UpdatedAt
		cur.ResultRef = r.ResultRef
		cur.Error = r.Error
		cur.Meta = r.Meta
		return nil
	}
	cp := *r
	f.rows[r.ID] = &cp
	return nil
}

func (f *fakeLedger) FindByID(_ context.Context, id string) (*models.InferenceRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	r, ok := f.rows[id]
	if !ok {
		return nil, utils.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeLedger) ListByStatus(_ context.Context, status models.RequestStatus) ([]models.InferenceRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.InferenceRequest
	for _, r := range f.rows {
		if r.Status == status {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeLedger) ListBySynth(_ context.Context, synth string) ([]models.InferenceRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.InferenceRequest
	for _, r := range f.rows {
		if r.Synth == synth {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeLedger) UpdateStatus(_ context.Context, id string, status models.RequestStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rows[id]; ok {
		r.Status = status
		r.UpdatedAt = time.Now().UTC()
	}
	return nil
}

type fakeArtifacts struct {
	mu      sync.Mutex
	audio   map[string][]byte
	presets map[string][]byte
	links   map[string]string
	seq     int
}

func newFakeArtifacts() *fakeArtifacts {
	return &fakeArtifacts{
		audio:   make(map[string][]byte),
		presets: make(map[string][]byte),
		links:   make(map[string]string),
	}
}

func (f *fakeArtifacts) PutAudio(_ context.Context, data []byte, _, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	ref := "audio-" + string(rune('a'+f.seq))
	f.audio[ref] = data
	return ref, nil
}

func (f *fakeArtifacts) GetAudio(_ context.Context, ref string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audio[ref], nil
}

func (f *fakeArtifacts) PutPreset(_ context.Context, data []byte, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	ref := "preset-" + string(rune('a'+f.seq))
	f.presets[ref] = data
	return ref, nil
}

func (f *fakeArtifacts) GetPreset(_ context.Context, ref string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.presets[ref], nil
}

func (f *fakeArtifacts) GetPresetMetadata(_ context.Context, _ string) (map[string]any, error) {
	return nil, nil
}

func (f *fakeArtifacts) LinkAudioToPreset(_ context.Context, audioRef, presetRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links[audioRef] = presetRef
	return nil
}

func (f *fakeArtifacts) PresetRefForAudio(_ context.Context, audioRef string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.links[audioRef], nil
}

type fakePredictor struct {
	fn func(ctx context.Context, wav []byte) ([]byte, error)
}

func (p *fakePredictor) Predict(ctx context.Context, wav []byte) ([]byte, error) {
	return p.fn(ctx, wav)
}

func testWAV() []byte {
	wav := append([]byte("RIFF"), 0x24, 0x08, 0x00, 0x00)
	wav = append(wav, []byte("WAVE")...)
	return append(wav, bytes.Repeat([]byte{0x11}, 64)...)
}

func newTestService(t *testing.T, predict func(ctx context.Context, wav []byte) ([]byte, error)) (InferenceService, *fakeLedger, *fakeArtifacts) {
	t.Helper()
	ledger := newFakeLedger()
	artifacts := newFakeArtifacts()
	hub := statushub.New(time.Hour, nil)
	svc := NewInferenceService(ledger, artifacts, hub, &fakePredictor{fn: predict}, nil, nil, Config{
		WorkerTimeout:   time.Second,
		DispatchWorkers: 2,
	})
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return svc, ledger, artifacts
}

// awaitTerminal drains the subscription until a terminal status arrives.
func awaitTerminal(t *testing.T, svc InferenceService, id string) models.RequestStatus {
	t.Helper()
	ch, cancel := svc.Subscribe(id)
	defer cancel()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case st, ok := <-ch:
			if !ok {
				t.Fatal("subscription closed before terminal status")
			}
			if st.IsTerminal() {
				return st
			}
		case <-deadline:
			t.Fatal("timed out waiting for terminal status")
		}
	}
}

func TestSubmitCompletesAsDone(t *testing.T) {
	preset := []byte(`{"preset_styles": "Lead", "settings": {}, "synth_version": "1.0"}`)
	svc, ledger, artifacts := newTestService(t, func(_ context.Context, wav []byte) ([]byte, error) {
		if !audio.IsWAV(wav) {
			t.Error("worker received non-WAV payload")
		}
		return preset, nil
	})

	res, err := svc.Submit(context.Background(), testWAV(), "vital")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if res.Status != models.StatusPending {
		t.Fatalf("submit status = %s, want PENDING", res.Status)
	}

	if st := awaitTerminal(t, svc, res.ID); st != models.StatusDone {
		t.Fatalf("terminal status = %s, want DONE", st)
	}

	rec, err := ledger.FindByID(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("ledger lookup failed: %v", err)
	}
	if rec.Status != models.StatusDone {
		t.Fatalf("ledger status = %s, want DONE", rec.Status)
	}
	if rec.ResultRef == nil {
		t.Fatal("ledger record missing result_ref")
	}
	if rec.Model != ModelName || rec.Synth != "vital" {
		t.Fatalf("record identity = (%s, %s)", rec.Model, rec.Synth)
	}
	if stored, _ := artifacts.GetPreset(context.Background(), *rec.ResultRef); !bytes.Equal(stored, preset) {
		t.Fatal("stored preset differs from worker output")
	}
	if linked, _ := artifacts.PresetRefForAudio(context.Background(), rec.AudioRef); linked != *rec.ResultRef {
		t.Fatal("audio artifact not linked to preset")
	}

	out, err := svc.GetResult(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}
	if !bytes.Equal(out, preset) {
		t.Fatal("GetResult returned wrong bytes")
	}
}

func TestSubmitStoresGzippedAudio(t *testing.T) {
	svc, ledger, artifacts := newTestService(t, func(_ context.Context, _ []byte) ([]byte, error) {
		return []byte("{}"), nil
	})

	wav := testWAV()
	res, err := svc.Submit(context.Background(), wav, "")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	awaitTerminal(t, svc, res.ID)

	rec, _ := ledger.FindByID(context.Background(), res.ID)
	if rec.Synth != DefaultSynth {
		t.Fatalf("synth defaulted to %s, want %s", rec.Synth, DefaultSynth)
	}
	stored, _ := artifacts.GetAudio(context.Background(), rec.AudioRef)
	if !audio.IsGzip(stored) {
		t.Fatal("stored audio is not gzip-compressed")
	}
	back, err := audio.Decompress(stored)
	if err != nil || !bytes.Equal(back, wav) {
		t.Fatal("stored audio does not round-trip to the submitted WAV")
	}
	if rec.AudioSizeUncompressed != len(wav) {
		t.Fatalf("uncompressed size = %d, want %d", rec.AudioSizeUncompressed, len(wav))
	}
}

func TestWorkerFailureSettlesAsError(t *testing.T) {
	svc, ledger, _ := newTestService(t, func(_ context.Context, _ []byte) ([]byte, error) {
		return nil, utils.E(utils.CodeUnavailable, "worker.Predict", "inference worker unreachable", nil)
	})

	res, err := svc.Submit(context.Background(), testWAV(), "vital")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if st := awaitTerminal(t, svc, res.ID); st != models.StatusError {
		t.Fatalf("terminal status = %s, want ERROR", st)
	}

	rec, _ := ledger.FindByID(context.Background(), res.ID)
	if rec.Status != models.StatusError {
		t.Fatalf("ledger status = %s, want ERROR", rec.Status)
	}
	if rec.Error == nil || *rec.Error == "" {
		t.Fatal("ledger record missing error detail")
	}

	_, err = svc.GetResult(context.Background(), res.ID)
	if !utils.IsCode(err, utils.CodeNotFound) {
		t.Fatalf("GetResult after ERROR: expected NOT_FOUND, got %v", err)
	}
}

func TestSubmitRejectsMalformedAudio(t *testing.T) {
	called := false
	svc, ledger, artifacts := newTestService(t, func(_ context.Context, _ []byte) ([]byte, error) {
		called = true
		return nil, nil
	})

	res, err := svc.Submit(context.Background(), []byte("not audio at all"), "vital")
	if !utils.IsCode(err, utils.CodeUnsupportedFormat) {
		t.Fatalf("expected UNSUPPORTED_FORMAT, got %v", err)
	}
	if res == nil || res.ID == "" || res.Status != models.StatusError {
		t.Fatalf("submit result = %+v, want id + ERROR", res)
	}

	// rejected input leaves no trace and never reaches the worker
	if _, err := ledger.FindByID(context.Background(), res.ID); !errors.Is(err, utils.ErrNotFound) {
		t.Fatal("rejected submission occupied a ledger slot")
	}
	artifacts.mu.Lock()
	n := len(artifacts.audio)
	artifacts.mu.Unlock()
	if n != 0 {
		t.Fatal("rejected submission stored an audio artifact")
	}
	time.Sleep(50 * time.Millisecond)
	if called {
		t.Fatal("worker called for rejected submission")
	}
	if _, err := svc.GetStatus(context.Background(), res.ID); !utils.IsCode(err, utils.CodeNotFound) {
		t.Fatal("rejected id should be NOT_FOUND afterwards")
	}
}

func TestGetResultNotReady(t *testing.T) {
	block := make(chan struct{})
	svc, _, _ := newTestService(t, func(ctx context.Context, _ []byte) ([]byte, error) {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return []byte("{}"), nil
	})
	defer close(block)

	res, err := svc.Submit(context.Background(), testWAV(), "vital")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	_, err = svc.GetResult(context.Background(), res.ID)
	if !utils.IsCode(err, utils.CodeNotReady) {
		t.Fatalf("expected NOT_READY while in flight, got %v", err)
	}
}

func TestGetResultUnknownID(t *testing.T) {
	svc, _, _ := newTestService(t, func(_ context.Context, _ []byte) ([]byte, error) {
		return []byte("{}"), nil
	})
	_, err := svc.GetResult(context.Background(), "does-not-exist")
	if !utils.IsCode(err, utils.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestConsumeResultEvictsThenFallsBackToStore(t *testing.T) {
	preset := []byte(`{"preset_styles": "", "settings": {}, "synth_version": "1.0"}`)
	svc, _, _ := newTestService(t, func(_ context.Context, _ []byte) ([]byte, error) {
		return preset, nil
	})

	res, err := svc.Submit(context.Background(), testWAV(), "vital")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	awaitTerminal(t, svc, res.ID)

	first, err := svc.ConsumeResult(context.Background(), res.ID)
	if err != nil || !bytes.Equal(first, preset) {
		t.Fatalf("first consume = (%q, %v)", first, err)
	}

	// memory copy is gone; the durable artifact still serves repeat reads
	second, err := svc.ConsumeResult(context.Background(), res.ID)
	if err != nil || !bytes.Equal(second, preset) {
		t.Fatalf("second consume = (%q, %v)", second, err)
	}
}

func TestLedgerOutageIsUnavailableNotNotFound(t *testing.T) {
	svc, ledger, _ := newTestService(t, func(_ context.Context, _ []byte) ([]byte, error) {
		return []byte("{}"), nil
	})
	ledger.mu.Lock()
	ledger.findErr = errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")
	ledger.mu.Unlock()

	// an unreachable ledger must not masquerade as an unknown id
	_, err := svc.GetStatus(context.Background(), "some-id")
	if !utils.IsCode(err, utils.CodeUnavailable) {
		t.Fatalf("GetStatus during outage: expected UNAVAILABLE, got %v", err)
	}
	_, err = svc.GetResult(context.Background(), "some-id")
	if !utils.IsCode(err, utils.CodeUnavailable) {
		t.Fatalf("GetResult during outage: expected UNAVAILABLE, got %v", err)
	}
}

func TestGetStatusFallsBackToLedger(t *testing.T) {
	svc, ledger, _ := newTestService(t, func(_ context.Context, _ []byte) ([]byte, error) {
		return []byte("{}"), nil
	})

	// record written by a previous process: unknown to the hub
	rec := &models.InferenceRequest{
		ID:        "restarted-req",
		Model:     ModelName,
		Synth:     "vital",
		Status:    models.StatusDone,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := ledger.Upsert(context.Background(), rec); err != nil {
		t.Fatalf("seed upsert failed: %v", err)
	}

	st, err := svc.GetStatus(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if st != models.StatusDone {
		t.Fatalf("status = %s, want DONE", st)
	}
}

func TestTerminalLedgerFailureStillAdvancesStatus(t *testing.T) {
	gate := make(chan struct{})
	svc, ledger, _ := newTestService(t, func(_ context.Context, _ []byte) ([]byte, error) {
		<-gate // hold the dispatch until the ledger is poisoned
		return []byte("{}"), nil
	})

	res, err := svc.Submit(context.Background(), testWAV(), "vital")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	ledger.mu.Lock()
	ledger.failNext = true
	ledger.mu.Unlock()
	close(gate)

	if st := awaitTerminal(t, svc, res.ID); st != models.StatusDone {
		t.Fatalf("terminal status = %s, want DONE despite ledger failure", st)
	}
	// in-memory status answers even though the terminal write was dropped
	st, err := svc.GetStatus(context.Background(), res.ID)
	if err != nil || st != models.StatusDone {
		t.Fatalf("GetStatus = (%s, %v), want DONE", st, err)
	}
}
