// Package jobs_test tests the render job manager.
package jobs_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-render/internal/audio"
	"github.com/book-expert/voice-render/internal/core"
	"github.com/book-expert/voice-render/internal/jobs"
	"github.com/book-expert/voice-render/internal/jobstore"
	"github.com/book-expert/voice-render/internal/objectstore"
	"github.com/book-expert/voice-render/internal/params"
	"github.com/book-expert/voice-render/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errMockConvert = errors.New("mock engine exploded")
	errMockUpload  = errors.New("mock upload error")
	errMockHealth  = errors.New("mock engine offline")
	errMockStore   = errors.New("mock job store unavailable")
)

// mockEngine echoes its input unless told otherwise.
type mockEngine struct {
	shouldFail    bool
	ignoreContext bool
	delay         time.Duration
	release       chan struct{}
	healthErr     error

	calls   atomic.Int32
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (m *mockEngine) Convert(ctx context.Context, input audio.Asset, _ params.Set) (audio.Asset, error) {
	m.calls.Add(1)

	current := m.active.Add(1)
	defer m.active.Add(-1)

	for {
		seen := m.maxSeen.Load()
		if current <= seen || m.maxSeen.CompareAndSwap(seen, current) {
			break
		}
	}

	if m.release != nil {
		select {
		case <-m.release:
		case <-ctx.Done():
			return audio.Asset{}, ctx.Err()
		}
	}

	if m.delay > 0 {
		if m.ignoreContext {
			time.Sleep(m.delay)
		} else {
			select {
			case <-time.After(m.delay):
			case <-ctx.Done():
				return audio.Asset{}, ctx.Err()
			}
		}
	}

	if m.shouldFail {
		return audio.Asset{}, errMockConvert
	}

	return input, nil
}

func (m *mockEngine) Health(context.Context) error {
	return m.healthErr
}

// mockObjectStore wraps the memory store with an upload failure switch.
type mockObjectStore struct {
	*objectstore.MemoryStore

	uploadShouldFail bool
}

func (m *mockObjectStore) Upload(ctx context.Context, key string, data []byte) error {
	if m.uploadShouldFail {
		return errMockUpload
	}

	return m.MemoryStore.Upload(ctx, key, data)
}

// flakyJobStore fails a set number of reads and writes before delegating to
// the memory store.
type flakyJobStore struct {
	*jobstore.MemoryStore

	getFailures      atomic.Int32
	startFailures    atomic.Int32
	terminalFailures atomic.Int32
	putShouldFail    bool
}

func (f *flakyJobStore) Get(ctx context.Context, id string) (core.RenderJob, uint64, error) {
	if f.getFailures.Add(-1) >= 0 {
		return core.RenderJob{}, 0, errMockStore
	}

	return f.MemoryStore.Get(ctx, id)
}

func (f *flakyJobStore) Put(ctx context.Context, job core.RenderJob) (uint64, error) {
	if f.putShouldFail {
		return 0, errMockStore
	}

	return f.MemoryStore.Put(ctx, job)
}

func (f *flakyJobStore) CompareAndSet(ctx context.Context, job core.RenderJob, expected uint64) (uint64, error) {
	failures := &f.startFailures
	if job.Status.IsTerminal() {
		failures = &f.terminalFailures
	}

	if failures.Add(-1) >= 0 {
		return 0, errMockStore
	}

	return f.MemoryStore.CompareAndSet(ctx, job, expected)
}

type fixture struct {
	manager *jobs.Manager
	store   *jobstore.MemoryStore
	assets  *mockObjectStore
	engine  *mockEngine
}

func newFixture(t *testing.T, engine *mockEngine, configure func(*jobs.Options)) *fixture {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "jobs-test.log")
	require.NoError(t, err)

	store := jobstore.NewMemoryStore()
	assets := &mockObjectStore{MemoryStore: objectstore.NewMemoryStore(), uploadShouldFail: false}

	opts := jobs.Options{
		Store:             store,
		Assets:            assets,
		Engine:            engine,
		Watermark:         policy.NewWatermarkPolicy(0),
		Screen:            policy.NewDenylistScreen([]string{"Famous Singer"}),
		Workers:           2,
		ConversionTimeout: 5 * time.Second,
		Log:               testLogger,
		Now:               nil,
		NewID:             nil,
	}
	if configure != nil {
		configure(&opts)
	}

	manager, err := jobs.NewManager(opts)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_ = manager.Shutdown(ctx)
		_ = testLogger.Close()
	})

	return &fixture{manager: manager, store: store, assets: assets, engine: engine}
}

func testWAV(t *testing.T) []byte {
	t.Helper()

	buffer := audio.NewBuffer(16000, 1, 8000)
	for i := range buffer.Samples {
		buffer.Samples[i] = 0.4 * math.Sin(2*math.Pi*220*float64(i)/16000)
	}

	data, err := audio.EncodeWAV(buffer, audio.BitDepth16)
	require.NoError(t, err)

	return data
}

func validRequest(t *testing.T, tier string) jobs.SubmitRequest {
	t.Helper()

	return jobs.SubmitRequest{
		Audio:            testWAV(t),
		MIMEType:         "audio/wav",
		Label:            "take-1.wav",
		OwnerID:          "user-7",
		TargetIdentity:   "",
		Parameters:       params.Raw{},
		ConsentConfirmed: true,
		Tier:             tier,
	}
}

func waitTerminal(t *testing.T, manager *jobs.Manager, id string) core.RenderJob {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	job, err := manager.Wait(ctx, id)
	require.NoError(t, err)

	return job
}

func TestSubmit_FreeTierCompletesWatermarked(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &mockEngine{}, nil)
	ctx := context.Background()

	queued, err := fx.manager.Submit(ctx, validRequest(t, "free"))
	require.NoError(t, err)
	assert.Equal(t, core.StatusQueued, queued.Status)
	assert.True(t, queued.ConsentConfirmed)
	assert.Equal(t, "take-1.wav", queued.Label)
	assert.Equal(t, params.Defaults(), queued.Parameters)
	assert.False(t, queued.CreatedAt.IsZero())

	job := waitTerminal(t, fx.manager, queued.ID)

	require.Equal(t, core.StatusCompleted, job.Status)
	require.NotNil(t, job.OutputAsset)
	assert.Empty(t, job.ErrorReason)
	assert.False(t, job.CompletedAt.IsZero())
	assert.False(t, job.StartedAt.Before(job.CreatedAt))
	assert.True(t, job.OutputAsset.Watermarked)
	assert.Equal(t, jobs.OutputKey(job.ID), job.OutputAsset.Key)

	output, err := fx.manager.Result(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, policy.IsWatermarked(output))
	assert.Equal(t, 500*time.Millisecond, output.Duration())
}

func TestSubmit_ProTierIsNotWatermarked(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &mockEngine{}, nil)
	request := validRequest(t, "pro")

	queued, err := fx.manager.Submit(context.Background(), request)
	require.NoError(t, err)

	job := waitTerminal(t, fx.manager, queued.ID)
	require.Equal(t, core.StatusCompleted, job.Status)
	assert.False(t, job.OutputAsset.Watermarked)

	output, err := fx.manager.Result(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, request.Audio, output.Bytes())
}

func TestSubmit_ConsentDeniedCreatesNothing(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &mockEngine{}, func(opts *jobs.Options) {
		opts.NewID = func() string { return "job-1" }
	})
	ctx := context.Background()

	request := validRequest(t, "free")
	request.ConsentConfirmed = false

	_, err := fx.manager.Submit(ctx, request)
	require.ErrorIs(t, err, core.ErrConsentDenied)

	stored, err := fx.store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.Zero(t, fx.assets.Len())
	assert.Zero(t, fx.engine.calls.Load())

	_, err = fx.manager.Status(ctx, "job-1")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestSubmit_EngineFailureFailsJob(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &mockEngine{shouldFail: true}, nil)
	ctx := context.Background()

	queued, err := fx.manager.Submit(ctx, validRequest(t, "free"))
	require.NoError(t, err)

	job := waitTerminal(t, fx.manager, queued.ID)

	require.Equal(t, core.StatusFailed, job.Status)
	assert.Contains(t, job.ErrorReason, errMockConvert.Error())
	assert.Contains(t, job.ErrorReason, core.ErrConversionFailed.Error())
	assert.Nil(t, job.OutputAsset)
	assert.False(t, job.CompletedAt.IsZero())
	assert.Equal(t, int32(1), fx.engine.calls.Load(), "failed jobs are not retried")

	_, err = fx.manager.Result(ctx, job.ID)
	require.ErrorIs(t, err, core.ErrNotCompleted)
}

func TestSubmit_TimeoutFailsJob(t *testing.T) {
	t.Parallel()

	for _, ignore := range []bool{false, true} {
		t.Run(fmt.Sprintf("ignoreContext=%t", ignore), func(t *testing.T) {
			t.Parallel()

			engine := &mockEngine{delay: 2 * time.Second, ignoreContext: ignore}
			fx := newFixture(t, engine, func(opts *jobs.Options) {
				opts.ConversionTimeout = 50 * time.Millisecond
			})

			queued, err := fx.manager.Submit(context.Background(), validRequest(t, "free"))
			require.NoError(t, err)

			start := time.Now()
			job := waitTerminal(t, fx.manager, queued.ID)

			require.Equal(t, core.StatusFailed, job.Status)
			assert.Contains(t, job.ErrorReason, "timed out")
			assert.Less(t, time.Since(start), 1500*time.Millisecond)
		})
	}
}

func TestSubmit_BlockedIdentityRejected(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &mockEngine{}, nil)
	ctx := context.Background()

	request := validRequest(t, "free")
	request.TargetIdentity = "  famous singer "

	_, err := fx.manager.Submit(ctx, request)
	require.ErrorIs(t, err, core.ErrBlockedContent)
	assert.NotErrorIs(t, err, core.ErrConversionFailed)

	stored, err := fx.store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.Zero(t, fx.engine.calls.Load())
}

func TestSubmit_ValidationErrors(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &mockEngine{}, nil)
	ctx := context.Background()

	garbage := validRequest(t, "free")
	garbage.Audio = []byte("not audio at all")
	_, err := fx.manager.Submit(ctx, garbage)
	require.ErrorIs(t, err, core.ErrValidation)

	empty := validRequest(t, "free")
	empty.Audio = nil
	_, err = fx.manager.Submit(ctx, empty)
	require.ErrorIs(t, err, core.ErrValidation)

	badTier := validRequest(t, "platinum")
	_, err = fx.manager.Submit(ctx, badTier)
	require.ErrorIs(t, err, core.ErrValidation)

	silent, encodeErr := audio.EncodeWAV(audio.NewBuffer(16000, 1, 0), audio.BitDepth16)
	require.NoError(t, encodeErr)

	noFrames := validRequest(t, "free")
	noFrames.Audio = silent
	_, err = fx.manager.Submit(ctx, noFrames)
	require.ErrorIs(t, err, core.ErrValidation)

	stored, err := fx.store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestSubmit_UploadFailureCreatesNoJob(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &mockEngine{}, nil)
	fx.assets.uploadShouldFail = true

	_, err := fx.manager.Submit(context.Background(), validRequest(t, "free"))
	require.ErrorIs(t, err, errMockUpload)

	stored, err := fx.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestSubmit_ParametersAreNormalizedSnapshot(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &mockEngine{}, nil)

	request := validRequest(t, "")
	request.Parameters = params.Raw{Speed: params.Float(2.5), Pitch: params.Float(-40)}

	queued, err := fx.manager.Submit(context.Background(), request)
	require.NoError(t, err)

	assert.Equal(t, core.TierFree, queued.Tier)
	assert.InDelta(t, params.SpeedMax, queued.Parameters.Speed, 1e-12)
	assert.InDelta(t, params.PitchMin, queued.Parameters.Pitch, 1e-12)

	// Later edits to the caller's input do not reach the stored job.
	*request.Parameters.Speed = 0.7

	job := waitTerminal(t, fx.manager, queued.ID)
	assert.InDelta(t, params.SpeedMax, job.Parameters.Speed, 1e-12)
}

func TestStatus_DoesNotBlockOnConversion(t *testing.T) {
	t.Parallel()

	engine := &mockEngine{release: make(chan struct{})}
	fx := newFixture(t, engine, nil)
	ctx := context.Background()

	queued, err := fx.manager.Submit(ctx, validRequest(t, "free"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, statusErr := fx.manager.Status(ctx, queued.ID)

		return statusErr == nil && job.Status == core.StatusProcessing
	}, 5*time.Second, 5*time.Millisecond)

	job, err := fx.manager.Status(ctx, queued.ID)
	require.NoError(t, err)
	assert.Nil(t, job.OutputAsset)
	assert.Empty(t, job.ErrorReason)
	assert.True(t, job.CompletedAt.IsZero())

	close(engine.release)

	job = waitTerminal(t, fx.manager, queued.ID)
	assert.Equal(t, core.StatusCompleted, job.Status)
}

func TestConcurrentJobs_RespectWorkerLimitAndStayConsistent(t *testing.T) {
	t.Parallel()

	const submissions = 12

	engine := &mockEngine{delay: 20 * time.Millisecond}
	fx := newFixture(t, engine, func(opts *jobs.Options) {
		opts.Workers = 3
	})
	ctx := context.Background()

	ids := make([]string, submissions)

	var submitGroup sync.WaitGroup

	for i := range submissions {
		submitGroup.Add(1)

		go func() {
			defer submitGroup.Done()

			request := validRequest(t, "free")
			if i%2 == 0 {
				request.Tier = "pro"
			}

			job, err := fx.manager.Submit(ctx, request)
			assert.NoError(t, err)

			ids[i] = job.ID
		}()
	}

	submitGroup.Wait()

	stop := make(chan struct{})

	var readers sync.WaitGroup

	for range 4 {
		readers.Add(1)

		go func() {
			defer readers.Done()

			for {
				select {
				case <-stop:
					return
				default:
				}

				for _, id := range ids {
					job, err := fx.manager.Status(ctx, id)
					if assert.NoError(t, err) {
						assert.NoError(t, job.Validate(), "torn snapshot for %s", id)
					}
				}
			}
		}()
	}

	for _, id := range ids {
		job := waitTerminal(t, fx.manager, id)
		assert.Equal(t, core.StatusCompleted, job.Status)
	}

	close(stop)
	readers.Wait()

	assert.Equal(t, int32(submissions), engine.calls.Load())
	assert.LessOrEqual(t, engine.maxSeen.Load(), int32(3))
}

func TestRecover_FailsUnfinishedJobs(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &mockEngine{}, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	queued := core.RenderJob{
		ID: "queued-1", Label: "a.wav", Parameters: params.Defaults(), ConsentConfirmed: true,
		Tier: core.TierFree, Status: core.StatusQueued, CreatedAt: now,
	}
	processing, err := queued.Start(now)
	require.NoError(t, err)
	processing.ID = "processing-1"

	completed, err := processing.Complete(core.AssetRef{Key: "out", MIMEType: audio.MIMEWAV}, now)
	require.NoError(t, err)
	completed.ID = "completed-1"

	for _, job := range []core.RenderJob{queued, processing, completed} {
		_, putErr := fx.store.Put(ctx, job)
		require.NoError(t, putErr)
	}

	recovered, err := fx.manager.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, recovered)

	for _, id := range []string{"queued-1", "processing-1"} {
		job, statusErr := fx.manager.Status(ctx, id)
		require.NoError(t, statusErr)
		assert.Equal(t, core.StatusFailed, job.Status)
		assert.Equal(t, jobs.RecoveryReason, job.ErrorReason)
		assert.False(t, job.CompletedAt.IsZero())
	}

	job, err := fx.manager.Status(ctx, "completed-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, job.Status)

	recovered, err = fx.manager.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, recovered)
}

func TestShutdown_RejectsNewSubmissions(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &mockEngine{delay: 30 * time.Millisecond}, nil)
	ctx := context.Background()

	queued, err := fx.manager.Submit(ctx, validRequest(t, "free"))
	require.NoError(t, err)

	require.NoError(t, fx.manager.Shutdown(ctx))

	job, err := fx.manager.Status(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, job.Status, "shutdown waits for scheduled jobs")

	_, err = fx.manager.Submit(ctx, validRequest(t, "free"))
	require.ErrorIs(t, err, jobs.ErrManagerClosed)
}

func TestWait_UnknownJob(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &mockEngine{}, nil)

	_, err := fx.manager.Wait(context.Background(), "missing")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestHealth_ReportsEngine(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &mockEngine{healthErr: errMockHealth}, nil)
	require.ErrorIs(t, fx.manager.Health(context.Background()), errMockHealth)

	healthy := newFixture(t, &mockEngine{}, nil)
	require.NoError(t, healthy.manager.Health(context.Background()))
}

func TestNewManager_RequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := jobs.NewManager(jobs.Options{})
	require.ErrorIs(t, err, jobs.ErrMissingDependency)
}

func TestNewManager_RequiresScreen(t *testing.T) {
	t.Parallel()

	testLogger, err := logger.New(t.TempDir(), "jobs-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = testLogger.Close() })

	_, err = jobs.NewManager(jobs.Options{
		Store:             jobstore.NewMemoryStore(),
		Assets:            objectstore.NewMemoryStore(),
		Engine:            &mockEngine{},
		Watermark:         policy.NewWatermarkPolicy(0),
		Screen:            nil,
		Workers:           1,
		ConversionTimeout: time.Second,
		StoreRetry:        0,
		InstanceID:        "",
		Log:               testLogger,
		Now:               nil,
		NewID:             nil,
	})
	require.ErrorIs(t, err, jobs.ErrMissingDependency)
	assert.Contains(t, err.Error(), "content screen")
}

func TestSubmit_StagedInputCompletes(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &mockEngine{}, nil)
	ctx := context.Background()
	key := jobs.UploadKey("upload-1")

	request := validRequest(t, "pro")
	require.NoError(t, fx.assets.Upload(ctx, key, request.Audio))

	staged := request
	staged.Audio = nil
	staged.InputKey = key

	queued, err := fx.manager.Submit(ctx, staged)
	require.NoError(t, err)
	assert.Equal(t, key, queued.InputAsset.Key)
	assert.Equal(t, 500*time.Millisecond, queued.InputAsset.Duration)
	assert.False(t, fx.assets.Has(jobs.InputKey(queued.ID)), "staged input is not copied")

	job := waitTerminal(t, fx.manager, queued.ID)
	require.Equal(t, core.StatusCompleted, job.Status)

	output, err := fx.manager.Result(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, request.Audio, output.Bytes())
}

func TestSubmit_StagedInputIsValidated(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &mockEngine{}, nil)
	ctx := context.Background()

	garbageKey := jobs.UploadKey("garbage")
	require.NoError(t, fx.assets.Upload(ctx, garbageKey, []byte("not audio at all")))

	outsideKey := jobs.OutputKey("someone-else")
	require.NoError(t, fx.assets.Upload(ctx, outsideKey, testWAV(t)))

	both := validRequest(t, "free")
	both.InputKey = jobs.UploadKey("both")

	cases := []struct {
		name     string
		inputKey string
		audio    []byte
	}{
		{"undecodable upload", garbageKey, nil},
		{"missing upload", jobs.UploadKey("missing"), nil},
		{"key outside uploads", outsideKey, nil},
		{"nested upload key", jobs.UploadKey("a/b"), nil},
		{"inline audio and key", both.InputKey, both.Audio},
	}

	for _, tc := range cases {
		request := validRequest(t, "free")
		request.Audio = tc.audio
		request.InputKey = tc.inputKey

		_, err := fx.manager.Submit(ctx, request)
		require.ErrorIs(t, err, core.ErrValidation, tc.name)
	}

	stored, err := fx.store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.Zero(t, fx.engine.calls.Load())
}

func TestIsUploadKey(t *testing.T) {
	t.Parallel()

	assert.True(t, jobs.IsUploadKey(jobs.UploadKey("abc")))
	assert.False(t, jobs.IsUploadKey(jobs.UploadPrefix))
	assert.False(t, jobs.IsUploadKey("uploads/../jobs/x/output.wav"))
	assert.False(t, jobs.IsUploadKey(jobs.InputKey("abc")))
}

func TestSubmit_RecordFailureDeletesInput(t *testing.T) {
	t.Parallel()

	store := &flakyJobStore{MemoryStore: jobstore.NewMemoryStore(), putShouldFail: true}
	fx := newFixture(t, &mockEngine{}, func(opts *jobs.Options) {
		opts.Store = store
	})
	ctx := context.Background()

	_, err := fx.manager.Submit(ctx, validRequest(t, "free"))
	require.ErrorIs(t, err, errMockStore)
	assert.Zero(t, fx.assets.Len(), "inline input is removed")

	key := jobs.UploadKey("staged")
	request := validRequest(t, "free")
	require.NoError(t, fx.assets.Upload(ctx, key, request.Audio))

	request.Audio = nil
	request.InputKey = key

	_, err = fx.manager.Submit(ctx, request)
	require.ErrorIs(t, err, errMockStore)
	assert.False(t, fx.assets.Has(key), "staged input is removed")
	assert.Zero(t, fx.engine.calls.Load())
}

func TestProcess_RetriesStoreFailuresUntilRecorded(t *testing.T) {
	t.Parallel()

	store := &flakyJobStore{MemoryStore: jobstore.NewMemoryStore()}
	store.getFailures.Store(3)
	store.startFailures.Store(8)
	store.terminalFailures.Store(8)

	fx := newFixture(t, &mockEngine{}, func(opts *jobs.Options) {
		opts.Store = store
		opts.StoreRetry = time.Millisecond
	})

	queued, err := fx.manager.Submit(context.Background(), validRequest(t, "free"))
	require.NoError(t, err)

	job := waitTerminal(t, fx.manager, queued.ID)

	assert.Equal(t, core.StatusCompleted, job.Status)
	require.NotNil(t, job.OutputAsset)
	assert.Equal(t, int32(1), fx.engine.calls.Load(), "store retries do not re-run the conversion")
	assert.Negative(t, store.startFailures.Load())
	assert.Negative(t, store.terminalFailures.Load())
}

func TestProcess_StopsWhenJobLeftQueue(t *testing.T) {
	t.Parallel()

	engine := &mockEngine{release: make(chan struct{})}
	fx := newFixture(t, engine, func(opts *jobs.Options) {
		opts.Workers = 1
		opts.StoreRetry = time.Millisecond
	})
	ctx := context.Background()

	first, err := fx.manager.Submit(ctx, validRequest(t, "free"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, statusErr := fx.manager.Status(ctx, first.ID)

		return statusErr == nil && job.Status == core.StatusProcessing
	}, 5*time.Second, 5*time.Millisecond)

	second, err := fx.manager.Submit(ctx, validRequest(t, "free"))
	require.NoError(t, err)

	// The second job is finished by another writer while it waits for a worker.
	current, revision, err := fx.store.Get(ctx, second.ID)
	require.NoError(t, err)

	started, err := current.Start(time.Now().UTC())
	require.NoError(t, err)

	failed, err := started.Fail("cancelled elsewhere", time.Now().UTC())
	require.NoError(t, err)

	_, err = fx.store.CompareAndSet(ctx, failed, revision)
	require.NoError(t, err)

	close(engine.release)

	assert.Equal(t, core.StatusCompleted, waitTerminal(t, fx.manager, first.ID).Status)

	job := waitTerminal(t, fx.manager, second.ID)
	assert.Equal(t, "cancelled elsewhere", job.ErrorReason)
	assert.Equal(t, int32(1), engine.calls.Load())
}

func TestRecover_OnlyFailsOwnJobs(t *testing.T) {
	t.Parallel()

	shared := jobstore.NewMemoryStore()
	first := newFixture(t, &mockEngine{}, func(opts *jobs.Options) {
		opts.Store = shared
		opts.InstanceID = "render-a"
	})
	second := newFixture(t, &mockEngine{release: make(chan struct{})}, func(opts *jobs.Options) {
		opts.Store = shared
		opts.InstanceID = "render-b"
	})
	ctx := context.Background()

	assert.Equal(t, "render-a", first.manager.Instance())

	running, err := second.manager.Submit(ctx, validRequest(t, "free"))
	require.NoError(t, err)
	assert.Equal(t, "render-b", running.Worker)

	require.Eventually(t, func() bool {
		job, statusErr := second.manager.Status(ctx, running.ID)

		return statusErr == nil && job.Status == core.StatusProcessing
	}, 5*time.Second, 5*time.Millisecond)

	orphan := core.RenderJob{
		ID: "orphan-a", Label: "a.wav", Worker: "render-a", Parameters: params.Defaults(),
		ConsentConfirmed: true, Tier: core.TierFree, Status: core.StatusQueued, CreatedAt: time.Now().UTC(),
	}
	_, err = shared.Put(ctx, orphan)
	require.NoError(t, err)

	recovered, err := first.manager.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	job, err := first.manager.Status(ctx, "orphan-a")
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, job.Status)

	job, err = first.manager.Status(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusProcessing, job.Status, "a peer's running job is left alone")

	close(second.engine.release)

	job = waitTerminal(t, second.manager, running.ID)
	assert.Equal(t, core.StatusCompleted, job.Status)
}
