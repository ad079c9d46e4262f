package poller_test

import (
	"context"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"tocanan.ai/geo/internal/model"
	"tocanan.ai/geo/internal/pipeline"
	"tocanan.ai/geo/internal/poller"
)

func fastPolicy() poller.Policy {
	return poller.Policy{
		BaseInterval:         time.Millisecond,
		MaxAttempts:          300,
		MaxConsecutiveErrors: 3,
		BackoffMultiplier:    1.3,
		BackoffStep:          15,
		MaxInterval:          5 * time.Millisecond,
		TransientDelay:       time.Millisecond,
		ExpectedDuration:     time.Minute,
	}
}

func pendingJob(id string) *model.Job {
	return &model.Job{ID: id, Status: model.JobStatusProcessing}
}

func completedJob(id string) *model.Job {
	return &model.Job{ID: id, Status: model.JobStatusCompleted, Result: &model.GenerationResult{JobID: id, Content: "done"}}
}

var _ = Describe("Poller", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("Start", func() {
		It("resolves when a terminal status is observed", func() {
			var calls atomic.Int32
			p := poller.New("job_1", func(_ context.Context) (*model.Job, error) {
				if calls.Add(1) < 3 {
					return pendingJob("job_1"), nil
				}
				return completedJob("job_1"), nil
			}, fastPolicy())

			var outcome poller.Outcome
			Eventually(p.Start(ctx)).Should(Receive(&outcome))
			Expect(outcome.Err).NotTo(HaveOccurred())
			Expect(outcome.Job.Status).To(Equal(model.JobStatusCompleted))
			Expect(p.State()).To(Equal(poller.StateResolved))
		})

		It("surfaces a failed job as a resolved outcome, not an error", func() {
			p := poller.New("job_1", func(_ context.Context) (*model.Job, error) {
				return &model.Job{
					ID:     "job_1",
					Status: model.JobStatusFailed,
					Error:  &model.JobError{Kind: "insufficient_evidence", Message: "not enough"},
				}, nil
			}, fastPolicy())

			var outcome poller.Outcome
			Eventually(p.Start(ctx)).Should(Receive(&outcome))
			Expect(outcome.Err).NotTo(HaveOccurred())
			Expect(outcome.Job.Status).To(Equal(model.JobStatusFailed))
			Expect(outcome.Job.Error.Kind).To(Equal("insufficient_evidence"))
		})

		It("runs exactly one poll loop when started twice in quick succession", func() {
			var inFlight atomic.Int32
			var maxInFlight atomic.Int32
			var calls atomic.Int32
			p := poller.New("job_1", func(_ context.Context) (*model.Job, error) {
				n := inFlight.Add(1)
				if n > maxInFlight.Load() {
					maxInFlight.Store(n)
				}
				time.Sleep(2 * time.Millisecond)
				inFlight.Add(-1)
				if calls.Add(1) >= 5 {
					return completedJob("job_1"), nil
				}
				return pendingJob("job_1"), nil
			}, fastPolicy())

			first := p.Start(ctx)
			second := p.Start(ctx)
			Expect(second).To(BeIdenticalTo(first))

			var outcome poller.Outcome
			Eventually(first).Should(Receive(&outcome))
			Expect(outcome.Err).NotTo(HaveOccurred())
			Expect(maxInFlight.Load()).To(Equal(int32(1)))
		})
	})

	Describe("transient error tolerance", func() {
		transientErr := pipeline.NewError(pipeline.KindTransient, "connection refused", nil)

		It("absorbs failures below the ceiling and only counts attempts on success", func() {
			var calls atomic.Int32
			p := poller.New("job_1", func(_ context.Context) (*model.Job, error) {
				switch calls.Add(1) {
				case 1, 2:
					return nil, transientErr
				case 3:
					return pendingJob("job_1"), nil
				default:
					return completedJob("job_1"), nil
				}
			}, fastPolicy())

			var outcome poller.Outcome
			Eventually(p.Start(ctx)).Should(Receive(&outcome))
			Expect(outcome.Err).NotTo(HaveOccurred())
			// Two transient failures did not consume attempt budget.
			Expect(p.Attempts()).To(Equal(1))
		})

		It("gives up after the consecutive-error ceiling", func() {
			p := poller.New("job_1", func(_ context.Context) (*model.Job, error) {
				return nil, transientErr
			}, fastPolicy())

			var outcome poller.Outcome
			Eventually(p.Start(ctx)).Should(Receive(&outcome))
			Expect(outcome.Err).To(HaveOccurred())
			Expect(outcome.Err.Error()).To(ContainSubstring("3 consecutive errors"))
			Expect(p.State()).To(Equal(poller.StateResolved))
		})

		It("resolves immediately on a non-transient error", func() {
			var calls atomic.Int32
			p := poller.New("job_1", func(_ context.Context) (*model.Job, error) {
				calls.Add(1)
				return nil, context.Canceled
			}, fastPolicy())

			var outcome poller.Outcome
			Eventually(p.Start(ctx)).Should(Receive(&outcome))
			Expect(outcome.Err).To(MatchError(context.Canceled))
			Expect(calls.Load()).To(Equal(int32(1)))
		})
	})

	Describe("polling timeout", func() {
		It("resolves with a polling timeout after exactly maxAttempts non-terminal polls", func() {
			policy := fastPolicy()
			policy.MaxAttempts = 5

			var calls atomic.Int32
			p := poller.New("job_1", func(_ context.Context) (*model.Job, error) {
				calls.Add(1)
				return pendingJob("job_1"), nil
			}, policy)

			var outcome poller.Outcome
			Eventually(p.Start(ctx)).Should(Receive(&outcome))
			Expect(outcome.Err).To(HaveOccurred())
			Expect(pipeline.KindOf(outcome.Err)).To(Equal(pipeline.KindPollingTimeout))
			Expect(calls.Load()).To(Equal(int32(5)))
		})
	})

	Describe("Stop", func() {
		It("prevents any scheduled poll from executing", func() {
			policy := fastPolicy()
			policy.BaseInterval = time.Hour
			policy.MaxInterval = time.Hour

			var calls atomic.Int32
			p := poller.New("job_1", func(_ context.Context) (*model.Job, error) {
				calls.Add(1)
				return pendingJob("job_1"), nil
			}, policy)

			p.Start(ctx)
			Eventually(func() int32 { return calls.Load() }).Should(Equal(int32(1)))

			p.Stop()
			Expect(p.State()).To(Equal(poller.StateStopped))
			Consistently(func() int32 { return calls.Load() }, 50*time.Millisecond).Should(Equal(int32(1)))
		})

		It("is safe to call multiple times and after resolution", func() {
			p := poller.New("job_1", func(_ context.Context) (*model.Job, error) {
				return completedJob("job_1"), nil
			}, fastPolicy())

			Eventually(p.Start(ctx)).Should(Receive())
			p.Stop()
			p.Stop()
			Expect(p.State()).To(Equal(poller.StateResolved))
		})

		It("issues no status query when started with a cancelled context", func() {
			var calls atomic.Int32
			p := poller.New("job_1", func(_ context.Context) (*model.Job, error) {
				calls.Add(1)
				return pendingJob("job_1"), nil
			}, fastPolicy())

			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			var outcome poller.Outcome
			Eventually(p.Start(cancelled)).Should(Receive(&outcome))
			Expect(outcome.Err).To(MatchError(context.Canceled))
			Expect(calls.Load()).To(BeZero())
		})

		It("is a no-op before Start", func() {
			p := poller.New("job_1", func(_ context.Context) (*model.Job, error) {
				return pendingJob("job_1"), nil
			}, fastPolicy())

			p.Stop()
			Expect(p.State()).To(Equal(poller.StateIdle))
		})
	})

	Describe("Progress", func() {
		It("stays below 100 until resolution", func() {
			policy := fastPolicy()
			policy.ExpectedDuration = time.Nanosecond

			block := make(chan struct{})
			p := poller.New("job_1", func(_ context.Context) (*model.Job, error) {
				<-block
				return completedJob("job_1"), nil
			}, policy)

			outcomes := p.Start(ctx)
			Expect(p.Progress()).To(BeNumerically("<", 100))

			close(block)
			Eventually(outcomes).Should(Receive())
			Expect(p.Progress()).To(Equal(100.0))
		})
	})
})
