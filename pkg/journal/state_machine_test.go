package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/clyso/crr/pkg/dom"
	"github.com/clyso/crr/pkg/entity"
)

var _ = Describe("Pair state machine", func() {
	const dest = "wasabi"

	var (
		j     *Journal
		clock *testClock
		id    entity.EntryID
	)

	BeforeEach(func() {
		ctx := context.WithoutCancel(testCtx)
		clock = newTestClock()
		j = New(testRedisClient, Config{PollInterval: 10 * time.Millisecond}, WithClock(clock.Now))

		var err error
		id, err = j.Append(ctx, testEntry("obj", dest))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		ctx := context.WithoutCancel(testCtx)
		Expect(testRedisClient.FlushAll(ctx).Err()).NotTo(HaveOccurred())
	})

	stateOf := func() entity.State {
		p, err := j.Pair(context.WithoutCancel(testCtx), id, dest)
		Expect(err).NotTo(HaveOccurred())
		return p.State
	}

	It("starts as PENDING", func() {
		Expect(stateOf()).To(Equal(entity.StatePending))
	})

	DescribeTable("moves only along allowed transitions",
		func(path []entity.State, allowed bool) {
			ctx := context.WithoutCancel(testCtx)
			var err error
			for _, to := range path {
				err = j.UpdateState(ctx, id, dest, Transition{To: to, NewLeaseToken: "t", LeaseUntil: clock.Now().Add(time.Minute)})
				if err != nil {
					break
				}
			}
			if allowed {
				Expect(err).NotTo(HaveOccurred())
				Expect(stateOf()).To(Equal(path[len(path)-1]))
			} else {
				Expect(err).To(MatchError(dom.ErrInvalidTransition))
			}
		},
		Entry("lease", []entity.State{entity.StateInProgress}, true),
		Entry("complete", []entity.State{entity.StateInProgress, entity.StateCompleted}, true),
		Entry("retry", []entity.State{entity.StateInProgress, entity.StatePending}, true),
		Entry("fail", []entity.State{entity.StateInProgress, entity.StateFailed}, true),
		Entry("operator retry", []entity.State{entity.StateInProgress, entity.StateFailed, entity.StatePending}, true),
		Entry("complete without lease", []entity.State{entity.StateCompleted}, false),
		Entry("fail without lease", []entity.State{entity.StateFailed}, false),
		Entry("double lease", []entity.State{entity.StateInProgress, entity.StateInProgress}, false),
		Entry("reopen completed", []entity.State{entity.StateInProgress, entity.StateCompleted, entity.StatePending}, false),
		Entry("release completed", []entity.State{entity.StateInProgress, entity.StateCompleted, entity.StateFailed}, false),
	)

	It("keeps a single owner under concurrent leasing", func() {
		ctx := context.WithoutCancel(testCtx)
		const contenders = 10
		results := make(chan error, contenders)
		for i := 0; i < contenders; i++ {
			go func() {
				defer GinkgoRecover()
				_, err := j.Lease(ctx, id, dest, 0, time.Minute)
				results <- err
			}()
		}
		owners := 0
		for i := 0; i < contenders; i++ {
			err := <-results
			if err == nil {
				owners++
				continue
			}
			Expect(errors.Is(err, dom.ErrInvalidTransition)).To(BeTrue(), fmt.Sprint(err))
		}
		Expect(owners).To(Equal(1))
	})

	It("counts retries until failure", func() {
		ctx := context.WithoutCancel(testCtx)
		for i := 1; i <= 3; i++ {
			lease, err := j.Lease(ctx, id, dest, 0, time.Minute)
			Expect(err).NotTo(HaveOccurred())
			Expect(lease.Attempt).To(Equal(i - 1))
			attempts, err := j.Retry(ctx, lease, errors.New("503"), time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(attempts).To(Equal(i))
			clock.Add(time.Second)
		}
		lease, err := j.Lease(ctx, id, dest, 0, time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(j.Fail(ctx, lease, errors.New("503"))).To(Succeed())

		p, err := j.Pair(ctx, id, dest)
		Expect(err).NotTo(HaveOccurred())
		Expect(p.State).To(Equal(entity.StateFailed))
		Expect(p.Attempts).To(Equal(4))
		Expect(p.LastError).To(Equal("503"))
	})

	It("never reports COMPLETED before commit", func() {
		ctx := context.WithoutCancel(testCtx)
		lease, err := j.Lease(ctx, id, dest, 0, time.Minute)
		Expect(err).NotTo(HaveOccurred())

		st, err := j.Status(ctx, dom.Object{Bucket: "src", Name: "obj", Version: "v1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Status).To(Equal(entity.AggregateProcessing))
		Expect(st.Destinations[dest].State).To(Equal(entity.StateInProgress))

		Expect(j.Complete(ctx, lease, "")).To(Succeed())
		st, err = j.Status(ctx, dom.Object{Bucket: "src", Name: "obj", Version: "v1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Status).To(Equal(entity.AggregateCompleted))
	})
})
