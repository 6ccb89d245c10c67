package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/looplab/fsm"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/asset-scanner/internal/camera"
	"github.com/zombor/asset-scanner/internal/decode"
	"github.com/zombor/asset-scanner/internal/serial"
)

func TestSession(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Session Suite")
}

var _ = Describe("Session", func() {
	var (
		ctx    context.Context
		s      *Session
		opened time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		opened = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
		s = New("session-1", ContextPrimary, camera.FacingEnvironment, opened)
	})

	It("should start idle", func() {
		Expect(s.State()).To(Equal(StateIdle))
		Expect(s.Active()).To(BeFalse())
		Expect(s.Paused()).To(BeFalse())
	})

	Describe("lifecycle", func() {
		It("should walk idle, starting, scanning, match_pending and back", func() {
			Expect(s.Fire(ctx, EventStart)).To(Succeed())
			Expect(s.State()).To(Equal(StateStarting))
			Expect(s.Active()).To(BeFalse())

			Expect(s.Fire(ctx, EventReady)).To(Succeed())
			Expect(s.State()).To(Equal(StateScanning))
			Expect(s.Active()).To(BeTrue())
			Expect(s.Paused()).To(BeFalse())

			Expect(s.Fire(ctx, EventMatch)).To(Succeed())
			Expect(s.State()).To(Equal(StateMatchPending))
			Expect(s.Active()).To(BeTrue())
			Expect(s.Paused()).To(BeTrue())

			Expect(s.Fire(ctx, EventResume)).To(Succeed())
			Expect(s.State()).To(Equal(StateScanning))
		})

		It("should return to idle when startup fails", func() {
			Expect(s.Fire(ctx, EventStart)).To(Succeed())
			Expect(s.Fire(ctx, EventFail)).To(Succeed())
			Expect(s.State()).To(Equal(StateIdle))
		})

		DescribeTable("stop from every live state",
			func(events []string) {
				for _, e := range events {
					Expect(s.Fire(ctx, e)).To(Succeed())
				}
				Expect(s.Fire(ctx, EventStop)).To(Succeed())
				Expect(s.State()).To(Equal(StateIdle))
			},
			Entry("starting", []string{EventStart}),
			Entry("scanning", []string{EventStart, EventReady}),
			Entry("match_pending", []string{EventStart, EventReady, EventMatch}),
		)

		When("an event is not allowed", func() {
			It("should reject a match while idle", func() {
				err := s.Fire(ctx, EventMatch)
				Expect(err).To(HaveOccurred())
				var invalid fsm.InvalidEventError
				Expect(errors.As(err, &invalid)).To(BeTrue())
				Expect(s.State()).To(Equal(StateIdle))
			})

			It("should reject a second match while pending", func() {
				Expect(s.Fire(ctx, EventStart)).To(Succeed())
				Expect(s.Fire(ctx, EventReady)).To(Succeed())
				Expect(s.Fire(ctx, EventMatch)).To(Succeed())
				Expect(s.Can(EventMatch)).To(BeFalse())
				Expect(s.Fire(ctx, EventMatch)).NotTo(Succeed())
				Expect(s.State()).To(Equal(StateMatchPending))
			})

			It("should reject stop while idle", func() {
				Expect(s.Can(EventStop)).To(BeFalse())
			})
		})
	})

	Describe("ignored codes", func() {
		It("should report codes once ignored", func() {
			Expect(s.IsIgnored("AB12CDE")).To(BeFalse())
			s.Ignore("AB12CDE")
			Expect(s.IsIgnored("XYZ", "AB12CDE")).To(BeTrue())
			Expect(s.IsIgnored("XYZ")).To(BeFalse())
		})

		It("should skip empty codes", func() {
			s.Ignore("")
			Expect(s.IsIgnored("")).To(BeFalse())
			Expect(s.Snapshot().IgnoredCount).To(Equal(0))
		})
	})

	Describe("pending results", func() {
		It("should drain in arrival order and empty the queue", func() {
			s.Enqueue(decode.Result{Payload: "one", Source: decode.SourceHardware})
			s.Enqueue(decode.Result{Payload: "two", Source: decode.SourceContinuous})
			Expect(s.PendingCount()).To(Equal(2))

			drained := s.Drain()
			Expect(drained).To(HaveLen(2))
			Expect(drained[0].Payload).To(Equal("one"))
			Expect(drained[1].Payload).To(Equal("two"))
			Expect(s.PendingCount()).To(Equal(0))
			Expect(s.Drain()).To(BeEmpty())
		})

		It("should discard on clear", func() {
			s.Enqueue(decode.Result{Payload: "one"})
			s.ClearPending()
			Expect(s.Drain()).To(BeEmpty())
		})
	})

	Describe("Snapshot", func() {
		It("should copy state without sharing the match", func() {
			Expect(s.Fire(ctx, EventStart)).To(Succeed())
			Expect(s.Fire(ctx, EventReady)).To(Succeed())
			s.Zoom = 2
			s.ZoomRange = &camera.ZoomRange{Min: 1, Max: 4, Step: 0.5}
			s.Match = &Match{Candidate: serial.FromPayload("AB12CDE")}
			s.Ignore("X")

			snap := s.Snapshot()
			Expect(snap.ID).To(Equal("session-1"))
			Expect(snap.Context).To(Equal(ContextPrimary))
			Expect(snap.State).To(Equal(StateScanning))
			Expect(snap.Active).To(BeTrue())
			Expect(snap.Zoom).To(Equal(2.0))
			Expect(snap.ZoomRange.Max).To(Equal(4.0))
			Expect(snap.IgnoredCount).To(Equal(1))
			Expect(snap.OpenedAt).To(Equal(opened))

			s.Match.Candidate.Raw = "changed"
			s.ZoomRange.Max = 9
			Expect(snap.Match.Candidate.Raw).To(Equal("AB12CDE"))
			Expect(snap.ZoomRange.Max).To(Equal(4.0))
		})

		It("should marshal to JSON", func() {
			data, err := json.Marshal(s.Snapshot())
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring(`"state":"idle"`))
			Expect(string(data)).To(ContainSubstring(`"context":"primary"`))
			Expect(string(data)).NotTo(ContainSubstring(`"match"`))
		})
	})

	DescribeTable("ParseContext",
		func(in string, want PresentationContext, ok bool) {
			got, err := ParseContext(in)
			if !ok {
				Expect(err).To(HaveOccurred())
				return
			}
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(want))
		},
		Entry("primary", "primary", ContextPrimary, true),
		Entry("fallback", "fallback", ContextFallback, true),
		Entry("empty defaults to primary", "", ContextPrimary, true),
		Entry("unknown", "sidebar", PresentationContext(""), false),
	)
})
