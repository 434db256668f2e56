package roundfsm_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/privcount/privcount/internal/round"
	"github.com/privcount/privcount/protocols/privcount/roundfsm"
)

var _ = Describe("Machine", func() {
	var m *roundfsm.Machine

	BeforeEach(func() {
		m = roundfsm.New()
	})

	It("starts IDLE with no bound round", func() {
		Expect(m.Phase()).To(Equal(round.PhaseIdle))
		Expect(m.RoundID()).To(BeEmpty())
	})

	It("advances through the full lifecycle in order", func() {
		Expect(m.Register("r1")).To(Succeed())
		Expect(m.Phase()).To(Equal(round.PhaseRegistered))
		Expect(m.RoundID()).To(Equal("r1"))

		Expect(m.Prepare()).To(Succeed())
		Expect(m.Phase()).To(Equal(round.PhasePrepared))

		Expect(m.Collect()).To(Succeed())
		Expect(m.Phase()).To(Equal(round.PhaseCollecting))

		Expect(m.Tally()).To(Succeed())
		Expect(m.Phase()).To(Equal(round.PhaseTallying))

		Expect(m.Finish()).To(Succeed())
		Expect(m.Phase()).To(Equal(round.PhaseIdle))
		Expect(m.RoundID()).To(BeEmpty())
	})

	It("rejects skipping a phase", func() {
		Expect(m.Register("r1")).To(Succeed())
		Expect(m.Collect()).To(HaveOccurred())
		Expect(m.Phase()).To(Equal(round.PhaseRegistered))
	})

	It("allows Abort from any phase back to IDLE", func() {
		Expect(m.Register("r1")).To(Succeed())
		Expect(m.Prepare()).To(Succeed())
		m.Abort()
		Expect(m.Phase()).To(Equal(round.PhaseIdle))
		Expect(m.RoundID()).To(BeEmpty())
	})
})
