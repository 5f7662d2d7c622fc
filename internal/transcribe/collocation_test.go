package transcribe_test

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/dynopt/internal/config"
	"github.com/san-kum/dynopt/internal/integrators"
	"github.com/san-kum/dynopt/internal/models"
	"github.com/san-kum/dynopt/internal/trajectory"
)

var _ = Describe("Collocation", func() {
	// every family runs the same body
	families := func(body func(discr string)) []any {
		return []any{
			body,
			Entry("Radau", "Radau"),
			Entry("LG", "LG"),
			Entry("LGR", "LGR"),
			Entry("LGL", "LGL"),
		}
	}

	DescribeTable("solves the linear-quadratic oscillator on one element",
		families(func(discr string) {
			res, _ := solve(models.Oscillator(), options(1, 30, discr))
			Expect(res.Cost).To(BeNumerically("~", 2.169695336040, 1e-7))
			Expect(res.Final("y1")).To(BeNumerically("~", 0.5, 1e-8))
			Expect(res.Final("y2")).To(BeNumerically("~", -0.2492252622, 1e-7))
		})...,
	)

	DescribeTable("agrees across families on the nonlinear two-state problem",
		families(func(discr string) {
			res, _ := solve(models.TwoState(), options(1, 30, discr))
			Expect(res.Cost).To(BeNumerically("~", 2.675018657837, 1e-7))
			Expect(res.Final("y2")).To(BeNumerically("~", -0.1214028059, 1e-7))
		})...,
	)

	DescribeTable("stays close to the one-element optimum on a coarse mesh",
		func(discr string, want, tol float64) {
			res, _ := solve(models.TwoState(), options(4, 5, discr))
			Expect(res.Cost).To(BeNumerically("~", want, tol))
		},
		Entry("Radau", "Radau", 2.6750186, 2e-7),
		Entry("LG", "LG", 2.6750186, 2e-7),
		Entry("LGR", "LGR", 2.6750186, 2e-7),
		Entry("LGL", "LGL", 2.675033, 2e-6),
	)

	It("recovers the analytic rest-to-rest control", func() {
		res, _ := solve(models.DoubleIntegrator(), options(5, 3, "Radau"))
		Expect(res.Cost).To(BeNumerically("~", 12, 1e-6))
		for i, t := range res.Time {
			Expect(res.Series["x"][i]).To(BeNumerically("~", 3*t*t-2*t*t*t, 1e-6))
			if i > 0 {
				// the first sample holds the first collocated control
				Expect(res.Series["u"][i]).To(BeNumerically("~", 6-12*t, 1e-5))
			}
		}
	})

	It("reports free parameters at their optimum", func() {
		fixed, _ := solve(models.Oscillator(), options(4, 5, "Radau"))
		res, _ := solve(models.OscillatorGain(), options(4, 5, "Radau"))
		Expect(res.Parameters).To(HaveKey("k"))
		Expect(res.Parameters["k"]).To(BeNumerically("~", 2, 1e-6))
		Expect(res.Cost).To(BeNumerically("<", fixed.Cost))
	})

	It("handles algebraic variables", func() {
		ode, _ := solve(models.Oscillator(), options(4, 5, "Radau"))
		dae, _ := solve(models.OscillatorDAE(), options(4, 5, "Radau"))
		Expect(dae.Cost).To(BeNumerically("~", ode.Cost, 1e-6))
		for i := range dae.Time {
			u := dae.Series["u"][i]
			Expect(dae.Series["w"][i]).To(BeNumerically("~", u*u, 1e-6))
		}
	})

	Context("on the Van der Pol oscillator", func() {
		BeforeEach(slow)

		It("matches the first-order Radau reference", func() {
			res, _ := solve(models.VDP(), options(100, 1, "Radau"))
			Expect(res.Cost).To(BeNumerically("~", 2.471555915589, 3e-6))
			Expect(res.Metrics).To(HaveKey("u_norm"))
		})

		It("keeps one control per block", func() {
			o := options(40, 3, "Radau")
			o.Blocking = config.Presets["vdp"]["blocked"].Blocking
			res, _ := solve(models.VDP(), o)
			Expect(res.Cost).To(BeNumerically("~", 2.93296, 1e-4))

			// the control is constant over each element
			us := res.Series["u"]
			for i := 1; i+2 < len(us); i += 3 {
				Expect(us[i+1]).To(Equal(us[i]))
				Expect(us[i+2]).To(Equal(us[i]))
			}
		})

		It("optimizes free element lengths within their bounds", func() {
			o, err := config.GetPreset("vdp_mayer", "free_lengths")
			Expect(err).NotTo(HaveOccurred())
			res, _ := solve(models.VDPMayer(), o)
			Expect(res.Cost).To(BeNumerically("~", 3.9276593646, 1e-5))

			Expect(res.HOpt).To(HaveLen(20))
			lo, hi, sum := math.Inf(1), math.Inf(-1), 0.0
			for _, h := range res.HOpt {
				lo, hi, sum = math.Min(lo, h), math.Max(hi, h), sum+h
			}
			Expect(lo).To(BeNumerically("~", 0.5, 1e-4))
			Expect(hi).To(BeNumerically("~", 2, 1e-4))
			Expect(sum).To(BeNumerically("~", 20, 1e-8))
		})

		It("tightens toward the reference as the degree grows", func() {
			const ref = 2.8731
			gap := make([]float64, 9)
			for ncp := 1; ncp <= 8; ncp++ {
				res, _ := solve(models.VDPMayer(), options(20, ncp, "Radau"))
				gap[ncp] = math.Abs(res.Cost - ref)
			}
			Expect(gap[2]).To(BeNumerically("<", gap[1]))
			for ncp := 3; ncp <= 8; ncp++ {
				Expect(gap[ncp]).To(BeNumerically("<", gap[2]), "n_cp=%d", ncp)
				Expect(gap[ncp]).To(BeNumerically("<", 1e-3), "n_cp=%d", ncp)
			}
		})

		It("honors path constraints", func() {
			free, _ := solve(models.VDPMayer(), options(20, 3, "Radau"))
			res, _ := solve(models.VDPConstrained(), options(20, 3, "Radau"))
			Expect(res.Cost).To(BeNumerically(">=", free.Cost-1e-6))
			for _, x1 := range res.Series["x1"] {
				Expect(x1).To(BeNumerically(">=", -0.25-1e-6))
			}
		})
	})

	Describe("result modes", func() {
		It("samples collocation points with both horizon ends", func() {
			res, _ := solve(models.Oscillator(), options(3, 3, "LG"))
			Expect(res.Mode).To(Equal("collocation_points"))
			Expect(res.Time).To(HaveLen(1 + 3*3 + 1))
			Expect(res.Time[0]).To(BeNumerically("~", 0, 1e-12))
			Expect(res.Time[len(res.Time)-1]).To(BeNumerically("~", 2, 1e-12))
		})

		It("interpolates elements on evenly spaced points", func() {
			o := options(3, 3, "Radau")
			o.ResultMode = config.ModeElementInterpolation
			o.EvalPoints = 7
			res, _ := solve(models.Oscillator(), o)
			Expect(res.Time).To(HaveLen(7 + 6*2))
			Expect(res.Names).To(ContainElements("y1", "der(y1)", "y2", "der(y2)", "u"))
		})

		It("agrees between modes and converges with the mesh", func() {
			states := []string{"y1", "y2"}
			gap := func(ne int) float64 {
				o := options(ne, 3, "Radau")
				points, _ := solve(models.TwoState(), o)
				o.ResultMode = config.ModeElementInterpolation
				dense, _ := solve(models.TwoState(), o)
				Expect(dense.Cost).To(BeNumerically("~", points.Cost, 1e-9))

				dev, err := trajectory.Deviation(dense, points, states)
				Expect(err).NotTo(HaveOccurred())
				worst := 0.0
				for _, d := range dev {
					worst = math.Max(worst, d)
				}
				return worst
			}
			coarse, fine := gap(2), gap(8)
			Expect(fine).To(BeNumerically("<", coarse))
			Expect(fine).To(BeNumerically("<", 1e-2))
		})

		It("writes scaled series when asked", func() {
			o := options(3, 3, "Radau")
			plain, _ := solve(models.Oscillator(), o)
			o.WriteScaled = true
			o.Nominal = map[string]float64{"y1": 2}
			scaled, _ := solve(models.Oscillator(), o)

			Expect(scaled.Scaled).To(BeTrue())
			Expect(scaled.Metrics).To(BeNil())
			for i := range plain.Time {
				Expect(2 * scaled.Series["y1"][i]).To(BeNumerically("~", plain.Series["y1"][i], 1e-7))
			}
		})
	})

	It("produces controls that replay through the model", func() {
		o := options(4, 5, "Radau")
		o.ResultMode = config.ModeElementInterpolation
		res, _ := solve(models.TwoState(), o)

		sim, err := trajectory.Simulate(models.TwoState(), res, integrators.NewRK45(), 0.01)
		Expect(err).NotTo(HaveOccurred())
		dev, err := trajectory.Deviation(sim, res, []string{"y1", "y2"})
		Expect(err).NotTo(HaveOccurred())
		Expect(dev["y1"]).To(BeNumerically("<", 1e-3))
		Expect(dev["y2"]).To(BeNumerically("<", 1e-3))
	})
})
