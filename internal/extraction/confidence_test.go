package extraction

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Evaluate", func() {
	It("should average per-field confidences", func() {
		fields := []Field{
			{Name: "a", Value: "1", DataType: DataTypeText, Confidence: 0.8},
			{Name: "b", Value: "2", DataType: DataTypeText, Confidence: 0.6},
		}
		eval := Evaluate(fields, 0.7)
		Expect(eval.Score).To(BeNumerically("~", 0.7, 1e-9))
	})

	It("should count zero-confidence fields toward the mean", func() {
		fields := []Field{
			{Name: "a", Value: "1", DataType: DataTypeText, Confidence: 1.0},
			{Name: "b", Value: "2", DataType: DataTypeText, Confidence: 0},
		}
		eval := Evaluate(fields, 0.7)
		Expect(eval.Score).To(BeNumerically("~", 0.5, 1e-9))
		Expect(eval.BelowThreshold).To(BeTrue())
	})

	It("should score an empty field list as zero", func() {
		eval := Evaluate(nil, 0.7)
		Expect(eval.Score).To(BeZero())
		Expect(eval.BelowThreshold).To(BeTrue())
	})

	It("should not flag results at or above the threshold", func() {
		fields := []Field{
			{Name: "a", Value: "1", DataType: DataTypeText, Confidence: 0.9},
		}
		eval := Evaluate(fields, 0.7)
		Expect(eval.BelowThreshold).To(BeFalse())
	})

	It("should fall back to the default threshold when none is configured", func() {
		fields := []Field{
			{Name: "a", Value: "1", DataType: DataTypeText, Confidence: 0.65},
		}
		eval := Evaluate(fields, 0)
		Expect(eval.BelowThreshold).To(BeTrue())
	})
})
