package util

import (
	"context"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/dselans/fivehundred/clog"
)

var _ = Describe("Util", func() {
	Context("MethodSetup", func() {
		It("prefers the logger carried by the context", func() {
			fallback := &clog.TestLogger{}
			carried := &clog.TestLogger{}

			ctx := ContextWithLogger(context.Background(), carried)

			_, logger := MethodSetup(ctx, fallback)
			logger.Info("hello")

			Expect(carried.Contains("hello")).To(BeTrue())
			Expect(fallback.Messages).To(BeEmpty())
		})

		It("uses the fallback logger when the context has none", func() {
			fallback := &clog.TestLogger{}

			txn, logger := MethodSetup(context.Background(), fallback)
			logger.Warn("fallback used")

			Expect(txn).To(BeNil())
			Expect(fallback.Contains("fallback used")).To(BeTrue())
		})
	})
})
