package cache

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Cache", func() {
	var c *Cache

	BeforeEach(func() {
		var err error

		c, err = New()
		Expect(err).ToNot(HaveOccurred())
	})

	It("refuses to Add an existing key but lets Set overwrite it", func() {
		Expect(c.Add("k", 1)).To(Succeed())
		Expect(c.Add("k", 2)).ToNot(Succeed())

		c.Set("k", 3)

		v, ok := c.Get("k")
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal(3))
	})

	It("removes keys and reports whether they existed", func() {
		c.Set("k", "v")

		Expect(c.Contains("k")).To(BeTrue())
		Expect(c.Remove("k")).To(BeTrue())
		Expect(c.Remove("k")).To(BeFalse())
		Expect(c.Contains("k")).To(BeFalse())
	})

	It("expires entries stored with a TTL", func() {
		c.Set("k", "v", time.Millisecond)

		Eventually(func() bool { return c.Contains("k") }).Should(BeFalse())
	})

	It("builds namespaced keys", func() {
		Expect(Key(ReleaseDBPrefix, "search", "abbey road")).To(Equal("mb:search:abbey road"))
	})
})
