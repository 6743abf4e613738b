package state

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"github.com/dselans/fivehundred/clog"
)

var _ = Describe("State", func() {
	Context("BuildKey", func() {
		It("joins prefixes and key", func() {
			key, err := BuildKey("fivehundred", "The Beatles - Abbey Road", "outcome", "import")
			Expect(err).ToNot(HaveOccurred())
			Expect(key).To(Equal("fivehundred:outcome:import:The Beatles - Abbey Road"))
		})

		It("rejects invalid additional prefixes", func() {
			_, err := BuildKey("fivehundred", "k", "Not Valid")
			Expect(err).To(HaveOccurred())
		})
	})

	Context("New", func() {
		It("validates options", func() {
			_, err := New(nil)
			Expect(err).To(HaveOccurred())

			_, err = New(&Options{Prefix: "fivehundred", Log: clog.NewNoop()})
			Expect(err).To(MatchError(ContainSubstring("RedisClient")))

			client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
			defer client.Close()

			_, err = New(&Options{Prefix: "Bad Prefix", Log: clog.NewNoop(), RedisClient: client})
			Expect(err).To(HaveOccurred())

			s, err := New(&Options{Prefix: "fivehundred", Log: clog.NewNoop(), RedisClient: client})
			Expect(err).ToNot(HaveOccurred())
			Expect(s.opts.RedisLock).ToNot(BeNil())
		})
	})
})
