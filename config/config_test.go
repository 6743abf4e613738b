package config

import (
	"github.com/alecthomas/kong"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func parse(args ...string) (*Config, error) {
	cfg := &Config{}

	parser, err := kong.New(cfg, kong.Vars{"version": "test"}, kong.Exit(func(int) {}))
	if err != nil {
		return nil, err
	}

	ctx, err := parser.Parse(args)
	if err != nil {
		return nil, err
	}

	cfg.KongContext = ctx

	return cfg, nil
}

var _ = Describe("Config", func() {
	Context("Command", func() {
		It("defaults to serve", func() {
			cfg, err := parse()
			Expect(err).ToNot(HaveOccurred())
			Expect(cfg.Command()).To(Equal("serve"))
		})

		It("strips positional placeholders", func() {
			cfg, err := parse("rank", "aplus", "add", "Blue", "Kind of Blue")
			Expect(err).ToNot(HaveOccurred())
			Expect(cfg.Command()).To(Equal("rank aplus add"))
			Expect(cfg.Rank.APlus.Add.Titles).To(Equal([]string{"Blue", "Kind of Blue"}))
		})

		It("parses nested commands without args", func() {
			cfg, err := parse("backfill", "covers")
			Expect(err).ToNot(HaveOccurred())
			Expect(cfg.Command()).To(Equal("backfill covers"))
		})

		It("is serve without a kong context", func() {
			Expect((&Config{}).Command()).To(Equal("serve"))
		})
	})

	Context("Validate", func() {
		It("applies defaults", func() {
			cfg, err := parse()
			Expect(err).ToNot(HaveOccurred())
			Expect(cfg.Validate()).To(Succeed())
			Expect(cfg.DBDriver).To(Equal("sqlite"))
			Expect(cfg.LogDir).To(Equal("logs"))
		})

		It("requires a dsn for postgres", func() {
			cfg, err := parse("--db-driver=pgx")
			Expect(err).ToNot(HaveOccurred())
			Expect(cfg.Validate()).ToNot(Succeed())
		})

		It("requires spotify credentials in pairs", func() {
			cfg, err := parse("--spotify-client-id=abc")
			Expect(err).ToNot(HaveOccurred())
			Expect(cfg.Validate()).ToNot(Succeed())
		})

		It("requires redis for --only-failed", func() {
			cfg, err := parse("--only-failed", "import", "The Beatles - Abbey Road")
			Expect(err).ToNot(HaveOccurred())
			Expect(cfg.Validate()).ToNot(Succeed())
		})

		It("requires import inputs", func() {
			cfg, err := parse("import")
			Expect(err).ToNot(HaveOccurred())
			Expect(cfg.Validate()).ToNot(Succeed())
		})
	})

	Context("GetMap", func() {
		It("masks credentials and skips commands", func() {
			cfg, err := parse("--redis-password=hunter2")
			Expect(err).ToNot(HaveOccurred())

			m := cfg.GetMap()
			Expect(m["RedisPassword"]).To(Equal("********"))
			Expect(m["SpotifyClientSecret"]).To(Equal(""))
			Expect(m["EnvName"]).To(Equal("dev"))
			Expect(m).ToNot(HaveKey("Rank"))
			Expect(m).ToNot(HaveKey("KongContext"))
		})
	})
})
