package config

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config", func() {
	var (
		tempDir    string
		configFile string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "flowctl-config-test")
		Expect(err).NotTo(HaveOccurred())
		configFile = filepath.Join(tempDir, "config.yaml")
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("when the config file exists with valid content", func() {
			BeforeEach(func() {
				valid := `
blueprint:
  registry_path: "./blueprint/registry.json"
  catalog_path: "./blueprint/catalog.json"
  selectors_path: "./blueprint/selectors.json"

logging:
  level: "debug"
  format: "console"

redaction:
  extra_keys:
    - "tenant_secret"

tooling:
  default_timeout: "30s"
`
				Expect(os.WriteFile(configFile, []byte(valid), 0644)).To(Succeed())
			})

			It("loads every field", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Blueprint.RegistryPath).To(Equal("./blueprint/registry.json"))
				Expect(cfg.Logging.Level).To(Equal("debug"))
				Expect(cfg.Logging.Format).To(Equal("console"))
				Expect(cfg.Redaction.ExtraKeys).To(ContainElement("tenant_secret"))
				Expect(cfg.Tooling.DefaultTimeout).To(Equal(30 * time.Second))
			})
		})

		Context("when the config file has minimal content", func() {
			BeforeEach(func() {
				minimal := `
blueprint:
  registry_path: "./blueprint/registry.json"
`
				Expect(os.WriteFile(configFile, []byte(minimal), 0644)).To(Succeed())
			})

			It("fills in defaults for logging and tooling", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Logging.Level).To(Equal("info"))
				Expect(cfg.Logging.Format).To(Equal("json"))
				Expect(cfg.Tooling.DefaultTimeout).To(Equal(10 * time.Second))
			})
		})

		Context("when the config file does not exist", func() {
			It("returns an error", func() {
				_, err := Load(filepath.Join(tempDir, "missing.yaml"))
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to read config file"))
			})
		})

		Context("when the config file has invalid YAML", func() {
			BeforeEach(func() {
				invalid := "blueprint:\n  registry_path: [\n"
				Expect(os.WriteFile(configFile, []byte(invalid), 0644)).To(Succeed())
			})

			It("returns an error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})

		Context("when registry_path is missing", func() {
			BeforeEach(func() {
				Expect(os.WriteFile(configFile, []byte("logging:\n  level: debug\n"), 0644)).To(Succeed())
			})

			It("returns a validation error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("invalid config file"))
			})
		})

		Context("when logging.format is unrecognized", func() {
			BeforeEach(func() {
				bad := "blueprint:\n  registry_path: x\nlogging:\n  format: xml\n"
				Expect(os.WriteFile(configFile, []byte(bad), 0644)).To(Succeed())
			})

			It("returns a validation error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("logging.format"))
			})
		})
	})
})
