package batch

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var storage *LocalStorage

	BeforeEach(func() {
		var err error
		storage, err = NewLocalStorage(filepath.Join(GinkgoT().TempDir(), "receipts"), "/api/files")
		Expect(err).NotTo(HaveOccurred())
	})

	It("creates the base directory if missing", func() {
		_, err := os.Stat(storage.basePath)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Put and Get", func() {
		It("round-trips object data", func() {
			ref, err := storage.Put([]byte("receipt bytes"), "image/jpeg")
			Expect(err).NotTo(HaveOccurred())
			Expect(ref).To(HaveSuffix(".jpg"))

			data, err := storage.Get(ref)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("receipt bytes")))
		})

		It("hands out a fresh reference per object", func() {
			ref1, err := storage.Put([]byte("one"), "image/png")
			Expect(err).NotTo(HaveOccurred())
			ref2, err := storage.Put([]byte("two"), "image/png")
			Expect(err).NotTo(HaveOccurred())
			Expect(ref1).NotTo(Equal(ref2))
		})

		It("falls back to a generic extension for unknown types", func() {
			ref, err := storage.Put([]byte("data"), "application/octet-stream")
			Expect(err).NotTo(HaveOccurred())
			Expect(ref).To(HaveSuffix(".bin"))
		})

		It("errors on a missing reference", func() {
			_, err := storage.Get("missing.jpg")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("AccessURL", func() {
		It("serves stored objects under the base URL", func() {
			ref, err := storage.Put([]byte("data"), "image/jpeg")
			Expect(err).NotTo(HaveOccurred())

			url, err := storage.AccessURL(ref, time.Minute)
			Expect(err).NotTo(HaveOccurred())
			Expect(url).To(Equal("/api/files/" + ref))
		})

		It("errors on a missing reference", func() {
			_, err := storage.AccessURL("missing.jpg", time.Minute)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Delete", func() {
		It("removes the object", func() {
			ref, err := storage.Put([]byte("data"), "image/jpeg")
			Expect(err).NotTo(HaveOccurred())
			Expect(storage.Delete(ref)).To(Succeed())

			_, err = storage.Get(ref)
			Expect(err).To(HaveOccurred())
		})

		It("errors on a missing reference", func() {
			Expect(storage.Delete("missing.jpg")).To(HaveOccurred())
		})
	})
})
