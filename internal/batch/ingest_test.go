package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// testImage renders a small PNG receipt stand-in
func testImage() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 40, 60))
	for y := 0; y < 60; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.RGBA{R: 240, G: 240, B: 240, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

var _ = Describe("AddImages", func() {
	var (
		svc     *Service
		db      *mockDB
		storage *mockStorage
		ctx     context.Context
		files   []IngestFile
		result  *IngestResult
		err     error
	)

	BeforeEach(func() {
		svc, db, storage, _, _ = newTestService()
		ctx = context.Background()
		db.batches["b1"] = &Batch{ID: "b1", Owner: "user-1", Status: BatchDraft}
		files = nil
	})

	JustBeforeEach(func() {
		result, err = svc.AddImages(ctx, "b1", files)
	})

	When("uploading valid images", func() {
		BeforeEach(func() {
			files = []IngestFile{
				{Filename: "a.png", ContentType: "image/png", Data: testImage()},
				{Filename: "b.png", ContentType: "image/png", Data: testImage()},
				{Filename: "c.png", ContentType: "image/png", Data: testImage()},
			}
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("creates one pending item per file", func() {
			Expect(result.Items).To(HaveLen(3))
			Expect(result.Rejected).To(BeEmpty())
			for _, item := range result.Items {
				Expect(item.Status).To(Equal(ItemPending))
				Expect(item.BatchID).To(Equal("b1"))
			}
		})

		It("assigns sequence numbers in upload order", func() {
			Expect(result.Items[0].Seq).To(Equal(1))
			Expect(result.Items[1].Seq).To(Equal(2))
			Expect(result.Items[2].Seq).To(Equal(3))
		})

		It("stores compressed copies", func() {
			Expect(storage.objects).To(HaveLen(3))
			for _, item := range result.Items {
				Expect(item.ContentType).To(Equal("image/jpeg"))
				Expect(storage.objects).To(HaveKey(item.ImageRef))
			}
		})

		It("raises the batch counts", func() {
			counts, countErr := svc.Counts(ctx, "b1")
			Expect(countErr).NotTo(HaveOccurred())
			Expect(counts.Total).To(Equal(3))
			Expect(counts.Pending).To(Equal(3))
		})
	})

	When("a file has a disallowed type", func() {
		BeforeEach(func() {
			files = []IngestFile{
				{Filename: "a.png", ContentType: "image/png", Data: testImage()},
				{Filename: "evil.exe", ContentType: "application/x-msdownload", Data: []byte("MZ")},
			}
		})

		It("rejects only that file", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Items).To(HaveLen(1))
			Expect(result.Rejected).To(HaveLen(1))
			Expect(result.Rejected[0].Filename).To(Equal("evil.exe"))
			Expect(result.Rejected[0].Reason).To(ContainSubstring("unsupported file type"))
		})
	})

	When("a file exceeds the size ceiling", func() {
		BeforeEach(func() {
			files = []IngestFile{
				{Filename: "huge.jpg", ContentType: "image/jpeg", Data: make([]byte, MaxFileSize+1)},
			}
		})

		It("rejects it with a size reason", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Items).To(BeEmpty())
			Expect(result.Rejected).To(HaveLen(1))
			Expect(result.Rejected[0].Reason).To(ContainSubstring("10MB"))
		})
	})

	When("the request exceeds the remaining batch capacity", func() {
		BeforeEach(func() {
			for i := 1; i <= MaxBatchItems; i++ {
				seedItem(db, &Item{ID: fmt.Sprintf("i%d", i), BatchID: "b1", Seq: i, Status: ItemPending})
			}
			files = []IngestFile{
				{Filename: "one-too-many.png", ContentType: "image/png", Data: testImage()},
			}
		})

		It("rejects the whole call with a capacity error", func() {
			var capacityErr *CapacityError
			Expect(errors.As(err, &capacityErr)).To(BeTrue())
			Expect(capacityErr.Remaining).To(Equal(0))
			Expect(capacityErr.Requested).To(Equal(1))
		})

		It("creates no item", func() {
			counts, countErr := svc.Counts(ctx, "b1")
			Expect(countErr).NotTo(HaveOccurred())
			Expect(counts.Total).To(Equal(MaxBatchItems))
		})
	})

	When("storage fails for one file", func() {
		BeforeEach(func() {
			storage.putErr = errors.New("disk full")
			files = []IngestFile{
				{Filename: "a.png", ContentType: "image/png", Data: testImage()},
			}
		})

		It("skips the file and reports it", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Items).To(BeEmpty())
			Expect(result.Rejected).To(HaveLen(1))
			Expect(result.Rejected[0].Reason).To(ContainSubstring("storage failure"))
		})
	})

	When("the batch is processing", func() {
		BeforeEach(func() {
			db.batches["b1"].Status = BatchProcessing
			files = []IngestFile{
				{Filename: "a.png", ContentType: "image/png", Data: testImage()},
			}
		})

		It("returns a validation error", func() {
			var validationErr *ValidationError
			Expect(errors.As(err, &validationErr)).To(BeTrue())
		})
	})

	When("the batch does not exist", func() {
		JustBeforeEach(func() {
			result, err = svc.AddImages(ctx, "missing", files)
		})

		It("returns ErrNotFound", func() {
			Expect(err).To(MatchError(ErrNotFound))
		})
	})
})
