package batch

import (
	"context"
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/expense-inbox/internal/extraction"
)

var _ = Describe("ProcessBatch", func() {
	var (
		svc       *Service
		db        *mockDB
		storage   *mockStorage
		extractor *mockExtractor
		ctx       context.Context
		result    *PassResult
		err       error
	)

	BeforeEach(func() {
		svc, db, storage, extractor, _ = newTestService()
		ctx = context.Background()
		db.batches["b1"] = &Batch{ID: "b1", Owner: "user-1", Status: BatchDraft}
		for _, id := range []string{"a", "b", "c"} {
			storage.objects["ref-"+id] = []byte("image-" + id)
		}
		seedItem(db, &Item{ID: "a", BatchID: "b1", Seq: 1, ImageRef: "ref-a", ContentType: "image/jpeg", Status: ItemPending})
		seedItem(db, &Item{ID: "b", BatchID: "b1", Seq: 2, ImageRef: "ref-b", ContentType: "image/jpeg", Status: ItemPending})
		seedItem(db, &Item{ID: "c", BatchID: "b1", Seq: 3, ImageRef: "ref-c", ContentType: "image/jpeg", Status: ItemPending})
	})

	JustBeforeEach(func() {
		result, err = svc.ProcessBatch(ctx, "b1")
	})

	When("extraction succeeds for every item", func() {
		BeforeEach(func() {
			extractor.responses = []extractResponse{
				{result: &extraction.Result{Merchant: "Market X", Date: "2025-03-01", Amount: 150.00, Confidence: 90, SuggestedCategory: "Groceries"}},
			}
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("resolves every item to ready with normalized fields", func() {
			Expect(result.Attempted).To(Equal(3))
			Expect(result.Ready).To(Equal(3))
			item := db.items["a"]
			Expect(item.Status).To(Equal(ItemReady))
			Expect(item.Fields.AmountCents).To(Equal(int64(15000)))
			Expect(item.Fields.Merchant).To(Equal("Market X"))
			Expect(item.Fields.Date.Format("2006-01-02")).To(Equal("2025-03-01"))
			Expect(item.SuggestedCategory).To(Equal("Groceries"))
		})

		It("moves the batch to review", func() {
			Expect(db.batches["b1"].Status).To(Equal(BatchReview))
		})
	})

	When("extraction fails for the middle item", func() {
		BeforeEach(func() {
			extractor.responses = []extractResponse{
				{result: &extraction.Result{Merchant: "A", Date: "2025-03-01", Amount: 10}},
				{err: errors.New("recognition service timed out")},
				{result: &extraction.Result{Merchant: "C", Date: "2025-03-02", Amount: 20}},
			}
		})

		It("isolates the failure", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Attempted).To(Equal(3))
			Expect(result.Ready).To(Equal(2))
			Expect(result.Failed).To(Equal(1))
		})

		It("records the error on the failed item only", func() {
			Expect(db.items["a"].Status).To(Equal(ItemReady))
			Expect(db.items["c"].Status).To(Equal(ItemReady))
			failed := db.items["b"]
			Expect(failed.Status).To(Equal(ItemError))
			Expect(failed.ErrorMessage).To(ContainSubstring("timed out"))
		})

		It("still moves the batch to review", func() {
			Expect(db.batches["b1"].Status).To(Equal(BatchReview))
		})
	})

	When("the extraction error is very long", func() {
		BeforeEach(func() {
			extractor.responses = []extractResponse{
				{err: errors.New(strings.Repeat("x", 2000))},
			}
		})

		It("truncates the stored message", func() {
			Expect(len(db.items["a"].ErrorMessage)).To(Equal(maxErrorMessageLen))
		})
	})

	When("items are attempted", func() {
		var order []int

		BeforeEach(func() {
			order = nil
			extractor.onExtract = func(call int) {
				order = append(order, call)
			}
			extractor.responses = []extractResponse{
				{result: &extraction.Result{Merchant: "A", Date: "2025-03-01", Amount: 1}},
			}
		})

		It("processes them one at a time in creation order", func() {
			Expect(extractor.calls).To(Equal(3))
			Expect(order).To(Equal([]int{0, 1, 2}))
			// Creation order is observable through the final item sequence
			items, listErr := db.ListItems("b1")
			Expect(listErr).NotTo(HaveOccurred())
			Expect(items[0].ID).To(Equal("a"))
			Expect(items[1].ID).To(Equal("b"))
			Expect(items[2].ID).To(Equal("c"))
		})
	})

	When("the batch is deleted mid-pass", func() {
		BeforeEach(func() {
			extractor.responses = []extractResponse{
				{result: &extraction.Result{Merchant: "A", Date: "2025-03-01", Amount: 1}},
			}
			extractor.onExtract = func(call int) {
				if call == 0 {
					delete(db.batches, "b1")
					db.DeleteItems("b1")
				}
			}
		})

		It("halts between items without resurrecting the batch", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Halted).To(BeTrue())
			Expect(result.Attempted).To(Equal(1))
			Expect(extractor.calls).To(Equal(1))
			Expect(db.batches).NotTo(HaveKey("b1"))
		})
	})

	When("the context is canceled mid-pass", func() {
		var cancel context.CancelFunc

		BeforeEach(func() {
			ctx, cancel = context.WithCancel(context.Background())
			extractor.responses = []extractResponse{
				{result: &extraction.Result{Merchant: "A", Date: "2025-03-01", Amount: 1}},
			}
			extractor.onExtract = func(call int) {
				if call == 0 {
					cancel()
				}
			}
		})

		It("stops and reports the cancellation", func() {
			Expect(err).To(MatchError(context.Canceled))
			Expect(result.Halted).To(BeTrue())
			Expect(extractor.calls).To(Equal(1))
		})
	})

	When("the batch is already completed", func() {
		BeforeEach(func() {
			db.batches["b1"].Status = BatchCompleted
		})

		It("refuses to reopen it", func() {
			var validationErr *ValidationError
			Expect(errors.As(err, &validationErr)).To(BeTrue())
			Expect(db.batches["b1"].Status).To(Equal(BatchCompleted))
			Expect(extractor.calls).To(BeZero())
		})
	})

	When("the batch has failed", func() {
		BeforeEach(func() {
			db.batches["b1"].Status = BatchFailed
		})

		It("refuses to process it", func() {
			var validationErr *ValidationError
			Expect(errors.As(err, &validationErr)).To(BeTrue())
			Expect(db.batches["b1"].Status).To(Equal(BatchFailed))
		})
	})

	When("the batch does not exist", func() {
		JustBeforeEach(func() {
			result, err = svc.ProcessBatch(ctx, "missing")
		})

		It("returns ErrNotFound", func() {
			Expect(err).To(MatchError(ErrNotFound))
		})
	})
})

var _ = Describe("StartProcessing", func() {
	It("completes the pass and signals through Wait", func() {
		svc, db, storage, extractor, _ := newTestService()
		db.batches["b1"] = &Batch{ID: "b1", Owner: "user-1", Status: BatchDraft}
		storage.objects["ref-a"] = []byte("image")
		seedItem(db, &Item{ID: "a", BatchID: "b1", Seq: 1, ImageRef: "ref-a", ContentType: "image/jpeg", Status: ItemPending})
		extractor.responses = []extractResponse{
			{result: &extraction.Result{Merchant: "A", Date: "2025-03-01", Amount: 5}},
		}

		pass := svc.StartProcessing(context.Background(), "b1")
		result, err := pass.Wait(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Ready).To(Equal(1))
		Expect(db.batches["b1"].Status).To(Equal(BatchReview))
	})
})
