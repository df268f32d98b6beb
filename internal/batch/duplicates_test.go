package batch

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/expense-inbox/internal/ledger"
)

var _ = Describe("FlagDuplicates", func() {
	var (
		svc     *Service
		db      *mockDB
		ldg     *mockLedger
		ctx     context.Context
		flagged int
		err     error
	)

	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	readyItem := func(id string, seq int, cents int64, date time.Time, merchant string) *Item {
		return &Item{
			ID: id, BatchID: "b1", Seq: seq, Status: ItemReady,
			Fields: ItemFields{AmountCents: cents, Date: date, Merchant: merchant},
		}
	}

	BeforeEach(func() {
		svc, db, _, _, ldg = newTestService()
		ctx = context.Background()
		db.batches["b1"] = &Batch{ID: "b1", Owner: "user-1", Status: BatchReview}
	})

	JustBeforeEach(func() {
		flagged, err = svc.FlagDuplicates(ctx, "b1")
	})

	When("two ready items share date, amount and merchant", func() {
		BeforeEach(func() {
			seedItem(db, readyItem("a", 1, 15000, day, "Market X"))
			seedItem(db, readyItem("b", 2, 15000, day, "MARKET-X."))
			seedItem(db, readyItem("c", 3, 9900, day, "Other Shop"))
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("flags both symmetrically", func() {
			Expect(flagged).To(Equal(2))
			Expect(db.items["a"].IsDuplicateSuspect).To(BeTrue())
			Expect(db.items["b"].IsDuplicateSuspect).To(BeTrue())
			Expect(db.items["a"].DuplicateReason).To(Equal(DupReasonIntraBatch))
			Expect(db.items["b"].DuplicateReason).To(Equal(DupReasonIntraBatch))
		})

		It("leaves the distinct item unflagged", func() {
			Expect(db.items["c"].IsDuplicateSuspect).To(BeFalse())
		})
	})

	When("a ready item matches a recent ledger record", func() {
		BeforeEach(func() {
			seedItem(db, readyItem("a", 1, 15000, day, "Market X"))
			ldg.records["rec-1"] = &ledger.Record{ID: "rec-1", Date: day, AmountCents: -15000}
		})

		It("flags it against the existing record", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(flagged).To(Equal(1))
			Expect(db.items["a"].IsDuplicateSuspect).To(BeTrue())
			Expect(db.items["a"].DuplicateReason).To(Equal(DupReasonLedger))
		})
	})

	When("an item matches both within the batch and the ledger", func() {
		BeforeEach(func() {
			seedItem(db, readyItem("a", 1, 15000, day, "Market X"))
			seedItem(db, readyItem("b", 2, 15000, day, "Market X"))
			ldg.records["rec-1"] = &ledger.Record{ID: "rec-1", Date: day, AmountCents: -15000}
		})

		It("keeps the intra-batch reason", func() {
			Expect(db.items["a"].DuplicateReason).To(Equal(DupReasonIntraBatch))
		})
	})

	When("items lack a date or amount", func() {
		BeforeEach(func() {
			seedItem(db, readyItem("a", 1, 0, day, "Market X"))
			seedItem(db, readyItem("b", 2, 0, day, "Market X"))
			seedItem(db, readyItem("c", 3, 15000, time.Time{}, "Market X"))
		})

		It("flags nothing", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(flagged).To(BeZero())
		})
	})

	When("a previous flag no longer applies", func() {
		BeforeEach(func() {
			item := readyItem("a", 1, 15000, day, "Market X")
			item.IsDuplicateSuspect = true
			item.DuplicateReason = DupReasonIntraBatch
			seedItem(db, item)
		})

		It("clears the stale flag", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(db.items["a"].IsDuplicateSuspect).To(BeFalse())
			Expect(db.items["a"].DuplicateReason).To(BeEmpty())
		})
	})

	When("a committed item matches its own ledger record", func() {
		BeforeEach(func() {
			item := readyItem("a", 1, 15000, day, "Market X")
			item.LedgerRecordID = "rec-1"
			seedItem(db, item)
			ldg.records["rec-1"] = &ledger.Record{ID: "rec-1", Date: day, AmountCents: -15000}
		})

		It("does not flag it", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(flagged).To(BeZero())
			Expect(db.items["a"].IsDuplicateSuspect).To(BeFalse())
		})
	})

	When("pending and error items share identical fields", func() {
		BeforeEach(func() {
			a := readyItem("a", 1, 15000, day, "Market X")
			a.Status = ItemPending
			b := readyItem("b", 2, 15000, day, "Market X")
			b.Status = ItemError
			seedItem(db, a)
			seedItem(db, b)
		})

		It("only considers ready items", func() {
			Expect(flagged).To(BeZero())
		})
	})
})

var _ = Describe("normalizeMerchant", func() {
	It("uppercases and turns punctuation into spaces", func() {
		Expect(normalizeMerchant("Market-X, Inc.")).To(Equal("MARKET X INC"))
	})

	It("treats a punctuation separator and a space as the same name", func() {
		Expect(normalizeMerchant("MARKET-X.")).To(Equal(normalizeMerchant("Market X")))
	})

	It("collapses repeated whitespace", func() {
		Expect(normalizeMerchant("  Market   X  ")).To(Equal("MARKET X"))
	})
})
