package inventory

import (
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BoltStore", func() {
	var (
		store *BoltStore
		now   time.Time
	)

	BeforeEach(func() {
		var err error
		store, err = NewBoltStore(filepath.Join(GinkgoT().TempDir(), "inventory.db"))
		Expect(err).NotTo(HaveOccurred())
		now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	})

	AfterEach(func() {
		if store != nil {
			store.Close()
		}
	})

	newAsset := func(id, serialNumber string) *Asset {
		return &Asset{ID: id, Serial: serialNumber, Name: "Laptop " + id, CreatedAt: now, UpdatedAt: now}
	}

	Describe("SaveAsset and GetAsset", func() {
		It("should round trip an asset", func() {
			Expect(store.SaveAsset(newAsset("a1", "AB12CDE"))).To(Succeed())

			got, err := store.GetAsset("a1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Serial).To(Equal("AB12CDE"))
			Expect(got.Name).To(Equal("Laptop a1"))
		})

		It("should return ErrNotFound for a missing ID", func() {
			_, err := store.GetAsset("missing")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})

		It("should reindex when the serial changes", func() {
			Expect(store.SaveAsset(newAsset("a1", "AB12CDE"))).To(Succeed())
			Expect(store.SaveAsset(newAsset("a1", "ZZ98YXW"))).To(Succeed())

			_, err := store.FindBySerial("AB12CDE")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())

			got, err := store.FindBySerial("ZZ98YXW")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal("a1"))
		})
	})

	Describe("ListAssets", func() {
		It("should return an empty slice for an empty store", func() {
			assets, err := store.ListAssets()
			Expect(err).NotTo(HaveOccurred())
			Expect(assets).NotTo(BeNil())
			Expect(assets).To(BeEmpty())
		})

		It("should return every asset ordered by ID", func() {
			Expect(store.SaveAsset(newAsset("b", "BB11CCD"))).To(Succeed())
			Expect(store.SaveAsset(newAsset("a", "AA11BCD"))).To(Succeed())

			assets, err := store.ListAssets()
			Expect(err).NotTo(HaveOccurred())
			Expect(assets).To(HaveLen(2))
			Expect(assets[0].ID).To(Equal("a"))
			Expect(assets[1].ID).To(Equal("b"))
		})
	})

	Describe("FindBySerial", func() {
		DescribeTable("matching scanned codes against stored serials",
			func(stored, scanned string, found bool) {
				Expect(store.SaveAsset(newAsset("a1", stored))).To(Succeed())

				got, err := store.FindBySerial(scanned)
				if !found {
					Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
					return
				}
				Expect(err).NotTo(HaveOccurred())
				Expect(got.ID).To(Equal("a1"))
			},
			Entry("exact", "AB12CDE", "AB12CDE", true),
			Entry("case-insensitive", "AB12CDE", "ab12cde", true),
			Entry("surrounding whitespace", "AB12CDE", "  AB12CDE\n", true),
			Entry("stored with a digit, scanned normalized", "A1B2C3D", "AIB2C3D", true),
			Entry("stored normalized, scanned with a digit", "ABCIDEF", "ABC1DEF", true),
			Entry("non-serial barcode", "0123456789012", "0123456789012", true),
			Entry("unknown", "AB12CDE", "XY34ZZZ", false),
			Entry("empty", "AB12CDE", "", false),
		)
	})

	Describe("DeleteAsset", func() {
		It("should remove the asset and its index", func() {
			Expect(store.SaveAsset(newAsset("a1", "A1B2C3D"))).To(Succeed())
			Expect(store.DeleteAsset("a1")).To(Succeed())

			_, err := store.GetAsset("a1")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
			_, err = store.FindBySerial("AIB2C3D")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})

		It("should keep an index entry owned by another asset", func() {
			Expect(store.SaveAsset(newAsset("a1", "AB12CDE"))).To(Succeed())
			Expect(store.SaveAsset(newAsset("a2", "AB12CDE"))).To(Succeed())
			Expect(store.DeleteAsset("a1")).To(Succeed())

			got, err := store.FindBySerial("AB12CDE")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal("a2"))
		})

		It("should return ErrNotFound for a missing ID", func() {
			Expect(errors.Is(store.DeleteAsset("missing"), ErrNotFound)).To(BeTrue())
		})
	})

	Describe("MarkVerified", func() {
		It("should persist the flag and timestamp", func() {
			Expect(store.SaveAsset(newAsset("a1", "AB12CDE"))).To(Succeed())
			at := now.Add(time.Hour)

			got, err := store.MarkVerified("a1", at)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Verified).To(BeTrue())
			Expect(*got.VerifiedAt).To(BeTemporally("==", at))

			reloaded, err := store.GetAsset("a1")
			Expect(err).NotTo(HaveOccurred())
			Expect(reloaded.Verified).To(BeTrue())
			Expect(reloaded.UpdatedAt).To(BeTemporally("==", at))
		})

		It("should return ErrNotFound for a missing ID", func() {
			_, err := store.MarkVerified("missing", now)
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})
	})
})
