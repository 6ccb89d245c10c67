package frame

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestFrame(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Frame Suite")
}

// gradient returns an opaque image whose red channel encodes x and green encodes y
func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}
	return img
}

func rgbaAt(img image.Image, x, y int) color.NRGBA {
	b := img.Bounds()
	return color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
}

var _ = Describe("Region", func() {
	bounds := image.Rect(0, 0, 100, 50)

	DescribeTable("Bounds",
		func(r Region, want image.Rectangle) {
			Expect(r.Bounds(bounds)).To(Equal(want))
		},
		Entry("full", RegionFull, image.Rect(0, 0, 100, 50)),
		Entry("center80", RegionCenter80, image.Rect(10, 5, 90, 45)),
		Entry("center60", RegionCenter60, image.Rect(20, 10, 80, 40)),
		Entry("top-left", RegionTopLeft, image.Rect(0, 0, 70, 35)),
		Entry("top-right", RegionTopRight, image.Rect(30, 0, 100, 35)),
		Entry("bottom-left", RegionBottomLeft, image.Rect(0, 15, 70, 50)),
		Entry("bottom-right", RegionBottomRight, image.Rect(30, 15, 100, 50)),
	)

	It("should respect a non-zero origin", func() {
		b := image.Rect(10, 20, 110, 70)
		Expect(RegionBottomRight.Bounds(b)).To(Equal(image.Rect(40, 35, 110, 70)))
		Expect(RegionCenter80.Bounds(b)).To(Equal(image.Rect(20, 25, 100, 65)))
	})

	It("should list seven distinct regions", func() {
		names := map[string]struct{}{}
		for _, r := range Regions {
			names[r.String()] = struct{}{}
		}
		Expect(Regions).To(HaveLen(7))
		Expect(names).To(HaveLen(7))
	})
})

var _ = Describe("Enhance", func() {
	DescribeTable("linear contrast",
		func(in, want int) {
			Expect(Enhance(uint8(in))).To(Equal(uint8(want)))
		},
		Entry("midpoint is fixed", 128, 128),
		Entry("black clamps to zero", 0, 0),
		Entry("dark clamps to zero", 29, 0),
		Entry("first non-zero output", 30, 1),
		Entry("white clamps", 255, 255),
		Entry("bright clamps", 226, 255),
		Entry("rounds to the nearest value", 100, 92),
		Entry("upper mid", 200, 222),
	)

	It("should be monotonic", func() {
		for v := 1; v < 256; v++ {
			Expect(Enhance(uint8(v))).To(BeNumerically(">=", Enhance(uint8(v-1))))
		}
	})
})

var _ = Describe("Sample", func() {
	var src *image.NRGBA

	BeforeEach(func() {
		src = gradient(100, 50)
	})

	When("contrast is normal", func() {
		It("should return the cropped pixels unchanged", func() {
			out := Sample(src, RegionCenter60, ContrastNormal)
			Expect(out.Bounds().Dx()).To(Equal(60))
			Expect(out.Bounds().Dy()).To(Equal(30))
			Expect(rgbaAt(out, 0, 0)).To(Equal(color.NRGBA{R: 20, G: 10, B: 100, A: 255}))
		})
	})

	When("contrast is enhanced", func() {
		It("should transform every colour channel", func() {
			out := Sample(src, RegionTopLeft, ContrastEnhanced)
			Expect(out.Bounds().Dx()).To(Equal(70))
			Expect(rgbaAt(out, 60, 30)).To(Equal(color.NRGBA{
				R: Enhance(60),
				G: Enhance(30),
				B: Enhance(100),
				A: 255,
			}))
		})
	})

	It("should not modify the source frame", func() {
		before := append([]uint8(nil), src.Pix...)
		Sample(src, RegionFull, ContrastEnhanced)
		Expect(src.Pix).To(Equal(before))
	})

	It("should be deterministic", func() {
		a := Sample(src, RegionBottomRight, ContrastEnhanced)
		b := Sample(src, RegionBottomRight, ContrastEnhanced)
		Expect(a).To(Equal(b))
	})
})

var _ = Describe("Rotate", func() {
	var src *image.NRGBA

	BeforeEach(func() {
		src = gradient(4, 2)
	})

	It("should leave upright frames alone", func() {
		Expect(Rotate(src, Rotate0)).To(BeIdenticalTo(src))
	})

	It("should swap dimensions for quarter turns", func() {
		for _, r := range []Rotation{Rotate90, Rotate270} {
			out := Rotate(src, r)
			Expect(out.Bounds().Dx()).To(Equal(2))
			Expect(out.Bounds().Dy()).To(Equal(4))
		}
	})

	It("should turn clockwise", func() {
		out := Rotate(src, Rotate90)
		// the bottom-left source pixel moves to the top-left
		Expect(rgbaAt(out, 0, 0)).To(Equal(rgbaAt(src, 0, 1)))
	})

	It("should move the first pixel to the last for a half turn", func() {
		out := Rotate(src, Rotate180)
		Expect(rgbaAt(out, 3, 1)).To(Equal(rgbaAt(src, 0, 0)))
	})
})

var _ = Describe("DecodeImage", func() {
	It("should decode PNG frames", func() {
		var buf bytes.Buffer
		Expect(png.Encode(&buf, gradient(8, 4))).To(Succeed())

		img, err := DecodeImage(buf.Bytes(), "image/png")
		Expect(err).NotTo(HaveOccurred())
		Expect(img.Bounds().Dx()).To(Equal(8))
	})

	It("should reject unknown data", func() {
		_, err := DecodeImage([]byte("not an image"), "")
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("unsupported image format"))
	})

	It("should recognise HEIC brands", func() {
		data := append([]byte{0, 0, 0, 24}, []byte("ftypheic")...)
		Expect(isHEICFormat(data)).To(BeTrue())
		Expect(isHEICFormat([]byte("ftyp"))).To(BeFalse())
	})
})

var _ = Describe("ContentTypeForPath", func() {
	It("should map known extensions", func() {
		Expect(ContentTypeForPath("a/b.JPG")).To(Equal("image/jpeg"))
		Expect(ContentTypeForPath("scan.heic")).To(Equal("image/heic"))
		Expect(ContentTypeForPath("label.pdf")).To(Equal("application/pdf"))
		Expect(ContentTypeForPath("notes.txt")).To(BeEmpty())
	})
})

var _ = Describe("raw buffers", func() {
	It("should convert YUYV", func() {
		buf := []byte{10, 128, 20, 128, 30, 128, 40, 128}
		img, err := FromYUYV(buf, 4, 1)
		Expect(err).NotTo(HaveOccurred())
		ycc := img.(*image.YCbCr)
		Expect(ycc.Y).To(Equal([]uint8{10, 20, 30, 40}))
	})

	It("should reject short YUYV buffers", func() {
		_, err := FromYUYV([]byte{1, 2}, 4, 1)
		Expect(err).To(HaveOccurred())
	})

	It("should convert GREY", func() {
		img, err := FromGrey([]byte{1, 2, 3, 4}, 2, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(img.(*image.Gray).GrayAt(1, 1).Y).To(Equal(uint8(4)))
	})

	It("should encode preview JPEGs", func() {
		var buf bytes.Buffer
		Expect(EncodeJPEG(&buf, gradient(16, 16))).To(Succeed())
		Expect(buf.Bytes()[:2]).To(Equal([]byte{0xFF, 0xD8}))
	})
})
