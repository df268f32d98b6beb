package extraction

import (
	"bytes"
	"image"
	"image/color"
	"image/png"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// testPNG renders a small solid PNG for conversion tests
func testPNG(width, height int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 200, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

var _ = Describe("CompressForStorage", func() {
	var (
		input       []byte
		contentType string
		output      []byte
		storedType  string
		err         error
	)

	JustBeforeEach(func() {
		output, storedType, err = CompressForStorage(input, contentType, 1200, 80)
	})

	When("compressing a small PNG", func() {
		BeforeEach(func() {
			input = testPNG(100, 60)
			contentType = "image/png"
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should re-encode as JPEG", func() {
			Expect(storedType).To(Equal("image/jpeg"))
			img, format, decodeErr := image.Decode(bytes.NewReader(output))
			Expect(decodeErr).NotTo(HaveOccurred())
			Expect(format).To(Equal("jpeg"))
			Expect(img.Bounds().Dx()).To(Equal(100))
			Expect(img.Bounds().Dy()).To(Equal(60))
		})
	})

	When("compressing an oversized image", func() {
		BeforeEach(func() {
			input = testPNG(2400, 1200)
			contentType = "image/png"
		})

		It("should bound the longest edge and keep the aspect ratio", func() {
			Expect(err).NotTo(HaveOccurred())
			img, _, decodeErr := image.Decode(bytes.NewReader(output))
			Expect(decodeErr).NotTo(HaveOccurred())
			Expect(img.Bounds().Dx()).To(Equal(1200))
			Expect(img.Bounds().Dy()).To(Equal(600))
		})
	})

	When("compressing unreadable data", func() {
		BeforeEach(func() {
			input = []byte("not an image")
			contentType = "image/jpeg"
		})

		It("returns the error", func() {
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("scaleDown", func() {
	It("leaves images within bounds untouched", func() {
		img := image.NewRGBA(image.Rect(0, 0, 800, 600))
		Expect(scaleDown(img, 1200)).To(BeIdenticalTo(image.Image(img)))
	})

	It("scales the shorter edge proportionally", func() {
		img := image.NewRGBA(image.Rect(0, 0, 1000, 3000))
		scaled := scaleDown(img, 1200)
		Expect(scaled.Bounds().Dy()).To(Equal(1200))
		Expect(scaled.Bounds().Dx()).To(Equal(400))
	})
})
