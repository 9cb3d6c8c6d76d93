package media

import (
	"image"
	"image/draw"

	xdraw "golang.org/x/image/draw"
)

// Background selects the virtual background applied to outgoing video.
type Background string

const (
	// BackgroundNone sends the raw camera frames.
	BackgroundNone Background = "none"
	// BackgroundBlur blurs the frame around the subject.
	BackgroundBlur Background = "blur"
	// BackgroundImage replaces the surroundings with a still image.
	BackgroundImage Background = "image"
)

// FrameTransform rewrites one video frame. Implementations must not retain
// src past the call; dst is freshly allocated per frame.
type FrameTransform func(src image.Image) image.Image

// MatteFunc produces a per-pixel foreground matte for a frame: 0xff where
// the subject is, 0x00 where the background shows through. When no matte is
// available the compositor falls back to a fixed center inset, which keeps
// the subject region sharp without segmentation.
type MatteFunc func(src image.Image) *image.Alpha

// blurRadius is the box blur radius for BackgroundBlur, chosen to obscure
// room detail at typical webcam resolutions.
const blurRadius = 8

// transformFor builds the frame transform for a background selection.
// bg != BackgroundImage ignores img; matte may be nil.
func transformFor(bg Background, img image.Image, matte MatteFunc) FrameTransform {
	switch bg {
	case BackgroundBlur:
		return func(src image.Image) image.Image {
			return compose(src, boxBlur(src, blurRadius), matte)
		}
	case BackgroundImage:
		return func(src image.Image) image.Image {
			return compose(src, underlay(img, src.Bounds()), matte)
		}
	default:
		return func(src image.Image) image.Image { return src }
	}
}

// compose lays the subject region of src over the prepared background.
// With a matte the subject follows its exact silhouette; without one a
// centered window covering three quarters of the frame stands in for it.
func compose(src image.Image, background *image.RGBA, matte MatteFunc) *image.RGBA {
	out := background
	if matte != nil {
		draw.DrawMask(out, out.Bounds(), src, src.Bounds().Min, matte(src), src.Bounds().Min, draw.Over)
		return out
	}
	b := src.Bounds()
	inset := b.Inset(min(b.Dx(), b.Dy()) / 8)
	draw.Draw(out, inset, src, inset.Min, draw.Src)
	return out
}

// underlay scales the background image to fill bounds, cropping overflow so
// the aspect ratio of the source image is preserved.
func underlay(img image.Image, bounds image.Rectangle) *image.RGBA {
	out := image.NewRGBA(bounds)
	if img == nil {
		return out
	}
	sb := img.Bounds()
	if sb.Empty() || bounds.Empty() {
		return out
	}

	// Scale factor that covers the target in both dimensions.
	sx := float64(bounds.Dx()) / float64(sb.Dx())
	sy := float64(bounds.Dy()) / float64(sb.Dy())
	scale := sx
	if sy > sx {
		scale = sy
	}
	w := int(float64(sb.Dx()) * scale)
	h := int(float64(sb.Dy()) * scale)
	dst := image.Rect(0, 0, w, h).
		Add(bounds.Min).
		Add(image.Pt((bounds.Dx()-w)/2, (bounds.Dy()-h)/2))

	xdraw.ApproxBiLinear.Scale(out, dst, img, sb, xdraw.Src, nil)
	return out
}

// boxBlur applies a two-pass box blur, horizontal then vertical. A box blur
// is coarse next to a gaussian but runs per frame without breaking a sweat.
func boxBlur(src image.Image, radius int) *image.RGBA {
	b := src.Bounds()
	in := image.NewRGBA(b)
	draw.Draw(in, b, src, b.Min, draw.Src)
	if radius <= 0 {
		return in
	}

	tmp := image.NewRGBA(b)
	blurPass(in, tmp, radius, true)
	out := image.NewRGBA(b)
	blurPass(tmp, out, radius, false)
	return out
}

func blurPass(in, out *image.RGBA, radius int, horizontal bool) {
	b := in.Bounds()
	w, h := b.Dx(), b.Dy()

	length, lines := w, h
	if !horizontal {
		length, lines = h, w
	}
	window := 2*radius + 1

	for line := 0; line < lines; line++ {
		var r, g, bl, a int
		// Prime the sliding window around position 0, clamping at edges.
		for k := -radius; k <= radius; k++ {
			c := pixelAt(in, line, clampIdx(k, length), horizontal)
			r += int(c.R)
			g += int(c.G)
			bl += int(c.B)
			a += int(c.A)
		}
		for i := 0; i < length; i++ {
			setPixel(out, line, i, horizontal, uint8(r/window), uint8(g/window), uint8(bl/window), uint8(a/window))
			leave := pixelAt(in, line, clampIdx(i-radius, length), horizontal)
			enter := pixelAt(in, line, clampIdx(i+radius+1, length), horizontal)
			r += int(enter.R) - int(leave.R)
			g += int(enter.G) - int(leave.G)
			bl += int(enter.B) - int(leave.B)
			a += int(enter.A) - int(leave.A)
		}
	}
}

func clampIdx(i, length int) int {
	if i < 0 {
		return 0
	}
	if i >= length {
		return length - 1
	}
	return i
}

type rgba8 struct{ R, G, B, A uint8 }

func pixelAt(img *image.RGBA, line, i int, horizontal bool) rgba8 {
	x, y := i, line
	if !horizontal {
		x, y = line, i
	}
	off := img.PixOffset(img.Rect.Min.X+x, img.Rect.Min.Y+y)
	p := img.Pix[off : off+4 : off+4]
	return rgba8{p[0], p[1], p[2], p[3]}
}

func setPixel(img *image.RGBA, line, i int, horizontal bool, r, g, b, a uint8) {
	x, y := i, line
	if !horizontal {
		x, y = line, i
	}
	off := img.PixOffset(img.Rect.Min.X+x, img.Rect.Min.Y+y)
	p := img.Pix[off : off+4 : off+4]
	p[0], p[1], p[2], p[3] = r, g, b, a
}
