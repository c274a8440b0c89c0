package classifier

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"time"

	xdraw "golang.org/x/image/draw"
)

const maxImageBytes = 10 << 20

// ImageFetcher downloads and shrinks attachment images before the vision call
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// HTTPImageFetcher fetches over HTTP and re-encodes to JPEG no larger than maxEdge
type HTTPImageFetcher struct {
	client  *http.Client
	maxEdge int
}

func NewHTTPImageFetcher(timeout time.Duration, maxEdge int) *HTTPImageFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPImageFetcher{client: &http.Client{Timeout: timeout}, maxEdge: maxEdge}
}

func (f *HTTPImageFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("image fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image: %w", err)
	}
	return PrepareImage(data, f.maxEdge)
}

// PrepareImage decodes png/jpeg data, downsizes it so the longest edge is at
// most maxEdge and returns JPEG bytes
func PrepareImage(data []byte, maxEdge int) ([]byte, string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	if maxEdge > 0 {
		img = resizeImage(img, maxEdge)
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, "", fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}

func resizeImage(src image.Image, maxEdge int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxEdge && h <= maxEdge {
		return src
	}

	var nw, nh int
	if w >= h {
		nw = maxEdge
		nh = max(1, int(float64(h)*float64(maxEdge)/float64(w)))
	} else {
		nh = maxEdge
		nw = max(1, int(float64(w)*float64(maxEdge)/float64(h)))
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	imagedraw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, imagedraw.Src)
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Over, nil)
	return dst
}
