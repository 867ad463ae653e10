// Package imageproc downloads source images and re-encodes them as JPEG at a
// reduced quality, writing the result to a transient file the caller owns.
package imageproc

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

const (
	// DefaultQuality is the JPEG quality used when the caller passes 0.
	DefaultQuality = 50

	maxAttempts  = 3
	fetchTimeout = 10 * time.Second
)

// ErrDecode marks a payload that was fetched but could not be read as an image.
var ErrDecode = errors.New("undecodable image payload")

// Artifact is a recompressed image written to ephemeral storage. The caller
// must call Release after use regardless of downstream outcome.
type Artifact struct {
	Path string
}

// Release removes the transient file. Releasing twice is safe.
func (a *Artifact) Release() error {
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("imageproc.Release: %v", err)
	}
	return nil
}

type Client struct {
	http    *http.Client
	tempDir string
}

func NewClient() *Client {
	return &Client{
		http:    &http.Client{Timeout: fetchTimeout},
		tempDir: os.TempDir(),
	}
}

// FetchAndCompress downloads one image and produces a recompressed JPEG
// artifact. Any failure kind is retried up to the attempt bound with no delay
// between attempts. On exhaustion the returned error describes the last
// failure; the caller must treat it as "this URL could not be processed" and
// move on.
func (c *Client) FetchAndCompress(ctx context.Context, url string, quality int) (*Artifact, error) {
	const op = "imageproc.FetchAndCompress"

	if quality <= 0 {
		quality = DefaultQuality
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		art, err := c.fetchOnce(ctx, url, quality)
		if err == nil {
			return art, nil
		}
		lastErr = err
		log.Printf("fetch attempt %d/%d for %s failed: %v", attempt, maxAttempts, url, err)
	}
	return nil, fmt.Errorf("%s: %d attempts exhausted for %s: %w", op, maxAttempts, url, lastErr)
}

func (c *Client) fetchOnce(ctx context.Context, url string, quality int) (*Artifact, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	src, err := imaging.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	// JPEG has no alpha channel; flatten transparent images onto white so
	// the output is a plain 3-channel image.
	src = flatten(src)

	path := filepath.Join(c.tempDir, uuid.New().String()+".jpg")
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if err := imaging.Encode(f, src, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, err
	}
	return &Artifact{Path: path}, nil
}

func flatten(src image.Image) image.Image {
	if o, ok := src.(interface{ Opaque() bool }); ok && o.Opaque() {
		return src
	}
	b := src.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, src, image.Point{}, 1.0)
}
