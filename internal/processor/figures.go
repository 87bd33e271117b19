package processor

import (
	"context"
	"encoding/base64"
	"image"
	"log"
	"sync"

	"github.com/sanbuphy/SmartPaper/internal/clients"
	"github.com/sanbuphy/SmartPaper/internal/errors"
	"github.com/sanbuphy/SmartPaper/internal/figures"
	"github.com/sanbuphy/SmartPaper/internal/layout"
	"github.com/sanbuphy/SmartPaper/internal/render"
)

// captionMaxSide bounds the crop sent to caption models
const captionMaxSide = 1568

// FigureUploader stores figure crops and returns the link to embed
type FigureUploader interface {
	UploadFigure(ctx context.Context, jobID, filename string, jpeg []byte, metadata map[string]interface{}) (string, error)
}

// FigureCache remembers captions by crop content
type FigureCache interface {
	Get(ctx context.Context, crop []byte) (*figures.Entry, error)
	Put(ctx context.Context, crop []byte, entry figures.Entry) error
}

func countFigures(boxes []layout.Box) int {
	n := 0
	for _, b := range boxes {
		if b.Kind().IsFigure() {
			n++
		}
	}
	return n
}

// processFigures crops, captions and uploads every figure box with bounded
// concurrency. The result is keyed by box index. Figures that fail are left
// out and render from their caption text.
func (p *PageProcessor) processFigures(ctx context.Context, req *PageRequest, img image.Image, boxes []layout.Box) map[int]render.Figure {
	var indexes []int
	for i, b := range boxes {
		if b.Kind().IsFigure() {
			indexes = append(indexes, i)
		}
	}

	results := make([]*render.Figure, len(indexes))
	sem := make(chan struct{}, p.config.FigureConcurrency)
	var wg sync.WaitGroup

	for n, i := range indexes {
		wg.Add(1)
		go func(n, i int) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			fig, err := p.processFigure(ctx, req, img, boxes[i], i)
			if err != nil {
				log.Printf("[Job %s] WARNING: Figure %d (%s) skipped: %v", req.JobID, i, boxes[i].Label, err)
				return
			}
			results[n] = fig
		}(n, i)
	}
	wg.Wait()

	out := make(map[int]render.Figure, len(indexes))
	for n, i := range indexes {
		if results[n] != nil {
			out[i] = *results[n]
		}
	}
	return out
}

func (p *PageProcessor) processFigure(ctx context.Context, req *PageRequest, img image.Image, box layout.Box, index int) (*render.Figure, error) {
	crop, err := figures.Crop(img, box.Coordinate)
	if err != nil {
		return nil, err
	}
	data, err := figures.EncodeJPEG(crop)
	if err != nil {
		return nil, err
	}

	caption := p.captionFigure(ctx, req, crop, data, index)
	fig := &render.Figure{
		Title:       caption.Title,
		Description: caption.Description,
		Link:        figures.DataURI(data, "image/jpeg"),
	}

	if p.artifacts != nil {
		url, err := p.artifacts.UploadFigure(ctx, req.JobID, figures.NewFilename(), data, map[string]interface{}{
			"page":     req.PageNumber,
			"boxIndex": index,
			"label":    box.Label,
			"title":    caption.Title,
		})
		if err != nil {
			log.Printf("[Job %s] WARNING: Figure %d upload failed: %v. Embedding as data URI.", req.JobID, index, err)
		} else {
			fig.Link = url
		}
	}

	return fig, nil
}

// captionFigure returns the cached caption for the crop or asks the
// captioner. A failed caption degrades to the default title.
func (p *PageProcessor) captionFigure(ctx context.Context, req *PageRequest, crop image.Image, data []byte, index int) clients.Caption {
	if p.cache != nil {
		entry, err := p.cache.Get(ctx, data)
		if err != nil {
			log.Printf("[Job %s] WARNING: %v", req.JobID, err)
		} else if entry != nil {
			return clients.Caption{Title: entry.Title, Description: entry.Description}
		}
	}

	input := data
	if scaled := figures.Scale(crop, captionMaxSide); scaled != crop {
		if encoded, err := figures.EncodeJPEG(scaled); err == nil {
			input = encoded
		}
	}

	caption, err := p.captioner.Caption(ctx, input, "image/jpeg")
	if err != nil {
		log.Printf("[Job %s] WARNING: %v", req.JobID, errors.NewCaptionFailedError(req.JobID, index, err))
		return clients.Caption{Title: clients.DefaultCaptionTitle}
	}

	if p.cache != nil && (caption.Title != "" || caption.Description != "") {
		entry := figures.Entry{
			Base64:      base64.StdEncoding.EncodeToString(data),
			Title:       caption.Title,
			Description: caption.Description,
		}
		if err := p.cache.Put(ctx, data, entry); err != nil {
			log.Printf("[Job %s] WARNING: %v", req.JobID, err)
		}
	}
	return caption
}
