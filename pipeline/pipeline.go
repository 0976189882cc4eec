// Package pipeline turns a decoded message into line items: attachments are
// materialized to scratch storage and extracted, a prompt is sent to the
// reasoning service and its answer parsed as a JSON array.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/dhcgn/receipt-watcher/extract"
	"github.com/dhcgn/receipt-watcher/llm"
	"github.com/dhcgn/receipt-watcher/model"
)

type Options struct {
	Model        string
	MaxTokens    int
	Temperature  float64
	SystemPrompt string
	PromptExtra  string
	// ScratchDir holds attachment files while a message is processed.
	// Empty uses the default temp directory of the file system.
	ScratchDir string
	// Extractor defaults to extract.Extract.
	Extractor extract.Func
}

type Pipeline struct {
	completer llm.Completer
	fs        afero.Fs
	opts      Options
	logger    *slog.Logger
}

func New(completer llm.Completer, scratch afero.Fs, opts Options, logger *slog.Logger) *Pipeline {
	if scratch == nil {
		scratch = afero.NewOsFs()
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if opts.Extractor == nil {
		opts.Extractor = extract.Extract
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{completer: completer, fs: scratch, opts: opts, logger: logger}
}

// Run extracts every attachment, asks the reasoning service for line items
// and parses the answer. A service or parse failure is returned as a
// *model.AnalysisError with no items; the message then counts as processed
// with zero items. Scratch files are removed before Run returns.
func (p *Pipeline) Run(ctx context.Context, msg model.DecodedMessage) ([]model.LineItem, error) {
	sc := newScratch(p.fs, p.opts.ScratchDir)
	defer sc.release(p.logger)

	texts := make([]AttachmentText, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		res := p.extractAttachment(sc, a)
		if res.Err != nil {
			p.logger.Warn("attachment extraction failed", "messageID", msg.ID, "filename", a.Filename, "err", res.Err)
		} else {
			p.logger.Debug("attachment extracted", "messageID", msg.ID, "filename", a.Filename, "format", res.Format)
		}
		texts = append(texts, AttachmentText{Filename: a.Filename, Text: res.String()})
	}

	prompt := BuildPrompt(msg, texts, p.opts.PromptExtra)
	p.logger.Info("prompt assembled", "messageID", msg.ID, "size", len(prompt), "attachments", len(texts))

	temperature := p.opts.Temperature
	response, err := p.completer.Complete(ctx, llm.Request{
		System:      p.opts.SystemPrompt,
		Prompt:      prompt,
		Model:       p.opts.Model,
		MaxTokens:   p.opts.MaxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		return nil, &model.AnalysisError{Op: "complete", Err: err}
	}

	items, err := ParseLineItems(response)
	if err != nil {
		p.logger.Error("could not parse line items", "messageID", msg.ID, "err", err, "response", response)
		return nil, &model.AnalysisError{Op: "parse response", Err: err}
	}
	return items, nil
}

func (p *Pipeline) extractAttachment(sc *scratch, a model.Attachment) (res extract.Result) {
	format := extract.RefineFormat(a.DeclaredFormat, a.Filename)

	f, err := sc.materialize(a.Content)
	if err != nil {
		return extract.Result{Format: format, Err: &model.ExtractionError{Format: format, Err: err}}
	}

	defer func() {
		if r := recover(); r != nil {
			res = extract.Result{Format: format, Err: &model.ExtractionError{Format: format, Err: fmt.Errorf("panic: %v", r)}}
		}
	}()
	return p.opts.Extractor(f, int64(len(a.Content)), format)
}

// scratch tracks the temporary files of one Run.
type scratch struct {
	fs    afero.Fs
	dir   string
	files []afero.File
}

func newScratch(fs afero.Fs, dir string) *scratch {
	return &scratch{fs: fs, dir: dir}
}

func (s *scratch) materialize(content []byte) (afero.File, error) {
	if s.dir != "" {
		if err := s.fs.MkdirAll(s.dir, 0o700); err != nil {
			return nil, fmt.Errorf("create scratch dir: %w", err)
		}
	}
	f, err := afero.TempFile(s.fs, s.dir, "attachment-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}
	s.files = append(s.files, f)

	if _, err := f.Write(content); err != nil {
		return nil, fmt.Errorf("write scratch file: %w", err)
	}
	return f, nil
}

func (s *scratch) release(logger *slog.Logger) {
	for _, f := range s.files {
		name := f.Name()
		_ = f.Close()
		if err := s.fs.Remove(name); err != nil {
			logger.Error("removing scratch file failed", "path", name, "err", err)
		}
	}
	s.files = nil
}
