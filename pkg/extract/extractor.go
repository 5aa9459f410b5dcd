// Package extract reconstructs logical datasets from a streamed export file.
//
// The export is an arbitrarily shaped JSON document; no fixed schema is
// assumed. The extractor walks a token-level parse while maintaining an
// explicit stack of frames, establishes dataset identity lazily from two
// conventions (container key, named field), and captures rows and schemas
// through independent sub-assemblers so the whole file never needs to fit in
// memory.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/caseflow-io/caseflow-engine/pkg/apperrors"
	"github.com/caseflow-io/caseflow-engine/pkg/models"
)

// StagingSink receives full rows of preserved datasets in batches.
type StagingSink interface {
	StageBatch(ctx context.Context, dataset string, rows []models.StageRow) error
}

// Options configures one extraction run.
type Options struct {
	// SampleRowLimit bounds the number of sanitized preview rows retained
	// per dataset.
	SampleRowLimit int

	// StageBatchSize is how many preserved rows accumulate before a staging
	// write is issued.
	StageBatchSize int

	// PreserveDatasets names the datasets whose rows are forwarded to the
	// staging sink in full.
	PreserveDatasets []string

	// Sink receives preserved rows. May be nil when nothing is preserved.
	Sink StagingSink

	// OnByteProgress receives byte-level progress reports when the source
	// size is known. May be nil.
	OnByteProgress ProgressFunc
}

// Result is the outcome of one extraction run.
type Result struct {
	Datasets []*models.DatasetSummary
	Meta     models.ExtractMeta
}

// Keys recognized by the two dataset-identity conventions and the capture
// contexts. Spellings cover the export shapes observed in the wild.
var (
	containerKeys = map[string]bool{"datasets": true, "tables": true}
	rowArrayKeys  = map[string]bool{"rows": true, "data": true, "items": true}
	schemaKeys    = map[string]bool{"schema": true, "columns": true}
	nameFieldKeys = map[string]bool{"name": true, "dataset": true}

	attachmentPattern = regexp.MustCompile(`(?i)attachment`)
)

// Extractor streams datasets out of an export source.
type Extractor struct {
	opts   Options
	logger *zap.Logger
}

// New creates an Extractor.
func New(opts Options, logger *zap.Logger) *Extractor {
	if opts.SampleRowLimit < 0 {
		opts.SampleRowLimit = 0
	}
	if opts.StageBatchSize <= 0 {
		opts.StageBatchSize = 500
	}
	return &Extractor{opts: opts, logger: logger.Named("extract")}
}

type frameKind int

const (
	frameObject frameKind = iota
	frameArray
)

type frame struct {
	kind    frameKind
	key     string // key under which this frame appeared in its parent object
	dataset string // inherited or claimed dataset name, "" if none yet
	claims  bool   // this frame established its dataset's identity

	// object frames only: pending key state
	pendingKey string
	keySet     bool
}

type captureKind int

const (
	captureRow captureKind = iota
	captureSchema
)

type capture struct {
	id      int
	kind    captureKind
	dataset string
	asm     *valueAssembler
}

type datasetState struct {
	summary  *models.DatasetSummary
	preserve bool
	complete bool
	batch    []models.StageRow
}

type runState struct {
	ctx       context.Context
	opts      Options
	logger    *zap.Logger
	stack     []*frame
	captures  map[int]*capture
	nextCapID int
	datasets  map[string]*datasetState
	order     []string
	preserve  map[string]bool
	staged    int
}

// Run extracts every dataset from the source. On cooperative cancellation the
// returned result contains only datasets that were fully closed before the
// abort, alongside an error wrapping apperrors.ErrCanceled. Any other failure
// (parse error, staging sink error) discards partial summaries entirely.
func (e *Extractor) Run(ctx context.Context, src *Source) (*Result, error) {
	rc, size, err := src.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	counting := NewCountingReader(rc, size, e.opts.OnByteProgress)
	dec := json.NewDecoder(counting)
	dec.UseNumber()

	run := &runState{
		ctx:      ctx,
		opts:     e.opts,
		logger:   e.logger,
		captures: make(map[int]*capture),
		datasets: make(map[string]*datasetState),
		preserve: make(map[string]bool, len(e.opts.PreserveDatasets)),
	}
	for _, name := range e.opts.PreserveDatasets {
		run.preserve[name] = true
	}

	for {
		// Abort is cooperative, checked at every token.
		if ctx.Err() != nil {
			return run.partialResult(), fmt.Errorf("extraction aborted: %w", apperrors.ErrCanceled)
		}

		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			// EOF with frames still open means the export was cut off at a
			// token boundary; the decoder itself only catches mid-token cuts.
			if len(run.stack) != 0 {
				return nil, fmt.Errorf("failed to parse export stream: %w", io.ErrUnexpectedEOF)
			}
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse export stream: %w", err)
		}

		if err := run.handle(tok); err != nil {
			if errors.Is(err, apperrors.ErrCanceled) {
				return run.partialResult(), err
			}
			return nil, err
		}
	}

	if err := run.flushAll(); err != nil {
		return nil, err
	}

	e.logger.Info("Extraction complete",
		zap.Int("datasets", len(run.order)),
		zap.Int("staged_rows", run.staged),
		zap.Int64("bytes_read", counting.BytesRead()))

	return run.fullResult(), nil
}

func (r *runState) top() *frame {
	if len(r.stack) == 0 {
		return nil
	}
	return r.stack[len(r.stack)-1]
}

func (r *runState) handle(tok json.Token) error {
	// Spawn checks need the stack state from before this token mutates it.
	r.maybeSpawnCapture(tok)

	if err := r.feedCaptures(tok); err != nil {
		return err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			r.pushFrame(frameObject)
		case '[':
			r.pushFrame(frameArray)
		case '}', ']':
			return r.popFrame()
		}

	case string:
		if parent := r.top(); parent != nil && parent.kind == frameObject {
			if !parent.keySet {
				parent.pendingKey = t
				parent.keySet = true
				return nil
			}
			// Scalar string value: named-field convention.
			key := parent.pendingKey
			parent.keySet = false
			if nameFieldKeys[key] {
				r.claimByName(t)
			}
			return nil
		}

	default:
		// Non-string scalar value.
		if parent := r.top(); parent != nil && parent.kind == frameObject && parent.keySet {
			parent.keySet = false
		}
	}

	return nil
}

// maybeSpawnCapture starts a sub-assembler when a container opens in a row or
// schema context. Each active capture is driven with every subsequent token
// until its own depth returns to zero.
func (r *runState) maybeSpawnCapture(tok json.Token) {
	delim, ok := tok.(json.Delim)
	if !ok || (delim != '{' && delim != '[') {
		return
	}

	parent := r.top()
	if parent == nil || parent.dataset == "" {
		return
	}

	switch parent.kind {
	case frameArray:
		if delim == '{' && rowArrayKeys[parent.key] {
			r.spawn(captureRow, parent.dataset)
		}
	case frameObject:
		if parent.keySet && schemaKeys[parent.pendingKey] {
			r.spawn(captureSchema, parent.dataset)
		}
	}
}

func (r *runState) spawn(kind captureKind, dataset string) {
	r.nextCapID++
	r.captures[r.nextCapID] = &capture{
		id:      r.nextCapID,
		kind:    kind,
		dataset: dataset,
		asm:     &valueAssembler{},
	}
}

func (r *runState) feedCaptures(tok json.Token) error {
	for id, c := range r.captures {
		v, done, err := c.asm.feed(tok)
		if err != nil {
			return fmt.Errorf("capture for dataset %q failed: %w", c.dataset, err)
		}
		if !done {
			continue
		}
		delete(r.captures, id)
		if err := r.deliver(c, v); err != nil {
			return err
		}
		// Abort is also checked at each sub-assembler completion.
		if r.ctx.Err() != nil {
			return fmt.Errorf("extraction aborted: %w", apperrors.ErrCanceled)
		}
	}
	return nil
}

func (r *runState) pushFrame(kind frameKind) {
	f := &frame{kind: kind}

	parent := r.top()
	if parent != nil {
		f.dataset = parent.dataset
		if parent.kind == frameObject && parent.keySet {
			f.key = parent.pendingKey
			parent.keySet = false
		}

		// Container convention: an object directly under a recognized
		// container key is a dataset, named by its own key.
		if kind == frameObject && parent.kind == frameObject && containerKeys[parent.key] && f.key != "" {
			f.dataset = canonicalName(f.key)
			f.claims = true
			r.register(f.dataset)
		}
	}

	r.stack = append(r.stack, f)
}

func (r *runState) popFrame() error {
	if len(r.stack) == 0 {
		return fmt.Errorf("unbalanced close delimiter in export stream")
	}
	f := r.top()
	r.stack = r.stack[:len(r.stack)-1]

	if f.claims {
		return r.finalizeDataset(f.dataset)
	}
	return nil
}

// claimByName implements the named-field convention: a scalar under a
// name-like key tags the innermost enclosing frame that has not yet claimed a
// dataset. Frames that inherited a name are left alone.
func (r *runState) claimByName(name string) {
	if name == "" {
		return
	}
	name = canonicalName(name)
	for i := len(r.stack) - 1; i >= 0; i-- {
		f := r.stack[i]
		if f.dataset != "" {
			return
		}
		if f.kind == frameObject {
			f.dataset = name
			f.claims = true
			r.register(name)
			// Descendant frames inherit lazily; frames already open below
			// this one are unnamed by definition of the scan above.
			return
		}
	}
}

// canonicalName folds singular dataset spellings ("case", "status") into the
// plural form the rest of the pipeline keys on. Already-plural names pass
// through unchanged.
func canonicalName(name string) string {
	return inflection.Plural(name)
}

func (r *runState) register(name string) {
	if _, ok := r.datasets[name]; ok {
		return
	}
	preserve := r.preserve[name] && !attachmentPattern.MatchString(name)
	r.datasets[name] = &datasetState{
		summary: &models.DatasetSummary{
			Name:       name,
			SampleRows: []json.RawMessage{},
		},
		preserve: preserve,
	}
	r.order = append(r.order, name)
}

func (r *runState) deliver(c *capture, v any) error {
	ds, ok := r.datasets[c.dataset]
	if !ok {
		return nil
	}

	switch c.kind {
	case captureSchema:
		if ds.summary.Schema == nil {
			raw, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("failed to encode schema for dataset %q: %w", c.dataset, err)
			}
			ds.summary.Schema = raw
		}

	case captureRow:
		ds.summary.RowCount++
		rowIndex := ds.summary.RowCount - 1

		if len(ds.summary.SampleRows) < r.opts.SampleRowLimit {
			raw, err := json.Marshal(sanitizePreview(v))
			if err != nil {
				return fmt.Errorf("failed to encode sample row for dataset %q: %w", c.dataset, err)
			}
			ds.summary.SampleRows = append(ds.summary.SampleRows, raw)
		}
		ds.summary.Truncated = ds.summary.RowCount > len(ds.summary.SampleRows)

		if ds.preserve && r.opts.Sink != nil {
			raw, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("failed to encode row for dataset %q: %w", c.dataset, err)
			}
			ds.batch = append(ds.batch, models.StageRow{Index: rowIndex, Data: raw})
			if len(ds.batch) >= r.opts.StageBatchSize {
				if err := r.flush(ds); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func (r *runState) flush(ds *datasetState) error {
	if len(ds.batch) == 0 {
		return nil
	}
	if err := r.opts.Sink.StageBatch(r.ctx, ds.summary.Name, ds.batch); err != nil {
		return fmt.Errorf("staging write for dataset %q failed: %w", ds.summary.Name, err)
	}
	r.staged += len(ds.batch)
	ds.batch = nil
	return nil
}

func (r *runState) flushAll() error {
	for _, name := range r.order {
		ds := r.datasets[name]
		if ds.preserve && r.opts.Sink != nil {
			if err := r.flush(ds); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *runState) finalizeDataset(name string) error {
	ds, ok := r.datasets[name]
	if !ok {
		return nil
	}
	ds.complete = true
	if ds.preserve && r.opts.Sink != nil {
		return r.flush(ds)
	}
	return nil
}

func (r *runState) fullResult() *Result {
	return r.buildResult(false)
}

// partialResult keeps only fully closed datasets; a dataset still open when
// the abort fired is not trusted.
func (r *runState) partialResult() *Result {
	return r.buildResult(true)
}

func (r *runState) buildResult(completeOnly bool) *Result {
	res := &Result{}
	for _, name := range r.order {
		ds := r.datasets[name]
		if completeOnly && !ds.complete {
			continue
		}
		res.Datasets = append(res.Datasets, ds.summary)
		res.Meta.TotalRows += ds.summary.RowCount
		res.Meta.Datasets++
		if ds.summary.Truncated {
			res.Meta.Truncated = true
		}
	}
	res.Meta.StagedRows = r.staged
	return res
}
