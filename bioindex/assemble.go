package bioindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	// defaultByteBudget caps the bytes drained into one record page.
	defaultByteBudget = 1 << 20

	// defaultMatchLimit caps the keys collected into one match page.
	defaultMatchLimit = 5000
)

// -----------------------------------------------------------------------------
// Output shapes
// -----------------------------------------------------------------------------

// Format selects the output shape of a record page.
type Format int

const (
	// FormatRow returns records as a sequence of field-to-value mappings.
	FormatRow Format = iota

	// FormatColumn returns a single mapping from field name to the sequence
	// of that field's values across the batch.
	FormatColumn
)

// ParseFormat interprets a caller-supplied output-shape selector. Accepted
// values are "r"/"row" and "c"/"col"/"column"; anything else is
// ErrInvalidFormat. The empty string defaults to row-major.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "r", "row":
		return FormatRow, nil
	case "c", "col", "column":
		return FormatColumn, nil
	default:
		return FormatRow, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
}

func (f Format) String() string {
	if f == FormatColumn {
		return "column"
	}
	return "row"
}

// -----------------------------------------------------------------------------
// Page
// -----------------------------------------------------------------------------

// Progress reports how far a resumable stream has advanced.
type Progress struct {
	BytesRead  int64 `json:"bytes_read"`
	BytesTotal int64 `json:"bytes_total"`
}

// Profile carries wall-clock measurements for a page, in seconds.
type Profile struct {
	Query float64 `json:"query,omitempty"`
	Fetch float64 `json:"fetch"`
}

// Page is one assembled batch of a query's results. An empty Continuation
// means the result set is fully delivered.
type Page struct {
	Index        string    `json:"index"`
	Query        []string  `json:"q,omitempty"`
	Count        int       `json:"count"`
	Restricted   int64     `json:"restricted"`
	Progress     *Progress `json:"progress,omitempty"`
	Page         int       `json:"page"`
	Limit        int       `json:"limit,omitempty"`
	Data         any       `json:"data"`
	Continuation string    `json:"continuation,omitempty"`
	Nonce        string    `json:"nonce"`
	Profile      Profile   `json:"profile"`
}

// -----------------------------------------------------------------------------
// Assembler
// -----------------------------------------------------------------------------

// Assembler drains readers into pages under a byte budget and mints
// continuations for the remainder.
type Assembler struct {
	store      *ContinuationStore
	byteBudget int64
	matchLimit int
	log        *zap.Logger
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithByteBudget sets the per-page response byte budget. The default is 1MiB.
func WithByteBudget(n int64) AssemblerOption {
	return func(a *Assembler) {
		if n > 0 {
			a.byteBudget = n
		}
	}
}

// WithMatchLimit sets the per-page key cap for match listings.
// The default is 5000.
func WithMatchLimit(n int) AssemblerOption {
	return func(a *Assembler) {
		if n > 0 {
			a.matchLimit = n
		}
	}
}

// WithAssemblerLogger sets the assembler's logger. The default is a no-op.
func WithAssemblerLogger(log *zap.Logger) AssemblerOption {
	return func(a *Assembler) {
		if log != nil {
			a.log = log
		}
	}
}

// NewAssembler creates an Assembler that mints continuations into store.
func NewAssembler(store *ContinuationStore, opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		store:      store,
		byteBudget: defaultByteBudget,
		matchLimit: defaultMatchLimit,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Resume redeems a token and produces the next page of whatever operation
// the continuation suspended, dispatching on its kind.
func (a *Assembler) Resume(ctx context.Context, token string) (*Page, error) {
	cont, err := a.store.Redeem(token)
	if err != nil {
		return nil, err
	}

	switch cont.Kind {
	case KindKeys:
		return a.DrainKeys(ctx, cont)
	default:
		return a.DrainRecords(ctx, cont)
	}
}

// DrainRecords drains the continuation's reader until it ends or the byte
// budget is exhausted. The budget check runs after each yielded record, so
// the record that crosses the threshold is still included. When the reader
// is not at its end a fresh continuation for the next page is minted.
//
// A drain error marks the reader failed and mints nothing; the partial
// stream is not resumable.
func (a *Assembler) DrainRecords(ctx context.Context, cont *Continuation) (*Page, error) {
	reader := cont.Reader
	start := time.Now()

	budget := reader.BytesRead() + a.byteBudget
	restrictedBefore := reader.RestrictedCount()

	batch := make([]Record, 0)
	for {
		rec, err := reader.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrIteratorDone) {
				break
			}
			reader.Close()
			return nil, err
		}
		batch = append(batch, rec)
		if reader.BytesRead() > budget {
			break
		}
	}

	var data any = batch
	if cont.Format == FormatColumn {
		data = columnMajor(batch)
	}

	var token string
	if reader.AtEnd() {
		reader.Close()
	} else {
		var err error
		token, err = a.store.Mint(&Continuation{
			Kind:    KindRecords,
			Reader:  reader,
			Index:   cont.Index,
			Query:   cont.Query,
			Queries: cont.Queries,
			Format:  cont.Format,
			Limit:   cont.Limit,
			Page:    cont.Page + 1,
		})
		if err != nil {
			return nil, err
		}
	}

	a.log.Debug("drained records",
		zap.String("index", cont.Index),
		zap.Int("page", cont.Page),
		zap.Int("count", len(batch)),
		zap.Int64("bytes_read", reader.BytesRead()),
		zap.Bool("at_end", reader.AtEnd()))

	return &Page{
		Index:      cont.Index,
		Query:      queryTerms(cont),
		Count:      len(batch),
		Restricted: reader.RestrictedCount() - restrictedBefore,
		Progress: &Progress{
			BytesRead:  reader.BytesRead(),
			BytesTotal: reader.BytesTotal(),
		},
		Page:         cont.Page,
		Limit:        reader.Limit(),
		Data:         data,
		Continuation: token,
		Nonce:        Nonce(),
		Profile: Profile{
			Query: cont.QuerySeconds,
			Fetch: time.Since(start).Seconds(),
		},
	}, nil
}

// DrainKeys collects up to the match limit of keys from the continuation's
// key iterator. A full page mints a continuation for the next one; the final
// page may come back empty when the stream ends exactly on the boundary.
func (a *Assembler) DrainKeys(ctx context.Context, cont *Continuation) (*Page, error) {
	start := time.Now()

	keys := make([]string, 0)
	exhausted := false
	for len(keys) < a.matchLimit {
		key, err := cont.Keys.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrIteratorDone) {
				exhausted = true
				break
			}
			return nil, err
		}
		keys = append(keys, key)
	}

	var token string
	if !exhausted {
		var err error
		token, err = a.store.Mint(&Continuation{
			Kind:  KindKeys,
			Keys:  cont.Keys,
			Index: cont.Index,
			Query: cont.Query,
			Limit: cont.Limit,
			Page:  cont.Page + 1,
		})
		if err != nil {
			return nil, err
		}
	}

	return &Page{
		Index:        cont.Index,
		Query:        cont.Query.Terms(),
		Count:        len(keys),
		Page:         cont.Page,
		Limit:        cont.Limit,
		Data:         keys,
		Continuation: token,
		Nonce:        Nonce(),
		Profile: Profile{
			Query: cont.QuerySeconds,
			Fetch: time.Since(start).Seconds(),
		},
	}, nil
}

// columnMajor transforms a row-major batch into a mapping from field name to
// the sequence of that field's values, derived from the first record's
// field set.
func columnMajor(batch []Record) map[string][]any {
	cols := make(map[string][]any)
	if len(batch) == 0 {
		return cols
	}
	for field := range batch[0] {
		values := make([]any, len(batch))
		for i, rec := range batch {
			values[i] = rec[field]
		}
		cols[field] = values
	}
	return cols
}

// queryTerms renders a continuation's originating query terms for echoing in
// the page, flattening multi-query fan-outs.
func queryTerms(cont *Continuation) []string {
	if len(cont.Queries) > 0 {
		var terms []string
		for _, q := range cont.Queries {
			terms = append(terms, q.String())
		}
		return terms
	}
	if cont.Query.Empty() {
		return nil
	}
	return cont.Query.Terms()
}
