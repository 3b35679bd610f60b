package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer emits one JSONL record per call. Implementations are safe for
// concurrent use.
type Writer interface {
	WriteJob(ctx context.Context, j *JobRecord) error
	WriteProgress(ctx context.Context, prog *ProgressRecord) error
	WriteAlert(ctx context.Context, a *AlertRecord) error
	WriteError(ctx context.Context, err *ErrorRecord) error
	WriteSummary(ctx context.Context, sum *SummaryRecord) error
	Close() error
}

// JSONLWriter stamps every record with the job it belongs to and a
// per-writer sequence number, then writes it as a single line.
type JSONLWriter struct {
	mu     sync.Mutex
	w      io.Writer
	jobID  string
	kind   string
	now    func() time.Time
	seq    uint64
	closed bool
}

// NewJSONLWriter creates a writer whose records carry jobID and kind.
func NewJSONLWriter(w io.Writer, jobID, kind string) *JSONLWriter {
	return &JSONLWriter{w: w, jobID: jobID, kind: kind, now: time.Now}
}

func (jw *JSONLWriter) WriteJob(ctx context.Context, j *JobRecord) error {
	return jw.emit(ctx, TypeJob, j)
}

func (jw *JSONLWriter) WriteProgress(ctx context.Context, prog *ProgressRecord) error {
	return jw.emit(ctx, TypeProgress, prog)
}

func (jw *JSONLWriter) WriteAlert(ctx context.Context, a *AlertRecord) error {
	return jw.emit(ctx, TypeAlert, a)
}

func (jw *JSONLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return jw.emit(ctx, TypeError, err)
}

func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return jw.emit(ctx, TypeSummary, sum)
}

// Written returns how many records reached the underlying writer.
func (jw *JSONLWriter) Written() uint64 {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	return jw.seq
}

// Close stops further writes. The underlying io.Writer is left open.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	jw.closed = true
	jw.mu.Unlock()
	return nil
}

func (jw *JSONLWriter) emit(ctx context.Context, recordType string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()
	switch {
	case jw.closed:
		return ErrWriterClosed
	case ctx.Err() != nil:
		return ctx.Err()
	}

	line, err := json.Marshal(Record{
		Type:  recordType,
		TS:    jw.now().UTC(),
		Seq:   jw.seq + 1,
		JobID: jw.jobID,
		Kind:  jw.kind,
		Data:  data,
	})
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}
	if err := writeLine(jw.w, append(line, '\n')); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	jw.seq++
	return nil
}

// writeLine loops over short writes; a partial line would break parsers.
func writeLine(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

var _ Writer = (*JSONLWriter)(nil)
